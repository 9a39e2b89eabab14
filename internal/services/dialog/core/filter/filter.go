// Package filter parses AIP-160 filter expressions over conversation
// summaries into storage filters.
package filter

import (
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	apperrors "github.com/louisbranch/dialog/internal/platform/errors"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

const (
	fieldStatus         = "status"
	fieldParticipantID  = "participant_id"
	fieldStartedAt      = "started_at"
	fieldLastActivityAt = "last_activity_at"
)

// ConversationDeclarations returns the field declarations for conversation
// filtering.
func ConversationDeclarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent(fieldStatus, filtering.TypeString),
		filtering.DeclareIdent(fieldParticipantID, filtering.TypeString),
		filtering.DeclareIdent(fieldStartedAt, filtering.TypeTimestamp),
		filtering.DeclareIdent(fieldLastActivityAt, filtering.TypeTimestamp),
	)
}

// ParseConversationFilter parses an AIP-160 filter expression into a
// storage filter. Only conjunctions of comparisons are supported:
// equality on status and participant_id, and =, <, <=, >, >= on the
// timestamps against timestamp("RFC3339") values. Timestamps are compared
// at millisecond precision. An empty filter matches everything.
func ParseConversationFilter(filterStr string) (storage.ConversationFilter, error) {
	if strings.TrimSpace(filterStr) == "" {
		return storage.ConversationFilter{}, nil
	}

	decls, err := ConversationDeclarations()
	if err != nil {
		return storage.ConversationFilter{}, fmt.Errorf("create declarations: %w", err)
	}

	parsed, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return storage.ConversationFilter{}, invalid(fmt.Sprintf("parse filter: %v", err))
	}

	var out storage.ConversationFilter
	if err := translateExpr(parsed.CheckedExpr.GetExpr(), &out); err != nil {
		return storage.ConversationFilter{}, err
	}
	return out, nil
}

func invalid(message string) error {
	return apperrors.New(apperrors.CodeInvalidFilter, message)
}

// translateExpr folds a CEL expression into out.
func translateExpr(e *expr.Expr, out *storage.ConversationFilter) error {
	if e == nil {
		return nil
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return translateCall(kind.CallExpr, out)
	default:
		return invalid(fmt.Sprintf("unsupported expression type: %T", kind))
	}
}

// translateCall folds a CEL function call into out.
func translateCall(call *expr.Expr_Call, out *storage.ConversationFilter) error {
	switch call.Function {
	case "_&&_", "AND":
		return translateAnd(call.Args, out)
	case "_==_", "=":
		return translateComparison(call.Args, "=", out)
	case "_<_", "<":
		return translateComparison(call.Args, "<", out)
	case "_<=_", "<=":
		return translateComparison(call.Args, "<=", out)
	case "_>_", ">":
		return translateComparison(call.Args, ">", out)
	case "_>=_", ">=":
		return translateComparison(call.Args, ">=", out)
	default:
		return invalid(fmt.Sprintf("unsupported function: %s", call.Function))
	}
}

func translateAnd(args []*expr.Expr, out *storage.ConversationFilter) error {
	if len(args) != 2 {
		return invalid("AND requires 2 arguments")
	}
	if err := translateExpr(args[0], out); err != nil {
		return err
	}
	return translateExpr(args[1], out)
}

func translateComparison(args []*expr.Expr, op string, out *storage.ConversationFilter) error {
	if len(args) != 2 {
		return invalid("comparison requires 2 arguments")
	}

	field, err := extractFieldName(args[0])
	if err != nil {
		return err
	}

	switch field {
	case fieldStatus:
		value, err := extractString(field, op, args[1])
		if err != nil {
			return err
		}
		status := conversation.Status(strings.ToLower(value))
		switch status {
		case conversation.StatusActive, conversation.StatusPaused, conversation.StatusEnded:
		default:
			return invalid(fmt.Sprintf("unknown status: %s", value))
		}
		if out.Status != "" && out.Status != status {
			return invalid("conflicting status comparisons")
		}
		out.Status = status
		return nil
	case fieldParticipantID:
		value, err := extractString(field, op, args[1])
		if err != nil {
			return err
		}
		if out.ParticipantID != "" && out.ParticipantID != value {
			return invalid("conflicting participant_id comparisons")
		}
		out.ParticipantID = value
		return nil
	case fieldStartedAt:
		return narrowRange(&out.StartedAt, op, args[1])
	case fieldLastActivityAt:
		return narrowRange(&out.LastActivityAt, op, args[1])
	default:
		return invalid(fmt.Sprintf("unknown field: %s", field))
	}
}

func extractString(field, op string, e *expr.Expr) (string, error) {
	if op != "=" {
		return "", invalid(fmt.Sprintf("%s supports only equality", field))
	}
	constant, ok := e.GetExprKind().(*expr.Expr_ConstExpr)
	if !ok {
		return "", invalid(fmt.Sprintf("%s must be compared to a string", field))
	}
	value, ok := constant.ConstExpr.GetConstantKind().(*expr.Constant_StringValue)
	if !ok {
		return "", invalid(fmt.Sprintf("%s must be compared to a string", field))
	}
	return strings.TrimSpace(value.StringValue), nil
}

// narrowRange intersects r with the half-open range the comparison selects.
func narrowRange(r *storage.TimeRange, op string, e *expr.Expr) error {
	ts, err := extractTimestampValue(e)
	if err != nil {
		return err
	}
	var from, to time.Time
	switch op {
	case "=":
		from, to = ts, ts.Add(time.Millisecond)
	case ">=":
		from = ts
	case ">":
		from = ts.Add(time.Millisecond)
	case "<":
		to = ts
	case "<=":
		to = ts.Add(time.Millisecond)
	}
	if !from.IsZero() && (r.From.IsZero() || from.After(r.From)) {
		r.From = from
	}
	if !to.IsZero() && (r.To.IsZero() || to.Before(r.To)) {
		r.To = to
	}
	return nil
}

func extractFieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", invalid("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.Name, nil
	default:
		return "", invalid(fmt.Sprintf("expected identifier, got %T", kind))
	}
}

func extractTimestampValue(e *expr.Expr) (time.Time, error) {
	call, ok := e.GetExprKind().(*expr.Expr_CallExpr)
	if !ok || call.CallExpr.Function != "timestamp" || len(call.CallExpr.Args) != 1 {
		return time.Time{}, invalid(`timestamps must be compared to timestamp("RFC3339")`)
	}
	constant, ok := call.CallExpr.Args[0].GetExprKind().(*expr.Expr_ConstExpr)
	if !ok {
		return time.Time{}, invalid("timestamp argument must be a constant string")
	}
	strVal, ok := constant.ConstExpr.GetConstantKind().(*expr.Constant_StringValue)
	if !ok {
		return time.Time{}, invalid("timestamp argument must be a string")
	}
	t, err := time.Parse(time.RFC3339Nano, strVal.StringValue)
	if err != nil {
		return time.Time{}, invalid(fmt.Sprintf("invalid timestamp format: %s", strVal.StringValue))
	}
	return t.UTC().Truncate(time.Millisecond), nil
}
