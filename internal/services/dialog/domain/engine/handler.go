package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/dialog/internal/platform/errors"
	"github.com/louisbranch/dialog/internal/platform/keylock"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/command"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/replay"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

const tracerName = "github.com/louisbranch/dialog/internal/services/dialog/domain/engine"

var (
	// ErrCommandRegistryRequired indicates a missing command registry.
	ErrCommandRegistryRequired = errors.New("command registry is required")
	// ErrEventRegistryRequired indicates a missing event registry.
	ErrEventRegistryRequired = errors.New("event registry is required")
	// ErrEventStoreRequired indicates a missing event store.
	ErrEventStoreRequired = errors.New("event store is required")
	// ErrDeciderRequired indicates a missing decider.
	ErrDeciderRequired = errors.New("decider is required")
	// ErrApplierRequired indicates a missing applier.
	ErrApplierRequired = errors.New("applier is required")
)

// Decider returns a decision for a command.
type Decider interface {
	Decide(state any, cmd command.Command, now func() time.Time) command.Decision
}

// Notifier is told when a conversation's log has grown.
type Notifier interface {
	Notify(conversationID string)
}

// Handler validates, serializes, decides, and persists commands.
//
// A Handler must not be copied after first use.
type Handler struct {
	Commands  *command.Registry
	Events    *event.Registry
	Store     storage.EventStore
	Snapshots StateSnapshotStore
	Decider   Decider
	Applier   replay.Applier
	Notifiers []Notifier
	Retry     RetryPolicy
	// RejectionCode maps a decider rejection code to the surfaced error code.
	RejectionCode  func(string) apperrors.Code
	ReplayPageSize int
	Now            func() time.Time
	Logger         *slog.Logger

	locks keylock.Locker
}

// Result captures execution outcomes. Decision.Events hold the stored
// events with sequence and hash fields set.
type Result struct {
	Decision command.Decision
	State    any
	LastSeq  uint64
}

// attemptResult is what one decide-and-append cycle produced.
type attemptResult struct {
	decision command.Decision
	state    any
	lastSeq  uint64
}

// Execute validates a command, decides it against current state, and appends
// the resulting events. Commands on the same conversation run one at a time;
// commands on different conversations never wait on each other.
func (h *Handler) Execute(ctx context.Context, cmd command.Command) (Result, error) {
	if err := h.validateDependencies(); err != nil {
		return Result{}, err
	}
	validated, err := h.Commands.ValidateForDecision(cmd)
	if err != nil {
		return Result{}, apperrors.WrapWithMetadata(apperrors.CodeValidationFailed, err.Error(), map[string]string{
			"conversation_id": cmd.ConversationID,
			"rule":            "COMMAND_INVALID",
		}, err)
	}
	cmd = validated

	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.Execute", trace.WithAttributes(
		attribute.String("conversation.id", cmd.ConversationID),
		attribute.String("command.type", string(cmd.Type)),
	))
	defer span.End()

	result, err := h.execute(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.GetCode(err)))
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Int("events.appended", len(result.Decision.Events)),
		attribute.Int64("conversation.last_seq", int64(result.LastSeq)),
	)
	return result, nil
}

func (h *Handler) execute(ctx context.Context, cmd command.Command) (Result, error) {
	unlock, err := h.locks.Lock(ctx, cmd.ConversationID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	policy := h.Retry.normalized()
	attempts := 0
	outcome, err := backoff.Retry(ctx, func() (attemptResult, error) {
		attempts++
		out, err := h.attempt(ctx, cmd)
		if err != nil && !apperrors.GetCode(err).Retryable() {
			return out, backoff.Permanent(err)
		}
		return out, err
	},
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			h.logger().DebugContext(ctx, "retrying command",
				"conversation_id", cmd.ConversationID,
				"command_type", cmd.Type,
				"attempt", attempts,
				"next", next,
				"error", err,
			)
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		if code := apperrors.GetCode(err); code.Retryable() {
			return Result{}, apperrors.WrapWithMetadata(code,
				fmt.Sprintf("%s %s failed after %d attempts", cmd.Type, cmd.ConversationID, attempts),
				map[string]string{"conversation_id": cmd.ConversationID, "rule": string(code)},
				err,
			)
		}
		return Result{}, err
	}

	if len(outcome.decision.Events) == 0 {
		return Result{Decision: outcome.decision, State: outcome.state, LastSeq: outcome.lastSeq}, nil
	}

	state := outcome.state
	for _, evt := range outcome.decision.Events {
		state, err = h.Applier.Apply(state, evt)
		if err != nil {
			// The events are durable; the next load replays them from the log.
			return Result{}, fmt.Errorf("fold %s seq %d: %w", evt.Type, evt.Seq, err)
		}
	}
	lastSeq := outcome.decision.Events[len(outcome.decision.Events)-1].Seq
	if h.Snapshots != nil {
		if err := h.Snapshots.SaveState(ctx, cmd.ConversationID, lastSeq, state); err != nil {
			h.logger().WarnContext(ctx, "save snapshot", "conversation_id", cmd.ConversationID, "error", err)
		}
	}
	for _, n := range h.Notifiers {
		n.Notify(cmd.ConversationID)
	}
	return Result{Decision: outcome.decision, State: state, LastSeq: lastSeq}, nil
}

// attempt runs one load, decide, and append cycle.
func (h *Handler) attempt(ctx context.Context, cmd command.Command) (attemptResult, error) {
	state, lastSeq, err := h.loadState(ctx, cmd.ConversationID)
	if err != nil {
		if errors.Is(err, replay.ErrSequenceGap) {
			return attemptResult{}, storage.Unavailable("load "+cmd.ConversationID, err)
		}
		return attemptResult{}, err
	}

	now := h.Now
	if now == nil {
		now = time.Now
	}
	decision := h.Decider.Decide(state, cmd, now)
	if decision.Rejected() {
		return attemptResult{}, h.rejectionError(cmd, decision.Rejections[0])
	}
	if len(decision.Events) == 0 {
		return attemptResult{decision: decision, state: state, lastSeq: lastSeq}, nil
	}

	vetted := make([]event.Event, 0, len(decision.Events))
	for _, evt := range decision.Events {
		checked, err := h.Events.ValidateForAppend(evt)
		if err != nil {
			return attemptResult{}, fmt.Errorf("validate %s: %w", evt.Type, err)
		}
		vetted = append(vetted, checked)
	}
	stored, err := h.Store.AppendEvents(ctx, cmd.ConversationID, lastSeq, vetted)
	if err != nil {
		return attemptResult{}, err
	}
	decision.Events = stored
	return attemptResult{decision: decision, state: state, lastSeq: lastSeq}, nil
}

func (h *Handler) rejectionError(cmd command.Command, rejection command.Rejection) error {
	code := apperrors.CodeValidationFailed
	if h.RejectionCode != nil {
		code = h.RejectionCode(rejection.Code)
	}
	return apperrors.WithMetadata(code, rejection.Message, map[string]string{
		"conversation_id": cmd.ConversationID,
		"rule":            rejection.Code,
	})
}

func (h *Handler) validateDependencies() error {
	switch {
	case h.Commands == nil:
		return ErrCommandRegistryRequired
	case h.Events == nil:
		return ErrEventRegistryRequired
	case h.Store == nil:
		return ErrEventStoreRequired
	case h.Decider == nil:
		return ErrDeciderRequired
	case h.Applier == nil:
		return ErrApplierRequired
	}
	return nil
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
