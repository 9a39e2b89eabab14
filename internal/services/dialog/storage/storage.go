package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	apperrors "github.com/louisbranch/dialog/internal/platform/errors"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/message"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/participant"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/replay"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrConcurrencyConflict indicates an append whose expected sequence no longer
// matches the log head.
var ErrConcurrencyConflict = apperrors.New(apperrors.CodeConcurrencyConflict, "conversation was modified concurrently")

// ErrStorageUnavailable indicates the backend could not complete a request.
var ErrStorageUnavailable = apperrors.New(apperrors.CodeStorageUnavailable, "storage unavailable")

// Unavailable wraps a backend failure so callers can retry it.
func Unavailable(op string, cause error) error {
	return apperrors.Wrap(apperrors.CodeStorageUnavailable, fmt.Sprintf("%s: %v", op, cause), cause)
}

// EventStore owns the per-conversation append-only log.
type EventStore interface {
	// AppendEvents atomically appends events after expectedLastSeq and returns
	// them with sequence and hash fields set. A head that moved returns
	// ErrConcurrencyConflict and writes nothing.
	AppendEvents(ctx context.Context, conversationID string, expectedLastSeq uint64, events []event.Event) ([]event.Event, error)
	// ListEvents returns events ordered by sequence ascending.
	ListEvents(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]event.Event, error)
	// LastSeq returns the head sequence, 0 for an empty log.
	LastSeq(ctx context.Context, conversationID string) (uint64, error)
	// ListConversationIDs returns every conversation with at least one event.
	ListConversationIDs(ctx context.Context) ([]string, error)
}

// CheckpointStore tracks one follower's progress per conversation.
type CheckpointStore interface {
	replay.CheckpointStore
	Delete(ctx context.Context, conversationID string) error
}

// ParticipantRecord is a participant as listed on a conversation summary.
type ParticipantRecord struct {
	ID             string
	Kind           participant.Kind
	DisplayName    string
	Specialization string
	JoinedAt       time.Time
}

// ConversationRecord is the summary projection of one conversation.
type ConversationRecord struct {
	ID             string
	Status         conversation.Status
	Participants   []ParticipantRecord
	Context        map[string]string
	MessageCount   int
	StartedAt      time.Time
	LastActivityAt time.Time
	EndedAt        *time.Time
	EndReason      string
	PauseReason    string
	LastSeq        uint64
}

// HasParticipant reports whether id is listed on the record.
func (r ConversationRecord) HasParticipant(id string) bool {
	return slices.ContainsFunc(r.Participants, func(p ParticipantRecord) bool { return p.ID == id })
}

// Clone returns a copy that shares no mutable memory with r.
func (r ConversationRecord) Clone() ConversationRecord {
	r.Participants = slices.Clone(r.Participants)
	r.Context = maps.Clone(r.Context)
	if r.EndedAt != nil {
		endedAt := *r.EndedAt
		r.EndedAt = &endedAt
	}
	return r
}

// MessageRecord is one entry of a conversation's history projection.
type MessageRecord struct {
	ConversationID string
	Seq            uint64
	SenderKind     participant.Kind
	SenderName     string
	Message        message.Record
	Timestamp      time.Time
}

// TimeRange bounds a timestamp. From is inclusive, To is exclusive; zero
// values leave that side open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether the range is unbounded.
func (r TimeRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Contains reports whether ts lies within the range.
func (r TimeRange) Contains(ts time.Time) bool {
	if !r.From.IsZero() && ts.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !ts.Before(r.To) {
		return false
	}
	return true
}

// ConversationFilter narrows conversation listings. Zero fields match all.
type ConversationFilter struct {
	Status         conversation.Status
	ParticipantID  string
	StartedAt      TimeRange
	LastActivityAt TimeRange
}

// Matches reports whether rec satisfies the filter.
func (f ConversationFilter) Matches(rec ConversationRecord) bool {
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.ParticipantID != "" && !rec.HasParticipant(f.ParticipantID) {
		return false
	}
	return f.StartedAt.Contains(rec.StartedAt) && f.LastActivityAt.Contains(rec.LastActivityAt)
}

// ConversationKey is the listing sort key.
type ConversationKey struct {
	StartedAt time.Time
	ID        string
}

// Less orders keys by start time, then id.
func (k ConversationKey) Less(other ConversationKey) bool {
	if !k.StartedAt.Equal(other.StartedAt) {
		return k.StartedAt.Before(other.StartedAt)
	}
	return k.ID < other.ID
}

// KeyOf returns the listing key for rec.
func KeyOf(rec ConversationRecord) ConversationKey {
	return ConversationKey{StartedAt: rec.StartedAt, ID: rec.ID}
}

// ConversationQuery selects one page of conversations ordered by key.
type ConversationQuery struct {
	Filter ConversationFilter
	// After excludes keys at or before it when set.
	After *ConversationKey
	Limit int
}

// Statistics holds aggregate counters over conversation summaries.
type Statistics struct {
	Total                int
	ByStatus             map[conversation.Status]int
	TotalMessages        int
	DistinctParticipants int
}

// ConversationStore owns conversation summaries.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (ConversationRecord, error)
	ListConversations(ctx context.Context, query ConversationQuery) ([]ConversationRecord, error)
	GetStatistics(ctx context.Context) (Statistics, error)
}

// MessageStore owns message history.
type MessageStore interface {
	// ListMessages returns history entries ordered by sequence ascending.
	ListMessages(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]MessageRecord, error)
}

// ProjectionStore is the read model written by the projection builder.
type ProjectionStore interface {
	ConversationStore
	MessageStore
	// SaveProjection atomically writes rec and any new history entries.
	// Entries are keyed by (conversation id, seq) so rewrites are idempotent.
	SaveProjection(ctx context.Context, rec ConversationRecord, messages ...MessageRecord) error
	// DeleteProjection removes a conversation summary and its history.
	DeleteProjection(ctx context.Context, id string) error
}

// PrepareAppend checks the optimistic concurrency guard and seals events as
// the contiguous run after headSeq. Engines call it inside their write
// transaction with the head they observed.
func PrepareAppend(conversationID string, expectedLastSeq, headSeq uint64, prevChainHash string, events []event.Event) ([]event.Event, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, apperrors.New(apperrors.CodeValidationFailed, "conversation id is required")
	}
	if headSeq != expectedLastSeq {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeConcurrencyConflict,
			fmt.Sprintf("conversation %s head is %d, expected %d", conversationID, headSeq, expectedLastSeq),
			map[string]string{"conversation_id": conversationID},
			ErrConcurrencyConflict,
		)
	}
	prepared := make([]event.Event, len(events))
	for i, evt := range events {
		if evt.ConversationID != conversationID {
			return nil, apperrors.New(apperrors.CodeValidationFailed,
				fmt.Sprintf("event %d belongs to conversation %q, not %q", i, evt.ConversationID, conversationID))
		}
		evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)
		prepared[i] = evt
	}
	return event.SealBatch(prepared, headSeq, prevChainHash)
}
