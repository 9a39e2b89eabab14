package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
)

const defaultPageSize = 200

var (
	// ErrEventStoreRequired indicates a missing event store.
	ErrEventStoreRequired = errors.New("event store is required")
	// ErrCheckpointStoreRequired indicates a missing checkpoint store.
	ErrCheckpointStoreRequired = errors.New("checkpoint store is required")
	// ErrApplierRequired indicates a missing applier.
	ErrApplierRequired = errors.New("applier is required")
	// ErrConversationIDRequired indicates a missing conversation id.
	ErrConversationIDRequired = errors.New("conversation id is required")
	// ErrCheckpointNotFound indicates no checkpoint exists yet.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrSequenceGap indicates the log skipped or repeated a sequence number.
	ErrSequenceGap = errors.New("event sequence gap")
)

// EventStore lists events for replay.
type EventStore interface {
	ListEvents(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]event.Event, error)
}

// CheckpointStore manages replay checkpoints.
type CheckpointStore interface {
	Get(ctx context.Context, conversationID string) (Checkpoint, error)
	Save(ctx context.Context, checkpoint Checkpoint) error
}

// Applier applies a domain event to state.
type Applier interface {
	Apply(state any, evt event.Event) (any, error)
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(state any, evt event.Event) (any, error)

// Apply calls f.
func (f ApplierFunc) Apply(state any, evt event.Event) (any, error) {
	return f(state, evt)
}

// Checkpoint captures the last applied sequence for a conversation.
type Checkpoint struct {
	ConversationID string
	LastSeq        uint64
	UpdatedAt      time.Time
}

// Options configures replay behavior.
type Options struct {
	AfterSeq uint64
	UntilSeq uint64
	PageSize int
}

// Result captures replay outcomes.
type Result struct {
	State   any
	LastSeq uint64
	Applied int
}

// Replay replays events in order and updates checkpoints after each apply.
//
// Replay resumes from the later of options.AfterSeq and the stored checkpoint,
// and stops with ErrSequenceGap when the log does not continue contiguously.
func Replay(ctx context.Context, store EventStore, checkpoints CheckpointStore, applier Applier, conversationID string, state any, options Options) (Result, error) {
	if store == nil {
		return Result{}, ErrEventStoreRequired
	}
	if checkpoints == nil {
		return Result{}, ErrCheckpointStoreRequired
	}
	if applier == nil {
		return Result{}, ErrApplierRequired
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Result{}, ErrConversationIDRequired
	}

	checkpointSeq := uint64(0)
	checkpoint, err := checkpoints.Get(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, ErrCheckpointNotFound) {
			return Result{}, err
		}
	} else {
		checkpointSeq = checkpoint.LastSeq
	}

	lastSeq := max(options.AfterSeq, checkpointSeq)
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	result := Result{State: state, LastSeq: lastSeq}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		events, err := store.ListEvents(ctx, conversationID, result.LastSeq, pageSize)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			return result, nil
		}
		for _, evt := range events {
			if options.UntilSeq > 0 && evt.Seq > options.UntilSeq {
				return result, nil
			}
			expectedSeq := result.LastSeq + 1
			if evt.Seq != expectedSeq {
				return result, fmt.Errorf("%w: conversation %s expected %d got %d", ErrSequenceGap, conversationID, expectedSeq, evt.Seq)
			}
			nextState, err := applier.Apply(result.State, evt)
			if err != nil {
				return result, fmt.Errorf("apply %s seq %d: %w", evt.Type, evt.Seq, err)
			}
			result.State = nextState
			result.LastSeq = evt.Seq
			result.Applied++
			if err := checkpoints.Save(ctx, Checkpoint{ConversationID: conversationID, LastSeq: result.LastSeq, UpdatedAt: time.Now().UTC()}); err != nil {
				return result, err
			}
		}
		if len(events) < pageSize {
			return result, nil
		}
	}
}

// Verify walks a conversation's full log and checks its hash chain.
// It returns the number of events verified.
func Verify(ctx context.Context, store EventStore, conversationID string, pageSize int) (int, error) {
	if store == nil {
		return 0, ErrEventStoreRequired
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return 0, ErrConversationIDRequired
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	var (
		afterSeq  uint64
		prevChain string
		verified  int
	)
	for {
		events, err := store.ListEvents(ctx, conversationID, afterSeq, pageSize)
		if err != nil {
			return verified, err
		}
		if len(events) == 0 {
			return verified, nil
		}
		if err := event.VerifyChain(events, afterSeq, prevChain); err != nil {
			return verified, fmt.Errorf("verify conversation %s: %w", conversationID, err)
		}
		last := events[len(events)-1]
		afterSeq = last.Seq
		prevChain = last.ChainHash
		verified += len(events)
		if len(events) < pageSize {
			return verified, nil
		}
	}
}
