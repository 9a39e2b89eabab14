package replay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/dialog/internal/platform/keylock"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
)

const (
	defaultSyncInterval = 30 * time.Second
	defaultRetryDelay   = time.Second
)

// Handler consumes events delivered in log order.
type Handler interface {
	HandleEvent(ctx context.Context, evt event.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt event.Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// ConversationLister enumerates conversations with at least one event.
type ConversationLister interface {
	ListConversationIDs(ctx context.Context) ([]string, error)
}

// FollowerOption configures a Follower.
type FollowerOption func(*Follower)

// WithLogger sets the follower logger.
func WithLogger(logger *slog.Logger) FollowerOption {
	return func(f *Follower) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithPageSize sets how many events are read per page.
func WithPageSize(size int) FollowerOption {
	return func(f *Follower) { f.pageSize = size }
}

// WithSyncInterval sets how often Run sweeps every known conversation.
func WithSyncInterval(interval time.Duration) FollowerOption {
	return func(f *Follower) {
		if interval > 0 {
			f.syncInterval = interval
		}
	}
}

// WithRetryDelay sets how long Run waits after a failed catch-up.
func WithRetryDelay(delay time.Duration) FollowerOption {
	return func(f *Follower) {
		if delay > 0 {
			f.retryDelay = delay
		}
	}
}

// Follower delivers each conversation's events to a handler exactly in
// append order, resuming from its own checkpoints.
type Follower struct {
	name         string
	events       EventStore
	checkpoints  CheckpointStore
	handler      Handler
	logger       *slog.Logger
	pageSize     int
	syncInterval time.Duration
	retryDelay   time.Duration
	locks        *keylock.Locker

	mu      sync.Mutex
	pending map[string]struct{}
	wake    chan struct{}
}

// NewFollower creates a follower named for logs.
func NewFollower(name string, events EventStore, checkpoints CheckpointStore, handler Handler, opts ...FollowerOption) *Follower {
	f := &Follower{
		name:         name,
		events:       events,
		checkpoints:  checkpoints,
		handler:      handler,
		logger:       slog.Default(),
		syncInterval: defaultSyncInterval,
		retryDelay:   defaultRetryDelay,
		locks:        keylock.New(),
		pending:      make(map[string]struct{}),
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Name identifies the follower.
func (f *Follower) Name() string {
	return f.name
}

// Notify schedules a catch-up for conversationID on the Run loop.
func (f *Follower) Notify(conversationID string) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return
	}
	f.mu.Lock()
	f.pending[conversationID] = struct{}{}
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// CatchUp delivers every event after the follower's checkpoint. Calls for the
// same conversation are serialized.
func (f *Follower) CatchUp(ctx context.Context, conversationID string) (int, error) {
	if f.handler == nil {
		return 0, ErrApplierRequired
	}
	unlock, err := f.locks.Lock(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return f.catchUpLocked(ctx, conversationID)
}

// Reset runs reset while holding the conversation's delivery lock, then
// catches up. reset typically clears the handler's output and the
// follower's checkpoint so delivery restarts from the first event.
func (f *Follower) Reset(ctx context.Context, conversationID string, reset func(ctx context.Context) error) (int, error) {
	if f.handler == nil {
		return 0, ErrApplierRequired
	}
	unlock, err := f.locks.Lock(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	defer unlock()
	if reset != nil {
		if err := reset(ctx); err != nil {
			return 0, err
		}
	}
	return f.catchUpLocked(ctx, conversationID)
}

func (f *Follower) catchUpLocked(ctx context.Context, conversationID string) (int, error) {
	deliver := ApplierFunc(func(state any, evt event.Event) (any, error) {
		return state, f.handler.HandleEvent(ctx, evt)
	})
	result, err := Replay(ctx, f.events, f.checkpoints, deliver, conversationID, nil, Options{PageSize: f.pageSize})
	if result.Applied > 0 {
		f.logger.Debug("follower caught up",
			slog.String("follower", f.name),
			slog.String("conversation_id", conversationID),
			slog.Uint64("last_seq", result.LastSeq),
			slog.Int("applied", result.Applied),
		)
	}
	return result.Applied, err
}

// CatchUpAll catches up every conversation the event store knows about.
func (f *Follower) CatchUpAll(ctx context.Context) error {
	lister, ok := f.events.(ConversationLister)
	if !ok {
		return nil
	}
	ids, err := lister.ListConversationIDs(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if _, err := f.CatchUp(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run processes notifications and periodic sweeps until ctx ends.
func (f *Follower) Run(ctx context.Context) error {
	f.sweep(ctx)

	ticker := time.NewTicker(f.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.sweep(ctx)
		case <-f.wake:
			if failed := f.drain(ctx); failed && !waitRetry(ctx, f.retryDelay) {
				return nil
			}
		}
	}
}

func (f *Follower) sweep(ctx context.Context) {
	if err := f.CatchUpAll(ctx); err != nil && ctx.Err() == nil {
		f.logger.Warn("follower sweep failed", slog.String("follower", f.name), slog.Any("error", err))
	}
}

// drain catches up every pending conversation, requeueing failures.
func (f *Follower) drain(ctx context.Context) bool {
	f.mu.Lock()
	ids := make([]string, 0, len(f.pending))
	for id := range f.pending {
		ids = append(ids, id)
	}
	clear(f.pending)
	f.mu.Unlock()

	failed := false
	for _, id := range ids {
		if _, err := f.CatchUp(ctx, id); err != nil {
			if ctx.Err() != nil {
				return false
			}
			failed = true
			f.logger.Warn("follower catch-up failed",
				slog.String("follower", f.name),
				slog.String("conversation_id", id),
				slog.Any("error", err),
			)
			f.Notify(id)
		}
	}
	return failed
}

func waitRetry(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
