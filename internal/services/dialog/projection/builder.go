package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/replay"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

// FollowerName names the projection follower and its checkpoints.
const FollowerName = "projection"

// Builder keeps the projection store in step with the event log.
type Builder struct {
	events      storage.EventStore
	store       storage.ProjectionStore
	checkpoints storage.CheckpointStore
	follower    *replay.Follower
}

// NewBuilder wires an Applier to a follower over events.
func NewBuilder(events storage.EventStore, store storage.ProjectionStore, checkpoints storage.CheckpointStore, opts ...replay.FollowerOption) *Builder {
	return &Builder{
		events:      events,
		store:       store,
		checkpoints: checkpoints,
		follower:    replay.NewFollower(FollowerName, events, checkpoints, Applier{Store: store}, opts...),
	}
}

// Follower returns the follower that drives the projection.
func (b *Builder) Follower() *replay.Follower {
	return b.follower
}

// CatchUp projects every event of conversationID not yet applied.
func (b *Builder) CatchUp(ctx context.Context, conversationID string) (int, error) {
	return b.follower.CatchUp(ctx, conversationID)
}

// Rebuild drops a conversation's projection and checkpoint and replays its
// log from the first event.
func (b *Builder) Rebuild(ctx context.Context, conversationID string) (int, error) {
	return b.follower.Reset(ctx, conversationID, func(ctx context.Context) error {
		if err := b.store.DeleteProjection(ctx, conversationID); err != nil {
			return fmt.Errorf("delete projection: %w", err)
		}
		if err := b.checkpoints.Delete(ctx, conversationID); err != nil {
			return fmt.Errorf("delete checkpoint: %w", err)
		}
		return nil
	})
}

// Gap reports a conversation whose projection trails its log.
type Gap struct {
	ConversationID string
	ProjectedSeq   uint64
	LogSeq         uint64
}

// DetectGaps compares each conversation's log head with its summary.
func (b *Builder) DetectGaps(ctx context.Context) ([]Gap, error) {
	ids, err := b.events.ListConversationIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var gaps []Gap
	for _, id := range ids {
		logSeq, err := b.events.LastSeq(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("last seq %s: %w", id, err)
		}
		var projectedSeq uint64
		rec, err := b.store.GetConversation(ctx, id)
		switch {
		case err == nil:
			projectedSeq = rec.LastSeq
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("get conversation %s: %w", id, err)
		}
		if projectedSeq < logSeq {
			gaps = append(gaps, Gap{ConversationID: id, ProjectedSeq: projectedSeq, LogSeq: logSeq})
		}
	}
	return gaps, nil
}
