package publish

import (
	"context"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/replay"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

// Relay follower names. Each sink is driven by its own relay so a failing
// sink never replays events into one that already accepted them.
const (
	BusRelayName   = "publish.bus"
	RedisRelayName = "publish.redis"
)

// Relay follows the event log and publishes each event once, in order, to a
// single sink. A failed publish is retried from the same event; the
// checkpoint only advances after the publisher accepts it.
type Relay struct {
	follower *replay.Follower
}

// NewRelay wires publisher to a follower named name over events. checkpoints
// must not be shared with another relay.
func NewRelay(name string, events storage.EventStore, checkpoints storage.CheckpointStore, publisher Publisher, opts ...replay.FollowerOption) *Relay {
	handler := replay.HandlerFunc(func(ctx context.Context, evt event.Event) error {
		return publisher.Publish(ctx, evt)
	})
	return &Relay{follower: replay.NewFollower(name, events, checkpoints, handler, opts...)}
}

// Follower returns the follower that drives the relay.
func (r *Relay) Follower() *replay.Follower {
	return r.follower
}

// CatchUp publishes every event of conversationID not yet relayed.
func (r *Relay) CatchUp(ctx context.Context, conversationID string) (int, error) {
	return r.follower.CatchUp(ctx, conversationID)
}

// Notify schedules conversationID for the Run loop.
func (r *Relay) Notify(conversationID string) {
	r.follower.Notify(conversationID)
}

// Run relays until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	return r.follower.Run(ctx)
}
