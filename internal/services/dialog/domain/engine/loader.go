package engine

import (
	"context"
	"errors"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/checkpoint"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/replay"
)

// StateSnapshotStore loads and saves folded state keyed by conversation.
type StateSnapshotStore interface {
	GetState(ctx context.Context, conversationID string) (state any, lastSeq uint64, err error)
	SaveState(ctx context.Context, conversationID string, lastSeq uint64, state any) error
}

// loadState rebuilds the current state of a conversation from the newest
// snapshot plus the log tail after it.
func (h *Handler) loadState(ctx context.Context, conversationID string) (any, uint64, error) {
	var (
		state   any
		options = replay.Options{PageSize: h.ReplayPageSize}
	)
	if h.Snapshots != nil {
		snapshotState, snapshotSeq, err := h.Snapshots.GetState(ctx, conversationID)
		if err != nil {
			if !errors.Is(err, replay.ErrCheckpointNotFound) {
				return nil, 0, err
			}
		} else {
			state = snapshotState
			options.AfterSeq = snapshotSeq
		}
	}
	result, err := replay.Replay(ctx, h.Store, checkpoint.NewNoop(), h.Applier, conversationID, state, options)
	if err != nil {
		return nil, 0, err
	}
	return result.State, result.LastSeq, nil
}
