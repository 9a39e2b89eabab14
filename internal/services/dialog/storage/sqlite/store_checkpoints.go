package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/replay"
)

// CheckpointStore persists one follower's progress in the read model database
// so the projection and its checkpoint advance together.
type CheckpointStore struct {
	store    *Store
	consumer string
}

// Checkpoints returns the checkpoint store for consumer.
func (s *ProjectionStore) Checkpoints(consumer string) *CheckpointStore {
	return &CheckpointStore{store: s.Store, consumer: strings.TrimSpace(consumer)}
}

// Get returns the checkpoint for conversationID.
func (c *CheckpointStore) Get(ctx context.Context, conversationID string) (replay.Checkpoint, error) {
	row := c.store.sqlDB.QueryRowContext(ctx, `
SELECT last_seq, updated_at FROM follower_checkpoints WHERE consumer = ? AND conversation_id = ?`,
		c.consumer, conversationID)
	cp := replay.Checkpoint{ConversationID: conversationID}
	var updatedAt int64
	if err := row.Scan(&cp.LastSeq, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return replay.Checkpoint{}, replay.ErrCheckpointNotFound
		}
		return replay.Checkpoint{}, mapError("get checkpoint", err)
	}
	cp.UpdatedAt = fromMillis(updatedAt)
	return cp, nil
}

// Save upserts a checkpoint.
func (c *CheckpointStore) Save(ctx context.Context, cp replay.Checkpoint) error {
	if strings.TrimSpace(cp.ConversationID) == "" {
		return replay.ErrConversationIDRequired
	}
	_, err := c.store.sqlDB.ExecContext(ctx, `
INSERT INTO follower_checkpoints (consumer, conversation_id, last_seq, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(consumer, conversation_id) DO UPDATE SET
    last_seq = excluded.last_seq,
    updated_at = excluded.updated_at`,
		c.consumer, cp.ConversationID, cp.LastSeq, toMillis(cp.UpdatedAt))
	return mapError("save checkpoint", err)
}

// Delete removes the checkpoint for conversationID.
func (c *CheckpointStore) Delete(ctx context.Context, conversationID string) error {
	_, err := c.store.sqlDB.ExecContext(ctx, `DELETE FROM follower_checkpoints WHERE consumer = ? AND conversation_id = ?`,
		c.consumer, conversationID)
	return mapError("delete checkpoint", err)
}
