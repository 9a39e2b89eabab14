package checkpoint

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/replay"
)

var (
	// ErrConversationIDRequired indicates a missing conversation id.
	ErrConversationIDRequired = errors.New("conversation id is required")
	errStoreRequired          = errors.New("checkpoint store is required")
)

// Memory stores checkpoints and state snapshots in memory.
type Memory struct {
	mu          sync.Mutex
	checkpoints map[string]replay.Checkpoint
	states      map[string]any
	now         func() time.Time
}

// NewMemory creates a new in-memory checkpoint store.
func NewMemory() *Memory {
	return &Memory{
		checkpoints: make(map[string]replay.Checkpoint),
		states:      make(map[string]any),
		now:         time.Now,
	}
}

// Get retrieves a checkpoint by conversation id.
func (m *Memory) Get(ctx context.Context, conversationID string) (replay.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return replay.Checkpoint{}, err
	}
	if m == nil {
		return replay.Checkpoint{}, errStoreRequired
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return replay.Checkpoint{}, ErrConversationIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	checkpoint, ok := m.checkpoints[conversationID]
	if !ok {
		return replay.Checkpoint{}, replay.ErrCheckpointNotFound
	}
	return checkpoint, nil
}

// Save persists a checkpoint.
func (m *Memory) Save(ctx context.Context, checkpoint replay.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil {
		return errStoreRequired
	}
	conversationID := strings.TrimSpace(checkpoint.ConversationID)
	if conversationID == "" {
		return ErrConversationIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	checkpoint.ConversationID = conversationID
	m.checkpoints[conversationID] = checkpoint
	return nil
}

// Delete forgets the checkpoint and snapshot for a conversation.
func (m *Memory) Delete(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil {
		return errStoreRequired
	}
	conversationID = strings.TrimSpace(conversationID)

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.checkpoints, conversationID)
	delete(m.states, conversationID)
	return nil
}

// GetState retrieves a state snapshot and its sequence.
func (m *Memory) GetState(ctx context.Context, conversationID string) (any, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if m == nil {
		return nil, 0, errStoreRequired
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, 0, ErrConversationIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, ok := m.states[conversationID]
	if !ok {
		return nil, 0, replay.ErrCheckpointNotFound
	}
	checkpoint, ok := m.checkpoints[conversationID]
	if !ok {
		return nil, 0, replay.ErrCheckpointNotFound
	}
	return cloneSnapshotState(snapshot), checkpoint.LastSeq, nil
}

// SaveState persists a state snapshot taken at lastSeq.
func (m *Memory) SaveState(ctx context.Context, conversationID string, lastSeq uint64, state any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil {
		return errStoreRequired
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrConversationIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[conversationID] = cloneSnapshotState(state)
	m.checkpoints[conversationID] = replay.Checkpoint{
		ConversationID: conversationID,
		LastSeq:        lastSeq,
		UpdatedAt:      m.now().UTC(),
	}
	return nil
}

func cloneSnapshotState(state any) any {
	switch typed := state.(type) {
	case conversation.State:
		return typed.Clone()
	case *conversation.State:
		if typed == nil {
			return conversation.State{}
		}
		return typed.Clone()
	default:
		return state
	}
}
