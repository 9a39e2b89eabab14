package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

// ProjectionStore keeps conversation summaries and history in memory.
type ProjectionStore struct {
	mu            sync.RWMutex
	conversations map[string]storage.ConversationRecord
	messages      map[string]map[uint64]storage.MessageRecord
}

// NewProjectionStore creates an empty projection store.
func NewProjectionStore() *ProjectionStore {
	return &ProjectionStore{
		conversations: make(map[string]storage.ConversationRecord),
		messages:      make(map[string]map[uint64]storage.MessageRecord),
	}
}

// SaveProjection stores rec and upserts messages by sequence.
func (s *ProjectionStore) SaveProjection(ctx context.Context, rec storage.ConversationRecord, messages ...storage.MessageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range messages {
		history, ok := s.messages[msg.ConversationID]
		if !ok {
			history = make(map[uint64]storage.MessageRecord)
			s.messages[msg.ConversationID] = history
		}
		history[msg.Seq] = msg
	}
	s.conversations[rec.ID] = rec.Clone()
	return nil
}

// DeleteProjection removes a conversation summary and history.
func (s *ProjectionStore) DeleteProjection(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

// GetConversation returns a conversation summary.
func (s *ProjectionStore) GetConversation(ctx context.Context, id string) (storage.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ConversationRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.conversations[strings.TrimSpace(id)]
	if !ok {
		return storage.ConversationRecord{}, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

// ListConversations returns matching summaries ordered by (started_at, id).
func (s *ProjectionStore) ListConversations(ctx context.Context, query storage.ConversationQuery) ([]storage.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := lo.Filter(lo.Values(s.conversations), func(rec storage.ConversationRecord, _ int) bool {
		if query.After != nil && !query.After.Less(storage.KeyOf(rec)) {
			return false
		}
		return query.Filter.Matches(rec)
	})
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b storage.ConversationRecord) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return lo.Map(matched, func(rec storage.ConversationRecord, _ int) storage.ConversationRecord {
		return rec.Clone()
	}), nil
}

// GetStatistics aggregates every stored summary.
func (s *ProjectionStore) GetStatistics(ctx context.Context) (storage.Statistics, error) {
	if err := ctx.Err(); err != nil {
		return storage.Statistics{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := storage.Statistics{ByStatus: make(map[conversation.Status]int)}
	participants := make(map[string]struct{})
	for _, rec := range s.conversations {
		stats.Total++
		stats.ByStatus[rec.Status]++
		stats.TotalMessages += rec.MessageCount
		for _, p := range rec.Participants {
			participants[p.ID] = struct{}{}
		}
	}
	stats.DistinctParticipants = len(participants)
	return stats, nil
}

// ListMessages returns history after afterSeq in sequence order.
func (s *ProjectionStore) ListMessages(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	history := lo.Filter(lo.Values(s.messages[strings.TrimSpace(conversationID)]), func(msg storage.MessageRecord, _ int) bool {
		return msg.Seq > afterSeq
	})
	s.mu.RUnlock()

	slices.SortFunc(history, func(a, b storage.MessageRecord) int { return cmp.Compare(a.Seq, b.Seq) })
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}
