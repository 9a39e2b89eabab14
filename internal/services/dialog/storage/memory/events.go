// Package memory provides in-process storage engines for the dialog service.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

// EventStore keeps each conversation's log as an append-only slice where
// index i holds sequence i+1.
type EventStore struct {
	mu   sync.RWMutex
	logs map[string][]event.Event
}

// NewEventStore creates an empty event store.
func NewEventStore() *EventStore {
	return &EventStore{logs: make(map[string][]event.Event)}
}

// AppendEvents appends events atomically after expectedLastSeq.
func (s *EventStore) AppendEvents(ctx context.Context, conversationID string, expectedLastSeq uint64, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conversationID = strings.TrimSpace(conversationID)

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[conversationID]
	prevChain := ""
	if len(log) > 0 {
		prevChain = log[len(log)-1].ChainHash
	}
	sealed, err := storage.PrepareAppend(conversationID, expectedLastSeq, uint64(len(log)), prevChain, events)
	if err != nil {
		return nil, err
	}
	s.logs[conversationID] = append(log, sealed...)
	return slices.Clone(sealed), nil
}

// ListEvents returns up to limit events after afterSeq. A limit of zero or
// less returns the whole tail.
func (s *EventStore) ListEvents(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[strings.TrimSpace(conversationID)]
	if afterSeq >= uint64(len(log)) {
		return nil, nil
	}
	tail := log[afterSeq:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	return slices.Clone(tail), nil
}

// LastSeq returns the head sequence of a conversation.
func (s *EventStore) LastSeq(ctx context.Context, conversationID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.logs[strings.TrimSpace(conversationID)])), nil
}

// ListConversationIDs returns every conversation with events, sorted.
func (s *EventStore) ListConversationIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.logs))
	for id := range s.logs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
