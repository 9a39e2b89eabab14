// Package badger provides an embedded key-value event log backed by BadgerDB.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	apperrors "github.com/louisbranch/dialog/internal/platform/errors"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

// Keys are laid out so a prefix scan walks one conversation in sequence
// order:
//
//	evt/{conversation_id}\x00{seq zero-padded to 20 digits} -> storedEvent
//	head/{conversation_id} -> seq (8 bytes) + chain hash
const (
	eventPrefix = "evt/"
	headPrefix  = "head/"
	keySep      = "\x00"
)

// EventStore persists conversation logs in BadgerDB.
type EventStore struct {
	db *badger.DB
}

// Open opens or creates a Badger event log in dir.
func Open(dir string) (*EventStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("badger dir is required")
	}
	return open(badger.DefaultOptions(dir))
}

// OpenInMemory opens a Badger event log that lives only in memory.
func OpenInMemory() (*EventStore, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*EventStore, error) {
	db, err := badger.Open(opts.WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &EventStore{db: db}, nil
}

// Close closes the database.
func (s *EventStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendEvents appends events in one transaction. Badger's conflict detection
// on the head key turns racing writers into concurrency conflicts.
func (s *EventStore) AppendEvents(ctx context.Context, conversationID string, expectedLastSeq uint64, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conversationID = strings.TrimSpace(conversationID)

	var sealed []event.Event
	err := s.db.Update(func(txn *badger.Txn) error {
		headSeq, chainHash, err := readHead(txn, conversationID)
		if err != nil {
			return err
		}
		sealed, err = storage.PrepareAppend(conversationID, expectedLastSeq, headSeq, chainHash, events)
		if err != nil {
			return err
		}
		for _, evt := range sealed {
			value, err := json.Marshal(toStored(evt))
			if err != nil {
				return fmt.Errorf("encode event %d: %w", evt.Seq, err)
			}
			if err := txn.Set(eventKey(conversationID, evt.Seq), value); err != nil {
				return err
			}
		}
		if len(sealed) == 0 {
			return nil
		}
		last := sealed[len(sealed)-1]
		return txn.Set(headKey(conversationID), encodeHead(last.Seq, last.ChainHash))
	})
	if err != nil {
		return nil, mapError("append events", err)
	}
	return sealed, nil
}

// ListEvents returns up to limit events after afterSeq. A limit of zero or
// less returns the whole tail.
func (s *EventStore) ListEvents(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conversationID = strings.TrimSpace(conversationID)
	prefix := []byte(eventPrefix + conversationID + keySep)

	var events []event.Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(eventKey(conversationID, afterSeq+1)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(events) == limit {
				break
			}
			var stored storedEvent
			if err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &stored)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			events = append(events, stored.toEvent())
		}
		return nil
	})
	if err != nil {
		return nil, mapError("list events", err)
	}
	return events, nil
}

// LastSeq returns the head sequence of a conversation.
func (s *EventStore) LastSeq(ctx context.Context, conversationID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var seq uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		seq, _, err = readHead(txn, strings.TrimSpace(conversationID))
		return err
	})
	if err != nil {
		return 0, mapError("last seq", err)
	}
	return seq, nil
}

// ListConversationIDs walks the head keys in key order.
func (s *EventStore) ListConversationIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(headPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), headPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, mapError("list conversation ids", err)
	}
	return ids, nil
}

func eventKey(conversationID string, seq uint64) []byte {
	return fmt.Appendf(nil, "%s%s%s%020d", eventPrefix, conversationID, keySep, seq)
}

func headKey(conversationID string) []byte {
	return []byte(headPrefix + conversationID)
}

func encodeHead(seq uint64, chainHash string) []byte {
	buf := make([]byte, 8, 8+len(chainHash))
	binary.BigEndian.PutUint64(buf, seq)
	return append(buf, chainHash...)
}

func readHead(txn *badger.Txn, conversationID string) (uint64, string, error) {
	item, err := txn.Get(headKey(conversationID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	var (
		seq       uint64
		chainHash string
	)
	err = item.Value(func(value []byte) error {
		if len(value) < 8 {
			return fmt.Errorf("corrupt head for %s", conversationID)
		}
		seq = binary.BigEndian.Uint64(value[:8])
		chainHash = string(value[8:])
		return nil
	})
	return seq, chainHash, err
}

// mapError keeps domain errors and maps Badger failures onto storage errors.
func mapError(op string, err error) error {
	var domainErr *apperrors.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%s: %w", op, storage.ErrConcurrencyConflict)
	case errors.As(err, &domainErr):
		return err
	default:
		return storage.Unavailable(op, err)
	}
}

type storedEvent struct {
	ConversationID string    `json:"conversation_id"`
	Seq            uint64    `json:"seq"`
	Hash           string    `json:"hash"`
	PrevHash       string    `json:"prev_hash,omitempty"`
	ChainHash      string    `json:"chain_hash"`
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"type"`
	ActorType      string    `json:"actor_type"`
	ActorID        string    `json:"actor_id,omitempty"`
	EntityType     string    `json:"entity_type,omitempty"`
	EntityID       string    `json:"entity_id,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	CausationID    string    `json:"causation_id,omitempty"`
	Payload        []byte    `json:"payload"`
}

func toStored(evt event.Event) storedEvent {
	return storedEvent{
		ConversationID: evt.ConversationID,
		Seq:            evt.Seq,
		Hash:           evt.Hash,
		PrevHash:       evt.PrevHash,
		ChainHash:      evt.ChainHash,
		Timestamp:      evt.Timestamp,
		Type:           string(evt.Type),
		ActorType:      string(evt.ActorType),
		ActorID:        evt.ActorID,
		EntityType:     evt.EntityType,
		EntityID:       evt.EntityID,
		RequestID:      evt.RequestID,
		CorrelationID:  evt.CorrelationID,
		CausationID:    evt.CausationID,
		Payload:        evt.PayloadJSON,
	}
}

func (s storedEvent) toEvent() event.Event {
	return event.Event{
		ConversationID: s.ConversationID,
		Seq:            s.Seq,
		Hash:           s.Hash,
		PrevHash:       s.PrevHash,
		ChainHash:      s.ChainHash,
		Timestamp:      s.Timestamp.UTC(),
		Type:           event.Type(s.Type),
		ActorType:      event.ActorType(s.ActorType),
		ActorID:        s.ActorID,
		EntityType:     s.EntityType,
		EntityID:       s.EntityID,
		RequestID:      s.RequestID,
		CorrelationID:  s.CorrelationID,
		CausationID:    s.CausationID,
		PayloadJSON:    s.Payload,
	}
}
