package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

const eventColumns = `conversation_id, seq, event_hash, prev_hash, chain_hash, timestamp, event_type,
	actor_type, actor_id, entity_type, entity_id, request_id, correlation_id, causation_id, payload_json`

// EventStore is the SQLite event log.
type EventStore struct {
	*Store
}

// AppendEvents appends events in one transaction after checking the head.
func (s *EventStore) AppendEvents(ctx context.Context, conversationID string, expectedLastSeq uint64, events []event.Event) ([]event.Event, error) {
	conversationID = strings.TrimSpace(conversationID)
	var sealed []event.Event
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			headSeq   uint64
			prevChain string
		)
		row := tx.QueryRowContext(ctx,
			`SELECT seq, chain_hash FROM events WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1`,
			conversationID,
		)
		if err := row.Scan(&headSeq, &prevChain); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return mapError("read event head", err)
		}

		prepared, err := storage.PrepareAppend(conversationID, expectedLastSeq, headSeq, prevChain, events)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return mapError("prepare event insert", err)
		}
		defer stmt.Close()
		for _, evt := range prepared {
			if _, err := stmt.ExecContext(ctx,
				evt.ConversationID,
				evt.Seq,
				evt.Hash,
				evt.PrevHash,
				evt.ChainHash,
				toMillis(evt.Timestamp),
				string(evt.Type),
				string(evt.ActorType),
				evt.ActorID,
				evt.EntityType,
				evt.EntityID,
				evt.RequestID,
				evt.CorrelationID,
				evt.CausationID,
				evt.PayloadJSON,
			); err != nil {
				return mapError("insert event", err)
			}
		}
		sealed = prepared
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// ListEvents returns events after afterSeq ordered by sequence. A limit of
// zero or less returns the whole tail.
func (s *EventStore) ListEvents(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE conversation_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{strings.TrimSpace(conversationID), afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list events", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, mapError("scan event", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate events", err)
	}
	return events, nil
}

// LastSeq returns the head sequence for a conversation.
func (s *EventStore) LastSeq(ctx context.Context, conversationID string) (uint64, error) {
	var seq uint64
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE conversation_id = ?`, strings.TrimSpace(conversationID))
	if err := row.Scan(&seq); err != nil {
		return 0, mapError("read last seq", err)
	}
	return seq, nil
}

// ListConversationIDs returns every conversation with events.
func (s *EventStore) ListConversationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT DISTINCT conversation_id FROM events ORDER BY conversation_id`)
	if err != nil {
		return nil, mapError("list conversation ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError("scan conversation id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate conversation ids", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (event.Event, error) {
	var (
		evt        event.Event
		ts         int64
		eventType  string
		actorType  string
		payloadRaw []byte
	)
	if err := row.Scan(
		&evt.ConversationID,
		&evt.Seq,
		&evt.Hash,
		&evt.PrevHash,
		&evt.ChainHash,
		&ts,
		&eventType,
		&actorType,
		&evt.ActorID,
		&evt.EntityType,
		&evt.EntityID,
		&evt.RequestID,
		&evt.CorrelationID,
		&evt.CausationID,
		&payloadRaw,
	); err != nil {
		return event.Event{}, err
	}
	evt.Timestamp = fromMillis(ts)
	evt.Type = event.Type(eventType)
	evt.ActorType = event.ActorType(actorType)
	evt.PayloadJSON = payloadRaw
	return evt, nil
}
