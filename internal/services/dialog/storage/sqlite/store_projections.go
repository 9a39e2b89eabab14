package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/participant"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

const conversationColumns = `id, status, context_json, message_count, started_at, last_activity_at,
	ended_at, end_reason, pause_reason, last_seq`

// ProjectionStore is the SQLite read model.
type ProjectionStore struct {
	*Store
}

// SaveProjection upserts a summary, replaces its participant list, and
// upserts history entries, all in one transaction.
func (s *ProjectionStore) SaveProjection(ctx context.Context, rec storage.ConversationRecord, messages ...storage.MessageRecord) error {
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations (`+conversationColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    context_json = excluded.context_json,
    message_count = excluded.message_count,
    started_at = excluded.started_at,
    last_activity_at = excluded.last_activity_at,
    ended_at = excluded.ended_at,
    end_reason = excluded.end_reason,
    pause_reason = excluded.pause_reason,
    last_seq = excluded.last_seq`,
			rec.ID,
			string(rec.Status),
			string(contextJSON),
			rec.MessageCount,
			toMillis(rec.StartedAt),
			toMillis(rec.LastActivityAt),
			toNullMillis(rec.EndedAt),
			rec.EndReason,
			rec.PauseReason,
			rec.LastSeq,
		); err != nil {
			return mapError("upsert conversation", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_participants WHERE conversation_id = ?`, rec.ID); err != nil {
			return mapError("clear participants", err)
		}
		for i, p := range rec.Participants {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO conversation_participants (conversation_id, participant_id, position, kind, display_name, specialization, joined_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
				rec.ID, p.ID, i, string(p.Kind), p.DisplayName, p.Specialization, toMillis(p.JoinedAt),
			); err != nil {
				return mapError("insert participant", err)
			}
		}

		for _, msg := range messages {
			recordJSON, err := json.Marshal(msg.Message)
			if err != nil {
				return fmt.Errorf("encode message %s: %w", msg.Message.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO messages (conversation_id, seq, message_id, sender_id, sender_kind, sender_name, record_json, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(conversation_id, seq) DO UPDATE SET
    message_id = excluded.message_id,
    sender_id = excluded.sender_id,
    sender_kind = excluded.sender_kind,
    sender_name = excluded.sender_name,
    record_json = excluded.record_json,
    timestamp = excluded.timestamp`,
				msg.ConversationID, msg.Seq, msg.Message.ID, msg.Message.SenderID,
				string(msg.SenderKind), msg.SenderName, string(recordJSON), toMillis(msg.Timestamp),
			); err != nil {
				return mapError("upsert message", err)
			}
		}
		return nil
	})
}

// DeleteProjection removes a summary, its participants, and its history.
func (s *ProjectionStore) DeleteProjection(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM messages WHERE conversation_id = ?`,
			`DELETE FROM conversation_participants WHERE conversation_id = ?`,
			`DELETE FROM conversations WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return mapError("delete projection", err)
			}
		}
		return nil
	})
}

// GetConversation returns one summary.
func (s *ProjectionStore) GetConversation(ctx context.Context, id string) (storage.ConversationRecord, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, strings.TrimSpace(id))
	rec, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ConversationRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ConversationRecord{}, mapError("get conversation", err)
	}
	rec.Participants, err = s.listParticipants(ctx, rec.ID)
	if err != nil {
		return storage.ConversationRecord{}, err
	}
	return rec, nil
}

// ListConversations returns matching summaries ordered by (started_at, id).
func (s *ProjectionStore) ListConversations(ctx context.Context, query storage.ConversationQuery) ([]storage.ConversationRecord, error) {
	where, args := buildConversationWhere(query)
	sqlQuery := `SELECT ` + conversationColumns + ` FROM conversations c`
	if where != "" {
		sqlQuery += ` WHERE ` + where
	}
	sqlQuery += ` ORDER BY started_at ASC, id ASC`
	if query.Limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, query.Limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, mapError("list conversations", err)
	}
	var records []storage.ConversationRecord
	for rows.Next() {
		rec, err := scanConversation(rows)
		if err != nil {
			_ = rows.Close()
			return nil, mapError("scan conversation", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, mapError("iterate conversations", err)
	}
	_ = rows.Close()

	// Connections are serialized, so participants load after the cursor closes.
	for i := range records {
		records[i].Participants, err = s.listParticipants(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

// buildConversationWhere translates a filter and cursor into a WHERE clause.
func buildConversationWhere(query storage.ConversationQuery) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	f := query.Filter
	if f.Status != "" {
		clauses = append(clauses, "c.status = ?")
		args = append(args, string(f.Status))
	}
	if f.ParticipantID != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.participant_id = ?)")
		args = append(args, f.ParticipantID)
	}
	addRange := func(column string, r storage.TimeRange) {
		if !r.From.IsZero() {
			clauses = append(clauses, column+" >= ?")
			args = append(args, toMillis(r.From))
		}
		if !r.To.IsZero() {
			clauses = append(clauses, column+" < ?")
			args = append(args, toMillis(r.To))
		}
	}
	addRange("c.started_at", f.StartedAt)
	addRange("c.last_activity_at", f.LastActivityAt)
	if query.After != nil {
		after := toMillis(query.After.StartedAt)
		clauses = append(clauses, "(c.started_at > ? OR (c.started_at = ? AND c.id > ?))")
		args = append(args, after, after, query.After.ID)
	}
	return strings.Join(clauses, " AND "), args
}

// GetStatistics aggregates every stored summary.
func (s *ProjectionStore) GetStatistics(ctx context.Context) (storage.Statistics, error) {
	stats := storage.Statistics{ByStatus: make(map[conversation.Status]int)}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT status, COUNT(*), COALESCE(SUM(message_count), 0) FROM conversations GROUP BY status`)
	if err != nil {
		return storage.Statistics{}, mapError("conversation statistics", err)
	}
	for rows.Next() {
		var (
			status   string
			count    int
			messages int
		)
		if err := rows.Scan(&status, &count, &messages); err != nil {
			_ = rows.Close()
			return storage.Statistics{}, mapError("scan statistics", err)
		}
		stats.ByStatus[conversation.Status(status)] = count
		stats.Total += count
		stats.TotalMessages += messages
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return storage.Statistics{}, mapError("iterate statistics", err)
	}
	_ = rows.Close()

	row := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(DISTINCT participant_id) FROM conversation_participants`)
	if err := row.Scan(&stats.DistinctParticipants); err != nil {
		return storage.Statistics{}, mapError("count participants", err)
	}
	return stats, nil
}

// ListMessages returns history after afterSeq in sequence order.
func (s *ProjectionStore) ListMessages(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]storage.MessageRecord, error) {
	query := `SELECT conversation_id, seq, sender_kind, sender_name, record_json, timestamp
FROM messages WHERE conversation_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{strings.TrimSpace(conversationID), afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list messages", err)
	}
	defer rows.Close()

	var history []storage.MessageRecord
	for rows.Next() {
		var (
			msg        storage.MessageRecord
			senderKind string
			recordJSON string
			ts         int64
		)
		if err := rows.Scan(&msg.ConversationID, &msg.Seq, &senderKind, &msg.SenderName, &recordJSON, &ts); err != nil {
			return nil, mapError("scan message", err)
		}
		if err := json.Unmarshal([]byte(recordJSON), &msg.Message); err != nil {
			return nil, fmt.Errorf("decode message seq %d: %w", msg.Seq, err)
		}
		msg.SenderKind = participant.Kind(senderKind)
		msg.Timestamp = fromMillis(ts)
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate messages", err)
	}
	return history, nil
}

func (s *ProjectionStore) listParticipants(ctx context.Context, conversationID string) ([]storage.ParticipantRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT participant_id, kind, display_name, specialization, joined_at
FROM conversation_participants WHERE conversation_id = ? ORDER BY position ASC`, conversationID)
	if err != nil {
		return nil, mapError("list participants", err)
	}
	defer rows.Close()

	var participants []storage.ParticipantRecord
	for rows.Next() {
		var (
			p        storage.ParticipantRecord
			kind     string
			joinedAt int64
		)
		if err := rows.Scan(&p.ID, &kind, &p.DisplayName, &p.Specialization, &joinedAt); err != nil {
			return nil, mapError("scan participant", err)
		}
		p.Kind = participant.Kind(kind)
		p.JoinedAt = fromMillis(joinedAt)
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate participants", err)
	}
	return participants, nil
}

func scanConversation(row rowScanner) (storage.ConversationRecord, error) {
	var (
		rec            storage.ConversationRecord
		status         string
		contextJSON    string
		startedAt      int64
		lastActivityAt int64
		endedAt        sql.NullInt64
	)
	if err := row.Scan(
		&rec.ID,
		&status,
		&contextJSON,
		&rec.MessageCount,
		&startedAt,
		&lastActivityAt,
		&endedAt,
		&rec.EndReason,
		&rec.PauseReason,
		&rec.LastSeq,
	); err != nil {
		return storage.ConversationRecord{}, err
	}
	if err := json.Unmarshal([]byte(contextJSON), &rec.Context); err != nil {
		return storage.ConversationRecord{}, fmt.Errorf("decode context: %w", err)
	}
	rec.Status = conversation.Status(status)
	rec.StartedAt = fromMillis(startedAt)
	rec.LastActivityAt = fromMillis(lastActivityAt)
	rec.EndedAt = fromNullMillis(endedAt)
	return rec, nil
}
