package query

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/samber/lo"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/message"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

// ParticipantView is a conversation member as served to readers.
type ParticipantView struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	DisplayName    string    `json:"display_name"`
	Specialization string    `json:"specialization,omitempty"`
	JoinedAt       time.Time `json:"joined_at"`
}

// ConversationView is the read shape of a conversation summary.
type ConversationView struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Participants     []ParticipantView `json:"participants"`
	ParticipantCount int               `json:"participant_count"`
	Context          map[string]string `json:"context,omitempty"`
	MessageCount     int               `json:"message_count"`
	StartedAt        time.Time         `json:"started_at"`
	LastActivityAt   time.Time         `json:"last_activity_at"`
	EndedAt          *time.Time        `json:"ended_at,omitempty"`
	EndReason        string            `json:"end_reason,omitempty"`
	PauseReason      string            `json:"pause_reason,omitempty"`
	LastSeq          uint64            `json:"last_seq"`
}

// MessageView is one history entry.
type MessageView struct {
	Seq         uint64               `json:"seq"`
	ID          string               `json:"id"`
	SenderID    string               `json:"sender_id"`
	SenderKind  string               `json:"sender_kind,omitempty"`
	SenderName  string               `json:"sender_name,omitempty"`
	Kind        string               `json:"kind"`
	Body        string               `json:"body,omitempty"`
	FormatType  string               `json:"format_type,omitempty"`
	Payload     json.RawMessage      `json:"payload,omitempty"`
	Attachments []message.Attachment `json:"attachments,omitempty"`
	Metadata    map[string]string    `json:"metadata,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}

// StatisticsView aggregates all conversation summaries.
type StatisticsView struct {
	Total                int            `json:"total"`
	ByStatus             map[string]int `json:"by_status"`
	TotalMessages        int            `json:"total_messages"`
	AverageMessages      float64        `json:"average_messages"`
	DistinctParticipants int            `json:"distinct_participants"`
}

func conversationView(rec storage.ConversationRecord) ConversationView {
	view := ConversationView{
		ID:               rec.ID,
		Status:           string(rec.Status),
		ParticipantCount: len(rec.Participants),
		Context:          maps.Clone(rec.Context),
		MessageCount:     rec.MessageCount,
		StartedAt:        rec.StartedAt,
		LastActivityAt:   rec.LastActivityAt,
		EndReason:        rec.EndReason,
		PauseReason:      rec.PauseReason,
		LastSeq:          rec.LastSeq,
	}
	view.Participants = lo.Map(rec.Participants, func(p storage.ParticipantRecord, _ int) ParticipantView {
		return ParticipantView{
			ID:             p.ID,
			Kind:           string(p.Kind),
			DisplayName:    p.DisplayName,
			Specialization: p.Specialization,
			JoinedAt:       p.JoinedAt,
		}
	})
	if rec.EndedAt != nil {
		endedAt := *rec.EndedAt
		view.EndedAt = &endedAt
	}
	return view
}

func messageView(rec storage.MessageRecord, _ int) MessageView {
	return MessageView{
		Seq:         rec.Seq,
		ID:          rec.Message.ID,
		SenderID:    rec.Message.SenderID,
		SenderKind:  string(rec.SenderKind),
		SenderName:  rec.SenderName,
		Kind:        string(rec.Message.Kind),
		Body:        rec.Message.Body,
		FormatType:  rec.Message.FormatType,
		Payload:     rec.Message.Payload,
		Attachments: rec.Message.Attachments,
		Metadata:    maps.Clone(rec.Message.Metadata),
		Timestamp:   rec.Timestamp,
	}
}
