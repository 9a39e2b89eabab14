package projection

import (
	"maps"
	"strings"
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/participant"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

func applyStarted(evt event.Event, payload conversation.StartPayload, at time.Time) storage.ConversationRecord {
	rec := storage.ConversationRecord{
		ID:             strings.TrimSpace(evt.ConversationID),
		Status:         conversation.StatusActive,
		Context:        maps.Clone(payload.Context),
		StartedAt:      at,
		LastActivityAt: at,
	}
	for _, p := range payload.Participants {
		rec.Participants = append(rec.Participants, participantRecord(p, at))
	}
	return rec
}

func applyParticipantAdded(rec *storage.ConversationRecord, payload conversation.AddParticipantPayload, at time.Time) {
	if rec.HasParticipant(payload.Participant.ID) {
		return
	}
	rec.Participants = append(rec.Participants, participantRecord(payload.Participant, at))
}

func participantRecord(p participant.Record, joinedAt time.Time) storage.ParticipantRecord {
	return storage.ParticipantRecord{
		ID:             p.ID,
		Kind:           p.Kind,
		DisplayName:    p.DisplayName,
		Specialization: p.Specialization,
		JoinedAt:       joinedAt,
	}
}
