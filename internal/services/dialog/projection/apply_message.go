package projection

import (
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

// applyMessageSent counts the message and returns its history entry,
// attributed to the sender as currently listed on the summary.
func applyMessageSent(rec *storage.ConversationRecord, evt event.Event, payload conversation.SendMessagePayload, at time.Time) storage.MessageRecord {
	rec.MessageCount++
	entry := storage.MessageRecord{
		ConversationID: rec.ID,
		Seq:            evt.Seq,
		Message:        payload.Message,
		Timestamp:      at,
	}
	for _, p := range rec.Participants {
		if p.ID == payload.Message.SenderID {
			entry.SenderKind = p.Kind
			entry.SenderName = p.DisplayName
			break
		}
	}
	return entry
}
