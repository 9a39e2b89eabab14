package projection

import (
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
)

func eventOf(conversationID string, seq uint64, eventType event.Type, at time.Time) event.Event {
	return event.Event{
		ConversationID: conversationID,
		Seq:            seq,
		Type:           eventType,
		Timestamp:      at,
		ActorType:      event.ActorTypeSystem,
		PayloadJSON:    []byte(`{}`),
	}
}
