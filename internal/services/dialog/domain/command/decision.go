package command

import (
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
)

// Decision represents the pure outcome of handling a command. A decision with
// neither events nor rejections is an accepted no-op.
type Decision struct {
	Events     []event.Event
	Rejections []Rejection
}

// Rejected reports whether the decision declined the command.
func (d Decision) Rejected() bool {
	return len(d.Rejections) > 0
}

// Rejection captures a domain-level reason a command was declined.
type Rejection struct {
	Code    string
	Message string
}

// Accept returns a decision that emits the provided events.
func Accept(events ...event.Event) Decision {
	return Decision{Events: append([]event.Event(nil), events...)}
}

// Reject returns a decision that carries the provided rejections.
func Reject(rejections ...Rejection) Decision {
	return Decision{Rejections: append([]Rejection(nil), rejections...)}
}

// NewEvent builds an event by copying the shared envelope fields from a
// command. Callers supply the event-specific type, entity addressing, payload
// and timestamp.
func NewEvent(cmd Command, eventType event.Type, entityType, entityID string, payloadJSON []byte, now time.Time) event.Event {
	return event.Event{
		ConversationID: cmd.ConversationID,
		Type:           eventType,
		Timestamp:      now,
		ActorType:      event.ActorType(cmd.ActorType),
		ActorID:        cmd.ActorID,
		EntityType:     entityType,
		EntityID:       entityID,
		RequestID:      cmd.RequestID,
		CorrelationID:  cmd.CorrelationID,
		CausationID:    cmd.CausationID,
		PayloadJSON:    payloadJSON,
	}
}
