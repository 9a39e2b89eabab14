package event

import (
	"strings"
	"time"
)

// Type identifies an event type, for example "conversation.message_sent".
type Type string

// Domain returns the prefix before the first dot.
func (t Type) Domain() string {
	value := string(t)
	if idx := strings.IndexByte(value, '.'); idx > 0 {
		return value[:idx]
	}
	return value
}

// ActorType identifies who caused an event.
type ActorType string

const (
	// ActorTypeSystem indicates a system-originated event.
	ActorTypeSystem ActorType = "system"
	// ActorTypeUser indicates a human participant.
	ActorTypeUser ActorType = "user"
	// ActorTypeAgent indicates an automated agent participant.
	ActorTypeAgent ActorType = "agent"
)

// Event is the persisted envelope for a single fact in a conversation's log.
type Event struct {
	// ConversationID identifies the aggregate the event belongs to.
	ConversationID string
	// Seq is assigned by the event store; 1 for the first event.
	Seq uint64
	// Hash is the content hash of the envelope without sequence fields.
	Hash string
	// PrevHash is the chain hash of the event at Seq-1, empty for Seq 1.
	PrevHash string
	// ChainHash links this event to its predecessor.
	ChainHash string
	// Timestamp is the decision time in UTC, millisecond precision.
	Timestamp time.Time
	Type      Type
	ActorType ActorType
	ActorID   string
	// EntityType and EntityID address the sub-entity the fact concerns
	// (a participant or message) when there is one.
	EntityType    string
	EntityID      string
	RequestID     string
	CorrelationID string
	CausationID   string
	PayloadJSON   []byte
}
