package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
)

// Publisher delivers one committed event to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt event.Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// Message is the wire form of a published event.
type Message struct {
	ConversationID string          `json:"conversation_id"`
	Seq            uint64          `json:"seq"`
	Type           string          `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ActorType      string          `json:"actor_type"`
	ActorID        string          `json:"actor_id,omitempty"`
	EntityType     string          `json:"entity_type,omitempty"`
	EntityID       string          `json:"entity_id,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	CausationID    string          `json:"causation_id,omitempty"`
	ChainHash      string          `json:"chain_hash"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// MessageOf converts an event to its wire form.
func MessageOf(evt event.Event) Message {
	msg := Message{
		ConversationID: evt.ConversationID,
		Seq:            evt.Seq,
		Type:           string(evt.Type),
		Timestamp:      evt.Timestamp,
		ActorType:      string(evt.ActorType),
		ActorID:        evt.ActorID,
		EntityType:     evt.EntityType,
		EntityID:       evt.EntityID,
		CorrelationID:  evt.CorrelationID,
		CausationID:    evt.CausationID,
		ChainHash:      evt.ChainHash,
	}
	if len(evt.PayloadJSON) > 0 {
		msg.Payload = append(json.RawMessage(nil), evt.PayloadJSON...)
	}
	return msg
}
