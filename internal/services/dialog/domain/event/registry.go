package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/dialog/internal/services/dialog/core/encoding"
)

var (
	// ErrConversationIDRequired indicates a missing conversation id.
	ErrConversationIDRequired = errors.New("conversation id is required")
	// ErrTypeRequired indicates a missing event type.
	ErrTypeRequired = errors.New("event type is required")
	// ErrTypeUnknown indicates an unregistered event type.
	ErrTypeUnknown = errors.New("event type is not registered")
	// ErrActorTypeInvalid indicates an unknown actor type.
	ErrActorTypeInvalid = errors.New("actor type is invalid")
	// ErrActorIDRequired indicates a missing actor id for user or agent actors.
	ErrActorIDRequired = errors.New("actor id is required for user or agent")
	// ErrEntityTypeRequired indicates missing entity type on an addressed event.
	ErrEntityTypeRequired = errors.New("entity type is required")
	// ErrEntityIDRequired indicates missing entity id on an addressed event.
	ErrEntityIDRequired = errors.New("entity id is required")
	// ErrPayloadInvalid indicates malformed payload JSON.
	ErrPayloadInvalid = errors.New("payload json must be valid")
	// ErrTimestampRequired indicates a missing decision timestamp.
	ErrTimestampRequired = errors.New("event timestamp is required")
)

// AddressingPolicy declares whether an event type must name a sub-entity.
type AddressingPolicy string

const (
	// AddressingPolicyNone leaves entity fields optional.
	AddressingPolicyNone AddressingPolicy = ""
	// AddressingPolicyEntityTarget requires EntityType and EntityID.
	AddressingPolicyEntityTarget AddressingPolicy = "entity_target"
)

// Definition registers metadata for an event type.
type Definition struct {
	Type            Type
	Addressing      AddressingPolicy
	ValidatePayload func(json.RawMessage) error
}

// Registry stores event definitions and validates events before append.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// Register adds an event type definition.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return ErrTypeRequired
	}
	switch def.Addressing {
	case AddressingPolicyNone, AddressingPolicyEntityTarget:
	default:
		return fmt.Errorf("addressing policy %q is invalid", def.Addressing)
	}
	if r.definitions == nil {
		r.definitions = make(map[Type]Definition)
	}
	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("event type already registered: %s", def.Type)
	}
	r.definitions[def.Type] = def
	return nil
}

// Definition returns the definition for an event type.
func (r *Registry) Definition(eventType Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.definitions[Type(strings.TrimSpace(string(eventType)))]
	return def, ok
}

// ListDefinitions returns registered definitions sorted by type.
func (r *Registry) ListDefinitions() []Definition {
	if r == nil || len(r.definitions) == 0 {
		return nil
	}
	definitions := make([]Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		definitions = append(definitions, def)
	}
	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].Type < definitions[j].Type
	})
	return definitions
}

// ValidateForAppend validates and normalizes an event before it is persisted.
// Sequence and hash fields are left for the store.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	evt.ConversationID = strings.TrimSpace(evt.ConversationID)
	if evt.ConversationID == "" {
		return Event{}, ErrConversationIDRequired
	}
	evt.Type = Type(strings.TrimSpace(string(evt.Type)))
	if evt.Type == "" {
		return Event{}, ErrTypeRequired
	}
	def, ok := r.Definition(evt.Type)
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrTypeUnknown, evt.Type)
	}
	if evt.Timestamp.IsZero() {
		return Event{}, ErrTimestampRequired
	}
	evt.Timestamp = evt.Timestamp.UTC()

	evt.ActorType = ActorType(strings.TrimSpace(string(evt.ActorType)))
	if evt.ActorType == "" {
		evt.ActorType = ActorTypeSystem
	}
	switch evt.ActorType {
	case ActorTypeSystem, ActorTypeUser, ActorTypeAgent:
	default:
		return Event{}, ErrActorTypeInvalid
	}
	evt.ActorID = strings.TrimSpace(evt.ActorID)
	if evt.ActorType != ActorTypeSystem && evt.ActorID == "" {
		return Event{}, ErrActorIDRequired
	}

	evt.EntityType = strings.TrimSpace(evt.EntityType)
	evt.EntityID = strings.TrimSpace(evt.EntityID)
	if def.Addressing == AddressingPolicyEntityTarget {
		if evt.EntityType == "" {
			return Event{}, ErrEntityTypeRequired
		}
		if evt.EntityID == "" {
			return Event{}, ErrEntityIDRequired
		}
	}

	if len(evt.PayloadJSON) == 0 {
		evt.PayloadJSON = []byte("{}")
	}
	if !json.Valid(evt.PayloadJSON) {
		return Event{}, ErrPayloadInvalid
	}
	canonical, err := encoding.CanonicalJSON(json.RawMessage(evt.PayloadJSON))
	if err != nil {
		return Event{}, fmt.Errorf("canonical payload json: %w", err)
	}
	evt.PayloadJSON = canonical
	if def.ValidatePayload != nil {
		if err := def.ValidatePayload(json.RawMessage(evt.PayloadJSON)); err != nil {
			return Event{}, fmt.Errorf("payload invalid: %w", err)
		}
	}
	return evt, nil
}
