package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRegistryValidateForAppend_DefinitionAddressingPolicy(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Definition{
		Type:       Type("conversation.participant_added"),
		Addressing: AddressingPolicyEntityTarget,
	}); err != nil {
		t.Fatalf("register type: %v", err)
	}

	base := Event{
		ConversationID: "conv-1",
		Type:           Type("conversation.participant_added"),
		Timestamp:      time.Unix(0, 0).UTC(),
		ActorType:      ActorTypeSystem,
		PayloadJSON:    []byte("{}"),
	}

	_, err := registry.ValidateForAppend(base)
	if !errors.Is(err, ErrEntityTypeRequired) {
		t.Fatalf("expected ErrEntityTypeRequired, got %v", err)
	}

	withType := base
	withType.EntityType = "participant"
	_, err = registry.ValidateForAppend(withType)
	if !errors.Is(err, ErrEntityIDRequired) {
		t.Fatalf("expected ErrEntityIDRequired, got %v", err)
	}

	withTypeAndID := withType
	withTypeAndID.EntityID = "user-1"
	if _, err := registry.ValidateForAppend(withTypeAndID); err != nil {
		t.Fatalf("valid addressed event rejected: %v", err)
	}
}

func TestRegistryValidateForAppend_CanonicalizesPayloadJSON(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Definition{Type: Type("conversation.paused")}); err != nil {
		t.Fatalf("register type: %v", err)
	}

	evt := Event{
		ConversationID: "conv-1",
		Type:           Type("conversation.paused"),
		Timestamp:      time.Unix(0, 0).UTC(),
		PayloadJSON:    []byte("{\"b\":2,\"a\":1}"),
	}

	normalized, err := registry.ValidateForAppend(evt)
	if err != nil {
		t.Fatalf("validate event: %v", err)
	}
	if string(normalized.PayloadJSON) != `{"a":1,"b":2}` {
		t.Fatalf("PayloadJSON = %s, want %s", string(normalized.PayloadJSON), `{"a":1,"b":2}`)
	}
	if normalized.ActorType != ActorTypeSystem {
		t.Fatalf("ActorType = %s, want %s", normalized.ActorType, ActorTypeSystem)
	}
}

func TestRegistryValidateForAppend_Rejections(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Definition{
		Type: Type("conversation.ended"),
		ValidatePayload: func(raw json.RawMessage) error {
			var payload map[string]any
			if err := json.Unmarshal(raw, &payload); err != nil {
				return err
			}
			if _, ok := payload["reason"]; !ok {
				return errors.New("reason is required")
			}
			return nil
		},
	}); err != nil {
		t.Fatalf("register type: %v", err)
	}

	valid := Event{
		ConversationID: "conv-1",
		Type:           Type("conversation.ended"),
		Timestamp:      time.Unix(10, 0),
		ActorType:      ActorTypeUser,
		ActorID:        "user-1",
		PayloadJSON:    []byte(`{"reason":"done"}`),
	}

	tests := []struct {
		name   string
		mutate func(*Event)
		want   error
	}{
		{name: "missing conversation", mutate: func(e *Event) { e.ConversationID = " " }, want: ErrConversationIDRequired},
		{name: "missing type", mutate: func(e *Event) { e.Type = "" }, want: ErrTypeRequired},
		{name: "unknown type", mutate: func(e *Event) { e.Type = "conversation.unknown" }, want: ErrTypeUnknown},
		{name: "missing timestamp", mutate: func(e *Event) { e.Timestamp = time.Time{} }, want: ErrTimestampRequired},
		{name: "invalid actor", mutate: func(e *Event) { e.ActorType = "robot" }, want: ErrActorTypeInvalid},
		{name: "missing actor id", mutate: func(e *Event) { e.ActorID = "" }, want: ErrActorIDRequired},
		{name: "invalid payload", mutate: func(e *Event) { e.PayloadJSON = []byte("{") }, want: ErrPayloadInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := valid
			tt.mutate(&evt)
			if _, err := registry.ValidateForAppend(evt); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	missingReason := valid
	missingReason.PayloadJSON = []byte(`{}`)
	if _, err := registry.ValidateForAppend(missingReason); err == nil {
		t.Fatal("expected payload validator error")
	}
}

func TestRegistryRegisterRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Definition{Type: "conversation.resumed"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(Definition{Type: "conversation.resumed"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := registry.Register(Definition{Type: " "}); !errors.Is(err, ErrTypeRequired) {
		t.Fatalf("expected ErrTypeRequired, got %v", err)
	}
}

func TestTypeDomain(t *testing.T) {
	if got := Type("conversation.message_sent").Domain(); got != "conversation" {
		t.Fatalf("Domain = %q, want conversation", got)
	}
	if got := Type("plain").Domain(); got != "plain" {
		t.Fatalf("Domain = %q, want plain", got)
	}
}
