package command

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register(Definition{
		Type: Type("conversation.send_message"),
		ValidatePayload: func(raw json.RawMessage) error {
			var payload struct {
				Body string `json:"body"`
			}
			if err := json.Unmarshal(raw, &payload); err != nil {
				return err
			}
			if payload.Body == "" {
				return errors.New("body is required")
			}
			return nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return registry
}

func TestValidateForDecisionNormalizes(t *testing.T) {
	registry := newTestRegistry(t)
	cmd, err := registry.ValidateForDecision(Command{
		ConversationID: "  conv-1 ",
		Type:           Type(" conversation.send_message "),
		ActorType:      ActorTypeUser,
		ActorID:        " user-1 ",
		PayloadJSON:    []byte(`{"z":1, "body":"hi"}`),
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cmd.ConversationID != "conv-1" {
		t.Fatalf("ConversationID = %q, want conv-1", cmd.ConversationID)
	}
	if cmd.ActorID != "user-1" {
		t.Fatalf("ActorID = %q, want user-1", cmd.ActorID)
	}
	if string(cmd.PayloadJSON) != `{"body":"hi","z":1}` {
		t.Fatalf("PayloadJSON = %s", cmd.PayloadJSON)
	}
}

func TestValidateForDecisionDefaultsSystemActor(t *testing.T) {
	registry := newTestRegistry(t)
	cmd, err := registry.ValidateForDecision(Command{
		ConversationID: "conv-1",
		Type:           "conversation.send_message",
		PayloadJSON:    []byte(`{"body":"hi"}`),
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cmd.ActorType != ActorTypeSystem {
		t.Fatalf("ActorType = %s, want system", cmd.ActorType)
	}
}

func TestValidateForDecisionRejections(t *testing.T) {
	registry := newTestRegistry(t)
	valid := Command{
		ConversationID: "conv-1",
		Type:           "conversation.send_message",
		ActorType:      ActorTypeAgent,
		ActorID:        "agent-1",
		PayloadJSON:    []byte(`{"body":"hi"}`),
	}
	tests := []struct {
		name   string
		mutate func(*Command)
		want   error
	}{
		{name: "conversation id", mutate: func(c *Command) { c.ConversationID = "" }, want: ErrConversationIDRequired},
		{name: "type", mutate: func(c *Command) { c.Type = "" }, want: ErrTypeRequired},
		{name: "unknown type", mutate: func(c *Command) { c.Type = "conversation.nope" }, want: ErrTypeUnknown},
		{name: "actor type", mutate: func(c *Command) { c.ActorType = "robot" }, want: ErrActorTypeInvalid},
		{name: "actor id", mutate: func(c *Command) { c.ActorID = " " }, want: ErrActorIDRequired},
		{name: "payload", mutate: func(c *Command) { c.PayloadJSON = []byte("nope") }, want: ErrPayloadInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := valid
			tt.mutate(&cmd)
			if _, err := registry.ValidateForDecision(cmd); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	empty := valid
	empty.PayloadJSON = []byte(`{"body":""}`)
	if _, err := registry.ValidateForDecision(empty); err == nil {
		t.Fatal("expected payload validator error")
	}
}

func TestListDefinitionsSorted(t *testing.T) {
	registry := NewRegistry()
	for _, typ := range []Type{"b.second", "a.first"} {
		if err := registry.Register(Definition{Type: typ}); err != nil {
			t.Fatalf("register %s: %v", typ, err)
		}
	}
	defs := registry.ListDefinitions()
	if len(defs) != 2 || defs[0].Type != "a.first" || defs[1].Type != "b.second" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
}

func TestNewEventCopiesEnvelope(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cmd := Command{
		ConversationID: "conv-1",
		ActorType:      ActorTypeUser,
		ActorID:        "user-1",
		RequestID:      "req-1",
		CorrelationID:  "corr-1",
		CausationID:    "cause-1",
	}
	evt := NewEvent(cmd, event.Type("conversation.paused"), "conversation", "conv-1", []byte(`{}`), now)
	if evt.ConversationID != "conv-1" || evt.ActorType != event.ActorTypeUser || evt.ActorID != "user-1" {
		t.Fatalf("unexpected envelope: %+v", evt)
	}
	if evt.RequestID != "req-1" || evt.CorrelationID != "corr-1" || evt.CausationID != "cause-1" {
		t.Fatalf("unexpected tracing ids: %+v", evt)
	}
	if !evt.Timestamp.Equal(now) {
		t.Fatalf("Timestamp = %v, want %v", evt.Timestamp, now)
	}
}

func TestDecisionHelpers(t *testing.T) {
	accepted := Accept()
	if accepted.Rejected() || len(accepted.Events) != 0 {
		t.Fatalf("expected empty accepted decision, got %+v", accepted)
	}
	rejected := Reject(Rejection{Code: "X", Message: "no"})
	if !rejected.Rejected() {
		t.Fatal("expected rejected decision")
	}
}
