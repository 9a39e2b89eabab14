package conversation

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/command"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/message"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/participant"
)

// Intent is a typed conversation command. The set of implementations is
// closed; Encode turns any of them into a command envelope.
type Intent interface {
	Target() string
	commandType() command.Type
	payload() any
}

// StartConversation opens a new conversation.
type StartConversation struct {
	ConversationID string
	Participants   []participant.Participant
	Context        map[string]string
}

// SendMessage appends a message on behalf of a participant.
type SendMessage struct {
	ConversationID string
	Message        message.Message
}

// AddParticipant adds a member; adding an existing id is a no-op.
type AddParticipant struct {
	ConversationID string
	Participant    participant.Participant
}

// PauseConversation suspends an active conversation.
type PauseConversation struct {
	ConversationID string
	Reason         string
}

// ResumeConversation reactivates a paused conversation.
type ResumeConversation struct {
	ConversationID string
}

// EndConversation terminates a conversation.
type EndConversation struct {
	ConversationID string
	Reason         string
}

// UpdateContext changes the context snapshot.
type UpdateContext struct {
	ConversationID string
	Mode           ContextMode
	Values         map[string]string
	Remove         []string
}

func (c StartConversation) Target() string  { return c.ConversationID }
func (c SendMessage) Target() string        { return c.ConversationID }
func (c AddParticipant) Target() string     { return c.ConversationID }
func (c PauseConversation) Target() string  { return c.ConversationID }
func (c ResumeConversation) Target() string { return c.ConversationID }
func (c EndConversation) Target() string    { return c.ConversationID }
func (c UpdateContext) Target() string      { return c.ConversationID }

func (StartConversation) commandType() command.Type  { return CommandTypeStart }
func (SendMessage) commandType() command.Type        { return CommandTypeSendMessage }
func (AddParticipant) commandType() command.Type     { return CommandTypeAddParticipant }
func (PauseConversation) commandType() command.Type  { return CommandTypePause }
func (ResumeConversation) commandType() command.Type { return CommandTypeResume }
func (EndConversation) commandType() command.Type    { return CommandTypeEnd }
func (UpdateContext) commandType() command.Type      { return CommandTypeUpdateContext }

func (c StartConversation) payload() any {
	return StartPayload{
		Participants: participant.ToRecords(c.Participants),
		Context:      maps.Clone(c.Context),
	}
}

func (c SendMessage) payload() any {
	return SendMessagePayload{Message: message.ToRecord(c.Message)}
}

func (c AddParticipant) payload() any {
	return AddParticipantPayload{Participant: participant.ToRecord(c.Participant)}
}

func (c PauseConversation) payload() any  { return PausePayload{Reason: c.Reason} }
func (ResumeConversation) payload() any   { return ResumePayload{} }
func (c EndConversation) payload() any    { return EndPayload{Reason: c.Reason} }
func (c UpdateContext) payload() any {
	return UpdateContextPayload{Mode: c.Mode, Values: maps.Clone(c.Values), Remove: slices.Clone(c.Remove)}
}

// Actor identifies the already-authenticated caller.
type Actor struct {
	Type command.ActorType
	ID   string
}

// Meta carries optional tracing identifiers copied onto emitted events.
type Meta struct {
	RequestID     string
	CorrelationID string
	CausationID   string
}

// Encode converts a typed command into the envelope the engine handles.
func Encode(intent Intent, actor Actor, meta Meta) (command.Command, error) {
	if intent == nil {
		return command.Command{}, fmt.Errorf("command is required")
	}
	payloadJSON, err := json.Marshal(intent.payload())
	if err != nil {
		return command.Command{}, fmt.Errorf("encode %s payload: %w", intent.commandType(), err)
	}
	return command.Command{
		ConversationID: intent.Target(),
		Type:           intent.commandType(),
		ActorType:      actor.Type,
		ActorID:        actor.ID,
		RequestID:      meta.RequestID,
		CorrelationID:  meta.CorrelationID,
		CausationID:    meta.CausationID,
		PayloadJSON:    payloadJSON,
	}, nil
}
