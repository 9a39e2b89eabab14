package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/command"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
)

const (
	CommandTypeStart          command.Type = "conversation.start"
	CommandTypeSendMessage    command.Type = "conversation.send_message"
	CommandTypeAddParticipant command.Type = "conversation.add_participant"
	CommandTypePause          command.Type = "conversation.pause"
	CommandTypeResume         command.Type = "conversation.resume"
	CommandTypeEnd            command.Type = "conversation.end"
	CommandTypeUpdateContext  command.Type = "conversation.update_context"

	EventTypeStarted          event.Type = "conversation.started"
	EventTypeMessageSent      event.Type = "conversation.message_sent"
	EventTypeParticipantAdded event.Type = "conversation.participant_added"
	EventTypePaused           event.Type = "conversation.paused"
	EventTypeResumed          event.Type = "conversation.resumed"
	EventTypeEnded            event.Type = "conversation.ended"
	EventTypeContextUpdated   event.Type = "conversation.context_updated"

	entityTypeMessage     = "message"
	entityTypeParticipant = "participant"
)

// RegisterCommands registers conversation commands with the shared registry.
func RegisterCommands(registry *command.Registry) error {
	if registry == nil {
		return errors.New("command registry is required")
	}
	definitions := []command.Definition{
		{Type: CommandTypeStart, ValidatePayload: decodeStrict[StartPayload]},
		{Type: CommandTypeSendMessage, ValidatePayload: decodeStrict[SendMessagePayload]},
		{Type: CommandTypeAddParticipant, ValidatePayload: decodeStrict[AddParticipantPayload]},
		{Type: CommandTypePause, ValidatePayload: decodeStrict[PausePayload]},
		{Type: CommandTypeResume, ValidatePayload: decodeStrict[ResumePayload]},
		{Type: CommandTypeEnd, ValidatePayload: decodeStrict[EndPayload]},
		{Type: CommandTypeUpdateContext, ValidatePayload: decodeStrict[UpdateContextPayload]},
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// EmittableEventTypes returns all event types the conversation decider can emit.
func EmittableEventTypes() []event.Type {
	return []event.Type{
		EventTypeStarted,
		EventTypeMessageSent,
		EventTypeParticipantAdded,
		EventTypePaused,
		EventTypeResumed,
		EventTypeEnded,
		EventTypeContextUpdated,
	}
}

// RegisterEvents registers conversation events with the shared registry.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	definitions := []event.Definition{
		{Type: EventTypeStarted, ValidatePayload: decodeStrict[StartPayload]},
		{Type: EventTypeMessageSent, Addressing: event.AddressingPolicyEntityTarget, ValidatePayload: decodeStrict[SendMessagePayload]},
		{Type: EventTypeParticipantAdded, Addressing: event.AddressingPolicyEntityTarget, ValidatePayload: decodeStrict[AddParticipantPayload]},
		{Type: EventTypePaused, ValidatePayload: decodeStrict[PausePayload]},
		{Type: EventTypeResumed, ValidatePayload: decodeStrict[ResumePayload]},
		{Type: EventTypeEnded, ValidatePayload: decodeStrict[EndPayload]},
		{Type: EventTypeContextUpdated, ValidatePayload: decodeStrict[UpdateContextPayload]},
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistries returns command and event registries with every conversation
// type registered.
func NewRegistries() (*command.Registry, *event.Registry, error) {
	commands := command.NewRegistry()
	if err := RegisterCommands(commands); err != nil {
		return nil, nil, fmt.Errorf("register commands: %w", err)
	}
	events := event.NewRegistry()
	if err := RegisterEvents(events); err != nil {
		return nil, nil, fmt.Errorf("register events: %w", err)
	}
	return commands, events, nil
}

func decodeStrict[T any](raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var payload T
	return dec.Decode(&payload)
}
