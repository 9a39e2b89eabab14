package conversation

import (
	"github.com/louisbranch/dialog/internal/services/dialog/domain/message"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/participant"
)

// StartPayload captures the payload for conversation.start commands and
// conversation.started events.
type StartPayload struct {
	Participants []participant.Record `json:"participants"`
	Context      map[string]string    `json:"context,omitempty"`
}

// SendMessagePayload captures the payload for conversation.send_message
// commands and conversation.message_sent events.
type SendMessagePayload struct {
	Message message.Record `json:"message"`
}

// AddParticipantPayload captures the payload for conversation.add_participant
// commands and conversation.participant_added events.
type AddParticipantPayload struct {
	Participant participant.Record `json:"participant"`
}

// PausePayload captures the payload for conversation.pause commands and
// conversation.paused events.
type PausePayload struct {
	Reason string `json:"reason,omitempty"`
}

// ResumePayload captures the payload for conversation.resume commands and
// conversation.resumed events.
type ResumePayload struct{}

// EndPayload captures the payload for conversation.end commands and
// conversation.ended events.
type EndPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ContextMode selects how a context update combines with the current snapshot.
type ContextMode string

const (
	// ContextModeMerge overwrites the given keys and deletes the removed ones.
	ContextModeMerge ContextMode = "merge"
	// ContextModeReplace swaps the whole snapshot for the given values.
	ContextModeReplace ContextMode = "replace"
)

// UpdateContextPayload captures the payload for conversation.update_context
// commands and conversation.context_updated events.
type UpdateContextPayload struct {
	Mode   ContextMode       `json:"mode"`
	Values map[string]string `json:"values,omitempty"`
	Remove []string          `json:"remove,omitempty"`
}
