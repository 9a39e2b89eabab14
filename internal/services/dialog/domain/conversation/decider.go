package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	apperrors "github.com/louisbranch/dialog/internal/platform/errors"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/command"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/message"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/participant"
)

const (
	RejectionCodeNotFound             = "CONVERSATION_NOT_FOUND"
	RejectionCodeAlreadyStarted       = "CONVERSATION_ALREADY_STARTED"
	RejectionCodeEnded                = "CONVERSATION_ENDED"
	RejectionCodeNotActive            = "CONVERSATION_NOT_ACTIVE"
	RejectionCodeNotPaused            = "CONVERSATION_NOT_PAUSED"
	RejectionCodeUnknownParticipant   = "UNKNOWN_PARTICIPANT"
	RejectionCodeParticipantsRequired = "PARTICIPANTS_REQUIRED"
	RejectionCodeParticipantInvalid   = "PARTICIPANT_INVALID"
	RejectionCodeParticipantDuplicate = "PARTICIPANT_DUPLICATE"
	RejectionCodeParticipantLimit     = "PARTICIPANT_LIMIT_REACHED"
	RejectionCodeUserRequired         = "USER_PARTICIPANT_REQUIRED"
	RejectionCodeAgentRequired        = "AGENT_PARTICIPANT_REQUIRED"
	RejectionCodeMessageIDRequired    = "MESSAGE_ID_REQUIRED"
	RejectionCodeMessageIDDuplicate   = "MESSAGE_ID_DUPLICATE"
	RejectionCodeMessageBodyEmpty     = "MESSAGE_BODY_EMPTY"
	RejectionCodeMessageInvalid       = "MESSAGE_INVALID"
	RejectionCodeContextKeyEmpty      = "CONTEXT_KEY_EMPTY"
	RejectionCodeContextUpdateEmpty   = "CONTEXT_UPDATE_EMPTY"
	RejectionCodeContextModeInvalid   = "CONTEXT_MODE_INVALID"
	RejectionCodeReasonTooLong        = "REASON_TOO_LONG"
	RejectionCodePayloadInvalid       = "PAYLOAD_INVALID"
	RejectionCodeCommandUnsupported   = "COMMAND_UNSUPPORTED"
)

// maxReasonLength caps pause and end reasons.
const maxReasonLength = 1024

// ErrorCode maps a rejection code to the error taxonomy callers see.
func ErrorCode(rejectionCode string) apperrors.Code {
	switch rejectionCode {
	case RejectionCodeNotFound:
		return apperrors.CodeConversationNotFound
	case RejectionCodeAlreadyStarted, RejectionCodeEnded, RejectionCodeNotActive, RejectionCodeNotPaused:
		return apperrors.CodeInvalidTransition
	case RejectionCodeUnknownParticipant:
		return apperrors.CodeUnknownParticipant
	default:
		return apperrors.CodeValidationFailed
	}
}

// Decider decides conversation commands under a membership policy.
type Decider struct {
	Policy Policy
}

// Decide satisfies the engine's state-agnostic decider contract.
func (d Decider) Decide(state any, cmd command.Command, now func() time.Time) command.Decision {
	current, err := AssertState(state)
	if err != nil {
		return command.Reject(command.Rejection{Code: RejectionCodePayloadInvalid, Message: err.Error()})
	}
	return Decide(d.Policy, current, cmd, now)
}

// Decide returns the decision for a conversation command against current state.
func Decide(policy Policy, state State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	// Accepted events never move backwards in time.
	at := now().UTC().Truncate(time.Millisecond)
	if at.Before(state.LastActivityAt) {
		at = state.LastActivityAt
	}

	if cmd.Type == CommandTypeStart {
		return decideStart(policy, state, cmd, at)
	}
	if !state.Started {
		return reject(RejectionCodeNotFound, "conversation %s does not exist", cmd.ConversationID)
	}

	switch cmd.Type {
	case CommandTypeSendMessage:
		return decideSendMessage(state, cmd, at)
	case CommandTypeAddParticipant:
		return decideAddParticipant(policy, state, cmd, at)
	case CommandTypePause:
		return decidePause(state, cmd, at)
	case CommandTypeResume:
		return decideResume(state, cmd, at)
	case CommandTypeEnd:
		return decideEnd(state, cmd, at)
	case CommandTypeUpdateContext:
		return decideUpdateContext(state, cmd, at)
	default:
		return reject(RejectionCodeCommandUnsupported, "command type %s is not supported", cmd.Type)
	}
}

func decideStart(policy Policy, state State, cmd command.Command, at time.Time) command.Decision {
	if state.Started {
		return reject(RejectionCodeAlreadyStarted, "conversation %s already exists", cmd.ConversationID)
	}
	var payload StartPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return reject(RejectionCodePayloadInvalid, "decode start payload: %v", err)
	}
	if len(payload.Participants) == 0 {
		return reject(RejectionCodeParticipantsRequired, "at least one participant is required")
	}
	participants, err := participant.FromRecords(payload.Participants)
	if err != nil {
		return reject(RejectionCodeParticipantInvalid, "%v", err)
	}
	seen := make(map[string]struct{}, len(participants))
	hasUser, hasAgent := false, false
	for _, p := range participants {
		if _, dup := seen[p.ParticipantID()]; dup {
			return reject(RejectionCodeParticipantDuplicate, "participant %s listed twice", p.ParticipantID())
		}
		seen[p.ParticipantID()] = struct{}{}
		switch p.Kind() {
		case participant.KindUser:
			hasUser = true
		case participant.KindAgent:
			hasAgent = true
		}
	}
	if policy.RequireUser && !hasUser {
		return reject(RejectionCodeUserRequired, "at least one user participant is required")
	}
	if policy.RequireAgent && !hasAgent {
		return reject(RejectionCodeAgentRequired, "at least one agent participant is required")
	}
	if policy.MaxParticipants > 0 && len(participants) > policy.MaxParticipants {
		return reject(RejectionCodeParticipantLimit, "conversation allows at most %d participants", policy.MaxParticipants)
	}
	contextValues, rejection, ok := normalizeContextValues(payload.Context)
	if !ok {
		return command.Reject(rejection)
	}

	normalized := StartPayload{
		Participants: participant.ToRecords(participants),
		Context:      contextValues,
	}
	return acceptPayload(cmd, EventTypeStarted, "", "", normalized, at)
}

func decideSendMessage(state State, cmd command.Command, at time.Time) command.Decision {
	var payload SendMessagePayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return reject(RejectionCodePayloadInvalid, "decode message payload: %v", err)
	}
	senderID := strings.TrimSpace(payload.Message.SenderID)
	if !state.HasParticipant(senderID) {
		return reject(RejectionCodeUnknownParticipant, "sender %q is not a participant of conversation %s", senderID, state.ConversationID)
	}
	if decision, blocked := requireActive(state); blocked {
		return decision
	}

	msg, err := message.FromRecord(payload.Message, at)
	if err == nil {
		msg, err = message.Normalize(msg)
	}
	if err != nil {
		return command.Reject(messageRejection(err))
	}
	if state.HasMessage(msg.ID) {
		return reject(RejectionCodeMessageIDDuplicate, "message %s already exists", msg.ID)
	}
	normalized := SendMessagePayload{Message: message.ToRecord(msg)}
	return acceptPayload(cmd, EventTypeMessageSent, entityTypeMessage, msg.ID, normalized, at)
}

func decideAddParticipant(policy Policy, state State, cmd command.Command, at time.Time) command.Decision {
	if state.Status == StatusEnded {
		return rejectEnded(state)
	}
	var payload AddParticipantPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return reject(RejectionCodePayloadInvalid, "decode participant payload: %v", err)
	}
	p, err := participant.FromRecord(payload.Participant)
	if err != nil {
		return reject(RejectionCodeParticipantInvalid, "%v", err)
	}
	if state.HasParticipant(p.ParticipantID()) {
		return command.Accept()
	}
	if decision, blocked := requireActive(state); blocked {
		return decision
	}
	if policy.MaxParticipants > 0 && len(state.Participants) >= policy.MaxParticipants {
		return reject(RejectionCodeParticipantLimit, "conversation allows at most %d participants", policy.MaxParticipants)
	}
	normalized := AddParticipantPayload{Participant: participant.ToRecord(p)}
	return acceptPayload(cmd, EventTypeParticipantAdded, entityTypeParticipant, p.ParticipantID(), normalized, at)
}

func decidePause(state State, cmd command.Command, at time.Time) command.Decision {
	if decision, blocked := requireActive(state); blocked {
		return decision
	}
	var payload PausePayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return reject(RejectionCodePayloadInvalid, "decode pause payload: %v", err)
	}
	reason, ok := normalizeReason(payload.Reason)
	if !ok {
		return reject(RejectionCodeReasonTooLong, "reason exceeds %d characters", maxReasonLength)
	}
	return acceptPayload(cmd, EventTypePaused, "", "", PausePayload{Reason: reason}, at)
}

func decideResume(state State, cmd command.Command, at time.Time) command.Decision {
	switch state.Status {
	case StatusEnded:
		return rejectEnded(state)
	case StatusActive:
		return reject(RejectionCodeNotPaused, "conversation %s is not paused", state.ConversationID)
	}
	return acceptPayload(cmd, EventTypeResumed, "", "", ResumePayload{}, at)
}

func decideEnd(state State, cmd command.Command, at time.Time) command.Decision {
	if state.Status == StatusEnded {
		return rejectEnded(state)
	}
	var payload EndPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return reject(RejectionCodePayloadInvalid, "decode end payload: %v", err)
	}
	reason, ok := normalizeReason(payload.Reason)
	if !ok {
		return reject(RejectionCodeReasonTooLong, "reason exceeds %d characters", maxReasonLength)
	}
	return acceptPayload(cmd, EventTypeEnded, "", "", EndPayload{Reason: reason}, at)
}

func decideUpdateContext(state State, cmd command.Command, at time.Time) command.Decision {
	if decision, blocked := requireActive(state); blocked {
		return decision
	}
	var payload UpdateContextPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return reject(RejectionCodePayloadInvalid, "decode context payload: %v", err)
	}
	mode := ContextMode(strings.ToLower(strings.TrimSpace(string(payload.Mode))))
	if mode == "" {
		mode = ContextModeMerge
	}
	values, rejection, ok := normalizeContextValues(payload.Values)
	if !ok {
		return command.Reject(rejection)
	}
	var remove []string
	for _, key := range payload.Remove {
		key = strings.TrimSpace(key)
		if key == "" {
			return reject(RejectionCodeContextKeyEmpty, "context keys must not be empty")
		}
		remove = append(remove, key)
	}
	slices.Sort(remove)
	remove = slices.Compact(remove)

	switch mode {
	case ContextModeMerge:
		if len(values) == 0 && len(remove) == 0 {
			return reject(RejectionCodeContextUpdateEmpty, "context update changes nothing")
		}
	case ContextModeReplace:
		if len(remove) > 0 {
			return reject(RejectionCodeContextModeInvalid, "replace mode does not take removals")
		}
	default:
		return reject(RejectionCodeContextModeInvalid, "context mode %q is invalid", payload.Mode)
	}
	normalized := UpdateContextPayload{Mode: mode, Values: values, Remove: remove}
	return acceptPayload(cmd, EventTypeContextUpdated, "", "", normalized, at)
}

// requireActive rejects commands that need an active conversation.
func requireActive(state State) (command.Decision, bool) {
	switch state.Status {
	case StatusActive:
		return command.Decision{}, false
	case StatusEnded:
		return rejectEnded(state), true
	default:
		return reject(RejectionCodeNotActive, "conversation %s is %s", state.ConversationID, state.Status), true
	}
}

func rejectEnded(state State) command.Decision {
	return reject(RejectionCodeEnded, "conversation %s has ended", state.ConversationID)
}

func normalizeContextValues(values map[string]string) (map[string]string, command.Rejection, bool) {
	if len(values) == 0 {
		return nil, command.Rejection{}, true
	}
	normalized := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, command.Rejection{Code: RejectionCodeContextKeyEmpty, Message: "context keys must not be empty"}, false
		}
		normalized[key] = value
	}
	return normalized, command.Rejection{}, true
}

func normalizeReason(reason string) (string, bool) {
	reason = strings.TrimSpace(reason)
	return reason, len([]rune(reason)) <= maxReasonLength
}

func messageRejection(err error) command.Rejection {
	code := RejectionCodeMessageInvalid
	switch {
	case errors.Is(err, message.ErrIDRequired):
		code = RejectionCodeMessageIDRequired
	case errors.Is(err, message.ErrBodyEmpty):
		code = RejectionCodeMessageBodyEmpty
	}
	return command.Rejection{Code: code, Message: err.Error()}
}

func acceptPayload(cmd command.Command, eventType event.Type, entityType, entityID string, payload any, at time.Time) command.Decision {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return reject(RejectionCodePayloadInvalid, "encode %s payload: %v", eventType, err)
	}
	return command.Accept(command.NewEvent(cmd, eventType, entityType, entityID, payloadJSON, at))
}

func reject(code, format string, args ...any) command.Decision {
	return command.Reject(command.Rejection{Code: code, Message: fmt.Sprintf(format, args...)})
}
