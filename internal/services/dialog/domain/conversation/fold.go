package conversation

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/participant"
)

// Fold applies an event to conversation state. Unknown event types and
// undecodable payloads leave the state unchanged apart from bookkeeping.
func Fold(state State, evt event.Event) State {
	switch evt.Type {
	case EventTypeStarted:
		var payload StartPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		participants, err := participant.FromRecords(payload.Participants)
		if err != nil {
			return state
		}
		state.Started = true
		state.ConversationID = evt.ConversationID
		state.Status = StatusActive
		state.Participants = participants
		state.Context = maps.Clone(payload.Context)
		state.MessageIDs = make(map[string]struct{})
		state.StartedAt = evt.Timestamp
	case EventTypeMessageSent:
		var payload SendMessagePayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		if state.MessageIDs == nil {
			state.MessageIDs = make(map[string]struct{})
		}
		state.MessageIDs[payload.Message.ID] = struct{}{}
		state.MessageCount++
	case EventTypeParticipantAdded:
		var payload AddParticipantPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		p, err := participant.FromRecord(payload.Participant)
		if err != nil || state.HasParticipant(p.ParticipantID()) {
			return state
		}
		state.Participants = append(slices.Clip(state.Participants), p)
	case EventTypePaused:
		var payload PausePayload
		_ = json.Unmarshal(evt.PayloadJSON, &payload)
		state.Status = StatusPaused
		state.PauseReason = payload.Reason
	case EventTypeResumed:
		state.Status = StatusActive
		state.PauseReason = ""
	case EventTypeEnded:
		var payload EndPayload
		_ = json.Unmarshal(evt.PayloadJSON, &payload)
		state.Status = StatusEnded
		state.EndReason = payload.Reason
		state.EndedAt = evt.Timestamp
	case EventTypeContextUpdated:
		var payload UpdateContextPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		state.Context = ApplyContextUpdate(state.Context, payload)
	default:
		return state
	}
	if evt.Seq > 0 {
		state.LastSeq = evt.Seq
	}
	if evt.Timestamp.After(state.LastActivityAt) {
		state.LastActivityAt = evt.Timestamp
	}
	return state
}

// ApplyContextUpdate returns the snapshot produced by applying update to
// current. current is never modified.
func ApplyContextUpdate(current map[string]string, update UpdateContextPayload) map[string]string {
	if update.Mode == ContextModeReplace {
		return maps.Clone(update.Values)
	}
	next := maps.Clone(current)
	if next == nil {
		next = make(map[string]string, len(update.Values))
	}
	for _, key := range update.Remove {
		delete(next, key)
	}
	maps.Copy(next, update.Values)
	if len(next) == 0 {
		return nil
	}
	return next
}

// AssertState converts an untyped engine state into State. A nil state is the
// empty conversation.
func AssertState(state any) (State, error) {
	switch v := state.(type) {
	case nil:
		return State{}, nil
	case State:
		return v, nil
	case *State:
		if v == nil {
			return State{}, nil
		}
		return *v, nil
	default:
		return State{}, fmt.Errorf("unexpected conversation state type %T", state)
	}
}

// Folder adapts Fold to the engine and replay applier contract.
type Folder struct{}

// Apply folds evt into an untyped conversation state.
func (Folder) Apply(state any, evt event.Event) (any, error) {
	current, err := AssertState(state)
	if err != nil {
		return State{}, err
	}
	return Fold(current, evt), nil
}
