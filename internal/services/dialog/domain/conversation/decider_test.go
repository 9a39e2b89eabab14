package conversation

import (
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/louisbranch/dialog/internal/platform/errors"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/command"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/message"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/participant"
)

var (
	testUser  = participant.User{ID: "u1", DisplayName: "Ann"}
	testAgent = participant.Agent{ID: "a1", DisplayName: "Planner", Specialization: "travel"}
	baseTime  = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
)

func clockAt(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func mustEncode(t *testing.T, intent Intent) command.Command {
	t.Helper()
	cmd, err := Encode(intent, Actor{Type: command.ActorTypeUser, ID: "u1"}, Meta{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("encode %T: %v", intent, err)
	}
	return cmd
}

func textMessage(id, sender, body string) message.Message {
	return message.Message{ID: id, SenderID: sender, Content: message.Text{Body: body}}
}

// decideAndFold runs a command and folds the resulting events, assigning
// sequence numbers the way a store would.
func decideAndFold(t *testing.T, policy Policy, state State, intent Intent, at time.Time) (State, command.Decision) {
	t.Helper()
	decision := Decide(policy, state, mustEncode(t, intent), clockAt(at))
	for _, evt := range decision.Events {
		evt.Seq = state.LastSeq + 1
		state = Fold(state, evt)
	}
	return state, decision
}

func startedState(t *testing.T) State {
	t.Helper()
	state, decision := decideAndFold(t, DefaultPolicy(), State{}, StartConversation{
		ConversationID: "c1",
		Participants:   []participant.Participant{testUser, testAgent},
		Context:        map[string]string{"topic": "trip"},
	}, baseTime)
	if decision.Rejected() {
		t.Fatalf("start rejected: %+v", decision.Rejections)
	}
	return state
}

func requireRejection(t *testing.T, decision command.Decision, code string) {
	t.Helper()
	if len(decision.Rejections) == 0 {
		t.Fatalf("expected rejection %s, got events %+v", code, decision.Events)
	}
	if decision.Rejections[0].Code != code {
		t.Fatalf("rejection = %s (%s), want %s", decision.Rejections[0].Code, decision.Rejections[0].Message, code)
	}
	if len(decision.Events) != 0 {
		t.Fatalf("rejected decision carried %d events", len(decision.Events))
	}
}

func TestDecideStartConversation(t *testing.T) {
	state := startedState(t)
	if !state.Started || state.Status != StatusActive {
		t.Fatalf("state = %+v", state)
	}
	if state.LastSeq != 1 {
		t.Fatalf("LastSeq = %d, want 1", state.LastSeq)
	}
	if len(state.Participants) != 2 || state.Participants[0].ParticipantID() != "u1" {
		t.Fatalf("participants = %+v", state.Participants)
	}
	if state.Context["topic"] != "trip" {
		t.Fatalf("context = %+v", state.Context)
	}
	if !state.StartedAt.Equal(baseTime) {
		t.Fatalf("StartedAt = %v, want %v", state.StartedAt, baseTime)
	}
}

func TestDecideStartRejections(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		intent StartConversation
		code   string
	}{
		{name: "no participants", policy: DefaultPolicy(), intent: StartConversation{ConversationID: "c1"}, code: RejectionCodeParticipantsRequired},
		{name: "no user", policy: DefaultPolicy(), intent: StartConversation{ConversationID: "c1", Participants: []participant.Participant{testAgent}}, code: RejectionCodeUserRequired},
		{name: "agent required", policy: Policy{RequireUser: true, RequireAgent: true}, intent: StartConversation{ConversationID: "c1", Participants: []participant.Participant{testUser}}, code: RejectionCodeAgentRequired},
		{name: "duplicate", policy: DefaultPolicy(), intent: StartConversation{ConversationID: "c1", Participants: []participant.Participant{testUser, testUser}}, code: RejectionCodeParticipantDuplicate},
		{name: "invalid participant", policy: DefaultPolicy(), intent: StartConversation{ConversationID: "c1", Participants: []participant.Participant{participant.User{ID: "u1"}}}, code: RejectionCodeParticipantInvalid},
		{name: "limit", policy: Policy{MaxParticipants: 1}, intent: StartConversation{ConversationID: "c1", Participants: []participant.Participant{testUser, testAgent}}, code: RejectionCodeParticipantLimit},
		{name: "blank context key", policy: DefaultPolicy(), intent: StartConversation{ConversationID: "c1", Participants: []participant.Participant{testUser}, Context: map[string]string{" ": "x"}}, code: RejectionCodeContextKeyEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, decision := decideAndFold(t, tt.policy, State{}, tt.intent, baseTime)
			requireRejection(t, decision, tt.code)
			if got := ErrorCode(tt.code); got != apperrors.CodeValidationFailed {
				t.Fatalf("ErrorCode(%s) = %s, want VALIDATION_FAILED", tt.code, got)
			}
		})
	}
}

func TestDecideStartTwiceIsInvalidTransition(t *testing.T) {
	state := startedState(t)
	_, decision := decideAndFold(t, DefaultPolicy(), state, StartConversation{
		ConversationID: "c1",
		Participants:   []participant.Participant{testUser},
	}, baseTime)
	requireRejection(t, decision, RejectionCodeAlreadyStarted)
	if ErrorCode(RejectionCodeAlreadyStarted) != apperrors.CodeInvalidTransition {
		t.Fatal("expected already started to map to INVALID_TRANSITION")
	}
}

func TestDecideOnMissingConversation(t *testing.T) {
	intents := []Intent{
		SendMessage{ConversationID: "c1", Message: textMessage("m1", "u1", "hi")},
		AddParticipant{ConversationID: "c1", Participant: testAgent},
		PauseConversation{ConversationID: "c1"},
		ResumeConversation{ConversationID: "c1"},
		EndConversation{ConversationID: "c1"},
		UpdateContext{ConversationID: "c1", Values: map[string]string{"a": "b"}},
	}
	for _, intent := range intents {
		_, decision := decideAndFold(t, DefaultPolicy(), State{}, intent, baseTime)
		requireRejection(t, decision, RejectionCodeNotFound)
	}
	if ErrorCode(RejectionCodeNotFound) != apperrors.CodeConversationNotFound {
		t.Fatal("expected not found mapping")
	}
}

func TestStateTransitionTable(t *testing.T) {
	active := startedState(t)
	paused, decision := decideAndFold(t, DefaultPolicy(), active, PauseConversation{ConversationID: "c1", Reason: "lunch"}, baseTime.Add(time.Minute))
	if decision.Rejected() || paused.Status != StatusPaused || paused.PauseReason != "lunch" {
		t.Fatalf("pause: state=%+v decision=%+v", paused, decision)
	}
	ended, decision := decideAndFold(t, DefaultPolicy(), paused, EndConversation{ConversationID: "c1", Reason: "done"}, baseTime.Add(2*time.Minute))
	if decision.Rejected() || ended.Status != StatusEnded || ended.EndReason != "done" {
		t.Fatalf("end: state=%+v decision=%+v", ended, decision)
	}

	tests := []struct {
		name   string
		state  State
		intent Intent
		code   string
	}{
		{name: "active resume", state: active, intent: ResumeConversation{ConversationID: "c1"}, code: RejectionCodeNotPaused},
		{name: "paused pause", state: paused, intent: PauseConversation{ConversationID: "c1"}, code: RejectionCodeNotActive},
		{name: "paused send", state: paused, intent: SendMessage{ConversationID: "c1", Message: textMessage("m1", "u1", "hi")}, code: RejectionCodeNotActive},
		{name: "paused context", state: paused, intent: UpdateContext{ConversationID: "c1", Values: map[string]string{"a": "b"}}, code: RejectionCodeNotActive},
		{name: "paused add new", state: paused, intent: AddParticipant{ConversationID: "c1", Participant: participant.User{ID: "u2", DisplayName: "Bo"}}, code: RejectionCodeNotActive},
		{name: "ended send", state: ended, intent: SendMessage{ConversationID: "c1", Message: textMessage("m1", "u1", "hi")}, code: RejectionCodeEnded},
		{name: "ended add", state: ended, intent: AddParticipant{ConversationID: "c1", Participant: testUser}, code: RejectionCodeEnded},
		{name: "ended pause", state: ended, intent: PauseConversation{ConversationID: "c1"}, code: RejectionCodeEnded},
		{name: "ended resume", state: ended, intent: ResumeConversation{ConversationID: "c1"}, code: RejectionCodeEnded},
		{name: "ended end", state: ended, intent: EndConversation{ConversationID: "c1"}, code: RejectionCodeEnded},
		{name: "ended context", state: ended, intent: UpdateContext{ConversationID: "c1", Values: map[string]string{"a": "b"}}, code: RejectionCodeEnded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, decision := decideAndFold(t, DefaultPolicy(), tt.state, tt.intent, baseTime.Add(time.Hour))
			requireRejection(t, decision, tt.code)
			if ErrorCode(tt.code) != apperrors.CodeInvalidTransition {
				t.Fatalf("ErrorCode(%s) = %s, want INVALID_TRANSITION", tt.code, ErrorCode(tt.code))
			}
		})
	}

	resumed, decision := decideAndFold(t, DefaultPolicy(), paused, ResumeConversation{ConversationID: "c1"}, baseTime.Add(3*time.Minute))
	if decision.Rejected() || resumed.Status != StatusActive || resumed.PauseReason != "" {
		t.Fatalf("resume: state=%+v decision=%+v", resumed, decision)
	}
}

func TestUnknownSenderRejectedInEveryState(t *testing.T) {
	active := startedState(t)
	paused, _ := decideAndFold(t, DefaultPolicy(), active, PauseConversation{ConversationID: "c1"}, baseTime)
	ended, _ := decideAndFold(t, DefaultPolicy(), active, EndConversation{ConversationID: "c1"}, baseTime)
	for _, state := range []State{active, paused, ended} {
		_, decision := decideAndFold(t, DefaultPolicy(), state, SendMessage{
			ConversationID: "c1",
			Message:        textMessage("m1", "stranger", "hi"),
		}, baseTime)
		requireRejection(t, decision, RejectionCodeUnknownParticipant)
	}
	if ErrorCode(RejectionCodeUnknownParticipant) != apperrors.CodeUnknownParticipant {
		t.Fatal("expected unknown participant mapping")
	}
}

func TestSendMessageValidation(t *testing.T) {
	state := startedState(t)
	tests := []struct {
		name string
		msg  message.Message
		code string
	}{
		{name: "empty body", msg: textMessage("m1", "u1", "   "), code: RejectionCodeMessageBodyEmpty},
		{name: "missing id", msg: textMessage("", "u1", "hi"), code: RejectionCodeMessageIDRequired},
		{name: "no content", msg: message.Message{ID: "m1", SenderID: "u1"}, code: RejectionCodeMessageInvalid},
		{name: "bad structured", msg: message.Message{ID: "m1", SenderID: "a1", Content: message.Structured{FormatType: "card"}}, code: RejectionCodeMessageInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, decision := decideAndFold(t, DefaultPolicy(), state, SendMessage{ConversationID: "c1", Message: tt.msg}, baseTime)
			requireRejection(t, decision, tt.code)
		})
	}

	state, decision := decideAndFold(t, DefaultPolicy(), state, SendMessage{ConversationID: "c1", Message: textMessage("m1", "u1", "hi")}, baseTime)
	if decision.Rejected() {
		t.Fatalf("send rejected: %+v", decision.Rejections)
	}
	_, decision = decideAndFold(t, DefaultPolicy(), state, SendMessage{ConversationID: "c1", Message: textMessage("m1", "a1", "again")}, baseTime)
	requireRejection(t, decision, RejectionCodeMessageIDDuplicate)
}

func TestSendMessageEmitsAddressedEvent(t *testing.T) {
	state := startedState(t)
	_, decision := decideAndFold(t, DefaultPolicy(), state, SendMessage{
		ConversationID: "c1",
		Message: message.Message{
			ID:          "m1",
			SenderID:    "a1",
			Content:     message.Structured{FormatType: "itinerary", Payload: json.RawMessage(`{"days":2}`)},
			Attachments: []message.Attachment{{ObjectID: "obj-1", MediaType: "application/pdf"}},
		},
	}, baseTime.Add(time.Minute))
	if len(decision.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(decision.Events))
	}
	evt := decision.Events[0]
	if evt.Type != EventTypeMessageSent || evt.EntityType != "message" || evt.EntityID != "m1" {
		t.Fatalf("event = %+v", evt)
	}
	if evt.ActorType != event.ActorTypeUser || evt.ActorID != "u1" || evt.RequestID != "req-1" {
		t.Fatalf("envelope = %+v", evt)
	}
	var payload SendMessagePayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Message.Kind != message.ContentKindStructured || payload.Message.FormatType != "itinerary" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestMessageTimestampsNeverDecrease(t *testing.T) {
	state := startedState(t)
	state, _ = decideAndFold(t, DefaultPolicy(), state, SendMessage{ConversationID: "c1", Message: textMessage("m1", "u1", "first")}, baseTime.Add(time.Hour))
	// Clock skew: the second command observes an earlier time.
	_, decision := decideAndFold(t, DefaultPolicy(), state, SendMessage{ConversationID: "c1", Message: textMessage("m2", "a1", "second")}, baseTime.Add(time.Minute))
	if decision.Rejected() {
		t.Fatalf("send rejected: %+v", decision.Rejections)
	}
	if got := decision.Events[0].Timestamp; got.Before(baseTime.Add(time.Hour)) {
		t.Fatalf("timestamp %v moved backwards", got)
	}
}

func TestAddParticipantIsIdempotent(t *testing.T) {
	state := startedState(t)
	next, decision := decideAndFold(t, DefaultPolicy(), state, AddParticipant{ConversationID: "c1", Participant: testAgent}, baseTime)
	if decision.Rejected() || len(decision.Events) != 0 {
		t.Fatalf("expected accepted no-op, got %+v", decision)
	}
	if len(next.Participants) != len(state.Participants) || next.LastSeq != state.LastSeq {
		t.Fatalf("state changed: %+v", next)
	}

	paused, _ := decideAndFold(t, DefaultPolicy(), state, PauseConversation{ConversationID: "c1"}, baseTime)
	_, decision = decideAndFold(t, DefaultPolicy(), paused, AddParticipant{ConversationID: "c1", Participant: testUser}, baseTime)
	if decision.Rejected() || len(decision.Events) != 0 {
		t.Fatalf("expected accepted no-op while paused, got %+v", decision)
	}
}

func TestAddParticipantAppendsInJoinOrder(t *testing.T) {
	state := startedState(t)
	newcomer := participant.User{ID: "u2", DisplayName: "Bo"}
	state, decision := decideAndFold(t, DefaultPolicy(), state, AddParticipant{ConversationID: "c1", Participant: newcomer}, baseTime)
	if len(decision.Events) != 1 || decision.Events[0].EntityID != "u2" {
		t.Fatalf("decision = %+v", decision)
	}
	if len(state.Participants) != 3 || state.Participants[2].ParticipantID() != "u2" {
		t.Fatalf("participants = %+v", state.Participants)
	}

	_, decision = decideAndFold(t, Policy{MaxParticipants: 3}, state, AddParticipant{ConversationID: "c1", Participant: participant.User{ID: "u3", DisplayName: "Cy"}}, baseTime)
	requireRejection(t, decision, RejectionCodeParticipantLimit)
}

func TestUpdateContextModes(t *testing.T) {
	state := startedState(t)
	state, decision := decideAndFold(t, DefaultPolicy(), state, UpdateContext{
		ConversationID: "c1",
		Values:         map[string]string{"budget": "low"},
	}, baseTime)
	if decision.Rejected() {
		t.Fatalf("merge rejected: %+v", decision.Rejections)
	}
	if state.Context["topic"] != "trip" || state.Context["budget"] != "low" {
		t.Fatalf("merged context = %+v", state.Context)
	}

	state, _ = decideAndFold(t, DefaultPolicy(), state, UpdateContext{ConversationID: "c1", Remove: []string{"topic"}}, baseTime)
	if _, ok := state.Context["topic"]; ok || state.Context["budget"] != "low" {
		t.Fatalf("context after removal = %+v", state.Context)
	}

	state, _ = decideAndFold(t, DefaultPolicy(), state, UpdateContext{ConversationID: "c1", Mode: ContextModeReplace, Values: map[string]string{"lang": "fr"}}, baseTime)
	if len(state.Context) != 1 || state.Context["lang"] != "fr" {
		t.Fatalf("replaced context = %+v", state.Context)
	}

	tests := []struct {
		name   string
		intent UpdateContext
		code   string
	}{
		{name: "empty merge", intent: UpdateContext{ConversationID: "c1"}, code: RejectionCodeContextUpdateEmpty},
		{name: "bad mode", intent: UpdateContext{ConversationID: "c1", Mode: "append", Values: map[string]string{"a": "b"}}, code: RejectionCodeContextModeInvalid},
		{name: "replace with removals", intent: UpdateContext{ConversationID: "c1", Mode: ContextModeReplace, Remove: []string{"a"}}, code: RejectionCodeContextModeInvalid},
		{name: "blank removal", intent: UpdateContext{ConversationID: "c1", Remove: []string{" "}}, code: RejectionCodeContextKeyEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, decision := decideAndFold(t, DefaultPolicy(), state, tt.intent, baseTime)
			requireRejection(t, decision, tt.code)
		})
	}
}

func TestDeciderAdapterRejectsForeignState(t *testing.T) {
	decision := Decider{Policy: DefaultPolicy()}.Decide("not a state", mustEncode(t, ResumeConversation{ConversationID: "c1"}), nil)
	requireRejection(t, decision, RejectionCodePayloadInvalid)
}
