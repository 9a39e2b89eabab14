package conversation

import (
	"maps"
	"slices"
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/participant"
)

// Status is the lifecycle status of a conversation.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

// State captures conversation facts derived from its events.
//
// Fold may update MessageIDs in place; callers that keep an earlier state
// around must Clone it first.
type State struct {
	Started        bool
	ConversationID string
	Status         Status
	// Participants are kept in join order.
	Participants   []participant.Participant
	Context        map[string]string
	MessageCount   int
	MessageIDs     map[string]struct{}
	LastSeq        uint64
	StartedAt      time.Time
	LastActivityAt time.Time
	EndedAt        time.Time
	EndReason      string
	PauseReason    string
}

// Participant looks up a participant by id.
func (s State) Participant(id string) (participant.Participant, bool) {
	for _, p := range s.Participants {
		if p.ParticipantID() == id {
			return p, true
		}
	}
	return nil, false
}

// HasParticipant reports whether id belongs to the conversation.
func (s State) HasParticipant(id string) bool {
	_, ok := s.Participant(id)
	return ok
}

// HasMessage reports whether a message with id has been accepted.
func (s State) HasMessage(id string) bool {
	_, ok := s.MessageIDs[id]
	return ok
}

// Clone returns a deep copy that shares no mutable memory with s.
func (s State) Clone() State {
	s.Participants = slices.Clone(s.Participants)
	s.Context = maps.Clone(s.Context)
	s.MessageIDs = maps.Clone(s.MessageIDs)
	return s
}
