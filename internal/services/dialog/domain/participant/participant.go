// Package participant defines the two kinds of conversation members.
package participant

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid wraps every participant validation failure.
var ErrInvalid = errors.New("participant is invalid")

var validate = validator.New()

// Kind discriminates participant variants on the wire.
type Kind string

const (
	KindUser  Kind = "user"
	KindAgent Kind = "agent"
)

// Participant is a conversation member. The variant set is closed: User and
// Agent are the only implementations.
type Participant interface {
	ParticipantID() string
	Name() string
	Kind() Kind
	isParticipant()
}

// User is a human participant.
type User struct {
	ID          string
	DisplayName string
}

func (u User) ParticipantID() string { return u.ID }
func (u User) Name() string          { return u.DisplayName }
func (User) Kind() Kind              { return KindUser }
func (User) isParticipant()          {}

// Agent is an automated participant.
type Agent struct {
	ID             string
	DisplayName    string
	Specialization string
}

func (a Agent) ParticipantID() string { return a.ID }
func (a Agent) Name() string          { return a.DisplayName }
func (Agent) Kind() Kind              { return KindAgent }
func (Agent) isParticipant()          {}

// Record is the serialized form stored in event payloads.
type Record struct {
	Kind           Kind   `json:"kind" validate:"required,oneof=user agent"`
	ID             string `json:"id" validate:"required,max=128"`
	DisplayName    string `json:"display_name" validate:"required,max=256"`
	Specialization string `json:"specialization,omitempty" validate:"max=256"`
}

// ToRecord converts a participant to its serialized form.
func ToRecord(p Participant) Record {
	switch v := p.(type) {
	case User:
		return Record{Kind: KindUser, ID: v.ID, DisplayName: v.DisplayName}
	case Agent:
		return Record{Kind: KindAgent, ID: v.ID, DisplayName: v.DisplayName, Specialization: v.Specialization}
	default:
		return Record{}
	}
}

// FromRecord validates a record and returns the matching variant.
func FromRecord(r Record) (Participant, error) {
	r = r.normalized()
	if err := validate.Struct(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch r.Kind {
	case KindUser:
		if r.Specialization != "" {
			return nil, fmt.Errorf("%w: users have no specialization", ErrInvalid)
		}
		return User{ID: r.ID, DisplayName: r.DisplayName}, nil
	case KindAgent:
		return Agent{ID: r.ID, DisplayName: r.DisplayName, Specialization: r.Specialization}, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalid, r.Kind)
	}
}

// Normalize trims and validates p.
func Normalize(p Participant) (Participant, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: participant is required", ErrInvalid)
	}
	return FromRecord(ToRecord(p))
}

// ToRecords converts participants in order.
func ToRecords(participants []Participant) []Record {
	records := make([]Record, 0, len(participants))
	for _, p := range participants {
		records = append(records, ToRecord(p))
	}
	return records
}

// FromRecords converts records in order, stopping at the first invalid one.
func FromRecords(records []Record) ([]Participant, error) {
	participants := make([]Participant, 0, len(records))
	for i, r := range records {
		p, err := FromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("participant %d: %w", i, err)
		}
		participants = append(participants, p)
	}
	return participants, nil
}

func (r Record) normalized() Record {
	r.Kind = Kind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
	r.ID = strings.TrimSpace(r.ID)
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	r.Specialization = strings.TrimSpace(r.Specialization)
	return r
}
