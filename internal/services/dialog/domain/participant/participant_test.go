package participant

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRecordRoundTripPreservesVariant(t *testing.T) {
	agent := Agent{ID: "agent-1", DisplayName: "Planner", Specialization: "travel"}
	data, err := json.Marshal(ToRecord(agent))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"kind":"agent","id":"agent-1","display_name":"Planner","specialization":"travel"}` {
		t.Fatalf("record json = %s", data)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decoded, err := FromRecord(record)
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	got, ok := decoded.(Agent)
	if !ok {
		t.Fatalf("decoded %T, want Agent", decoded)
	}
	if got != agent {
		t.Fatalf("decoded = %+v, want %+v", got, agent)
	}
}

func TestFromRecordRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		record Record
	}{
		{name: "missing kind", record: Record{ID: "u1", DisplayName: "Ann"}},
		{name: "unknown kind", record: Record{Kind: "bot", ID: "u1", DisplayName: "Ann"}},
		{name: "missing id", record: Record{Kind: KindUser, ID: "  ", DisplayName: "Ann"}},
		{name: "missing name", record: Record{Kind: KindAgent, ID: "a1"}},
		{name: "user specialization", record: Record{Kind: KindUser, ID: "u1", DisplayName: "Ann", Specialization: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromRecord(tt.record); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestNormalizeTrims(t *testing.T) {
	p, err := Normalize(User{ID: " u1 ", DisplayName: " Ann "})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if p.ParticipantID() != "u1" || p.Name() != "Ann" || p.Kind() != KindUser {
		t.Fatalf("normalized = %+v", p)
	}
	if _, err := Normalize(nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for nil, got %v", err)
	}
}

func TestFromRecordsReportsIndex(t *testing.T) {
	_, err := FromRecords([]Record{
		{Kind: KindUser, ID: "u1", DisplayName: "Ann"},
		{Kind: KindAgent, ID: ""},
	})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
