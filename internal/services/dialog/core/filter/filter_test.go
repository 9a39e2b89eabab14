package filter

import (
	"testing"
	"time"

	apperrors "github.com/louisbranch/dialog/internal/platform/errors"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
)

func TestParseConversationFilter_Empty(t *testing.T) {
	f, err := ParseConversationFilter(" ")
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	if f.Status != "" || f.ParticipantID != "" || !f.StartedAt.IsZero() || !f.LastActivityAt.IsZero() {
		t.Fatalf("expected empty filter, got %+v", f)
	}
}

func TestParseConversationFilter_StatusAndParticipant(t *testing.T) {
	f, err := ParseConversationFilter(`status = "ACTIVE" AND participant_id = "u1"`)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	if f.Status != conversation.StatusActive {
		t.Errorf("Status = %q", f.Status)
	}
	if f.ParticipantID != "u1" {
		t.Errorf("ParticipantID = %q", f.ParticipantID)
	}
}

func TestParseConversationFilter_TimeRanges(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		filter   string
		wantFrom time.Time
		wantTo   time.Time
	}{
		{"greater equal", `started_at >= timestamp("2025-01-01T00:00:00Z")`, ts, time.Time{}},
		{"greater", `started_at > timestamp("2025-01-01T00:00:00Z")`, ts.Add(time.Millisecond), time.Time{}},
		{"less", `started_at < timestamp("2025-01-01T00:00:00Z")`, time.Time{}, ts},
		{"less equal", `started_at <= timestamp("2025-01-01T00:00:00Z")`, time.Time{}, ts.Add(time.Millisecond)},
		{"equal", `started_at = timestamp("2025-01-01T00:00:00Z")`, ts, ts.Add(time.Millisecond)},
		{
			"intersection",
			`started_at >= timestamp("2024-12-01T00:00:00Z") AND started_at >= timestamp("2025-01-01T00:00:00Z") AND started_at < timestamp("2025-02-01T00:00:00Z")`,
			ts,
			ts.AddDate(0, 1, 0),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseConversationFilter(tt.filter)
			if err != nil {
				t.Fatalf("parse filter: %v", err)
			}
			if !f.StartedAt.From.Equal(tt.wantFrom) || !f.StartedAt.To.Equal(tt.wantTo) {
				t.Fatalf("range = %+v, want [%v, %v)", f.StartedAt, tt.wantFrom, tt.wantTo)
			}
			if !f.LastActivityAt.IsZero() {
				t.Fatalf("last activity range should be open, got %+v", f.LastActivityAt)
			}
		})
	}
}

func TestParseConversationFilter_LastActivity(t *testing.T) {
	f, err := ParseConversationFilter(`last_activity_at >= timestamp("2025-01-01T10:00:00.5Z")`)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	want := time.Date(2025, 1, 1, 10, 0, 0, 500*int(time.Millisecond), time.UTC)
	if !f.LastActivityAt.From.Equal(want) {
		t.Fatalf("From = %v, want %v", f.LastActivityAt.From, want)
	}
}

func TestParseConversationFilter_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		filter string
	}{
		{"unknown field", `topic = "trip"`},
		{"or", `status = "active" OR status = "paused"`},
		{"not equals", `status != "ended"`},
		{"ordering on status", `status > "active"`},
		{"unknown status", `status = "archived"`},
		{"conflicting status", `status = "active" AND status = "ended"`},
		{"bad timestamp", `started_at > timestamp("yesterday")`},
		{"syntax", `status = `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConversationFilter(tt.filter)
			if err == nil {
				t.Fatal("expected error")
			}
			if !apperrors.IsCode(err, apperrors.CodeInvalidFilter) {
				t.Fatalf("code = %s, want %s", apperrors.GetCode(err), apperrors.CodeInvalidFilter)
			}
		})
	}
}
