package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/louisbranch/dialog/internal/platform/errors"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/message"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/participant"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
	"github.com/louisbranch/dialog/internal/services/dialog/storage/memory"
)

var baseTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T, records ...storage.ConversationRecord) (*Service, *memory.ProjectionStore) {
	t.Helper()
	store := memory.NewProjectionStore()
	for _, rec := range records {
		if err := store.SaveProjection(context.Background(), rec); err != nil {
			t.Fatalf("save %s: %v", rec.ID, err)
		}
	}
	return NewService(store), store
}

func record(id string, status conversation.Status, startedMin int, participants ...string) storage.ConversationRecord {
	started := baseTime.Add(time.Duration(startedMin) * time.Minute)
	rec := storage.ConversationRecord{
		ID:             id,
		Status:         status,
		StartedAt:      started,
		LastActivityAt: started,
		LastSeq:        1,
	}
	for _, p := range participants {
		rec.Participants = append(rec.Participants, storage.ParticipantRecord{
			ID: p, Kind: participant.KindUser, DisplayName: p, JoinedAt: started,
		})
	}
	return rec
}

func TestGetConversation(t *testing.T) {
	svc, _ := newService(t, record("c1", conversation.StatusActive, 0, "u1", "a1"))

	view, found, err := svc.GetConversation(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected conversation to be found")
	}
	if view.Status != "active" || view.ParticipantCount != 2 {
		t.Fatalf("view = %+v", view)
	}

	_, found, err = svc.GetConversation(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if found {
		t.Fatal("expected missing conversation")
	}
}

func TestGetConversationRequiresID(t *testing.T) {
	svc, _ := newService(t)
	_, _, err := svc.GetConversation(context.Background(), "  ")
	if !apperrors.IsCode(err, apperrors.CodeValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListConversationsPagesInStartOrder(t *testing.T) {
	var records []storage.ConversationRecord
	for i := 5; i > 0; i-- {
		records = append(records, record(fmt.Sprintf("c%d", i), conversation.StatusActive, i))
	}
	svc, _ := newService(t, records...)

	var seen []string
	token := ""
	for page := 0; page < 5; page++ {
		resp, err := svc.ListConversations(context.Background(), ListRequest{PageSize: 2, PageToken: token})
		if err != nil {
			t.Fatalf("list page %d: %v", page, err)
		}
		for _, view := range resp.Conversations {
			seen = append(seen, view.ID)
		}
		token = resp.NextPageToken
		if token == "" {
			break
		}
	}
	want := []string{"c1", "c2", "c3", "c4", "c5"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
}

func TestListConversationsTiesBreakOnID(t *testing.T) {
	svc, _ := newService(t,
		record("b", conversation.StatusActive, 0),
		record("a", conversation.StatusActive, 0),
		record("c", conversation.StatusActive, 0),
	)
	first, err := svc.ListConversations(context.Background(), ListRequest{PageSize: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	second, err := svc.ListConversations(context.Background(), ListRequest{PageSize: 5, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatalf("list next: %v", err)
	}
	if first.Conversations[0].ID != "a" || len(second.Conversations) != 2 || second.Conversations[0].ID != "b" {
		t.Fatalf("unexpected pages: %+v %+v", first, second)
	}
	if second.NextPageToken != "" {
		t.Fatalf("expected last page, got token %q", second.NextPageToken)
	}
}

func TestListConversationsFilters(t *testing.T) {
	svc, _ := newService(t,
		record("c1", conversation.StatusActive, 0, "u1"),
		record("c2", conversation.StatusEnded, 10, "u1"),
		record("c3", conversation.StatusActive, 20, "u2"),
	)
	tests := []struct {
		filter string
		want   []string
	}{
		{"", []string{"c1", "c2", "c3"}},
		{`status = "active"`, []string{"c1", "c3"}},
		{`participant_id = "u1"`, []string{"c1", "c2"}},
		{`status = "active" AND participant_id = "u1"`, []string{"c1"}},
		{`started_at >= timestamp("2024-06-01T09:10:00Z")`, []string{"c2", "c3"}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			resp, err := svc.ListConversations(context.Background(), ListRequest{Filter: tt.filter})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			var ids []string
			for _, view := range resp.Conversations {
				ids = append(ids, view.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestListConversationsRejectsBadInput(t *testing.T) {
	svc, _ := newService(t,
		record("c1", conversation.StatusActive, 0),
		record("c2", conversation.StatusActive, 1),
	)

	_, err := svc.ListConversations(context.Background(), ListRequest{Filter: `status = `})
	if !apperrors.IsCode(err, apperrors.CodeInvalidFilter) {
		t.Fatalf("expected invalid filter, got %v", err)
	}

	_, err = svc.ListConversations(context.Background(), ListRequest{PageToken: "not-a-token"})
	if !apperrors.IsCode(err, apperrors.CodeInvalidPageToken) {
		t.Fatalf("expected invalid page token, got %v", err)
	}

	first, err := svc.ListConversations(context.Background(), ListRequest{PageSize: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	_, err = svc.ListConversations(context.Background(), ListRequest{
		Filter:    `status = "active"`,
		PageSize:  1,
		PageToken: first.NextPageToken,
	})
	if !apperrors.IsCode(err, apperrors.CodeInvalidPageToken) {
		t.Fatalf("expected token bound to filter, got %v", err)
	}
}

func TestGetHistoryPages(t *testing.T) {
	rec := record("c1", conversation.StatusActive, 0, "u1")
	svc, store := newService(t, rec)
	var messages []storage.MessageRecord
	for seq := uint64(2); seq <= 6; seq++ {
		messages = append(messages, storage.MessageRecord{
			ConversationID: "c1",
			Seq:            seq,
			SenderKind:     participant.KindUser,
			SenderName:     "u1",
			Message: message.Record{
				ID:       fmt.Sprintf("m%d", seq),
				SenderID: "u1",
				Kind:     message.ContentKindText,
				Body:     "hi",
			},
			Timestamp: baseTime.Add(time.Duration(seq) * time.Second),
		})
	}
	rec.LastSeq = 6
	rec.MessageCount = len(messages)
	if err := store.SaveProjection(context.Background(), rec, messages...); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, err := svc.GetHistory(context.Background(), HistoryRequest{ConversationID: "c1", PageSize: 3})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(first.Messages) != 3 || first.NextAfterSeq != 4 {
		t.Fatalf("first page = %+v", first)
	}
	rest, err := svc.GetHistory(context.Background(), HistoryRequest{ConversationID: "c1", AfterSeq: first.NextAfterSeq, PageSize: 3})
	if err != nil {
		t.Fatalf("history rest: %v", err)
	}
	if len(rest.Messages) != 2 || rest.NextAfterSeq != 0 || rest.Messages[0].ID != "m5" {
		t.Fatalf("rest page = %+v", rest)
	}
	if rest.Messages[0].SenderKind != "user" {
		t.Fatalf("sender kind = %q", rest.Messages[0].SenderKind)
	}
}

func TestGetHistoryUnknownConversation(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.GetHistory(context.Background(), HistoryRequest{ConversationID: "nope"})
	if !apperrors.IsCode(err, apperrors.CodeConversationNotFound) {
		t.Fatalf("expected conversation not found, got %v", err)
	}
}

func TestStatistics(t *testing.T) {
	c1 := record("c1", conversation.StatusActive, 0, "u1", "a1")
	c1.MessageCount = 4
	c2 := record("c2", conversation.StatusEnded, 1, "u1")
	c2.MessageCount = 2
	svc, _ := newService(t, c1, c2)

	stats, err := svc.Statistics(context.Background())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Total != 2 || stats.TotalMessages != 6 || stats.AverageMessages != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.ByStatus["active"] != 1 || stats.ByStatus["ended"] != 1 {
		t.Fatalf("by status = %v", stats.ByStatus)
	}
	if stats.DistinctParticipants != 2 {
		t.Fatalf("distinct participants = %d", stats.DistinctParticipants)
	}
}

func TestStatisticsEmpty(t *testing.T) {
	svc, _ := newService(t)
	stats, err := svc.Statistics(context.Background())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Total != 0 || stats.AverageMessages != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}
