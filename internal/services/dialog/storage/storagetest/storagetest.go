// Package storagetest holds contract tests shared by every storage engine.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/message"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/participant"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/replay"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewEvent builds an unsealed event for conversationID.
func NewEvent(conversationID string, eventType event.Type, offset time.Duration) event.Event {
	return event.Event{
		ConversationID: conversationID,
		Type:           eventType,
		ActorType:      event.ActorTypeSystem,
		Timestamp:      baseTime.Add(offset),
		PayloadJSON:    []byte(`{"n":1}`),
	}
}

// RunEventStoreTests exercises the EventStore contract against a fresh store
// built by open for every subtest.
func RunEventStoreTests(t *testing.T, open func(t *testing.T) storage.EventStore) {
	t.Helper()

	t.Run("append assigns contiguous sequence", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		first, err := store.AppendEvents(ctx, "c1", 0, []event.Event{NewEvent("c1", "a", 0)})
		if err != nil {
			t.Fatalf("append first: %v", err)
		}
		more, err := store.AppendEvents(ctx, "c1", 1, []event.Event{NewEvent("c1", "b", time.Second), NewEvent("c1", "c", 2*time.Second)})
		if err != nil {
			t.Fatalf("append batch: %v", err)
		}
		if first[0].Seq != 1 || more[0].Seq != 2 || more[1].Seq != 3 {
			t.Fatalf("seqs = %d, %d, %d", first[0].Seq, more[0].Seq, more[1].Seq)
		}
		last, err := store.LastSeq(ctx, "c1")
		if err != nil || last != 3 {
			t.Fatalf("last seq = %d, %v", last, err)
		}
		listed, err := store.ListEvents(ctx, "c1", 0, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(listed) != 3 {
			t.Fatalf("listed %d events, want 3", len(listed))
		}
		if err := event.VerifyChain(listed, 0, ""); err != nil {
			t.Fatalf("verify chain: %v", err)
		}
		if listed[1].Type != "b" || string(listed[1].PayloadJSON) != `{"n":1}` {
			t.Fatalf("event round trip = %+v", listed[1])
		}
		if !listed[2].Timestamp.Equal(baseTime.Add(2 * time.Second)) {
			t.Fatalf("timestamp = %v", listed[2].Timestamp)
		}
	})

	t.Run("list honors after and limit", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		events := make([]event.Event, 0, 5)
		for i := range 5 {
			events = append(events, NewEvent("c1", event.Type(fmt.Sprintf("e%d", i)), time.Duration(i)*time.Second))
		}
		if _, err := store.AppendEvents(ctx, "c1", 0, events); err != nil {
			t.Fatalf("append: %v", err)
		}
		page, err := store.ListEvents(ctx, "c1", 2, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page) != 2 || page[0].Seq != 3 || page[1].Seq != 4 {
			t.Fatalf("page = %+v", page)
		}
		empty, err := store.ListEvents(ctx, "missing", 0, 10)
		if err != nil || len(empty) != 0 {
			t.Fatalf("missing conversation = %v, %v", empty, err)
		}
	})

	t.Run("stale expected sequence conflicts", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		if _, err := store.AppendEvents(ctx, "c1", 0, []event.Event{NewEvent("c1", "a", 0)}); err != nil {
			t.Fatalf("append: %v", err)
		}
		_, err := store.AppendEvents(ctx, "c1", 0, []event.Event{NewEvent("c1", "b", 0), NewEvent("c1", "c", 0)})
		if !errors.Is(err, storage.ErrConcurrencyConflict) {
			t.Fatalf("error = %v, want conflict", err)
		}
		last, err := store.LastSeq(ctx, "c1")
		if err != nil || last != 1 {
			t.Fatalf("rejected batch was partially written: last=%d err=%v", last, err)
		}
	})

	t.Run("conversations are independent", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		for _, id := range []string{"c1", "c2"} {
			if _, err := store.AppendEvents(ctx, id, 0, []event.Event{NewEvent(id, "a", 0)}); err != nil {
				t.Fatalf("append %s: %v", id, err)
			}
		}
		ids, err := store.ListConversationIDs(ctx)
		if err != nil {
			t.Fatalf("list ids: %v", err)
		}
		slices.Sort(ids)
		if !slices.Equal(ids, []string{"c1", "c2"}) {
			t.Fatalf("ids = %v", ids)
		}
		if last, _ := store.LastSeq(ctx, "c3"); last != 0 {
			t.Fatalf("empty log head = %d", last)
		}
	})

	t.Run("concurrent appends never duplicate a sequence", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			conflicts int
		)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.AppendEvents(ctx, "c1", 0, []event.Event{NewEvent("c1", event.Type(fmt.Sprintf("w%d", i)), 0)})
				if errors.Is(err, storage.ErrConcurrencyConflict) {
					mu.Lock()
					conflicts++
					mu.Unlock()
					return
				}
				if err != nil {
					t.Errorf("append: %v", err)
				}
			}()
		}
		wg.Wait()
		if conflicts != writers-1 {
			t.Fatalf("conflicts = %d, want %d", conflicts, writers-1)
		}
		listed, err := store.ListEvents(ctx, "c1", 0, 0)
		if err != nil || len(listed) != 1 {
			t.Fatalf("listed = %d events, %v", len(listed), err)
		}
	})
}

// RunProjectionStoreTests exercises the ProjectionStore contract.
func RunProjectionStoreTests(t *testing.T, open func(t *testing.T) storage.ProjectionStore) {
	t.Helper()

	t.Run("save and get", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		rec := SampleRecord("c1", baseTime, conversation.StatusActive, "u1", "a1")
		rec.Context = map[string]string{"topic": "trip"}
		msg := SampleMessage("c1", 2, "m1", "u1")
		rec.MessageCount = 1
		rec.LastSeq = 2
		if err := store.SaveProjection(ctx, rec, msg); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := store.GetConversation(ctx, "c1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != conversation.StatusActive || got.LastSeq != 2 || got.MessageCount != 1 {
			t.Fatalf("record = %+v", got)
		}
		if len(got.Participants) != 2 || got.Participants[0].ID != "u1" || got.Participants[1].Kind != participant.KindAgent {
			t.Fatalf("participants = %+v", got.Participants)
		}
		if got.Context["topic"] != "trip" {
			t.Fatalf("context = %+v", got.Context)
		}
		if !got.StartedAt.Equal(baseTime) || got.EndedAt != nil {
			t.Fatalf("times = %v %v", got.StartedAt, got.EndedAt)
		}

		history, err := store.ListMessages(ctx, "c1", 0, 10)
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		if len(history) != 1 || history[0].Message.ID != "m1" || history[0].Message.Body != "hello" {
			t.Fatalf("history = %+v", history)
		}
		if history[0].SenderName != "Name u1" || history[0].SenderKind != participant.KindUser {
			t.Fatalf("sender = %+v", history[0])
		}
	})

	t.Run("missing conversation is not found", func(t *testing.T) {
		store := open(t)
		_, err := store.GetConversation(context.Background(), "missing")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("error = %v, want not found", err)
		}
	})

	t.Run("message rewrites are idempotent", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		rec := SampleRecord("c1", baseTime, conversation.StatusActive, "u1")
		msg := SampleMessage("c1", 2, "m1", "u1")
		for range 2 {
			if err := store.SaveProjection(ctx, rec, msg); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
		history, err := store.ListMessages(ctx, "c1", 0, 0)
		if err != nil || len(history) != 1 {
			t.Fatalf("history = %d entries, %v", len(history), err)
		}
	})

	t.Run("history pages in sequence order", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		rec := SampleRecord("c1", baseTime, conversation.StatusActive, "u1")
		for seq := uint64(2); seq <= 6; seq++ {
			if err := store.SaveProjection(ctx, rec, SampleMessage("c1", seq, fmt.Sprintf("m%d", seq), "u1")); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
		page, err := store.ListMessages(ctx, "c1", 3, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page) != 2 || page[0].Seq != 4 || page[1].Seq != 5 {
			t.Fatalf("page = %+v", page)
		}
	})

	t.Run("list filters and orders", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		seed := []storage.ConversationRecord{
			SampleRecord("c3", baseTime.Add(time.Hour), conversation.StatusEnded, "u1"),
			SampleRecord("c1", baseTime, conversation.StatusActive, "u1", "a1"),
			SampleRecord("c2", baseTime, conversation.StatusPaused, "u2"),
			SampleRecord("c4", baseTime.Add(2*time.Hour), conversation.StatusActive, "u2"),
		}
		for _, rec := range seed {
			if err := store.SaveProjection(ctx, rec); err != nil {
				t.Fatalf("save %s: %v", rec.ID, err)
			}
		}

		all, err := store.ListConversations(ctx, storage.ConversationQuery{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if got := ids(all); !slices.Equal(got, []string{"c1", "c2", "c3", "c4"}) {
			t.Fatalf("order = %v", got)
		}

		active, err := store.ListConversations(ctx, storage.ConversationQuery{Filter: storage.ConversationFilter{Status: conversation.StatusActive}})
		if err != nil {
			t.Fatalf("list active: %v", err)
		}
		if got := ids(active); !slices.Equal(got, []string{"c1", "c4"}) {
			t.Fatalf("active = %v", got)
		}

		byParticipant, err := store.ListConversations(ctx, storage.ConversationQuery{Filter: storage.ConversationFilter{ParticipantID: "u2"}})
		if err != nil {
			t.Fatalf("list by participant: %v", err)
		}
		if got := ids(byParticipant); !slices.Equal(got, []string{"c2", "c4"}) {
			t.Fatalf("by participant = %v", got)
		}

		window, err := store.ListConversations(ctx, storage.ConversationQuery{Filter: storage.ConversationFilter{
			StartedAt: storage.TimeRange{From: baseTime.Add(time.Minute), To: baseTime.Add(2 * time.Hour)},
		}})
		if err != nil {
			t.Fatalf("list window: %v", err)
		}
		if got := ids(window); !slices.Equal(got, []string{"c3"}) {
			t.Fatalf("window = %v", got)
		}

		after := storage.KeyOf(seed[1])
		page, err := store.ListConversations(ctx, storage.ConversationQuery{After: &after, Limit: 2})
		if err != nil {
			t.Fatalf("list page: %v", err)
		}
		if got := ids(page); !slices.Equal(got, []string{"c2", "c3"}) {
			t.Fatalf("page after c1 = %v", got)
		}
	})

	t.Run("statistics", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		a := SampleRecord("c1", baseTime, conversation.StatusActive, "u1", "a1")
		a.MessageCount = 3
		b := SampleRecord("c2", baseTime, conversation.StatusEnded, "u1", "a2")
		b.MessageCount = 1
		for _, rec := range []storage.ConversationRecord{a, b} {
			if err := store.SaveProjection(ctx, rec); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
		stats, err := store.GetStatistics(ctx)
		if err != nil {
			t.Fatalf("statistics: %v", err)
		}
		if stats.Total != 2 || stats.TotalMessages != 4 || stats.DistinctParticipants != 3 {
			t.Fatalf("stats = %+v", stats)
		}
		if stats.ByStatus[conversation.StatusActive] != 1 || stats.ByStatus[conversation.StatusEnded] != 1 {
			t.Fatalf("by status = %+v", stats.ByStatus)
		}
	})

	t.Run("delete removes summary and history", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		rec := SampleRecord("c1", baseTime, conversation.StatusActive, "u1")
		if err := store.SaveProjection(ctx, rec, SampleMessage("c1", 2, "m1", "u1")); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := store.DeleteProjection(ctx, "c1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := store.GetConversation(ctx, "c1"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("get after delete = %v", err)
		}
		if history, _ := store.ListMessages(ctx, "c1", 0, 0); len(history) != 0 {
			t.Fatalf("history after delete = %+v", history)
		}
	})
}

// RunCheckpointStoreTests exercises the follower checkpoint contract.
func RunCheckpointStoreTests(t *testing.T, open func(t *testing.T) storage.CheckpointStore) {
	t.Helper()

	t.Run("save get delete", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		if _, err := store.Get(ctx, "c1"); err == nil {
			t.Fatal("expected missing checkpoint error")
		}
		if err := store.Save(ctx, checkpointAt("c1", 4)); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := store.Save(ctx, checkpointAt("c1", 5)); err != nil {
			t.Fatalf("save again: %v", err)
		}
		got, err := store.Get(ctx, "c1")
		if err != nil || got.LastSeq != 5 {
			t.Fatalf("checkpoint = %+v, %v", got, err)
		}
		if err := store.Delete(ctx, "c1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := store.Get(ctx, "c1"); err == nil {
			t.Fatal("expected checkpoint to be gone")
		}
	})
}

// SampleRecord builds a summary whose participants are users unless their id
// starts with "a".
func SampleRecord(id string, startedAt time.Time, status conversation.Status, participantIDs ...string) storage.ConversationRecord {
	rec := storage.ConversationRecord{
		ID:             id,
		Status:         status,
		StartedAt:      startedAt,
		LastActivityAt: startedAt,
		LastSeq:        1,
	}
	for _, pid := range participantIDs {
		kind := participant.KindUser
		if pid[0] == 'a' {
			kind = participant.KindAgent
		}
		rec.Participants = append(rec.Participants, storage.ParticipantRecord{
			ID:          pid,
			Kind:        kind,
			DisplayName: "Name " + pid,
			JoinedAt:    startedAt,
		})
	}
	if status == conversation.StatusEnded {
		endedAt := startedAt.Add(time.Minute)
		rec.EndedAt = &endedAt
		rec.LastActivityAt = endedAt
	}
	return rec
}

// SampleMessage builds a text history entry.
func SampleMessage(conversationID string, seq uint64, messageID, senderID string) storage.MessageRecord {
	return storage.MessageRecord{
		ConversationID: conversationID,
		Seq:            seq,
		SenderKind:     participant.KindUser,
		SenderName:     "Name " + senderID,
		Message: message.Record{
			ID:       messageID,
			SenderID: senderID,
			Kind:     message.ContentKindText,
			Body:     "hello",
		},
		Timestamp: baseTime.Add(time.Duration(seq) * time.Second),
	}
}

func checkpointAt(conversationID string, seq uint64) replay.Checkpoint {
	return replay.Checkpoint{ConversationID: conversationID, LastSeq: seq, UpdatedAt: baseTime}
}

func ids(records []storage.ConversationRecord) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.ID)
	}
	return out
}
