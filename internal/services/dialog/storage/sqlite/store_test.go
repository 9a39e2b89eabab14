package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/replay"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
	"github.com/louisbranch/dialog/internal/services/dialog/storage/storagetest"
)

func openTestEvents(t *testing.T) *EventStore {
	t.Helper()
	store, err := OpenEvents(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close events: %v", err)
		}
	})
	return store
}

func openTestProjections(t *testing.T) *ProjectionStore {
	t.Helper()
	store, err := OpenProjections(context.Background(), filepath.Join(t.TempDir(), "projections.db"))
	if err != nil {
		t.Fatalf("open projections: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close projections: %v", err)
		}
	})
	return store
}

func TestEventStoreContract(t *testing.T) {
	storagetest.RunEventStoreTests(t, func(t *testing.T) storage.EventStore {
		return openTestEvents(t)
	})
}

func TestProjectionStoreContract(t *testing.T) {
	storagetest.RunProjectionStoreTests(t, func(t *testing.T) storage.ProjectionStore {
		return openTestProjections(t)
	})
}

func TestCheckpointStoreContract(t *testing.T) {
	storagetest.RunCheckpointStoreTests(t, func(t *testing.T) storage.CheckpointStore {
		return openTestProjections(t).Checkpoints("projection")
	})
}

func TestEventsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	store, err := OpenEvents(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.AppendEvents(ctx, "c1", 0, []event.Event{
		storagetest.NewEvent("c1", "a", 0),
		storagetest.NewEvent("c1", "b", time.Second),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenEvents(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	last, err := reopened.LastSeq(ctx, "c1")
	if err != nil || last != 2 {
		t.Fatalf("last seq after reopen = %d, %v", last, err)
	}
	appended, err := reopened.AppendEvents(ctx, "c1", 2, []event.Event{storagetest.NewEvent("c1", "c", 2*time.Second)})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	all, err := reopened.ListEvents(ctx, "c1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := event.VerifyChain(all, 0, ""); err != nil {
		t.Fatalf("chain broken across reopen: %v", err)
	}
	if appended[0].PrevHash != all[1].ChainHash {
		t.Fatalf("prev hash = %q, want %q", appended[0].PrevHash, all[1].ChainHash)
	}
}

func TestCheckpointsAreScopedByConsumer(t *testing.T) {
	ctx := context.Background()
	store := openTestProjections(t)
	first := store.Checkpoints("projection")
	second := store.Checkpoints("relay")

	if err := first.Save(ctx, replay.Checkpoint{ConversationID: "c1", LastSeq: 3, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := second.Get(ctx, "c1"); err != replay.ErrCheckpointNotFound {
		t.Fatalf("other consumer get = %v, want ErrCheckpointNotFound", err)
	}
}

func TestProjectionContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestProjections(t)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := storagetest.SampleRecord("c1", started, conversation.StatusEnded, "u1", "a1")
	ended := started.Add(time.Hour)
	rec.EndedAt = &ended
	rec.EndReason = "resolved"
	rec.Context = map[string]string{"topic": "trip", "budget": "low"}

	if err := store.SaveProjection(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Context["budget"] != "low" || got.EndReason != "resolved" {
		t.Fatalf("record = %+v", got)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Fatalf("ended at = %v", got.EndedAt)
	}
	if len(got.Participants) != 2 || got.Participants[0].ID != "u1" || got.Participants[1].ID != "a1" {
		t.Fatalf("participants = %+v", got.Participants)
	}
}
