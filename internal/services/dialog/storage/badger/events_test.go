package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
	"github.com/louisbranch/dialog/internal/services/dialog/storage/storagetest"
)

func TestEventStoreContract(t *testing.T) {
	storagetest.RunEventStoreTests(t, func(t *testing.T) storage.EventStore {
		store, err := OpenInMemory()
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func Test_Events_Survive_Reopen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(dir)
	req.NoError(err)
	_, err = store.AppendEvents(ctx, "c1", 0, []event.Event{
		storagetest.NewEvent("c1", "a", 0),
		storagetest.NewEvent("c1", "b", time.Second),
	})
	req.NoError(err)
	req.NoError(store.Close())

	reopened, err := Open(dir)
	req.NoError(err)
	defer reopened.Close()

	last, err := reopened.LastSeq(ctx, "c1")
	req.NoError(err)
	req.Equal(uint64(2), last)

	_, err = reopened.AppendEvents(ctx, "c1", 2, []event.Event{storagetest.NewEvent("c1", "c", 2*time.Second)})
	req.NoError(err)

	all, err := reopened.ListEvents(ctx, "c1", 0, 0)
	req.NoError(err)
	req.Len(all, 3)
	req.NoError(event.VerifyChain(all, 0, ""))
}

func Test_Prefix_Scan_Does_Not_Cross_Conversations(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store, err := OpenInMemory()
	req.NoError(err)
	defer store.Close()

	// "c1" is a prefix of "c10"; their logs must stay separate.
	for _, id := range []string{"c1", "c10"} {
		_, err := store.AppendEvents(ctx, id, 0, []event.Event{storagetest.NewEvent(id, "a", 0)})
		req.NoError(err)
	}

	events, err := store.ListEvents(ctx, "c1", 0, 0)
	req.NoError(err)
	req.Len(events, 1)
	req.Equal("c1", events[0].ConversationID)

	ids, err := store.ListConversationIDs(ctx)
	req.NoError(err)
	req.Equal([]string{"c1", "c10"}, ids)
}

func Test_Empty_Append_Leaves_Head(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store, err := OpenInMemory()
	req.NoError(err)
	defer store.Close()

	sealed, err := store.AppendEvents(ctx, "c1", 0, nil)
	req.NoError(err)
	req.Empty(sealed)

	ids, err := store.ListConversationIDs(ctx)
	req.NoError(err)
	req.Empty(ids)
}
