package history

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/sectionlock/internal/collab"
	"github.com/charlesng35/sectionlock/internal/database/testutil"
	"github.com/charlesng35/sectionlock/internal/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func TestStoreListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx,
		collab.LockEvent{DocumentID: "doc-1", SectionID: "intro", UserID: "user-a", Action: collab.ActionAcquired, At: base},
		collab.LockEvent{DocumentID: "doc-1", SectionID: "intro", UserID: "user-a", Action: collab.ActionReleased, HeldFor: 90 * time.Second, At: base.Add(90 * time.Second)},
		collab.LockEvent{DocumentID: "doc-2", SectionID: "methods", UserID: "user-b", Action: collab.ActionAcquired, At: base},
	))

	events, total, err := store.List(ctx, "doc-1", 10)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, events, 2)
	require.Equal(t, collab.ActionReleased, events[0].Action)
	require.Equal(t, json.Number("90000"), events[0].Details["held_for_ms"])
	require.Equal(t, collab.ActionAcquired, events[1].Action)
	require.Empty(t, events[1].Details)

	limited, total, err := store.List(ctx, "doc-1", 1)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, limited, 1)

	_, _, err = store.List(ctx, " ", 10)
	require.Error(t, err)
}

func TestStoreCleanupOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Save(ctx,
		collab.LockEvent{DocumentID: "doc-1", SectionID: "old", Action: collab.ActionAcquired, At: now.Add(-48 * time.Hour)},
		collab.LockEvent{DocumentID: "doc-1", SectionID: "new", Action: collab.ActionAcquired, At: now},
	))

	removed, err := store.CleanupOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	events, _, err := store.List(ctx, "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "new", events[0].SectionID)
}

func TestRecorderPersistsQueuedEventsOnClose(t *testing.T) {
	store := newTestStore(t)
	recorder, err := NewRecorder(store, WithBatchSize(2))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		recorder.Record(collab.LockEvent{
			DocumentID: "doc-1",
			SectionID:  "results",
			UserID:     "user-a",
			Action:     collab.ActionAcquired,
			At:         time.Now(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, recorder.Close(ctx))

	_, total, err := store.List(context.Background(), "doc-1", 0)
	require.NoError(t, err)
	require.EqualValues(t, 5, total)

	// Recording after close is dropped without panicking.
	recorder.Record(collab.LockEvent{DocumentID: "doc-1", SectionID: "late", Action: collab.ActionAcquired})
	require.NoError(t, recorder.Close(ctx))
}

func TestRecorderWiredIntoManager(t *testing.T) {
	store := newTestStore(t)
	recorder, err := NewRecorder(store)
	require.NoError(t, err)

	manager := collab.NewManager(collab.WithRecorder(recorder))
	peer := &silentPeer{id: "conn-a"}
	_, err = manager.Join("doc-1", peer, collab.Collaborator{ConnectionID: "conn-a", UserID: "user-a", DisplayName: "alice"})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = manager.RequestLock(ctx, "doc-1", "discussion", "conn-a")
	require.NoError(t, err)
	manager.Leave("doc-1", "conn-a")

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, recorder.Close(closeCtx))

	events, _, err := store.List(ctx, "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	actions := []string{events[0].Action, events[1].Action}
	require.ElementsMatch(t, []string{collab.ActionAcquired, collab.ActionDisconnected}, actions)
}

func TestNewStoreRequiresDB(t *testing.T) {
	_, err := NewStore(nil)
	require.Error(t, err)

	_, err = NewRecorder(nil)
	require.Error(t, err)
}

type silentPeer struct{ id string }

func (p *silentPeer) ConnectionID() string { return p.id }

func (p *silentPeer) Send(_ protocol.Message) bool { return true }

func (p *silentPeer) Close() {}
