package collab

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/sectionlock/internal/protocol"
)

func TestManager_LockScenario(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	a := mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	b := mustJoin(t, m, "doc-1", collaborator("conn-b", "user-b", "bob"))

	joined := a.ofType(protocol.TypeUserJoined)
	require.Len(t, joined, 1)
	require.Equal(t, "bob", joined[0].Username)

	list := b.ofType(protocol.TypeCollaboratorsList)
	require.Len(t, list, 1)
	require.Equal(t, "conn-b", list[0].ConnectionID)
	require.Len(t, list[0].Collaborators, 2)

	result, err := m.RequestLock(ctx, "doc-1", "methods", "conn-a")
	require.NoError(t, err)
	require.Equal(t, LockGranted, result.Outcome)

	locked := b.ofType(protocol.TypeSectionLocked)
	require.Len(t, locked, 1)
	require.Equal(t, "methods", locked[0].Section)
	require.Equal(t, "user-a", locked[0].UserID)
	require.Equal(t, "alice", locked[0].Username)

	result, err = m.RequestLock(ctx, "doc-1", "methods", "conn-b")
	require.ErrorIs(t, err, ErrSectionLocked)
	require.Equal(t, LockDenied, result.Outcome)
	require.Equal(t, "alice", result.Lock.HolderName)

	denials := b.ofType(protocol.TypeError)
	require.Len(t, denials, 1)
	require.Equal(t, protocol.CodeSectionLocked, denials[0].Code)
	require.Contains(t, denials[0].Message, "alice")
	require.Empty(t, a.ofType(protocol.TypeError), "denial must stay private to the requester")

	m.Leave("doc-1", "conn-a")

	unlocked := b.ofType(protocol.TypeSectionUnlocked)
	require.Len(t, unlocked, 1)
	require.Equal(t, "methods", unlocked[0].Section)
	require.Equal(t, protocol.ReasonDisconnected, unlocked[0].Reason)
	require.Len(t, b.ofType(protocol.TypeUserLeft), 1)

	result, err = m.RequestLock(ctx, "doc-1", "methods", "conn-b")
	require.NoError(t, err)
	require.Equal(t, LockGranted, result.Outcome)
}

func TestManager_AtMostOneHolderUnderContention(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	const contenders = 32
	for i := 0; i < contenders; i++ {
		mustJoin(t, m, "doc-race", collaborator(fmt.Sprintf("conn-%d", i), fmt.Sprintf("user-%d", i), fmt.Sprintf("user %d", i)))
	}

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
		denied  atomic.Int32
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := m.RequestLock(ctx, "doc-race", "discussion", fmt.Sprintf("conn-%d", i))
			switch {
			case err == nil && result.Outcome == LockGranted:
				granted.Add(1)
			case err != nil:
				denied.Add(1)
			}
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, granted.Load())
	require.EqualValues(t, contenders-1, denied.Load())

	snap, err := m.Snapshot(ctx, "doc-race")
	require.NoError(t, err)
	require.Len(t, snap.Locks, 1)
}

func TestManager_ReleaseOnDisconnectBroadcastsOncePerSection(t *testing.T) {
	ctx := context.Background()
	recorder := &recordingRecorder{}
	m := NewManager(WithRecorder(recorder))

	mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	b := mustJoin(t, m, "doc-1", collaborator("conn-b", "user-b", "bob"))

	for _, section := range []string{"intro", "methods", "results"} {
		_, err := m.RequestLock(ctx, "doc-1", section, "conn-a")
		require.NoError(t, err)
	}
	b.reset()

	m.Leave("doc-1", "conn-a")
	m.Leave("doc-1", "conn-a")

	unlocked := b.ofType(protocol.TypeSectionUnlocked)
	require.Len(t, unlocked, 3)
	require.Equal(t, []string{"intro", "methods", "results"}, []string{unlocked[0].Section, unlocked[1].Section, unlocked[2].Section})
	require.Len(t, b.ofType(protocol.TypeUserLeft), 1)

	require.Equal(t, []string{
		ActionAcquired, ActionAcquired, ActionAcquired,
		ActionDisconnected, ActionDisconnected, ActionDisconnected,
	}, recorder.actions())
}

func TestManager_ReleaseByNonHolderIsSilent(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	a := mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	b := mustJoin(t, m, "doc-1", collaborator("conn-b", "user-b", "bob"))

	_, err := m.RequestLock(ctx, "doc-1", "methods", "conn-a")
	require.NoError(t, err)
	a.reset()
	b.reset()

	released, err := m.ReleaseLock(ctx, "doc-1", "methods", "conn-b")
	require.NoError(t, err)
	require.False(t, released)

	released, err = m.ReleaseLock(ctx, "doc-1", "never-locked", "conn-b")
	require.NoError(t, err)
	require.False(t, released)

	require.Empty(t, a.all())
	require.Empty(t, b.all())

	released, err = m.ReleaseLock(ctx, "doc-1", "methods", "conn-a")
	require.NoError(t, err)
	require.True(t, released)
	require.Len(t, b.ofType(protocol.TypeSectionUnlocked), 1)
	require.Len(t, a.ofType(protocol.TypeSectionUnlocked), 1)
}

func TestManager_ReacquireIsIdempotentAndPrivate(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	a := mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	b := mustJoin(t, m, "doc-1", collaborator("conn-b", "user-b", "bob"))

	_, err := m.RequestLock(ctx, "doc-1", "methods", "conn-a")
	require.NoError(t, err)
	a.reset()
	b.reset()

	result, err := m.RequestLock(ctx, "doc-1", "methods", "conn-a")
	require.NoError(t, err)
	require.Equal(t, LockReacquired, result.Outcome)
	require.Len(t, a.ofType(protocol.TypeSectionLocked), 1)
	require.Empty(t, b.all())
}

func TestManager_IdenticalOrderingAcrossObservers(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	mustJoin(t, m, "doc-1", collaborator("conn-b", "user-b", "bob"))
	observerOne := mustJoin(t, m, "doc-1", collaborator("conn-c", "user-c", "carol"))
	observerTwo := mustJoin(t, m, "doc-1", collaborator("conn-d", "user-d", "dave"))
	observerOne.reset()
	observerTwo.reset()

	var wg sync.WaitGroup
	for _, conn := range []string{"conn-a", "conn-b"} {
		wg.Add(1)
		go func(conn string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				section := fmt.Sprintf("section-%d", i%5)
				_, _ = m.RequestLock(ctx, "doc-1", section, conn)
				_, _ = m.ReleaseLock(ctx, "doc-1", section, conn)
			}
		}(conn)
	}
	wg.Wait()

	first := observerOne.all()
	second := observerTwo.all()
	require.NotEmpty(t, first)
	require.Equal(t, first, second)
}

func TestManager_JoinerReceivesHeldLocks(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	_, err := m.RequestLock(ctx, "doc-1", "abstract", "conn-a")
	require.NoError(t, err)

	late := mustJoin(t, m, "doc-1", collaborator("conn-b", "user-b", "bob"))
	messages := late.all()
	require.Len(t, messages, 2)
	require.Equal(t, protocol.TypeCollaboratorsList, messages[0].Type)
	require.Equal(t, protocol.TypeSectionLocked, messages[1].Type)
	require.Equal(t, "abstract", messages[1].Section)
	require.Equal(t, "conn-a", messages[1].ConnectionID)
}

func TestManager_ChannelDisposedWhenEmpty(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	mustJoin(t, m, "doc-2", collaborator("conn-b", "user-b", "bob"))
	require.Equal(t, []string{"doc-1", "doc-2"}, m.Documents())

	m.Leave("doc-1", "conn-a")
	require.Equal(t, []string{"doc-2"}, m.Documents())

	_, err := m.Snapshot(ctx, "doc-1")
	require.ErrorIs(t, err, ErrChannelNotFound)
	_, err = m.RequestLock(ctx, "doc-1", "intro", "conn-a")
	require.ErrorIs(t, err, ErrChannelNotFound)

	again := mustJoin(t, m, "doc-1", collaborator("conn-c", "user-a", "alice"))
	require.Len(t, again.ofType(protocol.TypeCollaboratorsList), 1)
	require.Equal(t, 2, m.ActiveChannels())
}

func TestManager_DuplicateJoinReleasesReference(t *testing.T) {
	m := NewManager()
	c := collaborator("conn-a", "user-a", "alice")

	mustJoin(t, m, "doc-1", c)
	_, err := m.Join("doc-1", newFakePeer("conn-a"), c)
	require.ErrorIs(t, err, ErrAlreadyJoined)

	m.Leave("doc-1", "conn-a")
	require.Zero(t, m.ActiveChannels())
}

func TestManager_JoinLeaveChurnNeverLosesChannel(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("conn-%d-%d", worker, i)
				peer := newFakePeer(id)
				_, err := m.Join("doc-churn", peer, collaborator(id, "user", "user"))
				if err != nil {
					t.Errorf("join %s: %v", id, err)
					return
				}
				_, _ = m.RequestLock(context.Background(), "doc-churn", "intro", id)
				m.Leave("doc-churn", id)
			}
		}(worker)
	}
	wg.Wait()

	require.Zero(t, m.ActiveChannels())
}

func TestManager_ExpireIdle(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	recorder := &recordingRecorder{}
	m := NewManager(WithClock(clock.Now), WithRecorder(recorder))

	mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	b := mustJoin(t, m, "doc-1", collaborator("conn-b", "user-b", "bob"))

	_, err := m.RequestLock(ctx, "doc-1", "intro", "conn-a")
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = m.RequestLock(ctx, "doc-1", "methods", "conn-a")
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)

	disabled, err := m.ExpireIdle(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, disabled)

	expired, err := m.ExpireIdle(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	unlocked := b.ofType(protocol.TypeSectionUnlocked)
	require.Len(t, unlocked, 1)
	require.Equal(t, "intro", unlocked[0].Section)
	require.Equal(t, protocol.ReasonExpired, unlocked[0].Reason)
	require.Contains(t, recorder.actions(), ActionExpired)

	snap, err := m.Snapshot(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, snap.Locks, 1)
	require.Equal(t, "methods", snap.Locks[0].SectionID)
}

func TestManager_RenewedLockSurvivesExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))

	mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	b := mustJoin(t, m, "doc-1", collaborator("conn-b", "user-b", "bob"))

	_, err := m.RequestLock(ctx, "doc-1", "methods", "conn-a")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Minute)
		result, err := m.RequestLock(ctx, "doc-1", "methods", "conn-a")
		require.NoError(t, err)
		require.Equal(t, LockReacquired, result.Outcome)
	}

	expired, err := m.ExpireIdle(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Zero(t, expired)
	require.Empty(t, b.ofType(protocol.TypeSectionUnlocked))
}

func TestManager_BackpressuredPeerIsClosed(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	slow := mustJoin(t, m, "doc-1", collaborator("conn-b", "user-b", "bob"))
	fast := mustJoin(t, m, "doc-1", collaborator("conn-c", "user-c", "carol"))

	slow.mu.Lock()
	slow.reject = true
	slow.mu.Unlock()
	fast.reset()

	_, err := m.RequestLock(ctx, "doc-1", "intro", "conn-a")
	require.NoError(t, err)

	require.True(t, slow.isClosed())
	require.Len(t, fast.ofType(protocol.TypeSectionLocked), 1)
}

func TestManager_BackpressuredPeerIsDetached(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	slow := mustJoin(t, m, "doc-1", collaborator("conn-b", "user-b", "bob"))
	fast := mustJoin(t, m, "doc-1", collaborator("conn-c", "user-c", "carol"))

	slow.mu.Lock()
	slow.reject = true
	slow.mu.Unlock()
	fast.reset()

	_, err := m.RequestLock(ctx, "doc-1", "intro", "conn-a")
	require.NoError(t, err)
	require.True(t, slow.isClosed())
	attempts := slow.sendAttempts()

	_, err = m.RequestLock(ctx, "doc-1", "methods", "conn-a")
	require.NoError(t, err)
	_, err = m.ReleaseLock(ctx, "doc-1", "intro", "conn-a")
	require.NoError(t, err)

	require.Equal(t, attempts, slow.sendAttempts())
	require.Len(t, fast.ofType(protocol.TypeSectionLocked), 2)
	require.Len(t, fast.ofType(protocol.TypeSectionUnlocked), 1)
}

func TestManager_RequestFromUnknownConnection(t *testing.T) {
	m := NewManager()
	mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))

	_, err := m.RequestLock(context.Background(), "doc-1", "intro", "conn-ghost")
	require.ErrorIs(t, err, ErrNotJoined)
}

func TestManager_JoinValidatesInput(t *testing.T) {
	m := NewManager()

	_, err := m.Join(" ", newFakePeer("conn-a"), collaborator("conn-a", "user-a", "alice"))
	require.Error(t, err)

	_, err = m.Join("doc-1", newFakePeer("conn-x"), collaborator("conn-a", "user-a", "alice"))
	require.Error(t, err)
	require.Zero(t, m.ActiveChannels())
}

func TestManager_ShutdownClosesPeers(t *testing.T) {
	m := NewManager()
	a := mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	b := mustJoin(t, m, "doc-2", collaborator("conn-b", "user-b", "bob"))

	m.Shutdown(context.Background())

	require.True(t, a.isClosed())
	require.True(t, b.isClosed())
}

func TestManager_ProbeLiveChannels(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Probe(context.Background()))

	mustJoin(t, m, "doc-1", collaborator("conn-a", "user-a", "alice"))
	mustJoin(t, m, "doc-2", collaborator("conn-b", "user-b", "bob"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Probe(ctx))
}
