package collab

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/sectionlock/internal/protocol"
	"github.com/charlesng35/sectionlock/pkg/logger"
	"github.com/charlesng35/sectionlock/pkg/metrics"
)

// Channel is the coordination unit for one document. Every mutation of its presence
// registry and lock table runs on the channel goroutine, and every broadcast is sent
// from the operation that caused it.
type Channel struct {
	id          string
	manager     *Manager
	presence    *PresenceRegistry
	locks       *LockTable
	broadcaster *Broadcaster
	recorder    EventRecorder
	now         func() time.Time
	log         *zap.Logger

	ops     chan func()
	done    chan struct{}
	stopped bool // set on the channel goroutine once the manager has disposed it

	refs int // attached plus joining connections; guarded by manager.mu
}

func newChannel(id string, m *Manager) *Channel {
	log := logger.WithDocument("collab", id)
	return &Channel{
		id:          id,
		manager:     m,
		presence:    NewPresenceRegistry(),
		locks:       NewLockTable(),
		broadcaster: NewBroadcaster(log),
		recorder:    m.recorder,
		now:         m.now,
		log:         log,
		ops:         make(chan func()),
		done:        make(chan struct{}),
	}
}

// ID returns the document id served by the channel.
func (ch *Channel) ID() string {
	return ch.id
}

func (ch *Channel) run() {
	defer close(ch.done)
	for op := range ch.ops {
		op()
		if ch.stopped {
			return
		}
	}
}

// exec hands fn to the channel goroutine and waits for it to finish. The hand-off is
// synchronous, so once accepted fn always runs.
func (ch *Channel) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case ch.ops <- op:
	case <-ch.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	<-finished
	return nil
}

// JoinResult is what a newly attached connection is told about the document.
type JoinResult struct {
	Self          Collaborator
	Collaborators []Collaborator
	Locks         []SectionLock
}

func (ch *Channel) join(peer Peer, c Collaborator) (JoinResult, error) {
	if c.JoinedAt.IsZero() {
		c.JoinedAt = ch.now()
	}

	members, err := ch.presence.Join(c)
	if err != nil {
		ch.manager.detach(ch)
		return JoinResult{}, err
	}
	ch.broadcaster.Subscribe(peer)
	metrics.Collaborators.Inc()

	wire := make([]protocol.Collaborator, 0, len(members))
	for _, m := range members {
		wire = append(wire, m.wire())
	}
	ch.broadcaster.SendTo(c.ConnectionID, protocol.Message{
		Type:          protocol.TypeCollaboratorsList,
		ConnectionID:  c.ConnectionID,
		Collaborators: wire,
	})

	held := ch.locks.List()
	for _, l := range held {
		ch.broadcaster.SendTo(c.ConnectionID, l.lockedMessage())
	}

	ch.broadcaster.Broadcast(protocol.Message{
		Type:         protocol.TypeUserJoined,
		UserID:       c.UserID,
		Username:     c.DisplayName,
		ConnectionID: c.ConnectionID,
	}, c.ConnectionID)

	ch.log.Debug("collaborator joined",
		zap.String("connection_id", c.ConnectionID),
		zap.String("user_id", c.UserID),
		zap.Int("collaborators", len(members)),
	)

	return JoinResult{Self: c, Collaborators: members, Locks: held}, nil
}

func (ch *Channel) leave(connectionID string) {
	c, ok := ch.presence.Leave(connectionID)
	ch.broadcaster.Unsubscribe(connectionID)
	if !ok {
		return
	}
	metrics.Collaborators.Dec()

	ch.broadcaster.Broadcast(protocol.Message{
		Type:         protocol.TypeUserLeft,
		UserID:       c.UserID,
		Username:     c.DisplayName,
		ConnectionID: c.ConnectionID,
	})

	for _, l := range ch.locks.ReleaseAll(connectionID) {
		ch.unlocked(l, protocol.ReasonDisconnected, ActionDisconnected)
	}

	ch.log.Debug("collaborator left",
		zap.String("connection_id", connectionID),
		zap.String("user_id", c.UserID),
	)

	ch.manager.detach(ch)
}

func (ch *Channel) requestLock(section, connectionID string) (LockResult, error) {
	c, ok := ch.presence.Get(connectionID)
	if !ok {
		return LockResult{}, ErrNotJoined
	}

	now := ch.now()
	result := ch.locks.Acquire(section, c, now)
	metrics.LockRequests.WithLabelValues(string(result.Outcome)).Inc()

	switch result.Outcome {
	case LockGranted:
		metrics.LocksHeld.Inc()
		ch.broadcaster.Broadcast(result.Lock.lockedMessage())
		ch.record(result.Lock, ActionAcquired, now)
	case LockReacquired:
		ch.broadcaster.SendTo(connectionID, result.Lock.lockedMessage())
	case LockDenied:
		ch.broadcaster.SendTo(connectionID, protocol.LockDenied(section, result.Lock.HolderUserID, result.Lock.HolderName))
		return result, ErrSectionLocked
	}
	return result, nil
}

func (ch *Channel) releaseLock(section, connectionID string) bool {
	l, ok := ch.locks.Release(section, connectionID)
	if !ok {
		return false
	}
	ch.unlocked(l, protocol.ReasonReleased, ActionReleased)
	return true
}

func (ch *Channel) expireIdle(cutoff time.Time) int {
	expired := ch.locks.ExpireIdle(cutoff)
	for _, l := range expired {
		ch.unlocked(l, protocol.ReasonExpired, ActionExpired)
	}
	if len(expired) > 0 {
		ch.log.Info("expired idle section locks", zap.Int("count", len(expired)))
	}
	return len(expired)
}

func (ch *Channel) snapshot() Snapshot {
	return Snapshot{
		DocumentID:    ch.id,
		Collaborators: ch.presence.List(),
		Locks:         ch.locks.List(),
	}
}

func (ch *Channel) unlocked(l SectionLock, reason, action string) {
	now := ch.now()
	metrics.LocksHeld.Dec()
	metrics.LockReleases.WithLabelValues(reason).Inc()
	ch.broadcaster.Broadcast(protocol.Message{
		Type:    protocol.TypeSectionUnlocked,
		Section: l.SectionID,
		Reason:  reason,
	})
	ch.record(l, action, now)
}

func (ch *Channel) record(l SectionLock, action string, at time.Time) {
	event := LockEvent{
		DocumentID:   ch.id,
		SectionID:    l.SectionID,
		ConnectionID: l.HolderConnectionID,
		UserID:       l.HolderUserID,
		Username:     l.HolderName,
		Action:       action,
		At:           at,
	}
	if action != ActionAcquired {
		event.HeldFor = at.Sub(l.AcquiredAt)
	}
	ch.recorder.Record(event)
}

// closePeers disconnects every attached peer. Used on server shutdown.
func (ch *Channel) closePeers() {
	for _, p := range ch.broadcaster.peers {
		p.Close()
	}
}
