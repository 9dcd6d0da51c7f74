package collab

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/sectionlock/pkg/logger"
	"github.com/charlesng35/sectionlock/pkg/metrics"
)

// Manager owns the live document channels. Its mutex only guards lookup, creation
// and disposal; all document state lives on the channel goroutines, so documents
// proceed independently.
type Manager struct {
	mu       sync.Mutex
	channels map[string]*Channel

	recorder EventRecorder
	now      func() time.Time
	log      *zap.Logger
}

// Option customises the Manager.
type Option func(*Manager)

// WithRecorder sets the sink for lock transitions.
func WithRecorder(r EventRecorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithClock overrides the clock used for lock timestamps and idle expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		channels: make(map[string]*Channel),
		recorder: nopRecorder{},
		now:      time.Now,
		log:      logger.WithModule("collab"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join attaches peer to the document's channel, creating the channel on first use.
// The joiner receives collaborators_list followed by the currently held locks and
// every other member receives user_joined.
func (m *Manager) Join(documentID string, peer Peer, c Collaborator) (JoinResult, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return JoinResult{}, errors.New("collab: document id is required")
	}
	if peer == nil || c.ConnectionID == "" || c.ConnectionID != peer.ConnectionID() {
		return JoinResult{}, errors.New("collab: peer connection id mismatch")
	}

	ch := m.attach(documentID)

	var (
		result JoinResult
		err    error
	)
	// The channel cannot be disposed while it holds our reference, so the hand-off
	// only fails if the channel goroutine is gone, which would be a bug.
	if execErr := ch.exec(context.Background(), func() {
		result, err = ch.join(peer, c)
	}); execErr != nil {
		return JoinResult{}, execErr
	}
	return result, err
}

// Leave detaches a connection, broadcasting user_left and one section_unlocked for
// every lock it held. Leaving twice is a no-op.
func (m *Manager) Leave(documentID, connectionID string) {
	ch := m.lookup(documentID)
	if ch == nil {
		return
	}
	_ = ch.exec(context.Background(), func() {
		ch.leave(connectionID)
	})
}

// RequestLock asks for the section lock on behalf of connectionID. A denial returns
// ErrSectionLocked together with the current holder in the result.
func (m *Manager) RequestLock(ctx context.Context, documentID, section, connectionID string) (LockResult, error) {
	ch := m.lookup(documentID)
	if ch == nil {
		return LockResult{}, ErrChannelNotFound
	}

	var (
		result LockResult
		err    error
	)
	if execErr := ch.exec(ctx, func() {
		result, err = ch.requestLock(section, connectionID)
	}); execErr != nil {
		return LockResult{}, execErr
	}
	return result, err
}

// ReleaseLock releases the section if connectionID holds it. It reports whether a
// lock was released; releasing someone else's lock is a silent no-op.
func (m *Manager) ReleaseLock(ctx context.Context, documentID, section, connectionID string) (bool, error) {
	ch := m.lookup(documentID)
	if ch == nil {
		return false, ErrChannelNotFound
	}

	var released bool
	if err := ch.exec(ctx, func() {
		released = ch.releaseLock(section, connectionID)
	}); err != nil {
		return false, err
	}
	return released, nil
}

// Snapshot returns the presence and locks of a live document.
func (m *Manager) Snapshot(ctx context.Context, documentID string) (Snapshot, error) {
	ch := m.lookup(documentID)
	if ch == nil {
		return Snapshot{}, ErrChannelNotFound
	}

	var snap Snapshot
	if err := ch.exec(ctx, func() {
		snap = ch.snapshot()
	}); err != nil {
		if errors.Is(err, ErrChannelClosed) {
			return Snapshot{}, ErrChannelNotFound
		}
		return Snapshot{}, err
	}
	return snap, nil
}

// ExpireIdle releases every lock not refreshed within maxIdle across all documents
// and returns how many were released. A non-positive maxIdle disables expiry.
func (m *Manager) ExpireIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	if maxIdle <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-maxIdle)

	total := 0
	for _, ch := range m.channelList() {
		var n int
		err := ch.exec(ctx, func() {
			n = ch.expireIdle(cutoff)
		})
		switch {
		case errors.Is(err, ErrChannelClosed):
			continue
		case err != nil:
			return total, err
		}
		total += n
	}
	return total, nil
}

// Probe round-trips a no-op through every live channel and reports the first one
// that fails to respond before ctx expires.
func (m *Manager) Probe(ctx context.Context) error {
	for _, ch := range m.channelList() {
		err := ch.exec(ctx, func() {})
		switch {
		case err == nil, errors.Is(err, ErrChannelClosed):
		default:
			return fmt.Errorf("collab: document %s unresponsive: %w", ch.id, err)
		}
	}
	return nil
}

// Documents returns the ids of live documents, sorted.
func (m *Manager) Documents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveChannels returns the number of live document channels.
func (m *Manager) ActiveChannels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Shutdown disconnects every attached peer. Channels dispose themselves as the
// resulting leaves are processed.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, ch := range m.channelList() {
		if err := ch.exec(ctx, ch.closePeers); err != nil && !errors.Is(err, ErrChannelClosed) {
			m.log.Warn("close document peers failed", zap.String("document_id", ch.id), zap.Error(err))
		}
	}
}

// attach returns the document's channel with a reference taken for a joining peer.
func (m *Manager) attach(documentID string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[documentID]
	if !ok {
		ch = newChannel(documentID, m)
		m.channels[documentID] = ch
		metrics.ActiveChannels.Inc()
		go ch.run()
		m.log.Debug("document channel created", zap.String("document_id", documentID))
	}
	ch.refs++
	return ch
}

// detach drops one reference and disposes the channel once nothing is attached or
// joining and no locks remain. It runs on the channel goroutine.
func (m *Manager) detach(ch *Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch.refs--
	if ch.refs > 0 || ch.locks.Len() > 0 {
		return
	}
	if current, ok := m.channels[ch.id]; ok && current == ch {
		delete(m.channels, ch.id)
		metrics.ActiveChannels.Dec()
	}
	ch.stopped = true
	m.log.Debug("document channel disposed", zap.String("document_id", ch.id))
}

func (m *Manager) lookup(documentID string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[strings.TrimSpace(documentID)]
}

func (m *Manager) channelList() []*Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}
