package collab

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/sectionlock/internal/protocol"
)

type fakePeer struct {
	id string

	mu       sync.Mutex
	messages []protocol.Message
	reject   bool
	closed   bool
	attempts int
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ConnectionID() string { return p.id }

func (p *fakePeer) Send(msg protocol.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.reject || p.closed {
		return false
	}
	p.messages = append(p.messages, msg)
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) sendAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *fakePeer) all() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *fakePeer) ofType(typ string) []protocol.Message {
	var out []protocol.Message
	for _, msg := range p.all() {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}

func collaborator(connectionID, userID, name string) Collaborator {
	return Collaborator{ConnectionID: connectionID, UserID: userID, DisplayName: name}
}

func mustJoin(t *testing.T, m *Manager, documentID string, c Collaborator) *fakePeer {
	t.Helper()
	peer := newFakePeer(c.ConnectionID)
	_, err := m.Join(documentID, peer, c)
	require.NoError(t, err)
	return peer
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []LockEvent
}

func (r *recordingRecorder) Record(event LockEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
