package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charlesng35/sectionlock/internal/protocol"
)

var errConnClosed = errors.New("fake conn closed")

type fakeConn struct {
	in      chan protocol.Message
	written chan protocol.Request

	once   sync.Once
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan protocol.Message, 16),
		written: make(chan protocol.Request, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case msg := <-c.in:
		*v.(*protocol.Message) = msg
		return nil
	case <-c.closed:
		return errConnClosed
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.written <- v.(protocol.Request)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() { _ = c.Close() }

type dialResult struct {
	conn Conn
	err  error
}

type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	urls    []string
	headers []http.Header
}

func (d *fakeDialer) push(r dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, r)
}

func (d *fakeDialer) dial(_ context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	d.headers = append(d.headers, header.Clone())
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	next := d.results[0]
	d.results = d.results[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.conn, nil
}

func (d *fakeDialer) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) after(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (r *delayRecorder) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

type fakeTransport struct {
	mu    sync.Mutex
	state ConnectionState
	sent  []protocol.Request
}

func (t *fakeTransport) Send(req protocol.Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConnected {
		return ErrNotConnected
	}
	t.sent = append(t.sent, req)
	return nil
}

func (t *fakeTransport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) setState(s ConnectionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

func (t *fakeTransport) take() []protocol.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.sent
	t.sent = nil
	return out
}

var errReadTimeout = errors.New("fake conn read timeout")

// deadlineConn is a fakeConn that honours read deadlines and ping handlers the
// way *websocket.Conn does.
type deadlineConn struct {
	*fakeConn

	mu       sync.Mutex
	deadline time.Time
	ping     func(string) error
	pongs    []string
}

func newDeadlineConn() *deadlineConn {
	return &deadlineConn{fakeConn: newFakeConn()}
}

func (c *deadlineConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *deadlineConn) SetPingHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ping = h
}

func (c *deadlineConn) WriteControl(_ int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongs = append(c.pongs, string(data))
	return nil
}

func (c *deadlineConn) ReadJSON(v any) error {
	tick := time.NewTicker(2 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case msg := <-c.in:
			*v.(*protocol.Message) = msg
			return nil
		case <-c.closed:
			return errConnClosed
		case <-tick.C:
			if d := c.readDeadline(); !d.IsZero() && time.Now().After(d) {
				return errReadTimeout
			}
		}
	}
}

func (c *deadlineConn) readDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// serverPing delivers a ping frame to the installed handler.
func (c *deadlineConn) serverPing(data string) error {
	c.mu.Lock()
	h := c.ping
	c.mu.Unlock()
	return h(data)
}

func (c *deadlineConn) pongCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pongs)
}
