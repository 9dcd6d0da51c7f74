// Package client is the collaborator side of the section locking protocol: a
// reconnecting WebSocket Session and a Coordinator that mirrors presence and
// locks from the server's broadcasts.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/sectionlock/internal/protocol"
	"github.com/charlesng35/sectionlock/pkg/logger"
)

var (
	// ErrNotConnected is returned when a message is sent while the session is not connected.
	// The message is dropped.
	ErrNotConnected = errors.New("client: session not connected")
	// ErrReconnectExhausted is returned by Run once MaxAttempts reconnects have failed.
	ErrReconnectExhausted = errors.New("client: reconnect attempts exhausted")
	// ErrSendBufferFull is returned when the outbound queue of a live connection is full.
	ErrSendBufferFull = errors.New("client: send buffer full")
	// ErrSessionStarted is returned when Run is called more than once.
	ErrSessionStarted = errors.New("client: session already started")
)

// ConnectionState is the lifecycle state of a Session.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is the subset of *websocket.Conn a Session uses.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// keepaliveConn is implemented by *websocket.Conn. Connections that support it
// get a read deadline that server pings and inbound messages push forward, so a
// half-open connection is noticed and reconnected.
type keepaliveConn interface {
	SetReadDeadline(t time.Time) error
	SetPingHandler(h func(appData string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Dialer opens a connection to url.
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

// WebsocketDialer adapts a gorilla dialer. A nil dialer uses websocket.DefaultDialer.
func WebsocketDialer(d *websocket.Dialer) Dialer {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return func(ctx context.Context, url string, header http.Header) (Conn, error) {
		conn, resp, err := d.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return conn, nil
	}
}

const (
	defaultBackoffBase = time.Second
	defaultMaxAttempts = 5
	defaultBuffer      = 64

	// The server pings every 54s by default.
	defaultReadTimeout = 75 * time.Second
	controlWriteWait   = 10 * time.Second
)

// LinearBackoff waits base*attempt before the given reconnect attempt.
func LinearBackoff(base time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base * time.Duration(attempt)
	}
}

// SessionConfig describes one document connection.
type SessionConfig struct {
	// BaseURL is the server root, http(s) or ws(s).
	BaseURL    string
	DocumentID string
	Token      string

	Dialer      Dialer
	Backoff     func(attempt int) time.Duration
	MaxAttempts int
	After       func(time.Duration) <-chan time.Time

	// ReadTimeout is how long a connection may stay silent, pings included,
	// before it is treated as lost.
	ReadTimeout time.Duration

	// SendBuffer and InboundBuffer size the outbound queue of each connection and
	// the inbound delivery channel.
	SendBuffer    int
	InboundBuffer int

	Logger *zap.Logger
}

// Session maintains a connection to one document, reconnecting with backoff.
type Session struct {
	cfg SessionConfig
	url string
	log *zap.Logger

	mu      sync.Mutex
	state   ConnectionState
	out     chan protocol.Request
	started bool

	inbound chan protocol.Message
	states  chan ConnectionState
}

// NewSession validates cfg and constructs an idle session. Call Run to connect.
func NewSession(cfg SessionConfig) (*Session, error) {
	target, err := DocumentURL(cfg.BaseURL, cfg.DocumentID)
	if err != nil {
		return nil, err
	}

	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer(nil)
	}
	if cfg.Backoff == nil {
		cfg.Backoff = LinearBackoff(defaultBackoffBase)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultBuffer
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = defaultBuffer
	}
	log := cfg.Logger
	if log == nil {
		log = logger.WithDocument("client", cfg.DocumentID)
	}

	return &Session{
		cfg:     cfg,
		url:     target,
		log:     log,
		state:   StateConnecting,
		inbound: make(chan protocol.Message, cfg.InboundBuffer),
		states:  make(chan ConnectionState, 16),
	}, nil
}

// DocumentURL builds the collaboration socket URL for documentID under base.
func DocumentURL(base, documentID string) (string, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return "", errors.New("client: document id is required")
	}

	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("client: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("client: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("client: base url has no host")
	}

	// Path holds the decoded form and RawPath the escaped one, so ids containing
	// '/', '%' or spaces arrive at the server unchanged.
	base = strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/collab/document/" + documentID + "/"
	u.RawPath = base + "/ws/collab/document/" + url.PathEscape(documentID) + "/"
	return u.String(), nil
}

// Inbound delivers server messages in arrival order. It is closed when Run returns.
func (s *Session) Inbound() <-chan protocol.Message { return s.inbound }

// States delivers state transitions. A consumer that falls behind misses
// intermediate states; State is authoritative. It is closed when Run returns.
func (s *Session) States() <-chan ConnectionState { return s.states }

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send queues req on the live connection. Outside StateConnected the message is
// dropped and ErrNotConnected returned; nothing is replayed after a reconnect.
func (s *Session) Send(req protocol.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected || s.out == nil {
		return ErrNotConnected
	}
	select {
	case s.out <- req:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Run connects and keeps the session alive until ctx is cancelled or reconnects
// are exhausted. It always ends in StateDisconnected.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSessionStarted
	}
	s.started = true
	s.mu.Unlock()

	defer close(s.inbound)
	defer close(s.states)
	defer s.transition(StateDisconnected, nil)

	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	attempt := 0
	for {
		conn, err := s.cfg.Dialer(ctx, s.url, header)
		if err == nil {
			attempt = 0
			err = s.serve(ctx, conn)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		if attempt > s.cfg.MaxAttempts {
			s.log.Error("giving up reconnecting", zap.Int("attempts", s.cfg.MaxAttempts), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
		}

		delay := s.cfg.Backoff(attempt)
		s.log.Warn("connection lost, reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		s.transition(StateReconnecting, nil)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.cfg.After(delay):
		}
	}
}

func (s *Session) serve(ctx context.Context, conn Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.armKeepalive(conn)

	out := make(chan protocol.Request, s.cfg.SendBuffer)
	s.transition(StateConnected, out)
	s.log.Info("connected", zap.String("url", s.url))

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readLoop(connCtx, conn)
	}()

	stop := func(next ConnectionState) {
		s.transition(next, nil)
		cancel()
		_ = conn.Close()
	}

	for {
		select {
		case <-ctx.Done():
			stop(StateDisconnected)
			<-readErr
			return ctx.Err()
		case err := <-readErr:
			stop(StateReconnecting)
			return err
		case req := <-out:
			if err := conn.WriteJSON(req); err != nil {
				stop(StateReconnecting)
				<-readErr
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.extendDeadline(conn)
		select {
		case s.inbound <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) armKeepalive(conn Conn) {
	kc, ok := conn.(keepaliveConn)
	if !ok {
		return
	}
	s.extendDeadline(conn)
	kc.SetPingHandler(func(appData string) error {
		s.extendDeadline(conn)
		err := kc.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
}

func (s *Session) extendDeadline(conn Conn) {
	if kc, ok := conn.(keepaliveConn); ok {
		_ = kc.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
}

// transition records the new state and swaps the outbound queue under one lock so
// Send never observes StateConnected with a stale queue.
func (s *Session) transition(state ConnectionState, out chan protocol.Request) {
	s.mu.Lock()
	if s.state == state && out == nil {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.out = out
	s.mu.Unlock()

	select {
	case s.states <- state:
	default:
	}
}
