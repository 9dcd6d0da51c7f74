// Package realtime carries the collaboration protocol over WebSockets. Each
// connection becomes a collab.Peer with its own read and write goroutines.
package realtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/sectionlock/internal/collab"
	"github.com/charlesng35/sectionlock/internal/protocol"
	"github.com/charlesng35/sectionlock/pkg/logger"
	"github.com/charlesng35/sectionlock/pkg/metrics"
	"github.com/charlesng35/sectionlock/pkg/validator"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 << 10
	defaultSendBuffer     = 64
)

// Options tunes connection handling. Zero values select the defaults.
type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	// AllowedOrigins lists extra browser origins (host names) accepted besides the
	// request host and loopback.
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	return o
}

func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID   string
	Username string
}

// Server upgrades HTTP requests and attaches the resulting connections to
// document channels.
type Server struct {
	manager  *collab.Manager
	upgrader websocket.Upgrader
	opts     Options
	log      *zap.Logger
}

// NewServer constructs a Server backed by manager.
func NewServer(manager *collab.Manager, opts Options) (*Server, error) {
	if manager == nil {
		return nil, errors.New("realtime: collab manager is required")
	}
	opts = opts.withDefaults()

	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		if host := hostWithoutPort(origin); host != "" {
			allowed[strings.ToLower(host)] = struct{}{}
		}
	}

	return &Server{
		manager: manager,
		opts:    opts,
		log:     logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := strings.ToLower(hostWithoutPort(origin))
				if originHost == strings.ToLower(hostWithoutPort(r.Host)) || isLoopback(originHost) {
					return true
				}
				_, ok := allowed[originHost]
				return ok
			},
		},
	}, nil
}

// Serve upgrades the request and runs the connection until it closes. It blocks for
// the lifetime of the connection.
func (s *Server) Serve(documentID string, identity Identity, w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.String("document_id", documentID), zap.Error(err))
		return
	}

	connectionID := uuid.NewString()
	log := logger.WithDocument("realtime", documentID).With(
		zap.String("connection_id", connectionID),
		zap.String("user_id", identity.UserID),
	)
	p := newPeer(connectionID, socket, s.opts, log)
	go p.writeLoop()

	collaborator := collab.Collaborator{
		ConnectionID: connectionID,
		UserID:       identity.UserID,
		DisplayName:  displayName(identity),
	}
	if _, err := s.manager.Join(documentID, p, collaborator); err != nil {
		log.Warn("join document failed", zap.Error(err))
		p.Send(protocol.ErrorMessage(protocol.CodeInvalidMessage, "unable to join document"))
		p.Close()
		return
	}

	log.Info("collaborator connected")
	s.readLoop(r.Context(), documentID, p, socket, log)

	s.manager.Leave(documentID, connectionID)
	p.Close()
	log.Info("collaborator disconnected")
}

func (s *Server) readLoop(ctx context.Context, documentID string, p *peer, socket *websocket.Conn, log *zap.Logger) {
	socket.SetReadLimit(s.opts.MaxMessageSize)
	_ = socket.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	// Pending lock calls are abandoned once the peer closes.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, payload, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("unexpected close", zap.Error(err))
			}
			return
		}
		_ = socket.SetReadDeadline(time.Now().Add(s.opts.PongWait))

		s.handle(ctx, documentID, p, payload, log)
	}
}

func (s *Server) handle(ctx context.Context, documentID string, p *peer, payload []byte, log *zap.Logger) {
	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		s.reject(p, protocol.CodeInvalidMessage, "malformed message", log, err)
		return
	}
	if err := validator.ValidateStruct(req); err != nil {
		code := protocol.CodeInvalidMessage
		var failures validator.ValidationErrors
		if errors.As(err, &failures) && len(failures) > 0 && failures[0].Field == "type" && failures[0].Tag == "oneof" {
			code = protocol.CodeUnsupported
		}
		s.reject(p, code, err.Error(), log, nil)
		return
	}

	switch req.Type {
	case protocol.TypePing:
		p.Send(protocol.Message{Type: protocol.TypePong})
	case protocol.TypeSectionLock:
		_, err := s.manager.RequestLock(ctx, documentID, req.Section, p.id)
		switch {
		case err == nil, errors.Is(err, collab.ErrSectionLocked):
			// The channel already told the requester.
		default:
			log.Warn("section lock failed", zap.String("section", req.Section), zap.Error(err))
			p.Send(protocol.ErrorMessage(protocol.CodeInvalidMessage, "lock request could not be processed"))
		}
	case protocol.TypeSectionUnlock:
		if _, err := s.manager.ReleaseLock(ctx, documentID, req.Section, p.id); err != nil {
			log.Warn("section unlock failed", zap.String("section", req.Section), zap.Error(err))
		}
	}
}

func (s *Server) reject(p *peer, code, message string, log *zap.Logger, cause error) {
	metrics.RejectedMessages.WithLabelValues(code).Inc()
	if cause != nil {
		log.Debug("rejecting client message", zap.String("code", code), zap.Error(cause))
	}
	p.Send(protocol.ErrorMessage(code, message))
}

func displayName(identity Identity) string {
	if name := strings.TrimSpace(identity.Username); name != "" {
		return name
	}
	return identity.UserID
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
