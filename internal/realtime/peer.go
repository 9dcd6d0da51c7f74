package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/sectionlock/internal/protocol"
)

// peer is one WebSocket connection attached to a document channel. Messages are
// queued on a bounded buffer and written by the peer's own write goroutine.
type peer struct {
	id     string
	socket *websocket.Conn
	send   chan protocol.Message
	done   chan struct{}
	once   sync.Once
	opts   Options
	log    *zap.Logger
}

func newPeer(id string, socket *websocket.Conn, opts Options, log *zap.Logger) *peer {
	return &peer{
		id:     id,
		socket: socket,
		send:   make(chan protocol.Message, opts.SendBuffer),
		done:   make(chan struct{}),
		opts:   opts,
		log:    log,
	}
}

func (p *peer) ConnectionID() string {
	return p.id
}

// Send queues msg without blocking and reports false when the queue is full or the
// peer is closed.
func (p *peer) Send(msg protocol.Message) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.send <- msg:
		return true
	default:
		return false
	}
}

// Close only signals. The write loop flushes what is queued, sends a close frame and
// closes the socket, which unblocks the read loop; the read loop then detaches the
// peer from its channel.
func (p *peer) Close() {
	p.once.Do(func() {
		close(p.done)
	})
}

func (p *peer) writeLoop() {
	ticker := time.NewTicker(p.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		p.Close()
		_ = p.socket.Close()
	}()

	for {
		select {
		case msg := <-p.send:
			_ = p.socket.SetWriteDeadline(time.Now().Add(p.opts.WriteWait))
			if err := p.socket.WriteJSON(msg); err != nil {
				p.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = p.socket.SetWriteDeadline(time.Now().Add(p.opts.WriteWait))
			if err := p.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			p.flush()
			_ = p.socket.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(p.opts.WriteWait),
			)
			return
		}
	}
}

// flush writes whatever is still queued, best effort, before the socket goes away.
func (p *peer) flush() {
	_ = p.socket.SetWriteDeadline(time.Now().Add(p.opts.WriteWait))
	for {
		select {
		case msg := <-p.send:
			if err := p.socket.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
