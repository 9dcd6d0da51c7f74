package collab

import (
	"go.uber.org/zap"

	"github.com/charlesng35/sectionlock/internal/protocol"
	"github.com/charlesng35/sectionlock/pkg/metrics"
)

// Broadcaster fans messages out to the peers attached to one document. Peers whose
// queue is full are closed and detached instead of blocking delivery to the
// others; their disconnect path releases whatever they held.
type Broadcaster struct {
	peers map[string]Peer
	log   *zap.Logger
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster(log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		peers: make(map[string]Peer),
		log:   log,
	}
}

// Subscribe attaches a peer.
func (b *Broadcaster) Subscribe(p Peer) {
	b.peers[p.ConnectionID()] = p
}

// Unsubscribe detaches a peer.
func (b *Broadcaster) Unsubscribe(connectionID string) {
	delete(b.peers, connectionID)
}

// Broadcast delivers msg to every attached peer except the listed connection ids and
// returns the number of successful deliveries.
func (b *Broadcaster) Broadcast(msg protocol.Message, except ...string) int {
	delivered := 0
	for id, p := range b.peers {
		if contains(except, id) {
			continue
		}
		if b.deliver(p, msg) {
			delivered++
		}
	}
	return delivered
}

// SendTo delivers msg to a single attached peer.
func (b *Broadcaster) SendTo(connectionID string, msg protocol.Message) bool {
	p, ok := b.peers[connectionID]
	if !ok {
		return false
	}
	return b.deliver(p, msg)
}

// Len returns the number of attached peers.
func (b *Broadcaster) Len() int {
	return len(b.peers)
}

func (b *Broadcaster) deliver(p Peer, msg protocol.Message) bool {
	if p.Send(msg) {
		metrics.BroadcastMessages.WithLabelValues("delivered").Inc()
		return true
	}

	metrics.BroadcastMessages.WithLabelValues("dropped").Inc()
	b.log.Warn("dropping backpressured connection",
		zap.String("connection_id", p.ConnectionID()),
		zap.String("type", msg.Type),
	)
	delete(b.peers, p.ConnectionID())
	p.Close()
	return false
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
