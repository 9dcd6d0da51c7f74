package client

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/sectionlock/internal/protocol"
	"github.com/charlesng35/sectionlock/pkg/logger"
)

// Transport is the part of a Session the Coordinator drives.
type Transport interface {
	Send(req protocol.Request) error
	State() ConnectionState
}

// Lock is the mirrored view of one held section.
type Lock struct {
	Section      string
	UserID       string
	Username     string
	ConnectionID string
}

// Coordinator keeps a read-only mirror of presence and locks for one document,
// rebuilt from server broadcasts in arrival order. It remembers which sections
// the local user is editing and asks for them again after every reconnect.
type Coordinator struct {
	transport Transport
	log       *zap.Logger

	mu            sync.RWMutex
	self          string
	collaborators map[string]protocol.Collaborator
	locks         map[string]Lock
	denials       map[string]string
	editing       map[string]struct{}

	updates chan struct{}
	renew   time.Duration
}

// DefaultRenewInterval is how often Run re-requests the sections this connection
// holds and is still editing, which keeps them clear of the server's idle expiry.
const DefaultRenewInterval = 20 * time.Second

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRenewInterval overrides DefaultRenewInterval. Zero disables renewal.
func WithRenewInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d >= 0 {
			c.renew = d
		}
	}
}

// NewCoordinator constructs a Coordinator that issues requests through transport.
func NewCoordinator(transport Transport, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		transport:     transport,
		log:           logger.WithModule("client"),
		collaborators: make(map[string]protocol.Collaborator),
		locks:         make(map[string]Lock),
		denials:       make(map[string]string),
		editing:       make(map[string]struct{}),
		updates:       make(chan struct{}, 1),
		renew:         DefaultRenewInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Updates signals that the mirror changed. Signals coalesce; read the accessors
// for the current state.
func (c *Coordinator) Updates() <-chan struct{} { return c.updates }

// Run applies inbound messages and state changes until inbound is closed or ctx
// is cancelled. It also renews held leases on the configured interval.
func (c *Coordinator) Run(ctx context.Context, inbound <-chan protocol.Message, states <-chan ConnectionState) error {
	var renew <-chan time.Time
	if c.renew > 0 {
		ticker := time.NewTicker(c.renew)
		defer ticker.Stop()
		renew = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-renew:
			c.RenewLeases()
		case state, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			// States can trail inbound messages, so only reset if the session has
			// not already come back.
			if state != StateConnected && c.transport.State() != StateConnected {
				c.reset()
			}
		case msg, ok := <-inbound:
			if !ok {
				c.reset()
				return nil
			}
			c.Apply(msg)
		}
	}
}

// Apply folds one server message into the mirror.
func (c *Coordinator) Apply(msg protocol.Message) {
	var rerequest []string

	c.mu.Lock()
	switch msg.Type {
	case protocol.TypeCollaboratorsList:
		// A fresh connection: nothing from the previous one can be trusted.
		c.clearLocked()
		c.self = msg.ConnectionID
		for _, collaborator := range msg.Collaborators {
			c.collaborators[collaborator.ConnectionID] = collaborator
		}
		rerequest = c.editingLocked()
	case protocol.TypeUserJoined:
		c.collaborators[msg.ConnectionID] = protocol.Collaborator{
			UserID:       msg.UserID,
			Username:     msg.Username,
			ConnectionID: msg.ConnectionID,
		}
	case protocol.TypeUserLeft:
		delete(c.collaborators, msg.ConnectionID)
	case protocol.TypeSectionLocked:
		c.locks[msg.Section] = Lock{
			Section:      msg.Section,
			UserID:       msg.UserID,
			Username:     msg.Username,
			ConnectionID: msg.ConnectionID,
		}
		delete(c.denials, msg.Section)
	case protocol.TypeSectionUnlocked:
		// Losing a lock we are still editing, e.g. to idle expiry, means asking
		// for it again; whoever wins the race is broadcast as usual.
		if c.heldByMeLocked(msg.Section) && c.isEditingLocked(msg.Section) {
			rerequest = append(rerequest, msg.Section)
			c.log.Info("lock lost while editing, requesting again",
				zap.String("section", msg.Section), zap.String("reason", msg.Reason))
		}
		delete(c.locks, msg.Section)
	case protocol.TypeError:
		if msg.Code == protocol.CodeSectionLocked && msg.Section != "" {
			c.denials[msg.Section] = msg.Username
			delete(c.editing, msg.Section)
		} else {
			c.log.Warn("server reported an error", zap.String("code", msg.Code), zap.String("message", msg.Message))
		}
	case protocol.TypePong:
		c.mu.Unlock()
		return
	default:
		c.mu.Unlock()
		c.log.Debug("ignoring unknown message", zap.String("type", msg.Type))
		return
	}
	c.mu.Unlock()

	for _, section := range rerequest {
		if err := c.transport.Send(protocol.Request{Type: protocol.TypeSectionLock, Section: section}); err != nil {
			c.log.Warn("re-request section lock failed", zap.String("section", section), zap.Error(err))
		}
	}
	c.notify()
}

// EnterSection asks for the lock on section unless this connection already holds it.
func (c *Coordinator) EnterSection(section string) error {
	section = strings.TrimSpace(section)
	if c.transport.State() != StateConnected {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.editing[section] = struct{}{}
	held := c.heldByMeLocked(section)
	c.mu.Unlock()

	if held {
		return nil
	}
	return c.transport.Send(protocol.Request{Type: protocol.TypeSectionLock, Section: section})
}

// RenewLeases re-requests every section this connection holds and is editing and
// returns how many requests were sent. Re-requesting a held lock only refreshes
// it on the server; nothing is broadcast.
func (c *Coordinator) RenewLeases() int {
	if c.transport.State() != StateConnected {
		return 0
	}

	c.mu.RLock()
	var sections []string
	for _, section := range c.editingLocked() {
		if c.heldByMeLocked(section) {
			sections = append(sections, section)
		}
	}
	c.mu.RUnlock()

	sent := 0
	for _, section := range sections {
		if err := c.transport.Send(protocol.Request{Type: protocol.TypeSectionLock, Section: section}); err != nil {
			c.log.Warn("renew section lock failed", zap.String("section", section), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// LeaveSection stops editing section and releases its lock.
func (c *Coordinator) LeaveSection(section string) error {
	section = strings.TrimSpace(section)

	c.mu.Lock()
	delete(c.editing, section)
	c.mu.Unlock()

	if c.transport.State() != StateConnected {
		return ErrNotConnected
	}
	return c.transport.Send(protocol.Request{Type: protocol.TypeSectionUnlock, Section: section})
}

// IsLockedByOther reports whether another connection holds section.
func (c *Coordinator) IsLockedByOther(section string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lock, ok := c.locks[section]
	return ok && lock.ConnectionID != c.self
}

// HeldByMe reports whether this connection holds section.
func (c *Coordinator) HeldByMe(section string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.heldByMeLocked(section)
}

// Holder returns the mirrored lock on section.
func (c *Coordinator) Holder(section string) (Lock, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lock, ok := c.locks[section]
	return lock, ok
}

// Denial returns the holder name from the last refused request for section.
func (c *Coordinator) Denial(section string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.denials[section]
	return name, ok
}

// Self returns this connection's id as assigned by the server, empty while offline.
func (c *Coordinator) Self() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Collaborators returns the mirrored presence sorted by username then connection id.
func (c *Coordinator) Collaborators() []protocol.Collaborator {
	c.mu.RLock()
	out := make([]protocol.Collaborator, 0, len(c.collaborators))
	for _, collaborator := range c.collaborators {
		out = append(out, collaborator)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

// Locks returns the mirrored locks sorted by section.
func (c *Coordinator) Locks() []Lock {
	c.mu.RLock()
	out := make([]Lock, 0, len(c.locks))
	for _, lock := range c.locks {
		out = append(out, lock)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Section < out[j].Section })
	return out
}

func (c *Coordinator) reset() {
	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) clearLocked() {
	c.self = ""
	clear(c.collaborators)
	clear(c.locks)
	clear(c.denials)
}

func (c *Coordinator) heldByMeLocked(section string) bool {
	lock, ok := c.locks[section]
	return ok && c.self != "" && lock.ConnectionID == c.self
}

func (c *Coordinator) isEditingLocked(section string) bool {
	_, ok := c.editing[section]
	return ok
}

func (c *Coordinator) editingLocked() []string {
	out := make([]string, 0, len(c.editing))
	for section := range c.editing {
		out = append(out, section)
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
