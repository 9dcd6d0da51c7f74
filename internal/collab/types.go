// Package collab coordinates presence and per-section locks for collaboratively edited
// documents. Each document is served by a Channel whose state is mutated only on the
// channel's own goroutine, so every attached peer observes the same event order.
package collab

import (
	"errors"
	"time"

	"github.com/charlesng35/sectionlock/internal/protocol"
)

var (
	// ErrSectionLocked indicates the section is held by another connection.
	ErrSectionLocked = errors.New("collab: section locked by another collaborator")
	// ErrChannelNotFound is returned when no channel exists for the document.
	ErrChannelNotFound = errors.New("collab: document channel not found")
	// ErrChannelClosed is returned when the channel was disposed before the request ran.
	ErrChannelClosed = errors.New("collab: document channel closed")
	// ErrNotJoined is returned when a connection issues a request without being attached.
	ErrNotJoined = errors.New("collab: connection has not joined the document")
	// ErrAlreadyJoined is returned when a connection id is attached twice.
	ErrAlreadyJoined = errors.New("collab: connection already joined")
)

// Peer is one live connection attached to a document channel. Send must not block;
// it reports false when the message could not be queued.
type Peer interface {
	ConnectionID() string
	Send(msg protocol.Message) bool
	Close()
}

// Collaborator is one live connection participating in a document.
type Collaborator struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"username"`
	JoinedAt     time.Time `json:"joined_at"`
}

func (c Collaborator) wire() protocol.Collaborator {
	return protocol.Collaborator{
		UserID:       c.UserID,
		Username:     c.DisplayName,
		ConnectionID: c.ConnectionID,
	}
}

// SectionLock is exclusive editing permission on one section.
type SectionLock struct {
	SectionID          string    `json:"section"`
	HolderConnectionID string    `json:"connection_id"`
	HolderUserID       string    `json:"user_id"`
	HolderName         string    `json:"username"`
	AcquiredAt         time.Time `json:"acquired_at"`
	RefreshedAt        time.Time `json:"refreshed_at"`
}

func (l SectionLock) lockedMessage() protocol.Message {
	return protocol.Message{
		Type:         protocol.TypeSectionLocked,
		Section:      l.SectionID,
		UserID:       l.HolderUserID,
		Username:     l.HolderName,
		ConnectionID: l.HolderConnectionID,
	}
}

// LockOutcome classifies the result of a lock request.
type LockOutcome string

const (
	LockGranted    LockOutcome = "granted"
	LockReacquired LockOutcome = "reacquired"
	LockDenied     LockOutcome = "denied"
)

// LockResult reports the decision for a lock request together with the lock as it
// stands after the decision.
type LockResult struct {
	Outcome LockOutcome
	Lock    SectionLock
}

// Granted reports whether the requester holds the lock after the request.
func (r LockResult) Granted() bool {
	return r.Outcome == LockGranted || r.Outcome == LockReacquired
}

// Snapshot is a point-in-time copy of a channel's presence and locks.
type Snapshot struct {
	DocumentID    string         `json:"document_id"`
	Collaborators []Collaborator `json:"collaborators"`
	Locks         []SectionLock  `json:"locks"`
}

// Lock event actions persisted by an EventRecorder.
const (
	ActionAcquired     = "acquired"
	ActionReleased     = "released"
	ActionDisconnected = "disconnected"
	ActionExpired      = "expired"
)

// LockEvent describes one lock state transition for auditing.
type LockEvent struct {
	DocumentID   string
	SectionID    string
	ConnectionID string
	UserID       string
	Username     string
	Action       string
	HeldFor      time.Duration
	At           time.Time
}

// EventRecorder receives lock transitions. Record is invoked on the channel goroutine
// and must not block.
type EventRecorder interface {
	Record(event LockEvent)
}

type nopRecorder struct{}

func (nopRecorder) Record(LockEvent) {}
