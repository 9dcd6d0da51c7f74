package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client to server message types.
const (
	TypeSectionLock   = "section_lock"
	TypeSectionUnlock = "section_unlock"
	TypePing          = "ping"
)

// Server to client message types.
const (
	TypeCollaboratorsList = "collaborators_list"
	TypeUserJoined        = "user_joined"
	TypeUserLeft          = "user_left"
	TypeSectionLocked     = "section_locked"
	TypeSectionUnlocked   = "section_unlocked"
	TypeError             = "error"
	TypePong              = "pong"
)

// Error codes carried by TypeError messages.
const (
	CodeSectionLocked  = "section_locked"
	CodeInvalidMessage = "invalid_message"
	CodeUnsupported    = "unsupported_type"
)

// Unlock reasons carried by TypeSectionUnlocked messages.
const (
	ReasonReleased     = "released"
	ReasonDisconnected = "disconnected"
	ReasonExpired      = "expired"
)

// MaxSectionLength bounds the size of a section identifier.
const MaxSectionLength = 256

// ErrEmptyPayload is returned when a frame carries no data.
var ErrEmptyPayload = errors.New("protocol: empty payload")

// Request is a client to server envelope.
type Request struct {
	Type    string `json:"type" validate:"required,oneof=section_lock section_unlock ping"`
	Section string `json:"section,omitempty" validate:"required_unless=Type ping,max=256,section"`
}

// Collaborator describes one live connection in a collaborators_list snapshot.
type Collaborator struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// Message is a server to client envelope. Only the fields relevant to Type are populated.
type Message struct {
	Type          string         `json:"type"`
	Section       string         `json:"section,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Username      string         `json:"username,omitempty"`
	ConnectionID  string         `json:"connection_id,omitempty"`
	Collaborators []Collaborator `json:"collaborators,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Code          string         `json:"code,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// DecodeRequest parses a raw frame into a Request. Type is normalised to lower case
// and the section identifier is trimmed.
func DecodeRequest(payload []byte) (Request, error) {
	if len(payload) == 0 {
		return Request{}, ErrEmptyPayload
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, fmt.Errorf("protocol: decode request: %w", err)
	}

	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.Section = strings.TrimSpace(req.Section)
	return req, nil
}

// ErrorMessage builds an error reply.
func ErrorMessage(code, message string) Message {
	return Message{Type: TypeError, Code: code, Message: message}
}

// LockDenied builds the private reply sent to a requester whose lock was refused.
func LockDenied(section, holderUserID, holderName string) Message {
	return Message{
		Type:     TypeError,
		Code:     CodeSectionLocked,
		Section:  section,
		UserID:   holderUserID,
		Username: holderName,
		Message:  fmt.Sprintf("section %q is locked by %s", section, holderName),
	}
}
