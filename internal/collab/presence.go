package collab

import (
	"sort"
)

// PresenceRegistry tracks the collaborators attached to one document. It is not safe
// for concurrent use; the owning Channel serialises access.
type PresenceRegistry struct {
	members map[string]Collaborator
}

// NewPresenceRegistry constructs an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{members: make(map[string]Collaborator)}
}

// Join adds the collaborator and returns the full member list including it.
func (r *PresenceRegistry) Join(c Collaborator) ([]Collaborator, error) {
	if _, exists := r.members[c.ConnectionID]; exists {
		return nil, ErrAlreadyJoined
	}
	r.members[c.ConnectionID] = c
	return r.List(), nil
}

// Leave removes the collaborator. The boolean is false when it was not present.
func (r *PresenceRegistry) Leave(connectionID string) (Collaborator, bool) {
	c, ok := r.members[connectionID]
	if !ok {
		return Collaborator{}, false
	}
	delete(r.members, connectionID)
	return c, true
}

// Get returns the collaborator for a connection id.
func (r *PresenceRegistry) Get(connectionID string) (Collaborator, bool) {
	c, ok := r.members[connectionID]
	return c, ok
}

// List returns members ordered by join time.
func (r *PresenceRegistry) List() []Collaborator {
	out := make([]Collaborator, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Len returns the number of attached collaborators.
func (r *PresenceRegistry) Len() int {
	return len(r.members)
}
