package collab

import (
	"sort"
	"time"
)

// LockTable enforces at most one holder per section. It is not safe for concurrent
// use; the owning Channel serialises access.
type LockTable struct {
	locks map[string]*SectionLock
}

// NewLockTable constructs an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*SectionLock)}
}

// Acquire is a test-and-set on section. A request from the current holder is granted
// again and refreshes the lock's idle clock.
func (t *LockTable) Acquire(section string, holder Collaborator, now time.Time) LockResult {
	if existing, ok := t.locks[section]; ok {
		if existing.HolderConnectionID != holder.ConnectionID {
			return LockResult{Outcome: LockDenied, Lock: *existing}
		}
		existing.RefreshedAt = now
		return LockResult{Outcome: LockReacquired, Lock: *existing}
	}

	lock := &SectionLock{
		SectionID:          section,
		HolderConnectionID: holder.ConnectionID,
		HolderUserID:       holder.UserID,
		HolderName:         holder.DisplayName,
		AcquiredAt:         now,
		RefreshedAt:        now,
	}
	t.locks[section] = lock
	return LockResult{Outcome: LockGranted, Lock: *lock}
}

// Release removes the lock only when connectionID holds it.
func (t *LockTable) Release(section, connectionID string) (SectionLock, bool) {
	existing, ok := t.locks[section]
	if !ok || existing.HolderConnectionID != connectionID {
		return SectionLock{}, false
	}
	delete(t.locks, section)
	return *existing, true
}

// ReleaseAll removes every lock held by connectionID, ordered by section id.
func (t *LockTable) ReleaseAll(connectionID string) []SectionLock {
	return t.removeWhere(func(l *SectionLock) bool {
		return l.HolderConnectionID == connectionID
	})
}

// ExpireIdle removes every lock not refreshed since cutoff, ordered by section id.
func (t *LockTable) ExpireIdle(cutoff time.Time) []SectionLock {
	return t.removeWhere(func(l *SectionLock) bool {
		return l.RefreshedAt.Before(cutoff)
	})
}

// Holder returns the current lock on section, if any.
func (t *LockTable) Holder(section string) (SectionLock, bool) {
	existing, ok := t.locks[section]
	if !ok {
		return SectionLock{}, false
	}
	return *existing, true
}

// List returns all locks ordered by section id.
func (t *LockTable) List() []SectionLock {
	out := make([]SectionLock, 0, len(t.locks))
	for _, l := range t.locks {
		out = append(out, *l)
	}
	sortLocks(out)
	return out
}

// Len returns the number of held locks.
func (t *LockTable) Len() int {
	return len(t.locks)
}

func (t *LockTable) removeWhere(match func(*SectionLock) bool) []SectionLock {
	var removed []SectionLock
	for section, l := range t.locks {
		if match(l) {
			removed = append(removed, *l)
			delete(t.locks, section)
		}
	}
	sortLocks(removed)
	return removed
}

func sortLocks(locks []SectionLock) {
	sort.Slice(locks, func(i, j int) bool {
		return locks[i].SectionID < locks[j].SectionID
	})
}
