// Package room implements the generic membership + fan-out primitive
// shared by PrivateRoom and GroupRoom: a set of member UserIDs plus a way
// to reach each member's live connections without the room itself holding
// a strong reference to the User object.
package room

import (
	"sync"

	"github.com/qls-chat/qls-server/internal/identity"
)

// Notifier is the subset of User a room needs to fan a frame out to every
// attached connection. Rooms never hold a *user.User directly: holding an
// interface satisfied via a lookup closure is how this codebase expresses
// the "weak reference to member Users" from the design notes.
type Notifier interface {
	NotifyAll(data []byte)
}

// Lookup resolves a member's live Notifier. ok is false if the user has
// been removed from the registry (the "terminated User" case). In that
// case the room silently skips it rather than keeping the user alive.
type Lookup func(identity.UserID) (Notifier, bool)

// Room is the generic membership set with fan-out. It owns no message
// storage; that lives one layer up in PrivateRoom/GroupRoom.
type Room struct {
	mu      sync.RWMutex
	members map[identity.UserID]struct{}
	lookup  Lookup
}

// New builds an empty Room. lookup must be supplied by the owning registry
// (the Manager) so members can be resolved without a strong reference.
func New(lookup Lookup) *Room {
	return &Room{members: make(map[identity.UserID]struct{}), lookup: lookup}
}

// AddMember inserts u into the membership set. Idempotent.
func (r *Room) AddMember(u identity.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[u] = struct{}{}
}

// RemoveMember deletes u from the membership set. Idempotent.
func (r *Room) RemoveMember(u identity.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, u)
}

// HasMember reports membership.
func (r *Room) HasMember(u identity.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[u]
	return ok
}

// Members returns a snapshot of the membership set.
func (r *Room) Members() []identity.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]identity.UserID, 0, len(r.members))
	for u := range r.members {
		out = append(out, u)
	}
	return out
}

// Count returns the number of members.
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// SendAll fans data out to every live member's attached connections. A
// member whose Notifier cannot be resolved (a terminated User) is skipped
// silently.
func (r *Room) SendAll(data []byte) {
	for _, u := range r.Members() {
		if n, ok := r.lookup(u); ok {
			n.NotifyAll(data)
		}
	}
}

// SendOne delivers data to exactly one member. It is a no-op, not an
// error, if the target is not a member, so callers cannot probe room
// membership by observing failures.
func (r *Room) SendOne(data []byte, u identity.UserID) {
	if !r.HasMember(u) {
		return
	}
	if n, ok := r.lookup(u); ok {
		n.NotifyAll(data)
	}
}
