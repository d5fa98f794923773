// Package permission implements the named-permission / role-level table
// used inside a group: a permission name maps to a required Role, a user
// maps to a granted Role, and access is granted iff the user's role is at
// least the permission's required role.
package permission

import (
	"errors"
	"sync"
)

// Role is an ordered privilege level. Higher values outrank lower ones.
type Role int

const (
	Default Role = iota
	Operator
	Administrator
)

func (r Role) String() string {
	switch r {
	case Default:
		return "default"
	case Operator:
		return "operator"
	case Administrator:
		return "administrator"
	default:
		return "unknown"
	}
}

var (
	ErrNoPermission   = errors.New("no_permission")
	ErrUserNotExisted = errors.New("user_not_existed")
)

// Table is a single group's permission table: named permissions with their
// required role, and per-user granted roles. Zero value is ready to use.
type Table struct {
	mu    sync.RWMutex
	perms map[string]Role
	users map[int64]Role
}

// NewTable builds an empty table.
func NewTable() *Table {
	return &Table{perms: make(map[string]Role), users: make(map[int64]Role)}
}

// Define upserts a permission's required role.
func (t *Table) Define(name string, required Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perms[name] = required
}

// Remove deletes a permission definition. Fails with ErrNoPermission if
// the permission is unknown.
func (t *Table) Remove(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.perms[name]; !ok {
		return ErrNoPermission
	}
	delete(t.perms, name)
	return nil
}

// SetUserRole upserts a user's granted role.
func (t *Table) SetUserRole(userID int64, role Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users[userID] = role
}

// RemoveUser drops a user's role entry entirely (used when a member leaves
// or is kicked from the owning group).
func (t *Table) RemoveUser(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, userID)
}

// UserRole returns a user's granted role. ok is false if the user has no
// entry.
func (t *Table) UserRole(userID int64) (Role, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.users[userID]
	return r, ok
}

// UserHas reports whether userID's granted role meets or exceeds the
// required role for perm. Requires both the user and the permission to
// exist.
func (t *Table) UserHas(userID int64, perm string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	required, ok := t.perms[perm]
	if !ok {
		return false, ErrNoPermission
	}
	granted, ok := t.users[userID]
	if !ok {
		return false, ErrUserNotExisted
	}
	return granted >= required, nil
}

// ListByRole returns every user currently granted exactly role. The result
// is a snapshot taken under a read lock; it is not live.
func (t *Table) ListByRole(role Role) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []int64
	for u, r := range t.users {
		if r == role {
			out = append(out, u)
		}
	}
	return out
}
