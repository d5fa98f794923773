// Package datastore defines the persistence seam: an opaque store behind
// a narrow interface, outside the in-process core's scope. The core
// (internal/manager, internal/user, ...) never imports
// this package directly. Callers at the dispatch/bootstrap layer hold a
// DataManager and call it alongside the in-memory registry, the way
// original_source keeps its SQL layer behind a handful of free functions
// the manager calls into.
package datastore

import (
	"context"

	"github.com/qls-chat/qls-server/internal/identity"
)

// DataManager is the persistence surface this server needs: enough to
// durably store a password credential and verify it later, with
// everything else (rooms, friendships, messages) treated as in-memory
// state the process rebuilds from reconnecting clients.
type DataManager interface {
	// AddNewUser records a freshly-allocated user's password credential.
	AddNewUser(ctx context.Context, userID identity.UserID, passwordHash, salt []byte) error

	// ChangePassword overwrites userID's stored credential.
	ChangePassword(ctx context.Context, userID identity.UserID, newHash, newSalt []byte) error

	// VerifyPassword reports whether password matches userID's stored
	// credential. Returns an error only for persistence failures, not for
	// a wrong password; that is reported as (false, nil).
	VerifyPassword(ctx context.Context, userID identity.UserID, password string) (bool, error)
}
