// Package persistence wires the opaque DataManager adapter (C16) to the
// in-memory core without internal/manager ever importing internal/datastore
// itself. Persistence is treated as "an opaque store" outside the
// core's scope, so the core stays storage-agnostic and this package is the
// only thing that knows a durable store exists.
//
// Manager decorates *manager.Manager: every write that rotates a
// credential also mirrors it into a datastore.DataManager after the
// in-memory write succeeds. A mirror failure is logged and swallowed
// rather than surfaced to the caller, since the in-memory User is the
// authoritative state for a live session regardless of whether the
// durable copy landed.
package persistence

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/qls-chat/qls-server/internal/datastore"
	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/manager"
)

// Manager wraps *manager.Manager, mirroring credential writes into store.
// It satisfies dispatch.Manager and session.Manager through the embedded
// *manager.Manager, with AddNewUser and ChangePassword shadowed below.
type Manager struct {
	*manager.Manager
	store datastore.DataManager
	log   zerolog.Logger
}

// New builds a persistence-backed Manager. store must not be nil.
func New(mgr *manager.Manager, store datastore.DataManager, logger zerolog.Logger) *Manager {
	return &Manager{Manager: mgr, store: store, log: logger.With().Str("component", "persistence").Logger()}
}

// AddNewUser allocates the user in the in-memory core, then mirrors its
// freshly-hashed credential into the durable store.
func (m *Manager) AddNewUser(userName, email, password string) (identity.UserID, error) {
	id, err := m.Manager.AddNewUser(userName, email, password)
	if err != nil {
		return 0, err
	}
	m.mirror(id)
	return id, nil
}

// ChangePassword rotates the credential in the in-memory core, then
// mirrors the new hash into the durable store.
func (m *Manager) ChangePassword(id identity.UserID, old, newPassword string) error {
	if err := m.Manager.ChangePassword(id, old, newPassword); err != nil {
		return err
	}
	m.mirror(id)
	return nil
}

// mirror copies id's current credential into the store. AddNewUser is
// tried first since it is the common case; ChangePassword's "not found"
// path covers the rotation case without the caller needing to track which
// of the two the store has already seen.
func (m *Manager) mirror(id identity.UserID) {
	u, ok := m.GetUser(id)
	if !ok {
		return
	}
	hash, salt := u.Credential()
	if hash == nil {
		return
	}

	ctx := context.Background()
	if err := m.store.AddNewUser(ctx, id, hash, salt); err != nil {
		if err := m.store.ChangePassword(ctx, id, hash, salt); err != nil {
			m.log.Warn().Err(err).Int64("user_id", int64(id)).Msg("failed to mirror credential to durable store")
		}
	}
}
