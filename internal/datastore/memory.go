package datastore

import (
	"context"
	"fmt"
	"sync"

	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/passwordauth"
)

type credential struct {
	hash []byte
	salt []byte
}

// Memory is an in-memory DataManager, the default used outside of a
// Postgres-backed deployment and by every test in this repository.
type Memory struct {
	mu    sync.RWMutex
	users map[identity.UserID]credential
}

// NewMemory builds an empty Memory store.
func NewMemory() *Memory {
	return &Memory{users: make(map[identity.UserID]credential)}
}

func (m *Memory) AddNewUser(_ context.Context, userID identity.UserID, passwordHash, salt []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[userID]; exists {
		return fmt.Errorf("datastore: user %d already has a stored credential", userID)
	}
	m.users[userID] = credential{hash: passwordHash, salt: salt}
	return nil
}

func (m *Memory) ChangePassword(_ context.Context, userID identity.UserID, newHash, newSalt []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[userID]; !exists {
		return fmt.Errorf("datastore: user %d has no stored credential", userID)
	}
	m.users[userID] = credential{hash: newHash, salt: newSalt}
	return nil
}

func (m *Memory) VerifyPassword(_ context.Context, userID identity.UserID, password string) (bool, error) {
	m.mu.RLock()
	cred, exists := m.users[userID]
	m.mu.RUnlock()
	if !exists {
		return false, fmt.Errorf("datastore: user %d has no stored credential", userID)
	}
	return passwordauth.Verify(password, cred.salt, cred.hash), nil
}
