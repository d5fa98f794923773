// Package session implements the per-connection Session façade (C13): the
// thing a connection's read loop holds to know which UserID, if any, it is
// currently authenticated as, and to reach the Manager for everything else.
//
// Grounded on JsonMessageProcess in original_source (one instance per
// connection, constructed with a user ID, exposing getLocalUserID alongside
// message dispatch). The Go split is a thin Session type here plus the
// command table in internal/dispatch, rather than one class doing both.
package session

import (
	"sync"

	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/user"
)

// Manager is the subset of *manager.Manager a Session needs. Declared here,
// rather than imported from internal/manager, so this package has no
// dependency on the registry's concrete type.
type Manager interface {
	GetUser(identity.UserID) (*user.User, bool)
	RegisterConnection(handle user.ConnectionHandle) error
	BindConnection(handle user.ConnectionHandle, userID identity.UserID, device user.DeviceType, send func([]byte)) error
	RemoveConnection(handle user.ConnectionHandle)
}

// Session holds the authentication state for one live connection. Reads
// (almost every command handler) take the shared lock; only login and
// logout take the exclusive lock to change the bound UserID.
//
// No lock is ever held across a suspension point: callers read the UserID
// under lock, release it, then call out to Manager/User methods that do
// their own locking.
type Session struct {
	handle user.ConnectionHandle
	mgr    Manager
	send   func([]byte)

	mu     sync.RWMutex
	userID identity.UserID
	device user.DeviceType
	authed bool
}

// New builds a Session for a freshly-accepted connection, not yet
// authenticated. send is the connection's write strand, bound to the User
// on Login and handed to every device the user attaches from elsewhere.
func New(handle user.ConnectionHandle, mgr Manager, send func([]byte)) *Session {
	return &Session{handle: handle, mgr: mgr, send: send, userID: identity.NoUser}
}

// Handle returns the connection handle this session was built for.
func (s *Session) Handle() user.ConnectionHandle { return s.handle }

// Register records this connection with the Manager, unbound. Must be
// called once before Login and before any command that touches the
// connection table.
func (s *Session) Register() error { return s.mgr.RegisterConnection(s.handle) }

// UserID returns the currently-bound UserID and whether the session is
// authenticated at all.
func (s *Session) UserID() (identity.UserID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.authed
}

// User resolves the currently-bound User, if authenticated and still
// registered.
func (s *Session) User() (*user.User, bool) {
	id, ok := s.UserID()
	if !ok {
		return nil, false
	}
	return s.mgr.GetUser(id)
}

// Login binds this connection to userID under the given device type,
// replacing whatever was previously bound (rebind semantics are Manager's
// concern, via BindConnection).
func (s *Session) Login(userID identity.UserID, device user.DeviceType) error {
	if err := s.mgr.BindConnection(s.handle, userID, device, s.send); err != nil {
		return err
	}
	s.mu.Lock()
	s.userID, s.device, s.authed = userID, device, true
	s.mu.Unlock()
	return nil
}

// Logout unbinds the connection entirely. Safe to call on an
// already-unauthenticated session.
func (s *Session) Logout() {
	s.mgr.RemoveConnection(s.handle)
	s.mu.Lock()
	s.userID, s.authed = identity.NoUser, false
	s.mu.Unlock()
}

// Device returns the last device type the client declared, zero value if
// never authenticated.
func (s *Session) Device() user.DeviceType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}
