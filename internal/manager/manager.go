// Package manager implements the Manager registry (C11): the single
// process-wide owner of every User, PrivateRoom, GroupRoom, and the
// connection→UserID table, plus the ID allocators they share.
//
// Manager owns Users and Rooms strongly; it hands Rooms a lookup closure
// rather than a direct reference to each User, which is how this codebase
// expresses the design notes' "Rooms hold weak references to Users":
// a terminated User simply stops resolving through the closure instead of
// being kept alive by a Room's reference to it.
package manager

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/qls-chat/qls-server/internal/grouproom"
	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/privateroom"
	"github.com/qls-chat/qls-server/internal/qlserrors"
	"github.com/qls-chat/qls-server/internal/room"
	"github.com/qls-chat/qls-server/internal/user"
	"github.com/qls-chat/qls-server/internal/verification"
)

// idStart is the first value handed out by every allocator, matching the
// original source's three counters.
const idStart = 10000

type allocator struct{ next atomic.Int64 }

func newAllocator() *allocator {
	a := &allocator{}
	a.next.Store(idStart)
	return a
}

func (a *allocator) take() int64 { return a.next.Add(1) - 1 }

// Manager is the registry. Zero value is not usable; build with New.
type Manager struct {
	userIDs        *allocator
	privateRoomIDs *allocator
	groupRoomIDs   *allocator

	usersMu sync.RWMutex
	users   map[identity.UserID]*user.User

	// privateRoomsMu guards both privateRooms and keyToPR together; the
	// spec's "single lock-pair discipline, always locked in declared
	// order" collapses cleanly into one lock since the two maps are never
	// meaningfully read independently.
	privateRoomsMu sync.RWMutex
	privateRooms   map[identity.GroupID]*privateroom.Room
	keyToPR        map[identity.PrivateRoomKey]identity.GroupID

	groupRoomsMu sync.RWMutex
	groupRooms   map[identity.GroupID]*grouproom.Room

	connMu      sync.RWMutex
	connections map[user.ConnectionHandle]identity.UserID

	Verification *verification.Engine
}

// New builds an empty Manager with its verification engine wired to the
// Manager itself (it implements Directory, FriendEffects, and GroupEffects).
func New() *Manager {
	m := &Manager{
		userIDs:        newAllocator(),
		privateRoomIDs: newAllocator(),
		groupRoomIDs:   newAllocator(),
		users:          make(map[identity.UserID]*user.User),
		privateRooms:   make(map[identity.GroupID]*privateroom.Room),
		keyToPR:        make(map[identity.PrivateRoomKey]identity.GroupID),
		groupRooms:     make(map[identity.GroupID]*grouproom.Room),
		connections:    make(map[user.ConnectionHandle]identity.UserID),
	}
	m.Verification = verification.New(m, m, m)
	return m
}

// VerificationEngine returns the Manager's verification engine, for
// dispatcher handlers that need to drive handshakes directly.
func (m *Manager) VerificationEngine() *verification.Engine { return m.Verification }

func (m *Manager) userLookup(u identity.UserID) (room.Notifier, bool) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()
	usr, ok := m.users[u]
	if !ok {
		return nil, false
	}
	return usr, true
}

// AddNewUser allocates a UserID, creates the User, installs its initial
// password, and registers it. userName defaults to email's local part when
// empty.
func (m *Manager) AddNewUser(userName, email, password string) (identity.UserID, error) {
	if userName == "" {
		userName, _, _ = strings.Cut(email, "@")
	}
	id := identity.UserID(m.userIDs.take())
	u := user.New(id, userName, email, m.Verification)
	if err := u.FirstSetPassword(password); err != nil {
		return 0, err
	}
	m.usersMu.Lock()
	m.users[id] = u
	m.usersMu.Unlock()
	return id, nil
}

// ChangePassword authenticates and rotates the credential for id, routed
// through Manager (rather than called on the User directly) so a
// persistence layer can mirror the write; see internal/persistence.
func (m *Manager) ChangePassword(id identity.UserID, old, new string) error {
	u, ok := m.GetUser(id)
	if !ok {
		return qlserrors.ErrUserNotExisted
	}
	return u.ChangePassword(old, new)
}

// HasUser reports whether a user with this ID is registered.
func (m *Manager) HasUser(id identity.UserID) bool {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()
	_, ok := m.users[id]
	return ok
}

// UserExists implements verification.Directory.
func (m *Manager) UserExists(u identity.UserID) bool { return m.HasUser(u) }

// GetUser returns the User for id, if registered.
func (m *Manager) GetUser(id identity.UserID) (*user.User, bool) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()
	u, ok := m.users[id]
	return u, ok
}

// UserList returns a snapshot of every registered UserID.
func (m *Manager) UserList() []identity.UserID {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()
	out := make([]identity.UserID, 0, len(m.users))
	for id := range m.users {
		out = append(out, id)
	}
	return out
}

// AreFriends implements verification.Directory.
func (m *Manager) AreFriends(a, b identity.UserID) bool {
	ua, ok := m.GetUser(a)
	if !ok {
		return false
	}
	return ua.HasFriend(b)
}

// Notify implements verification.Directory: deliver payload to every
// connection attached to u, if u is registered.
func (m *Manager) Notify(u identity.UserID, payload []byte) {
	if usr, ok := m.GetUser(u); ok {
		usr.NotifyAll(payload)
	}
}

// CommitFriendship implements verification.FriendEffects: links both
// users' friend sets and creates their PrivateRoom.
func (m *Manager) CommitFriendship(a, b identity.UserID) error {
	ua, ok := m.GetUser(a)
	if !ok {
		return qlserrors.ErrUserNotExisted
	}
	ub, ok := m.GetUser(b)
	if !ok {
		return qlserrors.ErrUserNotExisted
	}
	ua.LinkFriend(b)
	ub.LinkFriend(a)
	if _, err := m.addPrivateRoom(a, b); err != nil && err != qlserrors.ErrPrivateRoomExisted {
		return err
	}
	return nil
}

// RemoveFriend severs the friendship symmetrically and tears down the
// PrivateRoom, if any.
func (m *Manager) RemoveFriend(a, b identity.UserID) error {
	ua, ok := m.GetUser(a)
	if !ok {
		return qlserrors.ErrUserNotExisted
	}
	ub, ok := m.GetUser(b)
	if !ok {
		return qlserrors.ErrUserNotExisted
	}
	if !ua.HasFriend(b) {
		return qlserrors.ErrPrivateRoomNotExisted
	}
	ua.UnlinkFriend(b)
	ub.UnlinkFriend(a)
	_ = m.removePrivateRoom(a, b)
	return nil
}

func (m *Manager) addPrivateRoom(a, b identity.UserID) (identity.GroupID, error) {
	key := identity.NewPrivateRoomKey(a, b)

	m.privateRoomsMu.Lock()
	defer m.privateRoomsMu.Unlock()
	if id, ok := m.keyToPR[key]; ok {
		return id, qlserrors.ErrPrivateRoomExisted
	}
	id := identity.GroupID(m.privateRoomIDs.take())
	pr := privateroom.New(id, key, m.userLookup)
	m.privateRooms[id] = pr
	m.keyToPR[key] = id
	return id, nil
}

func (m *Manager) removePrivateRoom(a, b identity.UserID) error {
	key := identity.NewPrivateRoomKey(a, b)

	m.privateRoomsMu.Lock()
	defer m.privateRoomsMu.Unlock()
	id, ok := m.keyToPR[key]
	if !ok {
		return qlserrors.ErrPrivateRoomNotExisted
	}
	if pr, ok := m.privateRooms[id]; ok {
		pr.RemoveRoom()
	}
	delete(m.privateRooms, id)
	delete(m.keyToPR, key)
	return nil
}

// HasPrivateRoom reports whether a and b already share a PrivateRoom.
func (m *Manager) HasPrivateRoom(a, b identity.UserID) bool {
	m.privateRoomsMu.RLock()
	defer m.privateRoomsMu.RUnlock()
	_, ok := m.keyToPR[identity.NewPrivateRoomKey(a, b)]
	return ok
}

// GetPrivateRoom returns the PrivateRoom shared by a and b, if any.
func (m *Manager) GetPrivateRoom(a, b identity.UserID) (*privateroom.Room, bool) {
	m.privateRoomsMu.RLock()
	defer m.privateRoomsMu.RUnlock()
	id, ok := m.keyToPR[identity.NewPrivateRoomKey(a, b)]
	if !ok {
		return nil, false
	}
	pr, ok := m.privateRooms[id]
	return pr, ok
}

// PrivateRoomCount reports the number of live PrivateRooms, for metrics.
func (m *Manager) PrivateRoomCount() int {
	m.privateRoomsMu.RLock()
	defer m.privateRoomsMu.RUnlock()
	return len(m.privateRooms)
}

// GroupRoomCount reports the number of live GroupRooms, for metrics.
func (m *Manager) GroupRoomCount() int {
	m.groupRoomsMu.RLock()
	defer m.groupRoomsMu.RUnlock()
	return len(m.groupRooms)
}

// CreateGroup allocates a new GroupRoom with creator as administrator.
func (m *Manager) CreateGroup(creator identity.UserID) (identity.GroupID, error) {
	if !m.HasUser(creator) {
		return 0, qlserrors.ErrUserNotExisted
	}
	id := identity.GroupID(m.groupRoomIDs.take())
	gr := grouproom.New(id, creator, m.userLookup)

	m.groupRoomsMu.Lock()
	m.groupRooms[id] = gr
	m.groupRoomsMu.Unlock()

	if u, ok := m.GetUser(creator); ok {
		u.JoinGroup(id)
	}
	return id, nil
}

// GroupExists implements verification.GroupEffects.
func (m *Manager) GroupExists(g identity.GroupID) bool {
	m.groupRoomsMu.RLock()
	defer m.groupRoomsMu.RUnlock()
	_, ok := m.groupRooms[g]
	return ok
}

// GetGroupRoom returns the GroupRoom for g, if any.
func (m *Manager) GetGroupRoom(g identity.GroupID) (*grouproom.Room, bool) {
	m.groupRoomsMu.RLock()
	defer m.groupRoomsMu.RUnlock()
	gr, ok := m.groupRooms[g]
	return gr, ok
}

// GroupAdmin implements verification.GroupEffects.
func (m *Manager) GroupAdmin(g identity.GroupID) (identity.UserID, bool) {
	gr, ok := m.GetGroupRoom(g)
	if !ok {
		return 0, false
	}
	return gr.Administrator(), true
}

// CommitGroupMembership implements verification.GroupEffects: adds u as a
// group member and records the membership on the User's group set.
func (m *Manager) CommitGroupMembership(g identity.GroupID, u identity.UserID) error {
	gr, ok := m.GetGroupRoom(g)
	if !ok {
		return qlserrors.ErrGroupRoomNotExisted
	}
	usr, ok := m.GetUser(u)
	if !ok {
		return qlserrors.ErrUserNotExisted
	}
	level, _ := grouproom.NewUserLevel(1)
	if err := gr.AddMember(u, usr.UserName(), level); err != nil {
		return err
	}
	usr.JoinGroup(g)
	return nil
}

// RemoveGroup destroys a group room. Admin-only: it fails with
// ErrPermissionDenied unless requester is the group's administrator. The
// remove_group command does no check of its own and relies on this one.
func (m *Manager) RemoveGroup(requester identity.UserID, g identity.GroupID) error {
	gr, ok := m.GetGroupRoom(g)
	if !ok {
		return qlserrors.ErrGroupRoomNotExisted
	}
	if gr.Administrator() != requester {
		return qlserrors.ErrPermissionDenied
	}
	members := gr.Members()
	gr.RemoveRoom()

	m.groupRoomsMu.Lock()
	delete(m.groupRooms, g)
	m.groupRoomsMu.Unlock()

	for _, member := range members {
		if usr, ok := m.GetUser(member); ok {
			usr.LeaveGroup(g)
		}
	}
	return nil
}

// LeaveGroup removes u from g, both the room's membership and the user's
// group set.
func (m *Manager) LeaveGroup(u identity.UserID, g identity.GroupID) error {
	gr, ok := m.GetGroupRoom(g)
	if !ok {
		return qlserrors.ErrGroupRoomNotExisted
	}
	if err := gr.RemoveMember(u); err != nil {
		return err
	}
	if usr, ok := m.GetUser(u); ok {
		usr.LeaveGroup(g)
	}
	return nil
}

// RegisterConnection registers a newly-handshaked connection, unbound
// (sentinel UserID). Fails with ErrSocketPointerExisted if already
// registered.
func (m *Manager) RegisterConnection(handle user.ConnectionHandle) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if _, ok := m.connections[handle]; ok {
		return qlserrors.ErrSocketPointerExisted
	}
	m.connections[handle] = identity.NoUser
	return nil
}

// ConnectionUser returns the UserID currently bound to handle. ok is false
// if the connection is not registered at all.
func (m *Manager) ConnectionUser(handle user.ConnectionHandle) (identity.UserID, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	id, ok := m.connections[handle]
	return id, ok
}

// BindConnection binds handle to userID with the given device type and
// write callback, detaching it from any previously-bound user first.
func (m *Manager) BindConnection(handle user.ConnectionHandle, userID identity.UserID, device user.DeviceType, send func([]byte)) error {
	m.connMu.Lock()
	prev, ok := m.connections[handle]
	if !ok {
		m.connMu.Unlock()
		return qlserrors.ErrSocketPointerNotExisted
	}
	m.connections[handle] = userID
	m.connMu.Unlock()

	if prev != identity.NoUser && prev != userID {
		if prevUser, ok := m.GetUser(prev); ok {
			prevUser.Detach(handle)
		}
	}
	if usr, ok := m.GetUser(userID); ok {
		usr.Attach(handle, device, send)
	}
	return nil
}

// RemoveConnection deregisters handle, detaching it from its bound user if
// any.
func (m *Manager) RemoveConnection(handle user.ConnectionHandle) {
	m.connMu.Lock()
	bound, ok := m.connections[handle]
	delete(m.connections, handle)
	m.connMu.Unlock()
	if !ok || bound == identity.NoUser {
		return
	}
	if usr, ok := m.GetUser(bound); ok {
		usr.Detach(handle)
	}
}
