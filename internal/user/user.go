// Package user implements the User aggregate (C9): profile and
// credentials, friend/group sets, verification-engine delegation, and the
// set of attached connections fanned out to on notify.
package user

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/passwordauth"
	"github.com/qls-chat/qls-server/internal/qlserrors"
	"github.com/qls-chat/qls-server/internal/verification"
)

// DeviceType is the client-declared kind of device a connection represents.
type DeviceType int

const (
	DeviceUnknown DeviceType = iota
	DevicePersonalComputer
	DevicePhone
	DeviceWeb
)

// ParseDeviceType maps the wire strings accepted by the login command.
func ParseDeviceType(s string) DeviceType {
	switch s {
	case "PersonalComputer":
		return DevicePersonalComputer
	case "Phone":
		return DevicePhone
	case "Web":
		return DeviceWeb
	default:
		return DeviceUnknown
	}
}

// ConnectionHandle identifies one attached connection.
type ConnectionHandle = uuid.UUID

type connEntry struct {
	device DeviceType
	send   func([]byte)
}

// User is one registered account.
type User struct {
	id identity.UserID

	profileMu      sync.RWMutex
	userName       string
	registeredTime int64 // ms since epoch
	age            int
	email          string
	phone          string
	profile        string
	passwordHash   []byte
	passwordSalt   []byte

	friendsMu sync.RWMutex
	friends   map[identity.UserID]struct{}

	groupsMu sync.RWMutex
	groups   map[identity.GroupID]struct{}

	connMu sync.RWMutex
	conns  map[ConnectionHandle]connEntry

	verif *verification.Engine
}

// New builds a fresh User. email is stored as-is; password is set
// separately via FirstSetPassword.
func New(id identity.UserID, userName, email string, verif *verification.Engine) *User {
	return &User{
		id:             id,
		userName:       userName,
		email:          email,
		registeredTime: time.Now().UnixMilli(),
		friends:        make(map[identity.UserID]struct{}),
		groups:         make(map[identity.GroupID]struct{}),
		conns:          make(map[ConnectionHandle]connEntry),
		verif:          verif,
	}
}

// ID returns the user's identifier.
func (u *User) ID() identity.UserID { return u.id }

// Profile returns the current profile text under a shared lock.
func (u *User) Profile() string {
	u.profileMu.RLock()
	defer u.profileMu.RUnlock()
	return u.profile
}

// SetProfile installs new profile text under an exclusive lock. Callers
// are expected to have already sanitized text.
func (u *User) SetProfile(text string) {
	u.profileMu.Lock()
	defer u.profileMu.Unlock()
	u.profile = text
}

// UserName returns the display name.
func (u *User) UserName() string {
	u.profileMu.RLock()
	defer u.profileMu.RUnlock()
	return u.userName
}

// RegisteredTime returns the creation timestamp, ms since epoch.
func (u *User) RegisteredTime() int64 { return u.registeredTime }

// VerifyPassword hashes pw with the stored salt and compares in constant
// time. Fails with ErrPasswordMismatched (also when no password has been
// set yet).
func (u *User) VerifyPassword(pw string) error {
	u.profileMu.RLock()
	defer u.profileMu.RUnlock()
	if u.passwordHash == nil {
		return qlserrors.ErrPasswordMismatched
	}
	if !passwordauth.Verify(pw, u.passwordSalt, u.passwordHash) {
		return qlserrors.ErrPasswordMismatched
	}
	return nil
}

// Credential returns the stored password hash and salt, for mirroring into
// a durable store. Returns nil, nil if no password has been set yet.
func (u *User) Credential() (hash, salt []byte) {
	u.profileMu.RLock()
	defer u.profileMu.RUnlock()
	return u.passwordHash, u.passwordSalt
}

// FirstSetPassword installs the initial password. Fails with
// ErrPasswordAlreadySet if one exists.
func (u *User) FirstSetPassword(pw string) error {
	u.profileMu.Lock()
	defer u.profileMu.Unlock()
	if u.passwordHash != nil {
		return qlserrors.ErrPasswordAlreadySet
	}
	hash, salt, err := passwordauth.Hash(pw)
	if err != nil {
		return err
	}
	u.passwordHash, u.passwordSalt = hash, salt
	return nil
}

// ChangePassword authenticates old before installing new. No password
// policy is imposed here; any new password, including an empty one, is
// accepted.
func (u *User) ChangePassword(old, new string) error {
	if err := u.VerifyPassword(old); err != nil {
		return err
	}
	u.profileMu.Lock()
	defer u.profileMu.Unlock()
	hash, salt, err := passwordauth.Hash(new)
	if err != nil {
		return err
	}
	u.passwordHash, u.passwordSalt = hash, salt
	return nil
}

// Friends returns a snapshot of the friend set.
func (u *User) Friends() []identity.UserID {
	u.friendsMu.RLock()
	defer u.friendsMu.RUnlock()
	out := make([]identity.UserID, 0, len(u.friends))
	for f := range u.friends {
		out = append(out, f)
	}
	return out
}

// HasFriend reports membership in the friend set.
func (u *User) HasFriend(other identity.UserID) bool {
	u.friendsMu.RLock()
	defer u.friendsMu.RUnlock()
	_, ok := u.friends[other]
	return ok
}

// LinkFriend / UnlinkFriend are called by the Manager's CommitFriendship
// implementation and by friend removal, since friendship must stay
// symmetric across both Users' sets.
func (u *User) LinkFriend(other identity.UserID) {
	u.friendsMu.Lock()
	defer u.friendsMu.Unlock()
	u.friends[other] = struct{}{}
}

func (u *User) UnlinkFriend(other identity.UserID) {
	u.friendsMu.Lock()
	defer u.friendsMu.Unlock()
	delete(u.friends, other)
}

// AddFriend initiates a friend handshake toward other, acking the
// caller's own side immediately.
func (u *User) AddFriend(other identity.UserID) error {
	return u.verif.AddFriend(u.id, other)
}

// AcceptFriend acks this user's side of a pending handshake with other.
func (u *User) AcceptFriend(other identity.UserID) error {
	return u.verif.AcceptFriend(u.id, other)
}

// RejectFriend cancels a pending handshake with other.
func (u *User) RejectFriend(other identity.UserID) error {
	return u.verif.RejectFriend(u.id, other)
}

// FriendVerifications lists pending friend handshakes involving this user.
func (u *User) FriendVerifications() []verification.FriendVerification {
	return u.verif.FriendVerificationsFor(u.id)
}

// Groups returns a snapshot of the group set.
func (u *User) Groups() []identity.GroupID {
	u.groupsMu.RLock()
	defer u.groupsMu.RUnlock()
	out := make([]identity.GroupID, 0, len(u.groups))
	for g := range u.groups {
		out = append(out, g)
	}
	return out
}

// HasGroup reports membership in the group set.
func (u *User) HasGroup(g identity.GroupID) bool {
	u.groupsMu.RLock()
	defer u.groupsMu.RUnlock()
	_, ok := u.groups[g]
	return ok
}

func (u *User) JoinGroup(g identity.GroupID) {
	u.groupsMu.Lock()
	defer u.groupsMu.Unlock()
	u.groups[g] = struct{}{}
}

func (u *User) LeaveGroup(g identity.GroupID) {
	u.groupsMu.Lock()
	defer u.groupsMu.Unlock()
	delete(u.groups, g)
}

// AddGroup initiates a group-join handshake into g, acking the caller's
// own (applicant) side immediately.
func (u *User) AddGroup(g identity.GroupID) error {
	return u.verif.AddGroup(g, u.id)
}

// AcceptGroupApplicant acks the administrator's side for applicant's
// pending join into this user's group.
func (u *User) AcceptGroupApplicant(g identity.GroupID, applicant identity.UserID) error {
	return u.verif.AcceptGroup(g, applicant, true)
}

// RejectGroupApplicant cancels applicant's pending join into g.
func (u *User) RejectGroupApplicant(g identity.GroupID, applicant identity.UserID) error {
	return u.verif.RejectGroup(g, applicant)
}

// GroupVerifications lists pending group handshakes involving this user,
// whether as applicant or as the relevant group's administrator.
func (u *User) GroupVerifications() []verification.GroupVerification {
	return u.verif.GroupVerificationsFor(u.id)
}

// Attach registers a new connection with its write callback.
func (u *User) Attach(handle ConnectionHandle, device DeviceType, send func([]byte)) {
	u.connMu.Lock()
	defer u.connMu.Unlock()
	u.conns[handle] = connEntry{device: device, send: send}
}

// Detach removes a connection.
func (u *User) Detach(handle ConnectionHandle) {
	u.connMu.Lock()
	defer u.connMu.Unlock()
	delete(u.conns, handle)
}

// ChangeDeviceType updates a connection's declared device type.
func (u *User) ChangeDeviceType(handle ConnectionHandle, device DeviceType) {
	u.connMu.Lock()
	defer u.connMu.Unlock()
	if e, ok := u.conns[handle]; ok {
		e.device = device
		u.conns[handle] = e
	}
}

// ConnectionCount reports the number of attached connections.
func (u *User) ConnectionCount() int {
	u.connMu.RLock()
	defer u.connMu.RUnlock()
	return len(u.conns)
}

// NotifyAll writes data to every attached connection. Per-connection write
// errors are the connection's own concern (its send callback logs and
// tears down); this loop never aborts partway through.
func (u *User) NotifyAll(data []byte) {
	u.connMu.RLock()
	entries := make([]connEntry, 0, len(u.conns))
	for _, e := range u.conns {
		entries = append(entries, e)
	}
	u.connMu.RUnlock()
	for _, e := range entries {
		e.send(data)
	}
}

// NotifyDevice writes data only to connections declaring the given device
// type.
func (u *User) NotifyDevice(device DeviceType, data []byte) {
	u.connMu.RLock()
	var sends []func([]byte)
	for _, e := range u.conns {
		if e.device == device {
			sends = append(sends, e.send)
		}
	}
	u.connMu.RUnlock()
	for _, s := range sends {
		s(data)
	}
}
