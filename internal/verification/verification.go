// Package verification implements the bilateral friend and group-join
// handshake engine (C10). It is the single canonical owner of pending
// verification state. User-side accept/reject methods delegate here
// rather than keeping their own copy, resolving the ambiguity the original
// source left between its two accept/reject code paths.
package verification

import (
	"encoding/json"

	"sync"

	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/qlserrors"
	"github.com/qls-chat/qls-server/internal/wire"
)

// FriendVerification is a pending friend handshake.
type FriendVerification struct {
	A, B   identity.UserID
	AAcked bool
	BAcked bool
}

// GroupVerification is a pending group-join handshake.
type GroupVerification struct {
	Group          identity.GroupID
	Applicant      identity.UserID
	AdminAcked     bool
	ApplicantAcked bool
}

// Directory is the narrow view of the user registry the engine needs:
// existence checks, friendship checks, and event delivery.
type Directory interface {
	UserExists(u identity.UserID) bool
	AreFriends(a, b identity.UserID) bool
	Notify(u identity.UserID, payload []byte)
}

// FriendEffects commits the side effect of a completed friend handshake:
// adding both users to each other's friend set and creating their
// PrivateRoom.
type FriendEffects interface {
	CommitFriendship(a, b identity.UserID) error
}

// GroupEffects resolves group existence/admin and commits the side effect
// of a completed group-join handshake.
type GroupEffects interface {
	GroupExists(g identity.GroupID) bool
	GroupAdmin(g identity.GroupID) (identity.UserID, bool)
	CommitGroupMembership(g identity.GroupID, u identity.UserID) error
}

// Engine holds all pending verification entries.
type Engine struct {
	dir    Directory
	friend FriendEffects
	group  GroupEffects

	friendMu sync.RWMutex
	friends  map[identity.PrivateRoomKey]*FriendVerification

	groupMu sync.RWMutex
	groups  map[identity.GroupVerificationKey]*GroupVerification
}

// New builds an Engine bound to the given collaborators.
func New(dir Directory, friend FriendEffects, group GroupEffects) *Engine {
	return &Engine{
		dir:     dir,
		friend:  friend,
		group:   group,
		friends: make(map[identity.PrivateRoomKey]*FriendVerification),
		groups:  make(map[identity.GroupVerificationKey]*GroupVerification),
	}
}

func sendJSON(dir Directory, u identity.UserID, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	f, err := wire.Marshal(wire.Frame{Type: wire.TypeText, Payload: payload})
	if err != nil {
		return
	}
	dir.Notify(u, f)
}

type friendVerificationEvent struct {
	Type    string `json:"type"`
	UserID  int64  `json:"userid"`
	Message string `json:"message"`
}

type friendAddedEvent struct {
	Type   string `json:"type"`
	UserID int64  `json:"userid"`
}

// AddFriend starts a friend handshake initiated by a toward b.
// Pre-conditions: a != b, both exist, not already friends, no pending
// entry for this pair.
func (e *Engine) AddFriend(a, b identity.UserID) error {
	if a == b {
		return qlserrors.ErrInvalidVerification
	}
	if !e.dir.UserExists(a) || !e.dir.UserExists(b) {
		return qlserrors.ErrUserNotExisted
	}
	if e.dir.AreFriends(a, b) {
		return qlserrors.ErrUserExisted
	}
	key := identity.NewPrivateRoomKey(a, b)

	e.friendMu.Lock()
	if _, ok := e.friends[key]; ok {
		e.friendMu.Unlock()
		return qlserrors.ErrVerificationExisted
	}
	e.friends[key] = &FriendVerification{A: a, B: b, AAcked: true}
	e.friendMu.Unlock()

	sendJSON(e.dir, b, friendVerificationEvent{Type: "added_friend_verfication", UserID: int64(a), Message: ""})
	return nil
}

// AcceptFriend acks self's side of the pending handshake between self and
// other. When both sides have acked, the handshake completes: the entry is
// removed, the friendship and its PrivateRoom are committed, and the other
// party is notified.
func (e *Engine) AcceptFriend(self, other identity.UserID) error {
	key := identity.NewPrivateRoomKey(self, other)

	e.friendMu.Lock()
	v, ok := e.friends[key]
	if !ok {
		e.friendMu.Unlock()
		return qlserrors.ErrVerificationNotExisted
	}
	if v.A == self {
		v.AAcked = true
	} else {
		v.BAcked = true
	}
	complete := v.AAcked && v.BAcked
	if complete {
		delete(e.friends, key)
	}
	e.friendMu.Unlock()

	if !complete {
		return nil
	}
	if err := e.friend.CommitFriendship(v.A, v.B); err != nil {
		return err
	}
	sendJSON(e.dir, other, friendAddedEvent{Type: "added_friend", UserID: int64(self)})
	return nil
}

// RejectFriend cancels a pending handshake and notifies both sides.
func (e *Engine) RejectFriend(self, other identity.UserID) error {
	key := identity.NewPrivateRoomKey(self, other)

	e.friendMu.Lock()
	_, ok := e.friends[key]
	if !ok {
		e.friendMu.Unlock()
		return qlserrors.ErrVerificationNotExisted
	}
	delete(e.friends, key)
	e.friendMu.Unlock()

	sendJSON(e.dir, self, friendAddedEvent{Type: "rejected_to_add_friend", UserID: int64(other)})
	sendJSON(e.dir, other, friendAddedEvent{Type: "rejected_to_add_friend", UserID: int64(self)})
	return nil
}

// FriendVerificationsFor returns every pending friend handshake involving u.
func (e *Engine) FriendVerificationsFor(u identity.UserID) []FriendVerification {
	e.friendMu.RLock()
	defer e.friendMu.RUnlock()
	var out []FriendVerification
	for _, v := range e.friends {
		if v.A == u || v.B == u {
			out = append(out, *v)
		}
	}
	return out
}

type groupVerificationEvent struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupid"`
	UserID  int64  `json:"userid"`
	Message string `json:"message"`
}

type groupAddedEvent struct {
	Type    string `json:"type"`
	GroupID int64  `json:"groupid"`
}

// AddGroup starts a group-join handshake for applicant into group.
func (e *Engine) AddGroup(group identity.GroupID, applicant identity.UserID) error {
	if !e.group.GroupExists(group) {
		return qlserrors.ErrGroupRoomNotExisted
	}
	if !e.dir.UserExists(applicant) {
		return qlserrors.ErrUserNotExisted
	}
	key := identity.GroupVerificationKey{Group: group, Applicant: applicant}

	e.groupMu.Lock()
	if _, ok := e.groups[key]; ok {
		e.groupMu.Unlock()
		return qlserrors.ErrVerificationExisted
	}
	e.groups[key] = &GroupVerification{Group: group, Applicant: applicant, ApplicantAcked: true}
	e.groupMu.Unlock()

	if admin, ok := e.group.GroupAdmin(group); ok {
		sendJSON(e.dir, admin, groupVerificationEvent{Type: "added_group_verification", GroupID: int64(group), UserID: int64(applicant), Message: ""})
	}
	return nil
}

// AcceptGroup acks one side of a pending group handshake: asAdmin=true for
// the group administrator's side, false for the applicant's own side.
func (e *Engine) AcceptGroup(group identity.GroupID, applicant identity.UserID, asAdmin bool) error {
	key := identity.GroupVerificationKey{Group: group, Applicant: applicant}

	e.groupMu.Lock()
	v, ok := e.groups[key]
	if !ok {
		e.groupMu.Unlock()
		return qlserrors.ErrVerificationNotExisted
	}
	if asAdmin {
		v.AdminAcked = true
	} else {
		v.ApplicantAcked = true
	}
	complete := v.AdminAcked && v.ApplicantAcked
	if complete {
		delete(e.groups, key)
	}
	e.groupMu.Unlock()

	if !complete {
		return nil
	}
	if err := e.group.CommitGroupMembership(group, applicant); err != nil {
		return err
	}
	sendJSON(e.dir, applicant, groupAddedEvent{Type: "added_group", GroupID: int64(group)})
	return nil
}

// RejectGroup cancels a pending group handshake and notifies both the
// applicant and the group administrator.
func (e *Engine) RejectGroup(group identity.GroupID, applicant identity.UserID) error {
	key := identity.GroupVerificationKey{Group: group, Applicant: applicant}

	e.groupMu.Lock()
	_, ok := e.groups[key]
	if !ok {
		e.groupMu.Unlock()
		return qlserrors.ErrVerificationNotExisted
	}
	delete(e.groups, key)
	e.groupMu.Unlock()

	sendJSON(e.dir, applicant, groupAddedEvent{Type: "rejected_to_add_group", GroupID: int64(group)})
	if admin, ok := e.group.GroupAdmin(group); ok {
		sendJSON(e.dir, admin, groupVerificationEvent{Type: "rejected_to_add_member_to_group", GroupID: int64(group), UserID: int64(applicant), Message: ""})
	}
	return nil
}

// GroupVerificationsFor returns every pending group handshake where u is
// either the applicant or the group's administrator.
func (e *Engine) GroupVerificationsFor(u identity.UserID) []GroupVerification {
	e.groupMu.RLock()
	defer e.groupMu.RUnlock()
	var out []GroupVerification
	for _, v := range e.groups {
		if v.Applicant == u {
			out = append(out, *v)
			continue
		}
		if admin, ok := e.group.GroupAdmin(v.Group); ok && admin == u {
			out = append(out, *v)
		}
	}
	return out
}
