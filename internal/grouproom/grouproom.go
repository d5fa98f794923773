// Package grouproom implements the N-party chat room (C8): membership
// with nicknames and levels, muting, kicking, operator promotion, and
// admin transfer, all gated by the permission package's role table.
package grouproom

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/msg"
	"github.com/qls-chat/qls-server/internal/permission"
	"github.com/qls-chat/qls-server/internal/qlserrors"
	"github.com/qls-chat/qls-server/internal/room"
)

// DefaultRetention and DefaultSweepInterval match PrivateRoom's normative
// defaults; both room kinds share the same retention policy.
const (
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

// UserLevel is a member's numeric level, independent of their moderation
// Role. Must be constructed in [1, 100].
type UserLevel int

// NewUserLevel validates and builds a UserLevel.
func NewUserLevel(v int) (UserLevel, error) {
	if v < 1 || v > 100 {
		return 0, qlserrors.ErrGroupRoomUserLevelInvalid
	}
	return UserLevel(v), nil
}

// Member is a group member's display attributes.
type Member struct {
	Nickname string
	Level    UserLevel
}

type muteEntry struct {
	since    time.Time
	duration time.Duration
}

func (m muteEntry) expired(now time.Time) bool {
	return now.After(m.since.Add(m.duration))
}

// Room is one group conversation.
type Room struct {
	id    identity.GroupID
	perms *permission.Table
	text  *room.TextData
	log   *msg.Log

	retention   time.Duration
	sweepPeriod time.Duration
	stop        chan struct{}
	once        sync.Once

	membersMu sync.RWMutex
	members   map[identity.UserID]Member

	adminMu sync.Mutex
	admin   identity.UserID

	mutedMu sync.Mutex
	muted   map[identity.UserID]muteEntry

	aliveMu sync.RWMutex
	alive   bool
}

// New builds an empty group room with creator as its initial administrator.
func New(id identity.GroupID, creator identity.UserID, lookup room.Lookup) *Room {
	return NewWithRetention(id, creator, lookup, DefaultRetention, DefaultSweepInterval)
}

// NewWithRetention is New with an explicit retention window and sweep
// cadence.
func NewWithRetention(id identity.GroupID, creator identity.UserID, lookup room.Lookup, retention, sweepPeriod time.Duration) *Room {
	r := &Room{
		id:          id,
		perms:       permission.NewTable(),
		text:        room.NewTextData(lookup),
		log:         msg.NewLog(),
		retention:   retention,
		sweepPeriod: sweepPeriod,
		stop:        make(chan struct{}),
		members:     make(map[identity.UserID]Member),
		muted:       make(map[identity.UserID]muteEntry),
		alive:       true,
	}
	r.members[creator] = Member{Nickname: fmt.Sprintf("user%d", int64(creator)), Level: 1}
	r.text.AddMember(creator)
	r.perms.SetUserRole(int64(creator), permission.Administrator)
	r.admin = creator
	go r.sweepLoop()
	return r
}

// ID returns the room's GroupID.
func (r *Room) ID() identity.GroupID { return r.id }

// IsAlive reports whether the room has not been removed.
func (r *Room) IsAlive() bool {
	r.aliveMu.RLock()
	defer r.aliveMu.RUnlock()
	return r.alive
}

func (r *Room) checkUsable() error {
	if !r.IsAlive() {
		return qlserrors.ErrGroupRoomUnableToUse
	}
	return nil
}

// AddMember adds u with the given nickname/level, granting Default role.
func (r *Room) AddMember(u identity.UserID, nickname string, level UserLevel) error {
	if err := r.checkUsable(); err != nil {
		return err
	}
	r.membersMu.Lock()
	r.members[u] = Member{Nickname: nickname, Level: level}
	r.membersMu.Unlock()
	r.text.AddMember(u)
	if _, ok := r.perms.UserRole(int64(u)); !ok {
		r.perms.SetUserRole(int64(u), permission.Default)
	}
	return nil
}

// HasMember reports membership.
func (r *Room) HasMember(u identity.UserID) bool {
	r.membersMu.RLock()
	defer r.membersMu.RUnlock()
	_, ok := r.members[u]
	return ok
}

// RemoveMember removes u entirely (used by kick and by voluntary leave).
func (r *Room) RemoveMember(u identity.UserID) error {
	if err := r.checkUsable(); err != nil {
		return err
	}
	r.membersMu.Lock()
	delete(r.members, u)
	r.membersMu.Unlock()
	r.text.RemoveMember(u)
	r.perms.RemoveUser(int64(u))
	r.mutedMu.Lock()
	delete(r.muted, u)
	r.mutedMu.Unlock()
	return nil
}

// Members returns a snapshot of every member's UserID.
func (r *Room) Members() []identity.UserID {
	r.membersMu.RLock()
	defer r.membersMu.RUnlock()
	out := make([]identity.UserID, 0, len(r.members))
	for u := range r.members {
		out = append(out, u)
	}
	return out
}

// MemberInfo returns u's display attributes, grounded on getUserNickname/
// getUserGroupLevel in the original source.
func (r *Room) MemberInfo(u identity.UserID) (Member, bool) {
	r.membersMu.RLock()
	defer r.membersMu.RUnlock()
	m, ok := r.members[u]
	return m, ok
}

// MemberList returns every member's UserID paired with its display
// attributes, grounded on getUserList.
func (r *Room) MemberList() map[identity.UserID]Member {
	r.membersMu.RLock()
	defer r.membersMu.RUnlock()
	out := make(map[identity.UserID]Member, len(r.members))
	for u, m := range r.members {
		out[u] = m
	}
	return out
}

func (r *Room) role(u identity.UserID) permission.Role {
	role, ok := r.perms.UserRole(int64(u))
	if !ok {
		return permission.Default
	}
	return role
}

// Administrator returns the current administrator's UserID.
func (r *Room) Administrator() identity.UserID {
	r.adminMu.Lock()
	defer r.adminMu.Unlock()
	return r.admin
}

// DefaultUsers, Operators, Administrators list members holding exactly
// that role.
func (r *Room) DefaultUsers() []identity.UserID   { return r.listByRole(permission.Default) }
func (r *Room) Operators() []identity.UserID      { return r.listByRole(permission.Operator) }
func (r *Room) Administrators() []identity.UserID { return r.listByRole(permission.Administrator) }

func (r *Room) listByRole(role permission.Role) []identity.UserID {
	ids := r.perms.ListByRole(role)
	out := make([]identity.UserID, len(ids))
	for i, id := range ids {
		out[i] = identity.UserID(id)
	}
	return out
}

func (r *Room) isMuted(u identity.UserID) bool {
	r.mutedMu.Lock()
	defer r.mutedMu.Unlock()
	e, ok := r.muted[u]
	if !ok {
		return false
	}
	if e.expired(time.Now()) {
		delete(r.muted, u)
		return false
	}
	return true
}

type groupMessageEvent struct {
	Type string `json:"type"`
	Data struct {
		GroupID int64  `json:"group_id"`
		UserID  int64  `json:"user_id"`
		Message string `json:"message"`
	} `json:"data"`
}

func (r *Room) buildEvent(eventType string, sender identity.UserID, body string) []byte {
	ev := groupMessageEvent{Type: eventType}
	ev.Data.GroupID = int64(r.id)
	ev.Data.UserID = int64(sender)
	ev.Data.Message = body
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	return payload
}

// SendMessage posts a Normal message from sender. Non-members are
// silently dropped; a muted sender's message is silently dropped and the
// mute is lazily swept if expired.
func (r *Room) SendMessage(sender identity.UserID, body string) error {
	if err := r.checkUsable(); err != nil {
		return err
	}
	if !r.HasMember(sender) {
		return nil
	}
	if r.isMuted(sender) {
		return nil
	}
	r.log.Insert(msg.Record{Sender: sender, Body: body, Kind: msg.Normal})
	if payload := r.buildEvent("group_message", sender, body); payload != nil {
		r.text.SendAllJSON(payload)
	}
	return nil
}

// SendTip posts a Tip message to every member.
func (r *Room) SendTip(sender identity.UserID, body string) error {
	if err := r.checkUsable(); err != nil {
		return err
	}
	if !r.HasMember(sender) {
		return nil
	}
	r.log.Insert(msg.Record{Sender: sender, Body: body, Kind: msg.Tip})
	if payload := r.buildEvent("group_tip_message", sender, body); payload != nil {
		r.text.SendAllJSON(payload)
	}
	return nil
}

// SendUserTip posts a Tip message addressed to exactly one receiver.
func (r *Room) SendUserTip(sender identity.UserID, body string, receiver identity.UserID) error {
	if err := r.checkUsable(); err != nil {
		return err
	}
	if !r.HasMember(sender) {
		return nil
	}
	r.log.Insert(msg.Record{Sender: sender, Body: body, Kind: msg.Tip, Target: receiver})
	if payload := r.buildEvent("group_user_tip_message", sender, body); payload != nil {
		r.text.SendOneJSON(payload, receiver)
	}
	return nil
}

// GetMessages returns every stored message in [from, to].
func (r *Room) GetMessages(from, to msg.Timestamp) []msg.Entry {
	return r.log.Range(from, to)
}

func (r *Room) canModerate(executor, target identity.UserID) bool {
	if executor == target {
		return false
	}
	if !r.HasMember(executor) || !r.HasMember(target) {
		return false
	}
	return r.role(executor) > r.role(target)
}

// Mute silences target for duration. Rejected unless executor outranks
// target (strictly) and they are distinct members.
func (r *Room) Mute(executor, target identity.UserID, duration time.Duration) error {
	if err := r.checkUsable(); err != nil {
		return err
	}
	if !r.canModerate(executor, target) {
		return qlserrors.ErrPermissionDenied
	}
	r.mutedMu.Lock()
	r.muted[target] = muteEntry{since: time.Now(), duration: duration}
	r.mutedMu.Unlock()
	r.announceMod("%s was muted by %s", target, executor)
	return nil
}

// Unmute lifts target's mute early.
func (r *Room) Unmute(executor, target identity.UserID) error {
	if err := r.checkUsable(); err != nil {
		return err
	}
	if !r.canModerate(executor, target) {
		return qlserrors.ErrPermissionDenied
	}
	r.mutedMu.Lock()
	delete(r.muted, target)
	r.mutedMu.Unlock()
	r.announceMod("%s was unmuted by %s", target, executor)
	return nil
}

// Kick removes target from the room entirely. Terminal until the user
// rejoins via the normal add flow.
func (r *Room) Kick(executor, target identity.UserID) error {
	if err := r.checkUsable(); err != nil {
		return err
	}
	if !r.canModerate(executor, target) {
		return qlserrors.ErrPermissionDenied
	}
	r.announceMod("%s was kicked by %s", target, executor)
	return r.RemoveMember(target)
}

// AddOperator promotes target from Default to Operator. Administrator-only,
// adjacent-role-only.
func (r *Room) AddOperator(executor, target identity.UserID) error {
	if err := r.checkUsable(); err != nil {
		return err
	}
	if r.role(executor) != permission.Administrator {
		return qlserrors.ErrPermissionDenied
	}
	if !r.HasMember(target) || r.role(target) != permission.Default {
		return qlserrors.ErrPermissionDenied
	}
	r.perms.SetUserRole(int64(target), permission.Operator)
	r.announceMod("%s was turned operator by %s", target, executor)
	return nil
}

// RemoveOperator demotes target from Operator back to Default.
// Administrator-only, adjacent-role-only.
func (r *Room) RemoveOperator(executor, target identity.UserID) error {
	if err := r.checkUsable(); err != nil {
		return err
	}
	if r.role(executor) != permission.Administrator {
		return qlserrors.ErrPermissionDenied
	}
	if !r.HasMember(target) || r.role(target) != permission.Operator {
		return qlserrors.ErrPermissionDenied
	}
	r.perms.SetUserRole(int64(target), permission.Default)
	r.announceMod("%s was turned default user by %s", target, executor)
	return nil
}

// SetAdministrator transfers the administrator role to u, auto-adding u as
// a member if absent, and demoting the previous administrator to Default,
// all within a single critical section.
func (r *Room) SetAdministrator(u identity.UserID) error {
	if err := r.checkUsable(); err != nil {
		return err
	}
	r.adminMu.Lock()
	defer r.adminMu.Unlock()

	if !r.HasMember(u) {
		if err := r.AddMember(u, fmt.Sprintf("user%d", int64(u)), 1); err != nil {
			return err
		}
	}
	old := r.admin
	if old != 0 && old != u {
		r.perms.SetUserRole(int64(old), permission.Default)
	}
	r.perms.SetUserRole(int64(u), permission.Administrator)
	r.admin = u
	return nil
}

func (r *Room) announceMod(format string, target, executor identity.UserID) {
	nickname := func(id identity.UserID) string {
		r.membersMu.RLock()
		defer r.membersMu.RUnlock()
		if m, ok := r.members[id]; ok {
			return m.Nickname
		}
		return fmt.Sprintf("user%d", int64(id))
	}
	r.SendTip(r.Administrator(), fmt.Sprintf(format, nickname(target), nickname(executor)))
}

// RemoveRoom marks the room unusable. Idempotent; stops the retention
// sweep goroutine.
func (r *Room) RemoveRoom() {
	r.aliveMu.Lock()
	r.alive = false
	r.aliveMu.Unlock()
	r.once.Do(func() { close(r.stop) })
}

func (r *Room) sweepLoop() {
	ticker := time.NewTicker(r.sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := msg.Timestamp(time.Now().Add(-r.retention).UnixMilli())
			r.log.Prune(cutoff)
		case <-r.stop:
			return
		}
	}
}
