package manager

import (
	"testing"

	"github.com/google/uuid"

	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/user"
)

func newUsers(t *testing.T, m *Manager, n int) []identity.UserID {
	t.Helper()
	ids := make([]identity.UserID, 0, n)
	for i := 0; i < n; i++ {
		id, err := m.AddNewUser("", "", "hunter2")
		if err != nil {
			t.Fatalf("AddNewUser: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestAddNewUserAllocatesFrom10000(t *testing.T) {
	m := New()
	ids := newUsers(t, m, 2)
	if ids[0] != 10000 || ids[1] != 10001 {
		t.Fatalf("expected sequential IDs from 10000, got %v", ids)
	}
	if !m.HasUser(ids[0]) {
		t.Fatal("expected user registered")
	}
}

func TestFriendHandshakeCreatesSymmetricPrivateRoom(t *testing.T) {
	m := New()
	ids := newUsers(t, m, 2)
	a, b := ids[0], ids[1]

	if err := m.Verification.AddFriend(a, b); err != nil {
		t.Fatalf("add friend: %v", err)
	}
	if err := m.Verification.AcceptFriend(b, a); err != nil {
		t.Fatalf("accept friend: %v", err)
	}

	ua, _ := m.GetUser(a)
	ub, _ := m.GetUser(b)
	if !ua.HasFriend(b) || !ub.HasFriend(a) {
		t.Fatal("expected friendship linked symmetrically")
	}
	if !m.HasPrivateRoom(a, b) || !m.HasPrivateRoom(b, a) {
		t.Fatal("expected private room lookup symmetric regardless of argument order")
	}
	prAB, _ := m.GetPrivateRoom(a, b)
	prBA, _ := m.GetPrivateRoom(b, a)
	if prAB != prBA {
		t.Fatal("expected the same room regardless of argument order")
	}
}

func TestRemoveFriendTearsDownPrivateRoom(t *testing.T) {
	m := New()
	ids := newUsers(t, m, 2)
	a, b := ids[0], ids[1]
	m.Verification.AddFriend(a, b)
	m.Verification.AcceptFriend(b, a)

	if err := m.RemoveFriend(a, b); err != nil {
		t.Fatalf("remove friend: %v", err)
	}
	if m.HasPrivateRoom(a, b) {
		t.Fatal("expected private room removed")
	}
	ua, _ := m.GetUser(a)
	if ua.HasFriend(b) {
		t.Fatal("expected friendship severed")
	}
}

func TestGroupCreateJoinAndModeration(t *testing.T) {
	m := New()
	ids := newUsers(t, m, 3)
	admin, applicant, third := ids[0], ids[1], ids[2]

	g, err := m.CreateGroup(admin)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	uadmin, _ := m.GetUser(admin)
	if !uadmin.HasGroup(g) {
		t.Fatal("expected creator joined to own group")
	}

	if err := m.Verification.AddGroup(g, applicant); err != nil {
		t.Fatalf("applicant join request: %v", err)
	}
	if err := m.Verification.AcceptGroup(g, applicant, true); err != nil {
		t.Fatalf("admin accept: %v", err)
	}
	// AddGroup acked the applicant's side, so the admin's ack completed the
	// handshake and no pending entry is left to accept.
	if err := m.Verification.AcceptGroup(g, applicant, false); err == nil {
		t.Fatal("expected no pending verification after the admin's ack")
	}

	uapplicant, _ := m.GetUser(applicant)
	if !uapplicant.HasGroup(g) {
		t.Fatal("expected applicant joined after both sides acked")
	}
	gr, ok := m.GetGroupRoom(g)
	if !ok || !gr.HasMember(applicant) {
		t.Fatal("expected group room membership committed")
	}

	// third is not a member, so moderation against it should fail.
	if err := gr.Kick(admin, third); err == nil {
		t.Fatal("expected kick of non-member to fail")
	}
	if err := gr.Kick(admin, applicant); err != nil {
		t.Fatalf("expected admin to kick member, got %v", err)
	}
}

func TestRemoveGroupRequiresAdministrator(t *testing.T) {
	m := New()
	ids := newUsers(t, m, 2)
	admin, other := ids[0], ids[1]
	g, _ := m.CreateGroup(admin)

	if err := m.RemoveGroup(other, g); err == nil {
		t.Fatal("expected non-admin removal rejected")
	}
	if err := m.RemoveGroup(admin, g); err != nil {
		t.Fatalf("expected admin removal to succeed, got %v", err)
	}
	if m.GroupExists(g) {
		t.Fatal("expected group removed")
	}
	uadmin, _ := m.GetUser(admin)
	if uadmin.HasGroup(g) {
		t.Fatal("expected member's group set cleared on removal")
	}
}

func TestConnectionBindAndRebind(t *testing.T) {
	m := New()
	ids := newUsers(t, m, 2)
	a, b := ids[0], ids[1]
	handle := uuid.New()

	if err := m.RegisterConnection(handle); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.RegisterConnection(handle); err == nil {
		t.Fatal("expected duplicate registration rejected")
	}

	var delivered int
	if err := m.BindConnection(handle, a, user.DevicePhone, func([]byte) { delivered++ }); err != nil {
		t.Fatalf("bind: %v", err)
	}
	ua, _ := m.GetUser(a)
	if ua.ConnectionCount() != 1 {
		t.Fatal("expected connection attached to a")
	}

	if err := m.BindConnection(handle, b, user.DevicePhone, func([]byte) { delivered++ }); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if ua.ConnectionCount() != 0 {
		t.Fatal("expected connection detached from a after rebind")
	}
	ub, _ := m.GetUser(b)
	if ub.ConnectionCount() != 1 {
		t.Fatal("expected connection attached to b after rebind")
	}

	m.RemoveConnection(handle)
	if ub.ConnectionCount() != 0 {
		t.Fatal("expected connection detached on removal")
	}
	if _, ok := m.ConnectionUser(handle); ok {
		t.Fatal("expected connection deregistered")
	}
}

func TestRoomCounts(t *testing.T) {
	m := New()
	ids := newUsers(t, m, 3)
	a, b, c := ids[0], ids[1], ids[2]

	if m.PrivateRoomCount() != 0 || m.GroupRoomCount() != 0 {
		t.Fatal("expected no rooms on a fresh manager")
	}

	m.Verification.AddFriend(a, b)
	m.Verification.AcceptFriend(b, a)
	if m.PrivateRoomCount() != 1 {
		t.Fatalf("expected 1 private room, got %d", m.PrivateRoomCount())
	}

	if _, err := m.CreateGroup(c); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if m.GroupRoomCount() != 1 {
		t.Fatalf("expected 1 group room, got %d", m.GroupRoomCount())
	}
}
