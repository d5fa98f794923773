package user

import (
	"testing"

	"github.com/google/uuid"

	"github.com/qls-chat/qls-server/internal/identity"
)

func newTestUser(id identity.UserID) *User {
	return New(id, "alice", "a@b.com", nil)
}

func TestFirstSetPasswordThenVerify(t *testing.T) {
	u := newTestUser(1)
	if err := u.FirstSetPassword("hunter2"); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := u.VerifyPassword("hunter2"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := u.VerifyPassword("wrong"); err == nil {
		t.Fatal("expected wrong password to fail")
	}
}

func TestFirstSetPasswordRejectsSecondCall(t *testing.T) {
	u := newTestUser(1)
	u.FirstSetPassword("hunter2")
	if err := u.FirstSetPassword("other"); err == nil {
		t.Fatal("expected second first-set to fail")
	}
}

func TestChangePasswordRequiresOld(t *testing.T) {
	u := newTestUser(1)
	u.FirstSetPassword("hunter2")
	if err := u.ChangePassword("wrong-old", "new"); err == nil {
		t.Fatal("expected change to fail with wrong old password")
	}
	if err := u.ChangePassword("hunter2", "new"); err != nil {
		t.Fatalf("change: %v", err)
	}
	if err := u.VerifyPassword("new"); err != nil {
		t.Fatal("expected new password to verify")
	}
}

func TestFriendLinkIsCallerControlled(t *testing.T) {
	u := newTestUser(1)
	if u.HasFriend(2) {
		t.Fatal("expected no friend initially")
	}
	u.LinkFriend(2)
	if !u.HasFriend(2) {
		t.Fatal("expected friend linked")
	}
	u.UnlinkFriend(2)
	if u.HasFriend(2) {
		t.Fatal("expected friend unlinked")
	}
}

func TestAttachDetachConnection(t *testing.T) {
	u := newTestUser(1)
	var received [][]byte
	handle := uuid.New()
	u.Attach(handle, DevicePhone, func(b []byte) { received = append(received, b) })
	if u.ConnectionCount() != 1 {
		t.Fatalf("expected 1 connection, got %d", u.ConnectionCount())
	}
	u.NotifyAll([]byte("hi"))
	if len(received) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(received))
	}
	u.Detach(handle)
	if u.ConnectionCount() != 0 {
		t.Fatal("expected connection detached")
	}
}

func TestNotifyDeviceFiltersByType(t *testing.T) {
	u := newTestUser(1)
	var phoneCount, pcCount int
	u.Attach(uuid.New(), DevicePhone, func([]byte) { phoneCount++ })
	u.Attach(uuid.New(), DevicePersonalComputer, func([]byte) { pcCount++ })
	u.NotifyDevice(DevicePhone, []byte("hi"))
	if phoneCount != 1 || pcCount != 0 {
		t.Fatalf("expected only phone notified, got phone=%d pc=%d", phoneCount, pcCount)
	}
}

func TestParseDeviceType(t *testing.T) {
	cases := map[string]DeviceType{
		"PersonalComputer": DevicePersonalComputer,
		"Phone":            DevicePhone,
		"Web":              DeviceWeb,
		"garbage":          DeviceUnknown,
	}
	for in, want := range cases {
		if got := ParseDeviceType(in); got != want {
			t.Fatalf("ParseDeviceType(%q) = %v, want %v", in, got, want)
		}
	}
}
