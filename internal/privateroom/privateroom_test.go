package privateroom

import (
	"testing"
	"time"

	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/msg"
	"github.com/qls-chat/qls-server/internal/room"
)

type recorder struct{ count int }

func (r *recorder) NotifyAll(data []byte) { r.count++ }

func newTestRoom(t *testing.T, u1, u2 identity.UserID, n1, n2 *recorder) *Room {
	t.Helper()
	lookup := func(u identity.UserID) (room.Notifier, bool) {
		switch u {
		case u1:
			return n1, true
		case u2:
			return n2, true
		}
		return nil, false
	}
	key := identity.NewPrivateRoomKey(u1, u2)
	r := NewWithRetention(1, key, lookup, time.Hour, time.Hour)
	t.Cleanup(r.RemoveRoom)
	return r
}

func TestSendMessageNotifiesOnlyRecipient(t *testing.T) {
	n1, n2 := &recorder{}, &recorder{}
	r := newTestRoom(t, 10000, 10001, n1, n2)

	if err := r.SendMessage(10000, "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n2.count != 1 || n1.count != 0 {
		t.Fatalf("expected only recipient notified, got sender=%d recipient=%d", n1.count, n2.count)
	}
}

func TestSendMessageFromNonMemberIsNoop(t *testing.T) {
	n1, n2 := &recorder{}, &recorder{}
	r := newTestRoom(t, 10000, 10001, n1, n2)

	if err := r.SendMessage(99999, "hi"); err != nil {
		t.Fatalf("expected nil error for non-member send, got %v", err)
	}
	if n1.count != 0 || n2.count != 0 {
		t.Fatal("expected no notification for a non-member sender")
	}
	if r.log.Len() != 0 {
		t.Fatal("expected no message stored for a non-member sender")
	}
}

func TestRemoveRoomIsIdempotentAndBlocksSends(t *testing.T) {
	n1, n2 := &recorder{}, &recorder{}
	r := newTestRoom(t, 10000, 10001, n1, n2)

	r.RemoveRoom()
	r.RemoveRoom() // must not panic

	if err := r.SendMessage(10000, "hi"); err == nil {
		t.Fatal("expected error after room removed")
	}
}

func TestGetMessagesOrdering(t *testing.T) {
	n1, n2 := &recorder{}, &recorder{}
	r := newTestRoom(t, 10000, 10001, n1, n2)
	r.SendMessage(10000, "a")
	r.SendMessage(10001, "b")

	entries := r.GetMessages(0, msg.Timestamp(1<<62))
	if len(entries) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(entries))
	}
	if entries[0].Timestamp >= entries[1].Timestamp {
		t.Fatal("expected strictly increasing timestamps")
	}
}
