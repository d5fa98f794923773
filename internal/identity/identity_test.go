package identity

import "testing"

func TestPrivateRoomKeySymmetric(t *testing.T) {
	a, b := UserID(10001), UserID(10002)
	if NewPrivateRoomKey(a, b) != NewPrivateRoomKey(b, a) {
		t.Fatalf("expected symmetric key for (%d,%d) and (%d,%d)", a, b, b, a)
	}
}

func TestPrivateRoomKeyMembersOrdered(t *testing.T) {
	k := NewPrivateRoomKey(UserID(5), UserID(3))
	lo, hi := k.Members()
	if lo != 3 || hi != 5 {
		t.Fatalf("expected ordered members (3,5), got (%d,%d)", lo, hi)
	}
}

func TestPrivateRoomKeyAsMapKey(t *testing.T) {
	m := map[PrivateRoomKey]string{}
	m[NewPrivateRoomKey(1, 2)] = "room"
	if _, ok := m[NewPrivateRoomKey(2, 1)]; !ok {
		t.Fatal("expected lookup with reversed pair to hit the same map entry")
	}
}

func TestGroupVerificationKeyAsymmetric(t *testing.T) {
	a := GroupVerificationKey{Group: 1, Applicant: 2}
	b := GroupVerificationKey{Group: 2, Applicant: 1}
	if a == b {
		t.Fatal("expected distinct keys for swapped group/applicant")
	}
}

func TestNoUserSentinel(t *testing.T) {
	if NoUser != -1 {
		t.Fatalf("expected NoUser sentinel to be -1, got %d", NoUser)
	}
}
