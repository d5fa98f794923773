package permission

import "testing"

func TestUserHasRequiresRoleAtLeastRequired(t *testing.T) {
	tbl := NewTable()
	tbl.Define("kick", Operator)
	tbl.SetUserRole(1, Default)
	tbl.SetUserRole(2, Operator)
	tbl.SetUserRole(3, Administrator)

	cases := []struct {
		user int64
		want bool
	}{
		{1, false},
		{2, true},
		{3, true},
	}
	for _, c := range cases {
		got, err := tbl.UserHas(c.user, "kick")
		if err != nil {
			t.Fatalf("user %d: unexpected error %v", c.user, err)
		}
		if got != c.want {
			t.Fatalf("user %d: got %v want %v", c.user, got, c.want)
		}
	}
}

func TestUserHasUnknownPermission(t *testing.T) {
	tbl := NewTable()
	tbl.SetUserRole(1, Administrator)
	if _, err := tbl.UserHas(1, "missing"); err != ErrNoPermission {
		t.Fatalf("want ErrNoPermission, got %v", err)
	}
}

func TestUserHasUnknownUser(t *testing.T) {
	tbl := NewTable()
	tbl.Define("kick", Default)
	if _, err := tbl.UserHas(99, "kick"); err != ErrUserNotExisted {
		t.Fatalf("want ErrUserNotExisted, got %v", err)
	}
}

func TestRemoveUnknownPermission(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Remove("nope"); err != ErrNoPermission {
		t.Fatalf("want ErrNoPermission, got %v", err)
	}
}

func TestListByRole(t *testing.T) {
	tbl := NewTable()
	tbl.SetUserRole(1, Operator)
	tbl.SetUserRole(2, Operator)
	tbl.SetUserRole(3, Administrator)

	ops := tbl.ListByRole(Operator)
	if len(ops) != 2 {
		t.Fatalf("want 2 operators, got %d", len(ops))
	}
}
