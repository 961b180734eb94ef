package shared

import (
	"errors"
	"testing"
)

func TestIsSQLiteConflictError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("exec: SQLITE_BUSY"), true},
		{errors.New("no such table"), false},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsSQLiteUniqueError(t *testing.T) {
	err := errors.New("constraint failed: UNIQUE constraint failed: agents.display_name (2067)")
	if !IsSQLiteUniqueError(err, "") {
		t.Fatal("expected unique error without target")
	}
	if !IsSQLiteUniqueError(err, "agents.display_name") {
		t.Fatal("expected unique error on agents.display_name")
	}
	if IsSQLiteUniqueError(err, "users.username") {
		t.Fatal("did not expect match on users.username")
	}
	if IsSQLiteUniqueError(errors.New("NOT NULL constraint failed"), "") {
		t.Fatal("did not expect NOT NULL to be a unique error")
	}
}
