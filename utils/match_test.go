package utils

import "testing"

func TestMatchName(t *testing.T) {
	cases := []struct {
		value, pattern string
		want           bool
	}{
		{"editor", "editor", true},
		{"editor", "viewer", false},
		{"admin-eu", "admin*", true},
		{"admin", "admin*", true},
		{"superadmin", "admin*", false},
		{"superadmin", "*admin", true},
		{"role-7-editor", "role-*-editor", true},
		{"role-7-viewer", "role-*-editor", false},
		{"anything", "*", true},
		{"", "*", true},
		{"", "", true},
		{"a", "", false},
	}
	for _, tc := range cases {
		if got := MatchName(tc.value, tc.pattern); got != tc.want {
			t.Fatalf("MatchName(%q, %q) = %v, want %v", tc.value, tc.pattern, got, tc.want)
		}
	}
}

func TestMatchAny(t *testing.T) {
	if !MatchAny("admin-eu", "viewer", "admin*") {
		t.Fatalf("expected a match on the second pattern")
	}
	if MatchAny("viewer") {
		t.Fatalf("no patterns must not match")
	}
}
