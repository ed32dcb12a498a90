package permbit

import "testing"

func TestRegisterAssignsPowerOfTwoIDs(t *testing.T) {
	r := NewRegistry()
	list, err := r.Register("widget", "save", "update", "find", "findAll", "remove")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	want := []uint64{1, 2, 4, 8, 16}
	actions := list.Actions()
	if len(actions) != len(want) {
		t.Fatalf("expected %d actions, got %d", len(want), len(actions))
	}
	for i, a := range actions {
		if a.ID != want[i] {
			t.Fatalf("action %q: expected id %d, got %d", a.Name, want[i], a.ID)
		}
	}
}

func TestRegisterIdempotentOnIdenticalDeclaration(t *testing.T) {
	r := NewRegistry()
	first, err := r.Register("widget", "save", "update")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := r.Register("widget", "save", "update")
	if err != nil {
		t.Fatalf("re-register identical declaration: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same list instance on identical re-registration")
	}
}

func TestRegisterRefusesChangedDeclaration(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("widget", "save", "update"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register("widget", "update", "save"); err == nil {
		t.Fatalf("expected reordered declaration to be refused")
	} else if !IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if _, err := r.Register("widget", "save", "update", "remove"); err == nil {
		t.Fatalf("expected grown declaration to be refused")
	}
}

func TestRegisterRejectsBadDeclarations(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(""); err == nil {
		t.Fatalf("expected empty resource type to be refused")
	}
	if _, err := r.Register("widget", "save", "save"); err == nil {
		t.Fatalf("expected duplicate action name to be refused")
	}
	if _, err := r.Register("widget", "save", ""); err == nil {
		t.Fatalf("expected empty action name to be refused")
	}
	names := make([]string, 65)
	for i := range names {
		names[i] = "a" + string(rune('0'+i%10)) + string(rune('a'+i/10))
	}
	if _, err := r.Register("wide", names...); err == nil {
		t.Fatalf("expected 65 actions to be refused")
	}
}

func TestMaskResolvesDeclaredActions(t *testing.T) {
	r := NewRegistry()
	list := r.MustRegister("widget", "save", "update", "find", "findAll", "remove")

	mask, err := list.Mask("save", "update", "find", "findAll")
	if err != nil {
		t.Fatalf("mask: %v", err)
	}
	if mask != 15 {
		t.Fatalf("expected mask 15, got %d", mask)
	}

	if _, err := list.Mask("publish"); err == nil {
		t.Fatalf("expected undeclared action to fail")
	} else if !IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}

	if all := list.AllMask(); all != 31 {
		t.Fatalf("expected all-mask 31, got %d", all)
	}
}

func TestHasActionStrictEquality(t *testing.T) {
	// mask 11 = save|update|findAll
	var mask uint64 = 11
	for _, id := range []uint64{1, 2, 8} {
		if !HasAction(mask, id) {
			t.Fatalf("mask %d should grant id %d", mask, id)
		}
	}
	for _, id := range []uint64{4, 16} {
		if HasAction(mask, id) {
			t.Fatalf("mask %d should not grant id %d", mask, id)
		}
	}
	// a combined id requires all of its bits
	if HasAction(9, 3) {
		t.Fatalf("mask 9 should not grant combined id 3")
	}
	if !HasAction(11, 3) {
		t.Fatalf("mask 11 should grant combined id 3")
	}
}

func TestAccumulateActionsNeverClearsBits(t *testing.T) {
	if got := AccumulateActions(5, 2); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	if got := AccumulateActions(7, 2); got != 7 {
		t.Fatalf("accumulation must be idempotent, got %d", got)
	}
	if got := AccumulateActions(0, 0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestPermissionGrantsNilSafe(t *testing.T) {
	var p *Permission
	if p.Grants(Action{ID: 1}) {
		t.Fatalf("nil permission must not grant anything")
	}
	p = &Permission{ActionMask: 6}
	if !p.Grants(Action{ID: 2}) {
		t.Fatalf("mask 6 should grant id 2")
	}
	if p.Grants(Action{ID: 1}) {
		t.Fatalf("mask 6 should not grant id 1")
	}
	if !p.General() {
		t.Fatalf("nil resource id means general grant")
	}
}
