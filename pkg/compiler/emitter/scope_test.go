package emitter

import "testing"

func TestScopeShadowing(t *testing.T) {
	s := newScope([]string{"a", "b"})

	if slot, ok := s.lookup("b"); !ok || slot != 1 {
		t.Fatalf("b: expected slot 1, got %d (%v)", slot, ok)
	}

	s.push()
	inner := s.bind("a")
	if inner != 2 {
		t.Errorf("shadowing a: expected fresh slot 2, got %d", inner)
	}
	if slot, _ := s.lookup("a"); slot != inner {
		t.Errorf("a inside let: expected slot %d, got %d", inner, slot)
	}
	s.pop()

	if slot, _ := s.lookup("a"); slot != 0 {
		t.Errorf("a after let: expected parameter slot 0, got %d", slot)
	}

	s.push()
	if slot := s.bind("c"); slot != 3 {
		t.Errorf("slots must not be reused: expected 3, got %d", slot)
	}
	s.pop()

	if _, ok := s.lookup("c"); ok {
		t.Error("c must be unbound after its let")
	}
	if s.size() != 4 {
		t.Errorf("expected 4 slots, got %d", s.size())
	}
}
