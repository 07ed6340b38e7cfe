package emitter

// scope resolves names to local slots inside one routine. The base frame
// holds the parameters; every let pushes a frame whose bindings shadow the
// outer ones. Slots are handed out once per routine and never reused, so a
// shadowed binding keeps its value.
type scope struct {
	frames []map[string]int
	next   int
}

func newScope(params []string) *scope {
	s := &scope{frames: []map[string]int{make(map[string]int, len(params))}}
	for _, p := range params {
		s.bind(p)
	}
	return s
}

func (s *scope) push() {
	s.frames = append(s.frames, make(map[string]int))
}

func (s *scope) pop() {
	s.frames = s.frames[:len(s.frames)-1]
}

// bind allocates a fresh slot for name in the innermost frame.
func (s *scope) bind(name string) int {
	slot := s.next
	s.next++
	s.frames[len(s.frames)-1][name] = slot
	return slot
}

// lookup finds the nearest enclosing binding of name.
func (s *scope) lookup(name string) (int, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if slot, ok := s.frames[i][name]; ok {
			return slot, true
		}
	}
	return 0, false
}

// size is the number of slots the routine needs.
func (s *scope) size() int { return s.next }
