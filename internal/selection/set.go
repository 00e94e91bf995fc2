// Package selection holds the set of chosen image locators.
//
// A Set keeps insertion order so the download sequence (and its index based
// fallback names) is deterministic. Members need not exist in the current
// descriptor list: orphans survive rescans and remain downloadable.
package selection

// Set is an insertion-ordered set of locators. The zero value is empty and
// ready to use. A Set is not safe for concurrent use; each context owns its
// own copy.
type Set struct {
	order []string
	index map[string]int
}

// New returns a set holding members in order, ignoring duplicates.
func New(members ...string) *Set {
	s := &Set{}
	for _, m := range members {
		s.add(m)
	}
	return s
}

func (s *Set) add(m string) bool {
	if s.index == nil {
		s.index = map[string]int{}
	}
	if _, ok := s.index[m]; ok {
		return false
	}
	s.index[m] = len(s.order)
	s.order = append(s.order, m)
	return true
}

func (s *Set) remove(m string) bool {
	i, ok := s.index[m]
	if !ok {
		return false
	}
	s.order = append(s.order[:i], s.order[i+1:]...)
	delete(s.index, m)
	for j := i; j < len(s.order); j++ {
		s.index[s.order[j]] = j
	}
	return true
}

// Len is the number of members.
func (s *Set) Len() int { return len(s.order) }

// Contains reports membership.
func (s *Set) Contains(m string) bool {
	_, ok := s.index[m]
	return ok
}

// Members returns a copy of the members in insertion order.
func (s *Set) Members() []string {
	return append([]string{}, s.order...)
}

// Toggle flips membership of source and reports whether it is now selected.
func (s *Set) Toggle(source string) bool {
	if s.remove(source) {
		return false
	}
	s.add(source)
	return true
}

// SelectAll is the symmetric "select all / clear all" affordance: when the
// selection is as large as the universe it clears, otherwise it adds every
// universe member. The comparison is by size only.
func (s *Set) SelectAll(universe []string) {
	if s.Len() == distinct(universe) {
		s.Clear()
		return
	}
	for _, m := range universe {
		s.add(m)
	}
}

// Replace swaps the contents wholesale (last writer wins).
func (s *Set) Replace(members []string) {
	s.Clear()
	for _, m := range members {
		s.add(m)
	}
}

// Clear empties the set.
func (s *Set) Clear() {
	s.order = nil
	s.index = nil
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	return New(s.order...)
}

func distinct(list []string) int {
	seen := make(map[string]struct{}, len(list))
	for _, m := range list {
		seen[m] = struct{}{}
	}
	return len(seen)
}
