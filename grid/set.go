package grid

// orderedSet is a set that remembers insertion order. The zero value is an
// empty set ready to use.
type orderedSet[T comparable] struct {
	index map[T]int
	items []T
}

func (s *orderedSet[T]) Has(v T) bool {
	_, ok := s.index[v]
	return ok
}

// Add inserts v and reports whether it was not already present.
func (s *orderedSet[T]) Add(v T) bool {
	if s.Has(v) {
		return false
	}

	if s.index == nil {
		s.index = make(map[T]int)
	}
	s.index[v] = len(s.items)
	s.items = append(s.items, v)
	return true
}

// Remove deletes v and reports whether it was present.
func (s *orderedSet[T]) Remove(v T) bool {
	i, ok := s.index[v]
	if !ok {
		return false
	}

	delete(s.index, v)
	s.items = append(s.items[:i], s.items[i+1:]...)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j]] = j
	}
	return true
}

func (s *orderedSet[T]) Len() int {
	return len(s.items)
}

// Items returns a copy of the elements in insertion order.
func (s *orderedSet[T]) Items() []T {
	items := make([]T, len(s.items))
	copy(items, s.items)
	return items
}

func (s *orderedSet[T]) Clear() {
	clear(s.index)
	s.items = s.items[:0]
}
