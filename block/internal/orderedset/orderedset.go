// Package orderedset implements a small ordered set of int64 values,
// sized for tracking the free block addresses of one size class of a
// dynamic block buffer — never large enough to need a b-tree.
package orderedset

import "sort"

// Set is an ordered set of int64, backed by a sorted slice. Not safe
// for concurrent use.
type Set struct {
	vals []int64
}

// New returns an empty Set.
func New() *Set { return &Set{} }

func (s *Set) search(v int64) int {
	return sort.Search(len(s.vals), func(i int) bool { return s.vals[i] >= v })
}

// Insert adds v to the set. A no-op if v is already present.
func (s *Set) Insert(v int64) {
	i := s.search(v)
	if i < len(s.vals) && s.vals[i] == v {
		return
	}
	s.vals = append(s.vals, 0)
	copy(s.vals[i+1:], s.vals[i:])
	s.vals[i] = v
}

// Remove deletes v from the set. Reports whether v was present.
func (s *Set) Remove(v int64) bool {
	i := s.search(v)
	if i >= len(s.vals) || s.vals[i] != v {
		return false
	}
	s.vals = append(s.vals[:i], s.vals[i+1:]...)
	return true
}

// Contains reports whether v is a member of the set.
func (s *Set) Contains(v int64) bool {
	i := s.search(v)
	return i < len(s.vals) && s.vals[i] == v
}

// Len returns the number of members.
func (s *Set) Len() int { return len(s.vals) }

// Min returns the smallest member and true, or 0 and false if empty.
func (s *Set) Min() (int64, bool) {
	if len(s.vals) == 0 {
		return 0, false
	}
	return s.vals[0], true
}

// PopMin removes and returns the smallest member.
func (s *Set) PopMin() (int64, bool) {
	v, ok := s.Min()
	if ok {
		s.vals = s.vals[1:]
	}
	return v, ok
}
