package reconcile

import "sort"

// yearSet is a sorted set of year tokens
type yearSet struct {
	years []string
}

func newYearSet(years ...string) *yearSet {
	s := &yearSet{}
	for _, y := range years {
		s.add(y)
	}
	return s
}

func (s *yearSet) add(y string) {
	i := sort.SearchStrings(s.years, y)
	if i < len(s.years) && s.years[i] == y {
		return
	}
	s.years = append(s.years, "")
	copy(s.years[i+1:], s.years[i:])
	s.years[i] = y
}

func (s *yearSet) has(y string) bool {
	i := sort.SearchStrings(s.years, y)
	return i < len(s.years) && s.years[i] == y
}

func (s *yearSet) remove(y string) bool {
	i := sort.SearchStrings(s.years, y)
	if i >= len(s.years) || s.years[i] != y {
		return false
	}
	s.years = append(s.years[:i], s.years[i+1:]...)
	return true
}

func (s *yearSet) len() int {
	return len(s.years)
}

func (s *yearSet) list() []string {
	return append([]string(nil), s.years...)
}
