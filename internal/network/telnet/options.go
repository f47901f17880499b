package telnet

import "slices"

// OptionSet is an insertion-ordered set of negotiated options.
type OptionSet struct {
	order []Option
}

func (s *OptionSet) Has(o Option) bool {
	return slices.Contains(s.order, o)
}

// Add inserts o, reporting whether it was absent.
func (s *OptionSet) Add(o Option) bool {
	if s.Has(o) {
		return false
	}
	s.order = append(s.order, o)
	return true
}

// Remove deletes o, reporting whether it was present.
func (s *OptionSet) Remove(o Option) bool {
	i := slices.Index(s.order, o)
	if i < 0 {
		return false
	}
	s.order = slices.Delete(s.order, i, i+1)
	return true
}

// List returns a copy of the options in the order they were agreed.
func (s *OptionSet) List() []Option {
	return slices.Clone(s.order)
}

func (s *OptionSet) Len() int {
	return len(s.order)
}
