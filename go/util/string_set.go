package util

import "sort"

// StringSet is a set of strings represented by the keys of a map.
type StringSet map[string]bool

// NewStringSet returns the given lists of strings as a StringSet.
func NewStringSet(lists ...[]string) StringSet {
	ret := StringSet{}
	for _, list := range lists {
		for _, entry := range list {
			ret[entry] = true
		}
	}
	return ret
}

// Keys returns the keys of a StringSet, in no particular order.
func (s StringSet) Keys() []string {
	ret := make([]string, 0, len(s))
	for v := range s {
		ret = append(ret, v)
	}
	return ret
}

// SortedKeys returns the keys of a StringSet in sorted order.
func (s StringSet) SortedKeys() []string {
	ret := s.Keys()
	sort.Strings(ret)
	return ret
}

// Copy returns a copy of the StringSet such that reflect.DeepEqual returns
// true for the original and the copy. In particular, a nil StringSet copies
// to nil.
func (s StringSet) Copy() StringSet {
	if s == nil {
		return nil
	}
	ret := make(StringSet, len(s))
	for k, v := range s {
		ret[k] = v
	}
	return ret
}

// Complement returns a new StringSet containing the keys of s that are not
// keys of other.
func (s StringSet) Complement(other StringSet) StringSet {
	ret := StringSet{}
	for k := range s {
		if !other[k] {
			ret[k] = true
		}
	}
	return ret
}
