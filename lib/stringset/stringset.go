// Package stringset provides the small set type backing request-path
// allow-lists.
package stringset

// StringSet holds each string at most once.
type StringSet map[string]struct{}

// New builds a set from the given elements.
func New(elems ...string) StringSet {
	set := make(StringSet, len(elems))
	set.Add(elems...)
	return set
}

// Add inserts the given strings into the set.
func (set StringSet) Add(elems ...string) {
	for _, elem := range elems {
		set[elem] = struct{}{}
	}
}

// Contains reports whether elem is in the set.
func (set StringSet) Contains(elem string) bool {
	_, ok := set[elem]
	return ok
}

// Len returns the number of elements.
func (set StringSet) Len() int {
	return len(set)
}
