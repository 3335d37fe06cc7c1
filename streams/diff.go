package streams

import (
	"sort"
	"time"
)

// Set is a set of entity names.
type Set map[string]struct{}

// NewSet returns a Set holding names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in s.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the members of s in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Diff returns current minus previous: the names that became live since the last poll.
func Diff(previous, current Set) Set {
	out := make(Set)
	for n := range current {
		if !previous.Has(n) {
			out[n] = struct{}{}
		}
	}
	return out
}

// Fresh reports whether a stream that started at startedAt is young enough, as seen
// at now, to announce. The age must fall in (0, window]; a start time in the future
// is treated as stale.
func Fresh(startedAt, now time.Time, window time.Duration) bool {
	age := now.Sub(startedAt)
	return age > 0 && age <= window
}
