package align

import (
	"sort"

	"github.com/sells-group/qrels-cli/internal/model"
)

// PairSet is a set of relevance pairs with deterministic iteration through
// Sorted.
type PairSet struct {
	m map[model.RelevancePair]struct{}
}

// NewPairSet creates an empty set.
func NewPairSet() *PairSet {
	return &PairSet{m: make(map[model.RelevancePair]struct{})}
}

// Add inserts p and reports whether it was new.
func (s *PairSet) Add(p model.RelevancePair) bool {
	if _, ok := s.m[p]; ok {
		return false
	}
	s.m[p] = struct{}{}
	return true
}

// AddAll inserts every pair of o.
func (s *PairSet) AddAll(o *PairSet) {
	for p := range o.m {
		s.m[p] = struct{}{}
	}
}

// Contains reports whether p is in the set.
func (s *PairSet) Contains(p model.RelevancePair) bool {
	_, ok := s.m[p]
	return ok
}

// Len returns the number of pairs.
func (s *PairSet) Len() int {
	return len(s.m)
}

// Sorted returns the pairs ordered by (question, chunk).
func (s *PairSet) Sorted() []model.RelevancePair {
	out := make([]model.RelevancePair, 0, len(s.m))
	for p := range s.m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
