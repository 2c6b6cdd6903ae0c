package npdm

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
)

// MaxRank is the largest tensor rank, that of the four-particle density matrix.
const MaxRank = 8

// Index is an orbital-index tuple padded with zeros to MaxRank.
type Index [MaxRank]int

// Element is a matrix element keyed by its orbital-index tuple.
type Element struct {
	Index []int
	Value float64
}

func (e Element) String() string {
	return fmt.Sprintf("%v %g", e.Index, e.Value)
}

// Sparse maps orbital-index tuples of a fixed rank to values.
// Values added under the same tuple accumulate.
type Sparse struct {
	rank int
	m    map[Index]float64
}

// NewSparse returns an empty map of tuples of the given rank.
func NewSparse(rank int) *Sparse {
	if rank < 1 || rank > MaxRank {
		panic(fmt.Sprintf("rank %d", rank))
	}
	return &Sparse{rank: rank, m: make(map[Index]float64)}
}

func (s *Sparse) Rank() int { return s.rank }
func (s *Sparse) Len() int  { return len(s.m) }

func (s *Sparse) key(idx []int) (Index, error) {
	var k Index
	if len(idx) != s.rank {
		return k, errors.Errorf("tuple %v of length %d, expected %d", idx, len(idx), s.rank)
	}
	copy(k[:], idx)
	return k, nil
}

func (s *Sparse) mustKey(idx []int) Index {
	k, err := s.key(idx)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return k
}

// Add adds v to the value of idx.
func (s *Sparse) Add(idx []int, v float64) error {
	k, err := s.key(idx)
	if err != nil {
		return errors.Wrap(err, "")
	}
	s.m[k] += v
	return nil
}

// At returns the value of idx, zero if absent.
func (s *Sparse) At(idx []int) float64 {
	return s.m[s.mustKey(idx)]
}

// Has reports whether idx is present.
func (s *Sparse) Has(idx []int) bool {
	k, err := s.key(idx)
	if err != nil {
		return false
	}
	_, ok := s.m[k]
	return ok
}

// Clear removes all entries.
func (s *Sparse) Clear() { clear(s.m) }

// Merge adds every entry of o to s.
func (s *Sparse) Merge(o *Sparse) error {
	if o.rank != s.rank {
		return errors.Errorf("rank %d, expected %d", o.rank, s.rank)
	}
	for k, v := range o.m {
		s.m[k] += v
	}
	return nil
}

// All iterates over the entries in lexicographic order of their tuples.
// The yielded slice is reused between iterations.
func (s *Sparse) All() func(yield func([]int, float64) bool) {
	return func(yield func([]int, float64) bool) {
		keys := s.sortedKeys()
		idx := make([]int, s.rank)
		for _, k := range keys {
			copy(idx, k[:s.rank])
			if !yield(idx, s.m[k]) {
				return
			}
		}
	}
}

func (s *Sparse) sortedKeys() []Index {
	keys := make([]Index, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Index) int {
		for i := range a {
			if c := cmp.Compare(a[i], b[i]); c != 0 {
				return c
			}
		}
		return 0
	})
	return keys
}

// Elements returns the entries in lexicographic order.
func (s *Sparse) Elements() []Element {
	elements := make([]Element, 0, len(s.m))
	for idx, v := range s.All() {
		elements = append(elements, Element{Index: slices.Clone(idx), Value: v})
	}
	return elements
}

// EqualApprox reports whether s and o hold the same tuples with values differing by at most tol.
func (s *Sparse) EqualApprox(o *Sparse, tol float64) bool {
	if s.rank != o.rank || len(s.m) != len(o.m) {
		return false
	}
	for k, v := range s.m {
		ov, ok := o.m[k]
		if !ok || math.Abs(v-ov) > tol {
			return false
		}
	}
	return true
}
