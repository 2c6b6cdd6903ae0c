package npdm

import (
	"fmt"
	"sync"
)

type permutation struct {
	p    []int
	sign float64
}

var (
	permutationsMu    sync.Mutex
	permutationsCache = make(map[int][]permutation)
)

// permutations returns all permutations of n labels with their parity signs.
func permutations(n int) []permutation {
	permutationsMu.Lock()
	defer permutationsMu.Unlock()
	if ps, ok := permutationsCache[n]; ok {
		return ps
	}

	ps := make([]permutation, 0)
	p := make([]int, n)
	used := make([]bool, n)
	var walk func(k int)
	walk = func(k int) {
		if k == n {
			ps = append(ps, permutation{p: append([]int(nil), p...), sign: paritySign(p)})
			return
		}
		for i := range n {
			if used[i] {
				continue
			}
			used[i] = true
			p[k] = i
			walk(k + 1)
			used[i] = false
		}
	}
	walk(0)
	permutationsCache[n] = ps
	return ps
}

func paritySign(p []int) float64 {
	var inversions int
	for i := range p {
		for j := i + 1; j < len(p); j++ {
			if p[i] > p[j] {
				inversions++
			}
		}
	}
	if inversions%2 == 1 {
		return -1
	}
	return 1
}

// Expand calls fn for every reordering of the creation labels and of the destruction labels of a spin-orbital tuple,
// with value multiplied by the fermionic sign of the reordering.
// The tuple passed to fn is reused between calls.
func Expand(idx []int, value float64, fn func([]int, float64)) {
	if len(idx)%2 != 0 {
		panic(fmt.Sprintf("odd tuple %v", idx))
	}
	n := len(idx) / 2
	ps := permutations(n)
	out := make([]int, len(idx))
	for _, a := range ps {
		for k, src := range a.p {
			out[k] = idx[src]
		}
		for _, b := range ps {
			for k, src := range b.p {
				out[n+k] = idx[n+src]
			}
			fn(out, value*a.sign*b.sign)
		}
	}
}
