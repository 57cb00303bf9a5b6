// Package perm generates the random permutations used for significance
// testing: plain uniform permutations and stratified permutations that
// shuffle only within blocking groups (e.g. sex or cross direction), so
// the strata composition of the design is preserved.
package perm

import (
	"encoding/binary"
	"fmt"

	"github.com/hhcho/frand"
	"gonum.org/v1/gonum/mat"
)

// prgBufSize is the read-ahead buffer of the underlying generator.
const prgBufSize = 1024

// Source is a seeded random source. A Source is not safe for concurrent
// use; give each worker its own.
type Source struct {
	rng *frand.RNG
}

// NewSource returns a source seeded deterministically from seed, so
// permutation runs are reproducible.
func NewSource(seed uint64) *Source {
	key := make([]byte, 32)
	binary.LittleEndian.PutUint64(key, seed)
	return &Source{rng: frand.NewCustom(key, prgBufSize, 20)}
}

// RandInt returns a uniform integer in [lo, hi].
func (s *Source) RandInt(lo, hi int) int {
	return lo + s.rng.Intn(hi-lo+1)
}

// Permutation returns a uniformly random permutation of 0..n-1.
func (s *Source) Permutation(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	// Fisher-Yates
	for i := n - 1; i > 0; i-- {
		j := s.rng.Intn(i + 1)
		p[i], p[j] = p[j], p[i]
	}
	return p
}

// PermutationStratified returns a permutation of 0..len(strata)-1 that
// moves indices only within their stratum: the set of indices mapped
// into each stratum equals the set originally assigned to it. strata
// holds a label in [0, nStrata) per individual.
func (s *Source) PermutationStratified(strata []int, nStrata int) ([]int, error) {
	members := make([][]int, nStrata)
	for i, st := range strata {
		if st < 0 || st >= nStrata {
			return nil, fmt.Errorf("perm: stratum label %d out of range [0,%d)", st, nStrata)
		}
		members[st] = append(members[st], i)
	}
	out := make([]int, len(strata))
	for _, m := range members {
		for k := len(m) - 1; k > 0; k-- {
			j := s.rng.Intn(k + 1)
			m[k], m[j] = m[j], m[k]
		}
	}
	// members[st] is now a shuffled list of the stratum's indices;
	// walk individuals in order and pop from their stratum's list.
	next := make([]int, nStrata)
	for i, st := range strata {
		out[i] = members[st][next[st]]
		next[st]++
	}
	return out, nil
}

// PermuteNVector returns nperm independently permuted copies of v as the
// columns of a len(v) x nperm matrix.
func (s *Source) PermuteNVector(nperm int, v []float64) *mat.Dense {
	n := len(v)
	out := mat.NewDense(n, nperm, nil)
	for c := 0; c < nperm; c++ {
		p := s.Permutation(n)
		for i := 0; i < n; i++ {
			out.Set(i, c, v[p[i]])
		}
	}
	return out
}

// PermuteIVector returns nperm independently permuted copies of v, one
// slice per permutation.
func (s *Source) PermuteIVector(nperm int, v []int) [][]int {
	n := len(v)
	out := make([][]int, nperm)
	for c := 0; c < nperm; c++ {
		p := s.Permutation(n)
		col := make([]int, n)
		for i := 0; i < n; i++ {
			col[i] = v[p[i]]
		}
		out[c] = col
	}
	return out
}

// PermuteNVectorStratified is PermuteNVector with within-stratum
// shuffling only.
func (s *Source) PermuteNVectorStratified(nperm int, v []float64, strata []int, nStrata int) (*mat.Dense, error) {
	n := len(v)
	if len(strata) != n {
		return nil, fmt.Errorf("perm: %d values but %d strata labels", n, len(strata))
	}
	out := mat.NewDense(n, nperm, nil)
	for c := 0; c < nperm; c++ {
		p, err := s.PermutationStratified(strata, nStrata)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out.Set(i, c, v[p[i]])
		}
	}
	return out, nil
}

// PermuteIVectorStratified is PermuteIVector with within-stratum
// shuffling only.
func (s *Source) PermuteIVectorStratified(nperm int, v []int, strata []int, nStrata int) ([][]int, error) {
	n := len(v)
	if len(strata) != n {
		return nil, fmt.Errorf("perm: %d values but %d strata labels", n, len(strata))
	}
	out := make([][]int, nperm)
	for c := 0; c < nperm; c++ {
		p, err := s.PermutationStratified(strata, nStrata)
		if err != nil {
			return nil, err
		}
		col := make([]int, n)
		for i := 0; i < n; i++ {
			col[i] = v[p[i]]
		}
		out[c] = col
	}
	return out, nil
}
