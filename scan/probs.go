// Package scan implements the genome-scan drivers: Haley-Knott
// regression and linear-mixed-model scans over a genotype-probability
// array, in plain, weighted and interactive-covariate variants, plus the
// covariate-expansion helpers they are built from.
//
// All inputs share one individual ordering across phenotype, covariate
// and probability rows. Row counts are validated on every entry point;
// label alignment is the caller's contract and cannot be detected here.
// Caller-supplied arrays are never mutated.
package scan

import (
	"fmt"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"
)

var log = logging.MustGetLogger("scan")

// GenoProbs is a genotype-probability array for one chromosome:
// individuals x genotype categories x positions, stored as position-major
// slabs. Probabilities for one individual at one position are assumed to
// sum to 1; this is an input invariant, not enforced here.
type GenoProbs struct {
	nind, ngen, npos int
	data             []float64
}

// NewGenoProbs wraps data (or a fresh zero array when data is nil) as a
// genotype-probability array. The layout is position-major: the slab for
// position p occupies data[p*nind*ngen:(p+1)*nind*ngen], row-major over
// individuals.
func NewGenoProbs(nind, ngen, npos int, data []float64) (*GenoProbs, error) {
	if nind < 1 || ngen < 1 || npos < 1 {
		return nil, fmt.Errorf("scan: bad genotype-probability dimensions %dx%dx%d", nind, ngen, npos)
	}
	if data == nil {
		data = make([]float64, nind*ngen*npos)
	} else if len(data) != nind*ngen*npos {
		return nil, fmt.Errorf("scan: genotype-probability data length %d, expected %d",
			len(data), nind*ngen*npos)
	}
	return &GenoProbs{nind: nind, ngen: ngen, npos: npos, data: data}, nil
}

// Dims returns individuals, genotype categories and positions.
func (p *GenoProbs) Dims() (nind, ngen, npos int) {
	return p.nind, p.ngen, p.npos
}

// Slab returns the individuals x genotypes matrix at one position. The
// returned matrix shares the array's backing storage and must be treated
// as read-only.
func (p *GenoProbs) Slab(pos int) *mat.Dense {
	if pos < 0 || pos >= p.npos {
		panic(fmt.Sprintf("scan: position %d out of range [0,%d)", pos, p.npos))
	}
	off := pos * p.nind * p.ngen
	return mat.NewDense(p.nind, p.ngen, p.data[off:off+p.nind*p.ngen])
}

// MatrixTimesMatrix returns m1 * m2.
func MatrixTimesMatrix(m1, m2 mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(m1, m2)
	return &out
}

// MatrixTimesVector returns m * v.
func MatrixTimesVector(m mat.Matrix, v []float64) []float64 {
	r, c := m.Dims()
	if c != len(v) {
		panic(fmt.Sprintf("scan: matrix-vector mismatch: %d columns vs %d", c, len(v)))
	}
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		var s float64
		for j := 0; j < c; j++ {
			s += m.At(i, j) * v[j]
		}
		out[i] = s
	}
	return out
}

// MatrixTimes3D multiplies every position slab of probs by m on the
// left, returning a new array with m's row count as its individual
// dimension. Used to rotate a whole probability array into a kinship
// eigenbasis in one pass.
func MatrixTimes3D(m mat.Matrix, probs *GenoProbs) (*GenoProbs, error) {
	mr, mc := m.Dims()
	if mc != probs.nind {
		return nil, fmt.Errorf("scan: matrix has %d columns, probability array has %d individuals",
			mc, probs.nind)
	}
	out, _ := NewGenoProbs(mr, probs.ngen, probs.npos, nil)
	for pos := 0; pos < probs.npos; pos++ {
		out.Slab(pos).Mul(m, probs.Slab(pos))
	}
	return out, nil
}

// WeightedMatrix returns a copy of m with row i multiplied by w[i]. The
// weights are applied exactly as given; scan entry points pass square
// roots of observation weights here.
func WeightedMatrix(m *mat.Dense, w []float64) (*mat.Dense, error) {
	r, c := m.Dims()
	if r != len(w) {
		return nil, fmt.Errorf("scan: %d rows but %d weights", r, len(w))
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(i, j)*w[i])
		}
	}
	return out, nil
}

// Weighted3D returns a copy of probs with individual i's rows multiplied
// by w[i] at every position.
func Weighted3D(probs *GenoProbs, w []float64) (*GenoProbs, error) {
	if probs.nind != len(w) {
		return nil, fmt.Errorf("scan: %d individuals but %d weights", probs.nind, len(w))
	}
	out, _ := NewGenoProbs(probs.nind, probs.ngen, probs.npos, nil)
	idx := 0
	for pos := 0; pos < probs.npos; pos++ {
		for i := 0; i < probs.nind; i++ {
			for g := 0; g < probs.ngen; g++ {
				out.data[idx] = probs.data[idx] * w[i]
				idx++
			}
		}
	}
	return out, nil
}
