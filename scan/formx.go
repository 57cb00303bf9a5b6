package scan

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// onesColumn returns an n x 1 intercept matrix.
func onesColumn(n int) *mat.Dense {
	x := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
	}
	return x
}

// cbind concatenates matrices with equal row counts column-wise; nil
// arguments are skipped.
func cbind(ms ...*mat.Dense) *mat.Dense {
	var rows, cols int
	for _, m := range ms {
		if m == nil {
			continue
		}
		r, c := m.Dims()
		rows = r
		cols += c
	}
	out := mat.NewDense(rows, cols, nil)
	at := 0
	for _, m := range ms {
		if m == nil {
			continue
		}
		_, c := m.Dims()
		for j := 0; j < c; j++ {
			for i := 0; i < rows; i++ {
				out.Set(i, at, m.At(i, j))
			}
			at++
		}
	}
	return out
}

// FormXIntcovar builds the design matrix for one position with
// genotype x interactive-covariate cross terms: [addcovar | probabilities
// at pos | probabilities x each intcovar column]. Main effects of the
// interactive covariates are not added implicitly; include them in
// addcovar. addcovar may be nil.
func FormXIntcovar(probs *GenoProbs, addcovar, intcovar *mat.Dense, pos int) (*mat.Dense, error) {
	n, ngen, npos := probs.Dims()
	if pos < 0 || pos >= npos {
		return nil, fmt.Errorf("scan: position %d out of range [0,%d)", pos, npos)
	}
	nadd := 0
	if addcovar != nil {
		r, c := addcovar.Dims()
		if r != n {
			return nil, fmt.Errorf("scan: addcovar has %d rows, probability array has %d individuals", r, n)
		}
		nadd = c
	}
	ir, nint := intcovar.Dims()
	if ir != n {
		return nil, fmt.Errorf("scan: intcovar has %d rows, probability array has %d individuals", ir, n)
	}

	slab := probs.Slab(pos)
	x := mat.NewDense(n, nadd+ngen*(1+nint), nil)
	for i := 0; i < n; i++ {
		for j := 0; j < nadd; j++ {
			x.Set(i, j, addcovar.At(i, j))
		}
		for g := 0; g < ngen; g++ {
			x.Set(i, nadd+g, slab.At(i, g))
		}
		for c := 0; c < nint; c++ {
			for g := 0; g < ngen; g++ {
				x.Set(i, nadd+ngen*(1+c)+g, slab.At(i, g)*intcovar.At(i, c))
			}
		}
	}
	return x, nil
}

// ExpandGenoprobsIntcovar pre-expands a probability array with genotype x
// interactive-covariate cross terms, for the high-memory scan variants.
// The result keeps the position count but has ngen*(1+nintcovar)
// genotype columns per position: the original probabilities followed by
// one probabilities-times-covariate block per interactive covariate.
func ExpandGenoprobsIntcovar(probs *GenoProbs, intcovar *mat.Dense) (*GenoProbs, error) {
	n, ngen, npos := probs.Dims()
	ir, nint := intcovar.Dims()
	if ir != n {
		return nil, fmt.Errorf("scan: intcovar has %d rows, probability array has %d individuals", ir, n)
	}
	out, _ := NewGenoProbs(n, ngen*(1+nint), npos, nil)
	for pos := 0; pos < npos; pos++ {
		slab := probs.Slab(pos)
		oslab := out.Slab(pos)
		for i := 0; i < n; i++ {
			for g := 0; g < ngen; g++ {
				oslab.Set(i, g, slab.At(i, g))
			}
			for c := 0; c < nint; c++ {
				for g := 0; g < ngen; g++ {
					oslab.Set(i, ngen*(1+c)+g, slab.At(i, g)*intcovar.At(i, c))
				}
			}
		}
	}
	return out, nil
}
