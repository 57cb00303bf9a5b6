package scan

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/qscan/linreg"
)

// writeLOD fills one output row with n/2 * log10(rss0/rss1) per trait.
// Residual sums of squares are floored at the smallest positive double
// so a perfectly fitting model yields a large finite score rather than
// an infinity.
func writeLOD(out *mat.Dense, pos, n int, rss0, rss1 []float64) {
	for t := range rss1 {
		r0 := math.Max(rss0[t], math.SmallestNonzeroFloat64)
		r1 := math.Max(rss1[t], math.SmallestNonzeroFloat64)
		out.Set(pos, t, 0.5*float64(n)*(math.Log10(r0)-math.Log10(r1)))
	}
}

func checkPheno(probs *GenoProbs, pheno *mat.Dense) error {
	n, _, _ := probs.Dims()
	pr, _ := pheno.Dims()
	if pr != n {
		return &linreg.DimensionError{Op: "scan: phenotype rows", Want: n, Got: pr}
	}
	return nil
}

func sqrtWeights(n int, weights []float64) ([]float64, error) {
	if len(weights) != n {
		return nil, fmt.Errorf("scan: %d individuals but %d weights", n, len(weights))
	}
	sw := make([]float64, n)
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("scan: negative weight %v for individual %d", w, i)
		}
		sw[i] = math.Sqrt(w)
	}
	return sw, nil
}

// hkScan is the position loop shared by the Haley-Knott variants: the
// null RSS is computed once from nullX, and at every position the full
// design [addcovar | genotype slab] is fit by the rank-revealing QR so
// collapsed probability columns reduce the rank instead of failing the
// scan.
func hkScan(probs *GenoProbs, pheno, addcovar, nullX *mat.Dense, tol float64) (*mat.Dense, error) {
	n, _, npos := probs.Dims()
	_, ntraits := pheno.Dims()
	log.Debugf("HK scan: %d positions, %d traits, %d individuals", npos, ntraits, n)
	rss0, err := linreg.RSSQR(nullX, pheno, tol)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(npos, ntraits, nil)
	err = scanPositions(npos, func(pos int) error {
		x := cbind(addcovar, probs.Slab(pos))
		rss1, err := linreg.RSSQR(x, pheno, tol)
		if err != nil {
			return err
		}
		writeLOD(out, pos, n, rss0, rss1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HKNocovar runs a Haley-Knott scan with no covariates: the full model
// is the genotype probabilities alone (they sum to one, spanning the
// intercept) and the null model is the intercept.
func HKNocovar(probs *GenoProbs, pheno *mat.Dense, tol float64) (*mat.Dense, error) {
	if err := checkPheno(probs, pheno); err != nil {
		return nil, err
	}
	n, _, _ := probs.Dims()
	return hkScan(probs, pheno, nil, onesColumn(n), tol)
}

// HK runs a Haley-Knott scan with additive covariates. addcovar should
// include the intercept column; nil addcovar is the no-covariate scan.
func HK(probs *GenoProbs, pheno, addcovar *mat.Dense, tol float64) (*mat.Dense, error) {
	if addcovar == nil {
		return HKNocovar(probs, pheno, tol)
	}
	if err := checkPheno(probs, pheno); err != nil {
		return nil, err
	}
	if err := checkPheno(probs, addcovar); err != nil {
		return nil, err
	}
	return hkScan(probs, pheno, addcovar, addcovar, tol)
}

// HKWeighted runs a Haley-Knott scan with observation weights: all rows
// are scaled by the square roots of the weights before fitting, which is
// generalized least squares with a diagonal weight matrix.
func HKWeighted(probs *GenoProbs, pheno, addcovar *mat.Dense, weights []float64, tol float64) (*mat.Dense, error) {
	if err := checkPheno(probs, pheno); err != nil {
		return nil, err
	}
	n, _, _ := probs.Dims()
	sw, err := sqrtWeights(n, weights)
	if err != nil {
		return nil, err
	}
	if addcovar == nil {
		addcovar = onesColumn(n)
	} else if err := checkPheno(probs, addcovar); err != nil {
		return nil, err
	}
	probsW, err := Weighted3D(probs, sw)
	if err != nil {
		return nil, err
	}
	phenoW, err := WeightedMatrix(pheno, sw)
	if err != nil {
		return nil, err
	}
	addcovarW, err := WeightedMatrix(addcovar, sw)
	if err != nil {
		return nil, err
	}
	return hkScan(probsW, phenoW, addcovarW, addcovarW, tol)
}

// HKIntcovarHighmem runs a Haley-Knott scan with an interactive
// covariate by pre-expanding the whole probability array with the cross
// terms, trading memory for fewer per-position allocations. Main effects
// of intcovar must be included in addcovar; the null model is addcovar
// alone.
func HKIntcovarHighmem(probs *GenoProbs, pheno, addcovar, intcovar *mat.Dense, tol float64) (*mat.Dense, error) {
	if err := checkPheno(probs, pheno); err != nil {
		return nil, err
	}
	expanded, err := ExpandGenoprobsIntcovar(probs, intcovar)
	if err != nil {
		return nil, err
	}
	n, _, _ := probs.Dims()
	if addcovar == nil {
		addcovar = onesColumn(n)
	} else if err := checkPheno(probs, addcovar); err != nil {
		return nil, err
	}
	return hkScan(expanded, pheno, addcovar, addcovar, tol)
}

// HKIntcovarLowmem runs the same scan as HKIntcovarHighmem but builds
// each position's interaction design on the fly. Slower, but the
// expanded array is never materialized; the two variants agree to
// floating-point tolerance.
func HKIntcovarLowmem(probs *GenoProbs, pheno, addcovar, intcovar *mat.Dense, tol float64) (*mat.Dense, error) {
	if err := checkPheno(probs, pheno); err != nil {
		return nil, err
	}
	n, _, npos := probs.Dims()
	if addcovar == nil {
		addcovar = onesColumn(n)
	} else if err := checkPheno(probs, addcovar); err != nil {
		return nil, err
	}
	_, ntraits := pheno.Dims()
	rss0, err := linreg.RSSQR(addcovar, pheno, tol)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(npos, ntraits, nil)
	err = scanPositions(npos, func(pos int) error {
		x, err := FormXIntcovar(probs, addcovar, intcovar, pos)
		if err != nil {
			return err
		}
		rss1, err := linreg.RSSQR(x, pheno, tol)
		if err != nil {
			return err
		}
		writeLOD(out, pos, n, rss0, rss1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HKIntcovarWeightedHighmem combines the interactive-covariate expansion
// with observation weights: cross terms are formed from the unweighted
// inputs and the expanded rows are then scaled by the square roots of
// the weights.
func HKIntcovarWeightedHighmem(probs *GenoProbs, pheno, addcovar, intcovar *mat.Dense, weights []float64, tol float64) (*mat.Dense, error) {
	if err := checkPheno(probs, pheno); err != nil {
		return nil, err
	}
	n, _, _ := probs.Dims()
	sw, err := sqrtWeights(n, weights)
	if err != nil {
		return nil, err
	}
	expanded, err := ExpandGenoprobsIntcovar(probs, intcovar)
	if err != nil {
		return nil, err
	}
	if addcovar == nil {
		addcovar = onesColumn(n)
	} else if err := checkPheno(probs, addcovar); err != nil {
		return nil, err
	}
	expandedW, err := Weighted3D(expanded, sw)
	if err != nil {
		return nil, err
	}
	phenoW, err := WeightedMatrix(pheno, sw)
	if err != nil {
		return nil, err
	}
	addcovarW, err := WeightedMatrix(addcovar, sw)
	if err != nil {
		return nil, err
	}
	return hkScan(expandedW, phenoW, addcovarW, addcovarW, tol)
}

// HKIntcovarWeightedLowmem is the low-memory counterpart of
// HKIntcovarWeightedHighmem: each position's interaction design is built
// and row-scaled on the fly.
func HKIntcovarWeightedLowmem(probs *GenoProbs, pheno, addcovar, intcovar *mat.Dense, weights []float64, tol float64) (*mat.Dense, error) {
	if err := checkPheno(probs, pheno); err != nil {
		return nil, err
	}
	n, _, npos := probs.Dims()
	sw, err := sqrtWeights(n, weights)
	if err != nil {
		return nil, err
	}
	if addcovar == nil {
		addcovar = onesColumn(n)
	} else if err := checkPheno(probs, addcovar); err != nil {
		return nil, err
	}
	phenoW, err := WeightedMatrix(pheno, sw)
	if err != nil {
		return nil, err
	}
	addcovarW, err := WeightedMatrix(addcovar, sw)
	if err != nil {
		return nil, err
	}
	_, ntraits := pheno.Dims()
	rss0, err := linreg.RSSQR(addcovarW, phenoW, tol)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(npos, ntraits, nil)
	err = scanPositions(npos, func(pos int) error {
		x, err := FormXIntcovar(probs, addcovar, intcovar, pos)
		if err != nil {
			return err
		}
		xw, err := WeightedMatrix(x, sw)
		if err != nil {
			return err
		}
		rss1, err := linreg.RSSQR(xw, phenoW, tol)
		if err != nil {
			return err
		}
		writeLOD(out, pos, n, rss0, rss1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
