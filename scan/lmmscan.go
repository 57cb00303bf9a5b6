package scan

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/qscan/linreg"
	"bitbucket.org/Davydov/qscan/lmm"
)

const ln10 = math.Ln10

func checkEigen(probs *GenoProbs, eig *lmm.Eigendecomp) error {
	n, _, _ := probs.Dims()
	if len(eig.Values) != n {
		return &linreg.DimensionError{Op: "scan: kinship eigenvalues", Want: n, Got: len(eig.Values)}
	}
	return nil
}

// traitColumns splits a rotated phenotype matrix into single-trait
// columns for the per-trait heritability fits.
func traitColumns(y *mat.Dense) []*mat.Dense {
	n, k := y.Dims()
	cols := make([]*mat.Dense, k)
	for j := 0; j < k; j++ {
		c := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			c.Set(i, 0, y.At(i, j))
		}
		cols[j] = c
	}
	return cols
}

// lmmScan is the position loop shared by the mixed-model variants. All
// inputs are already rotated into the kinship eigenbasis. The null model
// is fit once per trait; each position re-maximizes the heritability for
// the full design [nullX | genotype slab].
func lmmScan(probsR *GenoProbs, phenoR, nullX *mat.Dense, kva []float64, reml bool, tol float64) (*mat.Dense, error) {
	_, _, npos := probsR.Dims()
	_, ntraits := phenoR.Dims()
	log.Debugf("LMM scan: %d positions, %d traits (reml=%v)", npos, ntraits, reml)

	nullFits, err := lmm.FitLMMMat(kva, phenoR, nullX, reml, true, tol)
	if err != nil {
		return nil, err
	}
	cols := traitColumns(phenoR)

	out := mat.NewDense(npos, ntraits, nil)
	err = scanPositions(npos, func(pos int) error {
		x := cbind(nullX, probsR.Slab(pos))
		logdetXpX := math.NaN()
		if reml {
			logdetXpX, _ = linreg.LogDetXpX(x, tol)
		}
		for t := 0; t < ntraits; t++ {
			fit, err := lmm.FitLMM(kva, cols[t], x, reml, true, logdetXpX, tol)
			if err != nil {
				return err
			}
			out.Set(pos, t, (fit.LogLik-nullFits[t].LogLik)/ln10)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LMM runs a mixed-model scan: phenotypes, covariates and the whole
// probability array are rotated into the kinship eigenbasis once, the
// null heritability is fit once per trait, and every position is scored
// by its re-maximized (restricted) log-likelihood. addcovar should
// include the intercept; nil means intercept only.
func LMM(probs *GenoProbs, pheno, addcovar *mat.Dense, eig *lmm.Eigendecomp, reml bool, tol float64) (*mat.Dense, error) {
	if err := checkPheno(probs, pheno); err != nil {
		return nil, err
	}
	if err := checkEigen(probs, eig); err != nil {
		return nil, err
	}
	n, _, _ := probs.Dims()
	if addcovar == nil {
		addcovar = onesColumn(n)
	} else if err := checkPheno(probs, addcovar); err != nil {
		return nil, err
	}
	rot, err := eig.Rotate(pheno, addcovar)
	if err != nil {
		return nil, err
	}
	probsR, err := MatrixTimes3D(eig.Vectors.T(), probs)
	if err != nil {
		return nil, err
	}
	return lmmScan(probsR, rot.Y, rot.X, rot.Kva, reml, tol)
}

// LMMIntcovarHighmem runs a mixed-model scan with an interactive
// covariate, pre-expanding the probability array with the cross terms
// before the rotation. Main effects of intcovar must be included in
// addcovar.
func LMMIntcovarHighmem(probs *GenoProbs, pheno, addcovar, intcovar *mat.Dense, eig *lmm.Eigendecomp, reml bool, tol float64) (*mat.Dense, error) {
	if err := checkPheno(probs, intcovar); err != nil {
		return nil, err
	}
	expanded, err := ExpandGenoprobsIntcovar(probs, intcovar)
	if err != nil {
		return nil, err
	}
	return LMM(expanded, pheno, addcovar, eig, reml, tol)
}

// LMMIntcovarLowmem is the low-memory mixed-model interactive-covariate
// scan: each position's interaction design is built and rotated on the
// fly instead of expanding and rotating the whole array up front.
func LMMIntcovarLowmem(probs *GenoProbs, pheno, addcovar, intcovar *mat.Dense, eig *lmm.Eigendecomp, reml bool, tol float64) (*mat.Dense, error) {
	if err := checkPheno(probs, pheno); err != nil {
		return nil, err
	}
	if err := checkPheno(probs, intcovar); err != nil {
		return nil, err
	}
	if err := checkEigen(probs, eig); err != nil {
		return nil, err
	}
	n, _, npos := probs.Dims()
	if addcovar == nil {
		addcovar = onesColumn(n)
	} else if err := checkPheno(probs, addcovar); err != nil {
		return nil, err
	}
	rot, err := eig.Rotate(pheno, addcovar)
	if err != nil {
		return nil, err
	}
	nullFits, err := lmm.FitLMMMat(rot.Kva, rot.Y, rot.X, reml, true, tol)
	if err != nil {
		return nil, err
	}
	cols := traitColumns(rot.Y)
	_, ntraits := pheno.Dims()
	vT := eig.Vectors.T()

	out := mat.NewDense(npos, ntraits, nil)
	err = scanPositions(npos, func(pos int) error {
		x0, err := FormXIntcovar(probs, addcovar, intcovar, pos)
		if err != nil {
			return err
		}
		var x mat.Dense
		x.Mul(vT, x0)
		logdetXpX := math.NaN()
		if reml {
			logdetXpX, _ = linreg.LogDetXpX(&x, tol)
		}
		for t := 0; t < ntraits; t++ {
			fit, err := lmm.FitLMM(rot.Kva, cols[t], &x, reml, true, logdetXpX, tol)
			if err != nil {
				return err
			}
			out.Set(pos, t, (fit.LogLik-nullFits[t].LogLik)/ln10)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
