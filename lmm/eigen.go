// Package lmm implements the linear-mixed-model machinery of the scans:
// rotation of the problem into the eigenbasis of a kinship matrix, the
// profiled (restricted) log-likelihood in the heritability parameter, and
// its bounded maximization.
//
// The kinship eigendecomposition must use the same individual ordering as
// the phenotype and covariate rows. Orderings are not labeled at this
// layer and cannot be verified; a mismatch silently produces wrong
// results, so alignment is part of the caller contract. Row counts, on
// the other hand, are always checked.
package lmm

import (
	"errors"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/qscan/linreg"
)

var log = logging.MustGetLogger("lmm")

// ErrEigen is returned when the symmetric eigendecomposition fails to
// converge.
var ErrEigen = errors.New("lmm: eigendecomposition failed")

// Eigendecomp is the cached eigendecomposition of a kinship matrix.
// Values are in ascending order; the columns of Vectors are the
// corresponding orthonormal eigenvectors.
type Eigendecomp struct {
	Values  []float64
	Vectors *mat.Dense
}

// EigenDecomp computes the eigendecomposition of a symmetric kinship
// matrix.
func EigenDecomp(k *mat.SymDense) (*Eigendecomp, error) {
	var eig mat.EigenSym
	if !eig.Factorize(k, true) {
		return nil, ErrEigen
	}
	var v mat.Dense
	eig.VectorsTo(&v)
	return &Eigendecomp{Values: eig.Values(nil), Vectors: &v}, nil
}

// Rotation is a phenotype matrix and design matrix rotated into the
// eigenbasis of a kinship matrix, along with the eigenvalues.
type Rotation struct {
	Kva []float64
	Y   *mat.Dense
	X   *mat.Dense
}

// Rotate multiplies y and x by the eigenvector transpose. x may be nil.
func (e *Eigendecomp) Rotate(y, x *mat.Dense) (*Rotation, error) {
	n := len(e.Values)
	yr, _ := y.Dims()
	if yr != n {
		return nil, &linreg.DimensionError{Op: "lmm.Rotate", Want: n, Got: yr}
	}
	rot := &Rotation{Kva: e.Values}
	var yy mat.Dense
	yy.Mul(e.Vectors.T(), y)
	rot.Y = &yy
	if x != nil {
		xr, _ := x.Dims()
		if xr != n {
			return nil, &linreg.DimensionError{Op: "lmm.Rotate", Want: n, Got: xr}
		}
		var xx mat.Dense
		xx.Mul(e.Vectors.T(), x)
		rot.X = &xx
	}
	return rot, nil
}

// EigenRotation decomposes a kinship matrix and rotates y and x into its
// eigenbasis in one call.
func EigenRotation(k *mat.SymDense, y, x *mat.Dense) (*Rotation, error) {
	e, err := EigenDecomp(k)
	if err != nil {
		return nil, err
	}
	return e.Rotate(y, x)
}

// LogDetXpX returns log(det(X'X)) for a design matrix, a normalizing
// term needed when comparing restricted likelihoods of models of
// different rank.
func LogDetXpX(x *mat.Dense) (float64, error) {
	_, p := x.Dims()
	xtx := mat.NewSymDense(p, nil)
	xtx.SymOuterK(1, x.T())
	var chol mat.Cholesky
	if !chol.Factorize(xtx) {
		return 0, linreg.ErrNotPosDef
	}
	return chol.LogDet(), nil
}
