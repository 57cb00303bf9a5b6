// Package linreg implements the least-squares kernels used by the genome
// scans. Two independent paths are provided: a Cholesky solve of the
// normal equations for well-conditioned full-rank designs, and a
// column-pivoted QR that detects rank deficiency and fits on the maximal
// linearly independent column subset.
package linreg

import (
	"errors"
	"fmt"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"
)

var log = logging.MustGetLogger("linreg")

// DefaultTol is the default tolerance for rank decisions in the QR path.
const DefaultTol = 1e-12

// ErrNotPosDef is returned by the Cholesky path when the normal-equations
// matrix X'X is not positive definite (rank-deficient or badly scaled
// design). Callers hitting this should switch to the QR path.
var ErrNotPosDef = errors.New("linreg: X'X is not positive definite")

// DimensionError reports mismatched dimensions between arguments.
type DimensionError struct {
	Op        string
	Want, Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("linreg: %s: dimension mismatch: %d vs %d", e.Op, e.Want, e.Got)
}

// Fit is the result of a least-squares fit. Y may have several columns
// (one per trait); RSS then has one entry per column. On the QR path
// coefficients of columns dropped for linear dependence are zero and Rank
// reports how many columns were used.
type Fit struct {
	Coef   *mat.Dense
	Fitted *mat.Dense
	Resid  *mat.Dense
	RSS    []float64
	Rank   int
}

func checkRows(op string, x, y *mat.Dense) error {
	xr, _ := x.Dims()
	yr, _ := y.Dims()
	if xr != yr {
		return &DimensionError{Op: op, Want: xr, Got: yr}
	}
	return nil
}

// FitCholesky fits Y ~ X by solving the normal equations with a Cholesky
// factorization. X must have full column rank; otherwise ErrNotPosDef is
// returned.
func FitCholesky(x, y *mat.Dense) (*Fit, error) {
	if err := checkRows("FitCholesky", x, y); err != nil {
		return nil, err
	}
	n, p := x.Dims()
	_, k := y.Dims()

	xtx := mat.NewSymDense(p, nil)
	xtx.SymOuterK(1, x.T())
	var chol mat.Cholesky
	if !chol.Factorize(xtx) {
		log.Debugf("Cholesky failed for %dx%d design", n, p)
		return nil, ErrNotPosDef
	}

	xty := mat.NewDense(p, k, nil)
	xty.Mul(x.T(), y)
	coef := mat.NewDense(p, k, nil)
	if err := chol.SolveTo(coef, xty); err != nil {
		return nil, ErrNotPosDef
	}

	fitted := mat.NewDense(n, k, nil)
	fitted.Mul(x, coef)
	resid := mat.NewDense(n, k, nil)
	resid.Sub(y, fitted)

	rss := make([]float64, k)
	for j := 0; j < k; j++ {
		for i := 0; i < n; i++ {
			r := resid.At(i, j)
			rss[j] += r * r
		}
	}
	return &Fit{Coef: coef, Fitted: fitted, Resid: resid, RSS: rss, Rank: p}, nil
}

// RSSCholesky returns the residual sum of squares per trait column,
// by the Cholesky path.
func RSSCholesky(x, y *mat.Dense) ([]float64, error) {
	fit, err := FitCholesky(x, y)
	if err != nil {
		return nil, err
	}
	return fit.RSS, nil
}

// ResidCholesky returns the residual matrix by the Cholesky path.
func ResidCholesky(x, y *mat.Dense) (*mat.Dense, error) {
	fit, err := FitCholesky(x, y)
	if err != nil {
		return nil, err
	}
	return fit.Resid, nil
}
