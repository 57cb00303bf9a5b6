package linreg

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// pivotedQR holds a column-pivoted Householder factorization of a design
// matrix. Reflectors are stored below the diagonal of a (with v[0]
// normalized to 1 and omitted), R on and above it. Columns beyond rank
// were judged linearly dependent at the given tolerance.
type pivotedQR struct {
	a    *mat.Dense
	tau  []float64
	piv  []int
	rank int
	n, p int
}

func colNorm(a *mat.Dense, fromRow, j int) float64 {
	n, _ := a.Dims()
	var ss float64
	for i := fromRow; i < n; i++ {
		v := a.At(i, j)
		ss += v * v
	}
	return math.Sqrt(ss)
}

func swapCols(a *mat.Dense, j1, j2 int) {
	n, _ := a.Dims()
	for i := 0; i < n; i++ {
		v := a.At(i, j1)
		a.Set(i, j1, a.At(i, j2))
		a.Set(i, j2, v)
	}
}

// factorQR computes the column-pivoted QR of x. A column whose remaining
// norm falls below tol times the first (largest) pivot ends the
// factorization; the effective rank is the number of accepted columns.
func factorQR(x *mat.Dense, tol float64) *pivotedQR {
	n, p := x.Dims()
	if tol <= 0 {
		tol = DefaultTol
	}
	a := mat.DenseCopyOf(x)
	kmax := n
	if p < n {
		kmax = p
	}
	qr := &pivotedQR{
		a:   a,
		tau: make([]float64, kmax),
		piv: make([]int, p),
		n:   n,
		p:   p,
	}
	for j := range qr.piv {
		qr.piv[j] = j
	}

	var r00 float64
	for k := 0; k < kmax; k++ {
		best, bestNorm := k, colNorm(a, k, k)
		for j := k + 1; j < p; j++ {
			if nrm := colNorm(a, k, j); nrm > bestNorm {
				best, bestNorm = j, nrm
			}
		}
		if best != k {
			swapCols(a, k, best)
			qr.piv[k], qr.piv[best] = qr.piv[best], qr.piv[k]
		}
		if k == 0 {
			r00 = bestNorm
		}
		if bestNorm == 0 || bestNorm <= tol*r00 {
			break
		}

		// Householder reflector taking a[k:,k] onto beta*e1.
		alpha := a.At(k, k)
		beta := bestNorm
		if alpha >= 0 {
			beta = -bestNorm
		}
		v0 := alpha - beta
		for i := k + 1; i < n; i++ {
			a.Set(i, k, a.At(i, k)/v0)
		}
		qr.tau[k] = (beta - alpha) / beta
		a.Set(k, k, beta)

		for j := k + 1; j < p; j++ {
			w := a.At(k, j)
			for i := k + 1; i < n; i++ {
				w += a.At(i, k) * a.At(i, j)
			}
			w *= qr.tau[k]
			a.Set(k, j, a.At(k, j)-w)
			for i := k + 1; i < n; i++ {
				a.Set(i, j, a.At(i, j)-w*a.At(i, k))
			}
		}
		qr.rank++
	}
	return qr
}

// applyQT overwrites the columns of y with Q'y.
func (qr *pivotedQR) applyQT(y *mat.Dense) {
	_, k := y.Dims()
	for c := 0; c < qr.rank; c++ {
		for j := 0; j < k; j++ {
			w := y.At(c, j)
			for i := c + 1; i < qr.n; i++ {
				w += qr.a.At(i, c) * y.At(i, j)
			}
			w *= qr.tau[c]
			y.Set(c, j, y.At(c, j)-w)
			for i := c + 1; i < qr.n; i++ {
				y.Set(i, j, y.At(i, j)-w*qr.a.At(i, c))
			}
		}
	}
}

// applyQ overwrites the columns of z with Qz.
func (qr *pivotedQR) applyQ(z *mat.Dense) {
	_, k := z.Dims()
	for c := qr.rank - 1; c >= 0; c-- {
		for j := 0; j < k; j++ {
			w := z.At(c, j)
			for i := c + 1; i < qr.n; i++ {
				w += qr.a.At(i, c) * z.At(i, j)
			}
			w *= qr.tau[c]
			z.Set(c, j, z.At(c, j)-w)
			for i := c + 1; i < qr.n; i++ {
				z.Set(i, j, z.At(i, j)-w*qr.a.At(i, c))
			}
		}
	}
}

// coef back-substitutes R beta = z over the accepted columns and scatters
// the solution to the original column order; dropped columns get zero.
func (qr *pivotedQR) coef(z *mat.Dense) *mat.Dense {
	_, k := z.Dims()
	coef := mat.NewDense(qr.p, k, nil)
	b := make([]float64, qr.rank)
	for j := 0; j < k; j++ {
		for i := qr.rank - 1; i >= 0; i-- {
			v := z.At(i, j)
			for c := i + 1; c < qr.rank; c++ {
				v -= qr.a.At(i, c) * b[c]
			}
			b[i] = v / qr.a.At(i, i)
		}
		for i := 0; i < qr.rank; i++ {
			coef.Set(qr.piv[i], j, b[i])
		}
	}
	return coef
}

// FitQR fits Y ~ X by column-pivoted QR. Columns of X judged linearly
// dependent at tol are dropped from the fit: their coefficients are
// reported as zero and Rank gives the number of columns used. All trait
// columns of Y share the same rank decision.
func FitQR(x, y *mat.Dense, tol float64) (*Fit, error) {
	if err := checkRows("FitQR", x, y); err != nil {
		return nil, err
	}
	n, _ := x.Dims()
	_, k := y.Dims()

	qr := factorQR(x, tol)
	z := mat.DenseCopyOf(y)
	qr.applyQT(z)

	rss := make([]float64, k)
	for j := 0; j < k; j++ {
		for i := qr.rank; i < n; i++ {
			v := z.At(i, j)
			rss[j] += v * v
		}
	}
	coef := qr.coef(z)

	// Zero the coefficient part and rotate back to get residuals.
	resid := mat.DenseCopyOf(z)
	for j := 0; j < k; j++ {
		for i := 0; i < qr.rank; i++ {
			resid.Set(i, j, 0)
		}
	}
	qr.applyQ(resid)
	fitted := mat.NewDense(n, k, nil)
	fitted.Sub(y, resid)

	return &Fit{Coef: coef, Fitted: fitted, Resid: resid, RSS: rss, Rank: qr.rank}, nil
}

// RSSQR returns the residual sum of squares per trait column, by the
// rank-revealing QR path.
func RSSQR(x, y *mat.Dense, tol float64) ([]float64, error) {
	if err := checkRows("RSSQR", x, y); err != nil {
		return nil, err
	}
	n, _ := x.Dims()
	_, k := y.Dims()
	qr := factorQR(x, tol)
	z := mat.DenseCopyOf(y)
	qr.applyQT(z)
	rss := make([]float64, k)
	for j := 0; j < k; j++ {
		for i := qr.rank; i < n; i++ {
			v := z.At(i, j)
			rss[j] += v * v
		}
	}
	return rss, nil
}

// ResidQR returns the residual matrix by the rank-revealing QR path.
func ResidQR(x, y *mat.Dense, tol float64) (*mat.Dense, error) {
	if err := checkRows("ResidQR", x, y); err != nil {
		return nil, err
	}
	_, k := y.Dims()
	qr := factorQR(x, tol)
	resid := mat.DenseCopyOf(y)
	qr.applyQT(resid)
	for j := 0; j < k; j++ {
		for i := 0; i < qr.rank; i++ {
			resid.Set(i, j, 0)
		}
	}
	qr.applyQ(resid)
	return resid, nil
}

// Resid3D computes residuals for a stack of response slabs sharing one
// design matrix. The slabs are packed side by side in y3 (individuals by
// columns-times-slabs), as in the flattened genotype-probability arrays;
// the design is factored once for the whole stack.
func Resid3D(x, y3 *mat.Dense, tol float64) (*mat.Dense, error) {
	return ResidQR(x, y3, tol)
}

// LogDetXpX returns log(det(X'X)) over the linearly independent columns
// of X, together with the number of columns used, computed from the
// column-pivoted QR of X.
func LogDetXpX(x *mat.Dense, tol float64) (float64, int) {
	qr := factorQR(x, tol)
	var ld float64
	for i := 0; i < qr.rank; i++ {
		ld += 2 * math.Log(math.Abs(qr.a.At(i, i)))
	}
	return ld, qr.rank
}

// FindLinIndepCols returns the indices of a maximal set of linearly
// independent columns of m, in ascending order, decided at tol by the
// pivoted-QR rank logic.
func FindLinIndepCols(m *mat.Dense, tol float64) []int {
	qr := factorQR(m, tol)
	cols := make([]int, qr.rank)
	copy(cols, qr.piv[:qr.rank])
	for i := 1; i < len(cols); i++ {
		for j := i; j > 0 && cols[j-1] > cols[j]; j-- {
			cols[j-1], cols[j] = cols[j], cols[j-1]
		}
	}
	return cols
}

// FindMatchingCols reports, for each column of m, the index of the first
// earlier column identical to it within tol, or -1 if there is none.
// Used to spot redundant covariate columns, e.g. genotype-probability
// columns that collapse at the end of a chromosome.
func FindMatchingCols(m *mat.Dense, tol float64) []int {
	n, p := m.Dims()
	out := make([]int, p)
	for j := range out {
		out[j] = -1
	}
	for j := 1; j < p; j++ {
		for j2 := 0; j2 < j; j2++ {
			match := true
			for i := 0; i < n; i++ {
				if math.Abs(m.At(i, j)-m.At(i, j2)) > tol {
					match = false
					break
				}
			}
			if match {
				out[j] = j2
				break
			}
		}
	}
	return out
}
