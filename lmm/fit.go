package lmm

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/qscan/linreg"
	"bitbucket.org/Davydov/qscan/optimize"
)

// LMMFit is the result of maximizing the (restricted) log-likelihood of
// a rotated linear mixed model over the heritability.
type LMMFit struct {
	// Hsq is the maximizing heritability, in [0, 1].
	Hsq float64
	// LogLik is the maximized log-likelihood.
	LogLik float64
	// Coef are the fixed-effect estimates at Hsq (zero for design
	// columns dropped as linearly dependent).
	Coef []float64
	// Sigsq is the residual variance estimate at Hsq.
	Sigsq float64
	// Rank is the number of design columns used.
	Rank int
}

func checkLMMDims(op string, kva []float64, y, x *mat.Dense) error {
	n := len(kva)
	yr, _ := y.Dims()
	if yr != n {
		return &linreg.DimensionError{Op: op, Want: n, Got: yr}
	}
	xr, _ := x.Dims()
	if xr != n {
		return &linreg.DimensionError{Op: op, Want: n, Got: xr}
	}
	return nil
}

// calcLL evaluates the profiled log-likelihood at one heritability value.
// kva, y and x must already be rotated into the kinship eigenbasis; the
// variance structure hsq*K + (1-hsq)*I is then diagonal with weights
// hsq*kva + (1-hsq), and the evaluation is a weighted least-squares fit
// plus O(n) accumulation. logdetXpX is only consulted under REML; pass
// NaN to have it computed from x.
func calcLL(hsq float64, kva []float64, y, x *mat.Dense, reml bool, logdetXpX, tol float64) (float64, *linreg.Fit, error) {
	n := len(kva)
	_, p := x.Dims()

	w := make([]float64, n)
	var sumlogw float64
	for i, v := range kva {
		wi := hsq*v + (1 - hsq)
		if wi < math.SmallestNonzeroFloat64 {
			wi = math.SmallestNonzeroFloat64
		}
		w[i] = 1 / math.Sqrt(wi)
		sumlogw += math.Log(wi)
	}

	yw := mat.NewDense(n, 1, nil)
	xw := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		yw.Set(i, 0, y.At(i, 0)*w[i])
		for j := 0; j < p; j++ {
			xw.Set(i, j, x.At(i, j)*w[i])
		}
	}

	fit, err := linreg.FitQR(xw, yw, tol)
	if err != nil {
		return math.Inf(-1), nil, err
	}
	rss := fit.RSS[0]
	if rss < math.SmallestNonzeroFloat64 {
		rss = math.SmallestNonzeroFloat64
	}

	if !reml {
		nf := float64(n)
		ll := -0.5 * (nf*math.Log(2*math.Pi) + sumlogw + nf + nf*math.Log(rss/nf))
		return ll, fit, nil
	}

	df := float64(n - fit.Rank)
	if df <= 0 {
		return math.Inf(-1), fit, nil
	}
	if math.IsNaN(logdetXpX) {
		logdetXpX, _ = linreg.LogDetXpX(x, tol)
	}
	ldXSX, _ := linreg.LogDetXpX(xw, tol)
	ll := -0.5 * (df*math.Log(2*math.Pi) + sumlogw + df + df*math.Log(rss/df) + ldXSX - logdetXpX)
	return ll, fit, nil
}

// CalcLL returns the log-likelihood (or restricted log-likelihood when
// reml) of a rotated model at heritability hsq. Pass NaN as logdetXpX to
// have the REML normalizing term computed from x.
func CalcLL(hsq float64, kva []float64, y, x *mat.Dense, reml bool, logdetXpX, tol float64) (float64, error) {
	if err := checkLMMDims("lmm.CalcLL", kva, y, x); err != nil {
		return 0, err
	}
	if tol <= 0 {
		tol = linreg.DefaultTol
	}
	ll, _, err := calcLL(hsq, kva, y, x, reml, logdetXpX, tol)
	return ll, err
}

// FitLMM maximizes the (restricted) log-likelihood of a rotated model
// over heritability in [0, 1]. checkBoundary forces explicit evaluation
// of hsq=0 and hsq=1, preferring a boundary when it dominates the
// interior optimum. When the eigenvalue spectrum is numerically flat the
// kinship term carries no information and the hsq=0 ordinary
// least-squares fit is returned directly.
func FitLMM(kva []float64, y, x *mat.Dense, reml, checkBoundary bool, logdetXpX, tol float64) (*LMMFit, error) {
	if err := checkLMMDims("lmm.FitLMM", kva, y, x); err != nil {
		return nil, err
	}
	if _, k := y.Dims(); k != 1 {
		return nil, &linreg.DimensionError{Op: "lmm.FitLMM: single-trait y", Want: 1, Got: k}
	}
	if tol <= 0 {
		tol = linreg.DefaultTol
	}
	if reml && math.IsNaN(logdetXpX) {
		logdetXpX, _ = linreg.LogDetXpX(x, tol)
	}

	hsq := 0.0
	if floats.Max(kva)-floats.Min(kva) >= tol {
		f := func(h float64) float64 {
			ll, _, err := calcLL(h, kva, y, x, reml, logdetXpX, tol)
			if err != nil {
				return math.Inf(-1)
			}
			return ll
		}
		if checkBoundary {
			hsq, _ = optimize.MaximizeWithBoundary(f, 0, 1, tol)
		} else {
			hsq, _ = optimize.Brent(f, 0, 1, tol)
		}
	} else {
		log.Debugf("flat eigenvalue spectrum, fixing hsq=0")
	}

	ll, fit, err := calcLL(hsq, kva, y, x, reml, logdetXpX, tol)
	if err != nil {
		return nil, err
	}
	n := len(kva)
	sigsq := fit.RSS[0] / float64(n)
	if reml && n > fit.Rank {
		sigsq = fit.RSS[0] / float64(n-fit.Rank)
	}
	coef := make([]float64, 0)
	p, _ := fit.Coef.Dims()
	for i := 0; i < p; i++ {
		coef = append(coef, fit.Coef.At(i, 0))
	}
	return &LMMFit{Hsq: hsq, LogLik: ll, Coef: coef, Sigsq: sigsq, Rank: fit.Rank}, nil
}

// FitLMMMat runs FitLMM independently for every trait column of y over a
// shared rotation, so each trait gets its own heritability estimate
// while the eigendecomposition and the REML normalizing term are
// computed only once.
func FitLMMMat(kva []float64, y, x *mat.Dense, reml, checkBoundary bool, tol float64) ([]*LMMFit, error) {
	if err := checkLMMDims("lmm.FitLMMMat", kva, y, x); err != nil {
		return nil, err
	}
	if tol <= 0 {
		tol = linreg.DefaultTol
	}
	logdetXpX := math.NaN()
	if reml {
		logdetXpX, _ = linreg.LogDetXpX(x, tol)
	}
	n, k := y.Dims()
	fits := make([]*LMMFit, k)
	col := mat.NewDense(n, 1, nil)
	for j := 0; j < k; j++ {
		for i := 0; i < n; i++ {
			col.Set(i, 0, y.At(i, j))
		}
		fit, err := FitLMM(kva, col, x, reml, checkBoundary, logdetXpX, tol)
		if err != nil {
			return nil, err
		}
		fits[j] = fit
	}
	return fits, nil
}
