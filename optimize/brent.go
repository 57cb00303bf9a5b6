// Package optimize provides bounded one-dimensional maximization for the
// likelihood searches. The heritability parameter of the mixed model is a
// single bounded scalar, so the only machinery needed is a derivative-free
// line search plus explicit boundary handling.
package optimize

import (
	"math"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("optimize")

const (
	// cgold is the golden-section ratio used for fallback steps.
	cgold = 0.3819660112501051
	// zeps protects convergence tests around an optimum at zero.
	zeps = 1e-10
	// maxIter bounds the Brent iteration count.
	maxIter = 100
)

// Brent maximizes f on [lo, hi] by Brent's method (parabolic
// interpolation with golden-section fallback). It returns the location
// and value of the maximum found; the location is always within
// [lo, hi]. tol is the relative x-tolerance of the search.
func Brent(f func(float64) float64, lo, hi, tol float64) (float64, float64) {
	if lo > hi {
		lo, hi = hi, lo
	}
	a, b := lo, hi
	x := a + cgold*(b-a)
	w, v := x, x
	fx := f(x)
	fw, fv := fx, fx
	var d, e float64

	for i := 0; i < maxIter; i++ {
		xm := 0.5 * (a + b)
		tol1 := tol*math.Abs(x) + zeps
		tol2 := 2 * tol1
		if math.Abs(x-xm) <= tol2-0.5*(b-a) {
			log.Debugf("Brent converged after %d iterations: x=%v f=%v", i, x, fx)
			return x, fx
		}
		useGolden := true
		if math.Abs(e) > tol1 {
			// Trial parabolic fit through x, v, w.
			r := (x - w) * (fx - fv)
			q := (x - v) * (fx - fw)
			p := (x-v)*q - (x-w)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			}
			q = math.Abs(q)
			etmp := e
			e = d
			if math.Abs(p) < math.Abs(0.5*q*etmp) && p > q*(a-x) && p < q*(b-x) {
				d = p / q
				u := x + d
				if u-a < tol2 || b-u < tol2 {
					d = math.Copysign(tol1, xm-x)
				}
				useGolden = false
			}
		}
		if useGolden {
			if x >= xm {
				e = a - x
			} else {
				e = b - x
			}
			d = cgold * e
		}
		var u float64
		if math.Abs(d) >= tol1 {
			u = x + d
		} else {
			u = x + math.Copysign(tol1, d)
		}
		fu := f(u)
		if fu >= fx {
			if u >= x {
				a = x
			} else {
				b = x
			}
			v, w, x = w, x, u
			fv, fw, fx = fw, fx, fu
		} else {
			if u < x {
				a = u
			} else {
				b = u
			}
			if fu >= fw || w == x {
				v, w = w, u
				fv, fw = fw, fu
			} else if fu >= fv || v == x || v == w {
				v, fv = u, fu
			}
		}
	}
	log.Warningf("Brent iterations exceeded (%d)", maxIter)
	return x, fx
}

// MaximizeWithBoundary maximizes f on [lo, hi], explicitly evaluating the
// endpoints and preferring them when they dominate the interior optimum.
// This guards against the interior search missing a boundary maximum.
func MaximizeWithBoundary(f func(float64) float64, lo, hi, tol float64) (float64, float64) {
	x, fx := Brent(f, lo, hi, tol)
	if flo := f(lo); flo > fx {
		x, fx = lo, flo
	}
	if fhi := f(hi); fhi > fx {
		x, fx = hi, fhi
	}
	return x, fx
}
