package optimize

import (
	"math"
	"testing"

	"github.com/op/go-logging"
)

const smallDiff = 1e-6

func init() {
	logging.SetLevel(logging.WARNING, "optimize")
}

func TestBrentInterior(tst *testing.T) {
	f := func(x float64) float64 { return -(x - 0.3) * (x - 0.3) }
	x, fx := Brent(f, 0, 1, 1e-10)
	if math.Abs(x-0.3) > smallDiff {
		tst.Error("Expected maximum at 0.3, got", x)
	}
	if math.Abs(fx) > smallDiff {
		tst.Error("Expected maximum value 0, got", fx)
	}
}

func TestBrentAsymmetric(tst *testing.T) {
	f := func(x float64) float64 { return math.Sin(x) }
	x, _ := Brent(f, 0, 3, 1e-10)
	if math.Abs(x-math.Pi/2) > smallDiff {
		tst.Error("Expected maximum at pi/2, got", x)
	}
}

func TestBoundaryMaximum(tst *testing.T) {
	// Monotone objective: the maximum sits on the upper bound, where an
	// interior search alone can stall short.
	f := func(x float64) float64 { return x }
	x, fx := MaximizeWithBoundary(f, 0, 1, 1e-10)
	if x != 1 || fx != 1 {
		tst.Error("Expected boundary maximum (1,1), got", x, fx)
	}

	g := func(x float64) float64 { return -x }
	x, fx = MaximizeWithBoundary(g, 0, 1, 1e-10)
	if x != 0 || fx != 0 {
		tst.Error("Expected boundary maximum (0,0), got", x, fx)
	}
}

func TestBrentStaysInBounds(tst *testing.T) {
	f := func(x float64) float64 { return -(x + 2) * (x + 2) }
	x, _ := MaximizeWithBoundary(f, 0, 1, 1e-10)
	if x < 0 || x > 1 {
		tst.Error("Optimum outside bounds:", x)
	}
	if x != 0 {
		tst.Error("Expected clamped maximum at 0, got", x)
	}
}
