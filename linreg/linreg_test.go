package linreg

import (
	"math"
	"testing"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"
)

const (
	// smallDiff is the tolerance for comparing the two solver paths.
	smallDiff = 1e-8
)

func init() {
	logging.SetLevel(logging.WARNING, "linreg")
}

func maxAbsDiff(a, b *mat.Dense) float64 {
	r, c := a.Dims()
	var d float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := math.Abs(a.At(i, j) - b.At(i, j)); v > d {
				d = v
			}
		}
	}
	return d
}

func testDesign() (*mat.Dense, *mat.Dense) {
	// Intercept, a linear trend and a contrast; two trait columns.
	x := mat.NewDense(6, 3, []float64{
		1, 0, 1,
		1, 1, -1,
		1, 2, 1,
		1, 3, -1,
		1, 4, 1,
		1, 5, -1,
	})
	y := mat.NewDense(6, 2, []float64{
		1.1, 0.5,
		2.9, 1.6,
		5.2, 2.4,
		7.1, 3.7,
		8.8, 4.4,
		11.2, 5.5,
	})
	return x, y
}

func TestCholeskyQRAgree(tst *testing.T) {
	x, y := testDesign()
	fc, err := FitCholesky(x, y)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	fq, err := FitQR(x, y, DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if fq.Rank != 3 {
		tst.Error("Expected full rank 3, got", fq.Rank)
	}
	if d := maxAbsDiff(fc.Coef, fq.Coef); d > smallDiff {
		tst.Error("Coefficient mismatch between Cholesky and QR:", d)
	}
	for j := range fc.RSS {
		if math.Abs(fc.RSS[j]-fq.RSS[j]) > smallDiff {
			tst.Error("RSS mismatch for trait", j, ":", fc.RSS[j], "vs", fq.RSS[j])
		}
	}
	if d := maxAbsDiff(fc.Resid, fq.Resid); d > smallDiff {
		tst.Error("Residual mismatch between Cholesky and QR:", d)
	}
}

func TestExactFit(tst *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		1, 0,
		1, 1,
		1, 2,
		1, 3,
	})
	y := mat.NewDense(4, 1, []float64{1, 3, 5, 7})
	fit, err := FitQR(x, y, DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if math.Abs(fit.Coef.At(0, 0)-1) > smallDiff || math.Abs(fit.Coef.At(1, 0)-2) > smallDiff {
		tst.Error("Expected coefficients (1,2), got", fit.Coef.At(0, 0), fit.Coef.At(1, 0))
	}
	if fit.RSS[0] > smallDiff {
		tst.Error("Expected zero RSS, got", fit.RSS[0])
	}
}

func TestRankDeficient(tst *testing.T) {
	// Third column duplicates the first.
	x := mat.NewDense(5, 3, []float64{
		1, 0, 1,
		1, 1, 1,
		1, 2, 1,
		1, 3, 1,
		1, 4, 1,
	})
	y := mat.NewDense(5, 1, []float64{2, 3.1, 3.9, 5.1, 6})

	if _, err := FitCholesky(x, y); err != ErrNotPosDef {
		tst.Error("Expected ErrNotPosDef from Cholesky, got", err)
	}

	fit, err := FitQR(x, y, DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if fit.Rank != 2 {
		tst.Error("Expected rank 2, got", fit.Rank)
	}
	xr := mat.NewDense(5, 2, nil)
	for i := 0; i < 5; i++ {
		xr.Set(i, 0, x.At(i, 0))
		xr.Set(i, 1, x.At(i, 1))
	}
	ref, err := FitQR(xr, y, DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if math.Abs(fit.RSS[0]-ref.RSS[0]) > smallDiff {
		tst.Error("Reduced-rank RSS", fit.RSS[0], "differs from pruned-design RSS", ref.RSS[0])
	}
}

func TestFindLinIndepCols(tst *testing.T) {
	x := mat.NewDense(4, 3, []float64{
		1, 2, 1,
		1, 2, 0,
		1, 2, 1,
		1, 2, 0,
	})
	cols := FindLinIndepCols(x, DefaultTol)
	if len(cols) != 2 {
		tst.Fatal("Expected 2 independent columns, got", len(cols))
	}
	// Exactly one of the two proportional columns may survive.
	seen := map[int]bool{}
	for _, c := range cols {
		seen[c] = true
	}
	if seen[0] && seen[1] {
		tst.Error("Both duplicate columns retained:", cols)
	}
	if !seen[2] {
		tst.Error("Independent column 2 dropped:", cols)
	}
}

func TestFindMatchingCols(tst *testing.T) {
	x := mat.NewDense(3, 4, []float64{
		1, 0, 1, 2,
		2, 1, 2, 0,
		3, 0, 3, 1,
	})
	got := FindMatchingCols(x, 1e-10)
	want := []int{-1, -1, 0, -1}
	for j := range want {
		if got[j] != want[j] {
			tst.Error("Column", j, ": expected", want[j], "got", got[j])
		}
	}
}

func TestResid3D(tst *testing.T) {
	// Intercept-only design: residuals are centered columns, for every
	// slab at once.
	x := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
	y3 := mat.NewDense(4, 4, []float64{
		1, 0, 2, 8,
		3, 0, 2, 6,
		5, 0, 4, 4,
		7, 0, 4, 2,
	})
	resid, err := Resid3D(x, y3, DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	means := []float64{4, 0, 3, 5}
	for j := 0; j < 4; j++ {
		for i := 0; i < 4; i++ {
			want := y3.At(i, j) - means[j]
			if math.Abs(resid.At(i, j)-want) > smallDiff {
				tst.Error("Residual (", i, ",", j, "): expected", want, "got", resid.At(i, j))
			}
		}
	}
}

func TestLogDetXpX(tst *testing.T) {
	x := mat.NewDense(2, 2, []float64{
		1, 0,
		0, 2,
	})
	ld, rank := LogDetXpX(x, DefaultTol)
	if rank != 2 {
		tst.Error("Expected rank 2, got", rank)
	}
	if math.Abs(ld-math.Log(4)) > smallDiff {
		tst.Error("Expected log(4), got", ld)
	}
}

func TestDimensionMismatch(tst *testing.T) {
	x := mat.NewDense(4, 2, nil)
	y := mat.NewDense(5, 1, nil)
	if _, err := FitQR(x, y, DefaultTol); err == nil {
		tst.Error("Expected dimension error")
	}
	if _, err := FitCholesky(x, y); err == nil {
		tst.Error("Expected dimension error")
	}
}
