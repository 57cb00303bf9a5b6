package lmm

import (
	"math"
	"testing"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/qscan/linreg"
)

const smallDiff = 1e-8

func init() {
	logging.SetLevel(logging.WARNING, "lmm")
	logging.SetLevel(logging.WARNING, "linreg")
	logging.SetLevel(logging.WARNING, "optimize")
}

func testData() ([]float64, *mat.Dense, *mat.Dense) {
	kva := []float64{1, 1, 1, 1, 1, 1}
	y := mat.NewDense(6, 1, []float64{1.2, 2.1, 2.9, 4.2, 4.8, 6.1})
	x := mat.NewDense(6, 2, []float64{
		1, 0,
		1, 1,
		1, 2,
		1, 3,
		1, 4,
		1, 5,
	})
	return kva, y, x
}

func TestIdentityKinshipIsOLS(tst *testing.T) {
	kva, y, x := testData()
	fit, err := FitLMM(kva, y, x, false, true, math.NaN(), linreg.DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if fit.Hsq != 0 {
		tst.Error("Expected hsq=0 for identity kinship, got", fit.Hsq)
	}

	ols, err := linreg.FitQR(x, y, linreg.DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	for i, c := range fit.Coef {
		if math.Abs(c-ols.Coef.At(i, 0)) > smallDiff {
			tst.Error("Coefficient", i, ": expected", ols.Coef.At(i, 0), "got", c)
		}
	}

	n := 6.0
	rss := ols.RSS[0]
	want := -0.5 * (n*math.Log(2*math.Pi) + n + n*math.Log(rss/n))
	if math.Abs(fit.LogLik-want) > smallDiff {
		tst.Error("Expected OLS log-likelihood", want, "got", fit.LogLik)
	}
	if math.Abs(fit.Sigsq-rss/n) > smallDiff {
		tst.Error("Expected sigsq", rss/n, "got", fit.Sigsq)
	}
}

func TestCalcLLConstantInHsqForFlatSpectrum(tst *testing.T) {
	kva, y, x := testData()
	l0, err := CalcLL(0, kva, y, x, false, math.NaN(), linreg.DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	l5, err := CalcLL(0.5, kva, y, x, false, math.NaN(), linreg.DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if math.Abs(l0-l5) > smallDiff {
		tst.Error("Likelihood not constant in hsq for identity kinship:", l0, "vs", l5)
	}
}

func TestFitLMMIsMaximum(tst *testing.T) {
	kva := []float64{0.05, 0.3, 0.7, 1.1, 1.9, 3.2}
	y := mat.NewDense(6, 1, []float64{0.2, -1.1, 0.7, 2.9, -3.3, 5.8})
	x := mat.NewDense(6, 1, []float64{1, 1, 1, 1, 1, 1})

	for _, reml := range []bool{false, true} {
		fit, err := FitLMM(kva, y, x, reml, true, math.NaN(), linreg.DefaultTol)
		if err != nil {
			tst.Fatal("Error: ", err)
		}
		if fit.Hsq < 0 || fit.Hsq > 1 {
			tst.Error("hsq out of range:", fit.Hsq)
		}
		for _, h := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1} {
			ll, err := CalcLL(h, kva, y, x, reml, math.NaN(), linreg.DefaultTol)
			if err != nil {
				tst.Fatal("Error: ", err)
			}
			if ll > fit.LogLik+1e-6 {
				tst.Error("reml=", reml, ": likelihood at hsq=", h, "(", ll,
					") exceeds reported maximum (", fit.LogLik, ")")
			}
		}
	}
}

func TestFitLMMMatMatchesSingle(tst *testing.T) {
	kva := []float64{0.05, 0.3, 0.7, 1.1, 1.9, 3.2}
	y := mat.NewDense(6, 2, []float64{
		0.2, 1.0,
		-1.1, 1.8,
		0.7, 3.1,
		2.9, 4.2,
		-3.3, 4.8,
		5.8, 6.2,
	})
	x := mat.NewDense(6, 1, []float64{1, 1, 1, 1, 1, 1})

	fits, err := FitLMMMat(kva, y, x, true, true, linreg.DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(fits) != 2 {
		tst.Fatal("Expected 2 fits, got", len(fits))
	}
	y0 := mat.NewDense(6, 1, nil)
	for i := 0; i < 6; i++ {
		y0.Set(i, 0, y.At(i, 0))
	}
	single, err := FitLMM(kva, y0, x, true, true, math.NaN(), linreg.DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if math.Abs(fits[0].Hsq-single.Hsq) > smallDiff {
		tst.Error("Per-trait hsq differs from single-trait fit:", fits[0].Hsq, "vs", single.Hsq)
	}
	if math.Abs(fits[0].LogLik-single.LogLik) > smallDiff {
		tst.Error("Per-trait loglik differs from single-trait fit")
	}
}

func TestEigenRotationPreservesFit(tst *testing.T) {
	// Rotation by an orthonormal basis must not change RSS.
	k := mat.NewSymDense(4, []float64{
		2, 0.5, 0.2, 0.1,
		0.5, 2, 0.3, 0.2,
		0.2, 0.3, 2, 0.4,
		0.1, 0.2, 0.4, 2,
	})
	y := mat.NewDense(4, 1, []float64{1, 2, 3, 5})
	x := mat.NewDense(4, 2, []float64{
		1, 0,
		1, 1,
		1, 2,
		1, 3,
	})
	rot, err := EigenRotation(k, y, x)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(rot.Kva) != 4 {
		tst.Fatal("Expected 4 eigenvalues, got", len(rot.Kva))
	}
	orig, err := linreg.RSSQR(x, y, linreg.DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	rotated, err := linreg.RSSQR(rot.X, rot.Y, linreg.DefaultTol)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if math.Abs(orig[0]-rotated[0]) > smallDiff {
		tst.Error("RSS changed under rotation:", orig[0], "vs", rotated[0])
	}
}

func TestLogDetXpX(tst *testing.T) {
	x := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 2,
		0, 0,
	})
	ld, err := LogDetXpX(x)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if math.Abs(ld-math.Log(4)) > smallDiff {
		tst.Error("Expected log(4), got", ld)
	}
}
