package optimize

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// lineSearch finds a step satisfying the strong Wolfe conditions.
type lineSearch struct {
	f           Objective
	c1, c2      float64
	minAlpha    float64
	maxIts      int
	maxRestarts int
}

// search looks along p from x starting with step alpha. On success xNew
// and gNew hold the accepted point.
func (ls lineSearch) search(x []float64, fx float64, g, p []float64, alpha float64, xNew, gNew []float64) (float64, float64, bool) {
	dfp := floats.Dot(g, p)
	c1dfp := ls.c1 * dfp
	c2dfp := ls.c2 * dfp

	alpha0, alpha1 := ls.minAlpha, alpha
	prevF, prevDFp := fx, dfp
	restarts := 0

	for nits := 0; nits < ls.maxIts; {
		floats.AddScaledTo(xNew, x, alpha1, p)
		fNew, ok := evaluate(ls.f, xNew, gNew)
		if !ok {
			if restarts >= ls.maxRestarts {
				return 0, 0, false
			}
			alpha1 = 0.5 * (alpha0 + alpha1)
			restarts++
			continue
		}
		restarts = 0

		newDFp := floats.Dot(gNew, p)
		if fNew > fx+alpha1*c1dfp || (fNew >= prevF && nits > 0) {
			return ls.zoom(x, fx, p, c1dfp, c2dfp, alpha0, prevF, prevDFp, alpha1, fNew, newDFp, xNew, gNew)
		}
		if math.Abs(newDFp) <= -c2dfp {
			return fNew, alpha1, true
		}
		if newDFp >= 0 {
			return ls.zoom(x, fx, p, c1dfp, c2dfp, alpha1, fNew, newDFp, alpha0, prevF, prevDFp, xNew, gNew)
		}

		alpha0 = alpha1
		prevF = fNew
		prevDFp = newDFp
		alpha1 *= 10
		nits++
	}
	return 0, 0, false
}

// zoom narrows the bracket [lo, hi] by cubic interpolation, bisecting every
// fifth iteration.
func (ls lineSearch) zoom(x []float64, fx float64, p []float64, c1dfp, c2dfp,
	lo, loF, loDFp, hi, hiF, hiDFp float64, xNew, gNew []float64) (float64, float64, bool) {
	const minRange = 1e-16
	for it := 1; ; it++ {
		if math.Abs(lo-hi) < minRange {
			return 0, 0, false
		}
		var alpha float64
		if it%5 != 0 {
			alpha = cubicInterpAt(lo, loF, loDFp, hi, hiF, hiDFp, math.Min(lo, hi), math.Max(lo, hi))
		} else {
			alpha = 0.5 * (lo + hi)
		}

		var fNew float64
		for {
			floats.AddScaledTo(xNew, x, alpha, p)
			var ok bool
			if fNew, ok = evaluate(ls.f, xNew, gNew); ok {
				break
			}
			alpha = 0.5 * (alpha + math.Min(lo, hi))
			if math.Abs(math.Min(lo, hi)-alpha) < minRange {
				return 0, 0, false
			}
		}

		newDFp := floats.Dot(gNew, p)
		if fNew > fx+alpha*c1dfp || fNew >= loF {
			hi, hiF, hiDFp = alpha, fNew, newDFp
			continue
		}
		if math.Abs(newDFp) <= -c2dfp {
			return fNew, alpha, true
		}
		if newDFp*(hi-lo) >= 0 {
			hi, hiF, hiDFp = lo, loF, loDFp
		}
		lo, loF, loDFp = alpha, fNew, newDFp
	}
}

// cubicInterp minimizes, over [loX, hiX], the cubic through (0, 0) with
// slope df0 and (x1, f1) with slope df1.
func cubicInterp(df0, x1, f1, df1, loX, hiX float64) float64 {
	c3 := (-12*f1 + 6*x1*(df0+df1)) / (x1 * x1 * x1)
	c2 := -(4*df0+2*df1)/x1 + 6*f1/(x1*x1)
	c1 := df0

	ts := math.Sqrt(c2*c2 - 2*c1*c3)
	s1 := -(c2 + ts) / c3
	s2 := -(c2 - ts) / c3

	cubic := func(t float64) float64 { return t * (t*(t*c3/3+c2)/2 + c1) }

	minX, minF := loX, cubic(loX)
	if v := cubic(hiX); v < minF {
		minX, minF = hiX, v
	}
	if loX < s1 && s1 < hiX {
		if v := cubic(s1); v < minF {
			minX, minF = s1, v
		}
	}
	if loX < s2 && s2 < hiX {
		if v := cubic(s2); v < minF {
			minX = s2
		}
	}
	return minX
}

// cubicInterpAt is cubicInterp with the first point at (x0, f0).
func cubicInterpAt(x0, f0, df0, x1, f1, df1, loX, hiX float64) float64 {
	return x0 + cubicInterp(df0, x1-x0, f1-f0, df1, loX-x0, hiX-x0)
}
