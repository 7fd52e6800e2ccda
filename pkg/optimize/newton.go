package optimize

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// newton takes full Newton steps on the objective, with the Hessian
// projected to positive definite and the step halved until the objective
// does not increase.
func newton(ctx context.Context, f Objective, x0 []float64, s Settings) (Result, error) {
	n := len(x0)
	x := append([]float64(nil), x0...)
	g := make([]float64, n)
	fx, ok := evaluate(f, x, g)
	if !ok {
		return Result{}, ErrInitialPoint
	}
	res := Result{X: x, F: fx, Grad: g}
	if err := observe(s, 0, x, fx, g); err != nil {
		return res, err
	}

	maxIt := s.MaxIterations
	if maxIt <= 0 {
		maxIt = math.MaxInt
	}
	last := math.Inf(1)
	for it := 1; last-fx > 1e-8 && it <= maxIt; it++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		last = fx

		h, err := hessian(f, x)
		if err != nil {
			return res, err
		}
		dir, err := newtonDirection(h, g)
		if err != nil {
			return res, err
		}

		xNew := make([]float64, n)
		gNew := make([]float64, n)
		fNew := math.Inf(1)
		accepted := false
		for step := 1.0; step >= 1e-50; step *= 0.5 {
			floats.AddScaledTo(xNew, x, -step, dir)
			v, ok := evaluate(f, xNew, gNew)
			if ok && v <= fx {
				fNew, accepted = v, true
				break
			}
		}
		if !accepted {
			// No step improved on x; it is as good as we can do.
			res.Iterations = it
			res.Termination = TermAbsF
			return res, nil
		}
		copy(x, xNew)
		copy(g, gNew)
		fx = fNew
		res.F = fx
		res.Iterations = it
		if err := observe(s, it, x, fx, g); err != nil {
			return res, err
		}
		report(s, it, fx)
	}
	res.Termination = TermAbsF
	if res.Iterations >= maxIt {
		res.Termination = TermMaxIt
	}
	return res, nil
}

// newtonDirection solves |H| d = g through the eigendecomposition of H,
// taking absolute eigenvalues so the step always descends.
func newtonDirection(h *mat.SymDense, g []float64) ([]float64, error) {
	n := len(g)
	var eig mat.EigenSym
	if !eig.Factorize(h, true) {
		return nil, fmt.Errorf("eigendecomposition of the Hessian failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	proj := mat.NewVecDense(n, nil)
	proj.MulVec(vecs.T(), mat.NewVecDense(n, g))
	for i, v := range vals {
		proj.SetVec(i, proj.AtVec(i)/math.Abs(v))
	}
	dir := mat.NewVecDense(n, nil)
	dir.MulVec(&vecs, proj)
	return dir.RawVector().Data, nil
}

// hessian asks the objective for its Hessian and otherwise differentiates
// the gradient numerically.
func hessian(f Objective, x []float64) (*mat.SymDense, error) {
	if hf, ok := f.(HessianObjective); ok {
		return hf.Hessian(x)
	}
	n := len(x)
	jac := mat.NewDense(n, n, nil)
	fd.Jacobian(jac, func(dst, x []float64) {
		if _, err := f.Func(x, dst); err != nil {
			for i := range dst {
				dst[i] = math.NaN()
			}
		}
	}, x, &fd.JacobianSettings{Formula: fd.Central})
	h := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			h.SetSym(i, j, 0.5*(jac.At(i, j)+jac.At(j, i)))
		}
	}
	return h, nil
}
