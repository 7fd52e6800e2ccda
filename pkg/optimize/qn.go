package optimize

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// update maintains an inverse-Hessian estimate from (s, y) pairs.
type update interface {
	// push adds a pair. With reset the estimate is rebuilt from the pair
	// alone.
	push(s, y []float64, reset bool)
	// direction writes -H g into p.
	direction(g, p []float64)
}

// lbfgsUpdate keeps the last m pairs and applies them with the two-loop
// recursion.
type lbfgsUpdate struct {
	m     int
	s, y  [][]float64
	rho   []float64
	gamma float64
}

func (u *lbfgsUpdate) push(s, y []float64, reset bool) {
	if reset {
		u.s, u.y, u.rho = nil, nil, nil
	}
	sy := floats.Dot(s, y)
	u.gamma = sy / floats.Dot(y, y)
	if len(u.s) == u.m {
		u.s, u.y, u.rho = u.s[1:], u.y[1:], u.rho[1:]
	}
	u.s = append(u.s, append([]float64(nil), s...))
	u.y = append(u.y, append([]float64(nil), y...))
	u.rho = append(u.rho, 1/sy)
}

func (u *lbfgsUpdate) direction(g, p []float64) {
	for i := range p {
		p[i] = -g[i]
	}
	alphas := make([]float64, len(u.s))
	for i := len(u.s) - 1; i >= 0; i-- {
		alphas[i] = u.rho[i] * floats.Dot(u.s[i], p)
		floats.AddScaled(p, -alphas[i], u.y[i])
	}
	if len(u.s) > 0 {
		floats.Scale(u.gamma, p)
	}
	for i := range u.s {
		beta := u.rho[i] * floats.Dot(u.y[i], p)
		floats.AddScaled(p, alphas[i]-beta, u.s[i])
	}
}

// bfgsUpdate keeps a dense inverse Hessian.
type bfgsUpdate struct {
	h *mat.Dense
}

func (u *bfgsUpdate) push(s, y []float64, reset bool) {
	n := len(s)
	sy := floats.Dot(s, y)
	sv := mat.NewVecDense(n, s)
	yv := mat.NewVecDense(n, y)

	// V = I - s y' / s'y
	v := mat.NewDense(n, n, nil)
	v.Outer(-1/sy, sv, yv)
	for i := 0; i < n; i++ {
		v.Set(i, i, v.At(i, i)+1)
	}

	h := mat.NewDense(n, n, nil)
	if reset || u.h == nil {
		h.Mul(v, v.T())
		h.Scale(sy/floats.Dot(y, y), h)
	} else {
		var vh mat.Dense
		vh.Mul(v, u.h)
		h.Mul(&vh, v.T())
	}
	var ss mat.Dense
	ss.Outer(1/sy, sv, sv)
	h.Add(h, &ss)
	u.h = h
}

func (u *bfgsUpdate) direction(g, p []float64) {
	n := len(g)
	if u.h == nil {
		for i := range p {
			p[i] = -g[i]
		}
		return
	}
	pv := mat.NewVecDense(n, p)
	pv.MulVec(u.h, mat.NewVecDense(n, g))
	floats.Scale(-1, p)
}

// quasiNewton is the shared BFGS / L-BFGS driver.
func quasiNewton(ctx context.Context, f Objective, x0 []float64, s Settings, qn update) (Result, error) {
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
	if floats.Norm(g, 2) < s.TolGrad {
		res.Termination = TermAbsGrad
		return res, nil
	}

	ls := lineSearch{f: f, c1: 1e-4, c2: 0.9, minAlpha: 1e-12, maxIts: 20, maxRestarts: 10}
	p := make([]float64, n)
	for i := range p {
		p[i] = -g[i]
	}
	var (
		prevF     float64
		prevG     []float64
		prevP     []float64
		prevAlpha float64
		xNew      = make([]float64, n)
		gNew      = make([]float64, n)
	)

	for it := 1; ; it++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		reset := it == 1
		var alpha, fNew float64
		for {
			if reset {
				for i := range p {
					p[i] = -g[i]
				}
			}
			alpha = s.InitAlpha
			if !reset {
				alpha = math.Min(1, 1.01*cubicInterp(floats.Dot(prevG, prevP), prevAlpha, fx-prevF,
					floats.Dot(g, prevP), ls.minAlpha, 1))
			}
			var found bool
			fNew, alpha, found = ls.search(x, fx, g, p, alpha, xNew, gNew)
			if found {
				break
			}
			if reset {
				res.Iterations = it - 1
				res.Termination = TermLineSearchFailed
				return res, ErrLineSearch
			}
			s.Log.Debug("line search failed, resetting Hessian", "iteration", it)
			reset = true
		}

		prevF, prevG, prevP, prevAlpha = fx, append(prevG[:0], g...), append(prevP[:0], p...), alpha
		step := make([]float64, n)
		floats.SubTo(step, xNew, x)
		dg := make([]float64, n)
		floats.SubTo(dg, gNew, g)

		copy(x, xNew)
		copy(g, gNew)
		fx = fNew
		res.F = fx
		res.Iterations = it
		if err := observe(s, it, x, fx, g); err != nil {
			return res, err
		}
		report(s, it, fx)

		qn.push(step, dg, reset)
		qn.direction(g, p)

		switch {
		case math.Abs(fx-prevF) < s.TolObj:
			res.Termination = TermAbsF
		case floats.Norm(g, 2) < s.TolGrad:
			res.Termination = TermAbsGrad
		case floats.Norm(step, 2) < s.TolParam:
			res.Termination = TermAbsX
		case it >= s.MaxIterations:
			res.Termination = TermMaxIt
		case (prevF-fx)/math.Max(math.Abs(prevF), math.Max(math.Abs(fx), 1)) < s.TolRelObj*epsilon:
			res.Termination = TermRelF
		case -floats.Dot(g, p)/math.Max(math.Abs(fx), 1) < s.TolRelGrad*epsilon:
			res.Termination = TermRelGrad
		}
		if res.Termination != TermNone {
			s.Log.Debug("optimization converged", "iterations", it, "reason", res.Termination.String())
			return res, nil
		}
	}
}

const epsilon = 2.220446049250313e-16
