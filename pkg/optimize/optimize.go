// Package optimize finds modes of smooth log densities with quasi-Newton
// (L-BFGS, BFGS) and Newton methods.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/WardBrian/tinystan/internal/logger"
)

var (
	// ErrLineSearch reports that no step along the search direction
	// decreased the objective, even after resetting the Hessian estimate.
	ErrLineSearch = errors.New("line search failed to achieve sufficient decrease, no more progress can be made")
	// ErrInitialPoint reports a non-finite objective or gradient at x0.
	ErrInitialPoint = errors.New("error evaluating initial point")
)

// Algorithm selects the optimizer. The numeric values are part of the
// public contract.
type Algorithm int

const (
	Newton Algorithm = iota
	BFGS
	LBFGS
)

func (a Algorithm) String() string {
	switch a {
	case Newton:
		return "newton"
	case BFGS:
		return "bfgs"
	case LBFGS:
		return "lbfgs"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// ParseAlgorithm accepts "newton", "bfgs" and "lbfgs" in any case.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "newton":
		return Newton, nil
	case "bfgs":
		return BFGS, nil
	case "lbfgs", "l-bfgs":
		return LBFGS, nil
	}
	return 0, fmt.Errorf("unknown optimization algorithm %q (want newton, bfgs or lbfgs)", s)
}

// Termination says why an optimization stopped.
type Termination int

const (
	TermNone Termination = iota
	TermAbsF
	TermRelF
	TermAbsGrad
	TermRelGrad
	TermAbsX
	TermMaxIt
	TermLineSearchFailed
)

func (t Termination) String() string {
	switch t {
	case TermAbsF:
		return "change in objective function was below tolerance"
	case TermRelF:
		return "relative change in objective function was below tolerance"
	case TermAbsGrad:
		return "gradient norm is below tolerance"
	case TermRelGrad:
		return "relative gradient magnitude is below tolerance"
	case TermAbsX:
		return "absolute parameter change was below tolerance"
	case TermMaxIt:
		return "maximum number of iterations hit, may not be converged"
	case TermLineSearchFailed:
		return ErrLineSearch.Error()
	default:
		return "not terminated"
	}
}

// Settings configures Minimize. The tolerances and history size are
// ignored by Newton.
type Settings struct {
	Algorithm     Algorithm
	HistorySize   int
	InitAlpha     float64
	TolObj        float64
	TolRelObj     float64
	TolGrad       float64
	TolRelGrad    float64
	TolParam      float64
	MaxIterations int
	Refresh       int

	// Observer, when set, sees the initial point and every accepted
	// iterate. A non-nil error stops the optimization and is returned.
	Observer func(Iterate) error
	Log      logger.Logger
}

// DefaultSettings returns the L-BFGS defaults.
func DefaultSettings() Settings {
	return Settings{
		Algorithm:     LBFGS,
		HistorySize:   5,
		InitAlpha:     0.001,
		TolObj:        1e-12,
		TolRelObj:     1e4,
		TolGrad:       1e-8,
		TolRelGrad:    1e7,
		TolParam:      1e-8,
		MaxIterations: 2000,
	}
}

// Objective is a function to minimize. It writes the gradient at x into
// grad. An error or a non-finite value marks x as unusable.
type Objective interface {
	Func(x, grad []float64) (float64, error)
}

// HessianObjective can supply its own Hessian for Newton's method.
type HessianObjective interface {
	Objective
	Hessian(x []float64) (*mat.SymDense, error)
}

// ObjectiveFunc adapts a plain function to Objective.
type ObjectiveFunc func(x, grad []float64) (float64, error)

func (f ObjectiveFunc) Func(x, grad []float64) (float64, error) { return f(x, grad) }

// Target is a log density with gradient.
type Target interface {
	LogDensityGradient(x, grad []float64) (float64, error)
}

// HessianTarget is a log density that can also supply its Hessian.
type HessianTarget interface {
	Target
	Hessian(x []float64) (*mat.SymDense, error)
}

// Negate turns a log density into an objective whose minimum is the mode.
// When t provides a Hessian the objective does too.
func Negate(t Target) Objective {
	if ht, ok := t.(HessianTarget); ok {
		return negatedHessian{negated{ht}, ht}
	}
	return negated{t}
}

type negated struct{ t Target }

func (n negated) Func(x, grad []float64) (float64, error) {
	lp, err := n.t.LogDensityGradient(x, grad)
	floats.Scale(-1, grad)
	return -lp, err
}

type negatedHessian struct {
	negated
	ht HessianTarget
}

func (n negatedHessian) Hessian(x []float64) (*mat.SymDense, error) {
	h, err := n.ht.Hessian(x)
	if err != nil {
		return nil, err
	}
	h.ScaleSym(-1, h)
	return h, nil
}

// Iterate is one accepted point of the optimization, reported to the
// Observer. The slices are copies.
type Iterate struct {
	Iteration int
	X         []float64
	F         float64
	Grad      []float64
}

// Result is the final point of an optimization.
type Result struct {
	X           []float64
	F           float64
	Grad        []float64
	Iterations  int
	Termination Termination
}

// evaluate calls f and reports whether the value and gradient are finite.
func evaluate(f Objective, x, grad []float64) (float64, bool) {
	v, err := f.Func(x, grad)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return v, false
	}
	for _, g := range grad {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return v, false
		}
	}
	return v, true
}

// Minimize runs the configured algorithm from x0. A line search failure is
// returned as ErrLineSearch together with the last accepted point.
func Minimize(ctx context.Context, f Objective, x0 []float64, s Settings) (Result, error) {
	if s.Log == nil {
		s.Log = logger.Nop()
	}
	switch s.Algorithm {
	case Newton:
		return newton(ctx, f, x0, s)
	case BFGS:
		return quasiNewton(ctx, f, x0, s, &bfgsUpdate{})
	case LBFGS:
		if s.HistorySize < 1 {
			return Result{}, fmt.Errorf("history size must be positive, got %d", s.HistorySize)
		}
		return quasiNewton(ctx, f, x0, s, &lbfgsUpdate{m: s.HistorySize})
	}
	return Result{}, fmt.Errorf("unknown optimization algorithm %d", int(s.Algorithm))
}

func observe(s Settings, it int, x []float64, fx float64, g []float64) error {
	if s.Observer == nil {
		return nil
	}
	return s.Observer(Iterate{
		Iteration: it,
		X:         append([]float64(nil), x...),
		F:         fx,
		Grad:      append([]float64(nil), g...),
	})
}

func report(s Settings, it int, fx float64) {
	if s.Refresh > 0 && (it == 1 || it%s.Refresh == 0) {
		s.Log.Info("optimization", "iteration", it, "log_prob", -fx)
	}
}
