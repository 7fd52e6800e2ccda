// Package model compiles model definitions into log-density evaluators over
// the unconstrained parameter space.
package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/WardBrian/tinystan/pkg/jsondata"
	"github.com/WardBrian/tinystan/pkg/transform"
)

var (
	// ErrArgument reports a call with malformed arguments, such as a
	// parameter vector of the wrong length.
	ErrArgument = errors.New("invalid argument")
	// ErrEvaluation reports a failure inside model code.
	ErrEvaluation = errors.New("model evaluation failed")
)

// Spec is what a Definition builds once data is known.
type Spec struct {
	Params []transform.Param
	// LogProb returns the log density at the flattened constrained values x
	// (column-major per parameter), up to a constant.
	LogProb func(x []float64) (float64, error)
	// Grad optionally returns the log density and writes its gradient with
	// respect to x into grad. Without it gradients are computed by central
	// finite differences.
	Grad func(x, grad []float64) (float64, error)
}

// Definition names a model and builds its Spec from data.
type Definition struct {
	Name  string
	Doc   string
	Build func(data *jsondata.Context) (*Spec, error)
}

// Model is a compiled definition bound to data and a seed.
type Model struct {
	name   string
	seed   uint32
	layout *transform.Layout
	spec   *Spec
}

// Compile builds def against data. Panics in model code are returned as
// errors.
func Compile(def Definition, data *jsondata.Context, seed uint32) (m *Model, err error) {
	if def.Build == nil {
		return nil, fmt.Errorf("%w: model %q has no builder", ErrArgument, def.Name)
	}
	if data == nil {
		data = jsondata.Empty()
	}
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("%w: %s: panic while building: %v", ErrEvaluation, def.Name, r)
		}
	}()
	spec, err := def.Build(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", def.Name, err)
	}
	if spec.LogProb == nil && spec.Grad == nil {
		return nil, fmt.Errorf("%w: model %q defines no log density", ErrArgument, def.Name)
	}
	layout, err := transform.NewLayout(spec.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArgument, def.Name, err)
	}
	return &Model{name: def.Name, seed: seed, layout: layout, spec: spec}, nil
}

func (m *Model) Name() string              { return m.name }
func (m *Model) Seed() uint32              { return m.seed }
func (m *Model) Layout() *transform.Layout { return m.layout }
func (m *Model) NumFreeParams() int        { return m.layout.FreeSize() }
func (m *Model) NumConstrainedParams() int { return m.layout.Size() }

// ParamNames returns the flattened constrained parameter names.
func (m *Model) ParamNames() []string {
	return append([]string(nil), m.layout.Names()...)
}

// LogDensity evaluates the log density at u, adding the log Jacobian of the
// constraining transform when jacobian is set.
func (m *Model) LogDensity(u []float64, jacobian bool) (float64, error) {
	if err := m.checkFree(u); err != nil {
		return 0, err
	}
	x := make([]float64, m.layout.Size())
	lj := m.layout.Constrain(u, x)
	lp, err := m.logProb(x)
	if err != nil {
		return 0, err
	}
	if jacobian {
		lp += lj
	}
	return lp, nil
}

// LogDensityGradient evaluates the log density at u and writes its gradient
// with respect to u into grad.
func (m *Model) LogDensityGradient(u []float64, jacobian bool, grad []float64) (float64, error) {
	if err := m.checkFree(u); err != nil {
		return 0, err
	}
	if len(grad) != len(u) {
		return 0, fmt.Errorf("%w: gradient has length %d, want %d", ErrArgument, len(grad), len(u))
	}
	if m.spec.Grad == nil {
		return m.numericGradient(u, jacobian, grad)
	}
	x := make([]float64, m.layout.Size())
	lj := m.layout.Constrain(u, x)
	gx := make([]float64, len(x))
	lp, err := m.grad(x, gx)
	if err != nil {
		return 0, err
	}
	for i := range grad {
		grad[i] = 0
	}
	m.layout.Backprop(u, gx, grad, jacobian)
	if jacobian {
		lp += lj
	}
	return lp, nil
}

func (m *Model) numericGradient(u []float64, jacobian bool, grad []float64) (float64, error) {
	lp, err := m.LogDensity(u, jacobian)
	if err != nil {
		return 0, err
	}
	if len(u) == 0 {
		return lp, nil
	}
	fd.Gradient(grad, func(v []float64) float64 {
		f, err := m.LogDensity(v, jacobian)
		if err != nil {
			return math.NaN()
		}
		return f
	}, u, &fd.Settings{Formula: fd.Central, OriginKnown: true, OriginValue: lp})
	return lp, nil
}

// Hessian returns the Hessian of the log density at u, computed by central
// differences of the gradient and symmetrized.
func (m *Model) Hessian(u []float64, jacobian bool) (*mat.SymDense, error) {
	if err := m.checkFree(u); err != nil {
		return nil, err
	}
	n := len(u)
	if n == 0 {
		return &mat.SymDense{}, nil
	}
	if _, err := m.LogDensityGradient(u, jacobian, make([]float64, n)); err != nil {
		return nil, err
	}
	jac := mat.NewDense(n, n, nil)
	fd.Jacobian(jac, func(y, x []float64) {
		if _, err := m.LogDensityGradient(x, jacobian, y); err != nil {
			for i := range y {
				y[i] = math.NaN()
			}
		}
	}, u, &fd.JacobianSettings{Formula: fd.Central})
	h := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (jac.At(i, j) + jac.At(j, i))
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: Hessian is not finite at entry (%d, %d)", ErrEvaluation, i, j)
			}
			h.SetSym(i, j, v)
		}
	}
	return h, nil
}

// Constrain maps u to the constrained parameter values.
func (m *Model) Constrain(u []float64) ([]float64, error) {
	if err := m.checkFree(u); err != nil {
		return nil, err
	}
	x := make([]float64, m.layout.Size())
	m.layout.Constrain(u, x)
	return x, nil
}

// ConstrainTo is Constrain writing into x.
func (m *Model) ConstrainTo(u, x []float64) error {
	if err := m.checkFree(u); err != nil {
		return err
	}
	if len(x) != m.layout.Size() {
		return fmt.Errorf("%w: expected %d constrained values, got %d", ErrArgument, m.layout.Size(), len(x))
	}
	m.layout.Constrain(u, x)
	return nil
}

// Unconstrain maps constrained values to u and returns the log Jacobian
// determinant of the constraining transform at u.
func (m *Model) Unconstrain(x []float64) ([]float64, float64, error) {
	if len(x) != m.layout.Size() {
		return nil, 0, fmt.Errorf("%w: expected %d constrained values, got %d", ErrArgument, m.layout.Size(), len(x))
	}
	u := make([]float64, m.layout.FreeSize())
	if err := m.layout.Unconstrain(x, u); err != nil {
		return nil, 0, err
	}
	lj := m.layout.Constrain(u, make([]float64, len(x)))
	return u, lj, nil
}

// UnconstrainContext reads every parameter from a JSON context and returns
// the unconstrained vector.
func (m *Model) UnconstrainContext(ctx *jsondata.Context) ([]float64, error) {
	u := make([]float64, m.layout.FreeSize())
	given, err := m.unconstrainPartial(ctx, u)
	if err != nil {
		return nil, err
	}
	for i, p := range m.layout.Params() {
		if !given[i] {
			return nil, fmt.Errorf("%w: variable does not exist; processing stage=parameter initialization; variable name=%s; base type=real",
				jsondata.ErrData, p.Name)
		}
	}
	return u, nil
}

// unconstrainPartial fills the slots of u for parameters present in ctx and
// reports which parameters were present.
func (m *Model) unconstrainPartial(ctx *jsondata.Context, u []float64) ([]bool, error) {
	params := m.layout.Params()
	given := make([]bool, len(params))
	if ctx == nil {
		return given, nil
	}
	for i, p := range params {
		v, ok := ctx.Var(p.Name)
		if !ok {
			continue
		}
		if err := jsondata.CheckDims("parameter initialization", p.Name, p.Dims, v.Dims); err != nil {
			return nil, err
		}
		xs := transform.RowToColMajor(v.Values, p.Dims)
		if err := m.layout.UnconstrainParam(i, xs, u); err != nil {
			return nil, err
		}
		given[i] = true
	}
	return given, nil
}

// Target binds the model to a Jacobian setting, giving the evaluator that
// the samplers and optimizers consume.
func (m *Model) Target(jacobian bool) Target {
	return Target{m: m, jacobian: jacobian}
}

// Target is a Model with a fixed Jacobian setting.
type Target struct {
	m        *Model
	jacobian bool
}

func (t Target) Dim() int { return t.m.NumFreeParams() }

func (t Target) LogDensity(u []float64) (float64, error) {
	return t.m.LogDensity(u, t.jacobian)
}

func (t Target) LogDensityGradient(u, grad []float64) (float64, error) {
	return t.m.LogDensityGradient(u, t.jacobian, grad)
}

func (t Target) Hessian(u []float64) (*mat.SymDense, error) {
	return t.m.Hessian(u, t.jacobian)
}

func (m *Model) checkFree(u []float64) error {
	if len(u) != m.layout.FreeSize() {
		return fmt.Errorf("%w: expected %d unconstrained values, got %d", ErrArgument, m.layout.FreeSize(), len(u))
	}
	return nil
}

func (m *Model) logProb(x []float64) (lp float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrEvaluation, m.name, r)
		}
	}()
	if m.spec.LogProb == nil {
		return m.spec.Grad(x, make([]float64, len(x)))
	}
	return m.spec.LogProb(x)
}

func (m *Model) grad(x, gx []float64) (lp float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrEvaluation, m.name, r)
		}
	}()
	return m.spec.Grad(x, gx)
}
