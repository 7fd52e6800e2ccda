package tinystan

import (
	"context"

	"github.com/WardBrian/tinystan/pkg/jsondata"
	"github.com/WardBrian/tinystan/pkg/laplace"
	"github.com/WardBrian/tinystan/pkg/rng"
)

// LaplaceNames are the per-draw columns that precede the parameters.
var LaplaceNames = []string{"log_p__", "log_q__"}

// Mode is the point a Laplace approximation is centred on, given as
// constrained values, as a JSON document, or as the output of Optimize.
type Mode struct {
	values []float64
	json   string
	output *Output
}

// ModeValues uses constrained parameter values. Values past the model's
// parameters are ignored.
func ModeValues(x []float64) Mode { return Mode{values: x} }

// ModeJSON uses a JSON document or .json path naming every parameter.
func ModeJSON(s string) Mode { return Mode{json: s} }

// ModeOutput uses the result of Optimize.
func ModeOutput(o *Output) Mode { return Mode{output: o} }

// LaplaceSample draws from the Gaussian approximation at mode with
// covariance the negative inverse Hessian of the log density. Each row is
// log_p__, log_q__ and the constrained parameters; log_p__ is NaN unless
// CalculateLP is set.
func (m *Model) LaplaceSample(ctx context.Context, mode Mode, opts LaplaceOptions) (*Output, error) {
	mm, err := m.acquire()
	if err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	values := mode.values
	if mode.output != nil {
		if mode.output.Algorithm != AlgorithmOptimize || len(mode.output.Dims) != 0 {
			return nil, invalidArgument("Laplace can only be used with Optimization output")
		}
		values = mode.output.Data[1:]
	}
	var u []float64
	switch {
	case values != nil || mode.json == "":
		need := mm.NumConstrainedParams()
		if len(values) < need {
			return nil, invalidArgument("mode array has incorrect length, expected at least %d but got %d", need, len(values))
		}
		u, _, err = mm.Unconstrain(values[:need])
	default:
		var doc *jsondata.Context
		doc, err = jsondata.Load(mode.json)
		if err == nil {
			u, err = mm.UnconstrainContext(doc)
		}
	}
	if err != nil {
		return nil, classify(err)
	}

	res, err := laplace.Sample(ctx, mm.Target(opts.Jacobian), u, opts.NumDraws, opts.CalculateLP,
		rng.New(opts.Seed, 0), m.log)
	if err != nil {
		return nil, classify(err)
	}

	names := append(append([]string(nil), LaplaceNames...), mm.ParamNames()...)
	width := len(names)
	out := &Output{
		Algorithm: AlgorithmLaplace,
		Names:     names,
		Dims:      []int{opts.NumDraws},
		Data:      make([]float64, opts.NumDraws*width),
	}
	for i := 0; i < opts.NumDraws; i++ {
		dst := out.Data[i*width : (i+1)*width]
		dst[0] = res.LogP[i]
		dst[1] = res.LogQ[i]
		if err := mm.ConstrainTo(res.Row(i), dst[len(LaplaceNames):]); err != nil {
			return nil, classify(err)
		}
	}
	if opts.SaveHessian {
		n := res.Dim
		out.Hessian = make([]float64, n*n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				out.Hessian[i*n+j] = res.Hessian.At(i, j)
			}
		}
	}
	return out, nil
}
