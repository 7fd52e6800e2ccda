package tinystan

import (
	"context"

	"github.com/WardBrian/tinystan/pkg/jsondata"
	"github.com/WardBrian/tinystan/pkg/model"
	"github.com/WardBrian/tinystan/pkg/optimize"
	"github.com/WardBrian/tinystan/pkg/rng"
)

// Optimize finds a posterior mode (Jacobian set) or a penalized maximum
// likelihood estimate. The output is a single row: lp__ then the
// constrained parameters.
func (m *Model) Optimize(ctx context.Context, opts OptimizeOptions) (*Output, error) {
	mm, err := m.acquire()
	if err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	init, err := jsondata.Load(opts.Init)
	if err != nil {
		return nil, classify(err)
	}

	out := &Output{
		Algorithm: AlgorithmOptimize,
		Names:     append([]string{"lp__"}, mm.ParamNames()...),
	}
	if mm.NumFreeParams() == 0 {
		lp, err := mm.LogDensity(nil, opts.Jacobian)
		if err != nil {
			return nil, classify(err)
		}
		out.Data = make([]float64, len(out.Names))
		out.Data[0] = lp
		return out, classify(mm.ConstrainTo(nil, out.Data[1:]))
	}

	log := m.log.With("algorithm", opts.Algorithm.String())
	u0, err := model.Initialize(mm, init, rng.New(opts.Seed, opts.ID), opts.InitRadius, opts.Jacobian, log)
	if err != nil {
		return nil, classify(err)
	}
	res, err := optimize.Minimize(ctx, optimize.Negate(mm.Target(opts.Jacobian)), u0, optimize.Settings{
		Algorithm:     opts.Algorithm,
		HistorySize:   opts.MaxHistorySize,
		InitAlpha:     opts.InitAlpha,
		TolObj:        opts.TolObj,
		TolRelObj:     opts.TolRelObj,
		TolGrad:       opts.TolGrad,
		TolRelGrad:    opts.TolRelGrad,
		TolParam:      opts.TolParam,
		MaxIterations: opts.NumIterations,
		Refresh:       opts.Refresh,
		Log:           log,
	})
	if err != nil {
		return nil, classify(err)
	}
	log.Info("optimization finished",
		"iterations", res.Iterations, "termination", res.Termination.String(), "lp", -res.F)

	out.Data = make([]float64, len(out.Names))
	out.Data[0] = -res.F
	if err := mm.ConstrainTo(res.X, out.Data[1:]); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
