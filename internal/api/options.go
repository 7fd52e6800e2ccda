package api

import (
	"github.com/WardBrian/tinystan/pkg/hmc"
	"github.com/WardBrian/tinystan/pkg/optimize"
	"github.com/WardBrian/tinystan/pkg/tinystan"
)

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// SampleOptions resolves o against the sampler defaults.
func (o FitOptions) SampleOptions(seed uint32, inits string) (tinystan.SampleOptions, error) {
	opts := tinystan.DefaultSampleOptions()
	opts.Seed = seed
	opts.Inits = inits
	set(&opts.ID, o.ID)
	set(&opts.InitRadius, o.InitRadius)
	set(&opts.Refresh, o.Refresh)
	set(&opts.NumThreads, o.NumThreads)
	set(&opts.NumChains, o.NumChains)
	set(&opts.NumWarmup, o.NumWarmup)
	set(&opts.NumSamples, o.NumSamples)
	if o.Metric != nil {
		kind, err := hmc.ParseMetricKind(*o.Metric)
		if err != nil {
			return opts, newInvalidRequest("metric: %v", err)
		}
		opts.Metric = kind
	}
	opts.InitInvMetric = o.InitInvMetric
	set(&opts.SaveInvMetric, o.SaveInvMetric)
	set(&opts.Adapt, o.Adapt)
	set(&opts.Delta, o.Delta)
	set(&opts.Gamma, o.Gamma)
	set(&opts.Kappa, o.Kappa)
	set(&opts.T0, o.T0)
	set(&opts.InitBuffer, o.InitBuffer)
	set(&opts.TermBuffer, o.TermBuffer)
	set(&opts.Window, o.Window)
	set(&opts.SaveWarmup, o.SaveWarmup)
	set(&opts.Stepsize, o.Stepsize)
	set(&opts.StepsizeJitter, o.StepsizeJitter)
	set(&opts.MaxDepth, o.MaxDepth)
	return opts, nil
}

// PathfinderOptions resolves o against the Pathfinder defaults.
func (o FitOptions) PathfinderOptions(seed uint32, inits string) tinystan.PathfinderOptions {
	opts := tinystan.DefaultPathfinderOptions()
	opts.Seed = seed
	opts.Inits = inits
	set(&opts.ID, o.ID)
	set(&opts.InitRadius, o.InitRadius)
	set(&opts.Refresh, o.Refresh)
	set(&opts.NumThreads, o.NumThreads)
	set(&opts.NumPaths, o.NumPaths)
	set(&opts.NumDraws, o.NumDraws)
	set(&opts.MaxHistorySize, o.MaxHistorySize)
	set(&opts.InitAlpha, o.InitAlpha)
	set(&opts.TolObj, o.TolObj)
	set(&opts.TolRelObj, o.TolRelObj)
	set(&opts.TolGrad, o.TolGrad)
	set(&opts.TolRelGrad, o.TolRelGrad)
	set(&opts.TolParam, o.TolParam)
	set(&opts.NumIterations, o.NumIterations)
	set(&opts.NumElboDraws, o.NumElboDraws)
	set(&opts.NumMultiDraws, o.NumMultiDraws)
	set(&opts.CalculateLP, o.CalculateLP)
	set(&opts.PSISResample, o.PSISResample)
	return opts
}

// OptimizeOptions resolves o against the optimizer defaults.
func (o FitOptions) OptimizeOptions(seed uint32, init string) (tinystan.OptimizeOptions, error) {
	opts := tinystan.DefaultOptimizeOptions()
	opts.Seed = seed
	opts.Init = init
	set(&opts.ID, o.ID)
	set(&opts.InitRadius, o.InitRadius)
	set(&opts.Refresh, o.Refresh)
	set(&opts.NumThreads, o.NumThreads)
	if o.Optimizer != nil {
		alg, err := optimize.ParseAlgorithm(*o.Optimizer)
		if err != nil {
			return opts, newInvalidRequest("optimizer: %v", err)
		}
		opts.Algorithm = alg
	}
	set(&opts.Jacobian, o.Jacobian)
	set(&opts.NumIterations, o.NumIterations)
	set(&opts.MaxHistorySize, o.MaxHistorySize)
	set(&opts.InitAlpha, o.InitAlpha)
	set(&opts.TolObj, o.TolObj)
	set(&opts.TolRelObj, o.TolRelObj)
	set(&opts.TolGrad, o.TolGrad)
	set(&opts.TolRelGrad, o.TolRelGrad)
	set(&opts.TolParam, o.TolParam)
	return opts, nil
}

// LaplaceOptions resolves o against the Laplace defaults.
func (o FitOptions) LaplaceOptions(seed uint32) tinystan.LaplaceOptions {
	opts := tinystan.DefaultLaplaceOptions()
	opts.Seed = seed
	set(&opts.Refresh, o.Refresh)
	set(&opts.NumThreads, o.NumThreads)
	set(&opts.NumDraws, o.NumDraws)
	set(&opts.Jacobian, o.Jacobian)
	set(&opts.CalculateLP, o.CalculateLP)
	set(&opts.SaveHessian, o.SaveHessian)
	return opts
}
