package tinystan

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/WardBrian/tinystan/pkg/hmc"
	"github.com/WardBrian/tinystan/pkg/jsondata"
	"github.com/WardBrian/tinystan/pkg/model"
	"github.com/WardBrian/tinystan/pkg/rng"
)

// Sample runs NumChains NUTS chains in parallel. Chain i uses the stream
// (Seed, ID+i) and writes block i of the output, so the result does not
// depend on NumThreads. Any chain failing fails the call.
func (m *Model) Sample(ctx context.Context, opts SampleOptions) (*Output, error) {
	mm, err := m.acquire()
	if err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	n := mm.NumFreeParams()
	if n == 0 {
		return nil, invalidArgument("model has no parameters")
	}
	metrics, err := initialMetrics(opts, n)
	if err != nil {
		return nil, err
	}
	inits, err := jsondata.LoadInits(opts.NumChains, opts.Inits)
	if err != nil {
		return nil, classify(err)
	}

	names := append(append([]string(nil), hmc.DiagnosticNames...), mm.ParamNames()...)
	width := len(names)
	numDraws := opts.NumSamples
	if opts.SaveWarmup {
		numDraws += opts.NumWarmup
	}
	out := &Output{
		Algorithm: AlgorithmSample,
		Names:     names,
		Dims:      []int{opts.NumChains, numDraws},
		Data:      make([]float64, opts.NumChains*numDraws*width),
	}
	metricSize := n
	if opts.Metric == hmc.DenseMetric {
		metricSize = n * n
	}
	if opts.Adapt {
		out.Stepsize = make([]float64, opts.NumChains)
		if opts.SaveInvMetric {
			out.InvMetric = make([]float64, opts.NumChains*metricSize)
			out.InvMetricDims = []int{opts.NumChains, n}
			if opts.Metric == hmc.DenseMetric {
				out.InvMetricDims = append(out.InvMetricDims, n)
			}
		}
	}

	cfg := hmc.Config{
		NumWarmup:      opts.NumWarmup,
		NumSamples:     opts.NumSamples,
		SaveWarmup:     opts.SaveWarmup,
		Adapt:          opts.Adapt,
		Delta:          opts.Delta,
		Gamma:          opts.Gamma,
		Kappa:          opts.Kappa,
		T0:             opts.T0,
		InitBuffer:     opts.InitBuffer,
		TermBuffer:     opts.TermBuffer,
		Window:         opts.Window,
		Stepsize:       opts.Stepsize,
		StepsizeJitter: opts.StepsizeJitter,
		MaxDepth:       opts.MaxDepth,
		Refresh:        opts.Refresh,
	}
	target := mm.Target(true)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(opts.NumThreads))
	for i := range opts.NumChains {
		g.Go(func() error {
			log := m.log.With("chain", int(opts.ID)+i)
			r := rng.Chain(opts.Seed, opts.ID, i)
			q0, err := model.Initialize(mm, inits[i], r, opts.InitRadius, true, log)
			if err != nil {
				return err
			}
			s, err := hmc.NewSampler(target, metrics[i], r, q0, cfg, log)
			if err != nil {
				return err
			}
			block := out.Data[i*numDraws*width : (i+1)*numDraws*width]
			row := 0
			res, err := s.Run(gctx, func(t hmc.Transition, q []float64) error {
				dst := block[row*width : (row+1)*width]
				hmc.WriteDiagnostics(dst, t)
				row++
				return mm.ConstrainTo(q, dst[len(hmc.DiagnosticNames):])
			})
			if err != nil {
				return err
			}
			if out.Stepsize != nil {
				out.Stepsize[i] = res.Stepsize
			}
			if out.InvMetric != nil {
				copy(out.InvMetric[i*metricSize:(i+1)*metricSize], res.Metric.Inverse())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, classify(cerr)
		}
		return nil, classify(err)
	}
	return out, nil
}

// initialMetrics builds the starting metric of every chain from
// InitInvMetric, which holds either one metric or one per chain.
func initialMetrics(opts SampleOptions, n int) ([]hmc.Metric, error) {
	chains := opts.NumChains
	size, shape := n, strconv.Itoa(n)
	if opts.Metric == hmc.DenseMetric {
		size, shape = n*n, fmt.Sprintf("%d, %d", n, n)
	}
	inv := opts.InitInvMetric
	switch len(inv) {
	case 0, size:
	case chains * size:
	default:
		return nil, invalidArgument("invalid initial metric size, expected a (%s) or (%d, %s) array, got %d values",
			shape, chains, shape, len(inv))
	}
	out := make([]hmc.Metric, chains)
	for i := range out {
		var vals []float64
		switch len(inv) {
		case size:
			vals = inv
		case chains * size:
			vals = inv[i*size : (i+1)*size]
		}
		met, err := hmc.NewMetric(opts.Metric, n, vals)
		if err != nil {
			return nil, classify(err)
		}
		out[i] = met
	}
	return out, nil
}
