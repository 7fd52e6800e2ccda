package tinystan

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/WardBrian/tinystan/pkg/jsondata"
	"github.com/WardBrian/tinystan/pkg/model"
	"github.com/WardBrian/tinystan/pkg/pathfinder"
)

// PathfinderNames are the per-draw columns that precede the parameters.
var PathfinderNames = []string{"lp_approx__", "lp__", "path__"}

// Pathfinder runs NumPaths single-path Pathfinders and pools their draws.
// With PSIS resampling (which needs CalculateLP) the result has
// NumMultiDraws rows; otherwise it has NumPaths*NumDraws. Paths that fail
// are dropped as long as one succeeds.
func (m *Model) Pathfinder(ctx context.Context, opts PathfinderOptions) (*Output, error) {
	mm, err := m.acquire()
	if err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if mm.NumFreeParams() == 0 {
		return nil, invalidArgument("model has no parameters")
	}
	inits, err := jsondata.LoadInits(opts.NumPaths, opts.Inits)
	if err != nil {
		return nil, classify(err)
	}

	ms := pathfinder.MultiSettings{
		Settings: pathfinder.Settings{
			HistorySize:   opts.MaxHistorySize,
			InitAlpha:     opts.InitAlpha,
			TolObj:        opts.TolObj,
			TolRelObj:     opts.TolRelObj,
			TolGrad:       opts.TolGrad,
			TolRelGrad:    opts.TolRelGrad,
			TolParam:      opts.TolParam,
			NumIterations: opts.NumIterations,
			NumDraws:      opts.NumDraws,
			NumElboDraws:  opts.NumElboDraws,
			CalculateLP:   opts.CalculateLP,
			Refresh:       opts.Refresh,
			Log:           m.log,
		},
		NumPaths:      opts.NumPaths,
		NumMultiDraws: opts.NumMultiDraws,
		PSISResample:  opts.PSISResample,
		NumThreads:    workers(opts.NumThreads),
		Seed:          opts.Seed,
		ID:            opts.ID,
	}
	if opts.PSISResample && !opts.CalculateLP {
		m.log.Debug("psis_resample ignored because calculate_lp is false")
	}
	start := func(i int, r *rand.Rand) ([]float64, error) {
		log := m.log.With("path", int(opts.ID)+i)
		return model.Initialize(mm, inits[i], r, opts.InitRadius, true, log)
	}
	res, err := pathfinder.Multi(ctx, mm.Target(true), start, ms)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, classify(cerr)
		}
		return nil, classify(err)
	}
	if !math.IsNaN(res.ParetoK) {
		m.log.Info("pareto k", "k", res.ParetoK)
	}

	names := append(append([]string(nil), PathfinderNames...), mm.ParamNames()...)
	width := len(names)
	rows := res.Len()
	out := &Output{
		Algorithm: AlgorithmPathfinder,
		Names:     names,
		Dims:      []int{rows},
		Data:      make([]float64, rows*width),
	}
	for i := 0; i < rows; i++ {
		dst := out.Data[i*width : (i+1)*width]
		dst[0] = res.LogApprox[i]
		dst[1] = res.LogP[i]
		dst[2] = float64(res.Path[i])
		if err := mm.ConstrainTo(res.Row(i), dst[len(PathfinderNames):]); err != nil {
			return nil, classify(err)
		}
	}
	return out, nil
}
