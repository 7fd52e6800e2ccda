package pathfinder

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/WardBrian/tinystan/internal/logger"
	"github.com/WardBrian/tinystan/pkg/psis"
	"github.com/WardBrian/tinystan/pkg/rng"
)

// ErrAllPathsFailed reports a multi-path run in which no path produced
// draws.
var ErrAllPathsFailed = errors.New("no pathfinders ran successfully")

// StartFunc returns the initial point of path i using its stream r.
type StartFunc func(i int, r *rand.Rand) ([]float64, error)

// MultiSettings configures a multi-path run.
type MultiSettings struct {
	Settings
	NumPaths      int
	NumMultiDraws int
	PSISResample  bool
	NumThreads    int
	Seed          uint32
	ID            uint32
}

// Result is the pooled output of a multi-path run.
type Result struct {
	Draws
	// ParetoK is the fitted tail shape of the importance ratios, NaN when
	// no resampling happened.
	ParetoK float64
}

// Multi runs NumPaths independent paths and pools their draws. Path i uses
// the stream rng.Chain(Seed, ID, i) and is labelled ID+i. Paths that fail
// are logged and dropped. PSIS resampling needs log densities, so it only
// happens when both PSISResample and CalculateLP are set.
func Multi(ctx context.Context, target Target, start StartFunc, ms MultiSettings) (*Result, error) {
	log := ms.Log
	if log == nil {
		log = logger.Nop()
	}
	threads := ms.NumThreads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}

	paths := make([]*Draws, ms.NumPaths)
	var succeeded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for i := range ms.NumPaths {
		g.Go(func() error {
			id := int(ms.ID) + i
			plog := log.With("path", id)
			r := rng.Chain(ms.Seed, ms.ID, i)
			s := ms.Settings
			s.Log = plog

			x0, err := start(i, r)
			var d *Draws
			if err == nil {
				d, err = Single(gctx, target, x0, r, id, s)
			}
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				plog.Warn("pathfinder failed", "error", err)
				return nil
			}
			paths[i] = d
			succeeded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if succeeded.Load() == 0 {
		return nil, ErrAllPathsFailed
	}

	pool := Draws{Dim: -1}
	for _, d := range paths {
		if d == nil {
			continue
		}
		pool.Dim = d.Dim
		pool.Params = append(pool.Params, d.Params...)
		pool.LogApprox = append(pool.LogApprox, d.LogApprox...)
		pool.LogP = append(pool.LogP, d.LogP...)
		pool.Path = append(pool.Path, d.Path...)
	}
	res := &Result{Draws: pool, ParetoK: math.NaN()}
	if !ms.PSISResample || !ms.CalculateLP {
		return res, nil
	}

	ratios := make([]float64, pool.Len())
	for i := range ratios {
		ratios[i] = pool.LogP[i] - pool.LogApprox[i]
	}
	logw, k := psis.LogWeights(ratios)
	res.ParetoK = k
	if k > psis.KWarn {
		log.Warn("Pareto k value is greater than 0.7, importance resampling may be unreliable", "k", k)
	}
	idx := psis.Resample(rng.Chain(ms.Seed, ms.ID, ms.NumPaths), logw, ms.NumMultiDraws)
	out := Draws{Dim: pool.Dim}
	for _, j := range idx {
		out.append(pool.Row(j), pool.LogApprox[j], pool.LogP[j], pool.Path[j])
	}
	res.Draws = out
	return res, nil
}
