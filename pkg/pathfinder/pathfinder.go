// Package pathfinder implements Pathfinder variational inference: Gaussian
// approximations built along an L-BFGS trajectory, the best of which (by
// ELBO) is sampled, optionally pooled across paths with PSIS resampling.
package pathfinder

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/WardBrian/tinystan/internal/logger"
	"github.com/WardBrian/tinystan/pkg/optimize"
	"github.com/WardBrian/tinystan/pkg/rng"
)

// ErrNoIterations reports a path on which no iterate produced a usable
// approximation.
var ErrNoIterations = errors.New("none of the LBFGS iterations completed successfully")

// Target is the log density being approximated, on the unconstrained
// scale.
type Target interface {
	LogDensity(x []float64) (float64, error)
	LogDensityGradient(x, grad []float64) (float64, error)
}

// Settings configures a single path.
type Settings struct {
	HistorySize   int
	InitAlpha     float64
	TolObj        float64
	TolRelObj     float64
	TolGrad       float64
	TolRelGrad    float64
	TolParam      float64
	NumIterations int
	NumDraws      int
	NumElboDraws  int
	CalculateLP   bool
	Refresh       int
	Log           logger.Logger
}

// Draws are approximate posterior draws on the unconstrained scale.
type Draws struct {
	Dim       int
	Params    []float64 // row-major, len(LogApprox) rows of Dim values
	LogApprox []float64
	LogP      []float64
	Path      []int
}

// Len is the number of draws.
func (d *Draws) Len() int { return len(d.LogApprox) }

// Row returns the parameters of draw i.
func (d *Draws) Row(i int) []float64 { return d.Params[i*d.Dim : (i+1)*d.Dim] }

func (d *Draws) append(theta []float64, logApprox, logP float64, path int) {
	d.Params = append(d.Params, theta...)
	d.LogApprox = append(d.LogApprox, logApprox)
	d.LogP = append(d.LogP, logP)
	d.Path = append(d.Path, path)
}

// candidate is the ELBO draws of one approximation.
type candidate struct {
	approx *approx
	iter   int
	elbo   float64
	draws  Draws
}

// Single runs one path from x0 and returns NumDraws draws from its best
// approximation, labelled with pathID.
func Single(ctx context.Context, target Target, x0 []float64, r *rand.Rand, pathID int, s Settings) (*Draws, error) {
	log := s.Log
	if log == nil {
		log = logger.Nop()
	}
	n := len(x0)
	hist := newHistory(n, s.HistorySize)

	var (
		best     *candidate
		prevX    []float64
		prevGrad []float64
	)
	observer := func(it optimize.Iterate) error {
		// Iterate.Grad is the gradient of -log p.
		if it.Iteration == 0 {
			prevX, prevGrad = it.X, it.Grad
			return nil
		}
		sk := make([]float64, n)
		yk := make([]float64, n)
		floats.SubTo(sk, it.X, prevX)
		floats.SubTo(yk, it.Grad, prevGrad)
		prevX, prevGrad = it.X, it.Grad

		if !hist.push(sk, yk) {
			log.Debug("skipping iteration, curvature condition failed", "iteration", it.Iteration)
			if len(hist.s) == 0 {
				return nil
			}
		}
		lpGrad := make([]float64, n)
		floats.ScaleTo(lpGrad, -1, it.Grad)
		a, err := newApprox(hist, it.X, lpGrad)
		if err != nil {
			log.Debug("skipping iteration", "iteration", it.Iteration, "error", err)
			return nil
		}
		c := evaluate(target, a, r, s.NumElboDraws, pathID)
		c.iter = it.Iteration
		if s.Refresh > 0 && (it.Iteration == 1 || it.Iteration%s.Refresh == 0) {
			log.Info("pathfinder iteration", "iteration", it.Iteration, "log_prob", -it.F, "elbo", c.elbo)
		}
		if best == nil || c.elbo > best.elbo {
			best = c
		}
		return nil
	}

	_, err := optimize.Minimize(ctx, optimize.Negate(target), x0, optimize.Settings{
		Algorithm:     optimize.LBFGS,
		HistorySize:   s.HistorySize,
		InitAlpha:     s.InitAlpha,
		TolObj:        s.TolObj,
		TolRelObj:     s.TolRelObj,
		TolGrad:       s.TolGrad,
		TolRelGrad:    s.TolRelGrad,
		TolParam:      s.TolParam,
		MaxIterations: s.NumIterations,
		Observer:      observer,
		Log:           log,
	})
	switch {
	case err == nil:
	case errors.Is(err, optimize.ErrLineSearch):
		log.Debug("L-BFGS stopped early", "error", err)
	case errors.Is(err, optimize.ErrInitialPoint):
		return nil, ErrNoIterations
	default:
		return nil, err
	}
	if best == nil || math.IsInf(best.elbo, -1) || math.IsNaN(best.elbo) {
		return nil, ErrNoIterations
	}
	log.Debug("best approximation", "iteration", best.iter, "elbo", best.elbo)

	out := &Draws{Dim: n}
	reuse := min(s.NumDraws, best.draws.Len())
	for i := 0; i < reuse; i++ {
		out.append(best.draws.Row(i), best.draws.LogApprox[i], best.draws.LogP[i], pathID)
	}
	u := make([]float64, n)
	theta := make([]float64, n)
	for i := reuse; i < s.NumDraws; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng.FillNormal(r, u)
		best.approx.transform(u, theta)
		lp := math.NaN()
		if s.CalculateLP {
			lp = logDensity(target, theta)
		}
		out.append(theta, best.approx.logDensity(u), lp, pathID)
	}
	return out, nil
}

// evaluate draws k points from a and estimates the ELBO.
func evaluate(target Target, a *approx, r *rand.Rand, k, pathID int) *candidate {
	c := &candidate{approx: a, draws: Draws{Dim: a.n}}
	u := make([]float64, a.n)
	theta := make([]float64, a.n)
	var sum float64
	for i := 0; i < k; i++ {
		rng.FillNormal(r, u)
		a.transform(u, theta)
		lq := a.logDensity(u)
		lp := logDensity(target, theta)
		c.draws.append(theta, lq, lp, pathID)
		sum += lp - lq
	}
	c.elbo = sum / float64(k)
	if math.IsNaN(c.elbo) {
		c.elbo = math.Inf(-1)
	}
	return c
}

func logDensity(target Target, theta []float64) float64 {
	lp, err := target.LogDensity(theta)
	if err != nil || math.IsNaN(lp) {
		return math.Inf(-1)
	}
	return lp
}
