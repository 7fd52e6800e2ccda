// Package laplace draws from the Gaussian approximation to a density at its
// mode, with covariance the negative inverse Hessian.
package laplace

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/WardBrian/tinystan/internal/logger"
	"github.com/WardBrian/tinystan/pkg/rng"
)

// ErrNotNegativeDefinite reports a Hessian at the mode that does not define
// a Gaussian.
var ErrNotNegativeDefinite = errors.New("Hessian of the log density at the mode is not negative definite")

// Target is a log density with a Hessian, on the unconstrained scale.
type Target interface {
	LogDensity(x []float64) (float64, error)
	Hessian(x []float64) (*mat.SymDense, error)
}

// Result holds the draws on the unconstrained scale.
type Result struct {
	Dim     int
	Params  []float64 // row-major, len(LogQ) rows of Dim values
	LogP    []float64
	LogQ    []float64
	Hessian *mat.SymDense
}

// Row returns the parameters of draw i.
func (r *Result) Row(i int) []float64 { return r.Params[i*r.Dim : (i+1)*r.Dim] }

// Sample draws numDraws points from N(mode, -H^{-1}). LogP is the target
// density of each draw, or NaN when calculateLP is false; LogQ is the
// density of the approximation.
func Sample(ctx context.Context, target Target, mode []float64, numDraws int, calculateLP bool, r *rand.Rand, log logger.Logger) (*Result, error) {
	if log == nil {
		log = logger.Nop()
	}
	n := len(mode)
	res := &Result{Dim: n}
	if n == 0 {
		res.Hessian = &mat.SymDense{}
		res.LogP = make([]float64, numDraws)
		res.LogQ = make([]float64, numDraws)
		for i := range res.LogP {
			lp := math.NaN()
			if calculateLP {
				v, err := target.LogDensity(mode)
				if err != nil {
					return nil, err
				}
				lp = v
			}
			res.LogP[i] = lp
		}
		return res, nil
	}

	log.Debug("computing Hessian at the mode")
	h, err := target.Hessian(mode)
	if err != nil {
		return nil, err
	}
	res.Hessian = h

	neg := mat.NewSymDense(n, nil)
	neg.ScaleSym(-1, h)
	var chol mat.Cholesky
	if !chol.Factorize(neg) {
		return nil, ErrNotNegativeDefinite
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, errors.Join(ErrNotNegativeDefinite, err)
	}
	var covChol mat.Cholesky
	if !covChol.Factorize(&cov) {
		return nil, ErrNotNegativeDefinite
	}
	l := mat.NewTriDense(n, mat.Lower, nil)
	covChol.LTo(l)
	logdet := covChol.LogDet()
	logNorm := -0.5*logdet - 0.5*float64(n)*math.Log(2*math.Pi)

	log.Debug("generating draws", "num_draws", numDraws)
	res.Params = make([]float64, 0, numDraws*n)
	res.LogP = make([]float64, 0, numDraws)
	res.LogQ = make([]float64, 0, numDraws)
	z := make([]float64, n)
	draw := make([]float64, n)
	dv := mat.NewVecDense(n, draw)
	for i := 0; i < numDraws; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng.FillNormal(r, z)
		dv.MulVec(l, mat.NewVecDense(n, z))
		floats.Add(draw, mode)

		lp := math.NaN()
		if calculateLP {
			lp, err = target.LogDensity(draw)
			if err != nil {
				lp = math.Inf(-1)
			}
		}
		res.Params = append(res.Params, draw...)
		res.LogP = append(res.LogP, lp)
		res.LogQ = append(res.LogQ, logNorm-0.5*floats.Dot(z, z))
	}
	return res, nil
}
