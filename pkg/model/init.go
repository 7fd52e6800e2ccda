package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/WardBrian/tinystan/internal/logger"
	"github.com/WardBrian/tinystan/pkg/jsondata"
	"github.com/WardBrian/tinystan/pkg/rng"
)

// ErrInitFailed reports that no usable starting point was found.
var ErrInitFailed = errors.New("initialization failed")

// MaxInitTries bounds the random restarts made by Initialize.
const MaxInitTries = 100

// Initialize picks a starting point on the unconstrained scale. Parameters
// present in inits are taken from it; the rest are drawn uniformly from
// (-radius, radius), or set to zero when radius is zero. A point is accepted
// once the log density and its gradient are finite.
func Initialize(m *Model, inits *jsondata.Context, r *rand.Rand, radius float64, jacobian bool, log logger.Logger) ([]float64, error) {
	n := m.NumFreeParams()
	u := make([]float64, n)
	given, err := m.unconstrainPartial(inits, u)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	free := make([]bool, n)
	allGiven := true
	for i, p := range m.layout.Params() {
		if given[i] {
			continue
		}
		allGiven = allGiven && p.FreeSize() == 0
		_, off := m.layout.Offsets(i)
		for j := 0; j < p.FreeSize(); j++ {
			free[off+j] = true
		}
	}

	tries := MaxInitTries
	if allGiven || radius == 0 {
		tries = 1
	}
	draw := rng.Uniform(r, -radius, radius)
	grad := make([]float64, n)
	var reason error
	for try := 0; try < tries; try++ {
		for i := range u {
			if !free[i] {
				continue
			}
			if radius > 0 {
				u[i] = draw.Rand()
			} else {
				u[i] = 0
			}
		}
		lp, err := m.LogDensityGradient(u, jacobian, grad)
		switch {
		case err != nil:
			reason = err
		case math.IsInf(lp, 0) || math.IsNaN(lp):
			reason = errors.New("log probability evaluates to log(0), i.e. negative infinity")
		case !allFinite(grad):
			reason = errors.New("gradient evaluated at the initial value is not finite")
		default:
			return u, nil
		}
		log.Debug("rejecting initial value", "attempt", try+1, "reason", reason)
	}
	if tries > 1 {
		return nil, fmt.Errorf("%w: initialization between (-%g, %g) failed after %d attempts: %w",
			ErrInitFailed, radius, radius, tries, reason)
	}
	return nil, fmt.Errorf("%w: %w", ErrInitFailed, reason)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
