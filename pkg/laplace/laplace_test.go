package laplace

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/WardBrian/tinystan/pkg/rng"
)

// correlated is a bivariate normal with precision P.
type correlated struct{ p *mat.SymDense }

func (c correlated) LogDensity(x []float64) (float64, error) {
	v := mat.NewVecDense(2, x)
	return -0.5 * mat.Inner(v, c.p, v), nil
}

func (c correlated) Hessian([]float64) (*mat.SymDense, error) {
	h := mat.NewSymDense(2, nil)
	h.ScaleSym(-1, c.p)
	return h, nil
}

func TestSampleCovariance(t *testing.T) {
	t.Parallel()

	// Covariance [[2, 0.6], [0.6, 1]].
	cov := mat.NewSymDense(2, []float64{2, 0.6, 0.6, 1})
	var chol mat.Cholesky
	require.True(t, chol.Factorize(cov))
	var prec mat.SymDense
	require.NoError(t, chol.InverseTo(&prec))

	res, err := Sample(context.Background(), correlated{&prec}, []float64{0, 0}, 5000, true, rng.New(1, 0), nil)
	require.NoError(t, err)
	require.Len(t, res.LogP, 5000)

	x := make([]float64, 5000)
	y := make([]float64, 5000)
	for i := range x {
		x[i], y[i] = res.Row(i)[0], res.Row(i)[1]
	}
	assert.InDelta(t, 2, stat.Variance(x, nil), 0.2)
	assert.InDelta(t, 1, stat.Variance(y, nil), 0.1)
	assert.InDelta(t, 0.6, stat.Covariance(x, y, nil), 0.1)

	// For a Gaussian target log p - log q is the normalizing constant.
	c := res.LogP[0] - res.LogQ[0]
	for i := range res.LogP {
		assert.InDelta(t, c, res.LogP[i]-res.LogQ[i], 1e-9)
	}
	assert.InDelta(t, 0.5*math.Log(chol.Det())+math.Log(2*math.Pi), c, 1e-9)
}

func TestSampleWithoutLP(t *testing.T) {
	t.Parallel()

	p := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	res, err := Sample(context.Background(), correlated{p}, []float64{1, 2}, 10, false, rng.New(1, 0), nil)
	require.NoError(t, err)
	for _, lp := range res.LogP {
		assert.True(t, math.IsNaN(lp))
	}
	assert.Equal(t, -1.0, res.Hessian.At(0, 0))
}

func TestNotNegativeDefinite(t *testing.T) {
	t.Parallel()

	p := mat.NewSymDense(2, []float64{-1, 0, 0, 1})
	_, err := Sample(context.Background(), correlated{p}, []float64{0, 0}, 10, true, rng.New(1, 0), nil)
	require.ErrorIs(t, err, ErrNotNegativeDefinite)
}

func TestDeterministic(t *testing.T) {
	t.Parallel()

	p := mat.NewSymDense(2, []float64{1, 0.2, 0.2, 1})
	a, err := Sample(context.Background(), correlated{p}, []float64{0, 0}, 50, true, rng.New(7, 0), nil)
	require.NoError(t, err)
	b, err := Sample(context.Background(), correlated{p}, []float64{0, 0}, 50, true, rng.New(7, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, a.Params, b.Params)
}
