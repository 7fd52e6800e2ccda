package pathfinder

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/WardBrian/tinystan/pkg/rng"
)

// gaussian is an independent normal with the given means and scales.
type gaussian struct {
	mu, sigma []float64
}

func (g gaussian) LogDensity(x []float64) (float64, error) {
	return g.LogDensityGradient(x, make([]float64, len(x)))
}

func (g gaussian) LogDensityGradient(x, grad []float64) (float64, error) {
	var lp float64
	for i := range x {
		z := (x[i] - g.mu[i]) / g.sigma[i]
		lp -= 0.5 * z * z
		grad[i] = -z / g.sigma[i]
	}
	return lp, nil
}

var target3 = gaussian{mu: []float64{1, -1, 3}, sigma: []float64{1, 2, 0.5}}

func defaultSettings() Settings {
	return Settings{
		HistorySize:   5,
		InitAlpha:     0.001,
		TolObj:        1e-12,
		TolRelObj:     1e4,
		TolGrad:       1e-8,
		TolRelGrad:    1e7,
		TolParam:      1e-8,
		NumIterations: 1000,
		NumDraws:      1000,
		NumElboDraws:  25,
		CalculateLP:   true,
	}
}

func TestFormDiag(t *testing.T) {
	t.Parallel()

	s := []float64{0.5, -1, 2}
	got := formDiag([]float64{1, 1, 1}, s, s)
	for _, v := range got {
		assert.InDelta(t, 1, v, 1e-12)
	}
}

func TestHistoryCurvature(t *testing.T) {
	t.Parallel()

	h := newHistory(2, 2)
	assert.False(t, h.push([]float64{1, 0}, []float64{-1, 0}))
	assert.False(t, h.push([]float64{1e-7, 0}, []float64{1e3, 0}))
	assert.True(t, h.push([]float64{1, 0}, []float64{2, 0}))
	assert.True(t, h.push([]float64{0, 1}, []float64{0, 3}))
	assert.True(t, h.push([]float64{1, 1}, []float64{2, 3}))
	assert.Len(t, h.s, 2)
	assert.Equal(t, []float64{0, 1}, h.s[0])
}

func covarianceOf(a *approx) [][]float64 {
	n := a.n
	cols := make([][]float64, n)
	for i := range cols {
		u := make([]float64, n)
		u[i] = 1
		cols[i] = make([]float64, n)
		a.transform(u, cols[i])
		for j := range cols[i] {
			cols[i][j] -= a.mu[j]
		}
	}
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
		for j := range cov[i] {
			for k := range cols {
				cov[i][j] += cols[k][i] * cols[k][j]
			}
		}
	}
	return cov
}

func TestDenseAndSparseAgree(t *testing.T) {
	t.Parallel()

	const n = 6
	r := rng.New(17, 1)
	h := newHistory(n, 2)
	for len(h.s) < 2 {
		h.push(randPair(r, n))
	}
	x := make([]float64, n)
	g := make([]float64, n)
	for i := range x {
		x[i] = r.NormFloat64()
		g[i] = r.NormFloat64()
	}

	dense, err := buildApprox(h, x, g, true)
	require.NoError(t, err)
	sparse, err := buildApprox(h, x, g, false)
	require.NoError(t, err)
	require.NotNil(t, dense.l)
	require.NotNil(t, sparse.q)

	assert.InDeltaSlice(t, dense.mu, sparse.mu, 1e-10)
	assert.InDelta(t, dense.logdet, sparse.logdet, 1e-8)
	cd, cs := covarianceOf(dense), covarianceOf(sparse)
	for i := range cd {
		assert.InDeltaSlice(t, cd[i], cs[i], 1e-8)
	}

	// Secant condition for the newest pair: H y = s.
	last := len(h.s) - 1
	hy := make([]float64, n)
	for i := range hy {
		for j := range hy {
			hy[i] += cd[i][j] * h.y[last][j]
		}
	}
	assert.InDeltaSlice(t, h.s[last], hy, 1e-8)
}

// randPair returns a pair from a random diagonal quadratic with curvature
// between 0.5 and 3.
func randPair(r *rand.Rand, n int) ([]float64, []float64) {
	s := make([]float64, n)
	y := make([]float64, n)
	for i := range s {
		s[i] = r.NormFloat64()
		y[i] = (0.5 + 0.5*float64(i)) * s[i]
	}
	return s, y
}

func TestSingleGaussian(t *testing.T) {
	t.Parallel()

	d, err := Single(context.Background(), target3, []float64{0, 0, 0}, rng.New(3, 1), 1, defaultSettings())
	require.NoError(t, err)
	require.Equal(t, 1000, d.Len())
	require.Len(t, d.Params, 3000)

	for j := range 3 {
		col := make([]float64, d.Len())
		for i := range col {
			col[i] = d.Row(i)[j]
		}
		mean, sd := stat.MeanStdDev(col, nil)
		assert.InDelta(t, target3.mu[j], mean, 0.3*target3.sigma[j])
		assert.InDelta(t, 1, sd/target3.sigma[j], 0.4)
	}
	for i := 0; i < d.Len(); i++ {
		assert.Equal(t, 1, d.Path[i])
		assert.False(t, math.IsNaN(d.LogP[i]))
	}
}

func TestSingleSparse(t *testing.T) {
	t.Parallel()

	const n = 20
	target := gaussian{mu: make([]float64, n), sigma: make([]float64, n)}
	for i := range n {
		target.mu[i] = float64(i) / 4
		target.sigma[i] = 0.5 + float64(i%4)/2
	}
	s := defaultSettings()
	s.NumDraws = 200
	d, err := Single(context.Background(), target, make([]float64, n), rng.New(9, 1), 1, s)
	require.NoError(t, err)
	require.Equal(t, 200, d.Len())
	for i := 0; i < d.Len(); i++ {
		assert.False(t, math.IsNaN(d.LogApprox[i]))
	}
}

func TestSingleWithoutLP(t *testing.T) {
	t.Parallel()

	s := defaultSettings()
	s.NumDraws = 100
	s.CalculateLP = false
	d, err := Single(context.Background(), target3, []float64{0, 0, 0}, rng.New(3, 1), 1, s)
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		assert.False(t, math.IsNaN(d.LogP[i]), i)
	}
	for i := 25; i < 100; i++ {
		assert.True(t, math.IsNaN(d.LogP[i]), i)
	}
}

type brokenDensity struct{ gaussian }

func (brokenDensity) LogDensity([]float64) (float64, error) {
	return 0, errors.New("broken")
}

func TestSingleNoIterations(t *testing.T) {
	t.Parallel()

	_, err := Single(context.Background(), brokenDensity{target3}, []float64{0, 0, 0}, rng.New(1, 1), 1, defaultSettings())
	require.ErrorIs(t, err, ErrNoIterations)
}

func multiSettings() MultiSettings {
	s := defaultSettings()
	s.NumDraws = 200
	return MultiSettings{
		Settings:      s,
		NumPaths:      4,
		NumMultiDraws: 300,
		PSISResample:  true,
		NumThreads:    -1,
		Seed:          1234,
		ID:            1,
	}
}

func zeroStart(int, *rand.Rand) ([]float64, error) { return []float64{0, 0, 0}, nil }

func uniformStart(_ int, r *rand.Rand) ([]float64, error) {
	x := make([]float64, 3)
	u := rng.Uniform(r, -2, 2)
	for i := range x {
		x[i] = u.Rand()
	}
	return x, nil
}

func TestMulti(t *testing.T) {
	t.Parallel()

	ms := multiSettings()
	res, err := Multi(context.Background(), target3, uniformStart, ms)
	require.NoError(t, err)
	assert.Equal(t, 300, res.Len())
	assert.False(t, math.IsNaN(res.ParetoK))
	for _, p := range res.Path {
		assert.Contains(t, []int{1, 2, 3, 4}, p)
	}

	ms.PSISResample = false
	res, err = Multi(context.Background(), target3, uniformStart, ms)
	require.NoError(t, err)
	assert.Equal(t, 800, res.Len())
	assert.True(t, math.IsNaN(res.ParetoK))
	assert.Equal(t, 1, res.Path[0])
	assert.Equal(t, 4, res.Path[799])

	ms.PSISResample = true
	ms.CalculateLP = false
	res, err = Multi(context.Background(), target3, uniformStart, ms)
	require.NoError(t, err)
	assert.Equal(t, 800, res.Len())
}

func TestMultiDeterministic(t *testing.T) {
	t.Parallel()

	ms := multiSettings()
	ms.NumThreads = 1
	a, err := Multi(context.Background(), target3, uniformStart, ms)
	require.NoError(t, err)
	ms.NumThreads = 4
	b, err := Multi(context.Background(), target3, uniformStart, ms)
	require.NoError(t, err)
	assert.Equal(t, a.Params, b.Params)
	assert.Equal(t, a.Path, b.Path)

	ms.Seed++
	c, err := Multi(context.Background(), target3, uniformStart, ms)
	require.NoError(t, err)
	assert.NotEqual(t, a.Params, c.Params)
}

func TestMultiPartialFailure(t *testing.T) {
	t.Parallel()

	ms := multiSettings()
	ms.PSISResample = false
	start := func(i int, r *rand.Rand) ([]float64, error) {
		if i%2 == 0 {
			return nil, errors.New("no start")
		}
		return zeroStart(i, r)
	}
	res, err := Multi(context.Background(), target3, start, ms)
	require.NoError(t, err)
	assert.Equal(t, 400, res.Len())
	for _, p := range res.Path {
		assert.Contains(t, []int{2, 4}, p)
	}

	fail := func(int, *rand.Rand) ([]float64, error) { return nil, errors.New("no start") }
	_, err = Multi(context.Background(), target3, fail, ms)
	require.ErrorIs(t, err, ErrAllPathsFailed)
}

func TestMultiCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Multi(ctx, target3, zeroStart, multiSettings())
	require.ErrorIs(t, err, context.Canceled)
}
