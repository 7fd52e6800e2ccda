package tinystan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WardBrian/tinystan/internal/catalog"
	"github.com/WardBrian/tinystan/pkg/optimize"
)

var algorithms = []optimize.Algorithm{optimize.Newton, optimize.BFGS, optimize.LBFGS}

func TestOptimizeBernoulli(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Bernoulli(), bernoulliData)
	for _, alg := range algorithms {
		opts := DefaultOptimizeOptions()
		opts.Algorithm = alg
		out, err := m.Optimize(t.Context(), opts)
		require.NoError(t, err, alg)
		assert.Equal(t, AlgorithmOptimize, out.Algorithm)
		assert.Nil(t, out.Dims)
		assert.Equal(t, []string{"lp__", "theta"}, out.Names)
		require.Len(t, out.Data, 2)
		// Without the Jacobian the optimum is the MLE 2/10.
		assert.InDelta(t, 0.2, out.Data[1], 0.01, alg)
	}
}

func TestOptimizeJacobian(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.SimpleJacobian(), "")
	withJacobian := (3 + math.Sqrt(13)) / 2
	for _, alg := range algorithms {
		opts := DefaultOptimizeOptions()
		opts.Algorithm = alg

		out, err := m.Optimize(t.Context(), opts)
		require.NoError(t, err, alg)
		assert.InDelta(t, 3, out.Data[1], 0.01, alg)

		opts.Jacobian = true
		out, err = m.Optimize(t.Context(), opts)
		require.NoError(t, err, alg)
		assert.InDelta(t, withJacobian, out.Data[1], 0.01, alg)
	}
}

func TestOptimizeDeterministic(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.LinearRegression(), catalogExample(t, "linear_regression"))
	opts := DefaultOptimizeOptions()
	opts.Seed = 42
	opts.NumIterations = 5
	a, err := m.Optimize(t.Context(), opts)
	require.NoError(t, err)
	b, err := m.Optimize(t.Context(), opts)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)

	opts.Seed = 43
	c, err := m.Optimize(t.Context(), opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.Data, c.Data)
}

func TestOptimizeInit(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Multimodal(), "")
	opts := DefaultOptimizeOptions()
	opts.Init = `{"mu": -1000}`
	out, err := m.Optimize(t.Context(), opts)
	require.NoError(t, err)
	assert.InDelta(t, -100, out.Data[1], 0.1)

	opts.Init = `{"mu": 1000}`
	out, err = m.Optimize(t.Context(), opts)
	require.NoError(t, err)
	assert.InDelta(t, 100, out.Data[1], 0.1)
}

func TestOptimizeNoParameters(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Empty(), "")
	out, err := m.Optimize(t.Context(), DefaultOptimizeOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"lp__"}, out.Names)
	require.Len(t, out.Data, 1)
	assert.False(t, math.IsNaN(out.Data[0]))
}

func TestOptimizeBadInit(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Bernoulli(), bernoulliData)
	opts := DefaultOptimizeOptions()
	opts.Init = `{"theta": 2}`
	_, err := m.Optimize(t.Context(), opts)
	require.ErrorIs(t, err, ErrRuntime)
	assert.ErrorContains(t, err, "initialization failed")

	opts.Init = "bad/path.json"
	_, err = m.Optimize(t.Context(), opts)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOptimizeArgumentErrors(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Bernoulli(), bernoulliData)
	cases := []struct {
		name  string
		apply func(*OptimizeOptions)
		msg   string
	}{
		{"id", func(o *OptimizeOptions) { o.ID = 0 }, "id must be positive"},
		{"num_iterations", func(o *OptimizeOptions) { o.NumIterations = 0 }, "num_iterations"},
		{"init_radius", func(o *OptimizeOptions) { o.InitRadius = -1 }, "init_radius"},
		{"max_history_size", func(o *OptimizeOptions) { o.MaxHistorySize = 0 }, "max_history_size"},
		{"init_alpha", func(o *OptimizeOptions) { o.InitAlpha = 0 }, "init_alpha"},
		{"tol_obj", func(o *OptimizeOptions) { o.TolObj = 0 }, "tol_obj"},
		{"tol_rel_obj", func(o *OptimizeOptions) { o.TolRelObj = 0 }, "tol_rel_obj"},
		{"tol_grad", func(o *OptimizeOptions) { o.TolGrad = 0 }, "tol_grad"},
		{"tol_rel_grad", func(o *OptimizeOptions) { o.TolRelGrad = 0 }, "tol_rel_grad"},
		{"tol_param", func(o *OptimizeOptions) { o.TolParam = 0 }, "tol_param"},
		{"algorithm", func(o *OptimizeOptions) { o.Algorithm = optimize.Algorithm(9) }, "unknown"},
		{"num_threads", func(o *OptimizeOptions) { o.NumThreads = 0 }, "num_threads"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			opts := DefaultOptimizeOptions()
			c.apply(&opts)
			_, err := m.Optimize(t.Context(), opts)
			require.ErrorIs(t, err, ErrInvalidArgument)
			assert.ErrorContains(t, err, c.msg)
		})
	}

	// History size belongs to L-BFGS and tolerances to the quasi-Newton methods.
	opts := DefaultOptimizeOptions()
	opts.Algorithm = optimize.BFGS
	opts.MaxHistorySize = 0
	_, err := m.Optimize(t.Context(), opts)
	require.NoError(t, err)

	opts.Algorithm = optimize.Newton
	opts.TolGrad = -1
	opts.InitAlpha = 0
	_, err = m.Optimize(t.Context(), opts)
	require.NoError(t, err)
}
