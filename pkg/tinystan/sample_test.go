package tinystan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WardBrian/tinystan/internal/catalog"
	"github.com/WardBrian/tinystan/pkg/hmc"
	"github.com/WardBrian/tinystan/pkg/jsondata"
)

func quickSample() SampleOptions {
	o := DefaultSampleOptions()
	o.NumChains = 2
	o.NumWarmup = 300
	o.NumSamples = 300
	o.Seed = 1234
	return o
}

func TestSampleBernoulli(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Bernoulli(), bernoulliData)
	opts := quickSample()
	opts.NumWarmup = 500
	opts.NumSamples = 500
	out, err := m.Sample(t.Context(), opts)
	require.NoError(t, err)

	assert.Equal(t, AlgorithmSample, out.Algorithm)
	assert.Equal(t, []int{2, 500}, out.Dims)
	assert.Equal(t, append(append([]string(nil), hmc.DiagnosticNames...), "theta"), out.Names)
	theta, err := out.Get("theta")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 500}, theta.Dims)
	assert.InDelta(t, 0.25, mean(theta.Values), 0.05)

	require.Len(t, out.Stepsize, 2)
	for _, s := range out.Stepsize {
		assert.Greater(t, s, 0.0)
	}
	assert.Nil(t, out.InvMetric)
}

func TestSampleDeterministic(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Bernoulli(), bernoulliData)
	opts := quickSample()
	opts.NumWarmup, opts.NumSamples = 100, 100
	opts.NumThreads = 1
	a, err := m.Sample(t.Context(), opts)
	require.NoError(t, err)
	opts.NumThreads = -1
	b, err := m.Sample(t.Context(), opts)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)

	opts.Seed = 456
	c, err := m.Sample(t.Context(), opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.Data, c.Data)
}

func TestSampleSaveWarmup(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Bernoulli(), bernoulliData)
	opts := quickSample()
	opts.NumWarmup, opts.NumSamples = 12, 34
	out, err := m.Sample(t.Context(), opts)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 34}, out.Dims)

	opts.SaveWarmup = true
	out, err = m.Sample(t.Context(), opts)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 46}, out.Dims)
}

func TestSampleSaveInvMetric(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Gaussian(), `{"N": 5}`)
	cases := []struct {
		metric hmc.MetricKind
		dims   []int
	}{
		{hmc.UnitMetric, []int{2, 5}},
		{hmc.DiagMetric, []int{2, 5}},
		{hmc.DenseMetric, []int{2, 5, 5}},
	}
	for _, c := range cases {
		opts := quickSample()
		opts.NumWarmup, opts.NumSamples = 100, 10
		opts.Metric = c.metric
		opts.SaveInvMetric = true
		out, err := m.Sample(t.Context(), opts)
		require.NoError(t, err, c.metric)
		assert.Equal(t, c.dims, out.InvMetricDims, c.metric)
		size := 1
		for _, d := range c.dims {
			size *= d
		}
		require.Len(t, out.InvMetric, size)
		if c.metric == hmc.UnitMetric {
			for _, v := range out.InvMetric {
				assert.Equal(t, 1.0, v)
			}
		}
	}

	opts := quickSample()
	opts.NumWarmup, opts.NumSamples = 10, 10
	opts.SaveInvMetric = true
	opts.Adapt = false
	out, err := m.Sample(t.Context(), opts)
	require.NoError(t, err)
	assert.Nil(t, out.Stepsize)
	assert.Nil(t, out.InvMetric)
}

func TestSampleInitInvMetricUsed(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Gaussian(), `{"N": 3}`)
	opts := quickSample()
	opts.NumWarmup, opts.NumSamples = 0, 200
	opts.Adapt = false
	opts.Stepsize = 0.5
	opts.InitInvMetric = []float64{1e20, 1e20, 1e20, 1, 1, 1}
	out, err := m.Sample(t.Context(), opts)
	require.NoError(t, err)
	div, err := out.Get("divergent__")
	require.NoError(t, err)
	first, second := sum(div.Values[:200]), sum(div.Values[200:])
	assert.Greater(t, first, 150.0)
	assert.Less(t, second, 5.0)
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func TestSampleInits(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Multimodal(), "")
	opts := quickSample()
	opts.NumWarmup, opts.NumSamples = 100, 100

	opts.Inits = `{"mu": -100}`
	out, err := m.Sample(t.Context(), opts)
	require.NoError(t, err)
	mu, err := out.Get("mu")
	require.NoError(t, err)
	for _, v := range mu.Values {
		assert.Less(t, v, 0.0)
	}

	opts.Inits = jsondata.JoinInits([]string{`{"mu": -100}`, `{"mu": 100}`})
	out, err = m.Sample(t.Context(), opts)
	require.NoError(t, err)
	mu, err = out.Get("mu")
	require.NoError(t, err)
	for i, v := range mu.Values {
		if i < 100 {
			assert.Less(t, v, 0.0)
		} else {
			assert.Greater(t, v, 0.0)
		}
	}
}

func TestSampleInitFromOptimize(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Bernoulli(), bernoulliData)
	oopts := DefaultOptimizeOptions()
	oopts.Jacobian = true
	mode, err := m.Optimize(t.Context(), oopts)
	require.NoError(t, err)
	inits, err := mode.CreateInits(2, 1)
	require.NoError(t, err)

	opts := quickSample()
	opts.Inits = jsondata.JoinInits(inits)
	out, err := m.Sample(t.Context(), opts)
	require.NoError(t, err)
	theta, err := out.Get("theta")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, mean(theta.Values), 0.05)
}

func TestSampleBadInits(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Bernoulli(), bernoulliData)
	opts := quickSample()

	opts.Inits = `{"theta": 2}`
	_, err := m.Sample(t.Context(), opts)
	require.ErrorIs(t, err, ErrRuntime)
	assert.ErrorContains(t, err, "initialization failed")

	opts.Inits = "bad/path.json"
	_, err = m.Sample(t.Context(), opts)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorContains(t, err, "could not open data file")

	good, bad := `{"theta": 0.2}`, `{"theta": 2}`
	opts.NumChains = 6
	opts.Inits = jsondata.JoinInits([]string{good, bad, good, bad, good, bad})
	_, err = m.Sample(t.Context(), opts)
	require.ErrorIs(t, err, ErrRuntime)
	assert.ErrorContains(t, err, "initialization failed")

	for _, chains := range []int{1, 3} {
		opts.NumChains = chains
		opts.Inits = jsondata.JoinInits([]string{good, good})
		_, err = m.Sample(t.Context(), opts)
		require.ErrorIs(t, err, ErrInvalidArgument)
		assert.ErrorContains(t, err, "match the number of chains")
	}
}

func TestSampleMetricErrors(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Gaussian(), `{"N": 3}`)
	ones := func(n int) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = 1
		}
		return v
	}
	sizes := []struct {
		metric hmc.MetricKind
		n      int
	}{
		{hmc.DenseMetric, 3},
		{hmc.DenseMetric, 2 * 3},
		{hmc.DenseMetric, 3 * 9},
		{hmc.DiagMetric, 2},
		{hmc.DiagMetric, 3 * 3},
	}
	for _, s := range sizes {
		opts := quickSample()
		opts.Metric = s.metric
		opts.InitInvMetric = ones(s.n)
		_, err := m.Sample(t.Context(), opts)
		require.ErrorIs(t, err, ErrInvalidArgument)
		assert.ErrorContains(t, err, "invalid initial metric size")
	}

	opts := quickSample()
	opts.Metric = hmc.DenseMetric
	opts.InitInvMetric = ones(9)
	_, err := m.Sample(t.Context(), opts)
	require.ErrorIs(t, err, ErrRuntime)
	assert.ErrorContains(t, err, "not positive definite")
}

func TestSampleNoParameters(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Empty(), "")
	_, err := m.Sample(t.Context(), quickSample())
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorContains(t, err, "no parameters")
}

func TestSampleArgumentErrors(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Bernoulli(), bernoulliData)
	cases := []struct {
		name  string
		apply func(*SampleOptions)
		msg   string
	}{
		{"num_chains", func(o *SampleOptions) { o.NumChains = 0 }, "at least 1"},
		{"num_warmup", func(o *SampleOptions) { o.NumWarmup = -1 }, "non-negative"},
		{"num_samples", func(o *SampleOptions) { o.NumSamples = 0 }, "at least 1"},
		{"id", func(o *SampleOptions) { o.ID = 0 }, "positive"},
		{"init_radius", func(o *SampleOptions) { o.InitRadius = -0.1 }, "non-negative"},
		{"delta low", func(o *SampleOptions) { o.Delta = -0.1 }, "between 0 and 1"},
		{"delta high", func(o *SampleOptions) { o.Delta = 1.1 }, "between 0 and 1"},
		{"gamma", func(o *SampleOptions) { o.Gamma = 0 }, "positive"},
		{"kappa", func(o *SampleOptions) { o.Kappa = 0 }, "positive"},
		{"t0", func(o *SampleOptions) { o.T0 = 0 }, "positive"},
		{"stepsize", func(o *SampleOptions) { o.Stepsize = 0 }, "positive"},
		{"jitter low", func(o *SampleOptions) { o.StepsizeJitter = -0.1 }, "between 0 and 1"},
		{"jitter high", func(o *SampleOptions) { o.StepsizeJitter = 1.1 }, "between 0 and 1"},
		{"max_depth", func(o *SampleOptions) { o.MaxDepth = 0 }, "positive"},
		{"num_threads", func(o *SampleOptions) { o.NumThreads = 0 }, "positive"},
		{"refresh", func(o *SampleOptions) { o.Refresh = -1 }, "non-negative"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			opts := quickSample()
			c.apply(&opts)
			_, err := m.Sample(t.Context(), opts)
			require.ErrorIs(t, err, ErrInvalidArgument)
			assert.ErrorContains(t, err, c.msg)
		})
	}

	// Adaptation parameters are only checked when adapting.
	opts := quickSample()
	opts.NumWarmup, opts.NumSamples = 10, 10
	opts.Adapt = false
	opts.Delta = 2
	_, err := m.Sample(t.Context(), opts)
	require.NoError(t, err)
}

func TestSampleInterrupted(t *testing.T) {
	t.Parallel()
	m := newModel(t, catalog.Bernoulli(), bernoulliData)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := m.Sample(ctx, quickSample())
	require.ErrorIs(t, err, ErrInterrupt)
	assert.Equal(t, KindInterrupt, KindOf(err))
}
