package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WardBrian/tinystan/pkg/hmc"
	"github.com/WardBrian/tinystan/pkg/optimize"
	"github.com/WardBrian/tinystan/pkg/tinystan"
)

func TestFitStoreFinishKeepsCancelled(t *testing.T) {
	t.Parallel()

	store := NewFitStore()
	now := time.Unix(100, 0)
	ctx, cancel := context.WithCancel(context.Background())
	fit := store.Create(&FitRequest{Model: "bernoulli", Algorithm: "sample"}, 7, cancel, now)
	if fit.Seed != 7 || fit.Status != StatusInProgress {
		t.Fatalf("unexpected fit %+v", fit)
	}

	got, ok := store.Cancel(fit.ID, now)
	if !ok || got.Status != StatusCancelled {
		t.Fatalf("cancel = %+v, %v", got, ok)
	}
	if ctx.Err() == nil {
		t.Fatalf("cancel did not stop the run")
	}

	out := &tinystan.Output{Algorithm: tinystan.AlgorithmOptimize, Names: []string{"lp__"}, Data: []float64{1}}
	got, _ = store.Finish(fit.ID, out, nil, now)
	if got.Status != StatusCancelled {
		t.Fatalf("finish overwrote cancelled status: %+v", got)
	}
	if _, stored, _ := store.Get(fit.ID); stored != nil {
		t.Fatalf("cancelled fit kept an output")
	}
}

func TestFitStoreFinish(t *testing.T) {
	t.Parallel()

	store := NewFitStore()
	now := time.Unix(100, 0)
	a := store.Create(&FitRequest{Model: "m", Algorithm: "optimize"}, 1, func() {}, now)
	b := store.Create(&FitRequest{Model: "m", Algorithm: "optimize"}, 1, func() {}, now.Add(time.Second))

	out := &tinystan.Output{Algorithm: tinystan.AlgorithmOptimize, Names: []string{"lp__", "x"}, Data: []float64{1, 2}}
	got, ok := store.Finish(a.ID, out, nil, now)
	if !ok || got.Status != StatusCompleted || len(got.Names) != 2 {
		t.Fatalf("finish = %+v", got)
	}

	got, _ = store.Finish(b.ID, nil, errors.New("boom"), now)
	if got.Status != StatusFailed || got.Error == nil || got.Error.Type != "runtime_error" {
		t.Fatalf("failed finish = %+v", got)
	}

	list := store.List()
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
		t.Fatalf("list order = %+v", list)
	}

	if !store.Delete(a.ID) || store.Delete(a.ID) {
		t.Fatalf("delete should succeed once")
	}
	if _, ok := store.Finish(a.ID, out, nil, now); ok {
		t.Fatalf("finish of deleted fit reported ok")
	}
}

func TestFitOptionsResolve(t *testing.T) {
	t.Parallel()

	chains, metric, jitter := 2, "dense", 0.5
	o := FitOptions{NumChains: &chains, Metric: &metric, StepsizeJitter: &jitter}
	sample, err := o.SampleOptions(9, "")
	if err != nil {
		t.Fatalf("SampleOptions: %v", err)
	}
	want := tinystan.DefaultSampleOptions()
	want.Seed = 9
	want.NumChains = 2
	want.Metric = hmc.DenseMetric
	want.StepsizeJitter = 0.5
	if sample.NumChains != want.NumChains || sample.Metric != want.Metric ||
		sample.StepsizeJitter != want.StepsizeJitter || sample.Seed != 9 || sample.NumWarmup != want.NumWarmup {
		t.Fatalf("SampleOptions = %+v", sample)
	}

	bad := "sparse"
	if _, err := (FitOptions{Metric: &bad}).SampleOptions(1, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("bad metric error = %v", err)
	}

	alg := "newton"
	opt, err := FitOptions{Optimizer: &alg}.OptimizeOptions(1, `{"theta": 0.1}`)
	if err != nil || opt.Algorithm != optimize.Newton || opt.Init != `{"theta": 0.1}` {
		t.Fatalf("OptimizeOptions = %+v, %v", opt, err)
	}

	lp := false
	pf := FitOptions{CalculateLP: &lp}.PathfinderOptions(3, "")
	if pf.CalculateLP || !pf.PSISResample || pf.Seed != 3 {
		t.Fatalf("PathfinderOptions = %+v", pf)
	}

	draws := 5
	la := FitOptions{NumDraws: &draws}.LaplaceOptions(4)
	if la.NumDraws != 5 || !la.Jacobian || la.Seed != 4 {
		t.Fatalf("LaplaceOptions = %+v", la)
	}
}

func TestCachedModelProvider(t *testing.T) {
	t.Parallel()

	p := NewCachedModelProvider(ModelProviderConfig{MaxCached: 1})
	defer p.Close()
	ctx := context.Background()

	var first, second *tinystan.Model
	if err := p.WithModel(ctx, "gaussian", `{"N": 2}`, 1, func(m *tinystan.Model) error { first = m; return nil }); err != nil {
		t.Fatalf("WithModel: %v", err)
	}
	if err := p.WithModel(ctx, "gaussian", `{"N": 2}`, 1, func(m *tinystan.Model) error { second = m; return nil }); err != nil {
		t.Fatalf("WithModel: %v", err)
	}
	if first != second {
		t.Fatalf("expected the cached model to be reused")
	}

	// The cache is full, so this model is compiled per call and closed after.
	var uncached *tinystan.Model
	if err := p.WithModel(ctx, "gaussian", `{"N": 3}`, 1, func(m *tinystan.Model) error { uncached = m; return nil }); err != nil {
		t.Fatalf("WithModel: %v", err)
	}
	if _, err := uncached.LogDensity([]float64{0, 0, 0}, false); !errors.Is(err, tinystan.ErrInvalidArgument) {
		t.Fatalf("uncached model should be closed, got %v", err)
	}

	if err := p.WithModel(ctx, "nope", "", 1, func(*tinystan.Model) error { return nil }); err == nil {
		t.Fatalf("expected unknown model error")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := p.WithModel(cancelled, "gaussian", `{"N": 2}`, 1, func(*tinystan.Model) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled context error = %v", err)
	}
}
