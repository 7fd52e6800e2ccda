package tinystan

import (
	"runtime"

	"github.com/WardBrian/tinystan/pkg/hmc"
	"github.com/WardBrian/tinystan/pkg/optimize"
)

// SampleOptions configures Sample.
type SampleOptions struct {
	NumChains int
	// Inits is a JSON document, a path to a .json file, or NumChains such
	// values joined by Separator. Empty means random inits.
	Inits      string
	Seed       uint32
	ID         uint32
	InitRadius float64
	NumWarmup  int
	NumSamples int
	Metric     hmc.MetricKind
	// InitInvMetric is either one metric shared by every chain or one per
	// chain, stacked. A diagonal metric has N values, a dense one N*N
	// (row-major). Nil starts from the identity.
	InitInvMetric  []float64
	SaveInvMetric  bool
	Adapt          bool
	Delta          float64
	Gamma          float64
	Kappa          float64
	T0             float64
	InitBuffer     int
	TermBuffer     int
	Window         int
	SaveWarmup     bool
	Stepsize       float64
	StepsizeJitter float64
	MaxDepth       int
	Refresh        int
	NumThreads     int
}

func DefaultSampleOptions() SampleOptions {
	return SampleOptions{
		NumChains:  4,
		ID:         1,
		InitRadius: 2,
		NumWarmup:  1000,
		NumSamples: 1000,
		Metric:     hmc.DiagMetric,
		Adapt:      true,
		Delta:      0.8,
		Gamma:      0.05,
		Kappa:      0.75,
		T0:         10,
		InitBuffer: 75,
		TermBuffer: 50,
		Window:     25,
		Stepsize:   1,
		MaxDepth:   10,
		NumThreads: -1,
	}
}

func (o SampleOptions) validate() error {
	switch {
	case o.NumChains < 1:
		return invalidArgument("num_chains must be at least 1")
	case o.NumWarmup < 0:
		return invalidArgument("num_warmup must be non-negative")
	case o.NumSamples < 1:
		return invalidArgument("num_samples must be at least 1")
	}
	if err := checkRun(o.ID, o.InitRadius); err != nil {
		return err
	}
	if o.Adapt {
		if !(o.Delta > 0 && o.Delta < 1) {
			return invalidArgument("delta must be between 0 and 1")
		}
		if err := firstNonPositive(
			named{"gamma", o.Gamma}, named{"kappa", o.Kappa}, named{"t0", o.T0},
		); err != nil {
			return err
		}
		switch {
		case o.InitBuffer < 0:
			return invalidArgument("init_buffer must be non-negative")
		case o.TermBuffer < 0:
			return invalidArgument("term_buffer must be non-negative")
		case o.Window < 0:
			return invalidArgument("window must be non-negative")
		}
	}
	switch {
	case !(o.Stepsize > 0):
		return invalidArgument("stepsize must be positive")
	case !(o.StepsizeJitter >= 0 && o.StepsizeJitter <= 1):
		return invalidArgument("stepsize_jitter must be between 0 and 1")
	case o.MaxDepth < 1:
		return invalidArgument("max_depth must be positive")
	}
	return checkRefreshThreads(o.Refresh, o.NumThreads)
}

// PathfinderOptions configures Pathfinder.
type PathfinderOptions struct {
	NumPaths int
	// Inits follows SampleOptions.Inits with one document per path.
	Inits          string
	Seed           uint32
	ID             uint32
	InitRadius     float64
	NumDraws       int
	MaxHistorySize int
	InitAlpha      float64
	TolObj         float64
	TolRelObj      float64
	TolGrad        float64
	TolRelGrad     float64
	TolParam       float64
	NumIterations  int
	NumElboDraws   int
	NumMultiDraws  int
	CalculateLP    bool
	// PSISResample has no effect unless CalculateLP is set.
	PSISResample bool
	Refresh      int
	NumThreads   int
}

func DefaultPathfinderOptions() PathfinderOptions {
	return PathfinderOptions{
		NumPaths:       4,
		ID:             1,
		InitRadius:     2,
		NumDraws:       1000,
		MaxHistorySize: 5,
		InitAlpha:      0.001,
		TolObj:         1e-12,
		TolRelObj:      1e4,
		TolGrad:        1e-8,
		TolRelGrad:     1e7,
		TolParam:       1e-8,
		NumIterations:  1000,
		NumElboDraws:   25,
		NumMultiDraws:  1000,
		CalculateLP:    true,
		PSISResample:   true,
		NumThreads:     -1,
	}
}

func (o PathfinderOptions) validate() error {
	switch {
	case o.NumPaths < 1:
		return invalidArgument("num_paths must be at least 1")
	case o.NumDraws < 1:
		return invalidArgument("num_draws must be at least 1")
	}
	if err := checkRun(o.ID, o.InitRadius); err != nil {
		return err
	}
	if o.MaxHistorySize < 1 {
		return invalidArgument("max_history_size must be positive")
	}
	if err := checkTolerances(o.InitAlpha, o.TolObj, o.TolRelObj, o.TolGrad, o.TolRelGrad, o.TolParam); err != nil {
		return err
	}
	switch {
	case o.NumIterations < 1:
		return invalidArgument("num_iterations must be positive")
	case o.NumElboDraws < 1:
		return invalidArgument("num_elbo_draws must be positive")
	case o.NumMultiDraws < 1:
		return invalidArgument("num_multi_draws must be at least 1")
	}
	return checkRefreshThreads(o.Refresh, o.NumThreads)
}

// OptimizeOptions configures Optimize.
type OptimizeOptions struct {
	// Init is a single JSON document or path. Empty means random inits.
	Init       string
	Seed       uint32
	ID         uint32
	InitRadius float64
	Algorithm  optimize.Algorithm
	// Jacobian includes the log Jacobian of the constraining transform,
	// giving the MAP estimate on the unconstrained scale.
	Jacobian      bool
	NumIterations int
	// The remaining tuning parameters are checked and used only by the
	// quasi-Newton algorithms. MaxHistorySize is L-BFGS only.
	MaxHistorySize int
	InitAlpha      float64
	TolObj         float64
	TolRelObj      float64
	TolGrad        float64
	TolRelGrad     float64
	TolParam       float64
	Refresh        int
	NumThreads     int
}

func DefaultOptimizeOptions() OptimizeOptions {
	return OptimizeOptions{
		ID:             1,
		InitRadius:     2,
		Algorithm:      optimize.LBFGS,
		NumIterations:  2000,
		MaxHistorySize: 5,
		InitAlpha:      0.001,
		TolObj:         1e-12,
		TolRelObj:      1e4,
		TolGrad:        1e-8,
		TolRelGrad:     1e7,
		TolParam:       1e-8,
		NumThreads:     -1,
	}
}

func (o OptimizeOptions) validate() error {
	if o.ID == 0 {
		return invalidArgument("id must be positive")
	}
	if o.NumIterations < 1 {
		return invalidArgument("num_iterations must be positive")
	}
	if !(o.InitRadius >= 0) {
		return invalidArgument("init_radius must be non-negative")
	}
	switch o.Algorithm {
	case optimize.Newton:
	case optimize.LBFGS:
		if o.MaxHistorySize < 1 {
			return invalidArgument("max_history_size must be positive")
		}
		fallthrough
	case optimize.BFGS:
		if err := checkTolerances(o.InitAlpha, o.TolObj, o.TolRelObj, o.TolGrad, o.TolRelGrad, o.TolParam); err != nil {
			return err
		}
	default:
		return invalidArgument("unknown optimization algorithm %d", int(o.Algorithm))
	}
	return checkRefreshThreads(o.Refresh, o.NumThreads)
}

// LaplaceOptions configures LaplaceSample.
type LaplaceOptions struct {
	Seed        uint32
	NumDraws    int
	Jacobian    bool
	CalculateLP bool
	SaveHessian bool
	Refresh     int
	NumThreads  int
}

func DefaultLaplaceOptions() LaplaceOptions {
	return LaplaceOptions{
		NumDraws:    1000,
		Jacobian:    true,
		CalculateLP: true,
		NumThreads:  -1,
	}
}

func (o LaplaceOptions) validate() error {
	if o.NumDraws < 1 {
		return invalidArgument("num_draws must be at least 1")
	}
	return checkRefreshThreads(o.Refresh, o.NumThreads)
}

type named struct {
	name string
	v    float64
}

func firstNonPositive(vs ...named) error {
	for _, v := range vs {
		if !(v.v > 0) {
			return invalidArgument("%s must be positive", v.name)
		}
	}
	return nil
}

func checkRun(id uint32, initRadius float64) error {
	if id == 0 {
		return invalidArgument("id must be positive")
	}
	if !(initRadius >= 0) {
		return invalidArgument("init_radius must be non-negative")
	}
	return nil
}

func checkTolerances(initAlpha, tolObj, tolRelObj, tolGrad, tolRelGrad, tolParam float64) error {
	return firstNonPositive(
		named{"init_alpha", initAlpha},
		named{"tol_obj", tolObj},
		named{"tol_rel_obj", tolRelObj},
		named{"tol_grad", tolGrad},
		named{"tol_rel_grad", tolRelGrad},
		named{"tol_param", tolParam},
	)
}

func checkRefreshThreads(refresh, threads int) error {
	if refresh < 0 {
		return invalidArgument("refresh must be non-negative")
	}
	if threads < 1 && threads != -1 {
		return invalidArgument("num_threads must be positive or -1")
	}
	return nil
}

// workers resolves a num_threads setting, -1 meaning every available CPU.
func workers(threads int) int {
	if threads < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return threads
}
