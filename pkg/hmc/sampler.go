package hmc

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/WardBrian/tinystan/internal/logger"
)

// DiagnosticNames are the per-draw sampler diagnostics in output order.
var DiagnosticNames = []string{
	"lp__", "accept_stat__", "stepsize__", "treedepth__",
	"n_leapfrog__", "divergent__", "energy__",
}

// Config controls one chain's warmup and sampling.
type Config struct {
	NumWarmup      int
	NumSamples     int
	SaveWarmup     bool
	Adapt          bool
	Delta          float64
	Gamma          float64
	Kappa          float64
	T0             float64
	InitBuffer     int
	TermBuffer     int
	Window         int
	Stepsize       float64
	StepsizeJitter float64
	MaxDepth       int
	Refresh        int
}

// DrawFunc receives each saved iteration: the transition statistics and
// the unconstrained position. q is only valid for the duration of the call.
type DrawFunc func(t Transition, q []float64) error

// Result carries the adapted tuning parameters of a finished chain.
type Result struct {
	Stepsize float64
	Metric   Metric
}

// Sampler drives a single chain.
type Sampler struct {
	cfg  Config
	nuts *NUTS
	log  logger.Logger
}

// NewSampler positions a chain at q0 with the given starting metric.
func NewSampler(target Target, metric Metric, r *rand.Rand, q0 []float64, cfg Config, log logger.Logger) (*Sampler, error) {
	if log == nil {
		log = logger.Nop()
	}
	nuts, err := NewNUTS(target, metric, r, q0, cfg.Stepsize, cfg.StepsizeJitter, cfg.MaxDepth)
	if err != nil {
		return nil, err
	}
	return &Sampler{cfg: cfg, nuts: nuts, log: log}, nil
}

// Run performs warmup followed by sampling, calling draw for every saved
// iteration. It stops with ctx.Err() when ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, draw DrawFunc) (Result, error) {
	cfg := s.cfg
	progress := logger.NewProgress(s.log, cfg.Refresh, cfg.NumWarmup, cfg.NumWarmup+cfg.NumSamples)

	var (
		da      *DualAveraging
		windows *Windows
		est     estimator
	)
	if cfg.Adapt {
		da = NewDualAveraging(cfg.Delta, cfg.Gamma, cfg.Kappa, cfg.T0)
		da.SetMu(math.Log(10 * cfg.Stepsize))
		da.Restart()
		if s.nuts.Metric().Kind() != UnitMetric {
			var warns []string
			windows, warns = NewWindows(cfg.NumWarmup, cfg.InitBuffer, cfg.TermBuffer, cfg.Window)
			for _, w := range warns {
				s.log.Warn(w)
			}
			est = newEstimator(s.nuts.Metric().Kind(), s.nuts.Metric().Dim())
			est.reset()
		}
		if err := s.nuts.InitStepsize(); err != nil {
			return Result{}, err
		}
	}

	for i := 0; i < cfg.NumWarmup; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		t := s.nuts.Transition()
		if cfg.Adapt {
			s.nuts.SetStepsize(da.Learn(t.AcceptStat))
			if windows != nil {
				updated, err := s.learnMetric(windows, est)
				if err != nil {
					return Result{}, err
				}
				if updated {
					if err := s.nuts.InitStepsize(); err != nil {
						return Result{}, err
					}
					da.SetMu(math.Log(10 * s.nuts.Stepsize()))
					da.Restart()
				}
			}
		}
		if cfg.SaveWarmup {
			if err := draw(t, s.nuts.Position()); err != nil {
				return Result{}, err
			}
		}
		progress.Report(i)
	}

	if cfg.Adapt && cfg.NumWarmup > 0 {
		s.nuts.SetStepsize(da.Complete())
		s.log.Debug("adaptation finished", "stepsize", s.nuts.Stepsize())
	}

	for i := 0; i < cfg.NumSamples; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		t := s.nuts.Transition()
		if err := draw(t, s.nuts.Position()); err != nil {
			return Result{}, err
		}
		progress.Report(cfg.NumWarmup + i)
	}

	return Result{Stepsize: s.nuts.Stepsize(), Metric: s.nuts.Metric()}, nil
}

func (s *Sampler) learnMetric(w *Windows, est estimator) (bool, error) {
	defer w.Advance()
	if w.InWindow() {
		est.add(s.nuts.Position())
	}
	if !w.EndOfWindow() {
		return false, nil
	}
	w.NextWindow()
	m, err := est.estimate()
	if err != nil {
		return false, err
	}
	est.reset()
	s.nuts.SetMetric(m)
	s.log.Debug("metric updated", "kind", m.Kind().String())
	return true, nil
}

// WriteDiagnostics fills the first len(DiagnosticNames) entries of row.
func WriteDiagnostics(row []float64, t Transition) {
	if len(row) < len(DiagnosticNames) {
		panic(fmt.Sprintf("hmc: row has %d entries, need %d", len(row), len(DiagnosticNames)))
	}
	row[0] = t.LogDensity
	row[1] = t.AcceptStat
	row[2] = t.Stepsize
	row[3] = float64(t.TreeDepth)
	row[4] = float64(t.NumLeapfrog)
	row[5] = 0
	if t.Divergent {
		row[5] = 1
	}
	row[6] = t.Energy
}
