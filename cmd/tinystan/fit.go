package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/WardBrian/tinystan/internal/catalog"
	"github.com/WardBrian/tinystan/internal/logger"
	"github.com/WardBrian/tinystan/pkg/hmc"
	"github.com/WardBrian/tinystan/pkg/optimize"
	"github.com/WardBrian/tinystan/pkg/tinystan"
)

func sampleCmd() *cli.Command {
	opts := tinystan.DefaultSampleOptions()
	var metric, invMetric string

	return &cli.Command{
		Name:  "sample",
		Usage: "Draw posterior samples with adaptive NUTS",
		Flags: flagGroups(commonModelFlags(), initFlags(), []cli.Flag{
			&cli.IntFlag{Name: "chains", Usage: "number of chains", Value: opts.NumChains, Destination: &opts.NumChains},
			&cli.IntFlag{Name: "warmup", Usage: "warmup iterations per chain", Value: opts.NumWarmup, Destination: &opts.NumWarmup},
			&cli.IntFlag{Name: "samples", Usage: "draws kept per chain", Value: opts.NumSamples, Destination: &opts.NumSamples},
			&cli.StringFlag{Name: "metric", Usage: "metric (unit, diagonal, dense)", Value: "diagonal", Destination: &metric},
			&cli.StringFlag{Name: "inv-metric", Usage: "comma separated initial inverse metric", Destination: &invMetric},
			&cli.BoolFlag{Name: "save-inv-metric", Usage: "keep the adapted inverse metric", Destination: &opts.SaveInvMetric},
			&cli.BoolFlag{Name: "adapt", Usage: "adapt step size and metric during warmup", Value: opts.Adapt, Destination: &opts.Adapt},
			&cli.Float64Flag{Name: "delta", Usage: "target acceptance rate", Value: opts.Delta, Destination: &opts.Delta},
			&cli.Float64Flag{Name: "gamma", Usage: "dual averaging regularization", Value: opts.Gamma, Destination: &opts.Gamma},
			&cli.Float64Flag{Name: "kappa", Usage: "dual averaging relaxation exponent", Value: opts.Kappa, Destination: &opts.Kappa},
			&cli.Float64Flag{Name: "t0", Usage: "dual averaging iteration offset", Value: opts.T0, Destination: &opts.T0},
			&cli.IntFlag{Name: "init-buffer", Usage: "fast adaptation iterations at the start of warmup", Value: opts.InitBuffer, Destination: &opts.InitBuffer},
			&cli.IntFlag{Name: "term-buffer", Usage: "fast adaptation iterations at the end of warmup", Value: opts.TermBuffer, Destination: &opts.TermBuffer},
			&cli.IntFlag{Name: "window", Usage: "first slow adaptation window", Value: opts.Window, Destination: &opts.Window},
			&cli.BoolFlag{Name: "save-warmup", Usage: "include warmup draws in the output", Destination: &opts.SaveWarmup},
			&cli.Float64Flag{Name: "stepsize", Usage: "initial step size", Value: opts.Stepsize, Destination: &opts.Stepsize},
			&cli.Float64Flag{Name: "stepsize-jitter", Usage: "uniform step size jitter in [0, 1]", Destination: &opts.StepsizeJitter},
			&cli.IntFlag{Name: "max-depth", Usage: "maximum tree depth", Value: opts.MaxDepth, Destination: &opts.MaxDepth},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFrom(ctx)
			applyRunConfig(cmd, cfg)
			apply(cmd, "chains", &opts.NumChains, cfg.Sample.NumChains)
			apply(cmd, "warmup", &opts.NumWarmup, cfg.Sample.NumWarmup)
			apply(cmd, "samples", &opts.NumSamples, cfg.Sample.NumSamples)
			apply(cmd, "metric", &metric, cfg.Sample.Metric)
			apply(cmd, "delta", &opts.Delta, cfg.Sample.Delta)
			apply(cmd, "max-depth", &opts.MaxDepth, cfg.Sample.MaxDepth)

			setCommon(&opts.Seed, &opts.ID, &opts.Refresh, &opts.NumThreads)
			opts.InitRadius = initRadius
			opts.Inits = joinedInits()
			kind, err := hmc.ParseMetricKind(metric)
			if err != nil {
				return usagef("--metric: %v", err)
			}
			opts.Metric = kind
			if opts.InitInvMetric, err = parseFloats("--inv-metric", invMetric); err != nil {
				return err
			}
			return runFit(ctx, tinystan.AlgorithmSample, opts.Seed, func(m *tinystan.Model) (*tinystan.Output, error) {
				return m.Sample(ctx, opts)
			})
		},
	}
}

func pathfinderCmd() *cli.Command {
	opts := tinystan.DefaultPathfinderOptions()

	return &cli.Command{
		Name:  "pathfinder",
		Usage: "Approximate the posterior with multi-path Pathfinder",
		Flags: flagGroups(commonModelFlags(), initFlags(),
			lbfgsFlags(&opts.MaxHistorySize, &opts.InitAlpha, &opts.TolObj, &opts.TolRelObj,
				&opts.TolGrad, &opts.TolRelGrad, &opts.TolParam, &opts.NumIterations),
			[]cli.Flag{
				&cli.IntFlag{Name: "paths", Usage: "number of single-path runs", Value: opts.NumPaths, Destination: &opts.NumPaths},
				&cli.IntFlag{Name: "draws", Usage: "draws per path", Value: opts.NumDraws, Destination: &opts.NumDraws},
				&cli.IntFlag{Name: "elbo-draws", Usage: "draws used to estimate each ELBO", Value: opts.NumElboDraws, Destination: &opts.NumElboDraws},
				&cli.IntFlag{Name: "multi-draws", Usage: "draws kept after importance resampling", Value: opts.NumMultiDraws, Destination: &opts.NumMultiDraws},
				&cli.BoolFlag{Name: "calculate-lp", Usage: "evaluate the log density of every draw", Value: opts.CalculateLP, Destination: &opts.CalculateLP},
				&cli.BoolFlag{Name: "psis-resample", Usage: "resample draws with Pareto smoothed importance weights", Value: opts.PSISResample, Destination: &opts.PSISResample},
			}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFrom(ctx)
			applyRunConfig(cmd, cfg)
			apply(cmd, "paths", &opts.NumPaths, cfg.Pathfinder.NumPaths)
			apply(cmd, "draws", &opts.NumDraws, cfg.Pathfinder.NumDraws)

			setCommon(&opts.Seed, &opts.ID, &opts.Refresh, &opts.NumThreads)
			opts.InitRadius = initRadius
			opts.Inits = joinedInits()
			return runFit(ctx, tinystan.AlgorithmPathfinder, opts.Seed, func(m *tinystan.Model) (*tinystan.Output, error) {
				return m.Pathfinder(ctx, opts)
			})
		},
	}
}

func optimizeCmd() *cli.Command {
	opts := tinystan.DefaultOptimizeOptions()
	algorithm := opts.Algorithm.String()

	return &cli.Command{
		Name:  "optimize",
		Usage: "Find a posterior mode or maximum likelihood estimate",
		Flags: flagGroups(commonModelFlags(), initFlags(),
			lbfgsFlags(&opts.MaxHistorySize, &opts.InitAlpha, &opts.TolObj, &opts.TolRelObj,
				&opts.TolGrad, &opts.TolRelGrad, &opts.TolParam, &opts.NumIterations),
			[]cli.Flag{
				&cli.StringFlag{Name: "algorithm", Aliases: []string{"a"}, Usage: "newton, bfgs or lbfgs", Value: algorithm, Destination: &algorithm},
				&cli.BoolFlag{Name: "jacobian", Usage: "include the Jacobian adjustment (MAP on the unconstrained scale)", Destination: &opts.Jacobian},
			}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFrom(ctx)
			applyRunConfig(cmd, cfg)
			apply(cmd, "algorithm", &algorithm, cfg.Optimize.Algorithm)
			apply(cmd, "iterations", &opts.NumIterations, cfg.Optimize.Iterations)
			apply(cmd, "jacobian", &opts.Jacobian, cfg.Optimize.Jacobian)

			if len(initDocs) > 1 {
				return usagef("optimize takes at most one --init")
			}
			setCommon(&opts.Seed, &opts.ID, &opts.Refresh, &opts.NumThreads)
			opts.InitRadius = initRadius
			opts.Init = joinedInits()
			alg, err := optimize.ParseAlgorithm(algorithm)
			if err != nil {
				return usagef("--algorithm: %v", err)
			}
			opts.Algorithm = alg
			return runFit(ctx, tinystan.AlgorithmOptimize, opts.Seed, func(m *tinystan.Model) (*tinystan.Output, error) {
				return m.Optimize(ctx, opts)
			})
		},
	}
}

func laplaceCmd() *cli.Command {
	opts := tinystan.DefaultLaplaceOptions()
	var modeJSON, modeFit, modeValues string

	return &cli.Command{
		Name:  "laplace",
		Usage: "Sample from a normal approximation at a mode",
		Flags: flagGroups(commonModelFlags(), []cli.Flag{
			&cli.StringFlag{Name: "mode", Usage: "constrained mode as JSON text or a .json path", Destination: &modeJSON},
			&cli.StringFlag{Name: "mode-fit", Usage: "JSON output file written by optimize --out x.json", Destination: &modeFit},
			&cli.StringFlag{Name: "mode-values", Usage: "comma separated constrained mode values", Destination: &modeValues},
			&cli.IntFlag{Name: "draws", Usage: "number of draws", Value: opts.NumDraws, Destination: &opts.NumDraws},
			&cli.BoolFlag{Name: "jacobian", Usage: "the mode was found with the Jacobian adjustment", Value: opts.Jacobian, Destination: &opts.Jacobian},
			&cli.BoolFlag{Name: "calculate-lp", Usage: "evaluate the log density of every draw", Value: opts.CalculateLP, Destination: &opts.CalculateLP},
			&cli.BoolFlag{Name: "save-hessian", Usage: "keep the Hessian at the mode (JSON output only)", Destination: &opts.SaveHessian},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFrom(ctx)
			applyRunConfig(cmd, cfg)
			apply(cmd, "draws", &opts.NumDraws, cfg.Laplace.NumDraws)

			mode, err := laplaceMode(modeJSON, modeFit, modeValues)
			if err != nil {
				return err
			}
			setCommon(&opts.Seed, nil, &opts.Refresh, &opts.NumThreads)
			return runFit(ctx, tinystan.AlgorithmLaplace, opts.Seed, func(m *tinystan.Model) (*tinystan.Output, error) {
				return m.LaplaceSample(ctx, mode, opts)
			})
		},
	}
}

// laplaceMode builds the mode from whichever of the three flags is set.
func laplaceMode(modeJSON, modeFit, modeValues string) (tinystan.Mode, error) {
	given := 0
	for _, s := range []string{modeJSON, modeFit, modeValues} {
		if strings.TrimSpace(s) != "" {
			given++
		}
	}
	if given != 1 {
		return tinystan.Mode{}, usagef("laplace needs exactly one of --mode, --mode-fit or --mode-values")
	}
	switch {
	case modeFit != "":
		out, err := readOutput(modeFit)
		if err != nil {
			return tinystan.Mode{}, usagef("--mode-fit: %v", err)
		}
		return tinystan.ModeOutput(out), nil
	case modeValues != "":
		values, err := parseFloats("--mode-values", modeValues)
		if err != nil {
			return tinystan.Mode{}, err
		}
		return tinystan.ModeValues(values), nil
	default:
		return tinystan.ModeJSON(modeJSON), nil
	}
}

// runFit compiles the selected catalog model, runs fn and writes its
// output.
func runFit(ctx context.Context, alg tinystan.Algorithm, seed uint32, fn func(*tinystan.Model) (*tinystan.Output, error)) error {
	entry, err := catalog.Lookup(modelName)
	if err != nil {
		return err
	}
	cfg := configFrom(ctx)
	var dir string
	if cfg.Output.Dir != nil {
		dir = *cfg.Output.Dir
	}
	ext := "csv"
	if cfg.Output.Format != nil {
		ext = strings.ToLower(*cfg.Output.Format)
	}
	path, defaulted, err := resolveOut(outPath, dir, entry.Name, alg, ext)
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx).With("model", entry.Name, "algorithm", string(alg))
	data := dataPath
	if strings.TrimSpace(data) == "" && entry.Example != "" {
		log.Info("no --data given, using the catalog example")
		data = entry.Example
	}

	var out *tinystan.Output
	err = tinystan.WithModel(entry.Definition, data, seed, func(m *tinystan.Model) error {
		log.Info("fit started", "seed", seed, "params", m.NumFreeParams())
		var err error
		out, err = fn(m)
		return err
	}, tinystan.WithLogger(log))
	if err != nil {
		return err
	}
	if err := writeOutput(path, out); err != nil {
		return err
	}
	log.Info("fit completed", "rows", out.Rows(), "out", path, "defaulted", defaulted)
	return nil
}

func parseFloats(flag, s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, usagef("%s: %q is not a number", flag, p)
		}
		out[i] = v
	}
	return out, nil
}
