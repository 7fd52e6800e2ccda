package main

import "github.com/urfave/cli/v3"

var (
	modelName  string
	dataPath   string
	initDocs   []string
	seedFlag   int64
	runID      int64
	initRadius float64
	outPath    string
	refresh    int
	numThreads int
	logLevel   string
	logFormat  string
	debug      bool
	configFile string
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "catalog model name (see tinystan models)",
			Required:    true,
			Destination: &modelName,
		},
		&cli.StringFlag{
			Name:        "data",
			Aliases:     []string{"d"},
			Usage:       "model data as JSON text or a path to a .json file",
			Destination: &dataPath,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "random seed (-1 picks one from the clock)",
			Value:       -1,
			Destination: &seedFlag,
		},
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "output file (.csv or .json); defaults to $TINYSTAN_OUT_DIR or ./out",
			Destination: &outPath,
		},
		&cli.IntFlag{
			Name:        "refresh",
			Usage:       "log progress every N iterations (0 disables)",
			Destination: &refresh,
		},
		&cli.IntFlag{
			Name:        "threads",
			Aliases:     []string{"j"},
			Usage:       "worker threads (-1 uses every CPU)",
			Value:       -1,
			Destination: &numThreads,
		},
	}
}

// initFlags are shared by the algorithms that start from random or user
// supplied points.
func initFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "init",
			Usage:       "initial values as JSON text or a .json path; repeat once per chain or path",
			Destination: &initDocs,
		},
		&cli.Int64Flag{
			Name:        "id",
			Usage:       "chain or path id, used to derive random streams",
			Value:       1,
			Destination: &runID,
		},
		&cli.Float64Flag{
			Name:        "init-radius",
			Usage:       "random inits are drawn uniformly from (-r, r) on the unconstrained scale",
			Value:       2,
			Destination: &initRadius,
		},
	}
}

// lbfgsFlags binds the quasi-Newton tuning parameters shared by pathfinder
// and optimize.
func lbfgsFlags(history *int, alpha, tolObj, tolRelObj, tolGrad, tolRelGrad, tolParam *float64, iters *int) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "max-history", Usage: "L-BFGS history size", Value: *history, Destination: history},
		&cli.Float64Flag{Name: "init-alpha", Usage: "first line search step", Value: *alpha, Destination: alpha},
		&cli.Float64Flag{Name: "tol-obj", Usage: "absolute objective tolerance", Value: *tolObj, Destination: tolObj},
		&cli.Float64Flag{Name: "tol-rel-obj", Usage: "relative objective tolerance", Value: *tolRelObj, Destination: tolRelObj},
		&cli.Float64Flag{Name: "tol-grad", Usage: "absolute gradient tolerance", Value: *tolGrad, Destination: tolGrad},
		&cli.Float64Flag{Name: "tol-rel-grad", Usage: "relative gradient tolerance", Value: *tolRelGrad, Destination: tolRelGrad},
		&cli.Float64Flag{Name: "tol-param", Usage: "parameter change tolerance", Value: *tolParam, Destination: tolParam},
		&cli.IntFlag{Name: "iterations", Usage: "maximum iterations", Value: *iters, Destination: iters},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text, auto)",
			Value:       "auto",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml",
			Destination: &configFile,
		},
	}
}

func flagGroups(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// runSeed resolves --seed, drawing from the clock when it is negative.
func runSeed() uint32 {
	if seedFlag < 0 {
		return clockSeed()
	}
	return uint32(seedFlag)
}

func runIDValue() uint32 { return uint32(runID) }

func joinedInits() string { return joinInitDocs(initDocs) }

// setCommon copies the shared run flags into an engine options struct.
func setCommon(seed, id *uint32, r, threads *int) {
	*seed = runSeed()
	if id != nil {
		*id = runIDValue()
	}
	*r = refresh
	*threads = numThreads
}
