package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the tinystan configuration file
// (~/.config/tinystan/config.yaml). All fields are pointers so we can
// distinguish "not set" from zero values.
type Config struct {
	Seed    *int64 `yaml:"seed"`
	Threads *int   `yaml:"threads"`
	Refresh *int   `yaml:"refresh"`

	Sample struct {
		NumChains  *int     `yaml:"num_chains"`
		NumWarmup  *int     `yaml:"num_warmup"`
		NumSamples *int     `yaml:"num_samples"`
		Metric     *string  `yaml:"metric"`
		Delta      *float64 `yaml:"delta"`
		MaxDepth   *int     `yaml:"max_depth"`
	} `yaml:"sample"`

	Pathfinder struct {
		NumPaths *int `yaml:"num_paths"`
		NumDraws *int `yaml:"num_draws"`
	} `yaml:"pathfinder"`

	Optimize struct {
		Algorithm  *string `yaml:"algorithm"`
		Iterations *int    `yaml:"iterations"`
		Jacobian   *bool   `yaml:"jacobian"`
	} `yaml:"optimize"`

	Laplace struct {
		NumDraws *int `yaml:"num_draws"`
	} `yaml:"laplace"`

	Serve struct {
		Address   *string `yaml:"address"`
		MaxCached *int    `yaml:"max_cached"`
	} `yaml:"serve"`

	Output struct {
		Dir    *string `yaml:"dir"`
		Format *string `yaml:"format"`
	} `yaml:"output"`

	Log struct {
		Level  *string `yaml:"level"`
		Format *string `yaml:"format"`
	} `yaml:"log"`
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tinystan", "config.yaml")
}

// LoadConfig reads the config file. A missing default file gives a zero
// Config; a file named with --config must exist and parse.
func LoadConfig() (Config, error) {
	var cfg Config
	path := configPath()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && configFile == "" {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// apply copies v into dst when the flag was not given on the command line.
func apply[T any](c *cli.Command, flag string, dst *T, v *T) {
	if v != nil && !c.IsSet(flag) {
		*dst = *v
	}
}

// applyLogConfig runs before the logger is built.
func applyLogConfig(c *cli.Command, cfg Config) {
	apply(c, "log-level", &logLevel, cfg.Log.Level)
	apply(c, "log-format", &logFormat, cfg.Log.Format)
}

// applyRunConfig applies the settings shared by every algorithm.
func applyRunConfig(c *cli.Command, cfg Config) {
	apply(c, "seed", &seedFlag, cfg.Seed)
	apply(c, "threads", &numThreads, cfg.Threads)
	apply(c, "refresh", &refresh, cfg.Refresh)
}
