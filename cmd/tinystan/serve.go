package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/WardBrian/tinystan/internal/api"
	"github.com/WardBrian/tinystan/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxCached   int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the fit REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.IntFlag{
				Name:        "max-cached",
				Usage:       "compiled models kept between requests (0 disables caching)",
				Value:       16,
				Destination: &maxCached,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFrom(ctx)
			apply(cmd, "addr", &addr, cfg.Serve.Address)
			apply(cmd, "max-cached", &maxCached, cfg.Serve.MaxCached)
			if maxCached < 0 {
				return usagef("--max-cached must be non-negative")
			}

			provider := api.NewCachedModelProvider(api.ModelProviderConfig{
				MaxCached: maxCached,
				Log:       log,
			})
			defer provider.Close()
			server := api.NewServer(api.NewFitStore(), api.NewFitService(provider), log)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "max_cached", maxCached)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
