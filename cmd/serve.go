package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/lepinkainen/coverfinder/internal/config"
	"github.com/lepinkainen/coverfinder/internal/resolver"
	"github.com/lepinkainen/coverfinder/internal/server"
)

// ServeCmd runs the HTTP API until interrupted.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides server.addr)"`
}

func (s *ServeCmd) Run(ctx context.Context) error {
	if s.Addr != "" {
		viper.Set("server.addr", s.Addr)
	}
	cfg := config.Load()

	p, err := openCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Warn("Failed to save cache on shutdown", "error", err)
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		p.Store.Run(sweepCtx)
	}()
	defer func() {
		stopSweep()
		<-sweepDone
	}()

	res := buildResolver(ctx, cfg, p.Store)
	srv := server.New(res, p.Store, cfg.Server, batchOptions(cfg.Resolver))
	return srv.Run(ctx)
}

func batchOptions(cfg config.ResolverConfig) resolver.BatchOptions {
	return resolver.BatchOptions{
		Concurrency: cfg.Concurrency,
		BatchSize:   cfg.BatchSize,
		Cooldown:    cfg.Cooldown,
	}
}
