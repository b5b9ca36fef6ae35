// Package server exposes cover resolution over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lepinkainen/coverfinder/internal/cache"
	"github.com/lepinkainen/coverfinder/internal/config"
	"github.com/lepinkainen/coverfinder/internal/cover"
	"github.com/lepinkainen/coverfinder/internal/resolver"
)

// CoverResolver is the part of resolver.Resolver the HTTP layer needs.
type CoverResolver interface {
	Resolve(ctx context.Context, q cover.BookQuery, mode cover.AccuracyMode) (cover.Resolution, error)
	ResolveBatch(ctx context.Context, items []cover.BookQuery, mode cover.AccuracyMode, opts resolver.BatchOptions) []resolver.BatchResult
}

// Compile-time check that the resolver satisfies CoverResolver.
var _ CoverResolver = (*resolver.Resolver)(nil)

// Server holds the router and its dependencies.
type Server struct {
	resolver CoverResolver
	store    *cache.ResultStore
	cfg      config.ServerConfig
	batch    resolver.BatchOptions
	engine   *gin.Engine
}

// New builds the router. store may be nil, in which case the cache
// endpoints answer 503.
func New(res CoverResolver, store *cache.ResultStore, cfg config.ServerConfig, batch resolver.BatchOptions) *Server {
	if cfg.MaxBatchItems <= 0 {
		cfg.MaxBatchItems = 200
	}
	s := &Server{
		resolver: res,
		store:    store,
		cfg:      cfg,
		batch:    batch,
	}

	r := gin.New()
	r.Use(requestID(), accessLog(), gin.Recovery())

	r.GET("/health", s.health)

	api := r.Group("/api")
	{
		api.POST("/book-cover", s.resolveCover)
		api.POST("/book-covers", s.resolveCovers)
		api.GET("/cache/stats", s.cacheStats)
		api.DELETE("/cache/tags/:tag", s.clearCacheTag)
	}

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("Shutting down HTTP server", "timeout", timeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
