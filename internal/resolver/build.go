package resolver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/lepinkainen/coverfinder/internal/cache"
	"github.com/lepinkainen/coverfinder/internal/config"
	"github.com/lepinkainen/coverfinder/internal/imageprobe"
	"github.com/lepinkainen/coverfinder/internal/providers"
	"github.com/lepinkainen/coverfinder/internal/scoring"
	"github.com/lepinkainen/coverfinder/internal/strategy"
	"github.com/lepinkainen/coverfinder/internal/verify"
	"github.com/lepinkainen/coverfinder/internal/vision"
)

// NewProviders builds the provider set in declaration order from config.
// ISBNdb and the browser fallback are only registered when configured.
func NewProviders(cfg config.ProvidersConfig, client *http.Client) *providers.Set {
	prober := imageprobe.New(client)
	common := []providers.Option{
		providers.WithHTTPClient(client),
		providers.WithProber(prober),
		providers.WithTimeout(cfg.Timeout),
	}
	with := func(extra ...providers.Option) []providers.Option {
		return append(append([]providers.Option{}, common...), extra...)
	}

	list := []providers.Provider{
		providers.NewGoogleBooks(with(providers.WithAPIKey(cfg.GoogleBooksAPIKey))...),
		providers.NewOpenBD(with()...),
		providers.NewOpenLibrary(with()...),
		providers.NewNDL(with()...),
	}
	if cfg.ISBNdbAPIKey != "" {
		list = append(list, providers.NewISBNdb(with(providers.WithAPIKey(cfg.ISBNdbAPIKey))...))
	}
	if cfg.Browser.Enabled {
		list = append(list, providers.NewBrowser(providers.BrowserOptions{
			Headless:   cfg.Browser.Headless,
			SearchURL:  cfg.Browser.SearchURL,
			Timeout:    cfg.Browser.Timeout,
			BatchSize:  cfg.Browser.BatchSize,
			BatchPause: cfg.Browser.BatchPause,
			Prober:     prober,
		}))
	}

	set := providers.NewSet(list...)
	slog.Debug("Providers configured", "providers", set.Names())
	return set
}

// NewGate builds the verification gate, attaching the vision collaborator
// when it is enabled and has a key. A collaborator that cannot be created
// is logged and left out.
func NewGate(ctx context.Context, cfg config.Config, scorer *scoring.Scorer, client *http.Client) *verify.Gate {
	opts := verify.DefaultOptions()
	v := cfg.Verify
	if v.MinVisionConfidence > 0 {
		opts.MinVisionConfidence = v.MinVisionConfidence
	}
	if v.TopN > 0 {
		opts.TopN = v.TopN
	}
	if v.PoolSize > 0 {
		opts.PoolSize = v.PoolSize
	}
	if v.SkipFraction >= 0 {
		opts.SkipFraction = v.SkipFraction
	}
	if v.ScoreFloor > 0 {
		opts.ScoreFloor = v.ScoreFloor
	}

	var gateOpts []verify.Option
	if cfg.Vision.Enabled {
		gemini, err := vision.NewGemini(ctx, cfg.Vision.APIKey,
			vision.WithHTTPClient(client),
			vision.WithModel(cfg.Vision.Model),
		)
		if err != nil {
			slog.Warn("Visual verification disabled", "error", err)
		} else {
			gateOpts = append(gateOpts, verify.WithVision(gemini))
		}
	}
	return verify.New(opts, scorer, gateOpts...)
}

// Build wires a Resolver from config. store may be nil.
func Build(ctx context.Context, cfg config.Config, store *cache.ResultStore) *Resolver {
	client := &http.Client{Timeout: cfg.Providers.Timeout}
	set := NewProviders(cfg.Providers, client)
	scorer := scoring.New(scoring.DefaultWeights(), cfg.Resolver.Locale)
	gate := NewGate(ctx, cfg, scorer, client)

	return New(set, strategy.New(set), scorer, gate, store, Options{
		TTL:         cfg.Cache.TTL,
		NegativeTTL: cfg.Cache.NegativeTTL,
	})
}
