package resolver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/coverfinder/internal/config"
	"github.com/lepinkainen/coverfinder/internal/providers"
	"github.com/lepinkainen/coverfinder/internal/scoring"
)

func TestNewProvidersDefaultOrder(t *testing.T) {
	set := NewProviders(config.ProvidersConfig{Timeout: time.Second}, http.DefaultClient)

	assert.Equal(t, []string{"googlebooks", "openbd", "openlibrary", "ndl"}, set.Names())
	assert.Empty(t, set.NamesWith(providers.Fallback))
}

func TestNewProvidersOptional(t *testing.T) {
	set := NewProviders(config.ProvidersConfig{
		Timeout:      time.Second,
		ISBNdbAPIKey: "key",
		Browser:      config.BrowserConfig{Enabled: true, Headless: true},
	}, http.DefaultClient)

	assert.Equal(t, []string{"googlebooks", "openbd", "openlibrary", "ndl", "isbndb", "browser"}, set.Names())
	assert.Equal(t, []string{"browser"}, set.NamesWith(providers.Fallback))
	assert.Contains(t, set.NamesWith(providers.ISBNLookup), "isbndb")
}

func TestNewGateWithoutVisionKey(t *testing.T) {
	cfg := config.Config{
		Vision: config.VisionConfig{Enabled: true},
		Verify: config.VerifyConfig{SkipFraction: -1},
	}
	gate := NewGate(context.Background(), cfg, scoring.New(scoring.DefaultWeights(), "ja"), http.DefaultClient)

	require.NotNil(t, gate)
	assert.False(t, gate.HasVision())
}

func TestBuildWithoutCache(t *testing.T) {
	cfg := config.Config{
		Providers: config.ProvidersConfig{Timeout: time.Second},
		Resolver:  config.ResolverConfig{Locale: "ja"},
		Cache:     config.CacheConfig{TTL: time.Hour, NegativeTTL: time.Minute},
	}

	r := Build(context.Background(), cfg, nil)
	require.NotNil(t, r)
	assert.Nil(t, r.cache)
	assert.Equal(t, time.Minute, r.opts.NegativeTTL)
}
