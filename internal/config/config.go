// Package config loads coverfinder settings from viper into a plain struct
// that is handed to the components that need it.
package config

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig
	Cache     CacheConfig
	Resolver  ResolverConfig
	Verify    VerifyConfig
	Providers ProvidersConfig
	Vision    VisionConfig
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	MaxBatchItems   int
}

// CacheConfig configures the in-memory cache and its SQLite snapshot.
type CacheConfig struct {
	DBFile        string
	MaxSize       int
	TTL           time.Duration
	NegativeTTL   time.Duration
	SweepInterval time.Duration
}

// ResolverConfig configures resolution and the batch worker pool.
type ResolverConfig struct {
	Mode        string
	Locale      string
	Concurrency int
	BatchSize   int
	Cooldown    time.Duration
}

// VerifyConfig configures the verification gate.
type VerifyConfig struct {
	MinVisionConfidence int
	TopN                int
	PoolSize            int
	SkipFraction        float64
	ScoreFloor          int
}

// ProvidersConfig holds per-provider settings.
type ProvidersConfig struct {
	Timeout           time.Duration
	GoogleBooksAPIKey string
	ISBNdbAPIKey      string
	Browser           BrowserConfig
}

// BrowserConfig configures the headless-browser fallback.
type BrowserConfig struct {
	Enabled    bool
	Headless   bool
	SearchURL  string
	Timeout    time.Duration
	BatchSize  int
	BatchPause time.Duration
}

// VisionConfig configures the visual-verification collaborator.
type VisionConfig struct {
	Enabled bool
	APIKey  string
	Model   string
}

// SetDefaults registers default values for every key read by Load.
func SetDefaults() {
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.shutdowntimeout", "5s")
	viper.SetDefault("server.maxbatchitems", 200)

	viper.SetDefault("cache.dbfile", "./cover-cache.db")
	viper.SetDefault("cache.maxsize", 1000)
	viper.SetDefault("cache.ttl", "720h") // 30 days
	viper.SetDefault("cache.negativettl", "6h")
	viper.SetDefault("cache.sweepinterval", "5m")

	viper.SetDefault("resolver.mode", "balanced")
	viper.SetDefault("resolver.locale", "ja")
	viper.SetDefault("resolver.concurrency", 3)
	viper.SetDefault("resolver.batchsize", 20)
	viper.SetDefault("resolver.cooldown", "3s")

	viper.SetDefault("verify.minvisionconfidence", 90)
	viper.SetDefault("verify.topn", 3)
	viper.SetDefault("verify.poolsize", 8)
	viper.SetDefault("verify.skipfraction", 0.3)
	viper.SetDefault("verify.scorefloor", 20)

	viper.SetDefault("providers.timeout", "10s")
	viper.SetDefault("providers.browser.enabled", false)
	viper.SetDefault("providers.browser.headless", true)
	viper.SetDefault("providers.browser.searchurl", "https://www.google.com/search?tbm=bks&q=%s")
	viper.SetDefault("providers.browser.timeout", "20s")
	viper.SetDefault("providers.browser.batchsize", 5)
	viper.SetDefault("providers.browser.batchpause", "5s")

	viper.SetDefault("vision.enabled", false)
	viper.SetDefault("vision.model", "gemini-2.0-flash")
}

// BindEnv binds API keys to their conventional environment variables.
func BindEnv() {
	bindings := map[string]string{
		"providers.googlebooksapikey": "GOOGLE_BOOKS_API_KEY",
		"providers.isbndbapikey":      "ISBNDB_API_KEY",
		"vision.apikey":               "GEMINI_API_KEY",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			slog.Error("Failed to bind environment variable", "key", key, "env", env, "error", err)
		}
	}
}

// Load reads the current viper state into a Config.
func Load() Config {
	return Config{
		Server: ServerConfig{
			Addr:            viper.GetString("server.addr"),
			ShutdownTimeout: duration("server.shutdowntimeout", 5*time.Second),
			MaxBatchItems:   viper.GetInt("server.maxbatchitems"),
		},
		Cache: CacheConfig{
			DBFile:        viper.GetString("cache.dbfile"),
			MaxSize:       viper.GetInt("cache.maxsize"),
			TTL:           duration("cache.ttl", 720*time.Hour),
			NegativeTTL:   duration("cache.negativettl", 6*time.Hour),
			SweepInterval: duration("cache.sweepinterval", 5*time.Minute),
		},
		Resolver: ResolverConfig{
			Mode:        viper.GetString("resolver.mode"),
			Locale:      viper.GetString("resolver.locale"),
			Concurrency: viper.GetInt("resolver.concurrency"),
			BatchSize:   viper.GetInt("resolver.batchsize"),
			Cooldown:    duration("resolver.cooldown", 3*time.Second),
		},
		Verify: VerifyConfig{
			MinVisionConfidence: viper.GetInt("verify.minvisionconfidence"),
			TopN:                viper.GetInt("verify.topn"),
			PoolSize:            viper.GetInt("verify.poolsize"),
			SkipFraction:        viper.GetFloat64("verify.skipfraction"),
			ScoreFloor:          viper.GetInt("verify.scorefloor"),
		},
		Providers: ProvidersConfig{
			Timeout:           duration("providers.timeout", 10*time.Second),
			GoogleBooksAPIKey: viper.GetString("providers.googlebooksapikey"),
			ISBNdbAPIKey:      viper.GetString("providers.isbndbapikey"),
			Browser: BrowserConfig{
				Enabled:    viper.GetBool("providers.browser.enabled"),
				Headless:   viper.GetBool("providers.browser.headless"),
				SearchURL:  viper.GetString("providers.browser.searchurl"),
				Timeout:    duration("providers.browser.timeout", 20*time.Second),
				BatchSize:  viper.GetInt("providers.browser.batchsize"),
				BatchPause: duration("providers.browser.batchpause", 5*time.Second),
			},
		},
		Vision: VisionConfig{
			Enabled: viper.GetBool("vision.enabled"),
			APIKey:  viper.GetString("vision.apikey"),
			Model:   viper.GetString("vision.model"),
		},
	}
}

// duration parses a duration key, falling back when the value is invalid.
func duration(key string, fallback time.Duration) time.Duration {
	raw := viper.GetString(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration in config, using default", "key", key, "value", raw, "error", err)
		return fallback
	}
	return d
}
