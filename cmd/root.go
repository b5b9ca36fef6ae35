package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/lepinkainen/humanlog"
	"github.com/spf13/viper"

	"github.com/lepinkainen/coverfinder/internal/cache"
	"github.com/lepinkainen/coverfinder/internal/config"
	"github.com/lepinkainen/coverfinder/internal/resolver"
	"github.com/lepinkainen/coverfinder/internal/server"
)

// buildResolver and openCache are replaced in tests.
var (
	buildResolver = func(ctx context.Context, cfg config.Config, store *cache.ResultStore) server.CoverResolver {
		return resolver.Build(ctx, cfg, store)
	}
	openCache = cache.OpenPersistent

	// output receives command results; logs go to stderr.
	output io.Writer = os.Stdout
)

// CLI represents the complete command structure for the coverfinder application
type CLI struct {
	// Global flags
	Debug    bool   `help:"Enable debug logging"`
	CacheDB  string `help:"Path to the cache snapshot SQLite file (overrides cache.dbfile)"`
	NoCache  bool   `help:"Keep the cache in memory only"`
	Locale   string `help:"Preferred cover language, e.g. ja or en (overrides resolver.locale)"`
	Vision   bool   `help:"Enable visual verification (overrides vision.enabled)" xor:"vision"`
	NoVision bool   `help:"Disable visual verification" xor:"vision"`

	Serve   ServeCmd   `cmd:"" help:"Run the HTTP API"`
	Resolve ResolveCmd `cmd:"" help:"Resolve the cover of a single book"`
	Batch   BatchCmd   `cmd:"" help:"Resolve covers for every book in a CSV file"`
	Cache   cache.Cmd  `cmd:"" help:"Inspect and maintain the result cache"`
}

// Execute runs the Kong-based CLI
func Execute() {
	initLogging(os.Getenv("COVERFINDER_LOG_LEVEL"))
	if err := initConfig(); err != nil {
		slog.Error("Fatal error in config file", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create CLI instance
	var cli CLI

	// Parse command line with Kong
	kctx := kong.Parse(&cli,
		kong.Name("coverfinder"),
		kong.Description("Find the best cover image for a book across public catalogs."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	if cli.Debug {
		initLogging("debug")
	}
	updateGlobalConfig(&cli)

	// Execute the selected command
	if err := kctx.Run(); err != nil {
		slog.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() error {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	config.SetDefaults()

	// Enable environment variable support
	viper.SetEnvPrefix("COVERFINDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.BindEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		slog.Info("Config file not found, writing default config file")
		if err := viper.SafeWriteConfig(); err != nil {
			slog.Warn("Error writing config file", "error", err)
		}
	}
	return nil
}

func updateGlobalConfig(cli *CLI) {
	if cli.CacheDB != "" {
		viper.Set("cache.dbfile", cli.CacheDB)
	}
	if cli.NoCache {
		viper.Set("cache.dbfile", "")
	}
	if cli.Locale != "" {
		viper.Set("resolver.locale", cli.Locale)
	}
	if cli.Vision {
		viper.Set("vision.enabled", true)
	}
	if cli.NoVision {
		viper.Set("vision.enabled", false)
	}
}

func initLogging(level string) {
	// Create a human-readable handler for logging
	handler := humanlog.NewHandler(os.Stderr, &humanlog.Options{
		Level: parseLevel(level),
	})

	// Set the default logger
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
