package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lepinkainen/coverfinder/internal/config"
	"github.com/lepinkainen/coverfinder/internal/csvutil"
	"github.com/lepinkainen/coverfinder/internal/datastore"
	"github.com/lepinkainen/coverfinder/internal/fileutil"
	"github.com/lepinkainen/coverfinder/internal/resolver"
)

// BatchCmd resolves every book of a CSV file.
type BatchCmd struct {
	Input          string `short:"f" help:"CSV file with a header row (title, author, isbn, publisher, year, genre)" required:"" type:"existingfile"`
	Output         string `short:"o" help:"Write results to this file (.json, .yaml or .yml)"`
	Overwrite      bool   `help:"Overwrite an existing output file"`
	DB             string `help:"Export results to this SQLite file"`
	DatasetteURL   string `help:"Export results to a remote Datasette instance"`
	DatasetteToken string `help:"API token for the remote Datasette instance" env:"DATASETTE_TOKEN"`
	DownloadDir    string `help:"Save resolved covers into this directory"`
	Mode           string `short:"m" help:"Accuracy mode: strict or balanced (defaults to resolver.mode)"`
	Concurrency    int    `help:"Resolutions in flight (overrides resolver.concurrency)"`
}

func (b *BatchCmd) Run(ctx context.Context) error {
	cfg := config.Load()
	mode, err := resolveMode(b.Mode, cfg.Resolver.Mode)
	if err != nil {
		return err
	}

	books, err := csvutil.LoadBooks(b.Input)
	if err != nil {
		return fmt.Errorf("failed to load books: %w", err)
	}
	slog.Info("Loaded books", "file", b.Input, "count", len(books))

	p, err := openCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Warn("Failed to save cache", "error", err)
		}
	}()

	opts := batchOptions(cfg.Resolver)
	if b.Concurrency > 0 {
		opts.Concurrency = b.Concurrency
	}
	results := buildResolver(ctx, cfg, p.Store).ResolveBatch(ctx, books, mode, opts)

	if b.DownloadDir != "" {
		downloadCovers(ctx, b.DownloadDir, results)
	}

	if b.Output != "" {
		if _, err := fileutil.WriteDataFile(results, b.Output, b.Overwrite); err != nil {
			return err
		}
	}
	if b.DB != "" {
		if err := datastore.ExportResults(datastore.NewSQLiteStore(b.DB), results); err != nil {
			return err
		}
	}
	if b.DatasetteURL != "" {
		if err := datastore.ExportResults(datastore.NewDatasetteClient(b.DatasetteURL, b.DatasetteToken), results); err != nil {
			return err
		}
	}

	if err := writeBatchSummary(output, results); err != nil {
		return err
	}
	return ctx.Err()
}

func downloadCovers(ctx context.Context, dir string, results []resolver.BatchResult) {
	for _, r := range results {
		if ctx.Err() != nil {
			return
		}
		if !r.Result.Success {
			continue
		}
		if _, err := fileutil.DownloadCover(ctx, fileutil.CoverDownloadOptions{
			URL:       r.Result.ImageURL,
			OutputDir: dir,
			Filename:  fileutil.BuildCoverFilename(r.Query.Title, r.Query.Author, r.Query.TrustedISBN()),
		}); err != nil {
			slog.Warn("Failed to download cover", "title", r.Query.Title, "url", r.Result.ImageURL, "error", err)
		}
	}
}

func writeBatchSummary(w io.Writer, results []resolver.BatchResult) error {
	var found, cached, failed int
	var sb strings.Builder
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(&sb, "%s %s: %s\n", failureStyle.Render("error"), r.Query.Title, r.Error)
		case r.Result.Success:
			found++
			fmt.Fprintf(&sb, "%s %s %s\n", successStyle.Render("found"), r.Query.Title, labelStyle.Render(r.Result.Source))
		default:
			fmt.Fprintf(&sb, "%s %s\n", failureStyle.Render("none "), r.Query.Title)
		}
		if r.FromCache {
			cached++
		}
	}
	fmt.Fprintf(&sb, "\n%d/%d covers found, %d from cache, %d errors\n", found, len(results), cached, failed)

	_, err := io.WriteString(w, sb.String())
	return err
}
