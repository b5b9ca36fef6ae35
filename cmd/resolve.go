package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/lepinkainen/coverfinder/internal/config"
	"github.com/lepinkainen/coverfinder/internal/cover"
	"github.com/lepinkainen/coverfinder/internal/fileutil"
)

var (
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failureStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(12)
)

// ResolveCmd resolves a single book.
type ResolveCmd struct {
	Title       string `short:"t" help:"Book title" required:""`
	Author      string `short:"a" help:"Author name"`
	ISBN        string `help:"ISBN-13, hyphens allowed"`
	Publisher   string `help:"Publisher name"`
	Year        int    `help:"Publication year"`
	Genre       string `help:"Genre"`
	Mode        string `short:"m" help:"Accuracy mode: strict or balanced (defaults to resolver.mode)"`
	Format      string `help:"Output format" enum:"text,json,yaml" default:"text"`
	DownloadDir string `help:"Save the resolved cover into this directory"`
}

func (r *ResolveCmd) Run(ctx context.Context) error {
	cfg := config.Load()
	mode, err := resolveMode(r.Mode, cfg.Resolver.Mode)
	if err != nil {
		return err
	}

	p, err := openCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Warn("Failed to save cache", "error", err)
		}
	}()

	q := cover.BookQuery{
		Title:     r.Title,
		Author:    r.Author,
		ISBN:      r.ISBN,
		Genre:     r.Genre,
		Publisher: r.Publisher,
		Year:      r.Year,
	}
	res, err := buildResolver(ctx, cfg, p.Store).Resolve(ctx, q, mode)
	if err != nil {
		return err
	}

	if r.DownloadDir != "" && res.Result.Success {
		if _, err := fileutil.DownloadCover(ctx, fileutil.CoverDownloadOptions{
			URL:       res.Result.ImageURL,
			OutputDir: r.DownloadDir,
			Filename:  fileutil.BuildCoverFilename(q.Title, q.Author, q.TrustedISBN()),
		}); err != nil {
			slog.Warn("Failed to download cover", "url", res.Result.ImageURL, "error", err)
		}
	}

	return writeResolution(output, q, res, r.Format)
}

func resolveMode(flag, configured string) (cover.AccuracyMode, error) {
	raw := flag
	if raw == "" {
		raw = configured
	}
	mode, ok := cover.ParseMode(raw)
	if !ok {
		return "", fmt.Errorf("unknown accuracy mode %q (want strict or balanced)", raw)
	}
	return mode, nil
}

func writeResolution(w io.Writer, q cover.BookQuery, res cover.Resolution, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Result)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(res.Result)
	}

	var b strings.Builder
	row := func(label string, value any) {
		fmt.Fprintf(&b, "%s %v\n", labelStyle.Render(label), value)
	}
	if res.Result.Success {
		b.WriteString(successStyle.Render("Cover found") + " " + q.Title + "\n")
		row("image", res.Result.ImageURL)
		row("source", res.Result.Source)
		row("strategy", res.Result.StrategyUsed)
		row("confidence", res.Result.Confidence)
	} else {
		b.WriteString(failureStyle.Render("No cover found") + " " + q.Title + "\n")
	}
	if res.FromCache {
		row("cached", true)
	} else {
		row("rounds", res.Rounds)
		row("calls", res.ProviderCalls)
	}
	if !res.Result.Success && res.BestCandidate != nil {
		row("closest", fmt.Sprintf("%s (%s, score %d)", res.BestCandidate.SourceTitle, res.BestCandidate.ProviderName, res.BestCandidate.TotalScore))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
