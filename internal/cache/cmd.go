package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/lepinkainen/coverfinder/internal/config"
	"github.com/lepinkainen/coverfinder/internal/cover"
)

// ResultStore caches resolution results by query key.
type ResultStore = Store[cover.ResolutionResult]

// Persistent is a ResultStore backed by a SQLite snapshot.
type Persistent struct {
	Store     *ResultStore
	db        *CacheDB
	persister *Persister[cover.ResolutionResult]
}

// OpenPersistent creates the store described by cfg and loads its snapshot.
// An empty DBFile gives a memory-only store. A snapshot file that cannot be
// opened or read is moved aside and replaced by an empty one; if that fails
// too the store runs memory-only.
func OpenPersistent(cfg config.CacheConfig) (*Persistent, error) {
	newStore := func() *ResultStore {
		return New[cover.ResolutionResult](Options{
			MaxSize:       cfg.MaxSize,
			DefaultTTL:    cfg.TTL,
			SweepInterval: cfg.SweepInterval,
		})
	}
	if cfg.DBFile == "" {
		return &Persistent{Store: newStore()}, nil
	}

	p, err := openSnapshot(cfg.DBFile, newStore())
	if err == nil {
		return p, nil
	}
	slog.Warn("Cache snapshot unusable, rebuilding", "path", cfg.DBFile, "error", err)

	moved, moveErr := moveAside(cfg.DBFile)
	if moveErr != nil {
		slog.Warn("Cache snapshot disabled, running memory-only", "path", cfg.DBFile, "error", moveErr)
		return &Persistent{Store: newStore()}, nil
	}
	slog.Warn("Corrupt cache snapshot moved aside", "path", cfg.DBFile, "moved_to", moved)

	p, err = openSnapshot(cfg.DBFile, newStore())
	if err != nil {
		slog.Warn("Cache snapshot disabled, running memory-only", "path", cfg.DBFile, "error", err)
		return &Persistent{Store: newStore()}, nil
	}
	return p, nil
}

func openSnapshot(dbFile string, store *ResultStore) (*Persistent, error) {
	db, err := OpenCacheDB(dbFile)
	if err != nil {
		return nil, err
	}
	persister, err := NewPersister[cover.ResolutionResult](db, CoverCacheTable)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	if _, err := persister.Load(store); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	p := &Persistent{Store: store, db: db, persister: persister}
	store.OnSweep(func() {
		if err := p.Save(); err != nil {
			slog.Warn("Failed to save cache snapshot", "error", err)
		}
	})
	return p, nil
}

// moveAside renames a broken snapshot so a fresh one can be created in its place.
func moveAside(dbFile string) (string, error) {
	if _, err := os.Stat(dbFile); err != nil {
		return "", fmt.Errorf("cache snapshot not accessible: %w", err)
	}
	target := fmt.Sprintf("%s.corrupt-%s", dbFile, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(dbFile, target); err != nil {
		return "", fmt.Errorf("moving cache snapshot aside: %w", err)
	}
	return target, nil
}

// Save writes the snapshot. It is a no-op for memory-only stores.
func (p *Persistent) Save() error {
	if p.persister == nil {
		return nil
	}
	return p.persister.Save(p.Store)
}

// Close saves the snapshot and closes the database.
func (p *Persistent) Close() error {
	if p.db == nil {
		return nil
	}
	return errors.Join(p.Save(), p.db.Close())
}

// Discard closes the database without saving.
func (p *Persistent) Discard() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// output is replaced in tests.
var output io.Writer = os.Stdout

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(14)
)

// Cmd groups the cache maintenance subcommands.
type Cmd struct {
	Stats    StatsCmd    `cmd:"" help:"Show cache statistics"`
	ClearTag ClearTagCmd `cmd:"" name:"clear-tag" help:"Remove every entry carrying a tag"`
	Cleanup  CleanupCmd  `cmd:"" help:"Remove expired entries"`
}

// StatsCmd prints cache statistics.
type StatsCmd struct {
	Format string `help:"Output format" enum:"text,json,yaml" default:"text"`
}

func (c *StatsCmd) Run() error {
	p, err := OpenPersistent(config.Load().Cache)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() { _ = p.Discard() }()

	return WriteStats(output, p.Store.Stats(), c.Format)
}

// ClearTagCmd removes entries by tag, e.g. "negative" or "provider:openbd".
type ClearTagCmd struct {
	Tag string `arg:"" help:"Tag to clear (mode:strict, provider:openbd, strategy:isbn, negative, isbn)" required:""`
}

func (c *ClearTagCmd) Run() error {
	p, err := OpenPersistent(config.Load().Cache)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}

	removed := p.Store.ClearByTag(c.Tag)
	if err := p.Close(); err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}

	slog.Info("Cache entries cleared", "tag", c.Tag, "removed", removed)
	return nil
}

// CleanupCmd removes expired entries from the snapshot.
type CleanupCmd struct{}

func (c *CleanupCmd) Run() error {
	p, err := OpenPersistent(config.Load().Cache)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}

	// Expired rows are already skipped on load; saving drops them from disk.
	removed := p.Store.CleanupExpired()
	if err := p.Close(); err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}

	slog.Info("Cache cleanup finished", "removed", removed, "remaining", p.Store.Len())
	return nil
}

// WriteStats renders stats as text, json or yaml.
func WriteStats(w io.Writer, st Stats, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(st)
	}

	var b strings.Builder
	b.WriteString(headingStyle.Render("Cover cache") + "\n")
	row := func(label string, value any) {
		fmt.Fprintf(&b, "%s %v\n", labelStyle.Render(label), value)
	}
	row("entries", fmt.Sprintf("%d / %d", st.Size, st.MaxSize))
	row("hits", st.Hits)
	row("misses", st.Misses)
	row("evictions", st.Evictions)
	row("expired", st.Expired)
	for _, k := range []string{"high", "medium", "low"} {
		row("priority "+k, st.ByPriority[k])
	}

	tags := make([]string, 0, len(st.ByTag))
	for tag := range st.ByTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	if len(tags) > 0 {
		b.WriteString(headingStyle.Render("Tags") + "\n")
		for _, tag := range tags {
			row(tag, st.ByTag[tag])
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
