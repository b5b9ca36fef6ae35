package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lepinkainen/coverfinder/internal/cover"
)

// BatchOptions tune the bounded worker pool.
type BatchOptions struct {
	// Concurrency is the number of resolutions in flight at once.
	Concurrency int
	// BatchSize items are processed before pausing for Cooldown.
	BatchSize int
	Cooldown  time.Duration
}

// DefaultBatchOptions returns the production pool settings.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{Concurrency: 3, BatchSize: 20, Cooldown: 3 * time.Second}
}

func (o BatchOptions) withDefaults() BatchOptions {
	def := DefaultBatchOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.Cooldown < 0 {
		o.Cooldown = 0
	}
	return o
}

// BatchResult is the outcome for one item, reported at the item's input index.
type BatchResult struct {
	Index     int                    `json:"index" yaml:"index"`
	Query     cover.BookQuery        `json:"query" yaml:"query"`
	Result    cover.ResolutionResult `json:"result" yaml:"result"`
	FromCache bool                   `json:"fromCache" yaml:"from_cache"`
	Err       error                  `json:"-" yaml:"-"`
	Error     string                 `json:"error,omitempty" yaml:"error,omitempty"`
}

// ResolveBatch resolves items through a pool of at most opts.Concurrency
// workers. A failing item never affects the others. When ctx is cancelled,
// items that have not started are reported with the context error.
func (r *Resolver) ResolveBatch(ctx context.Context, items []cover.BookQuery, mode cover.AccuracyMode, opts BatchOptions) []BatchResult {
	opts = opts.withDefaults()
	batchID := uuid.NewString()
	results := make([]BatchResult, len(items))
	for i, q := range items {
		results[i] = BatchResult{Index: i, Query: q}
	}

	slog.Info("Batch started",
		"batch_id", batchID,
		"items", len(items),
		"concurrency", opts.Concurrency,
		"batch_size", opts.BatchSize,
	)
	start := time.Now()

	for lo := 0; lo < len(items); lo += opts.BatchSize {
		if lo > 0 && opts.Cooldown > 0 {
			slog.Debug("Batch cooldown", "batch_id", batchID, "done", lo, "pause", opts.Cooldown)
			timer := time.NewTimer(opts.Cooldown)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		hi := min(lo+opts.BatchSize, len(items))

		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				r.resolveItem(ctx, &results[i], mode)
				return nil
			})
		}
		_ = g.Wait()
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	slog.Info("Batch finished",
		"batch_id", batchID,
		"items", len(items),
		"failed", failed,
		"duration", time.Since(start),
	)
	return results
}

func (r *Resolver) resolveItem(ctx context.Context, out *BatchResult, mode cover.AccuracyMode) {
	defer func() {
		if p := recover(); p != nil {
			out.Err = fmt.Errorf("resolution panicked: %v", p)
			out.Error = out.Err.Error()
			out.Result = cover.ResolutionResult{Source: SourceNone}
			slog.Error("Batch item panicked", "index", out.Index, "title", out.Query.Title, "panic", p)
		}
	}()

	if err := ctx.Err(); err != nil {
		out.Err = err
		out.Error = err.Error()
		out.Result = cover.ResolutionResult{Source: SourceNone}
		return
	}

	res, err := r.Resolve(ctx, out.Query, mode)
	if err != nil {
		out.Err = err
		out.Error = err.Error()
		out.Result = cover.ResolutionResult{Source: SourceNone}
		slog.Warn("Batch item failed", "index", out.Index, "title", out.Query.Title, "error", err)
		return
	}
	out.Result = res.Result
	out.FromCache = res.FromCache
}
