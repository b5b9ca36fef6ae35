// Package resolver runs the cover resolution pipeline: plan escalation,
// provider search, scoring, verification and caching.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lepinkainen/coverfinder/internal/cache"
	"github.com/lepinkainen/coverfinder/internal/cover"
	apperrors "github.com/lepinkainen/coverfinder/internal/errors"
	"github.com/lepinkainen/coverfinder/internal/providers"
	"github.com/lepinkainen/coverfinder/internal/scoring"
	"github.com/lepinkainen/coverfinder/internal/strategy"
	"github.com/lepinkainen/coverfinder/internal/textsim"
	"github.com/lepinkainen/coverfinder/internal/verify"
)

const (
	// SourceNone is reported when no cover was accepted.
	SourceNone = "none"
	// HighConfidence is the confidence from which successes are cached at high priority.
	HighConfidence = 90
)

// Cache tags.
const (
	TagNegative = "negative"
	TagISBN     = "isbn"
)

// ModeTag, ProviderTag and StrategyTag build the remaining cache tags.
func ModeTag(mode cover.AccuracyMode) string { return "mode:" + string(mode) }
func ProviderTag(name string) string         { return "provider:" + name }
func StrategyTag(name string) string         { return "strategy:" + name }

// Options tune caching of results.
type Options struct {
	TTL         time.Duration
	NegativeTTL time.Duration
}

// Resolver resolves book queries to cover images. It is safe for concurrent use.
type Resolver struct {
	providers *providers.Set
	planner   *strategy.Planner
	scorer    *scoring.Scorer
	gate      *verify.Gate
	cache     *cache.ResultStore
	opts      Options
}

// New creates a Resolver. store may be nil to disable caching.
func New(set *providers.Set, planner *strategy.Planner, scorer *scoring.Scorer, gate *verify.Gate, store *cache.ResultStore, opts Options) *Resolver {
	return &Resolver{
		providers: set,
		planner:   planner,
		scorer:    scorer,
		gate:      gate,
		cache:     store,
		opts:      opts,
	}
}

// CacheKey identifies a query within an accuracy mode.
func CacheKey(q cover.BookQuery, mode cover.AccuracyMode) string {
	return fmt.Sprintf("%s|%s|%s|%s",
		mode,
		textsim.Normalize(q.Title),
		textsim.Normalize(q.Author),
		cover.NormalizeISBN(strings.TrimSpace(q.ISBN)),
	)
}

// Resolve finds the cover for q. The only errors are an invalid query and
// context cancellation; provider and verification failures are reflected in
// the result.
func (r *Resolver) Resolve(ctx context.Context, q cover.BookQuery, mode cover.AccuracyMode) (cover.Resolution, error) {
	if strings.TrimSpace(q.Title) == "" {
		return cover.Resolution{}, apperrors.NewInvalidQuery("title is required")
	}
	parsed, ok := cover.ParseMode(string(mode))
	if !ok {
		return cover.Resolution{}, apperrors.NewInvalidQuery(fmt.Sprintf("unknown accuracy mode %q", mode))
	}
	mode = parsed

	if r.cache == nil {
		res, _, err := r.run(ctx, q, mode)
		return res, err
	}

	var (
		diag      cover.Resolution
		cacheable bool
	)
	key := CacheKey(q, mode)
	result, hit, err := cache.GetOrFetch(r.cache, key, func() (cover.ResolutionResult, error) {
		var err error
		diag, cacheable, err = r.run(ctx, q, mode)
		return diag.Result, err
	}, func(result cover.ResolutionResult) (cache.SetOptions, bool) {
		return r.cacheOptions(result, diag, mode), cacheable
	})
	if err != nil {
		return cover.Resolution{}, err
	}
	if hit {
		slog.Debug("Cover served from cache", "title", q.Title, "mode", mode, "success", result.Success)
		return cover.Resolution{Result: result, FromCache: true}, nil
	}
	return diag, nil
}

// run executes the escalation. cacheable is false for negatives reached
// without a single successful provider call.
func (r *Resolver) run(ctx context.Context, q cover.BookQuery, mode cover.AccuracyMode) (cover.Resolution, bool, error) {
	plans := r.planner.Plan(q)
	priorities := strategy.Priorities(plans)

	var (
		res       cover.Resolution
		succeeded int
		seen      = map[string]bool{}
	)

	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			return cover.Resolution{}, false, err
		}
		res.Rounds++

		search := r.providers.Search(ctx, plan, q)
		res.ProviderCalls += search.Calls
		succeeded += search.Succeeded
		if err := ctx.Err(); err != nil {
			return cover.Resolution{}, false, err
		}

		// Images already judged in an earlier round are not verified again.
		fresh := search.Candidates[:0:0]
		inRound := map[string]bool{}
		for _, c := range search.Candidates {
			if c.ImageURL == "" || seen[c.ImageURL] || inRound[c.ImageURL] {
				continue
			}
			inRound[c.ImageURL] = true
			fresh = append(fresh, c)
		}

		ranked := r.scorer.Rank(q, fresh, priorities)
		if len(ranked) > 0 && (res.BestCandidate == nil || ranked[0].TotalScore > res.BestCandidate.TotalScore) {
			best := ranked[0]
			res.BestCandidate = &best
		}

		chosen, outcome, ok := r.gate.Select(ctx, q, ranked, mode)
		if !ok {
			if err := ctx.Err(); err != nil {
				return cover.Resolution{}, false, err
			}
			// Candidates cut from the pool stay eligible for later rounds.
			for _, sc := range r.gate.Pool(ranked) {
				seen[sc.ImageURL] = true
			}
			slog.Debug("Round produced no accepted cover",
				"title", q.Title,
				"round", plan.Round,
				"strategy", plan.StrategyName,
				"candidates", len(ranked),
			)
			continue
		}

		res.Result = cover.ResolutionResult{
			Success:      true,
			ImageURL:     chosen.ImageURL,
			Confidence:   outcome.Confidence,
			Source:       chosen.ProviderName,
			StrategyUsed: plan.StrategyName,
		}
		res.BestCandidate = &chosen
		slog.Info("Cover resolved",
			"title", q.Title,
			"mode", mode,
			"source", chosen.ProviderName,
			"strategy", plan.StrategyName,
			"round", plan.Round,
			"confidence", outcome.Confidence,
			"reason", outcome.Reason,
		)
		return res, true, nil
	}

	if err := ctx.Err(); err != nil {
		return cover.Resolution{}, false, err
	}

	res.Result = cover.ResolutionResult{Source: SourceNone}
	attrs := []any{"title", q.Title, "mode", mode, "rounds", res.Rounds, "provider_calls", res.ProviderCalls}
	if res.BestCandidate != nil {
		attrs = append(attrs, "best_provider", res.BestCandidate.ProviderName, "best_score", res.BestCandidate.TotalScore)
	}
	slog.Info("No cover found", attrs...)

	return res, succeeded > 0, nil
}

func (r *Resolver) cacheOptions(result cover.ResolutionResult, diag cover.Resolution, mode cover.AccuracyMode) cache.SetOptions {
	tags := []string{ModeTag(mode)}
	if !result.Success {
		return cache.SetOptions{
			TTL:      r.opts.NegativeTTL,
			Priority: cache.PriorityLow,
			Tags:     append(tags, TagNegative),
		}
	}

	tags = append(tags, ProviderTag(result.Source), StrategyTag(result.StrategyUsed))
	if diag.BestCandidate != nil && diag.BestCandidate.ISBNMatch {
		tags = append(tags, TagISBN)
	}
	priority := cache.PriorityMedium
	if result.Confidence >= HighConfidence {
		priority = cache.PriorityHigh
	}
	return cache.SetOptions{TTL: r.opts.TTL, Priority: priority, Tags: tags}
}
