package resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lepinkainen/coverfinder/internal/cache"
	"github.com/lepinkainen/coverfinder/internal/cover"
	"github.com/lepinkainen/coverfinder/internal/providers"
	"github.com/lepinkainen/coverfinder/internal/scoring"
	"github.com/lepinkainen/coverfinder/internal/strategy"
	"github.com/lepinkainen/coverfinder/internal/verify"
)

// fakeProvider answers searches from a function and records what it saw.
type fakeProvider struct {
	name   string
	caps   providers.Capability
	search func(plan cover.SearchPlan, q cover.BookQuery) ([]cover.Candidate, error)

	mu       sync.Mutex
	plans    []string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

var _ providers.Provider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() string                       { return f.name }
func (f *fakeProvider) Capabilities() providers.Capability { return f.caps }

func (f *fakeProvider) Search(ctx context.Context, plan cover.SearchPlan, q cover.BookQuery) ([]cover.Candidate, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.plans = append(f.plans, plan.StrategyName)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.search == nil {
		return nil, nil
	}
	return f.search(plan, q)
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plans)
}

func (f *fakeProvider) seenPlans() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.plans...)
}

// countingVision returns a fixed answer and counts calls.
type countingVision struct {
	result verify.VisionResult
	err    error
	calls  atomic.Int32
}

func (v *countingVision) Validate(context.Context, string, string, string) (verify.VisionResult, error) {
	v.calls.Add(1)
	return v.result, v.err
}

func newTestStore() *cache.ResultStore {
	return cache.New[cover.ResolutionResult](cache.Options{MaxSize: 100, DefaultTTL: time.Hour})
}

// newTestResolver wires a resolver around fake providers. The gate never
// skips vision so results are deterministic.
func newTestResolver(store *cache.ResultStore, vision verify.VisionValidator, provs ...providers.Provider) *Resolver {
	set := providers.NewSet(provs...)
	scorer := scoring.New(scoring.DefaultWeights(), "ja")
	gateOpts := []verify.Option{verify.WithRand(func() float64 { return 1 })}
	if vision != nil {
		gateOpts = append(gateOpts, verify.WithVision(vision))
	}
	gate := verify.New(verify.DefaultOptions(), scorer, gateOpts...)
	return New(set, strategy.New(set), scorer, gate, store, Options{
		TTL:         time.Hour,
		NegativeTTL: 10 * time.Minute,
	})
}

func guriGura() cover.BookQuery {
	return cover.BookQuery{Title: "ぐりとぐら", Author: "なかがわりえこ", ISBN: "978-4-8340-0082-5"}
}

func guriGuraCandidate() cover.Candidate {
	return cover.Candidate{
		ImageURL:      "https://covers.example/guri.jpg",
		SourceTitle:   "ぐりとぐら",
		SourceAuthors: []string{"なかがわりえこ", "おおむらゆりこ"},
		ImageQuality:  cover.QualityLarge,
		Language:      "ja",
	}
}
