package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/coverfinder/internal/cache"
	"github.com/lepinkainen/coverfinder/internal/cover"
	apperrors "github.com/lepinkainen/coverfinder/internal/errors"
	"github.com/lepinkainen/coverfinder/internal/providers"
	"github.com/lepinkainen/coverfinder/internal/strategy"
	"github.com/lepinkainen/coverfinder/internal/textsim"
	"github.com/lepinkainen/coverfinder/internal/verify"
)

func TestResolve_ISBNHitInFirstRound(t *testing.T) {
	openbd := &fakeProvider{
		name: "openbd",
		caps: providers.ISBNLookup,
		search: func(plan cover.SearchPlan, _ cover.BookQuery) ([]cover.Candidate, error) {
			assert.True(t, plan.UseISBN)
			assert.Equal(t, "9784834000825", plan.QueryTerms)
			return []cover.Candidate{guriGuraCandidate()}, nil
		},
	}
	r := newTestResolver(newTestStore(), nil, openbd)

	res, err := r.Resolve(context.Background(), guriGura(), cover.ModeBalanced)
	require.NoError(t, err)

	assert.True(t, res.Result.Success)
	assert.Equal(t, "https://covers.example/guri.jpg", res.Result.ImageURL)
	assert.Equal(t, "openbd", res.Result.Source)
	assert.Equal(t, strategy.ISBN, res.Result.StrategyUsed)
	assert.GreaterOrEqual(t, res.Result.Confidence, 90)
	assert.Equal(t, 1, res.Rounds)
	assert.False(t, res.FromCache)
	require.NotNil(t, res.BestCandidate)
	assert.True(t, res.BestCandidate.ISBNMatch)
}

func TestResolve_EscalatesToTextSearch(t *testing.T) {
	text := &fakeProvider{
		name: "googlebooks",
		caps: providers.ISBNLookup | providers.TextSearch,
		search: func(plan cover.SearchPlan, _ cover.BookQuery) ([]cover.Candidate, error) {
			if plan.UseISBN {
				return nil, nil
			}
			return []cover.Candidate{guriGuraCandidate()}, nil
		},
	}
	r := newTestResolver(nil, nil, text)

	res, err := r.Resolve(context.Background(), guriGura(), cover.ModeBalanced)
	require.NoError(t, err)

	assert.True(t, res.Result.Success)
	assert.Equal(t, strategy.ExactTitleAuthor, res.Result.StrategyUsed)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, []string{strategy.ISBN, strategy.ExactTitleAuthor}, text.seenPlans())
}

func TestResolve_InvalidQuery(t *testing.T) {
	p := &fakeProvider{name: "googlebooks", caps: providers.TextSearch}
	r := newTestResolver(newTestStore(), nil, p)

	_, err := r.Resolve(context.Background(), cover.BookQuery{Title: "   ", Author: "x"}, cover.ModeBalanced)
	assert.True(t, apperrors.IsInvalidQuery(err))

	_, err = r.Resolve(context.Background(), cover.BookQuery{Title: "ぐりとぐら"}, cover.AccuracyMode("paranoid"))
	assert.True(t, apperrors.IsInvalidQuery(err))

	assert.Zero(t, p.calls())
}

func TestResolve_EmptyModeMeansBalanced(t *testing.T) {
	openbd := &fakeProvider{
		name: "openbd",
		caps: providers.ISBNLookup,
		search: func(cover.SearchPlan, cover.BookQuery) ([]cover.Candidate, error) {
			return []cover.Candidate{guriGuraCandidate()}, nil
		},
	}
	store := newTestStore()
	r := newTestResolver(store, nil, openbd)

	res, err := r.Resolve(context.Background(), guriGura(), "")
	require.NoError(t, err)
	assert.True(t, res.Result.Success)

	_, ok := store.Get(CacheKey(guriGura(), cover.ModeBalanced))
	assert.True(t, ok)
}

func TestResolve_CachesSuccessWithTags(t *testing.T) {
	openbd := &fakeProvider{
		name: "openbd",
		caps: providers.ISBNLookup,
		search: func(cover.SearchPlan, cover.BookQuery) ([]cover.Candidate, error) {
			return []cover.Candidate{guriGuraCandidate()}, nil
		},
	}
	store := newTestStore()
	r := newTestResolver(store, nil, openbd)

	first, err := r.Resolve(context.Background(), guriGura(), cover.ModeBalanced)
	require.NoError(t, err)
	callsAfterFirst := openbd.calls()

	second, err := r.Resolve(context.Background(), guriGura(), cover.ModeBalanced)
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, callsAfterFirst, openbd.calls(), "cache hit must not call providers")

	entries := store.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, cache.PriorityHigh, entries[0].Priority)
	assert.ElementsMatch(t, []string{
		ModeTag(cover.ModeBalanced),
		ProviderTag("openbd"),
		StrategyTag(strategy.ISBN),
		TagISBN,
	}, entries[0].Tags)

	assert.Equal(t, 1, store.ClearByTag(ProviderTag("openbd")))
}

func TestResolve_ModesCachedSeparately(t *testing.T) {
	q := guriGura()
	assert.NotEqual(t, CacheKey(q, cover.ModeStrict), CacheKey(q, cover.ModeBalanced))

	// Width and case variants share a key.
	a := cover.BookQuery{Title: "Harry Potter", Author: "J.K. Rowling"}
	b := cover.BookQuery{Title: "ＨＡＲＲＹ potter", Author: "j k rowling"}
	assert.Equal(t, CacheKey(a, cover.ModeBalanced), CacheKey(b, cover.ModeBalanced))
}

func TestResolve_ZeroHitsCachedAsNegative(t *testing.T) {
	empty := &fakeProvider{name: "googlebooks", caps: providers.ISBNLookup | providers.TextSearch}
	store := newTestStore()
	r := newTestResolver(store, nil, empty)

	res, err := r.Resolve(context.Background(), guriGura(), cover.ModeBalanced)
	require.NoError(t, err)

	assert.False(t, res.Result.Success)
	assert.Empty(t, res.Result.ImageURL)
	assert.Equal(t, SourceNone, res.Result.Source)
	assert.Zero(t, res.Result.Confidence)
	assert.Greater(t, res.Rounds, 1)

	entries := store.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, cache.PriorityLow, entries[0].Priority)
	assert.Contains(t, entries[0].Tags, TagNegative)

	calls := empty.calls()
	again, err := r.Resolve(context.Background(), guriGura(), cover.ModeBalanced)
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.False(t, again.Result.Success)
	assert.Equal(t, calls, empty.calls())
}

func TestResolve_AllProvidersFailingIsNotCached(t *testing.T) {
	down := &fakeProvider{
		name: "googlebooks",
		caps: providers.ISBNLookup | providers.TextSearch,
		search: func(cover.SearchPlan, cover.BookQuery) ([]cover.Candidate, error) {
			return nil, apperrors.NewUnavailable("googlebooks", errors.New("connection refused"))
		},
	}
	store := newTestStore()
	r := newTestResolver(store, nil, down)

	res, err := r.Resolve(context.Background(), guriGura(), cover.ModeBalanced)
	require.NoError(t, err)
	assert.False(t, res.Result.Success)
	assert.Zero(t, store.Len())
}

func TestResolve_CancelledContext(t *testing.T) {
	p := &fakeProvider{name: "googlebooks", caps: providers.ISBNLookup | providers.TextSearch}
	store := newTestStore()
	r := newTestResolver(store, nil, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, guriGura(), cover.ModeBalanced)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.Len())
}

func TestResolve_StrictWithoutVisionNeverSucceeds(t *testing.T) {
	openbd := &fakeProvider{
		name: "openbd",
		caps: providers.ISBNLookup | providers.TextSearch,
		search: func(cover.SearchPlan, cover.BookQuery) ([]cover.Candidate, error) {
			return []cover.Candidate{guriGuraCandidate()}, nil
		},
	}
	r := newTestResolver(nil, nil, openbd)

	res, err := r.Resolve(context.Background(), guriGura(), cover.ModeStrict)
	require.NoError(t, err)
	assert.False(t, res.Result.Success)
	require.NotNil(t, res.BestCandidate)
	assert.Equal(t, "openbd", res.BestCandidate.ProviderName)
}

func TestResolve_StrictJudgesEachImageOnce(t *testing.T) {
	openbd := &fakeProvider{
		name: "openbd",
		caps: providers.ISBNLookup | providers.TextSearch,
		search: func(cover.SearchPlan, cover.BookQuery) ([]cover.Candidate, error) {
			return []cover.Candidate{guriGuraCandidate()}, nil
		},
	}
	vision := &countingVision{result: verify.VisionResult{IsValid: true, TitleMatch: true, AuthorMatch: true, Confidence: 40}}
	r := newTestResolver(nil, vision, openbd)

	res, err := r.Resolve(context.Background(), guriGura(), cover.ModeStrict)
	require.NoError(t, err)

	assert.False(t, res.Result.Success)
	assert.Greater(t, openbd.calls(), 1)
	assert.EqualValues(t, 1, vision.calls.Load())
}

// urlVision accepts exactly one image URL and counts every call.
type urlVision struct {
	accept string
	calls  atomic.Int32
}

func (v *urlVision) Validate(_ context.Context, imageURL, _, _ string) (verify.VisionResult, error) {
	v.calls.Add(1)
	if imageURL != v.accept {
		return verify.VisionResult{Confidence: 5}, nil
	}
	return verify.VisionResult{IsValid: true, TitleMatch: true, AuthorMatch: true, Confidence: 96}, nil
}

func TestResolve_CandidatesBeyondPoolRetriedLater(t *testing.T) {
	const lateURL = "https://covers.example/late.jpg"
	candidates := make([]cover.Candidate, 0, 9)
	for i := range verify.DefaultOptions().PoolSize {
		c := guriGuraCandidate()
		c.ImageURL = fmt.Sprintf("https://covers.example/decoy-%d.jpg", i)
		candidates = append(candidates, c)
	}
	late := guriGuraCandidate()
	late.ImageURL = lateURL
	late.ImageQuality = cover.QualitySmall
	candidates = append(candidates, late)

	google := &fakeProvider{
		name: "googlebooks",
		caps: providers.TextSearch,
		search: func(cover.SearchPlan, cover.BookQuery) ([]cover.Candidate, error) {
			return candidates, nil
		},
	}
	vision := &urlVision{accept: lateURL}
	r := newTestResolver(nil, vision, google)

	q := cover.BookQuery{Title: "ぐりとぐら", Author: "なかがわりえこ"}
	res, err := r.Resolve(context.Background(), q, cover.ModeStrict)
	require.NoError(t, err)

	require.True(t, res.Result.Success)
	assert.Equal(t, lateURL, res.Result.ImageURL)
	assert.Equal(t, strategy.AuthorBibliography, res.Result.StrategyUsed)
	assert.EqualValues(t, len(candidates), vision.calls.Load())
}

func TestResolve_StrictAcceptsConfidentVision(t *testing.T) {
	openbd := &fakeProvider{
		name: "openbd",
		caps: providers.ISBNLookup,
		search: func(cover.SearchPlan, cover.BookQuery) ([]cover.Candidate, error) {
			return []cover.Candidate{guriGuraCandidate()}, nil
		},
	}
	vision := &countingVision{result: verify.VisionResult{IsValid: true, TitleMatch: true, AuthorMatch: true, Confidence: 97}}
	r := newTestResolver(nil, vision, openbd)

	res, err := r.Resolve(context.Background(), guriGura(), cover.ModeStrict)
	require.NoError(t, err)
	assert.True(t, res.Result.Success)
	assert.Equal(t, 97, res.Result.Confidence)
}

func TestResolve_DissimilarTitlesNeverAccepted(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	const alphabet = "abcdefghijklmnopqrstuvwxyzぐりとら星の王子"
	runes := []rune(alphabet)
	randomTitle := func() string {
		n := 3 + rng.IntN(12)
		out := make([]rune, n)
		for i := range out {
			out[i] = runes[rng.IntN(len(runes))]
		}
		return string(out)
	}

	for i := range 200 {
		q := cover.BookQuery{Title: randomTitle(), Author: "author"}
		candidate := cover.Candidate{
			ImageURL:      fmt.Sprintf("https://covers.example/%d.jpg", i),
			SourceTitle:   randomTitle(),
			SourceAuthors: []string{"author"},
			ImageQuality:  cover.QualityLarge,
			Language:      "ja",
		}
		p := &fakeProvider{
			name: "googlebooks",
			caps: providers.TextSearch,
			search: func(cover.SearchPlan, cover.BookQuery) ([]cover.Candidate, error) {
				return []cover.Candidate{candidate}, nil
			},
		}
		r := newTestResolver(nil, nil, p)

		res, err := r.Resolve(context.Background(), q, cover.ModeBalanced)
		require.NoError(t, err)
		if textsim.Similarity(q.Title, candidate.SourceTitle) < 0.5 {
			assert.False(t, res.Result.Success, "query %q accepted %q", q.Title, candidate.SourceTitle)
		}
	}
}

func TestResolve_SuccessImpliesImageURL(t *testing.T) {
	withoutImage := &fakeProvider{
		name: "openbd",
		caps: providers.ISBNLookup,
		search: func(cover.SearchPlan, cover.BookQuery) ([]cover.Candidate, error) {
			c := guriGuraCandidate()
			c.ImageURL = ""
			return []cover.Candidate{c}, nil
		},
	}
	r := newTestResolver(nil, nil, withoutImage)

	res, err := r.Resolve(context.Background(), guriGura(), cover.ModeBalanced)
	require.NoError(t, err)
	assert.False(t, res.Result.Success)
	assert.Empty(t, res.Result.ImageURL)
}
