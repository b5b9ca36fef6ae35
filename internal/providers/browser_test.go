package providers

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/coverfinder/internal/cover"
	apperrors "github.com/lepinkainen/coverfinder/internal/errors"
	"github.com/lepinkainen/coverfinder/internal/ratelimit"
)

func stubScrape(t *testing.T, fn func(ctx context.Context, opts BrowserOptions, target string) ([]browserHit, error)) {
	t.Helper()
	orig := scrapePage
	scrapePage = fn
	t.Cleanup(func() { scrapePage = orig })
}

func newTestBrowser(opts BrowserOptions) (*Browser, *[]time.Duration) {
	var sleeps []time.Duration
	b := NewBrowser(opts)
	b.limiter = ratelimit.New("browser-test", 1000)
	b.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return b, &sleeps
}

func TestBrowserSearch(t *testing.T) {
	var gotTarget string
	stubScrape(t, func(ctx context.Context, opts BrowserOptions, target string) ([]browserHit, error) {
		gotTarget = target
		return []browserHit{
			{Title: " ぐりとぐら ", Author: "中川李枝子", Image: "https://books.example/cover.jpg"},
			{Title: "no image"},
		}, nil
	})

	b, _ := newTestBrowser(BrowserOptions{SearchURL: "https://search.example/?q=%s"})
	candidates, err := b.Search(context.Background(), cover.SearchPlan{QueryTerms: "ぐりとぐら"}, cover.BookQuery{})
	require.NoError(t, err)

	assert.Equal(t, "https://search.example/?q="+url.QueryEscape("ぐりとぐら"), gotTarget)
	require.Len(t, candidates, 1)
	assert.Equal(t, "ぐりとぐら", candidates[0].SourceTitle)
	assert.Equal(t, []string{"中川李枝子"}, candidates[0].SourceAuthors)
	assert.Equal(t, cover.QualityThumbnail, candidates[0].ImageQuality)
}

func TestBrowserPacing(t *testing.T) {
	stubScrape(t, func(ctx context.Context, opts BrowserOptions, target string) ([]browserHit, error) {
		return nil, nil
	})

	b, sleeps := newTestBrowser(BrowserOptions{BatchSize: 2, BatchPause: time.Minute})
	for range 5 {
		_, err := b.Search(context.Background(), cover.SearchPlan{QueryTerms: "x"}, cover.BookQuery{})
		require.NoError(t, err)
	}

	require.Len(t, *sleeps, 5)
	for i, d := range *sleeps {
		paused := i == 2 || i == 4
		if paused {
			assert.GreaterOrEqual(t, d, time.Minute+time.Second, "call %d", i+1)
			continue
		}
		assert.GreaterOrEqual(t, d, time.Second, "call %d", i+1)
		assert.Less(t, d, 2*time.Second, "call %d", i+1)
	}
}

func TestBrowserScrapesOneAtATime(t *testing.T) {
	var inFlight, peak atomic.Int32
	stubScrape(t, func(ctx context.Context, opts BrowserOptions, target string) ([]browserHit, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	})

	b, _ := newTestBrowser(BrowserOptions{})
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Search(context.Background(), cover.SearchPlan{QueryTerms: "ぐりとぐら"}, cover.BookQuery{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
}

func TestBrowserWaitingCallerHonoursCancel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	stubScrape(t, func(ctx context.Context, opts BrowserOptions, target string) ([]browserHit, error) {
		close(started)
		<-release
		return nil, nil
	})

	b, _ := newTestBrowser(BrowserOptions{})
	done := make(chan error, 1)
	go func() {
		_, err := b.Search(context.Background(), cover.SearchPlan{QueryTerms: "first"}, cover.BookQuery{})
		done <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Search(ctx, cover.SearchPlan{QueryTerms: "second"}, cover.BookQuery{})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-done)
}

func TestBrowserScrapeFailure(t *testing.T) {
	stubScrape(t, func(ctx context.Context, opts BrowserOptions, target string) ([]browserHit, error) {
		return nil, errors.New("chrome not found")
	})

	b, _ := newTestBrowser(BrowserOptions{})
	_, err := b.Search(context.Background(), cover.SearchPlan{QueryTerms: "x"}, cover.BookQuery{})
	require.Error(t, err)
	assert.True(t, apperrors.IsProviderError(err))
}

func TestBrowserEmptyTermsSkipsScrape(t *testing.T) {
	stubScrape(t, func(ctx context.Context, opts BrowserOptions, target string) ([]browserHit, error) {
		t.Fatal("scrape should not run")
		return nil, nil
	})

	b, sleeps := newTestBrowser(BrowserOptions{})
	candidates, err := b.Search(context.Background(), cover.SearchPlan{QueryTerms: "  "}, cover.BookQuery{})
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Empty(t, *sleeps)
}

func TestBuildExecAllocatorOptions(t *testing.T) {
	assert.NotEmpty(t, buildExecAllocatorOptions(BrowserOptions{Headless: true}))
	assert.True(t, strings.Contains(collectHitsJS, "%d"))
	assert.Equal(t, Fallback, NewBrowser(BrowserOptions{}).Capabilities())
}

func TestScrapeWithChromedpRunsActions(t *testing.T) {
	origAlloc, origCtx, origRun := chromedpExecAllocator, chromedpContext, chromedpRunner
	t.Cleanup(func() {
		chromedpExecAllocator, chromedpContext, chromedpRunner = origAlloc, origCtx, origRun
	})

	chromedpExecAllocator = func(ctx context.Context, _ ...chromedp.ExecAllocatorOption) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}
	chromedpContext = func(ctx context.Context, _ ...chromedp.ContextOption) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}
	var got int
	chromedpRunner = func(ctx context.Context, actions ...chromedp.Action) error {
		got = len(actions)
		return nil
	}

	hits, err := scrapeWithChromedp(context.Background(), BrowserOptions{Timeout: time.Second}, "https://example.com")
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 6, got)

	chromedpRunner = func(ctx context.Context, actions ...chromedp.Action) error {
		return errors.New("no chrome")
	}
	_, err = scrapeWithChromedp(context.Background(), BrowserOptions{Timeout: time.Second}, "https://example.com")
	assert.ErrorContains(t, err, "scraping https://example.com")
}
