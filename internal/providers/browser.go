package providers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/lepinkainen/coverfinder/internal/cover"
	apperrors "github.com/lepinkainen/coverfinder/internal/errors"
	"github.com/lepinkainen/coverfinder/internal/imageprobe"
	"github.com/lepinkainen/coverfinder/internal/ratelimit"
)

const (
	browserName             = "browser"
	defaultBrowserSearchURL = "https://www.google.com/search?tbm=bks&q=%s"
	defaultBrowserTimeout   = 20 * time.Second
	defaultBrowserBatchSize = 5
	defaultBrowserPause     = 5 * time.Second
	browserMaxHits          = 5
	browserAcceptLanguage   = "ja,en-US;q=0.8,en;q=0.6"
	browserMinInterval      = time.Second
)

// browserSlot admits one scrape at a time across the whole process.
var browserSlot = make(chan struct{}, 1)

var (
	chromedpExecAllocator = chromedp.NewExecAllocator
	chromedpContext       = chromedp.NewContext
	chromedpRunner        = chromedp.Run
)

// scrapePage is replaced in tests to avoid launching a browser.
var scrapePage = scrapeWithChromedp

// browserHit is one result scraped from the search page.
type browserHit struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Image  string `json:"image"`
}

// collectHitsJS returns the first result images with their nearest heading.
const collectHitsJS = `(() => {
  const hits = [];
  for (const img of document.querySelectorAll('img')) {
    const src = img.currentSrc || img.src || '';
    if (!src.startsWith('http') || img.naturalWidth < 40 || img.naturalHeight < 40) continue;
    const box = img.closest('div[data-hveid], div.g, article, li') || img.parentElement;
    const heading = box ? box.querySelector('h3, h2, a[title]') : null;
    const title = (heading ? (heading.textContent || heading.title) : img.alt || '').trim();
    const byline = box ? box.querySelector('.N96wpd, .fl, cite, .author') : null;
    hits.push({title: title, author: byline ? byline.textContent.trim() : '', image: src});
    if (hits.length >= %d) break;
  }
  return hits;
})()`

// BrowserOptions configure the headless-browser fallback.
type BrowserOptions struct {
	Headless bool
	// SearchURL is a format string with one %s for the escaped query.
	SearchURL string
	Timeout   time.Duration
	// BatchSize calls are made before pausing for BatchPause.
	BatchSize  int
	BatchPause time.Duration
	Prober     imageprobe.Prober
}

// Browser scrapes a book-search page with a headless Chrome. It is slow and
// fragile, so it only runs in the final round.
type Browser struct {
	opts    BrowserOptions
	sleep   func(ctx context.Context, d time.Duration) error
	limiter *ratelimit.Limiter

	mu    sync.Mutex
	calls int
}

// Compile-time check that Browser implements Provider.
var _ Provider = (*Browser)(nil)

// NewBrowser creates the headless-browser adapter.
func NewBrowser(opts BrowserOptions) *Browser {
	if opts.SearchURL == "" {
		opts.SearchURL = defaultBrowserSearchURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultBrowserTimeout
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBrowserBatchSize
	}
	if opts.BatchPause <= 0 {
		opts.BatchPause = defaultBrowserPause
	}
	return &Browser{
		opts:    opts,
		sleep:   sleepContext,
		limiter: ratelimit.Shared(browserName, browserMinInterval),
	}
}

// Name returns the provider name.
func (b *Browser) Name() string {
	return browserName
}

// Capabilities returns Fallback.
func (b *Browser) Capabilities() Capability {
	return Fallback
}

// Search loads the search page for the plan's terms and returns the result images.
func (b *Browser) Search(ctx context.Context, plan cover.SearchPlan, q cover.BookQuery) ([]cover.Candidate, error) {
	terms := strings.TrimSpace(plan.QueryTerms)
	if terms == "" {
		return nil, nil
	}

	select {
	case browserSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	hits, err := b.scrape(ctx, terms)
	<-browserSlot
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewUnavailable(browserName, err)
	}

	candidates := make([]cover.Candidate, 0, len(hits))
	for _, h := range hits {
		if h.Image == "" {
			continue
		}
		c := cover.Candidate{
			SourceTitle:  strings.TrimSpace(h.Title),
			ImageURL:     h.Image,
			ImageQuality: imageprobe.Refine(ctx, b.opts.Prober, h.Image, cover.QualityThumbnail),
		}
		if author := strings.TrimSpace(h.Author); author != "" {
			c.SourceAuthors = []string{author}
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// scrape paces and loads one search page. Callers hold browserSlot.
func (b *Browser) scrape(ctx context.Context, terms string) ([]browserHit, error) {
	if err := b.pace(ctx); err != nil {
		return nil, err
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return scrapePage(ctx, b.opts, fmt.Sprintf(b.opts.SearchURL, url.QueryEscape(terms)))
}

// pace applies a jittered 1-2 s delay before each call and a longer pause
// after every BatchSize calls.
func (b *Browser) pace(ctx context.Context) error {
	b.mu.Lock()
	b.calls++
	n := b.calls
	b.mu.Unlock()

	delay := time.Second + time.Duration(rand.Int64N(int64(time.Second)))
	if n > 1 && (n-1)%b.opts.BatchSize == 0 {
		slog.Debug("Browser batch pause", "calls", n-1, "pause", b.opts.BatchPause)
		delay += b.opts.BatchPause
	}
	return b.sleep(ctx, delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func buildExecAllocatorOptions(opts BrowserOptions) []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("blink-settings", "imagesEnabled=true"),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"),
	}
}

func scrapeWithChromedp(parentCtx context.Context, opts BrowserOptions, target string) ([]browserHit, error) {
	ctx, cancel := context.WithTimeout(parentCtx, opts.Timeout)
	defer cancel()

	allocCtx, cancelAllocator := chromedpExecAllocator(ctx, buildExecAllocatorOptions(opts)...)
	defer cancelAllocator()

	browserCtx, cancelBrowser := chromedpContext(allocCtx)
	defer cancelBrowser()

	var hits []browserHit
	err := chromedpRunner(browserCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": browserAcceptLanguage}),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Evaluate(fmt.Sprintf(collectHitsJS, browserMaxHits), &hits),
	)
	if err != nil {
		return nil, fmt.Errorf("scraping %s: %w", target, err)
	}
	return hits, nil
}
