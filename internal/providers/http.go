package providers

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/lepinkainen/coverfinder/internal/errors"
	"github.com/lepinkainen/coverfinder/internal/imageprobe"
	"github.com/lepinkainen/coverfinder/internal/ratelimit"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 5 << 20
	userAgent       = "coverfinder/1.0 (+https://github.com/lepinkainen/coverfinder)"
)

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// options are shared by the HTTP-backed adapters.
type options struct {
	baseURL       string
	coversBaseURL string
	httpClient    HTTPDoer
	limiter       *ratelimit.Limiter
	prober        imageprobe.Prober
	apiKey        string
	timeout       time.Duration
	maxResults    int
}

// Option is a functional option for configuring an adapter.
type Option func(*options)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c HTTPDoer) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithBaseURL sets a custom API base URL.
func WithBaseURL(base string) Option {
	return func(o *options) {
		if base != "" {
			o.baseURL = base
		}
	}
}

// WithCoversBaseURL sets the base URL used to build cover image links.
func WithCoversBaseURL(base string) Option {
	return func(o *options) {
		if base != "" {
			o.coversBaseURL = base
		}
	}
}

// WithLimiter replaces the process-wide limiter of the adapter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *options) {
		if l != nil {
			o.limiter = l
		}
	}
}

// WithProber sets the image prober used to classify covers of unknown size.
func WithProber(p imageprobe.Prober) Option {
	return func(o *options) {
		o.prober = p
	}
}

// WithAPIKey sets the API key for providers that accept one.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxResults caps the number of results requested per search.
func WithMaxResults(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxResults = n
		}
	}
}

func newOptions(name, baseURL string, interval time.Duration, opts []Option) options {
	o := options{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		timeout:    defaultTimeout,
		maxResults: 10,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.limiter == nil {
		o.limiter = ratelimit.Shared(name, interval)
	}
	return o
}

// errNotFound marks a 404 answer, which adapters turn into an empty result.
var errNotFound = errors.New("not found")

// fetch performs a rate-limited GET and returns the body. Failures are
// classified as provider errors.
func fetch(ctx context.Context, provider string, o options, url string, header http.Header) ([]byte, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewUnavailable(provider, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewUnavailable(provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.NewRateLimitErrorWithRetry(provider+" rate limit exceeded", retryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.NewStatus(provider, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, apperrors.NewUnavailable(provider, fmt.Errorf("reading response: %w", err))
	}
	return body, nil
}

func getJSON(ctx context.Context, provider string, o options, url string, header http.Header, out any) error {
	body, err := fetch(ctx, provider, o, url, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewMalformed(provider, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func getXML(ctx context.Context, provider string, o options, url string, out any) error {
	body, err := fetch(ctx, provider, o, url, nil)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return apperrors.NewMalformed(provider, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func retryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
