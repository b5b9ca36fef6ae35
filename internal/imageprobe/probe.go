// Package imageprobe downloads candidate cover images and classifies their
// quality tier from the decoded pixel size.
package imageprobe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"github.com/lepinkainen/coverfinder/internal/cover"
)

const (
	defaultTimeout = 10 * time.Second
	maxImageBytes  = 10 << 20
	userAgent      = "coverfinder/1.0"
)

// Tier boundaries, applied to the shorter edge in pixels.
const (
	LargeEdge  = 500
	MediumEdge = 300
	SmallEdge  = 150
	// Images at or below this size in either dimension are placeholders.
	PlaceholderEdge = 10
)

// Prober classifies an image URL into a quality tier.
type Prober interface {
	Probe(ctx context.Context, imageURL string) (cover.ImageQuality, error)
}

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPProber fetches images over HTTP and decodes them with imaging.
type HTTPProber struct {
	httpClient HTTPDoer
}

// Compile-time check that HTTPProber implements Prober.
var _ Prober = (*HTTPProber)(nil)

// New creates an HTTPProber. A nil client uses a default client with a 10 s timeout.
func New(client HTTPDoer) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPProber{httpClient: client}
}

// Probe downloads the image and returns its quality tier. Placeholder images
// (1×1 pixels and similar) are QualityNone.
func (p *HTTPProber) Probe(ctx context.Context, imageURL string) (cover.ImageQuality, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return cover.QualityNone, fmt.Errorf("creating image request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return cover.QualityNone, fmt.Errorf("downloading image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return cover.QualityNone, fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return cover.QualityNone, fmt.Errorf("decoding image: %w", err)
	}

	b := img.Bounds()
	return Classify(b.Dx(), b.Dy()), nil
}

// Classify maps pixel dimensions to a quality tier.
func Classify(width, height int) cover.ImageQuality {
	edge := min(width, height)
	switch {
	case width <= PlaceholderEdge || height <= PlaceholderEdge:
		return cover.QualityNone
	case edge >= LargeEdge:
		return cover.QualityLarge
	case edge >= MediumEdge:
		return cover.QualityMedium
	case edge >= SmallEdge:
		return cover.QualitySmall
	default:
		return cover.QualityThumbnail
	}
}

// Refine probes imageURL and returns its tier, or fallback when probing is
// impossible. A nil prober always returns fallback.
func Refine(ctx context.Context, p Prober, imageURL string, fallback cover.ImageQuality) cover.ImageQuality {
	if p == nil || imageURL == "" {
		return fallback
	}
	q, err := p.Probe(ctx, imageURL)
	if err != nil {
		return fallback
	}
	return q
}
