package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lepinkainen/coverfinder/internal/cover"
)

const (
	googleBooksName    = "googlebooks"
	googleBooksBaseURL = "https://www.googleapis.com/books/v1"
)

// GoogleBooks searches the Google Books volumes API.
type GoogleBooks struct {
	opts options
}

// Compile-time check that GoogleBooks implements Provider.
var _ Provider = (*GoogleBooks)(nil)

// NewGoogleBooks creates the Google Books adapter. Limited to 1 request per second.
func NewGoogleBooks(opts ...Option) *GoogleBooks {
	return &GoogleBooks{opts: newOptions(googleBooksName, googleBooksBaseURL, time.Second, opts)}
}

// Name returns the provider name.
func (g *GoogleBooks) Name() string {
	return googleBooksName
}

// Capabilities returns ISBNLookup|TextSearch.
func (g *GoogleBooks) Capabilities() Capability {
	return ISBNLookup | TextSearch
}

type googleBooksResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title      string   `json:"title"`
			Subtitle   string   `json:"subtitle"`
			Authors    []string `json:"authors"`
			Categories []string `json:"categories"`
			Language   string   `json:"language"`
			ImageLinks struct {
				ExtraLarge     string `json:"extraLarge"`
				Large          string `json:"large"`
				Medium         string `json:"medium"`
				Small          string `json:"small"`
				Thumbnail      string `json:"thumbnail"`
				SmallThumbnail string `json:"smallThumbnail"`
			} `json:"imageLinks"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// Search queries /volumes with field operators built from the plan.
func (g *GoogleBooks) Search(ctx context.Context, plan cover.SearchPlan, q cover.BookQuery) ([]cover.Candidate, error) {
	query := googleBooksQuery(plan)
	if query == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", fmt.Sprint(g.opts.maxResults))
	params.Set("printType", "books")
	if g.opts.apiKey != "" {
		params.Set("key", g.opts.apiKey)
	}
	endpoint := fmt.Sprintf("%s/volumes?%s", g.opts.baseURL, params.Encode())

	var result googleBooksResponse
	if err := getJSON(ctx, googleBooksName, g.opts, endpoint, nil, &result); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	candidates := make([]cover.Candidate, 0, len(result.Items))
	for _, item := range result.Items {
		vol := item.VolumeInfo
		imageURL, quality := bestGoogleImage(vol.ImageLinks.ExtraLarge, vol.ImageLinks.Large, vol.ImageLinks.Medium,
			vol.ImageLinks.Small, vol.ImageLinks.Thumbnail, vol.ImageLinks.SmallThumbnail)
		if imageURL == "" {
			continue
		}

		title := vol.Title
		if vol.Subtitle != "" {
			title = title + " " + vol.Subtitle
		}
		candidates = append(candidates, cover.Candidate{
			SourceTitle:   title,
			SourceAuthors: vol.Authors,
			ImageURL:      imageURL,
			ImageQuality:  quality,
			Language:      vol.Language,
			Categories:    vol.Categories,
		})
	}
	return candidates, nil
}

func googleBooksQuery(plan cover.SearchPlan) string {
	if plan.UseISBN {
		if plan.QueryTerms == "" {
			return ""
		}
		return "isbn:" + plan.QueryTerms
	}
	if plan.Title == "" && plan.Author == "" {
		return plan.QueryTerms
	}

	var parts []string
	if plan.Title != "" {
		parts = append(parts, "intitle:"+quoteIf(plan.Title, plan.Exact))
	}
	if plan.Author != "" {
		parts = append(parts, "inauthor:"+quoteIf(plan.Author, plan.Exact))
	}
	// Terms beyond title and author (publisher, year) ride along unqualified.
	extra := plan.QueryTerms
	for _, known := range []string{plan.Title, plan.Author} {
		if known != "" {
			extra = strings.Replace(extra, known, "", 1)
		}
	}
	if extra = strings.Join(strings.Fields(extra), " "); extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, " ")
}

func quoteIf(s string, quote bool) string {
	if quote {
		return `"` + s + `"`
	}
	return s
}

// bestGoogleImage picks the richest image link, upgrading zoom=1 thumbnails
// to zoom=0 which serves a larger rendition.
func bestGoogleImage(extraLarge, large, medium, small, thumbnail, smallThumbnail string) (string, cover.ImageQuality) {
	links := []struct {
		url     string
		quality cover.ImageQuality
	}{
		{extraLarge, cover.QualityLarge},
		{large, cover.QualityLarge},
		{medium, cover.QualityMedium},
		{small, cover.QualitySmall},
		{thumbnail, cover.QualityThumbnail},
		{smallThumbnail, cover.QualityThumbnail},
	}
	for _, l := range links {
		if l.url == "" {
			continue
		}
		u := strings.Replace(l.url, "http://", "https://", 1)
		u = strings.ReplaceAll(u, "&edge=curl", "")
		if l.quality == cover.QualityThumbnail && strings.Contains(u, "zoom=1") {
			return strings.Replace(u, "zoom=1", "zoom=0", 1), cover.QualitySmall
		}
		return u, l.quality
	}
	return "", cover.QualityNone
}
