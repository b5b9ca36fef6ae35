package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lepinkainen/coverfinder/internal/cover"
)

const (
	isbndbName    = "isbndb"
	isbndbBaseURL = "https://api2.isbndb.com"
)

// ISBNdb looks up covers on ISBNdb. Without an API key every search is an
// empty result.
type ISBNdb struct {
	opts options
}

// Compile-time check that ISBNdb implements Provider.
var _ Provider = (*ISBNdb)(nil)

// NewISBNdb creates the ISBNdb adapter. Limited to 1 request per second.
func NewISBNdb(opts ...Option) *ISBNdb {
	return &ISBNdb{opts: newOptions(isbndbName, isbndbBaseURL, time.Second, opts)}
}

// Name returns the provider name.
func (i *ISBNdb) Name() string {
	return isbndbName
}

// Capabilities returns ISBNLookup.
func (i *ISBNdb) Capabilities() Capability {
	return ISBNLookup
}

type isbndbBookResponse struct {
	Book struct {
		Title         string   `json:"title"`
		TitleLong     string   `json:"title_long"`
		Language      string   `json:"language"`
		Image         string   `json:"image"`
		ImageOriginal string   `json:"image_original"`
		Authors       []string `json:"authors"`
		Subjects      []string `json:"subjects"`
	} `json:"book"`
}

// Search fetches /book/{isbn}.
func (i *ISBNdb) Search(ctx context.Context, plan cover.SearchPlan, q cover.BookQuery) ([]cover.Candidate, error) {
	isbn := cover.NormalizeISBN(plan.QueryTerms)
	if i.opts.apiKey == "" || !plan.UseISBN || isbn == "" {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/book/%s", i.opts.baseURL, url.PathEscape(isbn))
	header := http.Header{}
	header.Set("Authorization", i.opts.apiKey)

	var result isbndbBookResponse
	if err := getJSON(ctx, isbndbName, i.opts, endpoint, header, &result); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	b := result.Book
	imageURL, quality := b.ImageOriginal, cover.QualityLarge
	if imageURL == "" {
		imageURL, quality = b.Image, cover.QualityMedium
	}
	if imageURL == "" {
		return nil, nil
	}

	title := b.Title
	if title == "" {
		title = b.TitleLong
	}
	return []cover.Candidate{{
		SourceTitle:   title,
		SourceAuthors: b.Authors,
		ImageURL:      imageURL,
		ImageQuality:  quality,
		Language:      b.Language,
		Categories:    b.Subjects,
	}}, nil
}
