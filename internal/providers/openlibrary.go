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
	openLibraryName          = "openlibrary"
	openLibraryBaseURL       = "https://openlibrary.org"
	openLibraryCoversBaseURL = "https://covers.openlibrary.org"
)

// OpenLibrary searches openlibrary.org and builds cover links from cover IDs.
type OpenLibrary struct {
	opts options
}

// Compile-time check that OpenLibrary implements Provider.
var _ Provider = (*OpenLibrary)(nil)

// NewOpenLibrary creates the OpenLibrary adapter. Limited to 1 request per second.
func NewOpenLibrary(opts ...Option) *OpenLibrary {
	o := newOptions(openLibraryName, openLibraryBaseURL, time.Second, opts)
	if o.coversBaseURL == "" {
		o.coversBaseURL = openLibraryCoversBaseURL
	}
	return &OpenLibrary{opts: o}
}

// Name returns the provider name.
func (l *OpenLibrary) Name() string {
	return openLibraryName
}

// Capabilities returns ISBNLookup|TextSearch.
func (l *OpenLibrary) Capabilities() Capability {
	return ISBNLookup | TextSearch
}

type openLibrarySearchResponse struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		Title      string   `json:"title"`
		Subtitle   string   `json:"subtitle"`
		AuthorName []string `json:"author_name"`
		CoverID    int      `json:"cover_i"`
		Language   []string `json:"language"`
		Subject    []string `json:"subject"`
	} `json:"docs"`
}

type openLibraryBook struct {
	Title   string `json:"title"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Subjects []struct {
		Name string `json:"name"`
	} `json:"subjects"`
	Cover struct {
		Small  string `json:"small"`
		Medium string `json:"medium"`
		Large  string `json:"large"`
	} `json:"cover"`
}

// Search uses the bibkeys API for ISBN plans and /search.json otherwise.
func (l *OpenLibrary) Search(ctx context.Context, plan cover.SearchPlan, q cover.BookQuery) ([]cover.Candidate, error) {
	if plan.UseISBN {
		return l.lookupISBN(ctx, cover.NormalizeISBN(plan.QueryTerms))
	}
	return l.search(ctx, plan)
}

func (l *OpenLibrary) lookupISBN(ctx context.Context, isbn string) ([]cover.Candidate, error) {
	if isbn == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("bibkeys", "ISBN:"+isbn)
	params.Set("format", "json")
	params.Set("jscmd", "data")
	endpoint := fmt.Sprintf("%s/api/books?%s", l.opts.baseURL, params.Encode())

	var books map[string]openLibraryBook
	if err := getJSON(ctx, openLibraryName, l.opts, endpoint, nil, &books); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	b, ok := books["ISBN:"+isbn]
	if !ok {
		return nil, nil
	}

	imageURL, quality := b.Cover.Large, cover.QualityLarge
	switch {
	case imageURL != "":
	case b.Cover.Medium != "":
		imageURL, quality = b.Cover.Medium, cover.QualityMedium
	case b.Cover.Small != "":
		imageURL, quality = b.Cover.Small, cover.QualitySmall
	default:
		return nil, nil
	}

	c := cover.Candidate{
		SourceTitle:  b.Title,
		ImageURL:     withoutDefaultImage(imageURL),
		ImageQuality: quality,
	}
	for _, a := range b.Authors {
		c.SourceAuthors = append(c.SourceAuthors, a.Name)
	}
	for _, s := range b.Subjects {
		c.Categories = append(c.Categories, s.Name)
	}
	return []cover.Candidate{c}, nil
}

func (l *OpenLibrary) search(ctx context.Context, plan cover.SearchPlan) ([]cover.Candidate, error) {
	params := url.Values{}
	switch {
	case plan.Title != "" || plan.Author != "":
		if plan.Title != "" {
			params.Set("title", plan.Title)
		}
		if plan.Author != "" {
			params.Set("author", plan.Author)
		}
	case plan.QueryTerms != "":
		params.Set("q", plan.QueryTerms)
	default:
		return nil, nil
	}
	params.Set("limit", fmt.Sprint(l.opts.maxResults))
	params.Set("fields", "title,subtitle,author_name,cover_i,language,subject")
	endpoint := fmt.Sprintf("%s/search.json?%s", l.opts.baseURL, params.Encode())

	var result openLibrarySearchResponse
	if err := getJSON(ctx, openLibraryName, l.opts, endpoint, nil, &result); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	candidates := make([]cover.Candidate, 0, len(result.Docs))
	for _, doc := range result.Docs {
		if doc.CoverID <= 0 {
			continue
		}
		title := doc.Title
		if doc.Subtitle != "" {
			title = title + " " + doc.Subtitle
		}
		c := cover.Candidate{
			SourceTitle:   title,
			SourceAuthors: doc.AuthorName,
			ImageURL:      fmt.Sprintf("%s/b/id/%d-L.jpg?default=false", l.opts.coversBaseURL, doc.CoverID),
			ImageQuality:  cover.QualityLarge,
			Categories:    doc.Subject,
		}
		if len(doc.Language) > 0 {
			c.Language = doc.Language[0]
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// withoutDefaultImage makes covers.openlibrary.org answer 404 instead of a
// blank placeholder when no cover exists.
func withoutDefaultImage(imageURL string) string {
	if !strings.Contains(imageURL, "covers.openlibrary.org") || strings.Contains(imageURL, "default=") {
		return imageURL
	}
	if strings.Contains(imageURL, "?") {
		return imageURL + "&default=false"
	}
	return imageURL + "?default=false"
}
