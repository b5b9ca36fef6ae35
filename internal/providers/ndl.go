package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lepinkainen/coverfinder/internal/cover"
	"github.com/lepinkainen/coverfinder/internal/imageprobe"
)

const (
	ndlName    = "ndl"
	ndlBaseURL = "https://ndlsearch.ndl.go.jp"
)

// NDL searches the National Diet Library OpenSearch endpoint. Covers come
// from the NDL thumbnail service, keyed by ISBN-13.
type NDL struct {
	opts options
}

// Compile-time check that NDL implements Provider.
var _ Provider = (*NDL)(nil)

// NewNDL creates the NDL adapter. Limited to 1 request every 2 seconds.
func NewNDL(opts ...Option) *NDL {
	o := newOptions(ndlName, ndlBaseURL, 2*time.Second, opts)
	if o.coversBaseURL == "" {
		o.coversBaseURL = o.baseURL
	}
	return &NDL{opts: o}
}

// Name returns the provider name.
func (n *NDL) Name() string {
	return ndlName
}

// Capabilities returns ISBNLookup|TextSearch.
func (n *NDL) Capabilities() Capability {
	return ISBNLookup | TextSearch
}

// ndlRSS is the OpenSearch RSS document. Element names are matched by local
// name so the dc:/dcndl: namespaces need no declaration here.
type ndlRSS struct {
	Channel struct {
		Items []ndlItem `xml:"item"`
	} `xml:"channel"`
}

type ndlItem struct {
	Title       string   `xml:"title"`
	Creators    []string `xml:"creator"`
	Subjects    []string `xml:"subject"`
	Language    string   `xml:"language"`
	Identifiers []struct {
		Type  string `xml:"type,attr"`
		Value string `xml:",chardata"`
	} `xml:"identifier"`
}

func (it ndlItem) isbn13() string {
	for _, id := range it.Identifiers {
		if !strings.HasSuffix(id.Type, "ISBN") {
			continue
		}
		if isbn := toISBN13(cover.NormalizeISBN(strings.TrimSpace(id.Value))); isbn != "" {
			return isbn
		}
	}
	return ""
}

// Search queries the OpenSearch API by ISBN, title/creator or free terms.
func (n *NDL) Search(ctx context.Context, plan cover.SearchPlan, q cover.BookQuery) ([]cover.Candidate, error) {
	params := url.Values{}
	switch {
	case plan.UseISBN:
		isbn := cover.NormalizeISBN(plan.QueryTerms)
		if isbn == "" {
			return nil, nil
		}
		params.Set("isbn", isbn)
	case plan.Title != "" || plan.Author != "":
		if plan.Title != "" {
			params.Set("title", plan.Title)
		}
		if plan.Author != "" {
			params.Set("creator", plan.Author)
		}
	case plan.QueryTerms != "":
		params.Set("any", plan.QueryTerms)
	default:
		return nil, nil
	}
	params.Set("cnt", fmt.Sprint(n.opts.maxResults))
	params.Set("mediatype", "books")
	endpoint := fmt.Sprintf("%s/api/opensearch?%s", n.opts.baseURL, params.Encode())

	var doc ndlRSS
	if err := getXML(ctx, ndlName, n.opts, endpoint, &doc); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var candidates []cover.Candidate
	seen := map[string]bool{}
	for _, item := range doc.Channel.Items {
		isbn := item.isbn13()
		if isbn == "" || seen[isbn] {
			continue
		}
		seen[isbn] = true

		imageURL := fmt.Sprintf("%s/thumbnail/%s.jpg", n.opts.coversBaseURL, isbn)
		candidates = append(candidates, cover.Candidate{
			SourceTitle:   strings.TrimSpace(item.Title),
			SourceAuthors: item.Creators,
			ImageURL:      imageURL,
			ImageQuality:  imageprobe.Refine(ctx, n.opts.prober, imageURL, cover.QualitySmall),
			Language:      item.Language,
			Categories:    item.Subjects,
		})
	}
	return candidates, nil
}

// toISBN13 converts an ISBN-10 to ISBN-13 and validates ISBN-13 input.
func toISBN13(isbn string) string {
	switch len(isbn) {
	case 13:
		if (cover.BookQuery{ISBN: isbn}).TrustedISBN() == "" {
			return ""
		}
		return isbn
	case 10:
		core := "978" + isbn[:9]
		sum := 0
		for i, r := range core {
			if r < '0' || r > '9' {
				return ""
			}
			d := int(r - '0')
			if i%2 == 1 {
				d *= 3
			}
			sum += d
		}
		return fmt.Sprintf("%s%d", core, (10-sum%10)%10)
	default:
		return ""
	}
}
