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
	openBDName    = "openbd"
	openBDBaseURL = "https://api.openbd.jp/v1"
)

// OpenBD looks up Japanese bibliographic records and cover links by ISBN.
type OpenBD struct {
	opts options
}

// Compile-time check that OpenBD implements Provider.
var _ Provider = (*OpenBD)(nil)

// NewOpenBD creates the openBD adapter. Limited to 2 requests per second.
func NewOpenBD(opts ...Option) *OpenBD {
	return &OpenBD{opts: newOptions(openBDName, openBDBaseURL, 500*time.Millisecond, opts)}
}

// Name returns the provider name.
func (o *OpenBD) Name() string {
	return openBDName
}

// Capabilities returns ISBNLookup.
func (o *OpenBD) Capabilities() Capability {
	return ISBNLookup
}

// openBDRecord is one element of the /get response array; missing ISBNs are null.
type openBDRecord struct {
	Summary struct {
		ISBN      string `json:"isbn"`
		Title     string `json:"title"`
		Volume    string `json:"volume"`
		Series    string `json:"series"`
		Publisher string `json:"publisher"`
		Author    string `json:"author"`
		Cover     string `json:"cover"`
	} `json:"summary"`
}

// Search fetches the record for the plan's ISBN.
func (o *OpenBD) Search(ctx context.Context, plan cover.SearchPlan, q cover.BookQuery) ([]cover.Candidate, error) {
	isbn := cover.NormalizeISBN(plan.QueryTerms)
	if !plan.UseISBN || isbn == "" {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/get?isbn=%s", o.opts.baseURL, url.QueryEscape(isbn))

	var records []*openBDRecord
	if err := getJSON(ctx, openBDName, o.opts, endpoint, nil, &records); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var candidates []cover.Candidate
	for _, rec := range records {
		if rec == nil || rec.Summary.Cover == "" {
			continue
		}
		title := rec.Summary.Title
		if rec.Summary.Volume != "" {
			title = title + " " + rec.Summary.Volume
		}
		candidates = append(candidates, cover.Candidate{
			SourceTitle:   title,
			SourceAuthors: splitOpenBDAuthors(rec.Summary.Author),
			ImageURL:      rec.Summary.Cover,
			ImageQuality:  imageprobe.Refine(ctx, o.opts.prober, rec.Summary.Cover, cover.QualityMedium),
			Language:      "ja",
		})
	}
	return candidates, nil
}

// splitOpenBDAuthors turns "中川李枝子／著 大村百合子／イラスト" into names
// without role suffixes.
func splitOpenBDAuthors(raw string) []string {
	var authors []string
	for _, field := range strings.Fields(raw) {
		name, _, _ := strings.Cut(field, "／")
		name, _, _ = strings.Cut(name, "/")
		name = strings.TrimSpace(name)
		if name != "" {
			authors = append(authors, name)
		}
	}
	return authors
}
