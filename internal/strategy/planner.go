// Package strategy builds the escalating list of search plans tried for a
// book, from the most specific (ISBN) to the loosest (title only).
package strategy

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lepinkainen/coverfinder/internal/cover"
	"github.com/lepinkainen/coverfinder/internal/providers"
)

// Strategy names, in round order.
const (
	ISBN                 = "isbn"
	ExactTitleAuthor     = "exact_title_author"
	TitleAuthorPublisher = "title_author_publisher"
	TitleAuthorYear      = "title_author_year"
	SeriesWork           = "series_work"
	FuzzyTitleAuthor     = "fuzzy_title_author"
	AuthorBibliography   = "author_bibliography"
	AlternateEdition     = "alternate_edition"
	PartialTitle         = "partial_title"
	TitleOnly            = "title_only"
)

// Rounds lists every strategy in escalation order.
var Rounds = []string{
	ISBN,
	ExactTitleAuthor,
	TitleAuthorPublisher,
	TitleAuthorYear,
	SeriesWork,
	FuzzyTitleAuthor,
	AuthorBibliography,
	AlternateEdition,
	PartialTitle,
	TitleOnly,
}

// FinalRound is the only round that invokes Fallback providers.
const FinalRound = 10

const volumeNumber = `[0-9０-９一二三四五六七八九十]+`

var (
	subtitlePattern  = regexp.MustCompile(`\s*(?:[:：]|\s[-‐―—–]\s|[〜~～]).*$`)
	volumePattern    = regexp.MustCompile(`(?i)(?:\s*[（(]\s*(?:第?\s*` + volumeNumber + `\s*[巻集部]?|vol\.?\s*[0-9]+|[上中下])\s*[）)]|\s*第?\s*` + volumeNumber + `\s*[巻集部]|\s+(?:vol\.?\s*)?[0-9０-９]+|\s+[上中下])$`)
	editionPattern   = regexp.MustCompile(`(?i)\s*[（(\[［]?\s*(?:新装版|改訂新版|改訂版|新版|愛蔵版|文庫版|特装版|限定版|普及版|復刻版|決定版|完全版|増補版|第\s*[0-9０-９]+\s*版|(?:new|revised|anniversary|special)\s+edition|[0-9]+(?:st|nd|rd|th)\s+edition)\s*[）)\]］]?`)
	segmentSeparator = regexp.MustCompile(`[\s・:：/／、,，!！?？「」『』【】（）()\[\]〜~～\-‐―—–]+`)
	punctuation      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// ProviderCatalog lists provider names by capability in declaration order.
type ProviderCatalog interface {
	NamesWith(c providers.Capability) []string
}

// Planner turns a query into an ordered list of search plans.
type Planner struct {
	catalog ProviderCatalog
}

// New creates a Planner that assigns providers from catalog.
func New(catalog ProviderCatalog) *Planner {
	return &Planner{catalog: catalog}
}

// Plan returns the plans for q in round order. Rounds that do not apply to
// the query are skipped and plans repeating an earlier (terms, ISBN) pair
// are dropped, except that the final round still runs the fallbacks.
func (p *Planner) Plan(q cover.BookQuery) []cover.SearchPlan {
	title := collapse(q.Title)
	author := collapse(q.Author)

	var plans []cover.SearchPlan
	seen := map[string]bool{}
	add := func(round int, plan cover.SearchPlan) {
		plan.QueryTerms = collapse(plan.QueryTerms)
		if plan.QueryTerms == "" {
			return
		}
		plan.Providers = p.providersFor(round, plan.UseISBN)

		key := fmt.Sprintf("%t|%s", plan.UseISBN, plan.QueryTerms)
		if seen[key] {
			// A repeated final round only asks the fallbacks, which no
			// earlier plan reached.
			if round != FinalRound {
				return
			}
			plan.Providers = p.catalog.NamesWith(providers.Fallback)
		}
		seen[key] = true

		plan.StrategyName = Rounds[round-1]
		plan.Round = round
		plan.Priority = len(Rounds) - round + 1
		if len(plan.Providers) == 0 {
			return
		}
		plans = append(plans, plan)
	}

	if isbn := q.TrustedISBN(); isbn != "" {
		add(1, cover.SearchPlan{QueryTerms: isbn, UseISBN: true})
	}

	if title != "" {
		add(2, cover.SearchPlan{QueryTerms: join(title, author), Title: title, Author: author, Exact: true})
	}

	if title != "" && strings.TrimSpace(q.Publisher) != "" {
		add(3, cover.SearchPlan{QueryTerms: join(title, author, collapse(q.Publisher)), Title: title, Author: author})
	}

	if title != "" && q.Year > 0 {
		add(4, cover.SearchPlan{QueryTerms: join(title, author, fmt.Sprint(q.Year)), Title: title, Author: author})
	}

	if work := SeriesTitle(title); work != "" && work != title {
		add(5, cover.SearchPlan{QueryTerms: join(work, author), Title: work, Author: author})
	}

	if fuzzy := FuzzyTitle(title); fuzzy != "" {
		add(6, cover.SearchPlan{QueryTerms: join(fuzzy, author), Title: fuzzy, Author: author})
	}

	if author != "" {
		add(7, cover.SearchPlan{QueryTerms: author, Author: author, Exact: true})
	}

	if base := StripEdition(title); base != "" && base != title {
		add(8, cover.SearchPlan{QueryTerms: join(base, author), Title: base, Author: author})
	}

	if part := LongestSegment(title); part != "" && part != title {
		add(9, cover.SearchPlan{QueryTerms: join(part, author), Title: part, Author: author})
	}

	if title != "" {
		add(10, cover.SearchPlan{QueryTerms: title})
	}

	return plans
}

// Priorities maps strategy names to plan priorities for scoring tie-breaks.
func Priorities(plans []cover.SearchPlan) map[string]int {
	m := make(map[string]int, len(plans))
	for _, plan := range plans {
		m[plan.StrategyName] = plan.Priority
	}
	return m
}

func (p *Planner) providersFor(round int, useISBN bool) []string {
	if useISBN {
		return p.catalog.NamesWith(providers.ISBNLookup)
	}
	names := p.catalog.NamesWith(providers.TextSearch)
	if round == FinalRound {
		names = append(names, p.catalog.NamesWith(providers.Fallback)...)
	}
	return names
}

// SeriesTitle strips subtitles and volume markers, leaving the work title.
func SeriesTitle(title string) string {
	work := subtitlePattern.ReplaceAllString(title, "")
	work = volumePattern.ReplaceAllString(work, "")
	return collapse(work)
}

// FuzzyTitle replaces punctuation with spaces.
func FuzzyTitle(title string) string {
	return collapse(punctuation.ReplaceAllString(title, " "))
}

// StripEdition removes edition markers such as 新装版 or "Revised Edition".
func StripEdition(title string) string {
	return collapse(editionPattern.ReplaceAllString(title, " "))
}

// LongestSegment returns the longest piece of a title split on separators.
func LongestSegment(title string) string {
	var best string
	for _, seg := range segmentSeparator.Split(title, -1) {
		if utf8.RuneCountInString(seg) > utf8.RuneCountInString(best) {
			best = seg
		}
	}
	return best
}

func join(parts ...string) string {
	return collapse(strings.Join(parts, " "))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
