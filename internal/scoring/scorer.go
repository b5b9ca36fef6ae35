// Package scoring ranks provider candidates against the requested book.
package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/lepinkainen/coverfinder/internal/cover"
	"github.com/lepinkainen/coverfinder/internal/textsim"
)

// MinTitleSimilarity is the early-reject threshold: candidates below it are
// never selected, whatever their other signals.
const MinTitleSimilarity = 0.5

// Weights are the tunable points of each signal.
type Weights struct {
	Title    float64
	Author   float64
	Language int
	Category int
	Quality  map[cover.ImageQuality]int
}

// DefaultWeights returns the production weights.
func DefaultWeights() Weights {
	return Weights{
		Title:    10,
		Author:   15,
		Language: 5,
		Category: 3,
		Quality: map[cover.ImageQuality]int{
			cover.QualityLarge:     8,
			cover.QualityMedium:    6,
			cover.QualitySmall:     4,
			cover.QualityThumbnail: 2,
		},
	}
}

var childMarkers = []string{
	"juvenile", "children", "child", "kids", "picture book",
	"児童", "絵本", "こども", "子ども", "幼児",
}

// Scorer assigns match scores to candidates.
type Scorer struct {
	weights Weights
	locale  string
}

// New creates a Scorer for the given target locale ("ja", "en", ...).
func New(weights Weights, locale string) *Scorer {
	return &Scorer{weights: weights, locale: normalizeLanguage(locale)}
}

// MaxScore is the total a perfect candidate reaches.
func (s *Scorer) MaxScore() int {
	best := 0
	for _, pts := range s.weights.Quality {
		best = max(best, pts)
	}
	return int(math.Round(s.weights.Title)) + int(math.Round(s.weights.Author)) +
		best + s.weights.Language + s.weights.Category
}

// Score computes the match signals of a single candidate.
func (s *Scorer) Score(q cover.BookQuery, c cover.Candidate) cover.ScoredCandidate {
	sc := cover.ScoredCandidate{Candidate: c}

	sc.TitleSimilarity = textsim.Similarity(q.Title, c.SourceTitle)
	sc.AuthorSimilarity = authorSimilarity(q.Author, c.SourceAuthors)
	sc.QualityScore = s.weights.Quality[c.ImageQuality]

	total := sc.QualityScore
	if sc.TitleSimilarity >= MinTitleSimilarity {
		total += scaled(s.weights.Title, sc.TitleSimilarity)
	}
	if sc.AuthorSimilarity >= 0.5 {
		total += scaled(s.weights.Author, sc.AuthorSimilarity)
	}
	if s.locale != "" && normalizeLanguage(c.Language) == s.locale {
		total += s.weights.Language
	}
	if hasChildMarker(c.Categories) {
		total += s.weights.Category
	}
	sc.TotalScore = total

	return sc
}

// Rank scores candidates and sorts them best first. planPriority maps plan
// names to their priority; candidates keep their input order as the final
// tie-breaker, so callers should pass them in provider declaration order.
func (s *Scorer) Rank(q cover.BookQuery, candidates []cover.Candidate, planPriority map[string]int) []cover.ScoredCandidate {
	ranked := make([]cover.ScoredCandidate, 0, len(candidates))
	for i, c := range candidates {
		sc := s.Score(q, c)
		sc.PlanPriority = planPriority[c.PlanName]
		sc.ProviderOrder = i
		ranked = append(ranked, sc)
	}
	Sort(ranked)
	return ranked
}

// Sort orders scored candidates by total score, then plan priority, then
// provider order.
func Sort(ranked []cover.ScoredCandidate) {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.PlanPriority != b.PlanPriority {
			return a.PlanPriority > b.PlanPriority
		}
		return a.ProviderOrder < b.ProviderOrder
	})
}

// Eligible reports whether a candidate may ever be selected.
func Eligible(sc cover.ScoredCandidate) bool {
	return sc.TitleSimilarity >= MinTitleSimilarity
}

// Confidence maps a total score onto 0..100.
func (s *Scorer) Confidence(total int) int {
	maxScore := s.MaxScore()
	if maxScore <= 0 {
		return 0
	}
	return clamp(int(math.Round(100*float64(total)/float64(maxScore))), 0, 100)
}

// authorSimilarity returns the best similarity over the candidate's authors.
// Containment in either direction scores 0.85 through textsim.
func authorSimilarity(queryAuthor string, authors []string) float64 {
	q := textsim.Normalize(queryAuthor)
	if q == "" {
		return 0
	}
	best := 0.0
	for _, a := range authors {
		best = max(best, textsim.NormalizedSimilarity(q, textsim.Normalize(a)))
	}
	return best
}

func scaled(weight, similarity float64) int {
	return int(math.Round(weight * similarity))
}

func hasChildMarker(categories []string) bool {
	for _, c := range categories {
		lower := strings.ToLower(c)
		for _, marker := range childMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

// normalizeLanguage maps ISO 639-2 codes used by some providers to 639-1.
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch lang {
	case "jpn":
		return "ja"
	case "eng":
		return "en"
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
