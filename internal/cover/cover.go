// Package cover holds the data model shared by every stage of cover resolution:
// the incoming book query, search plans, provider candidates and the final result.
package cover

import (
	"regexp"
	"strings"
)

var isbn13Pattern = regexp.MustCompile(`^97[89]\d{10}$`)

// BookQuery is the immutable input of a resolution.
type BookQuery struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	ISBN      string `json:"isbn,omitempty"`
	Genre     string `json:"genre,omitempty"`
	Publisher string `json:"publisher,omitempty"`
	Year      int    `json:"year,omitempty"`
}

// NormalizeISBN strips hyphens and spaces from an ISBN.
func NormalizeISBN(isbn string) string {
	normalized := strings.ReplaceAll(isbn, "-", "")
	normalized = strings.ReplaceAll(normalized, " ", "")
	return normalized
}

// TrustedISBN returns the normalized ISBN-13 when it is well formed, or "".
func (q BookQuery) TrustedISBN() string {
	isbn := NormalizeISBN(strings.TrimSpace(q.ISBN))
	if !isbn13Pattern.MatchString(isbn) {
		return ""
	}
	return isbn
}

// SearchPlan is one query formulation tried against providers during escalation.
type SearchPlan struct {
	StrategyName string
	Round        int
	// Priority breaks ties between candidates of equal score (higher first).
	Priority   int
	QueryTerms string
	UseISBN    bool

	// Structured parts of QueryTerms, for providers with field operators.
	Title  string
	Author string
	Exact  bool

	// Providers lists the adapter names invoked for this plan, in order.
	Providers []string
}

// ImageQuality is the size tier of a candidate image.
type ImageQuality int

const (
	QualityNone ImageQuality = iota
	QualityThumbnail
	QualitySmall
	QualityMedium
	QualityLarge
)

var qualityNames = [...]string{"none", "thumbnail", "small", "medium", "large"}

func (q ImageQuality) String() string {
	if q < QualityNone || q > QualityLarge {
		return "none"
	}
	return qualityNames[q]
}

// Candidate is a provider-returned record considered as a cover source.
type Candidate struct {
	SourceTitle   string
	SourceAuthors []string
	ImageURL      string
	ImageQuality  ImageQuality
	Language      string
	Categories    []string
	ProviderName  string
	PlanName      string
	// ISBNMatch is set when the candidate came from an ISBN-keyed lookup.
	ISBNMatch bool
}

// ScoredCandidate is a Candidate with its match signals against the query.
type ScoredCandidate struct {
	Candidate

	TitleSimilarity  float64
	AuthorSimilarity float64
	QualityScore     int
	TotalScore       int

	PlanPriority  int
	ProviderOrder int
}

// VerificationOutcome is the gate's decision on a single candidate.
type VerificationOutcome struct {
	Accepted   bool
	Confidence int
	Reason     string
	VisionUsed bool
}

// AccuracyMode controls how aggressively candidates are visually re-verified.
type AccuracyMode string

const (
	ModeStrict   AccuracyMode = "strict"
	ModeBalanced AccuracyMode = "balanced"
)

// ParseMode maps a request value to an AccuracyMode; empty means balanced.
func ParseMode(s string) (AccuracyMode, bool) {
	switch AccuracyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeBalanced:
		return ModeBalanced, true
	case ModeStrict:
		return ModeStrict, true
	default:
		return "", false
	}
}

// ResolutionResult is the only value that crosses the system boundary.
type ResolutionResult struct {
	Success      bool   `json:"success"`
	ImageURL     string `json:"imageUrl,omitempty"`
	Confidence   int    `json:"confidence"`
	Source       string `json:"source"`
	StrategyUsed string `json:"strategyUsed,omitempty"`
}

// Resolution wraps a result with diagnostics that stay inside the process.
type Resolution struct {
	Result    ResolutionResult
	FromCache bool
	Rounds    int
	// BestCandidate is the best-ranked candidate seen, kept even when nothing was accepted.
	BestCandidate *ScoredCandidate
	ProviderCalls int
}
