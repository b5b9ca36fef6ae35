// Package verify decides whether a scored candidate is accepted as the cover
// of the requested book, optionally asking a visual-verification collaborator
// to read the title and author off the image.
package verify

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/lepinkainen/coverfinder/internal/cover"
	"github.com/lepinkainen/coverfinder/internal/scoring"
)

// VisionResult is what the visual-verification collaborator read off a cover.
type VisionResult struct {
	CoverTitle  string `json:"coverTitle"`
	CoverAuthor string `json:"coverAuthor"`
	TitleMatch  bool   `json:"titleMatch"`
	AuthorMatch bool   `json:"authorMatch"`
	Confidence  int    `json:"confidence"`
	IsValid     bool   `json:"isValid"`
	Reason      string `json:"reason"`
}

// VisionValidator checks an image against an expected title and author.
type VisionValidator interface {
	Validate(ctx context.Context, imageURL, title, author string) (VisionResult, error)
}

// Options tune the gate.
type Options struct {
	// MinVisionConfidence is the collaborator confidence strict mode requires.
	MinVisionConfidence int
	// TopN candidates of the pool are sent to the collaborator in balanced mode.
	TopN int
	// PoolSize bounds how many ranked candidates are considered at all.
	PoolSize int
	// SkipFraction of balanced collaborator calls are replaced by trusting the score.
	SkipFraction float64
	// ScoreFloor is the total score a candidate needs to be trusted without vision.
	ScoreFloor int
	// ISBNConfidence is the confidence given to trusted ISBN-keyed matches.
	ISBNConfidence int
}

// DefaultOptions returns the production gate settings.
func DefaultOptions() Options {
	return Options{
		MinVisionConfidence: 90,
		TopN:                3,
		PoolSize:            8,
		SkipFraction:        0.3,
		ScoreFloor:          20,
		ISBNConfidence:      95,
	}
}

// Gate implements acceptance for both accuracy modes.
type Gate struct {
	opts   Options
	vision VisionValidator
	scorer *scoring.Scorer
	rand   func() float64
}

// Option is a functional option for configuring the Gate.
type Option func(*Gate)

// WithVision sets the visual-verification collaborator.
func WithVision(v VisionValidator) Option {
	return func(g *Gate) {
		g.vision = v
	}
}

// WithRand replaces the random source used for balanced-mode skipping.
func WithRand(r func() float64) Option {
	return func(g *Gate) {
		if r != nil {
			g.rand = r
		}
	}
}

// New creates a Gate. The scorer maps total scores to confidence.
func New(opts Options, scorer *scoring.Scorer, options ...Option) *Gate {
	g := &Gate{
		opts:   opts,
		scorer: scorer,
		rand:   rand.Float64,
	}
	for _, o := range options {
		o(g)
	}
	return g
}

// HasVision reports whether a collaborator is configured.
func (g *Gate) HasVision() bool {
	return g.vision != nil
}

// Pool returns the leading candidates of ranked that Select examines.
func (g *Gate) Pool(ranked []cover.ScoredCandidate) []cover.ScoredCandidate {
	if g.opts.PoolSize > 0 && len(ranked) > g.opts.PoolSize {
		return ranked[:g.opts.PoolSize]
	}
	return ranked
}

// Select walks the ranked pool best first and returns the first accepted
// candidate. ranked must already be sorted by scoring.Sort.
func (g *Gate) Select(ctx context.Context, q cover.BookQuery, ranked []cover.ScoredCandidate, mode cover.AccuracyMode) (cover.ScoredCandidate, cover.VerificationOutcome, bool) {
	pool := g.Pool(ranked)

	rank := 0
	visionRejected := false
	for _, sc := range pool {
		if ctx.Err() != nil {
			break
		}
		if !scoring.Eligible(sc) || !hasUsableImage(sc) {
			continue
		}

		var outcome cover.VerificationOutcome
		if mode != cover.ModeStrict && visionRejected && rank >= g.opts.TopN {
			// A lower-ranked, unverified candidate never overrides a visual rejection.
			outcome = reject("outside visual verification budget after a visual rejection")
		} else {
			outcome = g.Verify(ctx, q, sc, mode, rank)
		}
		rank++
		if !outcome.Accepted && strings.HasPrefix(outcome.Reason, reasonVisualReject) {
			visionRejected = true
		}
		slog.Debug("Verified candidate",
			"provider", sc.ProviderName,
			"plan", sc.PlanName,
			"title", sc.SourceTitle,
			"score", sc.TotalScore,
			"accepted", outcome.Accepted,
			"confidence", outcome.Confidence,
			"reason", outcome.Reason,
		)
		if outcome.Accepted {
			return sc, outcome, true
		}
	}
	return cover.ScoredCandidate{}, cover.VerificationOutcome{Reason: "no candidate accepted"}, false
}

// Verify decides on a single candidate. rank is its position among the
// eligible candidates of the pool (0 = best). Verify never fails: collaborator
// errors degrade per mode.
func (g *Gate) Verify(ctx context.Context, q cover.BookQuery, sc cover.ScoredCandidate, mode cover.AccuracyMode, rank int) cover.VerificationOutcome {
	if !scoring.Eligible(sc) {
		return reject("title similarity below threshold")
	}
	if !hasUsableImage(sc) {
		return reject("candidate has no usable image")
	}

	if mode == cover.ModeStrict {
		return g.verifyStrict(ctx, q, sc)
	}
	return g.verifyBalanced(ctx, q, sc, rank)
}

func (g *Gate) verifyStrict(ctx context.Context, q cover.BookQuery, sc cover.ScoredCandidate) cover.VerificationOutcome {
	if g.vision == nil {
		return reject("strict mode requires visual verification")
	}

	res, err := g.vision.Validate(ctx, sc.ImageURL, q.Title, q.Author)
	if err != nil {
		slog.Warn("Visual verification failed", "provider", sc.ProviderName, "url", sc.ImageURL, "error", err)
		return cover.VerificationOutcome{Reason: "visual verification failed", VisionUsed: true}
	}

	outcome := cover.VerificationOutcome{Confidence: clampConfidence(res.Confidence), VisionUsed: true, Reason: res.Reason}
	switch {
	case !res.IsValid:
		outcome.Reason = prefixReason("image is not a valid cover", res.Reason)
	case res.Confidence < g.opts.MinVisionConfidence:
		outcome.Reason = prefixReason("visual confidence too low", res.Reason)
	case !res.TitleMatch || !res.AuthorMatch:
		outcome.Reason = prefixReason("cover text does not match", res.Reason)
	default:
		outcome.Accepted = true
		if outcome.Reason == "" {
			outcome.Reason = "visually verified"
		}
	}
	return outcome
}

func (g *Gate) verifyBalanced(ctx context.Context, q cover.BookQuery, sc cover.ScoredCandidate, rank int) cover.VerificationOutcome {
	trusted := sc.TotalScore >= g.opts.ScoreFloor
	scoreConfidence := g.scorer.Confidence(sc.TotalScore)

	if sc.ISBNMatch && trusted {
		return cover.VerificationOutcome{
			Accepted:   true,
			Confidence: max(scoreConfidence, g.opts.ISBNConfidence),
			Reason:     "ISBN match trusted on score",
		}
	}

	onScore := func(reason string) cover.VerificationOutcome {
		if !trusted {
			return reject(reason + "; score below floor")
		}
		return cover.VerificationOutcome{Accepted: true, Confidence: scoreConfidence, Reason: reason + "; accepted on score"}
	}

	if g.vision == nil {
		return onScore("no visual verifier")
	}
	if rank >= g.opts.TopN {
		return onScore("outside visual verification budget")
	}
	if trusted && g.rand() < g.opts.SkipFraction {
		return onScore("visual verification skipped")
	}

	res, err := g.vision.Validate(ctx, sc.ImageURL, q.Title, q.Author)
	if err != nil {
		slog.Warn("Visual verification failed, falling back to score", "provider", sc.ProviderName, "url", sc.ImageURL, "error", err)
		out := onScore("visual verification failed")
		out.VisionUsed = true
		return out
	}

	if res.IsValid && res.TitleMatch {
		return cover.VerificationOutcome{
			Accepted:   true,
			Confidence: clampConfidence(max(res.Confidence, scoreConfidence)),
			Reason:     prefixReason("visually verified", res.Reason),
			VisionUsed: true,
		}
	}
	return cover.VerificationOutcome{
		Confidence: clampConfidence(res.Confidence),
		Reason:     prefixReason(reasonVisualReject, res.Reason),
		VisionUsed: true,
	}
}

const reasonVisualReject = "visual verification rejected cover"

func hasUsableImage(sc cover.ScoredCandidate) bool {
	return sc.ImageURL != "" && sc.ImageQuality != cover.QualityNone
}

func reject(reason string) cover.VerificationOutcome {
	return cover.VerificationOutcome{Reason: reason}
}

func prefixReason(prefix, detail string) string {
	if detail == "" {
		return prefix
	}
	return prefix + ": " + detail
}

func clampConfidence(c int) int {
	return max(0, min(c, 100))
}
