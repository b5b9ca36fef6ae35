// Package providers adapts bibliographic sources to a single search contract.
// Each adapter turns a provider-specific response into cover candidates.
package providers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/lepinkainen/coverfinder/internal/cover"
	apperrors "github.com/lepinkainen/coverfinder/internal/errors"
)

// Capability describes which kinds of plans a provider can serve.
type Capability uint8

const (
	// ISBNLookup providers answer plans keyed by ISBN.
	ISBNLookup Capability = 1 << iota
	// TextSearch providers answer title/author plans.
	TextSearch
	// Fallback providers are slow or fragile and only run in the final round.
	Fallback
)

// Has reports whether all bits of other are set.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) String() string {
	var parts []string
	if c.Has(ISBNLookup) {
		parts = append(parts, "isbn")
	}
	if c.Has(TextSearch) {
		parts = append(parts, "text")
	}
	if c.Has(Fallback) {
		parts = append(parts, "fallback")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Provider is the uniform adapter contract.
type Provider interface {
	Name() string
	Capabilities() Capability
	// Search returns candidates for the plan. An empty list is a valid answer;
	// errors are *errors.ProviderError or context errors.
	Search(ctx context.Context, plan cover.SearchPlan, q cover.BookQuery) ([]cover.Candidate, error)
}

// SearchResult is the combined outcome of running a plan across providers.
type SearchResult struct {
	// Candidates in provider declaration order.
	Candidates []cover.Candidate
	Calls      int
	Succeeded  int
	Failed     int
}

// Set is the ordered, closed list of providers the resolver uses.
type Set struct {
	providers []Provider
}

// NewSet creates a Set. Declaration order is the final scoring tie-breaker.
func NewSet(providers ...Provider) *Set {
	s := &Set{}
	for _, p := range providers {
		if p != nil {
			s.providers = append(s.providers, p)
		}
	}
	return s
}

// Names returns provider names in declaration order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		names = append(names, p.Name())
	}
	return names
}

// NamesWith returns the names of providers having the capability, in declaration order.
func (s *Set) NamesWith(c Capability) []string {
	var names []string
	for _, p := range s.providers {
		if p.Capabilities().Has(c) {
			names = append(names, p.Name())
		}
	}
	return names
}

// Get returns the provider with the given name.
func (s *Set) Get(name string) (Provider, bool) {
	for _, p := range s.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Search runs the plan against each provider it names, in order. Provider
// failures are logged and turned into empty results; only context
// cancellation stops the loop early.
func (s *Set) Search(ctx context.Context, plan cover.SearchPlan, q cover.BookQuery) SearchResult {
	var result SearchResult

	for _, name := range plan.Providers {
		if ctx.Err() != nil {
			break
		}
		p, ok := s.Get(name)
		if !ok {
			slog.Debug("Plan names unknown provider", "provider", name, "plan", plan.StrategyName)
			continue
		}

		result.Calls++
		candidates, err := p.Search(ctx, plan, q)
		if err != nil {
			result.Failed++
			if ctx.Err() != nil {
				break
			}
			logProviderFailure(p.Name(), plan, err)
			continue
		}
		result.Succeeded++

		for _, c := range candidates {
			c.ProviderName = p.Name()
			c.PlanName = plan.StrategyName
			if plan.UseISBN {
				c.ISBNMatch = true
			}
			result.Candidates = append(result.Candidates, c)
		}
		slog.Debug("Provider search finished",
			"provider", p.Name(),
			"plan", plan.StrategyName,
			"candidates", len(candidates),
		)
	}

	return result
}

func logProviderFailure(name string, plan cover.SearchPlan, err error) {
	kind := "error"
	switch {
	case apperrors.IsRateLimitError(err):
		kind = "rate_limited"
	case apperrors.IsMalformedResponse(err):
		kind = apperrors.MalformedResponse.String()
	case apperrors.IsProviderError(err):
		kind = apperrors.ProviderUnavailable.String()
	}
	slog.Warn("Provider search failed",
		"provider", name,
		"plan", plan.StrategyName,
		"kind", kind,
		"error", err,
	)
}
