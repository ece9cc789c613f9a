package router

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Keyword families per category. Matching is case-insensitive substring.
var categoryKeywords = map[Category][]string{
	CategoryCode: {
		"code", "function", "implement", "debug", "compile", "refactor",
		"script", "program", "algorithm", "bug", "api", "class", "method",
	},
	CategoryAnalysis: {
		"analyze", "analysis", "compare", "evaluate", "explain", "summarize",
		"review", "assess", "complexity", "pros and cons", "trade-off",
	},
	CategoryCreative: {
		"write a story", "poem", "creative", "brainstorm", "imagine",
		"fiction", "slogan", "lyrics", "draft an essay",
	},
}

// DetectCategories returns every category whose keyword family matches the
// text, in a stable order. General is never included.
func DetectCategories(text string) []Category {
	lower := strings.ToLower(text)
	var matched []Category
	for _, cat := range []Category{CategoryCode, CategoryAnalysis, CategoryCreative} {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				matched = append(matched, cat)
				break
			}
		}
	}
	return matched
}

// KeywordRouter is the default TaskRouter: keyword-family classification plus
// a per-category provider preference table. Providers absent from Candidates
// are skipped; the first candidate is the fallback.
type KeywordRouter struct {
	preferences map[Category][]string // provider ids in preference order
	models      map[string]string     // provider id -> preferred model
	logger      *zap.Logger
}

// NewKeywordRouter creates a KeywordRouter. preferences maps categories to
// provider ids in preference order; models maps provider ids to the model to
// suggest for that provider (may be empty).
func NewKeywordRouter(preferences map[Category][]string, models map[string]string, logger *zap.Logger) *KeywordRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordRouter{
		preferences: preferences,
		models:      models,
		logger:      logger.With(zap.String("component", "keyword_router")),
	}
}

// Route classifies the text and picks the best candidate provider.
func (r *KeywordRouter) Route(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	category, confidence := r.classify(req.Text)

	provider := r.pickProvider(category, req.Candidates)
	res := &Result{
		Provider:   provider,
		Model:      r.models[provider],
		Category:   category,
		Confidence: confidence,
		Reason:     "keyword match for category " + string(category),
	}

	r.logger.Debug("routed segment",
		zap.String("category", string(category)),
		zap.String("provider", provider),
		zap.Float64("confidence", confidence),
	)
	return res, nil
}

// classify scores the text against each keyword family. Confidence grows with
// the number of distinct keyword hits for the winning category.
func (r *KeywordRouter) classify(text string) (Category, float64) {
	lower := strings.ToLower(text)
	best := CategoryGeneral
	bestHits := 0
	for _, cat := range []Category{CategoryCode, CategoryAnalysis, CategoryCreative} {
		hits := 0
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = cat
			bestHits = hits
		}
	}

	if bestHits == 0 {
		return CategoryGeneral, 0.3
	}
	confidence := 0.5 + 0.15*float64(bestHits)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return best, confidence
}

func (r *KeywordRouter) pickProvider(cat Category, candidates []string) string {
	inCandidates := func(id string) bool {
		for _, c := range candidates {
			if c == id {
				return true
			}
		}
		return false
	}
	for _, id := range r.preferences[cat] {
		if inCandidates(id) {
			return id
		}
	}
	return candidates[0]
}
