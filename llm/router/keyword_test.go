package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func route(t *testing.T, r *KeywordRouter, text string, candidates ...string) *Result {
	t.Helper()
	res, err := r.Route(context.Background(), &Request{Text: text, Candidates: candidates})
	require.NoError(t, err)
	return res
}

func TestDetectCategories(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Category
	}{
		{"code only", "please refactor this function", []Category{CategoryCode}},
		{"analysis only", "summarize the findings", []Category{CategoryAnalysis}},
		{"creative only", "write a story about a lighthouse", []Category{CategoryCreative}},
		{"code and analysis", "implement the cache and explain the trade-off", []Category{CategoryCode, CategoryAnalysis}},
		{"case insensitive", "REVIEW this ALGORITHM", []Category{CategoryCode, CategoryAnalysis}},
		{"no match", "hello there", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectCategories(tt.text))
		})
	}
}

func TestRouteNoCandidates(t *testing.T) {
	r := NewKeywordRouter(nil, nil, zap.NewNop())
	_, err := r.Route(context.Background(), &Request{Text: "anything"})
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestRouteUnmatchedTextIsGeneralLowConfidence(t *testing.T) {
	r := NewKeywordRouter(nil, nil, zap.NewNop())
	res := route(t, r, "hello there", "alpha", "beta")
	assert.Equal(t, CategoryGeneral, res.Category)
	assert.InDelta(t, 0.3, res.Confidence, 1e-9)
	assert.Equal(t, "alpha", res.Provider, "falls back to the first candidate")
}

func TestClassifyConfidenceGrowsWithHits(t *testing.T) {
	r := NewKeywordRouter(nil, nil, zap.NewNop())

	one := route(t, r, "please compile this", "alpha")
	assert.InDelta(t, 0.65, one.Confidence, 1e-9)

	two := route(t, r, "compile the script", "alpha")
	assert.InDelta(t, 0.80, two.Confidence, 1e-9)

	// Seven distinct hits would score 1.55; confidence is capped.
	many := route(t, r, "compile the script, implement the algorithm, refactor the class method", "alpha")
	assert.Equal(t, CategoryCode, many.Category)
	assert.InDelta(t, 0.95, many.Confidence, 1e-9)
}

func TestRoutePrefersConfiguredProvider(t *testing.T) {
	prefs := map[Category][]string{
		CategoryCode:     {"code-specialist", "generalist"},
		CategoryAnalysis: {"analyst"},
	}
	models := map[string]string{"code-specialist": "coder-32b"}
	r := NewKeywordRouter(prefs, models, zap.NewNop())

	res := route(t, r, "refactor this function", "generalist", "code-specialist")
	assert.Equal(t, "code-specialist", res.Provider)
	assert.Equal(t, "coder-32b", res.Model)
	assert.Equal(t, CategoryCode, res.Category)
}

func TestRouteSkipsPreferredProviderNotInCandidates(t *testing.T) {
	prefs := map[Category][]string{
		CategoryCode: {"code-specialist", "generalist"},
	}
	r := NewKeywordRouter(prefs, nil, zap.NewNop())

	res := route(t, r, "refactor this function", "other", "generalist")
	assert.Equal(t, "generalist", res.Provider, "next preference that is a candidate wins")

	res = route(t, r, "refactor this function", "other", "another")
	assert.Equal(t, "other", res.Provider, "first candidate when no preference matches")
}

func TestRouteTieGoesToFirstCategory(t *testing.T) {
	r := NewKeywordRouter(nil, nil, zap.NewNop())
	// One hit each for code ("bug") and analysis ("review").
	res := route(t, r, "review the bug", "alpha")
	assert.Equal(t, CategoryCode, res.Category)
}
