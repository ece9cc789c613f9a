// Package budget provides token cost estimation for delegation planning.
package budget

// ModelRate is the per-token USD price for one model.
type ModelRate struct {
	InputPerToken  float64
	OutputPerToken float64
}

// defaultRates is the static per-model rate table. Prices are USD per token.
// Models absent from the table cost zero; rates are externally supplied
// numbers, not a pricing source of truth.
var defaultRates = map[string]ModelRate{
	"gpt-4o":            {InputPerToken: 0.0000025, OutputPerToken: 0.00001},
	"gpt-4o-mini":       {InputPerToken: 0.00000015, OutputPerToken: 0.0000006},
	"claude-sonnet-4":   {InputPerToken: 0.000003, OutputPerToken: 0.000015},
	"claude-haiku-3.5":  {InputPerToken: 0.0000008, OutputPerToken: 0.000004},
	"gemini-2.0-flash":  {InputPerToken: 0.0000001, OutputPerToken: 0.0000004},
	"deepseek-chat":     {InputPerToken: 0.00000027, OutputPerToken: 0.0000011},
	"glm-4-plus":        {InputPerToken: 0.0000007, OutputPerToken: 0.0000007},
	"qwen-max":          {InputPerToken: 0.0000016, OutputPerToken: 0.0000064},
	"llama-3.3-70b":     {InputPerToken: 0, OutputPerToken: 0},
	"local":             {InputPerToken: 0, OutputPerToken: 0},
}

// RateTable looks up per-model rates.
type RateTable struct {
	rates map[string]ModelRate
}

// NewRateTable returns a table seeded with the default rates. Entries in
// overrides replace or extend the defaults.
func NewRateTable(overrides map[string]ModelRate) *RateTable {
	rates := make(map[string]ModelRate, len(defaultRates)+len(overrides))
	for m, r := range defaultRates {
		rates[m] = r
	}
	for m, r := range overrides {
		rates[m] = r
	}
	return &RateTable{rates: rates}
}

// Rate returns the rate for a model. Unknown models report ok=false and a
// zero rate.
func (t *RateTable) Rate(model string) (ModelRate, bool) {
	r, ok := t.rates[model]
	return r, ok
}

// Estimate applies the linear cost model: token counts times per-token rates.
// Unknown models cost zero.
func (t *RateTable) Estimate(model string, inputTokens, outputTokens int) float64 {
	r, ok := t.rates[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)*r.InputPerToken + float64(outputTokens)*r.OutputPerToken
}
