package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateLinearModel(t *testing.T) {
	table := NewRateTable(map[string]ModelRate{
		"test-model": {InputPerToken: 0.000002, OutputPerToken: 0.000008},
	})

	assert.InDelta(t, 0.0, table.Estimate("test-model", 0, 0), 1e-12)
	assert.InDelta(t, 500*0.000002+800*0.000008, table.Estimate("test-model", 500, 800), 1e-12)

	// Doubling the volume doubles the estimate.
	assert.InDelta(t, 2*table.Estimate("test-model", 500, 800), table.Estimate("test-model", 1000, 1600), 1e-12)
}

func TestEstimateUnknownModelIsZero(t *testing.T) {
	table := NewRateTable(nil)
	assert.Equal(t, 0.0, table.Estimate("model-nobody-priced", 500, 800))

	_, ok := table.Rate("model-nobody-priced")
	assert.False(t, ok)
}

func TestDefaultRatesAreSeeded(t *testing.T) {
	table := NewRateTable(nil)

	rate, ok := table.Rate("gpt-4o")
	assert.True(t, ok)
	assert.Greater(t, rate.InputPerToken, 0.0)

	// Local models are listed but free.
	rate, ok = table.Rate("local")
	assert.True(t, ok)
	assert.Equal(t, 0.0, table.Estimate("local", 500, 800))
	assert.Equal(t, 0.0, rate.InputPerToken)
}

func TestOverridesReplaceDefaults(t *testing.T) {
	table := NewRateTable(map[string]ModelRate{
		"gpt-4o": {InputPerToken: 1, OutputPerToken: 1},
	})

	rate, ok := table.Rate("gpt-4o")
	assert.True(t, ok)
	assert.Equal(t, 1.0, rate.InputPerToken)

	// Untouched defaults survive.
	_, ok = table.Rate("deepseek-chat")
	assert.True(t, ok)
}
