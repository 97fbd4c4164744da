package cost

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/dispatch/pkg/models"
)

func ptr(f float64) *float64 { return &f }

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	// 11 runes -> 3 by chars, 2 words -> 3 by words
	assert.Equal(t, 3, EstimateTokens("hello world"))
	// long single word: chars dominate
	assert.Equal(t, 5, EstimateTokens(strings.Repeat("a", 20)))
	// ten short words: words dominate (ceil(13.0) = 13)
	assert.Equal(t, 13, EstimateTokens(strings.TrimSpace(strings.Repeat("a ", 10))))
	// multi-byte runes count once: 2 runes -> 1, one word -> 2
	assert.Equal(t, 2, EstimateTokens("日本"))
}

func TestCalculateCost(t *testing.T) {
	price := models.Pricing{InputPerMTok: 3, OutputPerMTok: 15, CachedInputPerMTok: ptr(0.3)}

	est := CalculateCost(1_000_000, 1_000_000, price, 500_000)
	assert.InDelta(t, 1.5, est.InputCost, 1e-9)
	assert.InDelta(t, 0.15, est.CachedInputCost, 1e-9)
	assert.InDelta(t, 15, est.OutputCost, 1e-9)
	assert.InDelta(t, 16.65, est.TotalCost, 1e-9)
	assert.Equal(t, models.CurrencyUSD, est.Currency)
}

func TestCalculateCostClampsCached(t *testing.T) {
	price := models.Pricing{InputPerMTok: 2, OutputPerMTok: 4, CachedInputPerMTok: ptr(1)}

	over := CalculateCost(1000, 0, price, 5000)
	assert.Equal(t, 1000, over.CachedInputTokens)
	assert.Zero(t, over.InputCost)

	neg := CalculateCost(1000, 0, price, -10)
	assert.Equal(t, 0, neg.CachedInputTokens)
	assert.InDelta(t, 0.002, neg.TotalCost, 1e-12)
}

func TestCalculateCostWithoutCachedRate(t *testing.T) {
	price := models.Pricing{InputPerMTok: 2, OutputPerMTok: 4}
	est := CalculateCost(1000, 0, price, 400)
	assert.Zero(t, est.CachedInputCost)
	assert.InDelta(t, 600.0/1e6*2, est.TotalCost, 1e-12)
}

func TestEstimateCostUnpriced(t *testing.T) {
	est := EstimateCost("write a poem", models.ModelConfig{Name: "llama3:8b"}, "ollama", 0)
	assert.Zero(t, est.TotalCost)
	assert.Equal(t, "ollama", est.Provider)
	assert.Equal(t, "llama3:8b", est.Model)
	assert.Equal(t, DefaultOutputTokens, est.OutputTokens)
}

func TestEstimateCostDeterministic(t *testing.T) {
	m := models.ModelConfig{Name: "m", Pricing: &models.Pricing{InputPerMTok: 1, OutputPerMTok: 2}}
	a := EstimateCost("same prompt text", m, "p", 200)
	b := EstimateCost("same prompt text", m, "p", 200)
	assert.Equal(t, a, b)
}

func TestActualCostMatchesCalculateWithoutCache(t *testing.T) {
	price := models.Pricing{InputPerMTok: 5, OutputPerMTok: 25, CachedInputPerMTok: ptr(0.5)}
	m := models.ModelConfig{Name: "m", Pricing: &price}

	actual := CalculateActualCost(models.Usage{InputTokens: 1234, OutputTokens: 567}, m, "p")
	calc := CalculateCost(1234, 567, price, 0)
	assert.Equal(t, calc.TotalCost, actual.TotalCost)
	assert.Equal(t, calc.InputCost, actual.InputCost)
}

func TestCompareCostsStable(t *testing.T) {
	free := models.ModelConfig{Name: "free"}
	cheap := models.ModelConfig{Name: "cheap", Pricing: &models.Pricing{InputPerMTok: 1, OutputPerMTok: 1}}
	pricey := models.ModelConfig{Name: "pricey", Pricing: &models.Pricing{InputPerMTok: 10, OutputPerMTok: 10}}
	alsoFree := models.ModelConfig{Name: "also-free"}

	cmp := CompareCosts("hello", []Candidate{
		{"a", pricey}, {"b", free}, {"c", cheap}, {"d", alsoFree},
	}, 0)
	require.Len(t, cmp, 4)
	names := []string{cmp[0].Model.Name, cmp[1].Model.Name, cmp[2].Model.Name, cmp[3].Model.Name}
	assert.Equal(t, []string{"free", "also-free", "cheap", "pricey"}, names)

	best, ok := CheapestModel("hello", []Candidate{{"a", pricey}, {"c", cheap}}, 0)
	require.True(t, ok)
	assert.Equal(t, "c", best.ProviderID)

	_, ok = CheapestModel("hello", nil, 0)
	assert.False(t, ok)
}
