// Package cost estimates token counts and prices model calls.
package cost

import (
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/pario-ai/dispatch/pkg/models"
)

// DefaultOutputTokens is the expected completion length used when none is given.
const DefaultOutputTokens = 150

const perMillion = 1_000_000.0

// EstimateTokens approximates the token count of text as the larger of a
// character-based and a word-based estimate.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byChars := int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4))
	byWords := int(math.Ceil(float64(len(strings.Fields(text))) * 1.3))
	return max(byChars, byWords)
}

// CalculateCost prices a call. cachedInput is clamped to [0, input] and is
// billed at the cached rate; it costs nothing when the model has no cached rate.
func CalculateCost(input, output int, price models.Pricing, cachedInput int) models.CostEstimate {
	input = max(input, 0)
	output = max(output, 0)
	cachedInput = min(max(cachedInput, 0), input)

	est := models.CostEstimate{
		InputTokens:       input,
		OutputTokens:      output,
		CachedInputTokens: cachedInput,
		InputCost:         float64(input-cachedInput) / perMillion * price.InputPerMTok,
		OutputCost:        float64(output) / perMillion * price.OutputPerMTok,
		Currency:          models.CurrencyUSD,
	}
	if price.CachedInputPerMTok != nil {
		est.CachedInputCost = float64(cachedInput) / perMillion * *price.CachedInputPerMTok
	}
	est.TotalCost = est.InputCost + est.CachedInputCost + est.OutputCost
	return est
}

// EstimateCost prices prompt against model before the call is made.
// An unpriced model yields a zero estimate.
func EstimateCost(prompt string, model models.ModelConfig, providerID string, expectedOutput int) models.CostEstimate {
	if expectedOutput <= 0 {
		expectedOutput = DefaultOutputTokens
	}
	input := EstimateTokens(prompt)

	var est models.CostEstimate
	if model.Pricing == nil {
		est = models.CostEstimate{InputTokens: input, OutputTokens: expectedOutput, Currency: models.CurrencyUSD}
	} else {
		est = CalculateCost(input, expectedOutput, *model.Pricing, 0)
	}
	est.Provider = providerID
	est.Model = model.Name
	return est
}

// CalculateActualCost prices the usage reported by a provider.
func CalculateActualCost(usage models.Usage, model models.ModelConfig, providerID string) models.CostEstimate {
	var est models.CostEstimate
	if model.Pricing == nil {
		est = models.CostEstimate{
			InputTokens:       usage.InputTokens,
			OutputTokens:      usage.OutputTokens,
			CachedInputTokens: usage.CachedInputTokens,
			Currency:          models.CurrencyUSD,
		}
	} else {
		est = CalculateCost(usage.InputTokens, usage.OutputTokens, *model.Pricing, usage.CachedInputTokens)
	}
	est.Provider = providerID
	est.Model = model.Name
	return est
}

// Candidate is a provider/model pair to be priced.
type Candidate struct {
	ProviderID string
	Model      models.ModelConfig
}

// Comparison is a priced candidate.
type Comparison struct {
	Candidate
	Estimate models.CostEstimate
}

// CompareCosts prices every candidate for prompt and returns them cheapest
// first. Candidates of equal cost keep their input order.
func CompareCosts(prompt string, candidates []Candidate, expectedOutput int) []Comparison {
	out := make([]Comparison, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Comparison{
			Candidate: c,
			Estimate:  EstimateCost(prompt, c.Model, c.ProviderID, expectedOutput),
		})
	}
	slices.SortStableFunc(out, func(a, b Comparison) int {
		switch {
		case a.Estimate.TotalCost < b.Estimate.TotalCost:
			return -1
		case a.Estimate.TotalCost > b.Estimate.TotalCost:
			return 1
		}
		return 0
	})
	return out
}

// CheapestModel returns the cheapest candidate for prompt.
func CheapestModel(prompt string, candidates []Candidate, expectedOutput int) (Comparison, bool) {
	cmp := CompareCosts(prompt, candidates, expectedOutput)
	if len(cmp) == 0 {
		return Comparison{}, false
	}
	return cmp[0], true
}
