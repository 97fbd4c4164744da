package models

// Usage represents token counts reported by a provider after a call.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// Currency used for every cost figure.
const CurrencyUSD = "USD"

// CostEstimate is an estimated or actual cost breakdown.
type CostEstimate struct {
	Provider          string  `json:"provider,omitempty"`
	Model             string  `json:"model,omitempty"`
	InputTokens       int     `json:"input_tokens"`
	OutputTokens      int     `json:"output_tokens"`
	CachedInputTokens int     `json:"cached_input_tokens,omitempty"`
	InputCost         float64 `json:"input_cost"`
	CachedInputCost   float64 `json:"cached_input_cost,omitempty"`
	OutputCost        float64 `json:"output_cost"`
	TotalCost         float64 `json:"total_cost"`
	Currency          string  `json:"currency"`
}
