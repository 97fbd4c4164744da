package models

// RoutingResult is the candidate chosen for a request.
type RoutingResult struct {
	ProviderID    string         `json:"provider_id"`
	ModelName     string         `json:"model_name"`
	Provider      ProviderConfig `json:"provider"`
	Model         ModelConfig    `json:"model"`
	Score         int            `json:"score"`
	Rule          *RoutingRule   `json:"rule,omitempty"`
	Call          string         `json:"call"`
	Mode          string         `json:"mode"`
	Reasoning     []string       `json:"reasoning"`
	EstimatedCost *CostEstimate  `json:"estimated_cost,omitempty"`
}

// RuleID returns the matched rule id, or "default".
func (r *RoutingResult) RuleID() string {
	if r == nil || r.Rule == nil {
		return "default"
	}
	return r.Rule.ID
}

// Alternative describes one candidate as seen by a dry-run.
type Alternative struct {
	ProviderID string  `json:"provider_id"`
	ModelName  string  `json:"model_name"`
	Score      int     `json:"score"`
	Available  bool    `json:"available"`
	Reason     string  `json:"reason,omitempty"`
	Cost       float64 `json:"estimated_cost"`
}
