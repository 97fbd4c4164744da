package models

import "time"

// Audit outcomes.
const (
	OutcomeRouted  = "routed"
	OutcomeNoRoute = "no_route"
)

// AuditEntry records one routing decision.
type AuditEntry struct {
	RequestID  string    `json:"request_id"`
	Profile    string    `json:"profile"`
	RuleID     string    `json:"rule_id"`
	Mode       string    `json:"mode"`
	ProviderID string    `json:"provider_id,omitempty"`
	ModelName  string    `json:"model_name,omitempty"`
	Score      int       `json:"score"`
	Outcome    string    `json:"outcome"`
	Reasoning  []string  `json:"reasoning,omitempty"`
	PromptHash string    `json:"prompt_hash,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditConfig controls the decision audit log.
type AuditConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	DBPath        string `json:"db_path" yaml:"db_path" toml:"db_path"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days" toml:"retention_days" validate:"gte=0"`
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	RequestID  string
	RuleID     string
	ProviderID string
	Outcome    string
	Since      time.Time
	Limit      int
}

// AuditStat holds aggregate decision counts for a provider/model/day combination.
type AuditStat struct {
	ProviderID string `json:"provider_id"`
	ModelName  string `json:"model_name"`
	Day        string `json:"day"`
	Count      int    `json:"count"`
}
