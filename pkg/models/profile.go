package models

import (
	"slices"
	"strings"
	"time"
)

// Provider kinds.
const (
	KindOpenAICompat = "openai-compat"
	KindOllama       = "ollama"
	KindCustom       = "custom"
)

// Call kinds a rule can target.
const (
	CallChat       = "chat"
	CallCompletion = "completion"
)

// Pricing is the per-million-token price of a model in USD.
type Pricing struct {
	InputPerMTok       float64  `json:"input_per_mtok" yaml:"input_per_mtok" toml:"input_per_mtok" validate:"gte=0"`
	OutputPerMTok      float64  `json:"output_per_mtok" yaml:"output_per_mtok" toml:"output_per_mtok" validate:"gte=0"`
	CachedInputPerMTok *float64 `json:"cached_input_per_mtok,omitempty" yaml:"cached_input_per_mtok,omitempty" toml:"cached_input_per_mtok,omitempty" validate:"omitempty,gte=0"`
}

// ModelConfig is a model exposed by a provider.
type ModelConfig struct {
	Name         string   `json:"name" yaml:"name" toml:"name" validate:"required"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities" toml:"capabilities"`
	Pricing      *Pricing `json:"pricing,omitempty" yaml:"pricing,omitempty" toml:"pricing,omitempty" validate:"omitempty"`
}

// HasCapability reports whether the model carries the given tag.
func (m ModelConfig) HasCapability(tag string) bool {
	return slices.ContainsFunc(m.Capabilities, func(c string) bool {
		return strings.EqualFold(c, tag)
	})
}

// ProviderConfig defines a backend and the models it serves.
type ProviderConfig struct {
	ID        string        `json:"id" yaml:"id" toml:"id" validate:"required"`
	Kind      string        `json:"kind" yaml:"kind" toml:"kind" validate:"omitempty,oneof=openai-compat ollama custom"`
	BaseURL   string        `json:"base_url,omitempty" yaml:"base_url" toml:"base_url" validate:"omitempty,url"`
	Local     *bool         `json:"local,omitempty" yaml:"local,omitempty" toml:"local,omitempty"`
	APIKeyEnv string        `json:"api_key_env,omitempty" yaml:"api_key_env" toml:"api_key_env"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout" toml:"timeout"`
	Models    []ModelConfig `json:"models" yaml:"models" toml:"models" validate:"dive"`
}

// IsLocal reports whether the provider runs on the local machine.
// Ollama providers are local unless configured otherwise.
func (p ProviderConfig) IsLocal() bool {
	if p.Local != nil {
		return *p.Local
	}
	return p.Kind == KindOllama
}

// Model returns the named model config.
func (p ProviderConfig) Model(name string) (ModelConfig, bool) {
	for _, m := range p.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// RuleCondition is the configured "if" part of a rule. Every field is optional;
// at least one must be set.
type RuleCondition struct {
	AnyKeywords   []string `json:"any_keywords,omitempty" yaml:"any_keywords" toml:"any_keywords"`
	AllKeywords   []string `json:"all_keywords,omitempty" yaml:"all_keywords" toml:"all_keywords"`
	MinWords      *int     `json:"min_words,omitempty" yaml:"min_words,omitempty" toml:"min_words,omitempty" validate:"omitempty,gte=0"`
	MaxWords      *int     `json:"max_words,omitempty" yaml:"max_words,omitempty" toml:"max_words,omitempty" validate:"omitempty,gte=0"`
	PathGlob      string   `json:"path_glob,omitempty" yaml:"path_glob" toml:"path_glob"`
	MaxFileSizeKB *float64 `json:"max_file_size_kb,omitempty" yaml:"max_file_size_kb,omitempty" toml:"max_file_size_kb,omitempty" validate:"omitempty,gte=0"`
	Mode          string   `json:"mode,omitempty" yaml:"mode" toml:"mode"`
}

// IsEmpty reports whether no condition is configured.
func (c RuleCondition) IsEmpty() bool {
	return len(c.AnyKeywords) == 0 && len(c.AllKeywords) == 0 &&
		c.MinWords == nil && c.MaxWords == nil &&
		c.PathGlob == "" && c.MaxFileSizeKB == nil && c.Mode == ""
}

// RuleAction is the "then" part of a rule: an ordered preference list of
// "providerId:modelName" tokens.
type RuleAction struct {
	Prefer   []string `json:"prefer" yaml:"prefer" toml:"prefer" validate:"required,min=1"`
	Fallback []string `json:"fallback,omitempty" yaml:"fallback" toml:"fallback"`
	Call     string   `json:"call,omitempty" yaml:"call" toml:"call" validate:"omitempty,oneof=chat completion"`
	Priority int      `json:"priority,omitempty" yaml:"priority" toml:"priority"`
}

// CallKind returns the configured call kind, defaulting to chat.
func (a RuleAction) CallKind() string {
	if a.Call == "" {
		return CallChat
	}
	return a.Call
}

// RoutingRule maps a request shape to a preference list.
type RoutingRule struct {
	ID   string        `json:"id" yaml:"id" toml:"id" validate:"required"`
	If   RuleCondition `json:"if" yaml:"if" toml:"if"`
	Then RuleAction    `json:"then" yaml:"then" toml:"then"`
}

// Profile is the active configuration bundle consumed by the router.
type Profile struct {
	Name      string           `json:"name" yaml:"name" toml:"name" validate:"required"`
	Mode      string           `json:"mode,omitempty" yaml:"mode" toml:"mode"`
	Providers []ProviderConfig `json:"providers" yaml:"providers" toml:"providers" validate:"required,min=1,dive"`
	Rules     []RoutingRule    `json:"rules,omitempty" yaml:"rules" toml:"rules" validate:"dive"`
	Default   RuleAction       `json:"default" yaml:"default" toml:"default"`
	Fallback  []string         `json:"fallback,omitempty" yaml:"fallback" toml:"fallback"`
	Budget    *BudgetConfig    `json:"budget,omitempty" yaml:"budget,omitempty" toml:"budget,omitempty" validate:"omitempty"`
}

// Provider returns the provider config with the given id.
func (p *Profile) Provider(id string) (ProviderConfig, bool) {
	for _, pc := range p.Providers {
		if pc.ID == id {
			return pc, true
		}
	}
	return ProviderConfig{}, false
}

// ParseTarget splits a "providerId:modelName" token on its first colon.
func ParseTarget(token string) (providerID, model string, ok bool) {
	providerID, model, ok = strings.Cut(strings.TrimSpace(token), ":")
	if !ok || providerID == "" || model == "" {
		return "", "", false
	}
	return providerID, model, true
}
