// Package rules scores routing rules against a request and selects the
// preference list to route with.
package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pario-ai/dispatch/pkg/match"
	"github.com/pario-ai/dispatch/pkg/models"
)

// DefaultRuleID identifies the profile's default action in results.
const DefaultRuleID = "default"

// CompiledRule is a RoutingRule with its conditions resolved.
type CompiledRule struct {
	Rule       models.RoutingRule
	Conditions []Condition
}

// RuleScore is the evaluation of one rule.
type RuleScore struct {
	RuleID    string   `json:"rule_id"`
	Score     int      `json:"score"`
	Matched   bool     `json:"matched"`
	Reasoning []string `json:"reasoning,omitempty"`
}

// Selection is the winning rule, or the default action when none matched.
type Selection struct {
	Rule      *models.RoutingRule
	Action    models.RuleAction
	Score     int
	Mode      string
	Reasoning []string
	Scores    []RuleScore
}

// RuleID returns the selected rule's id or DefaultRuleID.
func (s Selection) RuleID() string {
	if s.Rule == nil {
		return DefaultRuleID
	}
	return s.Rule.ID
}

// Compile resolves the configured condition of rule.
func Compile(rule models.RoutingRule) (CompiledRule, error) {
	field := fmt.Sprintf("rules[%s].if", rule.ID)
	c := rule.If
	if c.IsEmpty() {
		return CompiledRule{}, &models.ConfigurationError{Field: field, Message: "rule has no conditions"}
	}

	var conds []Condition
	if c.Mode != "" {
		if !models.IsKnownMode(c.Mode) {
			return CompiledRule{}, &models.ConfigurationError{Field: field + ".mode", Message: fmt.Sprintf("unknown mode %q", c.Mode)}
		}
		conds = append(conds, ModeEquals{Mode: models.NormalizeMode(c.Mode)})
	}
	if words := cleanWords(c.AnyKeywords); len(words) > 0 {
		conds = append(conds, AnyKeywords{Words: words})
	}
	if words := cleanWords(c.AllKeywords); len(words) > 0 {
		conds = append(conds, AllKeywords{Words: words})
	}
	if c.MinWords != nil || c.MaxWords != nil {
		if c.MinWords != nil && c.MaxWords != nil && *c.MinWords > *c.MaxWords {
			return CompiledRule{}, &models.ConfigurationError{Field: field, Message: "min_words is greater than max_words"}
		}
		conds = append(conds, WordCountRange{Min: c.MinWords, Max: c.MaxWords})
	}
	if c.MaxFileSizeKB != nil {
		conds = append(conds, FileSizeBound{MaxKB: *c.MaxFileSizeKB})
	}
	if c.PathGlob != "" {
		if !match.ValidPattern(c.PathGlob) {
			return CompiledRule{}, &models.ConfigurationError{Field: field + ".path_glob", Message: fmt.Sprintf("invalid pattern %q", c.PathGlob)}
		}
		conds = append(conds, PathGlob{Pattern: c.PathGlob})
	}
	if len(conds) == 0 {
		return CompiledRule{}, &models.ConfigurationError{Field: field, Message: "rule has no usable conditions"}
	}
	return CompiledRule{Rule: rule, Conditions: conds}, nil
}

func cleanWords(words []string) []string {
	var out []string
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// NewInput builds the evaluation input for rc under the given profile mode.
func NewInput(rc *models.RoutingContext, profileMode string) Input {
	tokens := match.Keywords(rc.Prompt)
	for _, k := range rc.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && !slices.Contains(tokens, k) {
			tokens = append(tokens, k)
		}
	}
	return Input{
		Tokens:     tokens,
		Normalized: match.Normalize(rc.Prompt),
		WordCount:  len(strings.Fields(rc.Prompt)),
		FilePath:   rc.FilePath,
		FileSizeKB: rc.FileSizeKB,
		Mode:       rc.EffectiveMode(profileMode),
	}
}

// Evaluate scores one rule. A rule matches when at least one condition
// contributed; its score then includes the rule's priority.
func (r CompiledRule) Evaluate(in Input) RuleScore {
	rs := RuleScore{RuleID: r.Rule.ID}
	for _, c := range r.Conditions {
		s, reason := c.Evaluate(in)
		if s <= 0 {
			continue
		}
		rs.Score += s
		rs.Reasoning = append(rs.Reasoning, reason)
	}
	if rs.Score == 0 {
		return rs
	}
	rs.Matched = true
	if p := r.Rule.Then.Priority; p != 0 {
		rs.Score += p
		rs.Reasoning = append(rs.Reasoning, fmt.Sprintf("priority %+d", p))
	}
	return rs
}

// Scorer evaluates a profile's rules. It holds no mutable state.
type Scorer struct {
	rules []CompiledRule
	def   models.RuleAction
	mode  string
}

// NewScorer compiles every rule of profile.
func NewScorer(profile *models.Profile) (*Scorer, error) {
	s := &Scorer{def: profile.Default, mode: profile.Mode}
	for _, r := range profile.Rules {
		cr, err := Compile(r)
		if err != nil {
			return nil, err
		}
		s.rules = append(s.rules, cr)
	}
	return s, nil
}

// Rules returns the compiled rules in declaration order.
func (s *Scorer) Rules() []CompiledRule { return s.rules }

// Score evaluates every rule in declaration order.
func (s *Scorer) Score(rc *models.RoutingContext) []RuleScore {
	in := NewInput(rc, s.mode)
	out := make([]RuleScore, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.Evaluate(in))
	}
	return out
}

// Select picks the highest-scoring matching rule. Ties go to the earlier
// rule; with no match the default action is returned with score 0.
func (s *Scorer) Select(rc *models.RoutingContext) Selection {
	scores := s.Score(rc)
	sel := Selection{
		Action:    s.def,
		Mode:      rc.EffectiveMode(s.mode),
		Reasoning: []string{DefaultRuleID},
		Scores:    scores,
	}
	best := -1
	for i, rs := range scores {
		if !rs.Matched {
			continue
		}
		if best < 0 || rs.Score > scores[best].Score {
			best = i
		}
	}
	if best < 0 {
		return sel
	}
	rule := s.rules[best].Rule
	sel.Rule = &rule
	sel.Action = rule.Then
	sel.Score = scores[best].Score
	sel.Reasoning = append([]string{"rule " + rule.ID}, scores[best].Reasoning...)
	return sel
}
