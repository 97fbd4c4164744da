package router

import (
	"fmt"
	"slices"

	"github.com/pario-ai/dispatch/pkg/cost"
	"github.com/pario-ai/dispatch/pkg/models"
)

// privacySafeTags mark a model as acceptable under privacy-strict mode.
var privacySafeTags = []string{"local", "private", "offline"}

// Candidate is one provider/model pair to try, in preference order.
type Candidate struct {
	ProviderID string
	ModelName  string
	Provider   models.ProviderConfig
	Model      models.ModelConfig
	// Configured is false when the provider does not list the model.
	Configured bool
	Fallback   bool
}

func (c Candidate) String() string { return c.ProviderID + ":" + c.ModelName }

// Expander turns a rule's preference list into ordered candidates.
type Expander struct {
	profile        *models.Profile
	expectedOutput int
}

// NewExpander returns an Expander over profile.
func NewExpander(profile *models.Profile, expectedOutputTokens int) *Expander {
	return &Expander{profile: profile, expectedOutput: expectedOutputTokens}
}

// Expand resolves action's preferences under mode, then appends the rule and
// profile fallbacks. Fallbacks pass the same mode filters as preferences.
// privacy applies the privacy-strict filter whatever the mode.
// The returned notes explain every dropped or reordered candidate.
func (e *Expander) Expand(prompt string, action models.RuleAction, mode string, privacy bool) ([]Candidate, []string) {
	mode = models.NormalizeMode(mode)
	var notes []string

	primary, n := e.parse(action.Prefer, false)
	notes = append(notes, n...)
	primary, n = e.filter(primary, mode, privacy)
	notes = append(notes, n...)
	primary, n = e.reorder(primary, mode, prompt)
	notes = append(notes, n...)

	chain := slices.Concat(action.Fallback, e.profile.Fallback)
	fallback, n := e.parse(chain, true)
	notes = append(notes, n...)
	fallback, n = e.filter(fallback, mode, privacy)
	notes = append(notes, n...)

	seen := make(map[string]bool)
	out := make([]Candidate, 0, len(primary)+len(fallback))
	for _, c := range slices.Concat(primary, fallback) {
		if seen[c.String()] {
			continue
		}
		seen[c.String()] = true
		out = append(out, c)
	}
	return out, notes
}

func (e *Expander) parse(tokens []string, fallback bool) ([]Candidate, []string) {
	var out []Candidate
	var notes []string
	for _, tok := range tokens {
		pid, model, ok := models.ParseTarget(tok)
		if !ok {
			notes = append(notes, fmt.Sprintf("dropped %q: malformed target", tok))
			continue
		}
		pc, ok := e.profile.Provider(pid)
		if !ok {
			notes = append(notes, fmt.Sprintf("dropped %s: unknown provider %q", tok, pid))
			continue
		}
		mc, configured := pc.Model(model)
		if !configured {
			mc = models.ModelConfig{Name: model}
		}
		out = append(out, Candidate{
			ProviderID: pid,
			ModelName:  model,
			Provider:   pc,
			Model:      mc,
			Configured: configured,
			Fallback:   fallback,
		})
	}
	return out, notes
}

func (e *Expander) filter(cands []Candidate, mode string, privacy bool) ([]Candidate, []string) {
	strict := privacy || mode == models.ModePrivacyStrict
	if !strict && mode != models.ModeLocalOnly && mode != models.ModeOffline {
		return cands, nil
	}
	label := mode
	if strict && mode != models.ModePrivacyStrict {
		label = mode + ", privacy"
	}

	var notes []string
	out := cands[:0:0]
	for _, c := range cands {
		if !c.Provider.IsLocal() {
			notes = append(notes, fmt.Sprintf("dropped %s: provider is not local (%s)", c, label))
			continue
		}
		if strict && !slices.ContainsFunc(privacySafeTags, c.Model.HasCapability) {
			notes = append(notes, fmt.Sprintf("dropped %s: no privacy-safe tag", c))
			continue
		}
		out = append(out, c)
	}
	return out, notes
}

func (e *Expander) reorder(cands []Candidate, mode, prompt string) ([]Candidate, []string) {
	if len(cands) < 2 {
		return cands, nil
	}
	switch mode {
	case models.ModeCheap:
		byKey := make(map[string]Candidate, len(cands))
		priced := make([]cost.Candidate, 0, len(cands))
		for _, c := range cands {
			byKey[c.String()] = c
			priced = append(priced, cost.Candidate{ProviderID: c.ProviderID, Model: c.Model})
		}
		out := make([]Candidate, 0, len(cands))
		for _, cmp := range cost.CompareCosts(prompt, priced, e.expectedOutput) {
			out = append(out, byKey[cmp.ProviderID+":"+cmp.Model.Name])
		}
		return out, []string{"ordered by estimated cost"}
	case models.ModeSpeed:
		return tagFirst(cands, "fast"), []string{"fast models first"}
	case models.ModeQuality:
		return tagFirst(cands, "reasoning"), []string{"reasoning models first"}
	}
	return cands, nil
}

// tagFirst stable-partitions cands so models tagged tag come first.
func tagFirst(cands []Candidate, tag string) []Candidate {
	out := slices.Clone(cands)
	slices.SortStableFunc(out, func(a, b Candidate) int {
		ta, tb := a.Model.HasCapability(tag), b.Model.HasCapability(tag)
		switch {
		case ta && !tb:
			return -1
		case tb && !ta:
			return 1
		}
		return 0
	})
	return out
}
