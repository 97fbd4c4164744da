// Package classify labels prompts with capability hints. Hints are merged
// into a routing context's keywords so rules can match on them.
package classify

import (
	"slices"
	"strings"

	"github.com/pario-ai/dispatch/pkg/cost"
	"github.com/pario-ai/dispatch/pkg/models"
)

// Capability hints.
const (
	HintCoder     = "coder"
	HintReasoning = "reasoning"
	HintLong      = "long"
	HintFast      = "fast"
)

// LongPromptTokens is the estimated size above which a prompt is "long".
const LongPromptTokens = 2000

var codeIndicators = []string{
	"```", "func ", "def ", "class ", "import ", "#include", "const ", "let ", "=>",
	"stack trace", "traceback", "segfault", "compile", "refactor", "unit test", "regex",
}

var codeWords = []string{"code", "function", "bug", "debug", "implement", "api", "sql", "script"}

var reasoningIndicators = []string{
	"why", "explain", "analyze", "analyse", "compare", "evaluate", "prove", "derive",
	"trade-off", "tradeoff", "pros and cons", "architect", "design pattern", "step by step",
}

// Label is the classification of one prompt.
type Label struct {
	Hints   []string `json:"hints"`
	Reasons []string `json:"reasons,omitempty"`
}

// Has reports whether hint was assigned.
func (l Label) Has(hint string) bool { return slices.Contains(l.Hints, hint) }

// Classify labels rc's prompt.
func Classify(rc *models.RoutingContext) Label {
	var l Label
	q := strings.ToLower(rc.Prompt)
	words := strings.Fields(q)

	switch {
	case rc.Language != "" || rc.FilePath != "":
		l.add(HintCoder, "request carries source context")
	case containsAny(q, codeIndicators):
		l.add(HintCoder, "code indicators present")
	case hasWord(words, codeWords):
		l.add(HintCoder, "programming vocabulary")
	}

	if containsAny(q, reasoningIndicators) {
		l.add(HintReasoning, "analytical phrasing")
	}

	if n := cost.EstimateTokens(rc.Prompt); n > LongPromptTokens {
		l.add(HintLong, "estimated prompt size above limit")
	}

	if len(l.Hints) == 0 && len(words) > 0 && len(words) < 8 {
		l.add(HintFast, "short prompt")
	}
	return l
}

func (l *Label) add(hint, reason string) {
	l.Hints = append(l.Hints, hint)
	l.Reasons = append(l.Reasons, hint+": "+reason)
}

func containsAny(q string, needles []string) bool {
	return slices.ContainsFunc(needles, func(n string) bool { return strings.Contains(q, n) })
}

func hasWord(words, vocab []string) bool {
	return slices.ContainsFunc(words, func(w string) bool {
		return slices.Contains(vocab, strings.Trim(w, ".,:;!?()\"'"))
	})
}

// Apply returns a copy of rc whose keywords include the hints of label.
func Apply(rc *models.RoutingContext, label Label) *models.RoutingContext {
	out := *rc
	out.Keywords = slices.Clone(rc.Keywords)
	for _, h := range label.Hints {
		if !slices.Contains(out.Keywords, h) {
			out.Keywords = append(out.Keywords, h)
		}
	}
	return &out
}
