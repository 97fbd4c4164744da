package rules

import (
	"fmt"
	"strings"

	"github.com/pario-ai/dispatch/pkg/match"
)

// Input is the view of a request that conditions are evaluated against.
type Input struct {
	Tokens     []string
	Normalized string
	WordCount  int
	FilePath   string
	FileSizeKB *float64
	Mode       string
}

// Condition is one clause of a rule. A zero score means the clause did not
// contribute; reason is empty in that case.
type Condition interface {
	Evaluate(in Input) (score int, reason string)
}

// AnyKeywords scores one point per keyword found in the prompt.
type AnyKeywords struct {
	Words []string
}

func (c AnyKeywords) Evaluate(in Input) (int, string) {
	var hits []string
	for _, w := range c.Words {
		if match.ContainsKeyword(in.Tokens, in.Normalized, w) {
			hits = append(hits, w)
		}
	}
	if len(hits) == 0 {
		return 0, ""
	}
	return len(hits), "matched keywords: " + strings.Join(hits, ", ")
}

// AllKeywords scores twice its length when every keyword is present.
type AllKeywords struct {
	Words []string
}

func (c AllKeywords) Evaluate(in Input) (int, string) {
	if len(c.Words) == 0 {
		return 0, ""
	}
	for _, w := range c.Words {
		if !match.ContainsKeyword(in.Tokens, in.Normalized, w) {
			return 0, ""
		}
	}
	return 2 * len(c.Words), "matched all keywords: " + strings.Join(c.Words, ", ")
}

// WordCountRange scores one point when the prompt length falls in [Min, Max].
// A nil bound is open.
type WordCountRange struct {
	Min, Max *int
}

func (c WordCountRange) Evaluate(in Input) (int, string) {
	if c.Min != nil && in.WordCount < *c.Min {
		return 0, ""
	}
	if c.Max != nil && in.WordCount > *c.Max {
		return 0, ""
	}
	return 1, fmt.Sprintf("word count %d in range %s", in.WordCount, c.bounds())
}

func (c WordCountRange) bounds() string {
	lo, hi := "0", "inf"
	if c.Min != nil {
		lo = fmt.Sprint(*c.Min)
	}
	if c.Max != nil {
		hi = fmt.Sprint(*c.Max)
	}
	return "[" + lo + ", " + hi + "]"
}

// PathGlob scores one point when the request's file path matches Pattern.
type PathGlob struct {
	Pattern string
}

func (c PathGlob) Evaluate(in Input) (int, string) {
	ok, err := match.MatchPath(c.Pattern, in.FilePath)
	if err != nil || !ok {
		return 0, ""
	}
	return 1, fmt.Sprintf("path %s matches %s", in.FilePath, c.Pattern)
}

// FileSizeBound scores one point when the request carries a file size no
// larger than MaxKB.
type FileSizeBound struct {
	MaxKB float64
}

func (c FileSizeBound) Evaluate(in Input) (int, string) {
	if in.FileSizeKB == nil || *in.FileSizeKB > c.MaxKB {
		return 0, ""
	}
	return 1, fmt.Sprintf("file size %.1fKB <= %.1fKB", *in.FileSizeKB, c.MaxKB)
}

// ModeEquals scores one point when the effective mode is Mode.
type ModeEquals struct {
	Mode string
}

func (c ModeEquals) Evaluate(in Input) (int, string) {
	if !strings.EqualFold(in.Mode, c.Mode) {
		return 0, ""
	}
	return 1, "mode is " + c.Mode
}
