package router

import (
	"strings"
	"testing"

	"github.com/pario-ai/dispatch/pkg/models"
)

func targets(cands []Candidate) string {
	parts := make([]string, 0, len(cands))
	for _, c := range cands {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}

func TestExpandModes(t *testing.T) {
	e := NewExpander(mixedProfile(), 0)
	action := models.RuleAction{Prefer: []string{"cloud:big", "local:phi3", "cloud:mini", "local:llama3:8b"}}

	tests := []struct {
		mode string
		want string
	}{
		{models.ModeAuto, "cloud:big,local:phi3,cloud:mini,local:llama3:8b"},
		{models.ModeCheap, "local:phi3,local:llama3:8b,cloud:mini,cloud:big"},
		{models.ModeSpeed, "local:phi3,cloud:mini,cloud:big,local:llama3:8b"},
		{models.ModeQuality, "cloud:big,local:phi3,cloud:mini,local:llama3:8b"},
		{models.ModeLocalOnly, "local:phi3,local:llama3:8b"},
		{models.ModePrivacyStrict, "local:llama3:8b"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			got, _ := e.Expand("hello", action, tt.mode, false)
			// cloud:mini also appears as the profile fallback and must not repeat.
			if targets(got) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, targets(got))
			}
		})
	}
}

func TestExpandNotes(t *testing.T) {
	e := NewExpander(mixedProfile(), 0)
	action := models.RuleAction{
		Prefer:   []string{"bogus", "nowhere:x", "local:phi3"},
		Fallback: []string{"cloud:big"},
	}

	got, notes := e.Expand("hello", action, models.ModeOffline, false)
	if targets(got) != "local:phi3" {
		t.Errorf("unexpected candidates %s", targets(got))
	}
	joined := strings.Join(notes, "|")
	for _, want := range []string{`dropped "bogus": malformed target`, `unknown provider "nowhere"`, "dropped cloud:big: provider is not local"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing note %q in %v", want, notes)
		}
	}
}

func TestExpandFallbackOrder(t *testing.T) {
	e := NewExpander(mixedProfile(), 0)
	action := models.RuleAction{Prefer: []string{"local:phi3"}, Fallback: []string{"local:llama3:8b", "local:phi3"}}

	got, _ := e.Expand("hello", action, models.ModeAuto, false)
	if targets(got) != "local:phi3,local:llama3:8b,cloud:mini" {
		t.Errorf("unexpected order %s", targets(got))
	}
	if got[0].Fallback || !got[1].Fallback || !got[2].Fallback {
		t.Error("fallback flags not set")
	}
}

func TestExpandKeepsUnconfiguredModel(t *testing.T) {
	e := NewExpander(mixedProfile(), 0)
	got, _ := e.Expand("x", models.RuleAction{Prefer: []string{"local:mistral"}}, models.ModeAuto, false)
	if len(got) < 1 || got[0].Configured || got[0].ModelName != "mistral" {
		t.Errorf("expected unconfigured candidate, got %+v", got)
	}
}

func TestExpandPrivacyUnderOrderingMode(t *testing.T) {
	e := NewExpander(mixedProfile(), 0)
	action := models.RuleAction{Prefer: []string{"cloud:big", "local:phi3", "local:llama3:8b"}}

	got, notes := e.Expand("hello", action, models.ModeCheap, true)
	if targets(got) != "local:llama3:8b" {
		t.Errorf("expected only the privacy-safe candidate, got %s", targets(got))
	}
	if !strings.Contains(strings.Join(notes, "|"), "provider is not local (cheap, privacy)") {
		t.Errorf("missing privacy note in %v", notes)
	}

	got, _ = e.Expand("hello", action, "Local-Only", false)
	if targets(got) != "local:phi3,local:llama3:8b" {
		t.Errorf("miscased local-only not filtered: %s", targets(got))
	}
}
