package models

import (
	"fmt"
	"slices"
	"strings"
)

// Routing modes understood by the expander.
const (
	ModeAuto          = "auto"
	ModeSpeed         = "speed"
	ModeQuality       = "quality"
	ModeCheap         = "cheap"
	ModeLocalOnly     = "local-only"
	ModeOffline       = "offline"
	ModePrivacyStrict = "privacy-strict"
)

// KnownModes lists every mode accepted in configuration.
var KnownModes = []string{ModeAuto, ModeSpeed, ModeQuality, ModeCheap, ModeLocalOnly, ModeOffline, ModePrivacyStrict}

// RoutingContext describes a single request to be routed.
// It is not modified by the router once constructed.
type RoutingContext struct {
	Prompt     string         `json:"prompt"`
	Language   string         `json:"language,omitempty"`
	FilePath   string         `json:"file_path,omitempty"`
	FileSizeKB *float64       `json:"file_size_kb,omitempty"`
	Mode       string         `json:"mode,omitempty"`
	Privacy    bool           `json:"privacy,omitempty"`
	Keywords   []string       `json:"keywords,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NormalizeMode trims and lower-cases a mode name.
func NormalizeMode(mode string) string {
	return strings.ToLower(strings.TrimSpace(mode))
}

// IsKnownMode reports whether mode names a routing mode, ignoring case and
// surrounding space.
func IsKnownMode(mode string) bool {
	return slices.Contains(KnownModes, NormalizeMode(mode))
}

// Validate rejects a request whose explicit mode is not a known mode.
func (c *RoutingContext) Validate() error {
	if c.Mode != "" && !IsKnownMode(c.Mode) {
		return &ConfigurationError{
			Field:   "mode",
			Message: fmt.Sprintf("unknown mode %q (want one of %s)", c.Mode, strings.Join(KnownModes, ", ")),
		}
	}
	return nil
}

// EffectiveMode resolves the mode for a request: an explicit override wins,
// then the privacy flag, then the profile mode. The result is normalised.
// The privacy flag also restricts candidates under any ordering mode.
func (c *RoutingContext) EffectiveMode(profileMode string) string {
	switch {
	case NormalizeMode(c.Mode) != "":
		return NormalizeMode(c.Mode)
	case c.Privacy:
		return ModePrivacyStrict
	case NormalizeMode(profileMode) != "":
		return NormalizeMode(profileMode)
	default:
		return ModeAuto
	}
}
