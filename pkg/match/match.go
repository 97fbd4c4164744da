// Package match extracts keywords from prompts and matches file paths against
// glob patterns.
package match

import (
	"path"
	"slices"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {},
	"by": {}, "can": {}, "do": {}, "for": {}, "from": {}, "how": {}, "i": {}, "if": {},
	"in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "of": {}, "on": {}, "or": {},
	"please": {}, "so": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {},
	"we": {}, "what": {}, "with": {}, "you": {}, "your": {},
}

// inner runes are kept inside a token but trimmed from its edges,
// except + and # which stay so "c++" and "c#" survive.
func isTokenRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '+', '#', '.', '_', '-':
		return true
	}
	return false
}

// Tokenize lower-cases text and splits it into tokens. Stop words are kept.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isTokenRune(r)
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "._-")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Normalize returns the tokens of text joined by single spaces.
func Normalize(text string) string {
	return strings.Join(Tokenize(text), " ")
}

// Keywords returns the distinct non-stop-word tokens of text in first-seen order.
func Keywords(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range Tokenize(text) {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// ContainsKeyword reports whether kw occurs in a prompt. Single-word keywords
// are looked up in tokens; multi-word keywords must appear as a phrase in
// normalized, the output of Normalize.
func ContainsKeyword(tokens []string, normalized, kw string) bool {
	parts := Tokenize(kw)
	switch len(parts) {
	case 0:
		return false
	case 1:
		if slices.Contains(tokens, parts[0]) {
			return true
		}
	}
	phrase := " " + strings.Join(parts, " ") + " "
	return strings.Contains(" "+normalized+" ", phrase)
}

// MatchPath reports whether p matches the doublestar pattern. Backslashes in
// p are treated as separators. A pattern without a slash is also tried
// against the base name, so "*.go" matches "src/main.go".
func MatchPath(pattern, p string) (bool, error) {
	if pattern == "" || p == "" {
		return false, nil
	}
	p = strings.ReplaceAll(p, "\\", "/")
	ok, err := doublestar.Match(pattern, p)
	if err != nil {
		return false, err
	}
	if ok || strings.Contains(pattern, "/") {
		return ok, nil
	}
	return doublestar.Match(pattern, path.Base(p))
}

// ValidPattern reports whether pattern is a well-formed glob.
func ValidPattern(pattern string) bool {
	return pattern != "" && doublestar.ValidatePattern(pattern)
}
