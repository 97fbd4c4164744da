package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywords(t *testing.T) {
	got := Keywords("Please write a TEST for the parser, then test it in C++ and c#.")
	assert.Equal(t, []string{"write", "test", "parser", "then", "c++", "c#"}, got)
}

func TestKeywordsEmpty(t *testing.T) {
	assert.Empty(t, Keywords(""))
	assert.Empty(t, Keywords("the a an"))
}

func TestTokenizeTrimsEdges(t *testing.T) {
	assert.Equal(t, []string{"main.go", "snake_case", "x"}, Tokenize("main.go. _snake_case_ -x-"))
}

func TestContainsKeyword(t *testing.T) {
	prompt := "Refactor the unit tests for the HTTP client"
	tokens := Keywords(prompt)
	norm := Normalize(prompt)

	assert.True(t, ContainsKeyword(tokens, norm, "refactor"))
	assert.True(t, ContainsKeyword(tokens, norm, "Unit Tests"))
	assert.True(t, ContainsKeyword(tokens, norm, "the unit"))
	assert.False(t, ContainsKeyword(tokens, norm, "test"))
	assert.False(t, ContainsKeyword(tokens, norm, "tests unit"))
	assert.False(t, ContainsKeyword(tokens, norm, ""))
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "src/pkg/main.go", true},
		{"**/*.go", "src/pkg/main.go", true},
		{"src/*.go", "src/pkg/main.go", false},
		{"src/**/*_test.go", "src/pkg/main_test.go", true},
		{"*.{ts,tsx}", "web/app.tsx", true},
		{"*.py", `C:\work\tool.py`, true},
		{"*.go", "", false},
	}
	for _, tt := range tests {
		got, err := MatchPath(tt.pattern, tt.path)
		require.NoError(t, err, tt.pattern)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.pattern, tt.path)
	}
}

func TestValidPattern(t *testing.T) {
	assert.True(t, ValidPattern("**/*.go"))
	assert.False(t, ValidPattern("[abc"))
	assert.False(t, ValidPattern(""))
}
