package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/dispatch/pkg/classify"
	"github.com/pario-ai/dispatch/pkg/models"
)

const testConfig = `
store:
  backend: memory
router:
  require_available: false
profiles:
  - name: local
    providers:
      - id: box
        kind: ollama
        models:
          - name: phi3
            capabilities: [fast]
          - name: coder
            capabilities: [code]
    rules:
      - id: code
        if:
          any_keywords: [coder]
        then:
          prefer: ["box:coder"]
      - id: tldr
        if:
          any_keywords: [tldr]
        then:
          prefer: ["box:phi3"]
          call: completion
    default:
      prefer: ["box:phi3"]
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	return path
}

func TestOpenAppRoutes(t *testing.T) {
	opts := &rootOptions{configPath: writeConfig(t)}
	a, err := openApp(context.Background(), opts, false)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.audit, "audit is off unless enabled")
	assert.False(t, a.ledger.Transient())

	f := &routeFlags{classify: true}
	res, err := a.router.Route(context.Background(), f.context("```go\nfunc main() {}\n```"))
	require.NoError(t, err)
	assert.Equal(t, "coder", res.ModelName)

	res, err = a.router.Route(context.Background(), (&routeFlags{}).context("hello"))
	require.NoError(t, err)
	assert.Equal(t, "phi3", res.ModelName)
}

func TestOpenAppWithAudit(t *testing.T) {
	opts := &rootOptions{configPath: writeConfig(t)}
	a, err := openApp(context.Background(), opts, true)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.audit)

	entries, err := a.audit.Query(context.Background(), models.AuditQueryOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenAppUnknownProfile(t *testing.T) {
	opts := &rootOptions{configPath: writeConfig(t), profile: "missing"}
	_, err := openApp(context.Background(), opts, false)
	var ce *models.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestRouteFlagsContext(t *testing.T) {
	file := filepath.Join(t.TempDir(), "main.go")
	require.NoError(t, os.WriteFile(file, make([]byte, 2048), 0o644))

	f := &routeFlags{file: file, mode: models.ModeCheap, keywords: []string{"x"}, classify: true}
	rc := f.context("tidy this")
	require.NotNil(t, rc.FileSizeKB)
	assert.InDelta(t, 2.0, *rc.FileSizeKB, 1e-9)
	assert.Equal(t, models.ModeCheap, rc.Mode)
	assert.Contains(t, rc.Keywords, classify.HintCoder)
	assert.Equal(t, []string{"x"}, f.keywords)
}

func TestPromptArg(t *testing.T) {
	p, err := promptArg([]string{"fix", "the", "bug"})
	require.NoError(t, err)
	assert.Equal(t, "fix the bug", p)

	_, err = promptArg([]string{"  "})
	assert.Error(t, err)
}

func TestFactoriesCoverKinds(t *testing.T) {
	f := factories()
	for _, kind := range []string{"", models.KindOpenAICompat, models.KindOllama} {
		assert.Contains(t, f, kind)
	}
}

func TestValidateCommand(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"validate", "--config", writeConfig(t)})
	assert.NoError(t, root.Execute())
}

func TestRouteCommandRequiresPrompt(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"route", "--config", writeConfig(t)})
	assert.Error(t, root.Execute())
}

func TestAskHonoursCallKind(t *testing.T) {
	opts := &rootOptions{configPath: writeConfig(t)}
	a, err := openApp(context.Background(), opts, false)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.router.Route(context.Background(), (&routeFlags{}).context("tldr this thread"))
	require.NoError(t, err)
	assert.Equal(t, models.CallCompletion, res.Call)
	assert.True(t, useCompletion(res, false))

	res, err = a.router.Route(context.Background(), (&routeFlags{}).context("hello"))
	require.NoError(t, err)
	assert.False(t, useCompletion(res, false))
	assert.True(t, useCompletion(res, true))
}
