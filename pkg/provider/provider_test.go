package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/dispatch/pkg/models"
	"github.com/pario-ai/dispatch/pkg/provider"
	"github.com/pario-ai/dispatch/pkg/provider/providertest"
)

func TestCollect(t *testing.T) {
	stub := providertest.New("p", "m")
	stub.Reply = "hello streaming world"
	stub.Usage = &models.Usage{InputTokens: 3, OutputTokens: 3}

	ch, err := stub.ChatStream(context.Background(), "m", nil)
	require.NoError(t, err)

	got, err := provider.Collect(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, "hello streaming world", got.Text)
	assert.Equal(t, 3, got.Usage.OutputTokens)
}

func TestCollectErrorEvent(t *testing.T) {
	stub := providertest.New("p", "m")
	stub.Reply = "partial"
	stub.StreamErr = errors.New("upstream reset")

	ch, err := stub.ChatStream(context.Background(), "m", nil)
	require.NoError(t, err)

	got, err := provider.Collect(context.Background(), ch)
	require.EqualError(t, err, "upstream reset")
	assert.Equal(t, "partial", got.Text)
}

func TestCollectIncomplete(t *testing.T) {
	ch := make(chan provider.StreamEvent, 1)
	ch <- provider.StreamEvent{Type: provider.EventText, Text: "x"}
	close(ch)

	_, err := provider.Collect(context.Background(), ch)
	assert.ErrorIs(t, err, provider.ErrIncompleteStream)
}

func TestStreamOrdering(t *testing.T) {
	stub := providertest.New("p", "m")
	stub.Reply = "a b c"

	ch, err := stub.ChatStream(context.Background(), "m", nil)
	require.NoError(t, err)

	var types []provider.EventType
	for ev := range ch {
		types = append(types, ev.Type)
	}
	require.NotEmpty(t, types)
	last := types[len(types)-1]
	assert.Equal(t, provider.EventDone, last)
	for _, ty := range types[:len(types)-1] {
		assert.Equal(t, provider.EventText, ty)
	}
}

func TestBuild(t *testing.T) {
	profile := &models.Profile{
		Name: "p",
		Providers: []models.ProviderConfig{
			{ID: "local", Kind: models.KindOllama, Models: []models.ModelConfig{{Name: "llama3:8b"}}},
			{ID: "cloud", Kind: models.KindOpenAICompat, APIKeyEnv: "CLOUD_KEY", Models: []models.ModelConfig{{Name: "gpt-4o"}}},
		},
	}

	var keys = map[string]string{}
	factory := func(cfg models.ProviderConfig, apiKey string) (provider.Provider, error) {
		keys[cfg.ID] = apiKey
		return providertest.Factory(cfg, apiKey)
	}
	creds := provider.EnvCredentials{Lookup: func(name string) (string, bool) {
		if name == "CLOUD_KEY" {
			return "sk-test", true
		}
		return "", false
	}}

	reg, err := provider.Build(profile, creds, provider.Factories{
		models.KindOllama:       factory,
		models.KindOpenAICompat: factory,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cloud", "local"}, reg.IDs())
	assert.Equal(t, "sk-test", keys["cloud"])
	assert.Empty(t, keys["local"])

	p, ok := reg.Get("local")
	require.True(t, ok)
	assert.True(t, p.Supports("llama3:8b"))
}

func TestBuildUnknownKind(t *testing.T) {
	profile := &models.Profile{Providers: []models.ProviderConfig{{ID: "x", Kind: models.KindCustom}}}
	_, err := provider.Build(profile, nil, provider.Factories{})
	var ce *models.ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestRegisterDuplicate(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(providertest.New("a")))
	assert.Error(t, reg.Register(providertest.New("a")))
}

func TestStaticCredentials(t *testing.T) {
	key, err := provider.StaticCredentials{"a": "k"}.APIKey(models.ProviderConfig{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, "k", key)
}
