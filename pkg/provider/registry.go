package provider

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/pario-ai/dispatch/pkg/models"
)

// Credentials resolves the API key for a provider. Adapters never read
// secrets themselves.
type Credentials interface {
	APIKey(cfg models.ProviderConfig) (string, error)
}

// EnvCredentials reads the variable named by ProviderConfig.APIKeyEnv.
// An unset variable yields an empty key.
type EnvCredentials struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

func (e EnvCredentials) APIKey(cfg models.ProviderConfig) (string, error) {
	if cfg.APIKeyEnv == "" {
		return "", nil
	}
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(cfg.APIKeyEnv)
	return v, nil
}

// StaticCredentials maps provider ids to keys.
type StaticCredentials map[string]string

func (s StaticCredentials) APIKey(cfg models.ProviderConfig) (string, error) {
	return s[cfg.ID], nil
}

// Factory builds an adapter for one provider config.
type Factory func(cfg models.ProviderConfig, apiKey string) (Provider, error)

// Factories maps a provider kind to the factory that builds it.
type Factories map[string]Factory

// Registry holds one adapter per provider id.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p. Provider ids must be unique.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.providers[p.ID()]; dup {
		return fmt.Errorf("provider %q already registered", p.ID())
	}
	r.providers[p.ID()] = p
	return nil
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Build creates an adapter for every provider in profile.
func Build(profile *models.Profile, creds Credentials, factories Factories) (*Registry, error) {
	if creds == nil {
		creds = EnvCredentials{}
	}
	reg := NewRegistry()
	for _, pc := range profile.Providers {
		f, ok := factories[pc.Kind]
		if !ok {
			return nil, &models.ConfigurationError{
				Field:   fmt.Sprintf("providers[%s].kind", pc.ID),
				Message: fmt.Sprintf("no adapter for kind %q", pc.Kind),
			}
		}
		key, err := creds.APIKey(pc)
		if err != nil {
			return nil, fmt.Errorf("credentials for %s: %w", pc.ID, err)
		}
		p, err := f(pc, key)
		if err != nil {
			return nil, fmt.Errorf("build provider %s: %w", pc.ID, err)
		}
		if err := reg.Register(p); err != nil {
			return nil, &models.ConfigurationError{Field: "providers", Message: err.Error()}
		}
	}
	return reg, nil
}
