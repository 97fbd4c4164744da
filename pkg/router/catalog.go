package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/dispatch/pkg/models"
)

// ModelInfo describes one configured model.
type ModelInfo struct {
	ProviderID   string          `json:"provider_id"`
	Kind         string          `json:"kind"`
	Local        bool            `json:"local"`
	Name         string          `json:"name"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Pricing      *models.Pricing `json:"pricing,omitempty"`
}

// Target returns the "providerId:modelName" token for m.
func (m ModelInfo) Target() string { return m.ProviderID + ":" + m.Name }

// ListModels returns every model of the profile in configuration order.
func (r *Router) ListModels() []ModelInfo {
	var out []ModelInfo
	for _, pc := range r.profile.Providers {
		for _, mc := range pc.Models {
			out = append(out, ModelInfo{
				ProviderID:   pc.ID,
				Kind:         pc.Kind,
				Local:        pc.IsLocal(),
				Name:         mc.Name,
				Capabilities: mc.Capabilities,
				Pricing:      mc.Pricing,
			})
		}
	}
	return out
}

// ModelsWithCapability returns the models tagged tag.
func (r *Router) ModelsWithCapability(tag string) []ModelInfo {
	var out []ModelInfo
	for _, pc := range r.profile.Providers {
		for _, mc := range pc.Models {
			if !mc.HasCapability(tag) {
				continue
			}
			out = append(out, ModelInfo{
				ProviderID:   pc.ID,
				Kind:         pc.Kind,
				Local:        pc.IsLocal(),
				Name:         mc.Name,
				Capabilities: mc.Capabilities,
				Pricing:      mc.Pricing,
			})
		}
	}
	return out
}

// AvailableModels probes every provider once, concurrently, and returns the
// models of those that answered.
func (r *Router) AvailableModels(ctx context.Context) []ModelInfo {
	up := make([]bool, len(r.profile.Providers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, pc := range r.profile.Providers {
		adapter, ok := r.registry.Get(pc.ID)
		if !ok {
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, r.opts.ProbeTimeout)
			defer cancel()
			ok, err := adapter.IsAvailable(pctx)
			up[i] = ok && err == nil
			return nil
		})
	}
	_ = g.Wait()

	var out []ModelInfo
	for _, m := range r.ListModels() {
		for i, pc := range r.profile.Providers {
			if pc.ID == m.ProviderID && up[i] {
				out = append(out, m)
			}
		}
	}
	return out
}

// hashPrompt returns a short digest so decisions can be correlated without
// storing prompt text.
func hashPrompt(prompt string) string {
	if prompt == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:8])
}
