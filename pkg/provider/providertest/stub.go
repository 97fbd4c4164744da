// Package providertest provides an in-memory Provider for tests.
package providertest

import (
	"context"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pario-ai/dispatch/pkg/models"
	"github.com/pario-ai/dispatch/pkg/provider"
)

// Stub is a scriptable Provider.
type Stub struct {
	Name       string
	Models     []string
	Down       bool
	ProbeErr   error
	ProbeDelay time.Duration
	Reply      string
	Usage      *models.Usage
	StreamErr  error

	probes atomic.Int32
}

// New returns an available Stub serving models.
func New(id string, served ...string) *Stub {
	return &Stub{Name: id, Models: served, Reply: "ok"}
}

// Probes returns how many times IsAvailable was called.
func (s *Stub) Probes() int { return int(s.probes.Load()) }

func (s *Stub) ID() string { return s.Name }

func (s *Stub) Supports(model string) bool { return slices.Contains(s.Models, model) }

func (s *Stub) IsAvailable(ctx context.Context) (bool, error) {
	s.probes.Add(1)
	if s.ProbeDelay > 0 {
		select {
		case <-time.After(s.ProbeDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if s.ProbeErr != nil {
		return false, s.ProbeErr
	}
	return !s.Down, nil
}

func (s *Stub) ChatStream(ctx context.Context, _ string, _ []models.ChatMessage) (<-chan provider.StreamEvent, error) {
	ch := make(chan provider.StreamEvent, len(s.Reply)+2)
	go func() {
		defer close(ch)
		for _, word := range strings.SplitAfter(s.Reply, " ") {
			if ctx.Err() != nil {
				ch <- provider.StreamEvent{Type: provider.EventError, Err: ctx.Err()}
				return
			}
			if word != "" {
				ch <- provider.StreamEvent{Type: provider.EventText, Text: word}
			}
		}
		if s.StreamErr != nil {
			ch <- provider.StreamEvent{Type: provider.EventError, Err: s.StreamErr}
			return
		}
		ch <- provider.StreamEvent{Type: provider.EventDone, Usage: s.Usage}
	}()
	return ch, nil
}

func (s *Stub) ChatComplete(_ context.Context, model string, _ []models.ChatMessage, _ provider.CompleteOptions) (*provider.Completion, error) {
	return &provider.Completion{Text: s.Reply, Model: model, Usage: s.Usage}, nil
}

// Factory builds Stubs from provider configs, serving every configured model.
func Factory(cfg models.ProviderConfig, _ string) (provider.Provider, error) {
	names := make([]string, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		names = append(names, m.Name)
	}
	return New(cfg.ID, names...), nil
}
