// Package provider defines the surface the router uses to talk to model
// backends, and a registry of configured adapters.
package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/pario-ai/dispatch/pkg/models"
)

// EventType tags a StreamEvent.
type EventType string

const (
	EventText  EventType = "text"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// StreamEvent is one item of a chat stream. A stream delivers zero or more
// text events followed by exactly one done or error event, then closes.
type StreamEvent struct {
	Type  EventType
	Text  string
	Usage *models.Usage
	Err   error
}

// CompleteOptions tunes a one-shot completion.
type CompleteOptions struct {
	MaxTokens   int
	Temperature *float64
	// JSON requests a JSON object response.
	JSON bool
}

// Completion is the result of a one-shot call or a collected stream.
type Completion struct {
	Text         string        `json:"text"`
	Model        string        `json:"model,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *models.Usage `json:"usage,omitempty"`
}

// Provider is a model backend.
type Provider interface {
	// ID returns the provider id from configuration.
	ID() string
	// Supports reports whether model is served by this provider.
	Supports(model string) bool
	// IsAvailable probes the backend. It must honour ctx's deadline.
	IsAvailable(ctx context.Context) (bool, error)
	// ChatStream starts a streaming chat. Cancelling ctx ends the stream.
	ChatStream(ctx context.Context, model string, msgs []models.ChatMessage) (<-chan StreamEvent, error)
	// ChatComplete runs a one-shot chat completion.
	ChatComplete(ctx context.Context, model string, msgs []models.ChatMessage, opts CompleteOptions) (*Completion, error)
}

// ErrIncompleteStream is returned by Collect when a stream closes without a
// terminal event.
var ErrIncompleteStream = errors.New("stream closed without a terminal event")

// Collect drains a stream into a Completion. On an error event the text
// received so far is returned with the error.
func Collect(ctx context.Context, events <-chan StreamEvent) (*Completion, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return &Completion{Text: sb.String()}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return &Completion{Text: sb.String()}, ErrIncompleteStream
			}
			switch ev.Type {
			case EventText:
				sb.WriteString(ev.Text)
			case EventDone:
				return &Completion{Text: sb.String(), Usage: ev.Usage}, nil
			case EventError:
				return &Completion{Text: sb.String(), Usage: ev.Usage}, ev.Err
			}
		}
	}
}
