// Package openaicompat adapts OpenAI-compatible HTTP APIs, including
// Ollama's /v1 endpoint, to provider.Provider.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pario-ai/dispatch/pkg/models"
	"github.com/pario-ai/dispatch/pkg/provider"
)

// DefaultOllamaURL is used for ollama providers without a base URL.
const DefaultOllamaURL = "http://localhost:11434/v1"

const (
	defaultTimeout       = 60 * time.Second
	defaultProbeInterval = 30 * time.Second
	maxErrorBody         = 512
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient replaces the HTTP client. Streams use a copy without
// Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithProbeInterval sets how often IsAvailable reaches the network. Calls in
// between return the last result.
func WithProbeInterval(d time.Duration) Option {
	return func(a *Adapter) { a.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// Adapter talks to one OpenAI-compatible endpoint.
type Adapter struct {
	cfg     models.ProviderConfig
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger

	// stream has no Timeout; the header wait is bounded by timeout and the
	// body by the caller's context.
	stream *http.Client

	probeMu sync.Mutex
	limiter *rate.Limiter
	probed  bool
	lastOK  bool
	lastErr error
}

// New returns an Adapter for cfg.
func New(cfg models.ProviderConfig, apiKey string, opts ...Option) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	a := &Adapter{
		cfg:     cfg,
		baseURL: baseURL(cfg),
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Every(defaultProbeInterval), 1),
	}
	for _, o := range opts {
		o(a)
	}
	stream := *a.client
	stream.Timeout = 0
	a.stream = &stream
	return a
}

// Factory is a provider.Factory for the openai-compat and ollama kinds.
func Factory(cfg models.ProviderConfig, apiKey string) (provider.Provider, error) {
	if cfg.BaseURL == "" && cfg.Kind != models.KindOllama {
		return nil, &models.ConfigurationError{
			Field:   fmt.Sprintf("providers[%s].base_url", cfg.ID),
			Message: "base_url is required",
		}
	}
	return New(cfg, apiKey), nil
}

// Factories returns the factories this package serves.
func Factories() provider.Factories {
	return provider.Factories{
		models.KindOpenAICompat: Factory,
		models.KindOllama:       Factory,
	}
}

func baseURL(cfg models.ProviderConfig) string {
	u := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Kind == models.KindOllama {
		if u == "" {
			return DefaultOllamaURL
		}
		if !strings.HasSuffix(u, "/v1") {
			u += "/v1"
		}
	}
	return u
}

func (a *Adapter) ID() string { return a.cfg.ID }

func (a *Adapter) Supports(model string) bool {
	_, ok := a.cfg.Model(model)
	return ok
}

// IsAvailable probes GET {base}/models. Probes are rate limited; between
// probes the previous result is returned.
func (a *Adapter) IsAvailable(ctx context.Context) (bool, error) {
	a.probeMu.Lock()
	defer a.probeMu.Unlock()

	allow := a.limiter.Allow()
	if a.probed && !allow {
		return a.lastOK, a.lastErr
	}

	ok, err := a.probe(ctx)
	if err != nil && ctx.Err() != nil {
		// The caller gave up, which says nothing about the provider. Forget
		// the cached result so the next call checks again.
		a.probed = false
		return false, err
	}
	a.probed, a.lastOK, a.lastErr = true, ok, err
	if err != nil {
		a.logger.Debug("availability probe failed", zap.String("provider", a.cfg.ID), zap.Error(err))
	}
	return ok, err
}

func (a *Adapter) probe(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("probe %s: status %d", a.cfg.ID, resp.StatusCode)
	}
	return true, nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

func (a *Adapter) post(ctx context.Context, client *http.Client, body models.ChatCompletionRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.setHeaders(req)
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", a.cfg.ID, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Provider: a.cfg.ID, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %d: %s", e.Provider, e.Code, e.Body)
}

// Retryable reports whether another candidate might succeed.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// ChatComplete posts a non-streaming chat completion.
func (a *Adapter) ChatComplete(ctx context.Context, model string, msgs []models.ChatMessage, opts provider.CompleteOptions) (*provider.Completion, error) {
	body := models.ChatCompletionRequest{Model: model, Messages: msgs, Temperature: opts.Temperature}
	if opts.MaxTokens > 0 {
		body.MaxTokens = &opts.MaxTokens
	}
	if opts.JSON {
		body.ResponseFormat = &models.ResponseFormat{Type: "json_object"}
	}

	resp, err := a.post(ctx, a.client, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out models.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	c := &provider.Completion{Model: out.Model}
	if len(out.Choices) > 0 {
		c.Text = out.Choices[0].Message.Content
		c.FinishReason = out.Choices[0].FinishReason
	}
	if out.Usage != nil {
		c.Usage = out.Usage.ToUsage()
	}
	return c, nil
}

// ChatStream posts a streaming chat completion and relays the SSE stream.
// Usage is requested from the upstream and attached to the done event.
// The configured timeout covers the wait for response headers only; the
// stream itself runs until ctx is done.
func (a *Adapter) ChatStream(ctx context.Context, model string, msgs []models.ChatMessage) (<-chan provider.StreamEvent, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(a.timeout, cancel)
	resp, err := a.post(reqCtx, a.stream, models.ChatCompletionRequest{
		Model:         model,
		Messages:      msgs,
		Stream:        true,
		StreamOptions: &models.StreamOptions{IncludeUsage: true},
	})
	if !timer.Stop() && ctx.Err() == nil {
		if err == nil {
			resp.Body.Close()
		}
		err = fmt.Errorf("upstream %s: no response within %s", a.cfg.ID, a.timeout)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	events := make(chan provider.StreamEvent, 16)
	go a.relay(ctx, cancel, resp.Body, events)
	return events, nil
}

func (a *Adapter) relay(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, events chan<- provider.StreamEvent) {
	defer close(events)
	defer cancel()
	defer body.Close()

	send := func(ev provider.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		// Best effort: the consumer may have stopped reading.
		select {
		case events <- provider.StreamEvent{Type: provider.EventError, Err: err}:
		default:
		}
	}

	var usage *models.Usage
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			send(provider.StreamEvent{Type: provider.EventDone, Usage: usage})
			return
		}

		var chunk models.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			a.logger.Debug("skip malformed chunk", zap.String("provider", a.cfg.ID), zap.Error(err))
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage.ToUsage()
		}
		for _, ch := range chunk.Choices {
			if ch.Delta.Content == "" {
				continue
			}
			if !send(provider.StreamEvent{Type: provider.EventText, Text: ch.Delta.Content}) {
				fail(ctx.Err())
				return
			}
		}
	}

	if ctx.Err() != nil {
		fail(ctx.Err())
		return
	}
	if err := scanner.Err(); err != nil {
		send(provider.StreamEvent{Type: provider.EventError, Err: fmt.Errorf("reading stream: %w", err)})
		return
	}
	// Some servers close the stream without [DONE].
	send(provider.StreamEvent{Type: provider.EventDone, Usage: usage})
}
