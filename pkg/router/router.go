// Package router picks the provider and model that serve a request.
//
// A request is scored against the profile's rules, the winning preference
// list is expanded into candidates under the effective mode, and candidates
// are validated in order against configuration, availability and budget.
package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/dispatch/pkg/budget"
	"github.com/pario-ai/dispatch/pkg/cost"
	"github.com/pario-ai/dispatch/pkg/logging"
	"github.com/pario-ai/dispatch/pkg/models"
	"github.com/pario-ai/dispatch/pkg/provider"
	"github.com/pario-ai/dispatch/pkg/rules"
)

// DefaultProbeTimeout bounds each availability probe.
const DefaultProbeTimeout = 5 * time.Second

// Options tune candidate validation.
type Options struct {
	RequireAvailable bool `json:"require_available" yaml:"require_available" toml:"require_available"`
	BudgetCheck      bool `json:"budget_check" yaml:"budget_check" toml:"budget_check"`
	// MaxFallbacks caps how many candidates after the first are tried; 0 is unlimited.
	MaxFallbacks         int           `json:"max_fallbacks" yaml:"max_fallbacks" toml:"max_fallbacks" validate:"gte=0"`
	ProbeTimeout         time.Duration `json:"probe_timeout" yaml:"probe_timeout" toml:"probe_timeout"`
	ExpectedOutputTokens int           `json:"expected_output_tokens" yaml:"expected_output_tokens" toml:"expected_output_tokens" validate:"gte=0"`
}

// DefaultOptions returns availability and budget checks enabled.
func DefaultOptions() Options {
	return Options{
		RequireAvailable:     true,
		BudgetCheck:          true,
		ProbeTimeout:         DefaultProbeTimeout,
		ExpectedOutputTokens: cost.DefaultOutputTokens,
	}
}

// DecisionRecorder receives one entry per routing decision.
type DecisionRecorder interface {
	Log(ctx context.Context, entry models.AuditEntry) error
}

// Option configures a Router.
type Option func(*Router)

// WithOptions replaces the validation options.
func WithOptions(o Options) Option {
	return func(r *Router) { r.opts = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithDecisionRecorder records every Route outcome.
func WithDecisionRecorder(d DecisionRecorder) Option {
	return func(r *Router) { r.decisions = d }
}

// Router is safe for concurrent use. It holds no per-request state.
type Router struct {
	profile   *models.Profile
	registry  *provider.Registry
	ledger    *budget.Ledger
	scorer    *rules.Scorer
	expander  *Expander
	opts      Options
	logger    *zap.Logger
	decisions DecisionRecorder
}

// New validates profile and returns a Router. ledger may be nil, in which
// case budget checks are skipped.
func New(profile *models.Profile, registry *provider.Registry, ledger *budget.Ledger, opts ...Option) (*Router, error) {
	if registry == nil {
		return nil, &models.ConfigurationError{Field: "registry", Message: "provider registry is required"}
	}
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}
	scorer, err := rules.NewScorer(profile)
	if err != nil {
		return nil, err
	}

	r := &Router{
		profile:  profile,
		registry: registry,
		ledger:   ledger,
		scorer:   scorer,
		opts:     DefaultOptions(),
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.opts.ProbeTimeout <= 0 {
		r.opts.ProbeTimeout = DefaultProbeTimeout
	}
	r.expander = NewExpander(profile, r.opts.ExpectedOutputTokens)
	return r, nil
}

// ValidateProfile checks the references a profile makes. Targets naming an
// unknown provider are tolerated and dropped at expansion, but every
// preference list must name at least one known provider.
func ValidateProfile(p *models.Profile) error {
	if p == nil {
		return &models.ConfigurationError{Field: "profile", Message: "profile is required"}
	}
	if len(p.Providers) == 0 {
		return &models.ConfigurationError{Field: "providers", Message: "profile has no providers"}
	}
	seen := make(map[string]bool)
	for i, pc := range p.Providers {
		if pc.ID == "" {
			return &models.ConfigurationError{Field: fmt.Sprintf("providers[%d].id", i), Message: "provider id is required"}
		}
		if seen[pc.ID] {
			return &models.ConfigurationError{Field: "providers", Message: fmt.Sprintf("duplicate provider id %q", pc.ID)}
		}
		seen[pc.ID] = true
	}
	if p.Mode != "" && !models.IsKnownMode(p.Mode) {
		return &models.ConfigurationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", p.Mode)}
	}
	if len(p.Default.Prefer) == 0 {
		return &models.ConfigurationError{Field: "default.prefer", Message: "default rule is required"}
	}
	if err := checkTargets("default", p.Default, seen); err != nil {
		return err
	}
	for _, r := range p.Rules {
		if err := checkTargets("rules["+r.ID+"].then", r.Then, seen); err != nil {
			return err
		}
	}
	for _, tok := range p.Fallback {
		if _, _, ok := models.ParseTarget(tok); !ok {
			return &models.ConfigurationError{Field: "fallback", Message: fmt.Sprintf("malformed target %q", tok)}
		}
	}
	if b := p.Budget; b != nil {
		if (b.DailyUSD != nil && *b.DailyUSD < 0) || (b.MonthlyUSD != nil && *b.MonthlyUSD < 0) {
			return &models.ConfigurationError{Field: "budget", Message: "ceilings must not be negative"}
		}
	}
	return nil
}

func checkTargets(field string, a models.RuleAction, known map[string]bool) error {
	if len(a.Prefer) == 0 {
		return &models.ConfigurationError{Field: field + ".prefer", Message: "preference list is empty"}
	}
	anyKnown := false
	for _, tok := range slices.Concat(a.Prefer, a.Fallback) {
		pid, _, ok := models.ParseTarget(tok)
		if !ok {
			return &models.ConfigurationError{Field: field, Message: fmt.Sprintf("malformed target %q", tok)}
		}
		anyKnown = anyKnown || known[pid]
	}
	if !anyKnown {
		return &models.ConfigurationError{Field: field, Message: "no target names a configured provider"}
	}
	return nil
}

// Profile returns the active profile.
func (r *Router) Profile() *models.Profile { return r.profile }

// Ledger returns the budget ledger, or nil.
func (r *Router) Ledger() *budget.Ledger { return r.ledger }

// Provider returns the adapter registered for id.
func (r *Router) Provider(id string) (provider.Provider, bool) { return r.registry.Get(id) }

// verdict is the outcome of validating one candidate.
type verdict struct {
	ok       bool
	reason   string
	notes    []string
	estimate models.CostEstimate
}

func (r *Router) validate(ctx context.Context, rc *models.RoutingContext, c Candidate) verdict {
	adapter, ok := r.registry.Get(c.ProviderID)
	if !c.Configured || !ok || !adapter.Supports(c.ModelName) {
		return verdict{reason: "model not configured"}
	}

	if r.opts.RequireAvailable {
		pctx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
		up, err := adapter.IsAvailable(pctx)
		cancel()
		switch {
		case err != nil:
			return verdict{reason: "unavailable: " + err.Error()}
		case !up:
			return verdict{reason: "unavailable"}
		}
	}

	v := verdict{ok: true, estimate: cost.EstimateCost(rc.Prompt, c.Model, c.ProviderID, r.opts.ExpectedOutputTokens)}
	if r.opts.BudgetCheck && r.ledger != nil && r.profile.Budget != nil {
		chk := r.ledger.CheckBudget(ctx, v.estimate.TotalCost, r.profile.Budget)
		if !chk.Allowed {
			if r.profile.Budget.HardStop {
				return verdict{reason: chk.Reason, estimate: v.estimate}
			}
			v.notes = append(v.notes, "budget warning: "+chk.Reason)
		}
	}
	return v
}

func (r *Router) result(sel rules.Selection, c Candidate, reasoning []string, v verdict) *models.RoutingResult {
	est := v.estimate
	return &models.RoutingResult{
		ProviderID:    c.ProviderID,
		ModelName:     c.ModelName,
		Provider:      c.Provider,
		Model:         c.Model,
		Score:         sel.Score,
		Rule:          sel.Rule,
		Call:          sel.Action.CallKind(),
		Mode:          sel.Mode,
		Reasoning:     append(slices.Clone(reasoning), v.notes...),
		EstimatedCost: &est,
	}
}

func modeNote(mode string, privacy bool) string {
	if privacy && mode != models.ModePrivacyStrict {
		return "mode " + mode + " with privacy filter"
	}
	return "mode " + mode
}

func (r *Router) attemptLimit(n int) int {
	if r.opts.MaxFallbacks > 0 && r.opts.MaxFallbacks+1 < n {
		return r.opts.MaxFallbacks + 1
	}
	return n
}

// Route returns the first candidate that passes validation. When every
// candidate is rejected it returns a *models.NoAvailableRouteError listing
// each attempt.
func (r *Router) Route(ctx context.Context, rc *models.RoutingContext) (*models.RoutingResult, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	sel := r.scorer.Select(rc)
	cands, notes := r.expander.Expand(rc.Prompt, sel.Action, sel.Mode, rc.Privacy)
	reasoning := slices.Concat(sel.Reasoning, []string{modeNote(sel.Mode, rc.Privacy)}, notes)

	var attempts []models.Attempt
	limit := r.attemptLimit(len(cands))
	for _, c := range cands[:limit] {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("route: %w", err)
		}
		v := r.validate(ctx, rc, c)
		if !v.ok {
			attempts = append(attempts, models.Attempt{ProviderID: c.ProviderID, ModelName: c.ModelName, Reason: v.reason})
			reasoning = append(reasoning, fmt.Sprintf("skipped %s: %s", c, v.reason))
			continue
		}
		res := r.result(sel, c, reasoning, v)
		r.record(ctx, rc, sel, res, start)
		logging.FromContext(ctx, r.logger).Debug("routed",
			zap.String("rule", sel.RuleID()),
			zap.String("provider", c.ProviderID),
			zap.String("model", c.ModelName),
			zap.Int("score", sel.Score))
		return res, nil
	}
	if limit < len(cands) {
		reasoning = append(reasoning, fmt.Sprintf("stopped after %d attempts", len(attempts)))
	}

	err := &models.NoAvailableRouteError{RuleID: sel.RuleID(), Attempts: attempts, Reasoning: reasoning}
	r.record(ctx, rc, sel, nil, start)
	logging.FromContext(ctx, r.logger).Warn("no available route",
		zap.String("rule", sel.RuleID()),
		zap.Int("attempts", len(attempts)))
	return nil, err
}

func (r *Router) record(ctx context.Context, rc *models.RoutingContext, sel rules.Selection, res *models.RoutingResult, start time.Time) {
	if r.decisions == nil {
		return
	}
	entry := models.AuditEntry{
		RequestID:  logging.RequestID(ctx),
		Profile:    r.profile.Name,
		RuleID:     sel.RuleID(),
		Mode:       sel.Mode,
		Score:      sel.Score,
		Outcome:    models.OutcomeNoRoute,
		Reasoning:  sel.Reasoning,
		PromptHash: hashPrompt(rc.Prompt),
		LatencyMs:  time.Since(start).Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if res != nil {
		entry.Outcome = models.OutcomeRouted
		entry.ProviderID = res.ProviderID
		entry.ModelName = res.ModelName
		entry.Reasoning = res.Reasoning
	}
	if err := r.decisions.Log(ctx, entry); err != nil {
		r.logger.Warn("record routing decision", zap.Error(err))
	}
}

// Simulation is a dry-run of Route.
type Simulation struct {
	Result       *models.RoutingResult `json:"result,omitempty"`
	Alternatives []models.Alternative  `json:"alternatives"`
	Rules        []rules.RuleScore     `json:"rules"`
	Reasoning    []string              `json:"reasoning"`
	Warnings     []string              `json:"warnings,omitempty"`
}

// SimulateRoute validates every candidate concurrently and reports each one.
// Result is the candidate Route would pick, or nil. It never fails: a
// context Route would reject yields no candidates and says why.
func (r *Router) SimulateRoute(ctx context.Context, rc *models.RoutingContext) *Simulation {
	if err := rc.Validate(); err != nil {
		return &Simulation{
			Alternatives: []models.Alternative{},
			Rules:        []rules.RuleScore{},
			Reasoning:    []string{err.Error()},
		}
	}
	sel := r.scorer.Select(rc)
	cands, notes := r.expander.Expand(rc.Prompt, sel.Action, sel.Mode, rc.Privacy)
	reasoning := slices.Concat(sel.Reasoning, []string{modeNote(sel.Mode, rc.Privacy)}, notes)

	verdicts := make([]verdict, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, c := range cands {
		g.Go(func() error {
			verdicts[i] = r.validate(gctx, rc, c)
			return nil
		})
	}
	_ = g.Wait()

	sim := &Simulation{
		Alternatives: make([]models.Alternative, 0, len(cands)),
		Rules:        sel.Scores,
		Reasoning:    reasoning,
	}
	limit := r.attemptLimit(len(cands))
	for i, c := range cands {
		v := verdicts[i]
		sim.Alternatives = append(sim.Alternatives, models.Alternative{
			ProviderID: c.ProviderID,
			ModelName:  c.ModelName,
			Score:      sel.Score,
			Available:  v.ok,
			Reason:     v.reason,
			Cost:       v.estimate.TotalCost,
		})
		if v.ok && sim.Result == nil && i < limit {
			sim.Result = r.result(sel, c, reasoning, v)
		}
	}
	if r.ledger != nil && r.profile.Budget != nil {
		sim.Warnings = r.ledger.Warnings(ctx, r.profile.Budget)
	}
	return sim
}

// ErrNoLedger is returned by RecordUsage when the router has no ledger.
var ErrNoLedger = errors.New("router has no budget ledger")

// ErrNoResult is returned by RecordUsage when no routing result is given.
var ErrNoResult = errors.New("no routing result to record usage for")

// RecordUsage prices usage reported for result and records it in the ledger.
func (r *Router) RecordUsage(ctx context.Context, result *models.RoutingResult, usage models.Usage, operation string) (models.Transaction, error) {
	if r.ledger == nil {
		return models.Transaction{}, ErrNoLedger
	}
	if result == nil {
		return models.Transaction{}, ErrNoResult
	}
	if operation == "" {
		operation = result.Call
	}
	actual := cost.CalculateActualCost(usage, result.Model, result.ProviderID)
	return r.ledger.RecordTransaction(ctx, result.ProviderID, result.ModelName, actual.TotalCost,
		usage.InputTokens, usage.OutputTokens, operation)
}
