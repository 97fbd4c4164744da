package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pario-ai/dispatch/pkg/budget"
	"github.com/pario-ai/dispatch/pkg/logging"
	"github.com/pario-ai/dispatch/pkg/models"
	"github.com/pario-ai/dispatch/pkg/provider"
	"github.com/pario-ai/dispatch/pkg/provider/providertest"
	"github.com/pario-ai/dispatch/pkg/store"
)

func boolp(b bool) *bool         { return &b }
func floatp(f float64) *float64 { return &f }

func setup(t *testing.T, profile *models.Profile, stubs []*providertest.Stub, opts ...Option) *Router {
	t.Helper()
	reg := provider.NewRegistry()
	for _, s := range stubs {
		if err := reg.Register(s); err != nil {
			t.Fatal(err)
		}
	}
	ledger := budget.New(store.NewMemory(), budget.WithKey("router."+t.Name()))
	r, err := New(profile, reg, ledger, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func singleProfile() *models.Profile {
	return &models.Profile{
		Name: "single",
		Providers: []models.ProviderConfig{
			{ID: "p1", Kind: models.KindCustom, Models: []models.ModelConfig{{Name: "m1"}}},
		},
		Rules: []models.RoutingRule{{
			ID:   "tests",
			If:   models.RuleCondition{AnyKeywords: []string{"test"}},
			Then: models.RuleAction{Prefer: []string{"p1:m1"}},
		}},
		Default: models.RuleAction{Prefer: []string{"p1:m1"}},
	}
}

func mixedProfile() *models.Profile {
	return &models.Profile{
		Name: "mixed",
		Providers: []models.ProviderConfig{
			{ID: "cloud", Kind: models.KindOpenAICompat, Models: []models.ModelConfig{
				{Name: "big", Capabilities: []string{"reasoning"}, Pricing: &models.Pricing{InputPerMTok: 1000, OutputPerMTok: 1000}},
				{Name: "mini", Capabilities: []string{"fast"}, Pricing: &models.Pricing{InputPerMTok: 1, OutputPerMTok: 1}},
			}},
			{ID: "local", Kind: models.KindOllama, Models: []models.ModelConfig{
				{Name: "llama3:8b", Capabilities: []string{"local", "private"}},
				{Name: "phi3", Capabilities: []string{"fast"}},
			}},
		},
		Default:  models.RuleAction{Prefer: []string{"cloud:big", "local:phi3", "local:llama3:8b"}},
		Fallback: []string{"cloud:mini"},
	}
}

func mixedStubs() []*providertest.Stub {
	return []*providertest.Stub{
		providertest.New("cloud", "big", "mini"),
		providertest.New("local", "llama3:8b", "phi3"),
	}
}

func TestRouteSingleKeywordRule(t *testing.T) {
	r := setup(t, singleProfile(), []*providertest.Stub{providertest.New("p1", "m1")})

	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "this is a test"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ModelName != "m1" || res.ProviderID != "p1" {
		t.Errorf("unexpected result %s:%s", res.ProviderID, res.ModelName)
	}
	if res.RuleID() != "tests" || res.Score != 1 {
		t.Errorf("expected rule tests with score 1, got %s/%d", res.RuleID(), res.Score)
	}
	if res.Call != models.CallChat {
		t.Errorf("expected chat call, got %s", res.Call)
	}
	if res.EstimatedCost == nil {
		t.Error("expected a cost estimate")
	}
}

func TestRouteDefault(t *testing.T) {
	r := setup(t, singleProfile(), []*providertest.Stub{providertest.New("p1", "m1")})

	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "write a poem"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Rule != nil || res.RuleID() != "default" || res.Score != 0 {
		t.Errorf("expected default rule, got %+v", res)
	}
	if res.Reasoning[0] != "default" {
		t.Errorf("expected reasoning to start with default, got %v", res.Reasoning)
	}
}

func TestRouteSkipsUnavailable(t *testing.T) {
	stubs := mixedStubs()
	stubs[0].Down = true
	r := setup(t, mixedProfile(), stubs)

	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ProviderID != "local" || res.ModelName != "phi3" {
		t.Errorf("expected local:phi3, got %s:%s", res.ProviderID, res.ModelName)
	}
	if !strings.Contains(strings.Join(res.Reasoning, "|"), "skipped cloud:big: unavailable") {
		t.Errorf("expected skip note, got %v", res.Reasoning)
	}
}

func TestRouteNoAvailable(t *testing.T) {
	stubs := mixedStubs()
	for _, s := range stubs {
		s.ProbeErr = errors.New("connection refused")
	}
	r := setup(t, mixedProfile(), stubs)

	_, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "hi"})
	var nr *models.NoAvailableRouteError
	if !errors.As(err, &nr) {
		t.Fatalf("expected NoAvailableRouteError, got %v", err)
	}
	if !errors.Is(err, models.ErrNoAvailableRoute) {
		t.Error("expected errors.Is to match ErrNoAvailableRoute")
	}
	if len(nr.Attempts) != 4 {
		t.Errorf("expected 4 attempts including fallback, got %d", len(nr.Attempts))
	}
	if nr.Attempts[3].ProviderID != "cloud" || nr.Attempts[3].ModelName != "mini" {
		t.Errorf("expected profile fallback last, got %+v", nr.Attempts[3])
	}
}

func TestSimulateZeroAvailable(t *testing.T) {
	stubs := mixedStubs()
	for _, s := range stubs {
		s.Down = true
	}
	r := setup(t, mixedProfile(), stubs)

	sim := r.SimulateRoute(context.Background(), &models.RoutingContext{Prompt: "hi"})
	if sim.Result != nil {
		t.Errorf("expected no result, got %+v", sim.Result)
	}
	if len(sim.Alternatives) != 4 {
		t.Fatalf("expected 4 alternatives, got %d", len(sim.Alternatives))
	}
	for _, alt := range sim.Alternatives {
		if alt.Available || alt.Reason == "" {
			t.Errorf("expected unavailable alternative with reason, got %+v", alt)
		}
	}
}

func TestSimulateMatchesRoute(t *testing.T) {
	stubs := mixedStubs()
	stubs[0].Down = true
	r := setup(t, mixedProfile(), stubs)
	rc := &models.RoutingContext{Prompt: "hi"}

	sim := r.SimulateRoute(context.Background(), rc)
	res, err := r.Route(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	if sim.Result == nil || sim.Result.ProviderID != res.ProviderID || sim.Result.ModelName != res.ModelName {
		t.Errorf("simulate picked %+v, route picked %s:%s", sim.Result, res.ProviderID, res.ModelName)
	}
	want := []string{"cloud:big", "local:phi3", "local:llama3:8b", "cloud:mini"}
	for i, alt := range sim.Alternatives {
		if got := alt.ProviderID + ":" + alt.ModelName; got != want[i] {
			t.Errorf("alternative %d: expected %s, got %s", i, want[i], got)
		}
	}
}

func TestSimulateProbesConcurrently(t *testing.T) {
	stubs := mixedStubs()
	for _, s := range stubs {
		s.ProbeDelay = 100 * time.Millisecond
	}
	r := setup(t, mixedProfile(), stubs)

	start := time.Now()
	r.SimulateRoute(context.Background(), &models.RoutingContext{Prompt: "hi"})
	if elapsed := time.Since(start); elapsed > 350*time.Millisecond {
		t.Errorf("expected concurrent probes, took %v", elapsed)
	}
}

func TestPrivacyStrict(t *testing.T) {
	r := setup(t, mixedProfile(), mixedStubs())

	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "my medical notes", Privacy: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.ProviderID != "local" || res.ModelName != "llama3:8b" {
		t.Errorf("expected local:llama3:8b, got %s:%s", res.ProviderID, res.ModelName)
	}
	if res.Mode != models.ModePrivacyStrict {
		t.Errorf("expected privacy-strict mode, got %s", res.Mode)
	}

	sim := r.SimulateRoute(context.Background(), &models.RoutingContext{Prompt: "x", Privacy: true})
	if len(sim.Alternatives) != 1 {
		t.Errorf("expected only the privacy-safe candidate, got %+v", sim.Alternatives)
	}
}

func TestLocalOnlyFiltersFallbacks(t *testing.T) {
	stubs := mixedStubs()
	stubs[1].Down = true
	r := setup(t, mixedProfile(), stubs)

	_, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "hi", Mode: models.ModeOffline})
	var nr *models.NoAvailableRouteError
	if !errors.As(err, &nr) {
		t.Fatalf("expected NoAvailableRouteError, got %v", err)
	}
	for _, a := range nr.Attempts {
		if a.ProviderID == "cloud" {
			t.Errorf("cloud candidate attempted in offline mode: %+v", a)
		}
	}
}

func TestMaxFallbacks(t *testing.T) {
	stubs := mixedStubs()
	for _, s := range stubs {
		s.Down = true
	}
	opts := DefaultOptions()
	opts.MaxFallbacks = 1
	r := setup(t, mixedProfile(), stubs, WithOptions(opts))

	_, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "hi"})
	var nr *models.NoAvailableRouteError
	if !errors.As(err, &nr) {
		t.Fatalf("expected NoAvailableRouteError, got %v", err)
	}
	if len(nr.Attempts) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(nr.Attempts))
	}
}

func TestProbeTimeout(t *testing.T) {
	stubs := mixedStubs()
	stubs[0].ProbeDelay = time.Second
	opts := DefaultOptions()
	opts.ProbeTimeout = 20 * time.Millisecond
	r := setup(t, mixedProfile(), stubs, WithOptions(opts))

	start := time.Now()
	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ProviderID != "local" {
		t.Errorf("expected slow provider to be skipped, got %s", res.ProviderID)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("probe was not bounded by the timeout")
	}
}

func TestAvailabilityCheckDisabled(t *testing.T) {
	stubs := mixedStubs()
	stubs[0].Down = true
	opts := DefaultOptions()
	opts.RequireAvailable = false
	r := setup(t, mixedProfile(), stubs, WithOptions(opts))

	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ProviderID != "cloud" || stubs[0].Probes() != 0 {
		t.Errorf("expected cloud without probing, got %s (%d probes)", res.ProviderID, stubs[0].Probes())
	}
}

func TestBudgetHardStopSkips(t *testing.T) {
	p := mixedProfile()
	p.Budget = &models.BudgetConfig{DailyUSD: floatp(0.01), HardStop: true}
	r := setup(t, p, mixedStubs())

	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ProviderID != "local" || res.ModelName != "phi3" {
		t.Errorf("expected expensive candidate skipped, got %s:%s", res.ProviderID, res.ModelName)
	}
	if !strings.Contains(strings.Join(res.Reasoning, "|"), "would exceed daily budget") {
		t.Errorf("expected ledger reason in reasoning, got %v", res.Reasoning)
	}
}

func TestBudgetSoftLimitWarns(t *testing.T) {
	p := mixedProfile()
	p.Budget = &models.BudgetConfig{DailyUSD: floatp(0.01)}
	r := setup(t, p, mixedStubs())

	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ModelName != "big" {
		t.Errorf("expected soft limit to allow big, got %s", res.ModelName)
	}
	if !strings.HasPrefix(res.Reasoning[len(res.Reasoning)-1], "budget warning:") {
		t.Errorf("expected budget warning note, got %v", res.Reasoning)
	}
}

func TestModelNotConfigured(t *testing.T) {
	p := singleProfile()
	p.Default.Prefer = []string{"p1:ghost", "p1:m1"}
	r := setup(t, p, []*providertest.Stub{providertest.New("p1", "m1")})

	sim := r.SimulateRoute(context.Background(), &models.RoutingContext{Prompt: "hi"})
	if sim.Alternatives[0].Reason != "model not configured" {
		t.Errorf("expected model not configured, got %q", sim.Alternatives[0].Reason)
	}
	if sim.Result == nil || sim.Result.ModelName != "m1" {
		t.Errorf("expected m1, got %+v", sim.Result)
	}
}

func TestMissingAdapterIsNotConfigured(t *testing.T) {
	r := setup(t, mixedProfile(), []*providertest.Stub{providertest.New("local", "llama3:8b", "phi3")})

	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ProviderID != "local" {
		t.Errorf("expected local, got %s", res.ProviderID)
	}
}

func TestNewConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Profile)
	}{
		{"no default", func(p *models.Profile) { p.Default = models.RuleAction{} }},
		{"duplicate provider", func(p *models.Profile) { p.Providers = append(p.Providers, p.Providers[0]) }},
		{"malformed target", func(p *models.Profile) { p.Default.Prefer = []string{"p1"} }},
		{"unknown providers only", func(p *models.Profile) { p.Rules[0].Then.Prefer = []string{"nope:m"} }},
		{"bad rule", func(p *models.Profile) { p.Rules[0].If = models.RuleCondition{} }},
		{"bad mode", func(p *models.Profile) { p.Mode = "turbo" }},
		{"no providers", func(p *models.Profile) { p.Providers = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := singleProfile()
			tt.mutate(p)
			_, err := New(p, provider.NewRegistry(), nil)
			var ce *models.ConfigurationError
			if !errors.As(err, &ce) {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}

	if _, err := New(singleProfile(), nil, nil); err == nil {
		t.Error("expected error for nil registry")
	}
}

func TestUnknownProviderDroppedWithNote(t *testing.T) {
	p := singleProfile()
	p.Default.Prefer = []string{"gone:x", "p1:m1"}
	r := setup(t, p, []*providertest.Stub{providertest.New("p1", "m1")})

	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.Join(res.Reasoning, "|"), `unknown provider "gone"`) {
		t.Errorf("expected drop note, got %v", res.Reasoning)
	}
}

func TestRecordUsage(t *testing.T) {
	p := mixedProfile()
	r := setup(t, p, mixedStubs())

	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	tx, err := r.RecordUsage(context.Background(), res, models.Usage{InputTokens: 1000, OutputTokens: 1000}, "")
	if err != nil {
		t.Fatal(err)
	}
	// big costs $1000/MTok both ways: 2000 tokens -> $2.
	if tx.Cost < 1.999 || tx.Cost > 2.001 {
		t.Errorf("expected cost 2.0, got %v", tx.Cost)
	}
	if tx.Operation != models.CallChat {
		t.Errorf("expected operation chat, got %s", tx.Operation)
	}
	if got := r.Ledger().Usage(context.Background()).DailySpent; got < 1.999 {
		t.Errorf("expected ledger to hold the spend, got %v", got)
	}
}

func TestRecordUsageWithoutLedger(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(providertest.New("p1", "m1"))
	r, err := New(singleProfile(), reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.RecordUsage(context.Background(), res, models.Usage{}, "chat"); !errors.Is(err, ErrNoLedger) {
		t.Errorf("expected ErrNoLedger, got %v", err)
	}
}

type recorder struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (r *recorder) Log(_ context.Context, e models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func TestDecisionRecorder(t *testing.T) {
	rec := &recorder{}
	stubs := []*providertest.Stub{providertest.New("p1", "m1")}
	r := setup(t, singleProfile(), stubs, WithDecisionRecorder(rec))

	ctx := logging.WithRequestID(context.Background(), "req-42")
	if _, err := r.Route(ctx, &models.RoutingContext{Prompt: "a test"}); err != nil {
		t.Fatal(err)
	}
	stubs[0].Down = true
	r.Route(ctx, &models.RoutingContext{Prompt: "a test"})

	if len(rec.entries) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(rec.entries))
	}
	first, second := rec.entries[0], rec.entries[1]
	if first.RequestID != "req-42" || first.Outcome != models.OutcomeRouted || first.RuleID != "tests" {
		t.Errorf("unexpected first decision %+v", first)
	}
	if first.PromptHash == "" {
		t.Error("expected prompt hash")
	}
	if second.Outcome != models.OutcomeNoRoute || second.ProviderID != "" {
		t.Errorf("unexpected second decision %+v", second)
	}
}

func TestListModels(t *testing.T) {
	stubs := mixedStubs()
	stubs[0].Down = true
	r := setup(t, mixedProfile(), stubs)

	all := r.ListModels()
	if len(all) != 4 || all[0].Target() != "cloud:big" {
		t.Errorf("unexpected models %+v", all)
	}
	fast := r.ModelsWithCapability("FAST")
	if len(fast) != 2 || fast[0].Name != "mini" || fast[1].Name != "phi3" {
		t.Errorf("unexpected fast models %+v", fast)
	}
	avail := r.AvailableModels(context.Background())
	if len(avail) != 2 || avail[0].ProviderID != "local" {
		t.Errorf("unexpected available models %+v", avail)
	}
	if !all[2].Local || all[0].Local {
		t.Error("expected ollama models to be local and cloud models not")
	}
}

func TestExplicitLocalFlag(t *testing.T) {
	p := mixedProfile()
	p.Providers[0].Local = boolp(true)
	r := setup(t, p, mixedStubs())

	res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "hi", Mode: models.ModeLocalOnly})
	if err != nil {
		t.Fatal(err)
	}
	if res.ProviderID != "cloud" {
		t.Errorf("expected provider flagged local to survive local-only, got %s", res.ProviderID)
	}
}

func TestModeIsNormalised(t *testing.T) {
	r := setup(t, mixedProfile(), mixedStubs())

	tests := []struct {
		mode, want string
	}{
		{"Privacy-Strict", "local:llama3:8b"},
		{"OFFLINE", "local:phi3"},
		{"local-only ", "local:phi3"},
		{" Cheap", "local:phi3"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "secret notes", Mode: tt.mode})
			if err != nil {
				t.Fatal(err)
			}
			if got := res.ProviderID + ":" + res.ModelName; got != tt.want {
				t.Errorf("mode %q routed to %s, want %s", tt.mode, got, tt.want)
			}
			if res.Mode != models.NormalizeMode(tt.mode) {
				t.Errorf("result mode = %q", res.Mode)
			}
		})
	}
}

func TestUnknownModeRejected(t *testing.T) {
	r := setup(t, mixedProfile(), mixedStubs())
	rc := &models.RoutingContext{Prompt: "secret notes", Mode: "privacy_strict"}

	_, err := r.Route(context.Background(), rc)
	var ce *models.ConfigurationError
	if !errors.As(err, &ce) || ce.Field != "mode" {
		t.Fatalf("expected mode ConfigurationError, got %v", err)
	}

	sim := r.SimulateRoute(context.Background(), rc)
	if sim.Result != nil || len(sim.Alternatives) != 0 {
		t.Errorf("expected an empty simulation, got %+v", sim)
	}
	if len(sim.Reasoning) != 1 || !strings.Contains(sim.Reasoning[0], "unknown mode") {
		t.Errorf("unexpected reasoning %v", sim.Reasoning)
	}
}

func TestPrivacyFlagUnderOrderingMode(t *testing.T) {
	r := setup(t, mixedProfile(), mixedStubs())
	for _, mode := range []string{models.ModeCheap, models.ModeSpeed, models.ModeQuality, models.ModeLocalOnly} {
		res, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "x", Privacy: true, Mode: mode})
		if err != nil {
			t.Fatalf("mode %s: %v", mode, err)
		}
		if res.ProviderID != "local" || res.ModelName != "llama3:8b" {
			t.Errorf("mode %s with privacy routed to %s:%s", mode, res.ProviderID, res.ModelName)
		}
		if res.Mode != mode {
			t.Errorf("expected mode %s to be kept, got %s", mode, res.Mode)
		}
	}

	stubs := mixedStubs()
	stubs[1].Down = true
	r = setup(t, mixedProfile(), stubs)
	_, err := r.Route(context.Background(), &models.RoutingContext{Prompt: "x", Privacy: true, Mode: models.ModeCheap})
	var nr *models.NoAvailableRouteError
	if !errors.As(err, &nr) {
		t.Fatalf("expected NoAvailableRouteError with the local provider down, got %v", err)
	}
	for _, a := range nr.Attempts {
		if a.ProviderID != "local" {
			t.Errorf("cloud candidate %s:%s was attempted", a.ProviderID, a.ModelName)
		}
	}
}

func TestRecordUsageNilResult(t *testing.T) {
	r := setup(t, singleProfile(), []*providertest.Stub{providertest.New("p1", "m1")})
	if _, err := r.RecordUsage(context.Background(), nil, models.Usage{InputTokens: 1}, ""); !errors.Is(err, ErrNoResult) {
		t.Errorf("expected ErrNoResult, got %v", err)
	}
}
