package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pario-ai/dispatch/pkg/classify"
	"github.com/pario-ai/dispatch/pkg/models"
)

// Tool argument structs.

type routeArgs struct {
	Prompt   string   `json:"prompt"`
	Language string   `json:"language"`
	FilePath string   `json:"file_path"`
	Mode     string   `json:"mode"`
	Privacy  bool     `json:"privacy"`
	Keywords []string `json:"keywords"`
	Classify bool     `json:"classify"`
}

func (a routeArgs) context() *models.RoutingContext {
	rc := &models.RoutingContext{
		Prompt:   a.Prompt,
		Language: a.Language,
		FilePath: a.FilePath,
		Mode:     a.Mode,
		Privacy:  a.Privacy,
		Keywords: a.Keywords,
	}
	if a.Classify {
		rc = classify.Apply(rc, classify.Classify(rc))
	}
	return rc
}

type modelsArgs struct {
	Capability string `json:"capability"`
	Available  bool   `json:"available"`
}

type auditSearchArgs struct {
	RuleID   string `json:"rule_id"`
	Provider string `json:"provider"`
	Outcome  string `json:"outcome"`
	Since    string `json:"since"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"dispatch_route":        handleRoute,
	"dispatch_simulate":     handleSimulate,
	"dispatch_models":       handleModels,
	"dispatch_budget":       handleBudget,
	"dispatch_stats":        handleStats,
	"dispatch_audit_search": handleAuditSearch,
}

var routeSchema = map[string]any{
	"type":     "object",
	"required": []string{"prompt"},
	"properties": map[string]any{
		"prompt":    map[string]any{"type": "string", "description": "The request text to route"},
		"language":  map[string]any{"type": "string", "description": "Programming language of attached code (optional)"},
		"file_path": map[string]any{"type": "string", "description": "Path of the file the request is about (optional)"},
		"mode": map[string]any{
			"type":        "string",
			"enum":        models.KnownModes,
			"description": "Override the profile's routing mode (optional)",
		},
		"privacy":  map[string]any{"type": "boolean", "description": "Restrict routing to private local models"},
		"keywords": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Extra keywords for rule matching"},
		"classify": map[string]any{"type": "boolean", "description": "Add heuristic capability hints before routing"},
	},
}

// routingTools is the list of tool definitions exposed via tools/list.
var routingTools = []ToolDefinition{
	{
		Name:        "dispatch_route",
		Description: "Pick the provider and model that should serve a prompt, with the reasoning behind the choice.",
		InputSchema: routeSchema,
	},
	{
		Name:        "dispatch_simulate",
		Description: "Dry-run routing for a prompt: show every candidate, whether it is usable, and its estimated cost.",
		InputSchema: routeSchema,
	},
	{
		Name:        "dispatch_models",
		Description: "List configured models, optionally filtered by capability tag or current availability.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"capability": map[string]any{"type": "string", "description": "Capability tag such as fast or reasoning (optional)"},
				"available":  map[string]any{"type": "boolean", "description": "Only list models whose provider responds"},
			},
		},
	},
	{
		Name:        "dispatch_budget",
		Description: "Show today's and this month's spend against the configured budget, with any warnings.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "dispatch_stats",
		Description: "Show spending totals broken down by provider, model and day.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
}

var auditTool = ToolDefinition{
	Name:        "dispatch_audit_search",
	Description: "Search recent routing decisions by rule, provider, outcome or date.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rule_id":  map[string]any{"type": "string", "description": "Filter by rule id"},
			"provider": map[string]any{"type": "string", "description": "Filter by provider id"},
			"outcome":  map[string]any{"type": "string", "enum": []string{models.OutcomeRouted, models.OutcomeNoRoute}},
			"since":    map[string]any{"type": "string", "description": "Start date (YYYY-MM-DD)"},
		},
	},
}

func parseRouteArgs(raw json.RawMessage) (routeArgs, *ToolCallResult) {
	var args routeArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			res := errorResult("Invalid arguments: " + err.Error())
			return args, &res
		}
	}
	if args.Prompt == "" {
		res := errorResult("prompt is required")
		return args, &res
	}
	if err := (&models.RoutingContext{Mode: args.Mode}).Validate(); err != nil {
		res := errorResult(err.Error())
		return args, &res
	}
	return args, nil
}

func handleRoute(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	args, bad := parseRouteArgs(rawArgs)
	if bad != nil {
		return *bad
	}
	res, err := s.router().Route(ctx, args.context())
	if err != nil {
		var noRoute *models.NoAvailableRouteError
		if errors.As(err, &noRoute) {
			return errorResult(formatNoRoute(noRoute))
		}
		return errorResult("Error routing prompt: " + err.Error())
	}
	return textResult(formatResult(res))
}

func handleSimulate(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	args, bad := parseRouteArgs(rawArgs)
	if bad != nil {
		return *bad
	}
	return textResult(formatSimulation(s.router().SimulateRoute(ctx, args.context())))
}

func handleModels(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args modelsArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	rt := s.router()
	switch {
	case args.Available:
		return textResult(formatModels(rt.AvailableModels(ctx)))
	case args.Capability != "":
		return textResult(formatModels(rt.ModelsWithCapability(args.Capability)))
	default:
		return textResult(formatModels(rt.ListModels()))
	}
}

func handleBudget(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	rt := s.router()
	l := rt.Ledger()
	if l == nil {
		return textResult("Budget tracking is not configured.")
	}
	cfg := rt.Profile().Budget
	var warnings []string
	if cfg != nil {
		warnings = l.Warnings(ctx, cfg)
	}
	return textResult(formatBudget(l.Usage(ctx), cfg, warnings))
}

func handleStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	l := s.router().Ledger()
	if l == nil {
		return textResult("Budget tracking is not configured.")
	}
	return textResult(formatStats(l.SpendingStats(ctx)))
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	opts := models.AuditQueryOpts{
		RuleID:     args.RuleID,
		ProviderID: args.Provider,
		Outcome:    args.Outcome,
		Limit:      50,
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.auditor.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}
