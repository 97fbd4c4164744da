package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/dispatch/pkg/budget"
	"github.com/pario-ai/dispatch/pkg/classify"
	"github.com/pario-ai/dispatch/pkg/cost"
	"github.com/pario-ai/dispatch/pkg/logging"
	"github.com/pario-ai/dispatch/pkg/models"
	"github.com/pario-ai/dispatch/pkg/router"
)

// maxBody caps request bodies.
const maxBody = 4 << 20

type routeRequest struct {
	models.RoutingContext
	Classify bool `json:"classify,omitempty"`
}

// context returns the routing context, with classifier hints merged when asked.
func (rr *routeRequest) context() *models.RoutingContext {
	if !rr.Classify {
		return &rr.RoutingContext
	}
	return classify.Apply(&rr.RoutingContext, classify.Classify(&rr.RoutingContext))
}

type transactionRequest struct {
	Provider          string   `json:"provider"`
	Model             string   `json:"model"`
	Cost              *float64 `json:"cost,omitempty"`
	InputTokens       int      `json:"input_tokens"`
	OutputTokens      int      `json:"output_tokens"`
	CachedInputTokens int      `json:"cached_input_tokens,omitempty"`
	Operation         string   `json:"operation,omitempty"`
}

type budgetResponse struct {
	Profile   string               `json:"profile"`
	Config    *models.BudgetConfig `json:"config,omitempty"`
	Usage     models.BudgetUsage   `json:"usage"`
	Check     models.BudgetCheck   `json:"check"`
	Warnings  []string             `json:"warnings,omitempty"`
	Transient bool                 `json:"transient,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"profile": s.Router().Profile().Name,
	})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.Router().Route(r.Context(), req.context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Router().SimulateRoute(r.Context(), req.context()))
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	rt := s.Router()
	var list []router.ModelInfo
	switch {
	case r.URL.Query().Get("available") == "true":
		list = rt.AvailableModels(r.Context())
	case r.URL.Query().Get("capability") != "":
		list = rt.ModelsWithCapability(r.URL.Query().Get("capability"))
	default:
		list = rt.ListModels()
	}
	if list == nil {
		list = []router.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ledger returns the router's ledger or writes a 501.
func (s *Server) ledger(w http.ResponseWriter) (*router.Router, *budget.Ledger, bool) {
	rt := s.Router()
	l := rt.Ledger()
	if l == nil {
		writeJSONError(w, http.StatusNotImplemented, "budget ledger not configured")
		return nil, nil, false
	}
	return rt, l, true
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	rt, l, ok := s.ledger(w)
	if !ok {
		return
	}
	p := rt.Profile()
	resp := budgetResponse{
		Profile:   p.Name,
		Config:    p.Budget,
		Usage:     l.Usage(r.Context()),
		Check:     l.CheckBudget(r.Context(), 0, p.Budget),
		Transient: l.Transient(),
	}
	if p.Budget != nil {
		resp.Warnings = l.Warnings(r.Context(), p.Budget)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBudgetStats(w http.ResponseWriter, r *http.Request) {
	_, l, ok := s.ledger(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, l.SpendingStats(r.Context()))
}

func (s *Server) handleBudgetExport(w http.ResponseWriter, r *http.Request) {
	_, l, ok := s.ledger(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, l.ExportTransactions(r.Context()))
}

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	rt, l, ok := s.ledger(w)
	if !ok {
		return
	}
	var req transactionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Provider == "" || req.Model == "" {
		writeJSONError(w, http.StatusBadRequest, "provider and model are required")
		return
	}

	var spent float64
	if req.Cost != nil {
		spent = *req.Cost
	} else {
		pc, found := rt.Profile().Provider(req.Provider)
		mc, known := pc.Model(req.Model)
		if !found || !known {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown model %s:%s and no cost given", req.Provider, req.Model))
			return
		}
		usage := models.Usage{InputTokens: req.InputTokens, OutputTokens: req.OutputTokens, CachedInputTokens: req.CachedInputTokens}
		spent = cost.CalculateActualCost(usage, mc, req.Provider).TotalCost
	}

	tx, err := l.RecordTransaction(r.Context(), req.Provider, req.Model, spent, req.InputTokens, req.OutputTokens, req.Operation)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleBudgetCleanup(w http.ResponseWriter, r *http.Request) {
	_, l, ok := s.ledger(w)
	if !ok {
		return
	}
	keep := budget.DefaultKeepDays
	if v := r.URL.Query().Get("keep_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "keep_days must be a non-negative integer")
			return
		}
		keep = n
	}
	removed, err := l.CleanupOldTransactions(r.Context(), keep)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSONError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	q := r.URL.Query()
	opts := models.AuditQueryOpts{
		RequestID:  q.Get("request_id"),
		RuleID:     q.Get("rule"),
		ProviderID: q.Get("provider"),
		Outcome:    q.Get("outcome"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		opts.Since = t
	}
	entries, err := s.audit.Query(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSONError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	stats, err := s.audit.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if stats == nil {
		stats = []models.AuditStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

type noRouteBody struct {
	Error     apiError         `json:"error"`
	RuleID    string           `json:"rule_id"`
	Attempts  []models.Attempt `json:"attempts"`
	Reasoning []string         `json:"reasoning"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		noRoute *models.NoAvailableRouteError
		cfgErr  *models.ConfigurationError
		perr    *models.PersistenceError
	)
	switch {
	case errors.As(err, &noRoute):
		attempts := noRoute.Attempts
		if attempts == nil {
			attempts = []models.Attempt{}
		}
		writeJSON(w, http.StatusServiceUnavailable, noRouteBody{
			Error:     apiError{Message: err.Error(), Type: "no_available_route", Code: http.StatusServiceUnavailable},
			RuleID:    noRoute.RuleID,
			Attempts:  attempts,
			Reasoning: noRoute.Reasoning,
		})
	case errors.As(err, &cfgErr), errors.Is(err, budget.ErrInvalidCost):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &perr):
		logging.FromContext(r.Context(), s.logger).Error("persistence failure", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	default:
		logging.FromContext(r.Context(), s.logger).Error("request failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]apiError{
		"error": {Message: message, Type: "dispatch_error", Code: code},
	})
}
