// Package server exposes routing, simulation and budget operations over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/pario-ai/dispatch/pkg/audit"
	"github.com/pario-ai/dispatch/pkg/logging"
	"github.com/pario-ai/dispatch/pkg/router"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// Server is the dispatch HTTP API. The router can be swapped while serving.
type Server struct {
	router atomic.Pointer[router.Router]
	audit  *audit.Logger
	logger *zap.Logger
	listen string
	mux    chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAudit exposes the decision log under /v1/audit.
func WithAudit(a *audit.Logger) Option {
	return func(s *Server) { s.audit = a }
}

// WithListen sets the listen address used by ListenAndServe.
func WithListen(addr string) Option {
	return func(s *Server) { s.listen = addr }
}

// New creates a Server serving rt.
func New(rt *router.Router, opts ...Option) *Server {
	s := &Server{
		logger: zap.NewNop(),
		listen: ":8080",
	}
	for _, o := range opts {
		o(s)
	}
	s.router.Store(rt)
	s.mux = s.routes()
	return s
}

// SetRouter replaces the router used by subsequent requests.
func (s *Server) SetRouter(rt *router.Router) {
	s.router.Store(rt)
}

// Router returns the router currently serving requests.
func (s *Server) Router() *router.Router {
	return s.router.Load()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "https://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/route", s.handleRoute)
		r.Post("/simulate", s.handleSimulate)
		r.Get("/models", s.handleModels)

		r.Route("/budget", func(r chi.Router) {
			r.Get("/", s.handleBudget)
			r.Get("/stats", s.handleBudgetStats)
			r.Get("/export", s.handleBudgetExport)
			r.Post("/transactions", s.handleRecordTransaction)
			r.Post("/cleanup", s.handleBudgetCleanup)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", s.handleAudit)
			r.Get("/stats", s.handleAuditStats)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dispatch listening", zap.String("addr", s.listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = logging.NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context(), s.logger).Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
