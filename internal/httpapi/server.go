// Package httpapi implements the HTTP API surface (C9): chi route
// definitions, request-scoped auth/rate-limit/correlation middleware, and
// the handlers that translate between the wire shapes in spec.md §6 and
// the orchestrator/job-manager/store ports.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aigateway/gateway/internal/authn"
	"github.com/aigateway/gateway/internal/correlation"
	"github.com/aigateway/gateway/internal/jobs"
	"github.com/aigateway/gateway/internal/metrics"
	"github.com/aigateway/gateway/internal/orchestrator"
	"github.com/aigateway/gateway/internal/ratelimit"
	"github.com/aigateway/gateway/internal/registry"
	"github.com/aigateway/gateway/internal/store"
	"github.com/aigateway/gateway/internal/tracing"
	"github.com/aigateway/gateway/internal/version"
)

// Config bounds the HTTP layer's own policy (everything not already owned
// by the components it wires together).
type Config struct {
	MaxBodyBytes   int64
	MaxInputLength int
	AnalysisType   orchestrator.AnalysisType
	TracingEnabled bool
}

// API holds every dependency a route handler needs.
type API struct {
	cfg          Config
	orchestrator *orchestrator.Orchestrator
	jobs         *jobs.Manager
	registry     *registry.Registry
	store        *store.Store
	verifier     *authn.Verifier
	userLimiter  *ratelimit.Limiter
	ipLimiter    *ratelimit.Limiter
	metrics      *metrics.Collector
	metricsHTTP  http.Handler
}

// New constructs the API surface. Call Router to obtain the http.Handler. A
// nil collector disables request/auth/rate-limit instrumentation, and
// metricsHandler may be nil to omit the /metrics route entirely.
func New(cfg Config, orch *orchestrator.Orchestrator, jobMgr *jobs.Manager, reg *registry.Registry, st *store.Store, verifier *authn.Verifier, userLimiter, ipLimiter *ratelimit.Limiter, collector *metrics.Collector, metricsHandler http.Handler) *API {
	return &API{
		cfg:          cfg,
		orchestrator: orch,
		jobs:         jobMgr,
		registry:     reg,
		store:        st,
		verifier:     verifier,
		userLimiter:  userLimiter,
		ipLimiter:    ipLimiter,
		metrics:      collector,
		metricsHTTP:  metricsHandler,
	}
}

// Router builds the chi router for the full route set in spec.md §4.9.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(correlation.Middleware)
	r.Use(recoverer)
	r.Use(a.recordRequest)
	if a.cfg.TracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}
	r.NotFound(a.handleNotFound)

	r.Get("/health", a.handleHealth)
	r.Get("/live", a.handleLive)
	r.Get("/ready", a.handleReady)
	r.Get("/version", a.handleVersion)
	r.Get("/services", a.handleServices)
	r.Get("/services/health", a.handleServicesHealth)
	r.Get("/query-logs", a.handleQueryLogs)
	if a.metricsHTTP != nil {
		r.Get("/metrics", a.metricsHTTP.ServeHTTP)
	}

	r.Group(func(protected chi.Router) {
		protected.Use(a.requireAuth)
		protected.Use(a.rateLimit)
		protected.Post("/process", a.handleProcess)
		protected.Post("/analyze-async", a.handleAnalyzeAsyncSubmit)
		protected.Get("/analyze-async/{job_id}", a.handleAnalyzeAsyncStatus)
		protected.Get("/me", a.handleMe)
		protected.Get("/me/usage", a.handleMeUsage)
	})

	return r
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "gateway",
		"version": version.Version,
		"git_sha": version.GitCommit,
	})
}

