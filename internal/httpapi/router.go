// Package httpapi exposes the orchestration core's ritual, approval, and
// graph surfaces over HTTP: a thin chi router translating requests into
// calls on ritual.Runner, gate.Gate, graph.Store, and eventlog.Log, and
// their results back into the response shapes described by the external
// interface.
package httpapi

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/afewell-hh/demon/internal/eventlog"
	"github.com/afewell-hh/demon/internal/gate"
	"github.com/afewell-hh/demon/internal/graph"
	"github.com/afewell-hh/demon/internal/ritual"
	"github.com/afewell-hh/demon/internal/telemetry"
)

// Deps wires the collaborators every route group dispatches to. Runner is
// required; Gate, Graph, and Events may be left nil, in which case the
// route groups that depend on them respond 501 rather than panicking.
type Deps struct {
	Runner *ritual.Runner
	Gate   *gate.Gate
	Graph  *graph.Store
	Events *eventlog.Log
	Logger telemetry.Logger

	// DefaultTenant is used when a request carries no explicit tenant.
	DefaultTenant string
	// RunsListLimit caps GET /api/runs when the caller omits ?limit.
	RunsListLimit int

	// MetricsHandler, if set, is mounted at GET /metrics (typically
	// promhttp.HandlerFor backing the process's Prometheus registry).
	MetricsHandler http.Handler
}

// NewRouter builds the full chi.Router for the HTTP surface described by
// the external interface: ritual run scheduling/querying, approval
// grant/deny, graph reads, and the standalone recent-runs listing.
func NewRouter(deps Deps) http.Handler {
	if deps.RunsListLimit <= 0 {
		deps.RunsListLimit = 100
	}
	if deps.DefaultTenant == "" {
		deps.DefaultTenant = "default"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsFromEnvironment())

	h := &handlers{deps: deps}

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1/rituals/{ritual}", func(rr chi.Router) {
		rr.Post("/runs", h.scheduleRun)
		rr.Get("/runs", h.listRuns)
		rr.Get("/runs/{runId}", h.getRun)
		rr.Get("/runs/{runId}/envelope", h.getEnvelope)
		rr.Post("/runs/{runId}/cancel", h.cancelRun)
		rr.Get("/runs/{runId}/events/stream", h.streamEvents)
	})

	r.Route("/api/approvals/{runId}/{gateId}", func(gr chi.Router) {
		gr.Post("/grant", h.grantApproval)
		gr.Post("/deny", h.denyApproval)
	})

	r.Route("/api/graph", func(gr chi.Router) {
		gr.Post("/commits", h.postCommit)
		gr.Get("/commits/{id}", h.getCommit)
		gr.Get("/commits", h.listCommits)
		gr.Put("/tags/{tag}", h.putTag)
		gr.Get("/tags/{tag}", h.getTag)
		gr.Get("/tags", h.listTags)
	})

	r.Get("/api/runs", h.listRecentRuns)

	return r
}

// corsFromEnvironment builds the CORS middleware from DEMON_CORS_* (falling
// back to permissive localhost defaults for local development), mirroring
// the env-driven configuration convention this core uses throughout.
func corsFromEnvironment() func(http.Handler) http.Handler {
	origins := splitEnvList("DEMON_CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	methods := splitEnvList("DEMON_CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"})
	headers := splitEnvList("DEMON_CORS_ALLOWED_HEADERS", []string{"Accept", "Content-Type", "Authorization", "X-Idempotency-Key"})

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   methods,
		AllowedHeaders:   headers,
		AllowCredentials: false,
		MaxAge:           300,
	})
}

func splitEnvList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

type handlers struct {
	deps Deps
}
