package handler

import (
	"net/http"
	"time"

	"github.com/mcravero/statement-ingest/internal/infra/observability"
	"github.com/mcravero/statement-ingest/internal/port"
	"github.com/mcravero/statement-ingest/internal/tasks"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// healthProbeID is a syntactically valid UUID that never matches a row.
// The health check treats absence as success; only transport or auth
// failures degrade the probe.
const healthProbeID = "00000000-0000-0000-0000-000000000000"

// NewRouter creates the HTTP router with all routes and middleware.
// Every statement-import route is scoped to the authenticated user.
func NewRouter(store port.ImportStore, runner *tasks.Runner, metrics *observability.Metrics, jwtSecret string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(store, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. Statement imports (protected)
		// POST /v1/statement-imports/{importID}/process
		// GET  /v1/statement-imports/{importID}
		// GET  /v1/statement-imports
		// GET  /v1/tasks/{taskID}
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware([]byte(jwtSecret), logger))
			r.Post("/statement-imports/{importID}/process", processImportHandler(store, runner, logger))
			r.Get("/statement-imports/{importID}", getImportHandler(store, logger))
			r.Get("/statement-imports", listImportsHandler(store, logger))
			r.Get("/tasks/{taskID}", getTaskHandler(runner, logger))
		})

		// =============================================
		// 2. Pipeline metrics
		// GET /v1/metrics/pipeline
		// =============================================
		r.Get("/metrics/pipeline", pipelineMetricsHandler(metrics, logger))
	})

	return r
}

// ============================================================
// Probes
// ============================================================

type serviceHealth struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
}

type healthResponse struct {
	Status   string          `json:"status"`
	Services []serviceHealth `json:"services"`
}

func healthzHandler(store port.ImportStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		services := []serviceHealth{
			{Name: "statement-ingest", Status: "healthy"},
		}

		if store != nil {
			start := time.Now()
			_, err := store.GetStatementImport(ctx, healthProbeID)
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				status = "degraded"
			}
			services = append(services, serviceHealth{Name: "supabase", Status: status, LatencyMs: latency})
		}

		overall := "healthy"
		for _, s := range services {
			if s.Status == "degraded" {
				overall = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, healthResponse{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
