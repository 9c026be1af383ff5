package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/finbridge/invoice-financing-api/internal/domain"
	"github.com/finbridge/invoice-financing-api/internal/infra/observability"
	"github.com/finbridge/invoice-financing-api/internal/port"
	"github.com/finbridge/invoice-financing-api/internal/service"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(orch *service.Orchestrator, catalog port.PlatformCatalog, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(catalog, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Applications
		r.Post("/applications/start", startApplicationHandler(orch, logger))
		r.Get("/applications/{applicationId}", getApplicationHandler(orch, logger))

		// Webhook alerts from the accounting platform
		r.Post("/webhooks/accounting/data-connection-status", connectionStatusHandler(orch, logger))
		r.Post("/webhooks/accounting/datatype-sync-complete", dataTypeSyncHandler(orch, logger))

		// Pipeline metrics
		r.Get("/metrics/pipeline", pipelineMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Applications
// ============================================================

func startApplicationHandler(orch *service.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/applications/start")
		defer span.End()

		details, err := orch.CreateApplication(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, details)
	}
}

func getApplicationHandler(orch *service.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/applications/{applicationId}")
		defer span.End()

		id, err := uuid.Parse(chi.URLParam(r, "applicationId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid application id")
			return
		}
		span.SetAttributes(attribute.String("application.id", id.String()))

		app, err := orch.GetApplication(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, app)
	}
}

// ============================================================
// Webhook alerts
// ============================================================

func connectionStatusHandler(orch *service.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/webhooks/accounting/data-connection-status")
		defer span.End()

		var alert domain.ConnectionStatusAlert
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
			writeError(w, http.StatusBadRequest, "invalid alert payload")
			return
		}
		span.SetAttributes(attribute.String("company.id", alert.CompanyID.String()))

		if err := orch.HandleConnectionStatus(ctx, alert); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
	}
}

func dataTypeSyncHandler(orch *service.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/webhooks/accounting/datatype-sync-complete")
		defer span.End()

		var alert domain.DataSyncCompleteAlert
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
			writeError(w, http.StatusBadRequest, "invalid alert payload")
			return
		}
		span.SetAttributes(
			attribute.String("company.id", alert.CompanyID.String()),
			attribute.String("data.type", alert.Data.DataType),
		)

		if err := orch.HandleDataTypeSync(ctx, alert); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
	}
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(catalog port.PlatformCatalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "invoice-financing-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		if catalog != nil {
			start := time.Now()
			_, err := catalog.IsAccountingPlatform(ctx, "health-check")
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				status = "degraded"
				logger.Warn("accounting platform health check failed", zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: "accounting-platform", Status: status, LatencyMs: latency, LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func pipelineMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetPipelineSnapshot())
	}
}
