package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fincontrol-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
// Every /v1 route is scoped to the user id carried by the bearer token.
func NewRouter(billing *service.BillingService, authSvc *service.AuthService, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger, metrics))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(billing, logger))
	r.Get("/readyz", readyzHandler(billing, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(JWTAuthMiddleware(authSvc, logger))

		// =============================================
		// 1. 💳 Cartões de Crédito
		// GET  /v1/cartoes
		// POST /v1/cartoes/{cardId}/reconciliar
		// =============================================
		r.Get("/cartoes", listCardsHandler(billing, logger))
		r.Post("/cartoes/{cardId}/reconciliar", reconcileCardHandler(billing, logger))

		// =============================================
		// 2. 🧾 Faturas
		// GET  /v1/cartoes/{cardId}/faturas?mes=&ano=
		// POST /v1/cartoes/{cardId}/faturas
		// POST /v1/cartoes/faturas (card_id no corpo)
		// =============================================
		r.Get("/cartoes/{cardId}/faturas", getInvoiceHandler(billing, logger))
		r.Post("/cartoes/{cardId}/faturas", invoiceActionHandler(billing, logger))
		r.Post("/cartoes/faturas", invoiceActionHandler(billing, logger))

		// =============================================
		// 3. 📊 Métricas
		// GET /v1/metrics/billing
		// =============================================
		r.Get("/metrics/billing", billingMetricsHandler(metrics))
	})

	// --- Admin ---
	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminKeyMiddleware(authSvc, logger))
		r.Post("/users/{userId}/cartoes/reconciliar", adminReconcileHandler(billing, logger))
	})

	return r
}

// ============================================================
// Probes
// ============================================================

func healthzHandler(billing *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "bfa-api", Status: "healthy", LastChecked: now},
		}

		if billing != nil {
			start := time.Now()
			err := billing.Ping(r.Context())
			store := domain.ServiceHealth{
				Name:        "store",
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				logger.Warn("healthz: store ping failed", zap.Error(err))
				store.Status = "degraded"
				store.Error = err.Error()
			}
			services = append(services, store)
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overallStatus = s.Status
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

// readyzHandler answers 503 not_ready while the store does not answer a ping.
func readyzHandler(billing *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if billing != nil {
			if err := billing.Ping(r.Context()); err != nil {
				logger.Warn("readyz: store ping failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func billingMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetBillingSnapshot())
	}
}
