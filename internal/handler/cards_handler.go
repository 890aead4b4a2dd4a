package handler

import (
	"net/http"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fincontrol-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Cartões de Crédito
// ============================================================

func listCardsHandler(billing *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cartoes")
		defer span.End()

		cards, err := billing.ListCards(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if cards == nil {
			cards = []domain.CreditCard{}
		}

		writeJSON(w, http.StatusOK, map[string]any{"cartoes": cards})
	}
}

func reconcileCardHandler(billing *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cartoes/{cardId}/reconciliar")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		span.SetAttributes(attribute.String("card.id", cardID))

		result, err := billing.Reconcile(ctx, UserIDFromContext(ctx), cardID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func adminReconcileHandler(billing *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /admin/users/{userId}/cartoes/reconciliar")
		defer span.End()
		reqLogger := observability.RequestLogger(ctx, logger)

		userID := chi.URLParam(r, "userId")
		results, err := billing.ReconcileAll(ctx, userID)
		if err != nil {
			handleServiceError(w, err, reqLogger)
			return
		}
		if results == nil {
			results = []domain.ReconcileResult{}
		}

		reqLogger.Info("admin reconcile",
			zap.String("user_id", userID),
			zap.Int("cards", len(results)),
		)
		writeJSON(w, http.StatusOK, map[string]any{"cartoes": results})
	}
}
