package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fincontrol-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Faturas
// ============================================================

func getInvoiceHandler(billing *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cartoes/{cardId}/faturas")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		month, year, err := parseReference(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.String("card.id", cardID),
			attribute.Int("invoice.month", month),
			attribute.Int("invoice.year", year),
		)

		view, err := billing.RefreshInvoice(ctx, UserIDFromContext(ctx), cardID, month, year)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, view)
	}
}

// invoiceActionHandler serves both POST /v1/cartoes/{cardId}/faturas and
// POST /v1/cartoes/faturas, where the card comes from card_id in the body.
func invoiceActionHandler(billing *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cartoes/faturas")
		defer span.End()
		reqLogger := observability.RequestLogger(ctx, logger)

		var body domain.InvoiceActionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		cardID := chi.URLParam(r, "cardId")
		if cardID == "" {
			cardID = body.CardID
		}
		if cardID == "" {
			handleServiceError(w, &domain.ErrValidation{Field: "card_id", Message: "obrigatório"}, reqLogger)
			return
		}

		action, err := domain.ParseInvoiceAction(body.Action)
		if err != nil {
			handleServiceError(w, err, reqLogger)
			return
		}
		if body.AccountID != nil && *body.AccountID == "" {
			body.AccountID = nil
		}

		span.SetAttributes(
			attribute.String("card.id", cardID),
			attribute.String("invoice.action", string(action)),
		)

		result, err := billing.Act(ctx, service.ActRequest{
			UserID:    UserIDFromContext(ctx),
			CardID:    cardID,
			Month:     body.Month,
			Year:      body.Year,
			Action:    action,
			AccountID: body.AccountID,
		})
		if err != nil {
			handleServiceError(w, err, reqLogger)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}
