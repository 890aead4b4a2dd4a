package service

import (
	"context"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Fatura aggregation
// ============================================================

// RefreshInvoice returns the card's transactions for the reference month,
// their total, and the fatura row upserted with that total. A missing or
// inactive card yields an empty view with a nil fatura.
func (s *BillingService) RefreshInvoice(ctx context.Context, userID, cardID string, month, year int) (*domain.InvoiceView, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.RefreshInvoice")
	defer span.End()
	span.SetAttributes(
		attribute.String("card.id", cardID),
		attribute.Int("invoice.month", month),
		attribute.Int("invoice.year", year),
	)
	defer s.observe("invoice.refresh", time.Now())

	if err := validateReference(month, year); err != nil {
		return nil, err
	}

	card, err := s.store.GetCreditCard(ctx, userID, cardID)
	if isNotFound(err) {
		return &domain.InvoiceView{Transactions: []domain.Transaction{}, Total: decimal.Zero}, nil
	}
	if err != nil {
		s.noteStoreError(err)
		return nil, err
	}

	view, _, err := s.refresh(ctx, card, month, year)
	if err != nil {
		s.noteStoreError(err)
		return nil, err
	}
	return view, nil
}

// refresh aggregates the period and upserts the fatura. Status is never
// written here.
func (s *BillingService) refresh(ctx context.Context, card *domain.CreditCard, month, year int) (*domain.InvoiceView, domain.Period, error) {
	period, err := domain.ComputePeriod(card.ClosingDay, card.DueDay, month, year)
	if err != nil {
		return nil, domain.Period{}, err
	}

	txs, err := s.store.ListTransactions(ctx, domain.TransactionFilter{
		UserID:    card.UserID,
		CardID:    card.ID,
		DueFrom:   period.StartDate(),
		DueBefore: period.EndDate(),
	})
	if err != nil {
		return nil, period, err
	}
	txs = inPeriod(period, txs)
	total := domain.SumAmounts(txs)

	inv, err := s.store.UpsertInvoice(ctx, &domain.InvoiceUpsert{
		UserID:      card.UserID,
		Key:         domain.InvoiceKey{CardID: card.ID, Month: month, Year: year},
		ClosingDate: period.EndDate(),
		DueDate:     period.DueDate(),
		Total:       total,
	})
	if err != nil {
		s.logger.Error("failed to upsert fatura",
			zap.String("card_id", card.ID),
			zap.Int("mes", month),
			zap.Int("ano", year),
			zap.Error(err),
		)
		return nil, period, err
	}

	s.logger.Debug("fatura refreshed",
		zap.String("card_id", card.ID),
		zap.Int("mes", month),
		zap.Int("ano", year),
		zap.Int("transacoes", len(txs)),
		zap.String("total", total.StringFixed(2)),
	)

	return &domain.InvoiceView{Transactions: txs, Total: total, Invoice: inv}, period, nil
}

// inPeriod keeps the rows whose due date lies in [Start, End). The store
// filter already asks for that window; rows outside it never reach a total.
func inPeriod(period domain.Period, txs []domain.Transaction) []domain.Transaction {
	kept := txs[:0]
	for _, tx := range txs {
		if period.Contains(tx.DueDate) {
			kept = append(kept, tx)
		}
	}
	return kept
}
