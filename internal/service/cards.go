package service

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

// ============================================================
// Cards and used-limit reconciliation
// ============================================================

var outstandingStatuses = []domain.TransactionStatus{domain.TransactionPending, domain.TransactionOverdue}

// ListCards returns the user's active cards with limite_usado recomputed
// from outstanding transactions. Drifted values are persisted best effort:
// a failed read or write is logged and the listing still succeeds.
func (s *BillingService) ListCards(ctx context.Context, userID string) ([]domain.CreditCard, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ListCards")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))
	defer s.observe("cards.list", time.Now())

	cards, err := s.store.ListCreditCards(ctx, userID)
	if err != nil {
		s.noteStoreError(err)
		return nil, err
	}
	if len(cards) == 0 {
		return cards, nil
	}

	txs, err := s.store.ListTransactions(ctx, domain.TransactionFilter{
		UserID:   userID,
		AnyCard:  true,
		Type:     domain.TransactionExpense,
		Statuses: outstandingStatuses,
	})
	if err != nil {
		s.noteStoreError(err)
		s.logger.Warn("limit reconciliation skipped", zap.String("user_id", userID), zap.Error(err))
		return cards, nil
	}
	used := domain.UsedLimitByCard(txs)

	// A plain Group: one failed write must not cancel the others.
	var g errgroup.Group
	g.SetLimit(s.cfg.ReconcileJobs)
	for i := range cards {
		card := &cards[i]
		computed := used[card.ID]
		if !domain.Drifted(card.LimitUsed, computed, s.cfg.ReconcileEpsilon) {
			continue
		}

		s.metrics.IncrReconcileDrift()
		previous := card.LimitUsed
		card.LimitUsed = computed

		g.Go(func() error {
			if err := s.store.UpdateCreditCardUsedLimit(ctx, card.ID, computed); err != nil {
				s.noteStoreError(err)
				s.logger.Warn("failed to persist reconciled limit",
					zap.String("card_id", card.ID),
					zap.Error(err),
				)
				return err
			}
			s.logger.Info("limite_usado reconciled",
				zap.String("card_id", card.ID),
				zap.String("anterior", previous.StringFixed(2)),
				zap.String("atual", computed.StringFixed(2)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("cards listed with unpersisted limite_usado", zap.String("user_id", userID))
	}

	return cards, nil
}

// Reconcile recomputes and persists limite_usado for one card.
func (s *BillingService) Reconcile(ctx context.Context, userID, cardID string) (*domain.ReconcileResult, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))
	defer s.observe("cards.reconcile", time.Now())

	card, err := s.store.GetCreditCard(ctx, userID, cardID)
	if err != nil {
		s.noteStoreError(err)
		return nil, err
	}

	used, err := s.reconcileCard(ctx, card)
	if err != nil {
		s.noteStoreError(err)
		return nil, err
	}
	return &domain.ReconcileResult{CardID: card.ID, LimitUsed: used, Previous: card.LimitUsed}, nil
}

// ReconcileAll reconciles every active card of a user. Any failure fails the call.
func (s *BillingService) ReconcileAll(ctx context.Context, userID string) ([]domain.ReconcileResult, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ReconcileAll")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	cards, err := s.store.ListCreditCards(ctx, userID)
	if err != nil {
		s.noteStoreError(err)
		return nil, err
	}

	var mu sync.Mutex
	results := make([]domain.ReconcileResult, 0, len(cards))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ReconcileJobs)
	for i := range cards {
		card := &cards[i]
		g.Go(func() error {
			used, err := s.reconcileCard(gCtx, card)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, domain.ReconcileResult{CardID: card.ID, LimitUsed: used, Previous: card.LimitUsed})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.noteStoreError(err)
		return nil, err
	}

	s.logger.Info("cards reconciled", zap.String("user_id", userID), zap.Int("cartoes", len(results)))
	return results, nil
}

// reconcileCard writes the recomputed limite_usado unconditionally.
func (s *BillingService) reconcileCard(ctx context.Context, card *domain.CreditCard) (decimal.Decimal, error) {
	txs, err := s.store.ListTransactions(ctx, domain.TransactionFilter{
		UserID:   card.UserID,
		CardID:   card.ID,
		Type:     domain.TransactionExpense,
		Statuses: outstandingStatuses,
	})
	if err != nil {
		return decimal.Zero, err
	}

	used := domain.UsedLimit(card.ID, txs)
	if err := s.store.UpdateCreditCardUsedLimit(ctx, card.ID, used); err != nil {
		return decimal.Zero, err
	}
	if domain.Drifted(card.LimitUsed, used, s.cfg.ReconcileEpsilon) {
		s.metrics.IncrReconcileDrift()
	}
	return used, nil
}
