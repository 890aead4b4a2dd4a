package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/resilience"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ============================================================
// Fatura state machine: aberta → fechada → paga, fechada → aberta
// ============================================================

// ActRequest is a validated state machine command.
type ActRequest struct {
	UserID    string
	CardID    string
	Month     int
	Year      int
	Action    domain.InvoiceAction
	AccountID *string
}

// actionState is what every action needs loaded before it runs.
type actionState struct {
	card    *domain.CreditCard
	invoice *domain.Invoice
	period  domain.Period
	txs     []domain.Transaction
}

// Act applies a fechar, pagar or reabrir action to the card's fatura for the
// reference month. Actions on the same fatura are serialized in-process and
// every status write is a compare-and-swap, so concurrent callers across
// instances see *domain.ErrConflict instead of a double transition.
func (s *BillingService) Act(ctx context.Context, req ActRequest) (*domain.InvoiceActionResult, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.Act")
	defer span.End()
	span.SetAttributes(
		attribute.String("card.id", req.CardID),
		attribute.String("invoice.action", string(req.Action)),
		attribute.Int("invoice.month", req.Month),
		attribute.Int("invoice.year", req.Year),
	)
	defer s.observe("invoice."+string(req.Action), time.Now())

	result, err := s.act(ctx, req)
	s.metrics.IncrTransition(string(req.Action), transitionResult(err))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.noteStoreError(err)
		s.logger.Warn("fatura action failed",
			zap.String("card_id", req.CardID),
			zap.String("acao", string(req.Action)),
			zap.Int("mes", req.Month),
			zap.Int("ano", req.Year),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("fatura action applied",
		zap.String("card_id", req.CardID),
		zap.String("acao", string(req.Action)),
		zap.Int("mes", req.Month),
		zap.Int("ano", req.Year),
		zap.String("status", string(result.Invoice.Status)),
	)
	return result, nil
}

func (s *BillingService) act(ctx context.Context, req ActRequest) (*domain.InvoiceActionResult, error) {
	if err := validateReference(req.Month, req.Year); err != nil {
		return nil, err
	}
	switch req.Action {
	case domain.ActionClose, domain.ActionPay, domain.ActionReopen:
	default:
		return nil, &domain.ErrValidation{Field: "acao", Message: "deve ser fechar, pagar ou reabrir"}
	}

	unlock, err := s.locks.Lock(ctx, invoiceLockKey(req.CardID, req.Month, req.Year))
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}

	switch req.Action {
	case domain.ActionClose:
		return s.closeInvoice(ctx, st, req.AccountID)
	case domain.ActionPay:
		return s.payInvoice(ctx, st, req.AccountID)
	default:
		return s.reopenInvoice(ctx, st)
	}
}

// load fetches the card and fatura. A missing fatura is created by the
// aggregator; an aberta one has its total refreshed first.
func (s *BillingService) load(ctx context.Context, req ActRequest) (*actionState, error) {
	card, err := s.store.GetCreditCard(ctx, req.UserID, req.CardID)
	if err != nil {
		return nil, err
	}

	key := domain.InvoiceKey{CardID: card.ID, Month: req.Month, Year: req.Year}
	inv, err := s.store.GetInvoice(ctx, req.UserID, key)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	if inv == nil || inv.Status == domain.InvoiceOpen {
		view, period, err := s.refresh(ctx, card, req.Month, req.Year)
		if err != nil {
			return nil, err
		}
		return &actionState{card: card, invoice: view.Invoice, period: period, txs: view.Transactions}, nil
	}

	period, err := domain.ComputePeriod(card.ClosingDay, card.DueDay, req.Month, req.Year)
	if err != nil {
		return nil, err
	}
	return &actionState{card: card, invoice: inv, period: period}, nil
}

// ------------------------------------------------------------
// fechar
// ------------------------------------------------------------

func (s *BillingService) closeInvoice(ctx context.Context, st *actionState, accountID *string) (*domain.InvoiceActionResult, error) {
	inv, card := st.invoice, st.card
	if inv.Status != domain.InvoiceOpen {
		return nil, &domain.ErrInvalidTransition{Action: domain.ActionClose, Status: inv.Status}
	}
	if !inv.Total.IsPositive() {
		return nil, &domain.ErrPrecondition{Reason: domain.ReasonEmptyInvoice, Message: "Fatura sem valor não pode ser fechada"}
	}

	uow := newUnitOfWork(string(domain.ActionClose), s.metrics, s.logger)

	categoryID, err := s.resolveInvoiceCategory(ctx, card.UserID)
	if err != nil {
		return nil, err
	}

	account := accountID
	if account == nil {
		account = card.AccountID
	}

	consolidated, err := s.store.InsertTransaction(ctx, &domain.Transaction{
		UserID:      card.UserID,
		Type:        domain.TransactionExpense,
		Description: fmt.Sprintf("Fatura %s - %02d/%d", card.Name, inv.Month, inv.Year),
		Amount:      inv.Total,
		DueDate:     inv.DueDate,
		Status:      domain.TransactionPending,
		CategoryID:  &categoryID,
		AccountID:   account,
		Origin:      domain.OriginAutomatic,
	})
	if err != nil {
		return nil, err
	}
	uow.onRollback("delete consolidated transaction", func(ctx context.Context) error {
		return s.store.DeleteTransaction(ctx, card.UserID, consolidated.ID)
	})

	closed, err := s.store.UpdateInvoiceStatus(ctx, inv.ID, &domain.InvoiceUpdate{
		From:                 domain.InvoiceOpen,
		To:                   domain.InvoiceClosed,
		PaymentTransactionID: &consolidated.ID,
	})
	if err != nil {
		return nil, uow.rollback(ctx, err)
	}
	uow.onRollback("reopen fatura", func(ctx context.Context) error {
		_, err := s.store.UpdateInvoiceStatus(ctx, inv.ID, &domain.InvoiceUpdate{From: domain.InvoiceClosed, To: domain.InvoiceOpen})
		return err
	})

	previous := outstandingByStatus(st.txs)
	if ids := flatten(previous); len(ids) > 0 {
		today := s.today()
		err := s.store.UpdateTransactionsStatus(ctx, card.UserID, domain.StatusChange{
			IDs:      ids,
			Status:   domain.TransactionPaid,
			PaidDate: &today,
		})
		if err != nil {
			return nil, uow.rollback(ctx, err)
		}
		uow.onRollback("restore transaction statuses", func(ctx context.Context) error {
			var errs error
			for status, ids := range previous {
				errs = multierr.Append(errs, s.store.UpdateTransactionsStatus(ctx, card.UserID, domain.StatusChange{IDs: ids, Status: status}))
			}
			return errs
		})
	}

	if err := s.store.UpdateCreditCardUsedLimit(ctx, card.ID, decimal.Zero); err != nil {
		return nil, uow.rollback(ctx, err)
	}

	s.publish(ctx, domain.EventInvoiceClosed, closed)

	return &domain.InvoiceActionResult{
		Success:     true,
		Message:     "Fatura fechada com sucesso",
		Transaction: consolidated,
		Invoice:     closed,
	}, nil
}

// resolveInvoiceCategory finds or creates the "Fatura Cartão de Crédito"
// despesa category. Ids are cached per user.
func (s *BillingService) resolveInvoiceCategory(ctx context.Context, userID string) (string, error) {
	key := userID + ":" + string(domain.TransactionExpense) + ":" + domain.InvoiceCategoryName
	id, hit, err := s.categories.GetOrLoad(key, func() (string, error) {
		cat, err := s.store.FindCategory(ctx, userID, domain.InvoiceCategoryName, domain.TransactionExpense)
		if err == nil {
			return cat.ID, nil
		}
		if !isNotFound(err) {
			return "", err
		}
		cat, err = s.store.CreateCategory(ctx, &domain.Category{
			UserID: userID,
			Name:   domain.InvoiceCategoryName,
			Type:   domain.TransactionExpense,
		})
		if err != nil {
			return "", err
		}
		s.logger.Info("invoice category created", zap.String("user_id", userID), zap.String("categoria_id", cat.ID))
		return cat.ID, nil
	})
	if hit {
		s.metrics.IncrCacheHit("category")
	} else {
		s.metrics.IncrCacheMiss("category")
	}
	return id, err
}

// outstandingByStatus groups the ids of pendente and atrasado transactions.
func outstandingByStatus(txs []domain.Transaction) map[domain.TransactionStatus][]string {
	out := make(map[domain.TransactionStatus][]string)
	for _, t := range txs {
		if t.Status.Outstanding() {
			out[t.Status] = append(out[t.Status], t.ID)
		}
	}
	return out
}

func flatten(groups map[domain.TransactionStatus][]string) []string {
	var ids []string
	for _, status := range []domain.TransactionStatus{domain.TransactionPending, domain.TransactionOverdue} {
		ids = append(ids, groups[status]...)
	}
	return ids
}

// ------------------------------------------------------------
// pagar
// ------------------------------------------------------------

func (s *BillingService) payInvoice(ctx context.Context, st *actionState, accountID *string) (*domain.InvoiceActionResult, error) {
	inv, card := st.invoice, st.card
	if inv.Status != domain.InvoiceClosed {
		return nil, &domain.ErrInvalidTransition{Action: domain.ActionPay, Status: inv.Status}
	}

	account := accountID
	if account == nil {
		account = card.AccountID
	}
	if account == nil || *account == "" {
		return nil, &domain.ErrPrecondition{Reason: domain.ReasonMissingAccount, Message: "Informe a conta bancária para pagar a fatura"}
	}
	if _, err := s.store.GetAccount(ctx, card.UserID, *account); err != nil {
		return nil, err
	}

	uow := newUnitOfWork(string(domain.ActionPay), s.metrics, s.logger)

	var linked *domain.Transaction
	if inv.PaymentTransactionID != nil {
		tx, err := s.store.GetTransaction(ctx, card.UserID, *inv.PaymentTransactionID)
		switch {
		case isNotFound(err):
			s.logger.Warn("consolidated transaction missing on pay",
				zap.String("fatura_id", inv.ID),
				zap.String("transacao_id", *inv.PaymentTransactionID),
			)
		case err != nil:
			return nil, err
		default:
			today := s.today()
			err := s.store.UpdateTransactionsStatus(ctx, card.UserID, domain.StatusChange{
				IDs:       []string{tx.ID},
				Status:    domain.TransactionPaid,
				PaidDate:  &today,
				AccountID: account,
			})
			if err != nil {
				return nil, err
			}
			uow.onRollback("restore consolidated transaction", func(ctx context.Context) error {
				return s.store.UpdateTransactionsStatus(ctx, card.UserID, domain.StatusChange{
					IDs:          []string{tx.ID},
					Status:       tx.Status,
					PaidDate:     tx.PaidDate,
					AccountID:    tx.AccountID,
					ClearAccount: tx.AccountID == nil,
				})
			})
			paid := *tx
			paid.Status, paid.PaidDate, paid.AccountID = domain.TransactionPaid, &today, account
			linked = &paid
		}
	}

	if err := s.adjustBalance(ctx, card.UserID, *account, inv.Total.Neg()); err != nil {
		return nil, uow.rollback(ctx, err)
	}
	uow.onRollback("credit balance back", func(ctx context.Context) error {
		return s.adjustBalance(ctx, card.UserID, *account, inv.Total)
	})

	total := inv.Total
	paidInv, err := s.store.UpdateInvoiceStatus(ctx, inv.ID, &domain.InvoiceUpdate{
		From: domain.InvoiceClosed,
		To:   domain.InvoicePaid,
		Paid: &total,
	})
	if err != nil {
		return nil, uow.rollback(ctx, err)
	}

	s.publish(ctx, domain.EventInvoicePaid, paidInv)

	return &domain.InvoiceActionResult{
		Success:     true,
		Message:     "Fatura paga com sucesso",
		Transaction: linked,
		Invoice:     paidInv,
	}, nil
}

// adjustBalance adds delta to saldo_atual with a compare-and-swap loop.
// Only conflicts are retried.
func (s *BillingService) adjustBalance(ctx context.Context, userID, accountID string, delta decimal.Decimal) error {
	attempt := 0
	return resilience.RetryIf(ctx, s.cfg.BalanceRetry, resilience.IsConflict, func() error {
		if attempt > 0 {
			s.metrics.IncrBalanceRetry()
		}
		attempt++

		acc, err := s.store.GetAccount(ctx, userID, accountID)
		if err != nil {
			return err
		}
		return s.store.CompareAndSetBalance(ctx, accountID, acc.Balance, acc.Balance.Add(delta))
	})
}

// ------------------------------------------------------------
// reabrir
// ------------------------------------------------------------

// reopenInvoice moves fechada back to aberta and deletes the consolidated
// transaction. Period transactions marked pago at close stay pago.
func (s *BillingService) reopenInvoice(ctx context.Context, st *actionState) (*domain.InvoiceActionResult, error) {
	inv, card := st.invoice, st.card
	if inv.Status != domain.InvoiceClosed {
		return nil, &domain.ErrInvalidTransition{Action: domain.ActionReopen, Status: inv.Status}
	}

	uow := newUnitOfWork(string(domain.ActionReopen), s.metrics, s.logger)

	reopened, err := s.store.UpdateInvoiceStatus(ctx, inv.ID, &domain.InvoiceUpdate{
		From: domain.InvoiceClosed,
		To:   domain.InvoiceOpen,
	})
	if err != nil {
		return nil, err
	}
	uow.onRollback("close fatura again", func(ctx context.Context) error {
		_, err := s.store.UpdateInvoiceStatus(ctx, inv.ID, &domain.InvoiceUpdate{
			From:                 domain.InvoiceOpen,
			To:                   domain.InvoiceClosed,
			PaymentTransactionID: inv.PaymentTransactionID,
		})
		return err
	})

	if inv.PaymentTransactionID != nil {
		tx, err := s.store.GetTransaction(ctx, card.UserID, *inv.PaymentTransactionID)
		switch {
		case isNotFound(err):
			// already gone
		case err != nil:
			return nil, uow.rollback(ctx, err)
		default:
			if err := s.store.DeleteTransaction(ctx, card.UserID, tx.ID); err != nil {
				return nil, uow.rollback(ctx, err)
			}
			uow.onRollback("restore consolidated transaction", func(ctx context.Context) error {
				_, err := s.store.InsertTransaction(ctx, tx)
				return err
			})
		}
	}

	if _, err := s.reconcileCard(ctx, card); err != nil {
		return nil, uow.rollback(ctx, err)
	}

	s.publish(ctx, domain.EventInvoiceReopened, reopened)

	return &domain.InvoiceActionResult{
		Success: true,
		Message: "Fatura reaberta com sucesso",
		Invoice: reopened,
	}, nil
}

// ------------------------------------------------------------
// events and metrics
// ------------------------------------------------------------

// publish sends a fatura event. Failures are logged and never fail the action.
func (s *BillingService) publish(ctx context.Context, eventType string, inv *domain.Invoice) {
	ev := &domain.InvoiceEvent{
		Type:       eventType,
		UserID:     inv.UserID,
		CardID:     inv.CardID,
		InvoiceID:  inv.ID,
		Month:      inv.Month,
		Year:       inv.Year,
		Total:      inv.Total,
		DueDate:    inv.DueDate,
		OccurredAt: s.clock.Now(),
	}
	if err := s.publisher.PublishInvoiceEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to publish fatura event",
			zap.String("type", eventType),
			zap.String("fatura_id", inv.ID),
			zap.Error(err),
		)
	}
}

func transitionResult(err error) string {
	var (
		invalid      *domain.ErrInvalidTransition
		precondition *domain.ErrPrecondition
		validation   *domain.ErrValidation
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &invalid), errors.As(err, &validation):
		return "invalid"
	case errors.As(err, &precondition):
		return "precondition"
	case resilience.IsConflict(err):
		return "conflict"
	default:
		return "error"
	}
}
