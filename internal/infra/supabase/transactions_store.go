package supabase

import (
	"context"
	"fmt"
	"strings"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Transações: transacoes via PostgREST
// ============================================================

const tableTransactions = "transacoes"

// ListTransactions returns the rows matching f, newest due date first.
func (c *Client) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", f.UserID), attribute.String("card.id", f.CardID))

	q := transactionQuery(f)

	var rows []domain.Transaction
	err := c.read(ctx, tableTransactions, func() error {
		rows = nil
		return c.doGet(ctx, q, &rows)
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.Transaction{}
	}
	return rows, nil
}

func transactionQuery(f domain.TransactionFilter) *query {
	q := from(tableTransactions).eq("user_id", f.UserID)
	switch {
	case f.CardID != "":
		q.eq("cartao_credito_id", f.CardID)
	case f.AnyCard:
		q.raw("cartao_credito_id=not.is.null")
	}
	if f.Type != "" {
		q.eq("tipo", string(f.Type))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q.in("status", statuses)
	}
	if f.DueFrom != "" {
		q.op("data_vencimento", "gte", f.DueFrom)
	}
	if f.DueBefore != "" {
		q.op("data_vencimento", "lt", f.DueBefore)
	}
	return q.raw("order=data_vencimento.desc")
}

// GetTransaction returns a single transaction owned by userID.
func (c *Client) GetTransaction(ctx context.Context, userID, txID string) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", txID))

	var rows []domain.Transaction
	err := c.read(ctx, tableTransactions, func() error {
		rows = nil
		q := from(tableTransactions).eq("id", txID).eq("user_id", userID).raw("limit=1")
		if err := c.doGet(ctx, q, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "transacao", ID: txID}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

// InsertTransaction creates a transaction and returns the stored row. A set
// ID is kept, so a deleted row can be restored under its old id.
func (c *Client) InsertTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.InsertTransaction")
	defer span.End()

	row := map[string]any{
		"user_id":           tx.UserID,
		"tipo":              tx.Type,
		"descricao":         tx.Description,
		"valor":             tx.Amount,
		"data_vencimento":   tx.DueDate,
		"data_pagamento":    tx.PaidDate,
		"status":            tx.Status,
		"categoria_id":      tx.CategoryID,
		"cartao_credito_id": tx.CardID,
		"conta_bancaria_id": tx.AccountID,
	}
	if tx.ID != "" {
		row["id"] = tx.ID
	}
	if tx.Origin != "" {
		row["origem"] = tx.Origin
	}

	var rows []domain.Transaction
	err := c.write(ctx, tableTransactions, func() error {
		if err := c.doPost(ctx, tableTransactions, row, "", &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("no result from %s insert", tableTransactions)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("transaction.id", rows[0].ID))
	return &rows[0], nil
}

// DeleteTransaction removes a transaction owned by userID.
func (c *Client) DeleteTransaction(ctx context.Context, userID, txID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", txID))

	return c.write(ctx, tableTransactions, func() error {
		return c.doDelete(ctx, from(tableTransactions).eq("id", txID).eq("user_id", userID))
	})
}

// UpdateTransactionsStatus applies change to every listed id in one PATCH.
// data_pagamento is always written, so a nil PaidDate clears it.
func (c *Client) UpdateTransactionsStatus(ctx context.Context, userID string, change domain.StatusChange) error {
	if len(change.IDs) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Supabase.UpdateTransactionsStatus")
	defer span.End()
	span.SetAttributes(
		attribute.Int("transaction.count", len(change.IDs)),
		attribute.String("transaction.status", string(change.Status)),
		attribute.String("transaction.ids", strings.Join(change.IDs, ",")),
	)

	patch := map[string]any{
		"status":         change.Status,
		"data_pagamento": change.PaidDate,
	}
	switch {
	case change.ClearAccount:
		patch["conta_bancaria_id"] = nil
	case change.AccountID != nil:
		patch["conta_bancaria_id"] = *change.AccountID
	}

	return c.write(ctx, tableTransactions, func() error {
		q := from(tableTransactions).eq("user_id", userID).in("id", change.IDs)
		return c.doPatch(ctx, q, patch, nil)
	})
}
