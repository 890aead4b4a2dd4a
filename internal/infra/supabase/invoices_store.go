package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Faturas: faturas_cartao via PostgREST
// ============================================================

const (
	tableInvoices    = "faturas_cartao"
	invoiceUniqueKey = "cartao_credito_id,mes_referencia,ano_referencia"
)

// GetInvoice returns the fatura for key or *domain.ErrNotFound.
func (c *Client) GetInvoice(ctx context.Context, userID string, key domain.InvoiceKey) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetInvoice")
	defer span.End()
	span.SetAttributes(
		attribute.String("card.id", key.CardID),
		attribute.Int("invoice.month", key.Month),
		attribute.Int("invoice.year", key.Year),
	)

	var rows []domain.Invoice
	err := c.read(ctx, tableInvoices, func() error {
		rows = nil
		q := from(tableInvoices).
			eq("user_id", userID).
			eq("cartao_credito_id", key.CardID).
			eq("mes_referencia", fmt.Sprint(key.Month)).
			eq("ano_referencia", fmt.Sprint(key.Year)).
			raw("limit=1")
		if err := c.doGet(ctx, q, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "fatura", ID: invoiceRef(key)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

// UpsertInvoice inserts or refreshes the fatura keyed by card, month and
// year. Status is not sent, so new rows take the column default and
// existing rows keep theirs.
func (c *Client) UpsertInvoice(ctx context.Context, in *domain.InvoiceUpsert) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", in.Key.CardID))

	row := map[string]any{
		"user_id":           in.UserID,
		"cartao_credito_id": in.Key.CardID,
		"mes_referencia":    in.Key.Month,
		"ano_referencia":    in.Key.Year,
		"data_fechamento":   in.ClosingDate,
		"data_vencimento":   in.DueDate,
		"valor_total":       in.Total,
		"updated_at":        time.Now().UTC().Format(time.RFC3339),
	}

	var rows []domain.Invoice
	err := c.write(ctx, tableInvoices, func() error {
		if err := c.doPost(ctx, tableInvoices, row, invoiceUniqueKey, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("no result from %s upsert", tableInvoices)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

// UpdateInvoiceStatus moves a fatura from upd.From to upd.To. The PATCH is
// filtered on the current status, so a row already moved by another writer
// matches nothing and *domain.ErrConflict is returned. Moving to aberta
// clears transacao_pagamento_id.
func (c *Client) UpdateInvoiceStatus(ctx context.Context, invoiceID string, upd *domain.InvoiceUpdate) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateInvoiceStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("invoice.id", invoiceID),
		attribute.String("invoice.from", string(upd.From)),
		attribute.String("invoice.to", string(upd.To)),
	)

	patch := invoicePatch(upd)
	patch["updated_at"] = time.Now().UTC().Format(time.RFC3339)

	var rows []domain.Invoice
	err := c.write(ctx, tableInvoices, func() error {
		rows = nil
		q := from(tableInvoices).eq("id", invoiceID).eq("status", string(upd.From))
		if err := c.doPatch(ctx, q, patch, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrConflict{Message: fmt.Sprintf("fatura %s não está mais '%s'", invoiceID, upd.From)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

func invoicePatch(upd *domain.InvoiceUpdate) map[string]any {
	patch := map[string]any{"status": upd.To}
	switch {
	case upd.To == domain.InvoiceOpen:
		patch["transacao_pagamento_id"] = nil
	case upd.PaymentTransactionID != nil:
		patch["transacao_pagamento_id"] = *upd.PaymentTransactionID
	}
	if upd.Paid != nil {
		patch["valor_pago"] = *upd.Paid
	}
	return patch
}

func invoiceRef(key domain.InvoiceKey) string {
	return fmt.Sprintf("%s/%02d-%d", key.CardID, key.Month, key.Year)
}
