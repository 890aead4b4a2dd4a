package supabase

import (
	"context"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Cartões de crédito: cartoes_credito via PostgREST
// ============================================================

const tableCards = "cartoes_credito"

// ListCreditCards returns the user's active cards ordered by name.
func (c *Client) ListCreditCards(ctx context.Context, userID string) ([]domain.CreditCard, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListCreditCards")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var rows []domain.CreditCard
	err := c.read(ctx, tableCards, func() error {
		rows = nil
		q := from(tableCards).eq("user_id", userID).raw("ativo=eq.true").raw("order=nome.asc")
		return c.doGet(ctx, q, &rows)
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.CreditCard{}
	}
	return rows, nil
}

// GetCreditCard returns an active card owned by userID.
func (c *Client) GetCreditCard(ctx context.Context, userID, cardID string) (*domain.CreditCard, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCreditCard")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	var rows []domain.CreditCard
	err := c.read(ctx, tableCards, func() error {
		rows = nil
		q := from(tableCards).eq("id", cardID).eq("user_id", userID).raw("ativo=eq.true").raw("limit=1")
		if err := c.doGet(ctx, q, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "credit_card", ID: cardID}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

// UpdateCreditCardUsedLimit overwrites the cached limite_usado.
func (c *Client) UpdateCreditCardUsedLimit(ctx context.Context, cardID string, usedLimit decimal.Decimal) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateCreditCardUsedLimit")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	return c.write(ctx, tableCards, func() error {
		return c.doPatch(ctx, from(tableCards).eq("id", cardID), map[string]any{
			"limite_usado": usedLimit,
			"updated_at":   time.Now().UTC().Format(time.RFC3339),
		}, nil)
	})
}

