package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Contas bancárias: contas_bancarias via PostgREST
// ============================================================

const tableAccounts = "contas_bancarias"

// GetAccount returns a settlement account owned by userID.
func (c *Client) GetAccount(ctx context.Context, userID, accountID string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var rows []domain.Account
	err := c.read(ctx, tableAccounts, func() error {
		rows = nil
		q := from(tableAccounts).eq("id", accountID).eq("user_id", userID).raw("limit=1")
		if err := c.doGet(ctx, q, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "conta_bancaria", ID: accountID}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

// CompareAndSetBalance writes next only if saldo_atual still equals expected.
func (c *Client) CompareAndSetBalance(ctx context.Context, accountID string, expected, next decimal.Decimal) error {
	ctx, span := tracer.Start(ctx, "Supabase.CompareAndSetBalance")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	patch := map[string]any{
		"saldo_atual": next,
		"updated_at":  time.Now().UTC().Format(time.RFC3339),
	}

	return c.write(ctx, tableAccounts, func() error {
		var rows []domain.Account
		q := from(tableAccounts).eq("id", accountID).eq("saldo_atual", expected.String())
		if err := c.doPatch(ctx, q, patch, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrConflict{Message: fmt.Sprintf("saldo da conta %s foi alterado concorrentemente", accountID)}
		}
		return nil
	})
}
