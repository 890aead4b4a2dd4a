package port

import (
	"context"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// AccountStore handles settlement account data operations.
// CompareAndSetBalance writes next only while saldo_atual still equals
// expected, returning *domain.ErrConflict otherwise.
type AccountStore interface {
	GetAccount(ctx context.Context, userID, accountID string) (*domain.Account, error)
	CompareAndSetBalance(ctx context.Context, accountID string, expected, next decimal.Decimal) error
}
