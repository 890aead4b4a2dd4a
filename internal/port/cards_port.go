package port

import (
	"context"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// CreditCardStore handles credit card data operations.
type CreditCardStore interface {
	ListCreditCards(ctx context.Context, userID string) ([]domain.CreditCard, error)
	GetCreditCard(ctx context.Context, userID, cardID string) (*domain.CreditCard, error)
	UpdateCreditCardUsedLimit(ctx context.Context, cardID string, usedLimit decimal.Decimal) error
}

// InvoiceStore handles fatura data operations. UpdateInvoiceStatus is a
// compare-and-swap on status and returns *domain.ErrConflict when the stored
// status no longer equals upd.From.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, userID string, key domain.InvoiceKey) (*domain.Invoice, error)
	UpsertInvoice(ctx context.Context, in *domain.InvoiceUpsert) (*domain.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, invoiceID string, upd *domain.InvoiceUpdate) (*domain.Invoice, error)
}

// TransactionStore handles transacoes data operations.
type TransactionStore interface {
	ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, userID, txID string) (*domain.Transaction, error)
	InsertTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, txID string) error
	UpdateTransactionsStatus(ctx context.Context, userID string, change domain.StatusChange) error
}

// CategoryStore handles categorias lookups.
type CategoryStore interface {
	FindCategory(ctx context.Context, userID, name string, kind domain.TransactionType) (*domain.Category, error)
	CreateCategory(ctx context.Context, c *domain.Category) (*domain.Category, error)
}
