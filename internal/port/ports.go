// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"
)

// BillingStore is everything the billing engine reads and writes.
// Implemented by the Supabase adapter and the SQLite adapter.
type BillingStore interface {
	CreditCardStore
	InvoiceStore
	TransactionStore
	CategoryStore
	AccountStore

	Ping(ctx context.Context) error
}

// EventPublisher delivers fatura events to the notification pipeline.
type EventPublisher interface {
	PublishInvoiceEvent(ctx context.Context, ev *domain.InvoiceEvent) error
}

// Clock supplies "today" for payment dates.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in a fixed location.
type SystemClock struct {
	Location *time.Location
}

// Now returns the current time in the clock's location.
func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}
