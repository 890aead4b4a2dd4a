// Package service provides the business logic layer (use cases).
// BillingService runs the credit card billing cycle: statement periods,
// fatura aggregation, the fechar/pagar/reabrir state machine and the
// cached used-limit reconciliation.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/fincontrol-bfa-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var billingTracer = otel.Tracer("service/billing")

// CategoryCache resolves category ids, loading each key at most once at a time.
type CategoryCache interface {
	GetOrLoad(key string, load func() (string, error)) (string, bool, error)
}

// BillingConfig tunes the billing service.
type BillingConfig struct {
	// BalanceRetry bounds the compare-and-swap loop on saldo_atual.
	BalanceRetry resilience.Config
	// ReconcileEpsilon is the drift tolerated before ListCards persists.
	ReconcileEpsilon decimal.Decimal
	// ReconcileJobs caps concurrent limit writes during ListCards.
	ReconcileJobs int
}

// BillingService orchestrates the billing cycle over a BillingStore.
type BillingService struct {
	store      port.BillingStore
	publisher  port.EventPublisher
	clock      port.Clock
	categories CategoryCache
	locks      *KeyedLock
	cfg        BillingConfig
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewBillingService creates a new billing service.
func NewBillingService(
	store port.BillingStore,
	publisher port.EventPublisher,
	clock port.Clock,
	categories CategoryCache,
	cfg BillingConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *BillingService {
	if cfg.ReconcileEpsilon.IsZero() {
		cfg.ReconcileEpsilon = domain.LimitEpsilon
	}
	if cfg.ReconcileJobs < 1 {
		cfg.ReconcileJobs = 4
	}
	return &BillingService{
		store:      store,
		publisher:  publisher,
		clock:      clock,
		categories: categories,
		locks:      NewKeyedLock(),
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
	}
}

// Ping checks the backing store. Used by readiness probes.
func (s *BillingService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *BillingService) today() string {
	return s.clock.Now().Format(domain.DateLayout)
}

func (s *BillingService) observe(operation string, start time.Time) {
	s.metrics.RecordRequestDuration(operation, time.Since(start))
}

// noteStoreError counts store failures for the billing snapshot.
func (s *BillingService) noteStoreError(err error) {
	var ext *domain.ErrExternalService
	if errors.As(err, &ext) {
		s.metrics.IncrExternalError("store")
	}
}

func validateReference(month, year int) error {
	if month < 1 || month > 12 {
		return &domain.ErrValidation{Field: "mes", Message: "deve estar entre 1 e 12"}
	}
	if year < 1 {
		return &domain.ErrValidation{Field: "ano", Message: "inválido"}
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *domain.ErrNotFound
	return errors.As(err, &nf)
}
