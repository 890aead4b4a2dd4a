package service

import (
	"context"

	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/observability"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// unitOfWork records a compensation for every completed step of a state
// machine action and undoes them in reverse order when a later step fails.
type unitOfWork struct {
	action  string
	steps   []compensation
	metrics *observability.Metrics
	logger  *zap.Logger
}

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

func newUnitOfWork(action string, metrics *observability.Metrics, logger *zap.Logger) *unitOfWork {
	return &unitOfWork{action: action, metrics: metrics, logger: logger}
}

// onRollback registers undo for a step that has just succeeded.
func (u *unitOfWork) onRollback(name string, undo func(ctx context.Context) error) {
	u.steps = append(u.steps, compensation{name: name, undo: undo})
}

// rollback runs the compensations newest first and returns cause combined
// with any compensation failures. Compensations run even if ctx was cancelled.
func (u *unitOfWork) rollback(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)

	var errs error
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.undo(ctx); err != nil {
			u.logger.Error("compensation failed",
				zap.String("acao", u.action),
				zap.String("step", step.name),
				zap.Error(err),
			)
			errs = multierr.Append(errs, err)
		}
	}
	u.steps = nil

	outcome := "clean"
	if errs != nil {
		outcome = "partial"
	}
	u.metrics.IncrRollback(u.action, outcome)
	u.logger.Warn("unit of work rolled back",
		zap.String("acao", u.action),
		zap.String("outcome", outcome),
		zap.NamedError("cause", cause),
	)

	return multierr.Combine(cause, errs)
}
