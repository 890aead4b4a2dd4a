package domain

import "fmt"

// Error types for consistent error handling across the service.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call,
// most often the persistent store rejecting a read or write.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrInvalidTransition indicates the fatura status does not allow the action.
type ErrInvalidTransition struct {
	Action InvoiceAction
	Status InvoiceStatus
}

func (e *ErrInvalidTransition) Error() string {
	switch {
	case e.Action == ActionClose:
		return fmt.Sprintf("Fatura não pode ser fechada: status atual é '%s'", e.Status)
	case e.Action == ActionPay && e.Status == InvoicePaid:
		return "Fatura já está paga"
	case e.Action == ActionPay:
		return fmt.Sprintf("Fatura precisa estar fechada para ser paga: status atual é '%s'", e.Status)
	case e.Action == ActionReopen && e.Status == InvoiceOpen:
		return "Fatura já está aberta"
	case e.Action == ActionReopen && e.Status == InvoicePaid:
		return "Fatura paga não pode ser reaberta"
	default:
		return fmt.Sprintf("transição inválida: %s com status '%s'", e.Action, e.Status)
	}
}

// Precondition reasons.
const (
	ReasonEmptyInvoice   = "empty_invoice"
	ReasonMissingAccount = "missing_account"
)

// ErrPrecondition indicates the action is legal but cannot proceed.
type ErrPrecondition struct {
	Reason  string
	Message string
}

func (e *ErrPrecondition) Error() string {
	return e.Message
}

// ErrConflict indicates a concurrent writer changed the row first.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrForbidden indicates the caller lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}
