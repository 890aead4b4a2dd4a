package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Cartões de Crédito
// ============================================================

// CreditCard is a row of cartoes_credito.
type CreditCard struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Name       string          `json:"nome"`
	Brand      string          `json:"bandeira"`
	Bank       *string         `json:"banco"`
	LastFour   *string         `json:"ultimos_digitos"`
	LimitTotal decimal.Decimal `json:"limite_total"`
	LimitUsed  decimal.Decimal `json:"limite_usado"`
	ClosingDay int             `json:"dia_fechamento"`
	DueDay     int             `json:"dia_vencimento"`
	AccountID  *string         `json:"conta_bancaria_id"`
	EntityID   *string         `json:"entidade_id"`
	Personal   bool            `json:"pessoal"`
	Active     bool            `json:"ativo"`
	CreatedAt  *time.Time      `json:"created_at,omitempty"`
}

// ============================================================
// Faturas
// ============================================================

// InvoiceStatus is the lifecycle state of a fatura.
type InvoiceStatus string

const (
	InvoiceOpen   InvoiceStatus = "aberta"
	InvoiceClosed InvoiceStatus = "fechada"
	InvoicePaid   InvoiceStatus = "paga"
)

// Invoice is a row of faturas_cartao: one per card, month and year.
type Invoice struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	CardID               string          `json:"cartao_credito_id"`
	Month                int             `json:"mes_referencia"`
	Year                 int             `json:"ano_referencia"`
	ClosingDate          string          `json:"data_fechamento"`
	DueDate              string          `json:"data_vencimento"`
	Total                decimal.Decimal `json:"valor_total"`
	Paid                 decimal.Decimal `json:"valor_pago"`
	Status               InvoiceStatus   `json:"status"`
	PaymentTransactionID *string         `json:"transacao_pagamento_id"`
	UpdatedAt            *time.Time      `json:"updated_at,omitempty"`
}

// InvoiceKey identifies a fatura independently of its row id.
type InvoiceKey struct {
	CardID string
	Month  int
	Year   int
}

// InvoiceUpsert carries the columns the aggregator refreshes. Status is
// deliberately absent: an existing row keeps its lifecycle state.
type InvoiceUpsert struct {
	UserID      string
	Key         InvoiceKey
	ClosingDate string
	DueDate     string
	Total       decimal.Decimal
}

// InvoiceUpdate is a conditional status write: it only applies when the
// stored status still equals From.
type InvoiceUpdate struct {
	From                 InvoiceStatus
	To                   InvoiceStatus
	PaymentTransactionID *string
	Paid                 *decimal.Decimal
}

// InvoiceAction is one of the three state machine actions.
type InvoiceAction string

const (
	ActionClose  InvoiceAction = "fechar"
	ActionPay    InvoiceAction = "pagar"
	ActionReopen InvoiceAction = "reabrir"
)

// ParseInvoiceAction validates the acao field of a request.
func ParseInvoiceAction(s string) (InvoiceAction, error) {
	switch a := InvoiceAction(s); a {
	case ActionClose, ActionPay, ActionReopen:
		return a, nil
	case "":
		return "", &ErrValidation{Field: "acao", Message: "obrigatório"}
	default:
		return "", &ErrValidation{Field: "acao", Message: "deve ser fechar, pagar ou reabrir"}
	}
}

// InvoiceView is the get/refresh response: the period's transactions, their
// total and the upserted fatura (nil when the card does not exist).
type InvoiceView struct {
	Transactions []Transaction   `json:"transacoes"`
	Total        decimal.Decimal `json:"total"`
	Invoice      *Invoice        `json:"fatura"`
}

// InvoiceActionRequest is the body of POST .../faturas.
type InvoiceActionRequest struct {
	CardID    string  `json:"card_id,omitempty"`
	Month     int     `json:"mes"`
	Year      int     `json:"ano"`
	Action    string  `json:"acao"`
	AccountID *string `json:"conta_bancaria_id,omitempty"`
}

// InvoiceActionResult is returned by a successful state machine action.
type InvoiceActionResult struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message"`
	Transaction *Transaction `json:"transacao,omitempty"`
	Invoice     *Invoice     `json:"fatura"`
}

// InvoiceEvent is published after every successful transition.
type InvoiceEvent struct {
	Type       string          `json:"type"`
	UserID     string          `json:"user_id"`
	CardID     string          `json:"cartao_credito_id"`
	InvoiceID  string          `json:"fatura_id"`
	Month      int             `json:"mes_referencia"`
	Year       int             `json:"ano_referencia"`
	Total      decimal.Decimal `json:"valor_total"`
	DueDate    string          `json:"data_vencimento"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Event types published for the notifier.
const (
	EventInvoiceClosed   = "fatura.fechada"
	EventInvoicePaid     = "fatura.paga"
	EventInvoiceReopened = "fatura.reaberta"
)

// ReconcileResult is returned by the explicit reconcile endpoints.
type ReconcileResult struct {
	CardID    string          `json:"cartao_id"`
	LimitUsed decimal.Decimal `json:"limite_usado"`
	Previous  decimal.Decimal `json:"limite_usado_anterior"`
}
