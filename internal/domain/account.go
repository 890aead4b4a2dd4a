package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Contas bancárias
// ============================================================

// Account is a settlement account (contas_bancarias).
type Account struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"nome"`
	Balance   decimal.Decimal `json:"saldo_atual"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// ============================================================
// Transações
// ============================================================

// TransactionType is receita or despesa.
type TransactionType string

const (
	TransactionIncome  TransactionType = "receita"
	TransactionExpense TransactionType = "despesa"
)

// TransactionStatus is the payment state of a ledger entry.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pendente"
	TransactionOverdue   TransactionStatus = "atrasado"
	TransactionPaid      TransactionStatus = "pago"
	TransactionCancelled TransactionStatus = "cancelado"
)

// Outstanding reports whether the status still counts toward a card's used limit.
func (s TransactionStatus) Outstanding() bool {
	return s == TransactionPending || s == TransactionOverdue
}

// Transaction origins.
const (
	OriginManual    = "manual"
	OriginAutomatic = "automatica"
)

// Transaction is a row of transacoes.
type Transaction struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Type        TransactionType   `json:"tipo"`
	Description string            `json:"descricao"`
	Amount      decimal.Decimal   `json:"valor"`
	DueDate     string            `json:"data_vencimento"`
	PaidDate    *string           `json:"data_pagamento"`
	Status      TransactionStatus `json:"status"`
	CategoryID  *string           `json:"categoria_id"`
	CardID      *string           `json:"cartao_credito_id"`
	AccountID   *string           `json:"conta_bancaria_id"`
	Origin      string            `json:"origem,omitempty"`
}

// TransactionFilter selects transactions. Zero fields do not filter.
// DueFrom is inclusive and DueBefore exclusive.
type TransactionFilter struct {
	UserID    string
	CardID    string
	AnyCard   bool
	Type      TransactionType
	Statuses  []TransactionStatus
	DueFrom   string
	DueBefore string
}

// StatusChange is a bulk status write over explicit transaction ids.
// conta_bancaria_id is left alone unless AccountID is set or ClearAccount
// is true.
type StatusChange struct {
	IDs          []string
	Status       TransactionStatus
	PaidDate     *string
	AccountID    *string
	ClearAccount bool
}

// ============================================================
// Categorias
// ============================================================

// Category is a row of categorias.
type Category struct {
	ID     string          `json:"id"`
	UserID string          `json:"user_id"`
	Name   string          `json:"nome"`
	Type   TransactionType `json:"tipo"`
}

// InvoiceCategoryName is the category every consolidated transaction uses.
const InvoiceCategoryName = "Fatura Cartão de Crédito"
