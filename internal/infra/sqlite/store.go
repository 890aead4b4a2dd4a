// Package sqlite is the embedded data backend: the same tables as the
// Supabase schema, stored in a local SQLite file. Used for development,
// single-user deployments and store-level tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// Store implements port.BillingStore on SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates the database file if needed, migrates it and returns a Store.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; conditional UPDATEs do the rest.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("sqlite store ready", zap.String("path", dbPath))
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func storeErr(table string, err error) error {
	return &domain.ErrExternalService{Service: "sqlite/" + table, Err: err}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ============================================================
// Cartões de crédito
// ============================================================

const cardColumns = `id, user_id, nome, bandeira, banco, ultimos_digitos, limite_total, limite_usado,
	dia_fechamento, dia_vencimento, conta_bancaria_id, entidade_id, pessoal, ativo, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(r rowScanner) (*domain.CreditCard, error) {
	var (
		c                            domain.CreditCard
		bank, last4, account, entity sql.NullString
		total, used, created         string
	)
	if err := r.Scan(&c.ID, &c.UserID, &c.Name, &c.Brand, &bank, &last4, &total, &used,
		&c.ClosingDay, &c.DueDay, &account, &entity, &c.Personal, &c.Active, &created); err != nil {
		return nil, err
	}
	c.Bank, c.LastFour, c.AccountID, c.EntityID = ptr(bank), ptr(last4), ptr(account), ptr(entity)
	c.LimitTotal, c.LimitUsed = parseDecimal(total), parseDecimal(used)
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		c.CreatedAt = &t
	}
	return &c, nil
}

// ListCreditCards returns the user's active cards ordered by name.
func (s *Store) ListCreditCards(ctx context.Context, userID string) ([]domain.CreditCard, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM cartoes_credito WHERE user_id = ? AND ativo = 1 ORDER BY nome`, userID)
	if err != nil {
		return nil, storeErr("cartoes_credito", err)
	}
	defer rows.Close()

	cards := []domain.CreditCard{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, storeErr("cartoes_credito", err)
		}
		cards = append(cards, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("cartoes_credito", err)
	}
	return cards, nil
}

// GetCreditCard returns an active card owned by userID.
func (s *Store) GetCreditCard(ctx context.Context, userID, cardID string) (*domain.CreditCard, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM cartoes_credito WHERE id = ? AND user_id = ? AND ativo = 1`, cardID, userID)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "credit_card", ID: cardID}
	}
	if err != nil {
		return nil, storeErr("cartoes_credito", err)
	}
	return c, nil
}

// UpdateCreditCardUsedLimit overwrites the cached limite_usado.
func (s *Store) UpdateCreditCardUsedLimit(ctx context.Context, cardID string, usedLimit decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cartoes_credito SET limite_usado = ?, updated_at = ? WHERE id = ?`,
		usedLimit.String(), now(), cardID)
	if err != nil {
		return storeErr("cartoes_credito", err)
	}
	return nil
}

// SaveCreditCard inserts or replaces a card. Used for seeding.
func (s *Store) SaveCreditCard(ctx context.Context, c *domain.CreditCard) (*domain.CreditCard, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO cartoes_credito
		(id, user_id, nome, bandeira, banco, ultimos_digitos, limite_total, limite_usado,
		 dia_fechamento, dia_vencimento, conta_bancaria_id, entidade_id, pessoal, ativo)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.Brand, nullable(c.Bank), nullable(c.LastFour),
		c.LimitTotal.String(), c.LimitUsed.String(), c.ClosingDay, c.DueDay,
		nullable(c.AccountID), nullable(c.EntityID), c.Personal, c.Active)
	if err != nil {
		return nil, storeErr("cartoes_credito", err)
	}
	return c, nil
}

// ============================================================
// Faturas
// ============================================================

const invoiceColumns = `id, user_id, cartao_credito_id, mes_referencia, ano_referencia, data_fechamento,
	data_vencimento, valor_total, valor_pago, status, transacao_pagamento_id, updated_at`

func scanInvoice(r rowScanner) (*domain.Invoice, error) {
	var (
		inv                 domain.Invoice
		total, paid, status string
		payTx, updated      sql.NullString
	)
	if err := r.Scan(&inv.ID, &inv.UserID, &inv.CardID, &inv.Month, &inv.Year, &inv.ClosingDate,
		&inv.DueDate, &total, &paid, &status, &payTx, &updated); err != nil {
		return nil, err
	}
	inv.Total, inv.Paid = parseDecimal(total), parseDecimal(paid)
	inv.Status = domain.InvoiceStatus(status)
	inv.PaymentTransactionID = ptr(payTx)
	if updated.Valid {
		if t, err := time.Parse(time.RFC3339, updated.String); err == nil {
			inv.UpdatedAt = &t
		}
	}
	return &inv, nil
}

// GetInvoice returns the fatura for key or *domain.ErrNotFound.
func (s *Store) GetInvoice(ctx context.Context, userID string, key domain.InvoiceKey) (*domain.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM faturas_cartao
		WHERE user_id = ? AND cartao_credito_id = ? AND mes_referencia = ? AND ano_referencia = ?`,
		userID, key.CardID, key.Month, key.Year)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "fatura", ID: fmt.Sprintf("%s/%02d-%d", key.CardID, key.Month, key.Year)}
	}
	if err != nil {
		return nil, storeErr("faturas_cartao", err)
	}
	return inv, nil
}

// UpsertInvoice inserts or refreshes the fatura keyed by card, month and
// year. An existing row keeps its status and payment columns.
func (s *Store) UpsertInvoice(ctx context.Context, in *domain.InvoiceUpsert) (*domain.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `INSERT INTO faturas_cartao
		(id, user_id, cartao_credito_id, mes_referencia, ano_referencia, data_fechamento, data_vencimento, valor_total, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cartao_credito_id, mes_referencia, ano_referencia) DO UPDATE SET
			data_fechamento = excluded.data_fechamento,
			data_vencimento = excluded.data_vencimento,
			valor_total     = excluded.valor_total,
			updated_at      = excluded.updated_at
		RETURNING `+invoiceColumns,
		uuid.NewString(), in.UserID, in.Key.CardID, in.Key.Month, in.Key.Year,
		in.ClosingDate, in.DueDate, in.Total.String(), now())
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, storeErr("faturas_cartao", err)
	}
	return inv, nil
}

// UpdateInvoiceStatus moves a fatura from upd.From to upd.To with a
// conditional UPDATE. No matched row means another writer got there first.
func (s *Store) UpdateInvoiceStatus(ctx context.Context, invoiceID string, upd *domain.InvoiceUpdate) (*domain.Invoice, error) {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(upd.To), now()}

	switch {
	case upd.To == domain.InvoiceOpen:
		sets = append(sets, "transacao_pagamento_id = NULL")
	case upd.PaymentTransactionID != nil:
		sets = append(sets, "transacao_pagamento_id = ?")
		args = append(args, *upd.PaymentTransactionID)
	}
	if upd.Paid != nil {
		sets = append(sets, "valor_pago = ?")
		args = append(args, upd.Paid.String())
	}
	args = append(args, invoiceID, string(upd.From))

	row := s.db.QueryRowContext(ctx, `UPDATE faturas_cartao SET `+strings.Join(sets, ", ")+`
		WHERE id = ? AND status = ? RETURNING `+invoiceColumns, args...)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("fatura %s não está mais '%s'", invoiceID, upd.From)}
	}
	if err != nil {
		return nil, storeErr("faturas_cartao", err)
	}
	return inv, nil
}

// ============================================================
// Transações
// ============================================================

const transactionColumns = `id, user_id, tipo, descricao, valor, data_vencimento, data_pagamento, status,
	categoria_id, cartao_credito_id, conta_bancaria_id, origem`

func scanTransaction(r rowScanner) (*domain.Transaction, error) {
	var (
		t                           domain.Transaction
		kind, amount, status        string
		paid, category, card, accnt sql.NullString
	)
	if err := r.Scan(&t.ID, &t.UserID, &kind, &t.Description, &amount, &t.DueDate, &paid, &status,
		&category, &card, &accnt, &t.Origin); err != nil {
		return nil, err
	}
	t.Type = domain.TransactionType(kind)
	t.Status = domain.TransactionStatus(status)
	t.Amount = parseDecimal(amount)
	t.PaidDate, t.CategoryID, t.CardID, t.AccountID = ptr(paid), ptr(category), ptr(card), ptr(accnt)
	return &t, nil
}

// ListTransactions returns the rows matching f, newest due date first.
func (s *Store) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, error) {
	where := []string{"user_id = ?"}
	args := []any{f.UserID}

	switch {
	case f.CardID != "":
		where = append(where, "cartao_credito_id = ?")
		args = append(args, f.CardID)
	case f.AnyCard:
		where = append(where, "cartao_credito_id IS NOT NULL")
	}
	if f.Type != "" {
		where = append(where, "tipo = ?")
		args = append(args, string(f.Type))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.DueFrom != "" {
		where = append(where, "data_vencimento >= ?")
		args = append(args, f.DueFrom)
	}
	if f.DueBefore != "" {
		where = append(where, "data_vencimento < ?")
		args = append(args, f.DueBefore)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transacoes WHERE `+
		strings.Join(where, " AND ")+` ORDER BY data_vencimento DESC`, args...)
	if err != nil {
		return nil, storeErr("transacoes", err)
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, storeErr("transacoes", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("transacoes", err)
	}
	return txs, nil
}

// GetTransaction returns a single transaction owned by userID.
func (s *Store) GetTransaction(ctx context.Context, userID, txID string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transacoes WHERE id = ? AND user_id = ?`, txID, userID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "transacao", ID: txID}
	}
	if err != nil {
		return nil, storeErr("transacoes", err)
	}
	return t, nil
}

// InsertTransaction creates a transaction and returns the stored row.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	id := tx.ID
	if id == "" {
		id = uuid.NewString()
	}
	origin := tx.Origin
	if origin == "" {
		origin = domain.OriginManual
	}
	status := tx.Status
	if status == "" {
		status = domain.TransactionPending
	}

	row := s.db.QueryRowContext(ctx, `INSERT INTO transacoes
		(id, user_id, tipo, descricao, valor, data_vencimento, data_pagamento, status,
		 categoria_id, cartao_credito_id, conta_bancaria_id, origem)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+transactionColumns,
		id, tx.UserID, string(tx.Type), tx.Description, tx.Amount.String(), tx.DueDate, nullable(tx.PaidDate),
		string(status), nullable(tx.CategoryID), nullable(tx.CardID), nullable(tx.AccountID), origin)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, storeErr("transacoes", err)
	}
	return t, nil
}

// DeleteTransaction removes a transaction owned by userID.
func (s *Store) DeleteTransaction(ctx context.Context, userID, txID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transacoes WHERE id = ? AND user_id = ?`, txID, userID); err != nil {
		return storeErr("transacoes", err)
	}
	return nil
}

// UpdateTransactionsStatus applies change to every listed id. data_pagamento
// is always written, so a nil PaidDate clears it.
func (s *Store) UpdateTransactionsStatus(ctx context.Context, userID string, change domain.StatusChange) error {
	if len(change.IDs) == 0 {
		return nil
	}

	sets := []string{"status = ?", "data_pagamento = ?"}
	args := []any{string(change.Status), nullable(change.PaidDate)}
	switch {
	case change.ClearAccount:
		sets = append(sets, "conta_bancaria_id = NULL")
	case change.AccountID != nil:
		sets = append(sets, "conta_bancaria_id = ?")
		args = append(args, *change.AccountID)
	}
	args = append(args, userID)
	for _, id := range change.IDs {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx, `UPDATE transacoes SET `+strings.Join(sets, ", ")+
		` WHERE user_id = ? AND id IN (`+placeholders(len(change.IDs))+`)`, args...)
	if err != nil {
		return storeErr("transacoes", err)
	}
	return nil
}

// ============================================================
// Categorias
// ============================================================

// FindCategory looks up a category by exact name and type.
func (s *Store) FindCategory(ctx context.Context, userID, name string, kind domain.TransactionType) (*domain.Category, error) {
	var (
		c    domain.Category
		tipo string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, nome, tipo FROM categorias WHERE user_id = ? AND nome = ? AND tipo = ? LIMIT 1`,
		userID, name, string(kind)).Scan(&c.ID, &c.UserID, &c.Name, &tipo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "categoria", ID: name}
	}
	if err != nil {
		return nil, storeErr("categorias", err)
	}
	c.Type = domain.TransactionType(tipo)
	return &c, nil
}

// CreateCategory inserts a category and returns it with its id.
func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) (*domain.Category, error) {
	out := *c
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO categorias (id, user_id, nome, tipo) VALUES (?, ?, ?, ?)`,
		out.ID, out.UserID, out.Name, string(out.Type))
	if err != nil {
		return nil, storeErr("categorias", err)
	}
	return &out, nil
}

// ============================================================
// Contas bancárias
// ============================================================

// GetAccount returns a settlement account owned by userID.
func (s *Store) GetAccount(ctx context.Context, userID, accountID string) (*domain.Account, error) {
	var (
		a       domain.Account
		balance string
		updated sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, nome, saldo_atual, updated_at FROM contas_bancarias WHERE id = ? AND user_id = ?`,
		accountID, userID).Scan(&a.ID, &a.UserID, &a.Name, &balance, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "conta_bancaria", ID: accountID}
	}
	if err != nil {
		return nil, storeErr("contas_bancarias", err)
	}
	a.Balance = parseDecimal(balance)
	if updated.Valid {
		if t, err := time.Parse(time.RFC3339, updated.String); err == nil {
			a.UpdatedAt = &t
		}
	}
	return &a, nil
}

// CompareAndSetBalance writes next only if saldo_atual still equals expected.
// The stored text is compared as a decimal ("100.00" matches 100) and the
// UPDATE is guarded by the exact text that was read.
func (s *Store) CompareAndSetBalance(ctx context.Context, accountID string, expected, next decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("contas_bancarias", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT saldo_atual FROM contas_bancarias WHERE id = ?`, accountID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ErrNotFound{Resource: "conta_bancaria", ID: accountID}
	}
	if err != nil {
		return storeErr("contas_bancarias", err)
	}

	conflict := &domain.ErrConflict{Message: fmt.Sprintf("saldo da conta %s foi alterado concorrentemente", accountID)}
	current, err := decimal.NewFromString(raw)
	if err != nil {
		return storeErr("contas_bancarias", fmt.Errorf("parse saldo_atual %q: %w", raw, err))
	}
	if !current.Equal(expected) {
		return conflict
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE contas_bancarias SET saldo_atual = ?, updated_at = ? WHERE id = ? AND saldo_atual = ?`,
		next.String(), now(), accountID, raw)
	if err != nil {
		return storeErr("contas_bancarias", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("contas_bancarias", err)
	}
	if n == 0 {
		return conflict
	}
	if err := tx.Commit(); err != nil {
		return storeErr("contas_bancarias", err)
	}
	return nil
}

// SaveAccount inserts or replaces a settlement account. Used for seeding.
func (s *Store) SaveAccount(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO contas_bancarias (id, user_id, nome, saldo_atual, updated_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Balance.String(), now())
	if err != nil {
		return nil, storeErr("contas_bancarias", err)
	}
	return a, nil
}
