package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/cache"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/resilience"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ============================================================
// In-memory BillingStore with failure injection
// ============================================================

type memStore struct {
	mu         sync.Mutex
	seq        int
	cards      map[string]*domain.CreditCard
	invoices   map[string]*domain.Invoice
	txs        map[string]*domain.Transaction
	categories map[string]*domain.Category
	accounts   map[string]*domain.Account

	// fail makes the named method return the error on every call.
	fail map[string]error
	// beforeCAS runs inside CompareAndSetBalance before the comparison.
	beforeCAS func(a *domain.Account)

	// ignoreDueWindow makes ListTransactions disregard DueFrom/DueBefore.
	ignoreDueWindow bool

	limitWrites int
	casCalls    int
}

func newMemStore() *memStore {
	return &memStore{
		cards:      make(map[string]*domain.CreditCard),
		invoices:   make(map[string]*domain.Invoice),
		txs:        make(map[string]*domain.Transaction),
		categories: make(map[string]*domain.Category),
		accounts:   make(map[string]*domain.Account),
		fail:       make(map[string]error),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) failing(method string) error {
	return m.fail[method]
}

func (m *memStore) failOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[method] = err
}

func storeDown(table string) error {
	return &domain.ErrExternalService{Service: "mem/" + table, Err: fmt.Errorf("connection reset")}
}

// --- seeding ---

func (m *memStore) addAccount(userID string, balance int64) *domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &domain.Account{ID: m.nextID("acc"), UserID: userID, Name: "Corrente", Balance: decimal.NewFromInt(balance)}
	m.accounts[a.ID] = a
	return a
}

func (m *memStore) addCard(userID string, closingDay, dueDay int, accountID *string) *domain.CreditCard {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &domain.CreditCard{
		ID: m.nextID("card"), UserID: userID, Name: "Nubank", Brand: "mastercard",
		LimitTotal: decimal.NewFromInt(5000), ClosingDay: closingDay, DueDay: dueDay,
		AccountID: accountID, Personal: true, Active: true,
	}
	m.cards[c.ID] = c
	return c
}

func (m *memStore) addTx(userID, cardID string, amount string, due string, status domain.TransactionStatus) *domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := cardID
	t := &domain.Transaction{
		ID: m.nextID("tx"), UserID: userID, Type: domain.TransactionExpense, Description: "compra",
		Amount: decimal.RequireFromString(amount), DueDate: due, Status: status, CardID: &id, Origin: domain.OriginManual,
	}
	m.txs[t.ID] = t
	return t
}

// --- snapshots for assertions ---

func (m *memStore) tx(id string) *domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

func (m *memStore) card(id string) domain.CreditCard {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.cards[id]
}

func (m *memStore) account(id string) domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[id]
}

func (m *memStore) invoice(cardID string, month, year int) *domain.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.CardID == cardID && inv.Month == month && inv.Year == year {
			cp := *inv
			return &cp
		}
	}
	return nil
}

func (m *memStore) automaticTxs() []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.txs {
		if t.Origin == domain.OriginAutomatic {
			out = append(out, *t)
		}
	}
	return out
}

// snapshot renders the whole store for before/after comparisons.
func (m *memStore) snapshot() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var lines []string
	for _, c := range m.cards {
		lines = append(lines, fmt.Sprintf("card %s used=%s", c.ID, c.LimitUsed))
	}
	for _, inv := range m.invoices {
		tx := ""
		if inv.PaymentTransactionID != nil {
			tx = *inv.PaymentTransactionID
		}
		lines = append(lines, fmt.Sprintf("inv %s %s total=%s paid=%s tx=%s", inv.ID, inv.Status, inv.Total, inv.Paid, tx))
	}
	for _, t := range m.txs {
		lines = append(lines, fmt.Sprintf("tx %s %s %s paid_on=%s account=%s",
			t.ID, t.Status, t.Amount, deref(t.PaidDate), deref(t.AccountID)))
	}
	for _, a := range m.accounts {
		lines = append(lines, fmt.Sprintf("acc %s %s", a.ID, a.Balance))
	}
	sort.Strings(lines)
	return fmt.Sprint(lines)
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

// --- port.BillingStore ---

func (m *memStore) Ping(context.Context) error { return m.failing("Ping") }

func (m *memStore) ListCreditCards(_ context.Context, userID string) ([]domain.CreditCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("ListCreditCards"); err != nil {
		return nil, err
	}
	out := []domain.CreditCard{}
	for _, c := range m.cards {
		if c.UserID == userID && c.Active {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetCreditCard(_ context.Context, userID, cardID string) (*domain.CreditCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("GetCreditCard"); err != nil {
		return nil, err
	}
	c, ok := m.cards[cardID]
	if !ok || c.UserID != userID || !c.Active {
		return nil, &domain.ErrNotFound{Resource: "credit_card", ID: cardID}
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) UpdateCreditCardUsedLimit(_ context.Context, cardID string, used decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("UpdateCreditCardUsedLimit"); err != nil {
		return err
	}
	m.limitWrites++
	if c, ok := m.cards[cardID]; ok {
		c.LimitUsed = used
	}
	return nil
}

func (m *memStore) GetInvoice(_ context.Context, userID string, key domain.InvoiceKey) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("GetInvoice"); err != nil {
		return nil, err
	}
	for _, inv := range m.invoices {
		if inv.UserID == userID && inv.CardID == key.CardID && inv.Month == key.Month && inv.Year == key.Year {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "fatura", ID: key.CardID}
}

func (m *memStore) UpsertInvoice(_ context.Context, in *domain.InvoiceUpsert) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("UpsertInvoice"); err != nil {
		return nil, err
	}
	for _, inv := range m.invoices {
		if inv.CardID == in.Key.CardID && inv.Month == in.Key.Month && inv.Year == in.Key.Year {
			inv.ClosingDate, inv.DueDate, inv.Total = in.ClosingDate, in.DueDate, in.Total
			cp := *inv
			return &cp, nil
		}
	}
	inv := &domain.Invoice{
		ID: m.nextID("fat"), UserID: in.UserID, CardID: in.Key.CardID, Month: in.Key.Month, Year: in.Key.Year,
		ClosingDate: in.ClosingDate, DueDate: in.DueDate, Total: in.Total, Status: domain.InvoiceOpen,
	}
	m.invoices[inv.ID] = inv
	cp := *inv
	return &cp, nil
}

func (m *memStore) UpdateInvoiceStatus(_ context.Context, invoiceID string, upd *domain.InvoiceUpdate) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("UpdateInvoiceStatus"); err != nil {
		return nil, err
	}
	if err := m.failing("UpdateInvoiceStatus:" + string(upd.To)); err != nil {
		return nil, err
	}
	inv, ok := m.invoices[invoiceID]
	if !ok || inv.Status != upd.From {
		return nil, &domain.ErrConflict{Message: "status changed"}
	}
	inv.Status = upd.To
	switch {
	case upd.To == domain.InvoiceOpen:
		inv.PaymentTransactionID = nil
	case upd.PaymentTransactionID != nil:
		id := *upd.PaymentTransactionID
		inv.PaymentTransactionID = &id
	}
	if upd.Paid != nil {
		inv.Paid = *upd.Paid
	}
	cp := *inv
	return &cp, nil
}

func (m *memStore) ListTransactions(_ context.Context, f domain.TransactionFilter) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("ListTransactions"); err != nil {
		return nil, err
	}
	out := []domain.Transaction{}
	for _, t := range m.txs {
		if t.UserID != f.UserID {
			continue
		}
		if f.CardID != "" && (t.CardID == nil || *t.CardID != f.CardID) {
			continue
		}
		if f.AnyCard && t.CardID == nil {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
			continue
		}
		if !m.ignoreDueWindow && f.DueFrom != "" && t.DueDate < f.DueFrom {
			continue
		}
		if !m.ignoreDueWindow && f.DueBefore != "" && t.DueDate >= f.DueBefore {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate > out[j].DueDate })
	return out, nil
}

func containsStatus(list []domain.TransactionStatus, s domain.TransactionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m *memStore) GetTransaction(_ context.Context, userID, txID string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("GetTransaction"); err != nil {
		return nil, err
	}
	t, ok := m.txs[txID]
	if !ok || t.UserID != userID {
		return nil, &domain.ErrNotFound{Resource: "transacao", ID: txID}
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) InsertTransaction(_ context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("InsertTransaction"); err != nil {
		return nil, err
	}
	cp := *tx
	if cp.ID == "" {
		cp.ID = m.nextID("tx")
	}
	m.txs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) DeleteTransaction(_ context.Context, userID, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("DeleteTransaction"); err != nil {
		return err
	}
	if t, ok := m.txs[txID]; ok && t.UserID == userID {
		delete(m.txs, txID)
	}
	return nil
}

func (m *memStore) UpdateTransactionsStatus(_ context.Context, userID string, change domain.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("UpdateTransactionsStatus"); err != nil {
		return err
	}
	for _, id := range change.IDs {
		t, ok := m.txs[id]
		if !ok || t.UserID != userID {
			continue
		}
		t.Status = change.Status
		t.PaidDate = change.PaidDate
		switch {
		case change.ClearAccount:
			t.AccountID = nil
		case change.AccountID != nil:
			acc := *change.AccountID
			t.AccountID = &acc
		}
	}
	return nil
}

func (m *memStore) FindCategory(_ context.Context, userID, name string, kind domain.TransactionType) (*domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("FindCategory"); err != nil {
		return nil, err
	}
	for _, c := range m.categories {
		if c.UserID == userID && c.Name == name && c.Type == kind {
			cp := *c
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "categoria", ID: name}
}

func (m *memStore) CreateCategory(_ context.Context, c *domain.Category) (*domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("CreateCategory"); err != nil {
		return nil, err
	}
	cp := *c
	cp.ID = m.nextID("cat")
	m.categories[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) GetAccount(_ context.Context, userID, accountID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("GetAccount"); err != nil {
		return nil, err
	}
	a, ok := m.accounts[accountID]
	if !ok || a.UserID != userID {
		return nil, &domain.ErrNotFound{Resource: "conta_bancaria", ID: accountID}
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) CompareAndSetBalance(_ context.Context, accountID string, expected, next decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("CompareAndSetBalance"); err != nil {
		return err
	}
	m.casCalls++
	a, ok := m.accounts[accountID]
	if !ok {
		return &domain.ErrNotFound{Resource: "conta_bancaria", ID: accountID}
	}
	if m.beforeCAS != nil {
		m.beforeCAS(a)
	}
	if !a.Balance.Equal(expected) {
		return &domain.ErrConflict{Message: "balance changed"}
	}
	a.Balance = next
	return nil
}

// ============================================================
// Publisher, clock and service wiring
// ============================================================

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.InvoiceEvent
	err    error
}

func (p *recordingPublisher) PublishInvoiceEvent(_ context.Context, ev *domain.InvoiceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, *ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

const testUser = "user-1"

var testToday = time.Date(2025, 3, 6, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memStore
	publisher *recordingPublisher
	metrics   *observability.Metrics
	logs      *observer.ObservedLogs
	svc       *BillingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	pub := &recordingPublisher{}
	metrics := observability.NewMetrics()
	categories := cache.New[string](time.Minute)
	t.Cleanup(categories.Close)
	core, logs := observer.New(zapcore.InfoLevel)

	svc := NewBillingService(store, pub, fixedClock{t: testToday}, categories, BillingConfig{
		BalanceRetry: resilience.Config{MaxRetries: 5, InitialBackoff: time.Millisecond},
	}, metrics, zap.New(core))

	return &fixture{store: store, publisher: pub, metrics: metrics, logs: logs, svc: svc}
}

// scenario seeds the March 2025 statement: closing day 5, due day 15,
// R$100 on 02-20 and R$30 on 02-10 inside, R$50 on 03-05 outside.
type scenario struct {
	card    *domain.CreditCard
	account *domain.Account
	inside  []*domain.Transaction
	outside *domain.Transaction
}

func (f *fixture) seedScenario() scenario {
	acc := f.store.addAccount(testUser, 1000)
	card := f.store.addCard(testUser, 5, 15, &acc.ID)
	a := f.store.addTx(testUser, card.ID, "100", "2025-02-20", domain.TransactionPending)
	b := f.store.addTx(testUser, card.ID, "30", "2025-02-10", domain.TransactionOverdue)
	out := f.store.addTx(testUser, card.ID, "50", "2025-03-05", domain.TransactionPending)
	return scenario{card: card, account: acc, inside: []*domain.Transaction{a, b}, outside: out}
}

func (f *fixture) act(cardID string, action domain.InvoiceAction, accountID *string) (*domain.InvoiceActionResult, error) {
	return f.svc.Act(context.Background(), ActRequest{
		UserID: testUser, CardID: cardID, Month: 3, Year: 2025, Action: action, AccountID: accountID,
	})
}
