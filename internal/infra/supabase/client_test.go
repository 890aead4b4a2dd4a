package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/resilience"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxConcurrency: 4}
	return NewClient(srv.Client(), srv.URL, "anon", "service", resilience.NewCircuitBreaker("supabase-test"), cfg, zap.NewNop())
}

func TestQuery_EscapesValues(t *testing.T) {
	q := from("transacoes").
		eq("user_id", "u 1").
		in("status", []string{"pendente", "atrasado"}).
		op("data_vencimento", "gte", "2024-02-10").
		raw("order=data_vencimento.desc")

	assert.Equal(t,
		"transacoes?user_id=eq.u+1&status=in.(pendente,atrasado)&data_vencimento=gte.2024-02-10&order=data_vencimento.desc",
		q.String())
}

func TestTransactionQuery_AnyCard(t *testing.T) {
	q := transactionQuery(domain.TransactionFilter{
		UserID:   "u1",
		AnyCard:  true,
		Type:     domain.TransactionExpense,
		Statuses: []domain.TransactionStatus{domain.TransactionPending},
	})
	s := q.String()
	assert.Contains(t, s, "cartao_credito_id=not.is.null")
	assert.Contains(t, s, "tipo=eq.despesa")
	assert.Contains(t, s, "status=in.(pendente)")
}

func TestClient_SendsAuthHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service", r.Header.Get("Authorization"))
		assert.Equal(t, "/rest/v1/cartoes_credito", r.URL.Path)
		assert.Equal(t, "eq.true", r.URL.Query().Get("ativo"))
		_, _ = io.WriteString(w, `[{"id":"c1","user_id":"u1","nome":"Nubank","limite_total":"5000","limite_usado":"130.5","dia_fechamento":10,"dia_vencimento":17,"ativo":true}]`)
	})

	cards, err := c.ListCreditCards(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "Nubank", cards[0].Name)
	assert.True(t, cards[0].LimitUsed.Equal(decimal.RequireFromString("130.5")))
}

func TestGetCreditCard_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := c.GetCreditCard(context.Background(), "u1", "missing")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestRead_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := c.ListTransactions(context.Background(), domain.TransactionFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRead_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.ListTransactions(context.Background(), domain.TransactionFilter{UserID: "u1"})
	var ext *domain.ErrExternalService
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "supabase/transacoes", ext.Service)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpsertInvoice_MergesOnNaturalKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, invoiceUniqueKey, r.URL.Query().Get("on_conflict"))
		assert.Contains(t, r.Header.Get("Prefer"), "resolution=merge-duplicates")

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasStatus := body["status"]
		assert.False(t, hasStatus, "status must not be sent on upsert")

		_, _ = io.WriteString(w, `[{"id":"f1","cartao_credito_id":"c1","mes_referencia":3,"ano_referencia":2024,"valor_total":"130","status":"aberta"}]`)
	})

	inv, err := c.UpsertInvoice(context.Background(), &domain.InvoiceUpsert{
		UserID: "u1",
		Key:    domain.InvoiceKey{CardID: "c1", Month: 3, Year: 2024},
		Total:  decimal.NewFromInt(130),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceOpen, inv.Status)
}

func TestUpdateInvoiceStatus_FiltersOnCurrentStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.aberta", r.URL.Query().Get("status"))
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "fechada", body["status"])
		assert.Equal(t, "tx-1", body["transacao_pagamento_id"])

		_, _ = io.WriteString(w, `[{"id":"f1","status":"fechada","transacao_pagamento_id":"tx-1"}]`)
	})

	txID := "tx-1"
	inv, err := c.UpdateInvoiceStatus(context.Background(), "f1", &domain.InvoiceUpdate{
		From: domain.InvoiceOpen, To: domain.InvoiceClosed, PaymentTransactionID: &txID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceClosed, inv.Status)
}

func TestUpdateInvoiceStatus_EmptyResultIsConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := c.UpdateInvoiceStatus(context.Background(), "f1", &domain.InvoiceUpdate{
		From: domain.InvoiceOpen, To: domain.InvoiceClosed,
	})
	assert.True(t, resilience.IsConflict(err))
}

func TestInvoicePatch_ReopenClearsPaymentTransaction(t *testing.T) {
	txID := "tx-1"
	patch := invoicePatch(&domain.InvoiceUpdate{From: domain.InvoiceClosed, To: domain.InvoiceOpen, PaymentTransactionID: &txID})

	v, ok := patch["transacao_pagamento_id"]
	require.True(t, ok)
	assert.Nil(t, v)
}

func TestCompareAndSetBalance(t *testing.T) {
	var seen string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Query().Get("saldo_atual")
		if strings.HasSuffix(seen, "1000") {
			_, _ = io.WriteString(w, `[{"id":"a1","saldo_atual":"870"}]`)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	})

	err := c.CompareAndSetBalance(context.Background(), "a1", decimal.NewFromInt(1000), decimal.NewFromInt(870))
	require.NoError(t, err)
	assert.Equal(t, "eq.1000", seen)

	err = c.CompareAndSetBalance(context.Background(), "a1", decimal.NewFromInt(999), decimal.NewFromInt(869))
	assert.True(t, resilience.IsConflict(err))
}

func TestUpdateTransactionsStatus_NoIDsIsNoop(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	require.NoError(t, c.UpdateTransactionsStatus(context.Background(), "u1", domain.StatusChange{Status: domain.TransactionPaid}))
}

func TestUpdateTransactionsStatus_ClearAccountSendsNull(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		v, ok := body["conta_bancaria_id"]
		assert.True(t, ok, "conta_bancaria_id must be sent")
		assert.Nil(t, v)
		assert.Nil(t, body["data_pagamento"])
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.UpdateTransactionsStatus(context.Background(), "u1", domain.StatusChange{
		IDs: []string{"t1"}, Status: domain.TransactionPending, ClearAccount: true,
	})
	require.NoError(t, err)
}

func TestUpdateTransactionsStatus_SendsIDList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "in.(t1,t2)", r.URL.Query().Get("id"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pago", body["status"])
		assert.Equal(t, "2024-03-11", body["data_pagamento"])
		w.WriteHeader(http.StatusNoContent)
	})

	paid := "2024-03-11"
	err := c.UpdateTransactionsStatus(context.Background(), "u1", domain.StatusChange{
		IDs: []string{"t1", "t2"}, Status: domain.TransactionPaid, PaidDate: &paid,
	})
	require.NoError(t, err)
}
