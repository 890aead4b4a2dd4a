package domain

import "github.com/shopspring/decimal"

// LimitEpsilon is the drift tolerated between a card's cached limite_usado and
// the recomputed value before the listing persists the new value.
var LimitEpsilon = decimal.NewFromFloat(0.01)

// UsedLimit derives limite_usado for a card: the sum of despesa transactions
// linked to it that are still pendente or atrasado. Transactions of other
// cards in txs are ignored.
func UsedLimit(cardID string, txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		if t.CardID == nil || *t.CardID != cardID {
			continue
		}
		if t.Type != TransactionExpense || !t.Status.Outstanding() {
			continue
		}
		total = total.Add(t.Amount)
	}
	return total
}

// UsedLimitByCard groups UsedLimit over every card referenced in txs.
func UsedLimitByCard(txs []Transaction) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, t := range txs {
		if t.CardID == nil || t.Type != TransactionExpense || !t.Status.Outstanding() {
			continue
		}
		out[*t.CardID] = out[*t.CardID].Add(t.Amount)
	}
	return out
}

// Drifted reports whether stored differs from computed by more than eps.
func Drifted(stored, computed, eps decimal.Decimal) bool {
	return stored.Sub(computed).Abs().GreaterThan(eps)
}

// SumAmounts totals valor over txs with no status filter.
func SumAmounts(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		total = total.Add(t.Amount)
	}
	return total
}
