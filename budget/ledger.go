/*
ledger.go - Append-only spend ledger and aggregation

PURPOSE:
  The actuals ledger is the source of truth for spend. Every expense,
  invoice, purchase order and payment is recorded as an immutable row.
  Totals are always computed by replaying rows - there is no running
  balance column that can drift out of sync with the facts.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: actuals are inserted, never updated or deleted
  2. RE-DERIVED: every total is recomputed from all rows on each call
  3. NO MASKING: a storage failure is an error, never a zero total

CORRECTIONS:
  A wrong posting is corrected by recording a compensating actual,
  not by editing the original row. Both stay in the ledger.

SEE ALSO:
  - store.go: ActualStore persistence interface
  - variance.go: consumes LineTotals
  - enforcement.go: consumes remaining balances
*/
package budget

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Aggregation over the actuals store
// =============================================================================

type Ledger struct {
	Store ActualStore
}

func NewLedger(store ActualStore) *Ledger {
	return &Ledger{Store: store}
}

// Record appends one actual. This is the ONLY write operation.
func (l *Ledger) Record(ctx context.Context, a Actual) error {
	return Storage("append actual", l.Store.AppendActual(ctx, a))
}

// LineTotals returns (actual, committed) for the line. Both are zero
// when nothing has been recorded.
func (l *Ledger) LineTotals(ctx context.Context, lineID LineID) (Totals, error) {
	t, err := l.Store.SumLine(ctx, lineID)
	if err != nil {
		return Totals{}, Storage("sum line", err)
	}
	return t, nil
}

// BudgetTotals returns (actual, committed) across the whole budget.
func (l *Ledger) BudgetTotals(ctx context.Context, budgetID BudgetID) (Totals, error) {
	t, err := l.Store.SumBudget(ctx, budgetID)
	if err != nil {
		return Totals{}, Storage("sum budget", err)
	}
	return t, nil
}

// Remaining returns budgeted - (actual + committed).
func Remaining(budgeted decimal.Decimal, t Totals) decimal.Decimal {
	return budgeted.Sub(t.Spent())
}

// SumActuals replays rows into a Totals. Store implementations use it
// so the summing rule lives in one place.
func SumActuals(rows []Actual) Totals {
	t := Totals{Actual: decimal.Zero, Committed: decimal.Zero}
	for _, a := range rows {
		t = t.Add(a)
	}
	return t
}
