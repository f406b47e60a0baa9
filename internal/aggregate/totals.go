// Package aggregate reduces filtered record sets into period totals, monthly
// chart series and the dashboard and report summaries built on top of them.
// Every function recomputes from the records it is given.
package aggregate

import (
	"time"

	"frota/internal/core"
	"frota/internal/filter"

	"github.com/shopspring/decimal"
)

type Totals struct {
	Revenue  decimal.Decimal `json:"revenue"`
	Expenses decimal.Decimal `json:"expenses"`
	Profit   decimal.Decimal `json:"profit"`
}

// Sum totals revenue and expenses of txs. An empty set yields zeros.
func Sum(txs []core.Transaction) Totals {
	revenue, expenses := decimal.Zero, decimal.Zero
	for _, tx := range txs {
		switch tx.Type {
		case core.Revenue:
			revenue = revenue.Add(tx.Amount)
		case core.Expense:
			expenses = expenses.Add(tx.Amount)
		}
	}
	return Totals{Revenue: revenue, Expenses: expenses, Profit: revenue.Sub(expenses)}
}

// PeriodTotals filters txs by c and sums the result.
func PeriodTotals(now time.Time, c filter.Criteria, txs []core.Transaction) Totals {
	return Sum(c.Transactions(now, txs))
}

// CurrentMonth sums the transactions dated in now's calendar month, ignoring
// every other filter.
func CurrentMonth(now time.Time, txs []core.Transaction) Totals {
	month := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		at, err := core.ParseDate(tx.Date)
		if err == nil && core.SameMonth(at, now) {
			month = append(month, tx)
		}
	}
	return Sum(month)
}
