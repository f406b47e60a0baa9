package aggregate

import (
	"time"

	"frota/internal/core"
	"frota/internal/filter"

	"github.com/shopspring/decimal"
)

var monthLabels = [...]string{"jan", "fev", "mar", "abr", "mai", "jun", "jul", "ago", "set", "out", "nov", "dez"}

type MonthBucket struct {
	Year     int             `json:"year"`
	Month    int             `json:"month"`
	Label    string          `json:"label"`
	Revenue  decimal.Decimal `json:"revenue"`
	Expenses decimal.Decimal `json:"expenses"`
}

// MonthsFor is the number of buckets charted for a period.
func MonthsFor(p filter.Period) int {
	switch filter.ParsePeriod(string(p)) {
	case filter.Last7Days, filter.Last30Days:
		return 2
	case filter.Last3Months:
		return 3
	case filter.Last6Months:
		return 6
	case filter.LastYear:
		return 12
	default:
		return 6
	}
}

// MonthlySeries returns one bucket per calendar month, oldest first and
// ending at now's month. Months without matching transactions are kept with
// zero sums. Buckets apply the entity references of c but not its period
// bound: the window is the set of months itself.
func MonthlySeries(now time.Time, c filter.Criteria, txs []core.Transaction) []MonthBucket {
	n := MonthsFor(c.Period)
	buckets := make([]MonthBucket, n)
	index := make(map[[2]int]int, n)
	for i := 0; i < n; i++ {
		start := core.MonthStart(now, i-(n-1))
		buckets[i] = MonthBucket{
			Year:     start.Year(),
			Month:    int(start.Month()),
			Label:    monthLabels[start.Month()-1],
			Revenue:  decimal.Zero,
			Expenses: decimal.Zero,
		}
		index[[2]int{start.Year(), int(start.Month())}] = i
	}

	for _, tx := range txs {
		if !c.MatchTransaction(tx) {
			continue
		}
		at, err := core.ParseDate(tx.Date)
		if err != nil {
			continue
		}
		i, ok := index[[2]int{at.Year(), int(at.Month())}]
		if !ok {
			continue
		}
		switch tx.Type {
		case core.Revenue:
			buckets[i].Revenue = buckets[i].Revenue.Add(tx.Amount)
		case core.Expense:
			buckets[i].Expenses = buckets[i].Expenses.Add(tx.Amount)
		}
	}
	return buckets
}
