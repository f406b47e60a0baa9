// Package filter selects the trips, rentals and transactions relevant to a
// reporting context: a time window plus optional truck, driver, trip and
// rental references. All present conditions must hold.
package filter

import (
	"time"

	"frota/internal/core"
)

type Period string

const (
	Last7Days   Period = "7d"
	Last30Days  Period = "30d"
	Last3Months Period = "3m"
	Last6Months Period = "6m"
	LastYear    Period = "1y"
	AllTime     Period = "all"
)

// ParsePeriod maps unknown or empty tokens to AllTime.
func ParsePeriod(s string) Period {
	switch p := Period(s); p {
	case Last7Days, Last30Days, Last3Months, Last6Months, LastYear:
		return p
	default:
		return AllTime
	}
}

// Bounded reports whether the period has a lower bound.
func (p Period) Bounded() bool {
	return ParsePeriod(string(p)) != AllTime
}

// Start resolves the lower bound of the window relative to now. Day windows
// subtract exact durations; month and year windows subtract calendar units.
// AllTime returns the zero time.
func (p Period) Start(now time.Time) time.Time {
	switch ParsePeriod(string(p)) {
	case Last7Days:
		return now.Add(-7 * 24 * time.Hour)
	case Last30Days:
		return now.Add(-30 * 24 * time.Hour)
	case Last3Months:
		return now.AddDate(0, -3, 0)
	case Last6Months:
		return now.AddDate(0, -6, 0)
	case LastYear:
		return now.AddDate(-1, 0, 0)
	default:
		return time.Time{}
	}
}

type Criteria struct {
	Period   Period
	TruckID  string
	DriverID string
	TripID   string
	RentalID string
}

// within reports whether a record dated raw falls in the window.
func (c Criteria) within(now time.Time, raw string) bool {
	if !c.Period.Bounded() {
		return true
	}
	at, err := core.ParseDate(raw)
	if err != nil {
		return false
	}
	return !at.Before(c.Period.Start(now))
}

func match(want, got string) bool {
	return want == "" || want == got
}

// MatchTransaction applies the entity references only, without the window.
func (c Criteria) MatchTransaction(tx core.Transaction) bool {
	return match(c.TruckID, tx.TruckID) &&
		match(c.DriverID, tx.DriverID) &&
		match(c.TripID, tx.TripID) &&
		match(c.RentalID, tx.RentalID)
}

func (c Criteria) Transactions(now time.Time, txs []core.Transaction) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if c.within(now, tx.Date) && c.MatchTransaction(tx) {
			out = append(out, tx)
		}
	}
	return out
}

func (c Criteria) Trips(now time.Time, trips []core.Trip) []core.Trip {
	out := make([]core.Trip, 0, len(trips))
	for _, tr := range trips {
		if !c.within(now, tr.StartDate) {
			continue
		}
		if match(c.TruckID, tr.TruckID) && match(c.DriverID, tr.DriverID) && match(c.TripID, tr.ID) {
			out = append(out, tr)
		}
	}
	return out
}

func (c Criteria) Rentals(now time.Time, rentals []core.Rental) []core.Rental {
	out := make([]core.Rental, 0, len(rentals))
	for _, r := range rentals {
		if !c.within(now, r.Date) {
			continue
		}
		if match(c.DriverID, r.DriverID) && match(c.RentalID, r.ID) {
			out = append(out, r)
		}
	}
	return out
}
