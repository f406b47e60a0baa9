// Package derived computes per-record values from trips and rentals at read
// time. Nothing here touches storage; the only value written back is a trip's
// fuel consumption when the trip is completed.
package derived

import (
	"math"

	"frota/internal/core"

	"github.com/shopspring/decimal"
)

// HoursPerWorkingDay is the billing assumption behind EffectiveHours.
const HoursPerWorkingDay = 8

type TripMetrics struct {
	KmTraveled      int64           `json:"kmTraveled"`
	FuelConsumption decimal.Decimal `json:"fuelConsumption"`
}

type Duration struct {
	Hours decimal.Decimal `json:"hours"`
	Days  decimal.Decimal `json:"days"`
}

type RentalMetrics struct {
	TotalHours     decimal.Decimal `json:"totalHours"`
	WorkingDays    int             `json:"workingDays"`
	EffectiveHours int             `json:"effectiveHours"`
	TotalValue     decimal.Decimal `json:"totalValue"`
}

// KmTraveled is zero until the trip has an end reading and never negative.
func KmTraveled(startKm int64, endKm *int64) int64 {
	if endKm == nil || *endKm <= startKm {
		return 0
	}
	return *endKm - startKm
}

// FuelConsumption is liters per km rounded to 3 places, zero when no
// distance was covered.
func FuelConsumption(liters decimal.Decimal, km int64) decimal.Decimal {
	if km <= 0 {
		return decimal.Zero
	}
	return core.Round3(liters.Div(decimal.NewFromInt(km)))
}

func Trip(t core.Trip) TripMetrics {
	km := KmTraveled(t.StartKm, t.EndKm)
	m := TripMetrics{KmTraveled: km, FuelConsumption: decimal.Zero}
	if t.FuelLiters != nil {
		m.FuelConsumption = FuelConsumption(*t.FuelLiters, km)
	}
	return m
}

// TripDuration measures start to end in hours and days, both rounded to 2
// places. A trip without end date and time has zero duration.
func TripDuration(t core.Trip) Duration {
	zero := Duration{Hours: decimal.Zero, Days: decimal.Zero}
	if t.EndDate == "" || t.EndTime == "" {
		return zero
	}
	start, err := core.ParseDateTime(t.StartDate, t.StartTime)
	if err != nil {
		return zero
	}
	end, err := core.ParseDateTime(t.EndDate, t.EndTime)
	if err != nil {
		return zero
	}
	minutes := decimal.NewFromFloat(end.Sub(start).Minutes())
	return Duration{
		Hours: core.Round2(minutes.Div(decimal.NewFromInt(60))),
		Days:  core.Round2(minutes.Div(decimal.NewFromInt(60 * 24))),
	}
}

// WorkingDays counts calendar days from start to end inclusive on UTC days.
// A missing or unparseable end date counts as the start date. The result is
// never below 1.
func WorkingDays(startDate, endDate string) int {
	start, err := core.ParseDate(startDate)
	if err != nil {
		return 1
	}
	end := start
	if endDate != "" {
		if e, err := core.ParseDate(endDate); err == nil {
			end = e
		}
	}
	diff := core.CalendarDay(end).Sub(core.CalendarDay(start)).Hours() / 24
	days := int(math.Ceil(diff)) + 1
	if days < 1 {
		return 1
	}
	return days
}

func Rental(r core.Rental) RentalMetrics {
	if r.FinalHours == nil {
		return RentalMetrics{TotalHours: decimal.Zero, TotalValue: decimal.Zero}
	}
	hours := r.FinalHours.Sub(r.InitialHours)
	days := WorkingDays(r.Date, r.EndDate)
	return RentalMetrics{
		TotalHours:     core.Round2(hours),
		WorkingDays:    days,
		EffectiveHours: days * HoursPerWorkingDay,
		TotalValue:     core.Round2(hours.Mul(r.HourlyRate)),
	}
}
