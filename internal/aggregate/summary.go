package aggregate

import (
	"frota/internal/core"
	"frota/internal/derived"

	"github.com/shopspring/decimal"
)

type StatusCount struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Maintenance int `json:"maintenance"`
	Inactive    int `json:"inactive"`
	Suspended   int `json:"suspended"`
}

type FleetSummary struct {
	Trucks       StatusCount `json:"trucks"`
	TotalMileage int64       `json:"totalMileage"`
}

type MachinerySummary struct {
	Machinery  StatusCount     `json:"machinery"`
	TotalHours decimal.Decimal `json:"totalHours"`
}

type DriverSummary struct {
	Drivers StatusCount `json:"drivers"`
}

type TripSummary struct {
	Active             int             `json:"active"`
	Completed          int             `json:"completed"`
	TotalKm            int64           `json:"totalKm"`
	KmPerTrip          int64           `json:"kmPerTrip"`
	TotalFuel          decimal.Decimal `json:"totalFuel"`
	AverageConsumption decimal.Decimal `json:"averageConsumption"`
}

type RentalSummary struct {
	Active         int             `json:"active"`
	Completed      int             `json:"completed"`
	TotalHours     decimal.Decimal `json:"totalHours"`
	EffectiveHours int             `json:"effectiveHours"`
	TotalValue     decimal.Decimal `json:"totalValue"`
}

func countAsset(c *StatusCount, s core.AssetStatus) {
	c.Total++
	switch s {
	case core.AssetActive:
		c.Active++
	case core.AssetMaintenance:
		c.Maintenance++
	case core.AssetInactive:
		c.Inactive++
	}
}

func SummarizeFleet(trucks []core.Truck) FleetSummary {
	var s FleetSummary
	for _, t := range trucks {
		countAsset(&s.Trucks, t.Status)
		s.TotalMileage += t.Mileage
	}
	return s
}

func SummarizeMachinery(machinery []core.Machinery) MachinerySummary {
	s := MachinerySummary{TotalHours: decimal.Zero}
	for _, m := range machinery {
		countAsset(&s.Machinery, m.Status)
		s.TotalHours = s.TotalHours.Add(m.Hours)
	}
	return s
}

func SummarizeDrivers(drivers []core.Driver) DriverSummary {
	var s DriverSummary
	for _, d := range drivers {
		s.Drivers.Total++
		switch d.Status {
		case core.DriverActive:
			s.Drivers.Active++
		case core.DriverInactive:
			s.Drivers.Inactive++
		case core.DriverSuspended:
			s.Drivers.Suspended++
		}
	}
	return s
}

// SummarizeTrips reports distance and fuel over completed trips. The average
// consumption is total fuel over total km of trips that recorded fuel.
func SummarizeTrips(trips []core.Trip) TripSummary {
	s := TripSummary{TotalFuel: decimal.Zero, AverageConsumption: decimal.Zero}
	var fueledKm int64
	for _, t := range trips {
		switch t.Status {
		case core.InProgress:
			s.Active++
		case core.Completed:
			s.Completed++
			km := derived.KmTraveled(t.StartKm, t.EndKm)
			s.TotalKm += km
			if t.FuelLiters != nil {
				s.TotalFuel = s.TotalFuel.Add(*t.FuelLiters)
				fueledKm += km
			}
		}
	}
	if s.TotalKm > 0 {
		s.KmPerTrip = AverageKm(s.TotalKm, s.Completed)
	}
	s.AverageConsumption = derived.FuelConsumption(s.TotalFuel, fueledKm)
	return s
}

func SummarizeRentals(rentals []core.Rental) RentalSummary {
	s := RentalSummary{TotalHours: decimal.Zero, TotalValue: decimal.Zero}
	for _, r := range rentals {
		switch r.Status {
		case core.InProgress:
			s.Active++
		case core.Completed:
			s.Completed++
			m := derived.Rental(r)
			s.TotalHours = s.TotalHours.Add(m.TotalHours)
			s.EffectiveHours += m.EffectiveHours
			s.TotalValue = s.TotalValue.Add(m.TotalValue)
		}
	}
	return s
}
