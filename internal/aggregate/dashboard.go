package aggregate

import (
	"time"

	"frota/internal/core"
	"frota/internal/derived"
	"frota/internal/filter"

	"github.com/shopspring/decimal"
)

// Records is one account's view of every collection at a point in time.
type Records struct {
	Trucks       []core.Truck
	Machinery    []core.Machinery
	Drivers      []core.Driver
	Trips        []core.Trip
	Rentals      []core.Rental
	Transactions []core.Transaction
}

type Dashboard struct {
	Period           filter.Period `json:"period"`
	Totals           Totals        `json:"totals"`
	Trucks           int           `json:"trucks"`
	ActiveTrucks     int           `json:"activeTrucks"`
	Drivers          int           `json:"drivers"`
	ActiveDrivers    int           `json:"activeDrivers"`
	Machinery        int           `json:"machinery"`
	ActiveMachinery  int           `json:"activeMachinery"`
	ActiveTrips      int           `json:"activeTrips"`
	CompletedTrips   int           `json:"completedTrips"`
	TotalKm          int64         `json:"totalKm"`
	KmPerTrip        int64         `json:"kmPerTrip"`
	ActiveRentals    int           `json:"activeRentals"`
	CompletedRentals int           `json:"completedRentals"`
}

// AverageKm divides total distance by the number of trips, treating zero
// trips as one.
func AverageKm(totalKm int64, trips int) int64 {
	if trips < 1 {
		trips = 1
	}
	return decimal.NewFromInt(totalKm).Div(decimal.NewFromInt(int64(trips))).Round(0).IntPart()
}

// BuildDashboard computes the KPI cards. Money totals honour the whole
// criteria; trip counts honour truck and driver only, as do the asset counts.
func BuildDashboard(now time.Time, c filter.Criteria, r Records) Dashboard {
	d := Dashboard{
		Period: filter.ParsePeriod(string(c.Period)),
		Totals: PeriodTotals(now, c, r.Transactions),
	}

	for _, t := range r.Trucks {
		if c.TruckID != "" && t.ID != c.TruckID {
			continue
		}
		d.Trucks++
		if t.Status == core.AssetActive {
			d.ActiveTrucks++
		}
	}
	for _, dr := range r.Drivers {
		if c.DriverID != "" && dr.ID != c.DriverID {
			continue
		}
		d.Drivers++
		if dr.Status == core.DriverActive {
			d.ActiveDrivers++
		}
	}
	for _, m := range r.Machinery {
		d.Machinery++
		if m.Status == core.AssetActive {
			d.ActiveMachinery++
		}
	}

	trips := filter.Criteria{TruckID: c.TruckID, DriverID: c.DriverID}.Trips(now, r.Trips)
	for _, tr := range trips {
		switch tr.Status {
		case core.InProgress:
			d.ActiveTrips++
		case core.Completed:
			d.CompletedTrips++
			d.TotalKm += derived.KmTraveled(tr.StartKm, tr.EndKm)
		}
	}
	if d.TotalKm > 0 {
		d.KmPerTrip = AverageKm(d.TotalKm, d.CompletedTrips)
	}

	for _, rn := range r.Rentals {
		switch rn.Status {
		case core.InProgress:
			d.ActiveRentals++
		case core.Completed:
			d.CompletedRentals++
		}
	}
	return d
}
