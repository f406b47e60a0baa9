package derived

import (
	"testing"

	"frota/internal/core"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

func TestTripMetrics(t *testing.T) {
	tests := []struct {
		name        string
		trip        core.Trip
		km          int64
		consumption string
	}{
		{
			name: "completed trip",
			trip: core.Trip{StartKm: 150000, EndKm: ptr(int64(150500)), FuelLiters: ptr(dec("200"))},
			km:   500, consumption: "0.400",
		},
		{
			name: "in progress",
			trip: core.Trip{StartKm: 150000},
			km:   0, consumption: "0",
		},
		{
			name: "end before start",
			trip: core.Trip{StartKm: 100, EndKm: ptr(int64(90)), FuelLiters: ptr(dec("5"))},
			km:   0, consumption: "0",
		},
		{
			name: "rounds to three places",
			trip: core.Trip{StartKm: 0, EndKm: ptr(int64(3)), FuelLiters: ptr(dec("1"))},
			km:   3, consumption: "0.333",
		},
		{
			name: "no fuel recorded",
			trip: core.Trip{StartKm: 0, EndKm: ptr(int64(10))},
			km:   10, consumption: "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Trip(tt.trip)
			if m.KmTraveled != tt.km {
				t.Errorf("km = %d, want %d", m.KmTraveled, tt.km)
			}
			if !m.FuelConsumption.Equal(dec(tt.consumption)) {
				t.Errorf("consumption = %s, want %s", m.FuelConsumption, tt.consumption)
			}
		})
	}
}

func TestTripDuration(t *testing.T) {
	trip := core.Trip{StartDate: "2024-03-01", StartTime: "08:00", EndDate: "2024-03-02", EndTime: "10:20"}
	d := TripDuration(trip)
	if !d.Hours.Equal(dec("26.33")) {
		t.Errorf("hours = %s", d.Hours)
	}
	if !d.Days.Equal(dec("1.1")) {
		t.Errorf("days = %s", d.Days)
	}

	trip.EndTime = ""
	if d := TripDuration(trip); !d.Hours.IsZero() || !d.Days.IsZero() {
		t.Errorf("expected zero duration without end time, got %+v", d)
	}
}

func TestRentalMetrics(t *testing.T) {
	r := core.Rental{
		InitialHours: dec("1500.5"),
		FinalHours:   ptr(dec("1650.5")),
		HourlyRate:   dec("150.00"),
		Date:         "2024-01-01",
		EndDate:      "2024-01-05",
	}
	m := Rental(r)
	if !m.TotalHours.Equal(dec("150")) {
		t.Errorf("totalHours = %s", m.TotalHours)
	}
	if m.WorkingDays != 5 || m.EffectiveHours != 40 {
		t.Errorf("days = %d effective = %d", m.WorkingDays, m.EffectiveHours)
	}
	if !m.TotalValue.Equal(dec("22500.00")) {
		t.Errorf("totalValue = %s", m.TotalValue)
	}

	r.FinalHours = ptr(dec("1600.5"))
	m = Rental(r)
	if !m.TotalHours.Equal(dec("100.0")) || !m.TotalValue.Equal(dec("15000.00")) {
		t.Errorf("got hours %s value %s", m.TotalHours, m.TotalValue)
	}

	r.FinalHours = nil
	m = Rental(r)
	if !m.TotalHours.IsZero() || m.WorkingDays != 0 || m.EffectiveHours != 0 || !m.TotalValue.IsZero() {
		t.Errorf("expected zero metrics for open rental, got %+v", m)
	}
}

func TestWorkingDays(t *testing.T) {
	cases := []struct {
		start, end string
		want       int
	}{
		{"2024-01-01", "2024-01-05", 5},
		{"2024-01-01", "2024-01-01", 1},
		{"2024-01-01", "", 1},
		{"2023-12-31", "2024-01-01", 2},
		{"2024-02-28", "2024-03-01", 3},
		{"2024-01-05", "2024-01-01", 1},
		{"2024-01-01T23:00:00-03:00", "2024-01-02", 1},
	}
	for _, tc := range cases {
		if got := WorkingDays(tc.start, tc.end); got != tc.want {
			t.Errorf("WorkingDays(%s, %s) = %d, want %d", tc.start, tc.end, got, tc.want)
		}
	}
}
