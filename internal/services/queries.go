package services

import (
	"context"

	"frota/internal/aggregate"
	"frota/internal/core"
	"frota/internal/derived"
	"frota/internal/filter"

	"golang.org/x/sync/errgroup"
)

// LoadRecords reads every collection of the account concurrently. An empty
// account yields empty collections.
func (s *FleetService) LoadRecords(ctx context.Context, account string) (aggregate.Records, error) {
	var r aggregate.Records
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { r.Trucks, err = s.ListTrucks(gctx, account); return })
	g.Go(func() (err error) { r.Machinery, err = s.ListMachinery(gctx, account); return })
	g.Go(func() (err error) { r.Drivers, err = s.ListDrivers(gctx, account); return })
	g.Go(func() (err error) { r.Trips, err = s.ListTrips(gctx, account); return })
	g.Go(func() (err error) { r.Rentals, err = s.ListRentals(gctx, account); return })
	g.Go(func() (err error) { r.Transactions, err = s.ListTransactions(gctx, account); return })
	if err := g.Wait(); err != nil {
		return aggregate.Records{}, err
	}
	return r, nil
}

func (s *FleetService) Dashboard(ctx context.Context, account string, c filter.Criteria) (aggregate.Dashboard, error) {
	r, err := s.LoadRecords(ctx, account)
	if err != nil {
		return aggregate.Dashboard{}, err
	}
	return aggregate.BuildDashboard(s.now(), c, r), nil
}

type FinanceSeries struct {
	Period  filter.Period           `json:"period"`
	Totals  aggregate.Totals        `json:"totals"`
	Monthly []aggregate.MonthBucket `json:"monthly"`
}

// Finance returns the period totals and the monthly chart series for the
// criteria.
func (s *FleetService) Finance(ctx context.Context, account string, c filter.Criteria) (FinanceSeries, error) {
	txs, err := s.ListTransactions(ctx, account)
	if err != nil {
		return FinanceSeries{}, err
	}
	now := s.now()
	return FinanceSeries{
		Period:  filter.ParsePeriod(string(c.Period)),
		Totals:  aggregate.PeriodTotals(now, c, txs),
		Monthly: aggregate.MonthlySeries(now, c, txs),
	}, nil
}

// CurrentMonth totals the transactions of the running calendar month.
func (s *FleetService) CurrentMonth(ctx context.Context, account string) (aggregate.Totals, error) {
	txs, err := s.ListTransactions(ctx, account)
	if err != nil {
		return aggregate.Totals{}, err
	}
	return aggregate.CurrentMonth(s.now(), txs), nil
}

type TripView struct {
	core.Trip
	Metrics  derived.TripMetrics `json:"metrics"`
	Duration derived.Duration    `json:"duration"`
}

func (s *FleetService) TripMetrics(ctx context.Context, account, id string) (TripView, error) {
	t, err := s.GetTrip(ctx, account, id)
	if err != nil {
		return TripView{}, err
	}
	return TripView{Trip: t, Metrics: derived.Trip(t), Duration: derived.TripDuration(t)}, nil
}

type RentalView struct {
	core.Rental
	Metrics derived.RentalMetrics `json:"metrics"`
}

func (s *FleetService) RentalMetrics(ctx context.Context, account, id string) (RentalView, error) {
	r, err := s.GetRental(ctx, account, id)
	if err != nil {
		return RentalView{}, err
	}
	return RentalView{Rental: r, Metrics: derived.Rental(r)}, nil
}
