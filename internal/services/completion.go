package services

import (
	"context"

	"frota/internal/amqp"
	"frota/internal/lifecycle"
	"frota/internal/metrics"
	"frota/internal/store"
)

func mode(out lifecycle.Outcome) string {
	if out.Atomic {
		return "atomic"
	}
	return "two_step"
}

// CompleteTrip closes the trip, rolls its odometer reading onto the truck
// and publishes trip.completed.
func (s *FleetService) CompleteTrip(ctx context.Context, account, id string, in lifecycle.TripCompletion) (lifecycle.Outcome, error) {
	out, err := s.completer.CompleteTrip(ctx, account, id, in)
	metrics.Completions.WithLabelValues(string(store.Trips), mode(out), metrics.Result(err)).Inc()
	if err != nil {
		return out, err
	}
	s.announce(ctx, amqp.TripCompleted, account, store.Trips, id)
	return out, nil
}

// CompleteRental closes the rental, rolls its hour meter reading onto the
// machinery and publishes rental.completed.
func (s *FleetService) CompleteRental(ctx context.Context, account, id string, in lifecycle.RentalCompletion) (lifecycle.Outcome, error) {
	out, err := s.completer.CompleteRental(ctx, account, id, in)
	metrics.Completions.WithLabelValues(string(store.Rentals), mode(out), metrics.Result(err)).Inc()
	if err != nil {
		return out, err
	}
	s.announce(ctx, amqp.RentalCompleted, account, store.Rentals, id)
	return out, nil
}

// announce publishes the record as stored after the change.
func (s *FleetService) announce(ctx context.Context, t amqp.EventType, account string, c store.Collection, id string) {
	doc, err := s.store.Get(ctx, account, c, id)
	if err != nil {
		s.logger.WarnContext(ctx, "Completed record not readable for event", "error", err)
		return
	}
	data, err := store.WithID(doc)
	if err != nil {
		return
	}
	s.publish(ctx, amqp.NewEvent(t, account, string(c), id, data))
}
