// Package lifecycle moves trips and rentals from in_progress to completed
// and rolls the end reading onto the truck mileage or machinery hours.
//
// Backends implementing store.Transactor apply both writes atomically.
// Other backends get a two-step write where a failed counter write restores
// the child record; if that restore also fails the caller receives a
// core.PartialCompletionError.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"frota/internal/core"
	"frota/internal/derived"
	"frota/internal/log"
	"frota/internal/store"

	"github.com/shopspring/decimal"
)

var transitions = map[core.Status][]core.Status{
	core.InProgress: {core.Completed},
}

// CanTransition reports whether a record may move from one status to
// another. Completed is terminal.
func CanTransition(from, to core.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type TripCompletion struct {
	EndLocation string           `json:"endLocation"`
	EndKm       int64            `json:"endKm"`
	EndDate     string           `json:"endDate,omitempty"`
	EndTime     string           `json:"endTime,omitempty"`
	FuelLiters  *decimal.Decimal `json:"fuelLiters,omitempty"`
}

type RentalCompletion struct {
	EndLocation string          `json:"endLocation"`
	FinalHours  decimal.Decimal `json:"finalHours"`
	EndDate     string          `json:"endDate,omitempty"`
}

// Outcome describes a finished completion.
type Outcome struct {
	CounterUpdated bool `json:"counterUpdated"`
	// Atomic is false when the backend had no transactions and the
	// two-step write was used.
	Atomic bool `json:"atomic"`
}

type Completer struct {
	store  store.Store
	now    func() time.Time
	logger *log.Logger
}

func NewCompleter(s store.Store, logger *log.Logger) *Completer {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Completer{store: s, now: time.Now, logger: logger.WithComponent(log.ComponentLifecycle)}
}

// CompleteTrip closes a trip. EndKm must exceed the trip's StartKm. A
// missing end date or time is taken from the current clock.
func (c *Completer) CompleteTrip(ctx context.Context, account, tripID string, in TripCompletion) (Outcome, error) {
	doc, err := c.store.Get(ctx, account, store.Trips, tripID)
	if err != nil {
		return Outcome{}, err
	}
	var trip core.Trip
	if err := json.Unmarshal(doc.Data, &trip); err != nil {
		return Outcome{}, core.NewStoreError("get", string(store.Trips), fmt.Errorf("decode trip: %w", err))
	}
	if !CanTransition(trip.Status, core.Completed) {
		return Outcome{}, &core.InvalidStateError{Collection: string(store.Trips), ID: tripID, Status: trip.Status}
	}
	if in.EndKm <= trip.StartKm {
		return Outcome{}, &core.ValidationError{Field: "endKm", Reason: "must be greater than startKm"}
	}
	if in.FuelLiters != nil && in.FuelLiters.IsNegative() {
		return Outcome{}, &core.ValidationError{Field: "fuelLiters", Reason: "must not be negative"}
	}

	now := c.now()
	endDate, endTime := in.EndDate, in.EndTime
	if endDate == "" {
		endDate = now.Format(core.DateLayout)
	}
	if endTime == "" {
		endTime = now.Format(core.TimeLayout)
	}
	if _, err := core.ParseDateTime(endDate, endTime); err != nil {
		return Outcome{}, &core.ValidationError{Field: "endDate", Reason: "invalid date or time"}
	}

	patch := map[string]any{
		store.KeyStatus: core.Completed,
		"endKm":         in.EndKm,
		"endDate":       endDate,
		"endTime":       endTime,
	}
	if in.EndLocation != "" {
		patch["endLocation"] = in.EndLocation
	}
	if in.FuelLiters != nil {
		patch["fuelLiters"] = *in.FuelLiters
		patch["fuelConsumption"] = derived.FuelConsumption(*in.FuelLiters, derived.KmTraveled(trip.StartKm, &in.EndKm))
	}

	return c.complete(ctx, account, doc, store.Completion{
		Child:      store.Trips,
		ChildID:    tripID,
		ChildPatch: patch,
		Parent:     store.Trucks,
		ParentID:   trip.TruckID,
		Field:      "mileage",
		Reading:    decimal.NewFromInt(in.EndKm),
		Value:      in.EndKm,
	})
}

// CompleteRental closes a rental. FinalHours must exceed InitialHours. A
// missing end date is today.
func (c *Completer) CompleteRental(ctx context.Context, account, rentalID string, in RentalCompletion) (Outcome, error) {
	doc, err := c.store.Get(ctx, account, store.Rentals, rentalID)
	if err != nil {
		return Outcome{}, err
	}
	var rental core.Rental
	if err := json.Unmarshal(doc.Data, &rental); err != nil {
		return Outcome{}, core.NewStoreError("get", string(store.Rentals), fmt.Errorf("decode rental: %w", err))
	}
	if !CanTransition(rental.Status, core.Completed) {
		return Outcome{}, &core.InvalidStateError{Collection: string(store.Rentals), ID: rentalID, Status: rental.Status}
	}
	if in.FinalHours.LessThanOrEqual(rental.InitialHours) {
		return Outcome{}, &core.ValidationError{Field: "finalHours", Reason: "must be greater than initialHours"}
	}

	endDate := in.EndDate
	if endDate == "" {
		endDate = c.now().Format(core.DateLayout)
	}
	if _, err := core.ParseDate(endDate); err != nil {
		return Outcome{}, &core.ValidationError{Field: "endDate", Reason: "invalid date"}
	}

	patch := map[string]any{
		store.KeyStatus: core.Completed,
		"finalHours":    in.FinalHours,
		"endDate":       endDate,
	}
	if in.EndLocation != "" {
		patch["endLocation"] = in.EndLocation
	}

	return c.complete(ctx, account, doc, store.Completion{
		Child:      store.Rentals,
		ChildID:    rentalID,
		ChildPatch: patch,
		Parent:     store.Machinery,
		ParentID:   rental.MachineryID,
		Field:      "hours",
		Reading:    in.FinalHours,
		Value:      in.FinalHours,
	})
}

func (c *Completer) complete(ctx context.Context, account string, prior store.Document, comp store.Completion) (Outcome, error) {
	fields := log.NewFields().
		WithRecord(account, string(comp.Child), comp.ChildID).
		WithOperation(log.OpComplete)
	fields[log.FieldParentID] = comp.ParentID
	fields[log.FieldReading] = comp.Reading.String()

	if tx, ok := c.store.(store.Transactor); ok {
		res, err := tx.Complete(ctx, account, comp)
		if err != nil {
			c.logger.WarnContext(ctx, "Completion rejected", fields.WithError(err).ToSlice()...)
			return Outcome{}, err
		}
		fields["counter_updated"] = res.CounterUpdated
		c.logger.InfoContext(ctx, "Record completed", fields.ToSlice()...)
		return Outcome{CounterUpdated: res.CounterUpdated, Atomic: true}, nil
	}

	out, err := c.twoStep(ctx, account, prior, comp)
	if err != nil {
		c.logger.ErrorContext(ctx, "Completion failed", fields.WithError(err).ToSlice()...)
		return Outcome{}, err
	}
	fields["counter_updated"] = out.CounterUpdated
	c.logger.InfoContext(ctx, "Record completed without transaction", fields.ToSlice()...)
	return out, nil
}

// twoStep writes the child, then the parent counter. A parent failure puts
// the child's prior document back.
func (c *Completer) twoStep(ctx context.Context, account string, prior store.Document, comp store.Completion) (Outcome, error) {
	if err := c.store.Update(ctx, account, comp.Child, comp.ChildID, comp.ChildPatch); err != nil {
		return Outcome{}, err
	}

	parent, err := c.store.Get(ctx, account, comp.Parent, comp.ParentID)
	if errors.Is(err, core.ErrNotFound) {
		c.logger.WarnContext(ctx, "Parent asset not found, counter left untouched",
			log.FieldCollection, comp.Parent,
			log.FieldParentID, comp.ParentID)
		return Outcome{}, nil
	}
	if err == nil {
		var m map[string]any
		m, err = store.Decode(parent.Data)
		if err == nil {
			if !comp.Reading.GreaterThan(store.DecimalOf(m[comp.Field])) {
				return Outcome{}, nil
			}
			err = c.store.Update(ctx, account, comp.Parent, comp.ParentID, map[string]any{comp.Field: comp.Value})
		}
	}
	if err == nil {
		return Outcome{CounterUpdated: true}, nil
	}

	if restoreErr := c.store.Put(ctx, account, comp.Child, comp.ChildID, prior.Data); restoreErr != nil {
		return Outcome{}, &core.PartialCompletionError{
			Collection: string(comp.Child),
			ID:         comp.ChildID,
			Err:        err,
			RestoreErr: restoreErr,
		}
	}
	return Outcome{}, core.NewStoreError("complete", string(comp.Parent), err)
}
