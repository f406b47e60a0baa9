// Package worker turns lifecycle events into ledger rows.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"frota/internal/amqp"
	"frota/internal/core"
	"frota/internal/derived"
	"frota/internal/log"
	"frota/internal/metrics"
	"frota/internal/sheets"
)

// ExportWorker appends one ledger row per completed trip, completed rental
// and created transaction.
type ExportWorker struct {
	ledger sheets.LedgerWriter
	logger *log.Logger

	mu      sync.Mutex
	headers map[string]bool
}

func NewExportWorker(ledger sheets.LedgerWriter, logger *log.Logger) *ExportWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ExportWorker{
		ledger:  ledger,
		logger:  logger.WithComponent(log.ComponentWorker),
		headers: make(map[string]bool),
	}
}

// EnsureHeaders writes the header row of every ledger sheet that lacks one.
// Run it at startup so the first rows land under their titles.
func (w *ExportWorker) EnsureHeaders(ctx context.Context) error {
	for _, sheet := range []string{sheets.SheetTrips, sheets.SheetRentals, sheets.SheetTransactions} {
		if err := w.ensureHeader(ctx, sheet); err != nil {
			return err
		}
	}
	return nil
}

func (w *ExportWorker) ensureHeader(ctx context.Context, sheet string) error {
	w.mu.Lock()
	done := w.headers[sheet]
	w.mu.Unlock()
	if done {
		return nil
	}
	if err := w.ledger.EnsureHeader(ctx, sheet, sheets.Headers[sheet]); err != nil {
		return fmt.Errorf("ensure header of %s: %w", sheet, err)
	}
	w.mu.Lock()
	w.headers[sheet] = true
	w.mu.Unlock()
	return nil
}

// HandleEvent exports ev. Events whose payload cannot be read are logged and
// acknowledged; ledger failures are returned so the message is retried.
func (w *ExportWorker) HandleEvent(ctx context.Context, ev *amqp.Event) error {
	fields := log.NewFields().
		WithRecord(ev.AccountID, ev.Collection, ev.ID)
	fields[log.FieldEventType] = ev.Type

	sheet, row, err := Row(ev)
	if err != nil {
		w.logger.WarnContext(ctx, "Dropping unreadable event", fields.WithError(err).ToSlice()...)
		metrics.Events.WithLabelValues(string(ev.Type), "dropped").Inc()
		return nil
	}

	if err := w.ensureHeader(ctx, sheet); err != nil {
		metrics.LedgerRows.WithLabelValues(sheet, metrics.Result(err)).Inc()
		return err
	}
	ref, err := w.ledger.AppendRow(ctx, sheet, row)
	metrics.LedgerRows.WithLabelValues(sheet, metrics.Result(err)).Inc()
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to append ledger row", fields.WithError(err).ToSlice()...)
		return fmt.Errorf("append to %s: %w", sheet, err)
	}

	fields["sheets_ref"] = ref
	w.logger.InfoContext(ctx, "Event exported to ledger", fields.ToSlice()...)
	return nil
}

// Row maps an event to its ledger sheet and row values, in the column order
// of sheets.Headers.
func Row(ev *amqp.Event) (string, []any, error) {
	if len(ev.Data) == 0 {
		return "", nil, fmt.Errorf("event %s %s has no data", ev.Type, ev.ID)
	}
	switch ev.Type {
	case amqp.TripCompleted:
		var t core.Trip
		if err := json.Unmarshal(ev.Data, &t); err != nil {
			return "", nil, fmt.Errorf("decode trip: %w", err)
		}
		m := derived.Trip(t)
		endKm, fuel := "", ""
		if t.EndKm != nil {
			endKm = strconv.FormatInt(*t.EndKm, 10)
		}
		if t.FuelLiters != nil {
			fuel = t.FuelLiters.String()
		}
		return sheets.SheetTrips, []any{
			ev.AccountID, ev.ID, t.TruckPlate, t.DriverName, t.StartLocation, t.EndLocation,
			t.StartDate, t.EndDate, strconv.FormatInt(t.StartKm, 10), endKm,
			strconv.FormatInt(m.KmTraveled, 10), fuel, m.FuelConsumption.String(),
		}, nil

	case amqp.RentalCompleted:
		var r core.Rental
		if err := json.Unmarshal(ev.Data, &r); err != nil {
			return "", nil, fmt.Errorf("decode rental: %w", err)
		}
		m := derived.Rental(r)
		final := ""
		if r.FinalHours != nil {
			final = r.FinalHours.String()
		}
		return sheets.SheetRentals, []any{
			ev.AccountID, ev.ID, r.MachinerySerial, r.DriverName, r.StartLocation, r.Date, r.EndDate,
			r.InitialHours.String(), final, m.TotalHours.String(), strconv.Itoa(m.WorkingDays),
			r.HourlyRate.String(), m.TotalValue.StringFixed(2),
		}, nil

	case amqp.TransactionCreated:
		var tx core.Transaction
		if err := json.Unmarshal(ev.Data, &tx); err != nil {
			return "", nil, fmt.Errorf("decode transaction: %w", err)
		}
		return sheets.SheetTransactions, []any{
			ev.AccountID, ev.ID, tx.Date, string(tx.Type), tx.Category, tx.Description,
			tx.Amount.StringFixed(2), tx.TruckID, tx.TripID,
		}, nil
	}
	return "", nil, fmt.Errorf("unknown event type %q", ev.Type)
}
