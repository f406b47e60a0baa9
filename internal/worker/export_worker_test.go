package worker

import (
	"context"
	"errors"
	"testing"

	"frota/internal/amqp"
	"frota/internal/sheets"
	"frota/internal/sheets/memory"
)

type failingLedger struct {
	*memory.Ledger
	err error
}

func (f *failingLedger) AppendRow(context.Context, string, []any) (string, error) {
	return "", f.err
}

func TestHandleEvent(t *testing.T) {
	tests := []struct {
		name  string
		event *amqp.Event
		sheet string
		col   int
		want  string
	}{
		{
			name: "trip",
			event: amqp.NewEvent(amqp.TripCompleted, "acct", "trips", "t1", []byte(`{"truckPlate":"ABC1D23","driverName":"João",
				"startLocation":"Campinas","endLocation":"Santos","startKm":150000,"endKm":150500,"startDate":"2024-06-14",
				"startTime":"08:00","endDate":"2024-06-15","endTime":"18:00","fuelLiters":"200","status":"completed"}`)),
			sheet: sheets.SheetTrips,
			col:   12,
			want:  "0.4",
		},
		{
			name: "rental",
			event: amqp.NewEvent(amqp.RentalCompleted, "acct", "rentals", "r1", []byte(`{"machinerySerial":"CAT-1",
				"initialHours":"1500.5","finalHours":"1600.5","date":"2024-01-01","endDate":"2024-01-05","hourlyRate":"150","status":"completed"}`)),
			sheet: sheets.SheetRentals,
			col:   12,
			want:  "15000.00",
		},
		{
			name: "transaction",
			event: amqp.NewEvent(amqp.TransactionCreated, "acct", "transactions", "x1", []byte(`{"type":"despesa",
				"description":"Diesel","amount":"1200.5","date":"2024-06-11","category":"Combustível","truckId":"t1"}`)),
			sheet: sheets.SheetTransactions,
			col:   6,
			want:  "1200.50",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := memory.New()
			w := NewExportWorker(ledger, nil)
			if err := w.HandleEvent(context.Background(), tt.event); err != nil {
				t.Fatalf("handle: %v", err)
			}
			rows, _ := ledger.ReadRows(context.Background(), tt.sheet)
			if len(rows) != 2 {
				t.Fatalf("expected header and one row, got %v", rows)
			}
			if rows[0][0] != "Conta" {
				t.Errorf("header = %v", rows[0])
			}
			if len(rows[1]) != len(sheets.Headers[tt.sheet]) {
				t.Errorf("row has %d columns, header %d", len(rows[1]), len(sheets.Headers[tt.sheet]))
			}
			if got := rows[1][tt.col]; got != tt.want {
				t.Errorf("column %d = %q, want %q", tt.col, got, tt.want)
			}
		})
	}
}

func TestHandleEventDropsUnreadable(t *testing.T) {
	ledger := memory.New()
	w := NewExportWorker(ledger, nil)
	for _, ev := range []*amqp.Event{
		amqp.NewEvent(amqp.TripCompleted, "acct", "trips", "t1", nil),
		amqp.NewEvent(amqp.TripCompleted, "acct", "trips", "t1", []byte(`{"startKm":"many"}`)),
		amqp.NewEvent("truck.washed", "acct", "trucks", "t1", []byte(`{}`)),
	} {
		if err := w.HandleEvent(context.Background(), ev); err != nil {
			t.Errorf("unreadable event must be acknowledged, got %v", err)
		}
	}
	if rows, _ := ledger.ReadRows(context.Background(), sheets.SheetTrips); len(rows) != 0 {
		t.Errorf("nothing should be written, got %v", rows)
	}
}

func TestHandleEventLedgerFailure(t *testing.T) {
	boom := errors.New("quota exceeded")
	w := NewExportWorker(&failingLedger{Ledger: memory.New(), err: boom}, nil)
	ev := amqp.NewEvent(amqp.TransactionCreated, "acct", "transactions", "x1",
		[]byte(`{"type":"receita","description":"Frete","amount":"10","date":"2024-06-01","category":"Frete"}`))
	if err := w.HandleEvent(context.Background(), ev); !errors.Is(err, boom) {
		t.Fatalf("expected ledger error for retry, got %v", err)
	}
}

func TestEnsureHeaders(t *testing.T) {
	ledger := memory.New()
	if err := NewExportWorker(ledger, nil).EnsureHeaders(context.Background()); err != nil {
		t.Fatal(err)
	}
	for sheet := range sheets.Headers {
		if rows, _ := ledger.ReadRows(context.Background(), sheet); len(rows) != 1 {
			t.Errorf("%s: rows = %v", sheet, rows)
		}
	}
}
