package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"frota/internal/amqp"
	"frota/internal/core"
	"frota/internal/filter"
	"frota/internal/lifecycle"
	"frota/internal/store"
	"frota/internal/store/memory"

	"github.com/shopspring/decimal"
)

const acct = "acct"

type fakePublisher struct {
	mu     sync.Mutex
	events []*amqp.Event
	err    error
}

func (p *fakePublisher) PublishEvent(_ context.Context, ev *amqp.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func newService(t *testing.T) (*FleetService, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	s := NewFleetService(memory.New(), pub, nil)
	s.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	return s, pub
}

func mustTruck(t *testing.T, s *FleetService) core.Truck {
	t.Helper()
	truck, err := s.CreateTruck(context.Background(), acct, core.Truck{
		Plate: "abc1d23", Brand: "Volvo", Model: "FH 540", Year: 2021, Status: core.AssetActive, Mileage: 150000,
	})
	if err != nil {
		t.Fatalf("create truck: %v", err)
	}
	return truck
}

func mustDriver(t *testing.T, s *FleetService, cpf string) core.Driver {
	t.Helper()
	d, err := s.CreateDriver(context.Background(), acct, core.Driver{
		Name: "João Silva", CPF: cpf, CNHNumber: "123", CNHCategory: "E", CNHExpiry: "2027-01-01", Status: core.DriverActive,
	})
	if err != nil {
		t.Fatalf("create driver: %v", err)
	}
	return d
}

func TestCreateTruckNormalizesPlate(t *testing.T) {
	s, _ := newService(t)
	truck := mustTruck(t, s)
	if truck.ID == "" {
		t.Fatal("expected id")
	}
	got, err := s.GetTruck(context.Background(), acct, truck.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Plate != "ABC1D23" || got.Mileage != 150000 {
		t.Errorf("unexpected truck %+v", got)
	}
}

func TestCreateValidation(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"truck without plate", func() error {
			_, err := s.CreateTruck(ctx, acct, core.Truck{Brand: "x", Model: "y", Year: 2020, Status: core.AssetActive})
			return err
		}},
		{"truck with unknown status", func() error {
			_, err := s.CreateTruck(ctx, acct, core.Truck{Plate: "a", Brand: "x", Model: "y", Year: 2020, Status: "parked"})
			return err
		}},
		{"transaction with negative amount", func() error {
			_, err := s.CreateTransaction(ctx, acct, core.Transaction{
				Type: core.Expense, Description: "diesel", Amount: decimal.NewFromInt(-1), Date: "2024-06-01", Category: "Combustível",
			})
			return err
		}},
		{"transaction with foreign category", func() error {
			_, err := s.CreateTransaction(ctx, acct, core.Transaction{
				Type: core.Revenue, Description: "frete", Amount: decimal.NewFromInt(10), Date: "2024-06-01", Category: "Combustível",
			})
			return err
		}},
		{"trip with unknown truck", func() error {
			_, err := s.CreateTrip(ctx, acct, core.Trip{
				TruckID: "nope", DriverID: "nope", StartLocation: "A", StartKm: 1, StartDate: "2024-06-01", StartTime: "08:00",
			})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, core.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDriverCPFDuplicate(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	first := mustDriver(t, s, "123.456.789-01")
	other := mustDriver(t, s, "98765432100")

	_, err := s.CreateDriver(ctx, acct, core.Driver{
		Name: "Outro", CPF: "12345678901", CNHNumber: "9", CNHCategory: "D", CNHExpiry: "2026-01-01", Status: core.DriverActive,
	})
	var dup *core.DuplicateError
	if !errors.As(err, &dup) || dup.Value != "12345678901" {
		t.Fatalf("expected duplicate CPF error, got %v", err)
	}

	if _, err := s.UpdateDriver(ctx, acct, other.ID, map[string]any{"cpf": "123.456.789-01"}); !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("update onto an existing CPF must fail, got %v", err)
	}
	if _, err := s.UpdateDriver(ctx, acct, first.ID, map[string]any{"cpf": "12345678901", "phone": "11 99999-0000"}); err != nil {
		t.Fatalf("keeping own CPF must be allowed: %v", err)
	}

	// another account may register the same CPF
	if _, err := s.CreateDriver(ctx, "other-acct", core.Driver{
		Name: "Outro", CPF: "12345678901", CNHNumber: "9", CNHCategory: "D", CNHExpiry: "2026-01-01", Status: core.DriverActive,
	}); err != nil {
		t.Fatalf("CPF uniqueness is per account: %v", err)
	}
}

func TestTripSnapshotFieldsAndCompletion(t *testing.T) {
	s, pub := newService(t)
	ctx := context.Background()
	truck := mustTruck(t, s)
	driver := mustDriver(t, s, "12345678901")

	trip, err := s.CreateTrip(ctx, acct, core.Trip{
		TruckID: truck.ID, DriverID: driver.ID, StartLocation: "Campinas",
		StartKm: 150000, StartDate: "2024-06-14", StartTime: "08:00", Status: core.Completed,
	})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if trip.Status != core.InProgress {
		t.Errorf("new trips start in progress, got %s", trip.Status)
	}
	if trip.TruckPlate != "ABC1D23" || trip.DriverName != "João Silva" {
		t.Errorf("snapshot fields not copied: %+v", trip)
	}

	// renaming the driver later leaves the trip snapshot alone
	if _, err := s.UpdateDriver(ctx, acct, driver.ID, map[string]any{"name": "João S."}); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetTrip(ctx, acct, trip.ID); got.DriverName != "João Silva" {
		t.Errorf("snapshot must not follow the driver, got %q", got.DriverName)
	}

	if _, err := s.UpdateTrip(ctx, acct, trip.ID, map[string]any{"status": "completed"}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("status must only change through completion, got %v", err)
	}

	fuel := decimal.NewFromInt(200)
	out, err := s.CompleteTrip(ctx, acct, trip.ID, lifecycle.TripCompletion{EndKm: 150500, EndDate: "2024-06-15", EndTime: "18:00", FuelLiters: &fuel})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !out.CounterUpdated {
		t.Error("expected mileage rollup")
	}
	if got, _ := s.GetTruck(ctx, acct, truck.ID); got.Mileage != 150500 {
		t.Errorf("truck mileage = %d", got.Mileage)
	}

	view, err := s.TripMetrics(ctx, acct, trip.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Metrics.KmTraveled != 500 || !view.Metrics.FuelConsumption.Equal(decimal.RequireFromString("0.4")) {
		t.Errorf("unexpected metrics %+v", view.Metrics)
	}
	if !view.Duration.Hours.Equal(decimal.NewFromInt(34)) {
		t.Errorf("duration hours = %s, want 34", view.Duration.Hours)
	}

	types := pub.types()
	if len(types) != 1 || types[0] != amqp.TripCompleted {
		t.Fatalf("expected one trip.completed event, got %v", types)
	}
	if store.Field(pub.events[0].Data, "status") != "completed" || store.Field(pub.events[0].Data, "id") != trip.ID {
		t.Errorf("event payload %s", pub.events[0].Data)
	}
}

func TestRentalCompletionAndMetrics(t *testing.T) {
	s, pub := newService(t)
	ctx := context.Background()
	driver := mustDriver(t, s, "12345678901")
	machine, err := s.CreateMachinery(ctx, acct, core.Machinery{
		SerialNumber: "CAT-320", Brand: "Caterpillar", Model: "320", Year: 2019, Type: core.Excavator,
		Status: core.AssetActive, Hours: decimal.RequireFromString("1500.5"),
	})
	if err != nil {
		t.Fatal(err)
	}
	rental, err := s.CreateRental(ctx, acct, core.Rental{
		MachineryID: machine.ID, DriverID: driver.ID, StartLocation: "Obra 1",
		InitialHours: decimal.RequireFromString("1500.5"), Date: "2024-01-01", HourlyRate: decimal.RequireFromString("150.00"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if rental.MachinerySerial != "CAT-320" {
		t.Errorf("serial snapshot = %q", rental.MachinerySerial)
	}

	if _, err := s.CompleteRental(ctx, acct, rental.ID, lifecycle.RentalCompletion{
		FinalHours: decimal.RequireFromString("1600.5"), EndDate: "2024-01-05",
	}); err != nil {
		t.Fatal(err)
	}
	view, err := s.RentalMetrics(ctx, acct, rental.ID)
	if err != nil {
		t.Fatal(err)
	}
	m := view.Metrics
	if !m.TotalHours.Equal(decimal.NewFromInt(100)) || m.WorkingDays != 5 || m.EffectiveHours != 40 ||
		!m.TotalValue.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("unexpected rental metrics %+v", m)
	}
	if got, _ := s.GetMachinery(ctx, acct, machine.ID); !got.Hours.Equal(decimal.RequireFromString("1600.5")) {
		t.Errorf("machinery hours = %s", got.Hours)
	}
	if types := pub.types(); len(types) != 1 || types[0] != amqp.RentalCompleted {
		t.Errorf("events = %v", types)
	}
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	s, pub := newService(t)
	pub.err = errors.New("broker down")
	tx, err := s.CreateTransaction(context.Background(), acct, core.Transaction{
		Type: core.Revenue, Description: "Frete SP", Amount: decimal.NewFromInt(1000), Date: "2024-06-01", Category: "Frete",
	})
	if err != nil {
		t.Fatalf("publish errors must be swallowed, got %v", err)
	}
	if tx.ID == "" {
		t.Fatal("transaction not stored")
	}
}

func TestServiceWithoutPublisher(t *testing.T) {
	s := NewFleetService(memory.New(), nil, nil)
	if _, err := s.CreateTransaction(context.Background(), acct, core.Transaction{
		Type: core.Expense, Description: "Pedágio", Amount: decimal.NewFromInt(50), Date: "2024-06-01", Category: "Pedágio",
	}); err != nil {
		t.Fatal(err)
	}
}

func TestEmptyAccountReadsEmpty(t *testing.T) {
	s, _ := newService(t)
	trucks, err := s.ListTrucks(context.Background(), "")
	if err != nil || len(trucks) != 0 {
		t.Fatalf("expected empty list, got %v %v", trucks, err)
	}
	d, err := s.Dashboard(context.Background(), "", filter.Criteria{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Trucks != 0 || !d.Totals.Revenue.IsZero() {
		t.Errorf("unexpected dashboard %+v", d)
	}
}

func TestDashboardAndFinance(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	truck := mustTruck(t, s)
	add := func(typ core.TransactionType, amount int64, date, category, truckID string) {
		t.Helper()
		if _, err := s.CreateTransaction(ctx, acct, core.Transaction{
			Type: typ, Description: category, Amount: decimal.NewFromInt(amount), Date: date, Category: category, TruckID: truckID,
		}); err != nil {
			t.Fatal(err)
		}
	}
	add(core.Revenue, 5000, "2024-06-10", "Frete", truck.ID)
	add(core.Expense, 1200, "2024-06-11", "Combustível", truck.ID)
	add(core.Expense, 300, "2024-05-20", "Pedágio", "")
	add(core.Revenue, 999, "2023-01-01", "Outros", "")

	d, err := s.Dashboard(ctx, acct, filter.Criteria{Period: filter.Last30Days})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Totals.Revenue.Equal(decimal.NewFromInt(5000)) || !d.Totals.Expenses.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("30d totals = %+v", d.Totals)
	}
	if d.Trucks != 1 || d.ActiveTrucks != 1 {
		t.Errorf("truck counts = %d/%d", d.Trucks, d.ActiveTrucks)
	}

	f, err := s.Finance(ctx, acct, filter.Criteria{Period: filter.Last30Days, TruckID: truck.ID})
	if err != nil {
		t.Fatal(err)
	}
	if !f.Totals.Profit.Equal(decimal.NewFromInt(3800)) {
		t.Errorf("truck profit = %s", f.Totals.Profit)
	}
	if len(f.Monthly) != 2 {
		t.Fatalf("30d series has %d buckets, want 2", len(f.Monthly))
	}

	month, err := s.CurrentMonth(ctx, acct)
	if err != nil {
		t.Fatal(err)
	}
	if !month.Revenue.Equal(decimal.NewFromInt(5000)) || !month.Expenses.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("current month = %+v", month)
	}
}

func TestDeleteIsAlwaysAllowed(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	truck := mustTruck(t, s)
	driver := mustDriver(t, s, "12345678901")
	trip, err := s.CreateTrip(ctx, acct, core.Trip{
		TruckID: truck.ID, DriverID: driver.ID, StartLocation: "A", StartKm: 150000, StartDate: "2024-06-14", StartTime: "08:00",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTrip(ctx, acct, trip.ID); err != nil {
		t.Fatalf("delete in-progress trip: %v", err)
	}
	if err := s.DeleteTrip(ctx, acct, trip.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestUpdateTripRejectsCompletionFields(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	truck := mustTruck(t, s)
	driver := mustDriver(t, s, "12345678901")
	trip, err := s.CreateTrip(ctx, acct, core.Trip{
		TruckID: truck.ID, DriverID: driver.ID, StartLocation: "Campinas",
		StartKm: 150000, StartDate: "2024-06-14", StartTime: "08:00",
	})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}

	open := []map[string]any{
		{"endKm": 150500, "fuelLiters": "200"},
		{"endDate": "2024-06-15"},
		{"endTime": "18:00"},
		{"fuelConsumption": "0.4"},
	}
	for _, patch := range open {
		if _, err := s.UpdateTrip(ctx, acct, trip.ID, patch); !errors.Is(err, core.ErrValidation) {
			t.Errorf("UpdateTrip(in progress, %v) error = %v, want validation error", patch, err)
		}
	}
	got, err := s.TripMetrics(ctx, acct, trip.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Trip.EndKm != nil || got.Metrics.KmTraveled != 0 {
		t.Errorf("open trip gained end readings: %+v", got)
	}

	fuel := decimal.NewFromInt(200)
	if _, err := s.CompleteTrip(ctx, acct, trip.ID, lifecycle.TripCompletion{
		EndKm: 150500, EndDate: "2024-06-15", EndTime: "18:00", FuelLiters: &fuel,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := s.UpdateTrip(ctx, acct, trip.ID, map[string]any{"fuelLiters": "400"}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("UpdateTrip(fuelLiters) after completion error = %v, want validation error", err)
	}
	if _, err := s.UpdateTrip(ctx, acct, trip.ID, map[string]any{"endKm": 151000}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("UpdateTrip(endKm) after completion error = %v, want validation error", err)
	}

	stored, err := s.GetTrip(ctx, acct, trip.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.FuelConsumption == nil || !stored.FuelConsumption.Equal(decimal.RequireFromString("0.4")) {
		t.Errorf("stored fuelConsumption = %v, want 0.4", stored.FuelConsumption)
	}
	if stored.EndKm == nil || *stored.EndKm != 150500 {
		t.Errorf("stored endKm = %v, want 150500", stored.EndKm)
	}
	if truckNow, _ := s.GetTruck(ctx, acct, truck.ID); truckNow.Mileage != 150500 {
		t.Errorf("truck mileage = %d, want 150500", truckNow.Mileage)
	}

	// fields completion does not own stay editable
	if _, err := s.UpdateTrip(ctx, acct, trip.ID, map[string]any{"startLocation": "Jundiaí"}); err != nil {
		t.Errorf("UpdateTrip(startLocation) error = %v", err)
	}
}

func TestUpdateRentalRejectsCompletionFields(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	driver := mustDriver(t, s, "12345678901")
	machine, err := s.CreateMachinery(ctx, acct, core.Machinery{
		SerialNumber: "CAT-320", Brand: "Caterpillar", Model: "320", Year: 2019, Type: core.Excavator,
		Status: core.AssetActive, Hours: decimal.RequireFromString("1500.5"),
	})
	if err != nil {
		t.Fatal(err)
	}
	rental, err := s.CreateRental(ctx, acct, core.Rental{
		MachineryID: machine.ID, DriverID: driver.ID, StartLocation: "Obra 1",
		InitialHours: decimal.RequireFromString("1500.5"), Date: "2024-01-01", HourlyRate: decimal.RequireFromString("150.00"),
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		patch map[string]any
	}{
		{"final hours", map[string]any{"finalHours": "1600.5"}},
		{"end date", map[string]any{"endDate": "2024-01-05"}},
		{"status", map[string]any{"status": "completed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.UpdateRental(ctx, acct, rental.ID, tt.patch); !errors.Is(err, core.ErrValidation) {
				t.Errorf("UpdateRental(%v) error = %v, want validation error", tt.patch, err)
			}
		})
	}

	view, err := s.RentalMetrics(ctx, acct, rental.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Rental.FinalHours != nil || !view.Metrics.TotalHours.IsZero() {
		t.Errorf("open rental gained final hours: %+v", view)
	}
	if _, err := s.UpdateRental(ctx, acct, rental.ID, map[string]any{"startLocation": "Obra 2"}); err != nil {
		t.Errorf("UpdateRental(startLocation) error = %v", err)
	}
}

// listOnlyStore hides the backend's Ping and records the accounts listed.
type listOnlyStore struct {
	store.Store
	accounts []string
	err      error
}

func (s *listOnlyStore) List(ctx context.Context, account string, c store.Collection) ([]store.Document, error) {
	s.accounts = append(s.accounts, account)
	if s.err != nil {
		return nil, s.err
	}
	return s.Store.List(ctx, account, c)
}

type unreachableStore struct{ store.Store }

func (unreachableStore) Ping(context.Context) error {
	return core.NewStoreError("ping", "", errors.New("connection refused"))
}

func TestPing(t *testing.T) {
	t.Run("backend ping", func(t *testing.T) {
		if err := NewFleetService(memory.New(), nil, nil).Ping(context.Background()); err != nil {
			t.Fatalf("Ping() = %v", err)
		}
		err := NewFleetService(unreachableStore{memory.New()}, nil, nil).Ping(context.Background())
		if !errors.Is(err, core.ErrStore) {
			t.Fatalf("Ping() = %v, want store error", err)
		}
	})

	tests := []struct {
		name    string
		listErr error
		wantErr bool
	}{
		{name: "list answers"},
		{name: "list fails", listErr: core.NewStoreError("list", "trucks", errors.New("disk I/O error")), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &listOnlyStore{Store: memory.New(), err: tt.listErr}
			err := NewFleetService(st, nil, nil).Ping(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Ping() = %v, wantErr %v", err, tt.wantErr)
			}
			if len(st.accounts) != 1 || st.accounts[0] != "" {
				t.Errorf("listed accounts %q, want only the empty account", st.accounts)
			}
		})
	}
}
