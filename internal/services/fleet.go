package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"frota/internal/amqp"
	"frota/internal/core"
	"frota/internal/lifecycle"
	"frota/internal/log"
	"frota/internal/metrics"
	"frota/internal/store"
)

// Publisher sends lifecycle events. *amqp.Client implements it.
type Publisher interface {
	PublishEvent(ctx context.Context, ev *amqp.Event) error
}

// FleetService validates and writes fleet records, runs completions and
// announces them on the event bus. Publishing is best effort: a failed
// publish is logged and never fails the request.
type FleetService struct {
	store     store.Store
	completer *lifecycle.Completer
	publisher Publisher
	logger    *log.Logger
	now       func() time.Time
}

func NewFleetService(s store.Store, publisher Publisher, logger *log.Logger) *FleetService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &FleetService{
		store:     s,
		completer: lifecycle.NewCompleter(s, logger),
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentFleet),
		now:       time.Now,
	}
}

func (s *FleetService) Store() store.Store { return s.store }

// Ping checks that the store answers. Backends without a Ping of their own
// are asked for the trucks of the empty account, which no tenant owns.
func (s *FleetService) Ping(ctx context.Context) error {
	if p, ok := s.store.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := s.store.List(ctx, "", store.Trucks)
	return err
}

// record is a pointer to a domain type that validates itself.
type record[T any] interface {
	store.Keyed[T]
	Validate() error
}

func create[T any, P record[T]](ctx context.Context, s *FleetService, account string, c store.Collection, v P) (string, error) {
	if err := v.Validate(); err != nil {
		return "", err
	}
	data, err := store.EncodeRecord(v)
	if err != nil {
		return "", err
	}
	id, err := s.store.Create(ctx, account, c, data)
	metrics.RecordWrites.WithLabelValues(string(c), log.OpCreate, metrics.Result(err)).Inc()
	if err != nil {
		log.LogRecordError(ctx, s.logger, "Create failed", err, log.OpCreate, account, string(c), "")
		return "", err
	}
	v.SetKey(id)
	s.logger.InfoContext(ctx, "Record created", log.NewFields().WithRecord(account, string(c), id).ToSlice()...)
	return id, nil
}

func get[T any, P store.Keyed[T]](ctx context.Context, s *FleetService, account string, c store.Collection, id string) (T, error) {
	doc, err := s.store.Get(ctx, account, c, id)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := store.DecodeAs[T, P](doc)
	if err != nil {
		return v, core.NewStoreError("get", string(c), err)
	}
	return v, nil
}

func list[T any, P store.Keyed[T]](ctx context.Context, s *FleetService, account string, c store.Collection) ([]T, error) {
	if account == "" {
		return []T{}, nil
	}
	docs, err := s.store.List(ctx, account, c)
	if err != nil {
		return nil, err
	}
	out, skipped := store.DecodeAllAs[T, P](docs)
	if skipped > 0 {
		s.logger.WarnContext(ctx, "Skipped unreadable records",
			log.FieldCollection, c,
			"skipped", skipped)
	}
	return out, nil
}

// update merges patch into the stored record, validates the result and
// writes it back. Keys listed in frozen cannot be patched.
func update[T any, P record[T]](ctx context.Context, s *FleetService, account string, c store.Collection, id string, patch map[string]any, frozen ...string) (T, error) {
	var zero T
	for _, k := range frozen {
		if _, ok := patch[k]; ok {
			return zero, &core.ValidationError{Field: k, Reason: "cannot be changed here"}
		}
	}
	doc, err := s.store.Get(ctx, account, c, id)
	if err != nil {
		return zero, err
	}
	merged, err := store.Merge(doc.Data, patch)
	if err != nil {
		return zero, &core.ValidationError{Reason: err.Error()}
	}
	v, err := store.DecodeAs[T, P](store.Document{ID: id, Data: merged})
	if err != nil {
		return zero, &core.ValidationError{Reason: "patch does not fit the record: " + err.Error()}
	}
	if err := P(&v).Validate(); err != nil {
		return zero, err
	}

	full, err := toPatch(P(&v))
	if err != nil {
		return zero, err
	}
	for k, val := range patch {
		if val == nil {
			full[k] = nil
		}
	}
	for _, k := range frozen {
		delete(full, k)
	}
	err = s.store.Update(ctx, account, c, id, full)
	metrics.RecordWrites.WithLabelValues(string(c), log.OpUpdate, metrics.Result(err)).Inc()
	if err != nil {
		log.LogRecordError(ctx, s.logger, "Update failed", err, log.OpUpdate, account, string(c), id)
		return zero, err
	}
	return v, nil
}

// toPatch flattens a validated record into a top-level patch.
func toPatch(v any) (map[string]any, error) {
	data, err := store.EncodeRecord(v)
	if err != nil {
		return nil, err
	}
	return store.Decode(data)
}

func (s *FleetService) remove(ctx context.Context, account string, c store.Collection, id string) error {
	err := s.store.Delete(ctx, account, c, id)
	metrics.RecordWrites.WithLabelValues(string(c), log.OpDelete, metrics.Result(err)).Inc()
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		log.LogRecordError(ctx, s.logger, "Delete failed", err, log.OpDelete, account, string(c), id)
	}
	return err
}

// publish sends ev when a publisher is configured. Errors are only logged.
func (s *FleetService) publish(ctx context.Context, ev *amqp.Event) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not configured, skipping event", log.FieldEventType, ev.Type)
		return
	}
	err := s.publisher.PublishEvent(ctx, ev)
	metrics.Events.WithLabelValues(string(ev.Type), metrics.Result(err)).Inc()
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event",
			log.FieldEventType, ev.Type,
			log.FieldRecordID, ev.ID,
			log.FieldError, err)
	}
}

// Trucks

func (s *FleetService) CreateTruck(ctx context.Context, account string, t core.Truck) (core.Truck, error) {
	_, err := create(ctx, s, account, store.Trucks, &t)
	return t, err
}

func (s *FleetService) GetTruck(ctx context.Context, account, id string) (core.Truck, error) {
	return get[core.Truck](ctx, s, account, store.Trucks, id)
}

func (s *FleetService) ListTrucks(ctx context.Context, account string) ([]core.Truck, error) {
	return list[core.Truck](ctx, s, account, store.Trucks)
}

func (s *FleetService) UpdateTruck(ctx context.Context, account, id string, patch map[string]any) (core.Truck, error) {
	return update[core.Truck](ctx, s, account, store.Trucks, id, patch)
}

func (s *FleetService) DeleteTruck(ctx context.Context, account, id string) error {
	return s.remove(ctx, account, store.Trucks, id)
}

// Machinery

func (s *FleetService) CreateMachinery(ctx context.Context, account string, m core.Machinery) (core.Machinery, error) {
	_, err := create(ctx, s, account, store.Machinery, &m)
	return m, err
}

func (s *FleetService) GetMachinery(ctx context.Context, account, id string) (core.Machinery, error) {
	return get[core.Machinery](ctx, s, account, store.Machinery, id)
}

func (s *FleetService) ListMachinery(ctx context.Context, account string) ([]core.Machinery, error) {
	return list[core.Machinery](ctx, s, account, store.Machinery)
}

func (s *FleetService) UpdateMachinery(ctx context.Context, account, id string, patch map[string]any) (core.Machinery, error) {
	return update[core.Machinery](ctx, s, account, store.Machinery, id, patch)
}

func (s *FleetService) DeleteMachinery(ctx context.Context, account, id string) error {
	return s.remove(ctx, account, store.Machinery, id)
}

// Drivers

// CreateDriver rejects a CPF already registered to the account.
func (s *FleetService) CreateDriver(ctx context.Context, account string, d core.Driver) (core.Driver, error) {
	if err := d.Validate(); err != nil {
		return d, err
	}
	if err := s.checkCPF(ctx, account, d.CPF, ""); err != nil {
		return d, err
	}
	_, err := create(ctx, s, account, store.Drivers, &d)
	return d, err
}

func (s *FleetService) checkCPF(ctx context.Context, account, cpf, selfID string) error {
	docs, err := s.store.Find(ctx, account, store.Drivers, "cpf", cpf)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.ID != selfID {
			return &core.DuplicateError{Collection: string(store.Drivers), Field: "cpf", Value: cpf}
		}
	}
	return nil
}

func (s *FleetService) GetDriver(ctx context.Context, account, id string) (core.Driver, error) {
	return get[core.Driver](ctx, s, account, store.Drivers, id)
}

func (s *FleetService) ListDrivers(ctx context.Context, account string) ([]core.Driver, error) {
	return list[core.Driver](ctx, s, account, store.Drivers)
}

func (s *FleetService) UpdateDriver(ctx context.Context, account, id string, patch map[string]any) (core.Driver, error) {
	if raw, ok := patch["cpf"].(string); ok {
		if err := s.checkCPF(ctx, account, core.NormalizeCPF(raw), id); err != nil {
			return core.Driver{}, err
		}
	}
	return update[core.Driver](ctx, s, account, store.Drivers, id, patch)
}

func (s *FleetService) DeleteDriver(ctx context.Context, account, id string) error {
	return s.remove(ctx, account, store.Drivers, id)
}

// Trips

// CreateTrip opens a trip in progress and copies the truck plate and driver
// name onto it.
func (s *FleetService) CreateTrip(ctx context.Context, account string, t core.Trip) (core.Trip, error) {
	t.Status = core.InProgress
	t.EndKm, t.EndDate, t.EndTime, t.FuelConsumption = nil, "", "", nil
	if err := t.Validate(); err != nil {
		return t, err
	}
	truck, err := s.GetTruck(ctx, account, t.TruckID)
	if err != nil {
		return t, refError("truckId", err)
	}
	driver, err := s.GetDriver(ctx, account, t.DriverID)
	if err != nil {
		return t, refError("driverId", err)
	}
	t.TruckPlate, t.DriverName = truck.Plate, driver.Name
	_, err = create(ctx, s, account, store.Trips, &t)
	return t, err
}

func refError(field string, err error) error {
	if errors.Is(err, core.ErrNotFound) {
		return &core.ValidationError{Field: field, Reason: "does not exist"}
	}
	return err
}

func (s *FleetService) GetTrip(ctx context.Context, account, id string) (core.Trip, error) {
	return get[core.Trip](ctx, s, account, store.Trips, id)
}

func (s *FleetService) ListTrips(ctx context.Context, account string) ([]core.Trip, error) {
	return list[core.Trip](ctx, s, account, store.Trips)
}

// Keys written only by completion.
var (
	tripCompletionKeys   = []string{store.KeyStatus, "endKm", "endDate", "endTime", "fuelLiters", "fuelConsumption"}
	rentalCompletionKeys = []string{store.KeyStatus, "finalHours", "endDate"}
)

// UpdateTrip edits trip fields. The status and end readings only change
// through CompleteTrip.
func (s *FleetService) UpdateTrip(ctx context.Context, account, id string, patch map[string]any) (core.Trip, error) {
	return update[core.Trip](ctx, s, account, store.Trips, id, patch, tripCompletionKeys...)
}

func (s *FleetService) DeleteTrip(ctx context.Context, account, id string) error {
	return s.remove(ctx, account, store.Trips, id)
}

// Rentals

// CreateRental opens a rental in progress and copies the machinery serial
// and driver name onto it.
func (s *FleetService) CreateRental(ctx context.Context, account string, r core.Rental) (core.Rental, error) {
	r.Status = core.InProgress
	r.FinalHours, r.EndDate = nil, ""
	if err := r.Validate(); err != nil {
		return r, err
	}
	machine, err := s.GetMachinery(ctx, account, r.MachineryID)
	if err != nil {
		return r, refError("machineryId", err)
	}
	driver, err := s.GetDriver(ctx, account, r.DriverID)
	if err != nil {
		return r, refError("driverId", err)
	}
	r.MachinerySerial, r.DriverName = machine.SerialNumber, driver.Name
	_, err = create(ctx, s, account, store.Rentals, &r)
	return r, err
}

func (s *FleetService) GetRental(ctx context.Context, account, id string) (core.Rental, error) {
	return get[core.Rental](ctx, s, account, store.Rentals, id)
}

func (s *FleetService) ListRentals(ctx context.Context, account string) ([]core.Rental, error) {
	return list[core.Rental](ctx, s, account, store.Rentals)
}

// UpdateRental edits rental fields. The status, final hours and end date
// only change through CompleteRental.
func (s *FleetService) UpdateRental(ctx context.Context, account, id string, patch map[string]any) (core.Rental, error) {
	return update[core.Rental](ctx, s, account, store.Rentals, id, patch, rentalCompletionKeys...)
}

func (s *FleetService) DeleteRental(ctx context.Context, account, id string) error {
	return s.remove(ctx, account, store.Rentals, id)
}

// Transactions

func (s *FleetService) CreateTransaction(ctx context.Context, account string, tx core.Transaction) (core.Transaction, error) {
	id, err := create(ctx, s, account, store.Transactions, &tx)
	if err != nil {
		return tx, err
	}
	data, _ := json.Marshal(tx)
	s.publish(ctx, amqp.NewEvent(amqp.TransactionCreated, account, string(store.Transactions), id, data))
	return tx, nil
}

func (s *FleetService) GetTransaction(ctx context.Context, account, id string) (core.Transaction, error) {
	return get[core.Transaction](ctx, s, account, store.Transactions, id)
}

func (s *FleetService) ListTransactions(ctx context.Context, account string) ([]core.Transaction, error) {
	return list[core.Transaction](ctx, s, account, store.Transactions)
}

func (s *FleetService) UpdateTransaction(ctx context.Context, account, id string, patch map[string]any) (core.Transaction, error) {
	return update[core.Transaction](ctx, s, account, store.Transactions, id, patch)
}

func (s *FleetService) DeleteTransaction(ctx context.Context, account, id string) error {
	return s.remove(ctx, account, store.Transactions, id)
}

// Close releases the store.
func (s *FleetService) Close() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
