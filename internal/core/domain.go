package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	AssetActive      AssetStatus = "active"
	AssetMaintenance AssetStatus = "maintenance"
	AssetInactive    AssetStatus = "inactive"

	DriverActive    DriverStatus = "active"
	DriverInactive  DriverStatus = "inactive"
	DriverSuspended DriverStatus = "suspended"

	InProgress Status = "in_progress"
	Completed  Status = "completed"

	Revenue TransactionType = "receita"
	Expense TransactionType = "despesa"

	Tractor   MachineryType = "tractor"
	Excavator MachineryType = "excavator"
	Loader    MachineryType = "loader"
	Bulldozer MachineryType = "bulldozer"
	Crane     MachineryType = "crane"
	OtherType MachineryType = "other"
)

type (
	AssetStatus     string
	DriverStatus    string
	Status          string
	TransactionType string
	MachineryType   string

	Truck struct {
		ID      string      `json:"id,omitempty"`
		Plate   string      `json:"plate" validate:"required"`
		Brand   string      `json:"brand" validate:"required"`
		Model   string      `json:"model" validate:"required"`
		Year    int         `json:"year" validate:"gte=1900,lte=2100"`
		Color   string      `json:"color,omitempty"`
		Status  AssetStatus `json:"status" validate:"required,oneof=active maintenance inactive"`
		Mileage int64       `json:"mileage" validate:"gte=0"`
	}

	Machinery struct {
		ID           string          `json:"id,omitempty"`
		SerialNumber string          `json:"serialNumber" validate:"required"`
		Brand        string          `json:"brand" validate:"required"`
		Model        string          `json:"model" validate:"required"`
		Year         int             `json:"year" validate:"gte=1900,lte=2100"`
		Type         MachineryType   `json:"type" validate:"required,oneof=tractor excavator loader bulldozer crane other"`
		Status       AssetStatus     `json:"status" validate:"required,oneof=active maintenance inactive"`
		Hours        decimal.Decimal `json:"hours"`
	}

	Driver struct {
		ID          string       `json:"id,omitempty"`
		Name        string       `json:"name" validate:"required"`
		CPF         string       `json:"cpf" validate:"required"`
		CNHNumber   string       `json:"cnhNumber" validate:"required"`
		CNHCategory string       `json:"cnhCategory" validate:"required"`
		CNHExpiry   string       `json:"cnhExpiry" validate:"required,datetime=2006-01-02"`
		Phone       string       `json:"phone,omitempty"`
		Status      DriverStatus `json:"status" validate:"required,oneof=active inactive suspended"`
	}

	// Trip carries TruckPlate and DriverName as copied at creation time.
	// They are not refreshed when the truck or driver changes later.
	Trip struct {
		ID              string           `json:"id,omitempty"`
		TruckID         string           `json:"truckId" validate:"required"`
		TruckPlate      string           `json:"truckPlate"`
		DriverID        string           `json:"driverId" validate:"required"`
		DriverName      string           `json:"driverName"`
		StartLocation   string           `json:"startLocation" validate:"required"`
		EndLocation     string           `json:"endLocation,omitempty"`
		StartKm         int64            `json:"startKm" validate:"gte=0"`
		EndKm           *int64           `json:"endKm,omitempty"`
		StartDate       string           `json:"startDate" validate:"required,datetime=2006-01-02"`
		StartTime       string           `json:"startTime" validate:"required,datetime=15:04"`
		EndDate         string           `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
		EndTime         string           `json:"endTime,omitempty" validate:"omitempty,datetime=15:04"`
		FuelLiters      *decimal.Decimal `json:"fuelLiters,omitempty"`
		FuelConsumption *decimal.Decimal `json:"fuelConsumption,omitempty"`
		Status          Status           `json:"status" validate:"required,oneof=in_progress completed"`
	}

	// Rental carries MachinerySerial and DriverName as copied at creation time.
	Rental struct {
		ID              string           `json:"id,omitempty"`
		MachineryID     string           `json:"machineryId" validate:"required"`
		MachinerySerial string           `json:"machinerySerial"`
		DriverID        string           `json:"driverId" validate:"required"`
		DriverName      string           `json:"driverName"`
		StartLocation   string           `json:"startLocation" validate:"required"`
		EndLocation     string           `json:"endLocation,omitempty"`
		InitialHours    decimal.Decimal  `json:"initialHours"`
		FinalHours      *decimal.Decimal `json:"finalHours,omitempty"`
		Date            string           `json:"date" validate:"required,datetime=2006-01-02"`
		EndDate         string           `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
		HourlyRate      decimal.Decimal  `json:"hourlyRate"`
		Status          Status           `json:"status" validate:"required,oneof=in_progress completed"`
	}

	Transaction struct {
		ID          string          `json:"id,omitempty"`
		Type        TransactionType `json:"type" validate:"required,oneof=receita despesa"`
		Description string          `json:"description" validate:"required"`
		Amount      decimal.Decimal `json:"amount"`
		Date        string          `json:"date" validate:"required"`
		Category    string          `json:"category" validate:"required"`
		TruckID     string          `json:"truckId,omitempty"`
		DriverID    string          `json:"driverId,omitempty"`
		TripID      string          `json:"tripId,omitempty"`
		RentalID    string          `json:"rentalId,omitempty"`
		VehicleID   string          `json:"vehicleId,omitempty"`
	}
)

func (t *Truck) Key() string { return t.ID }
func (t *Truck) SetKey(id string) { t.ID = id }

func (m *Machinery) Key() string { return m.ID }
func (m *Machinery) SetKey(id string) { m.ID = id }

func (d *Driver) Key() string { return d.ID }
func (d *Driver) SetKey(id string) { d.ID = id }

func (t *Trip) Key() string { return t.ID }
func (t *Trip) SetKey(id string) { t.ID = id }

func (r *Rental) Key() string { return r.ID }
func (r *Rental) SetKey(id string) { r.ID = id }

func (t *Transaction) Key() string { return t.ID }
func (t *Transaction) SetKey(id string) { t.ID = id }

func (t *Truck) Validate() error {
	t.Plate = strings.ToUpper(strings.TrimSpace(t.Plate))
	return validateStruct(t)
}

func (m *Machinery) Validate() error {
	if err := validateStruct(m); err != nil {
		return err
	}
	if m.Hours.IsNegative() {
		return &ValidationError{Field: "hours", Reason: "must not be negative"}
	}
	return nil
}

func (d *Driver) Validate() error {
	d.CPF = NormalizeCPF(d.CPF)
	if err := validateStruct(d); err != nil {
		return err
	}
	if len(d.CPF) != 11 {
		return &ValidationError{Field: "cpf", Reason: "must have 11 digits"}
	}
	return nil
}

func (t *Trip) Validate() error {
	if err := validateStruct(t); err != nil {
		return err
	}
	if t.EndKm != nil && *t.EndKm <= t.StartKm {
		return &ValidationError{Field: "endKm", Reason: "must be greater than startKm"}
	}
	if t.FuelLiters != nil && t.FuelLiters.IsNegative() {
		return &ValidationError{Field: "fuelLiters", Reason: "must not be negative"}
	}
	return nil
}

func (r *Rental) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if r.InitialHours.IsNegative() {
		return &ValidationError{Field: "initialHours", Reason: "must not be negative"}
	}
	if r.HourlyRate.IsNegative() {
		return &ValidationError{Field: "hourlyRate", Reason: "must not be negative"}
	}
	if r.FinalHours != nil && r.FinalHours.LessThanOrEqual(r.InitialHours) {
		return &ValidationError{Field: "finalHours", Reason: "must be greater than initialHours"}
	}
	return nil
}

func (t *Transaction) Validate() error {
	if err := validateStruct(t); err != nil {
		return err
	}
	if t.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	if _, err := ParseDate(t.Date); err != nil {
		return &ValidationError{Field: "date", Reason: "invalid date"}
	}
	if !ValidCategory(t.Type, t.Category) {
		return &ValidationError{Field: "category", Reason: "unknown category for " + string(t.Type)}
	}
	return nil
}

// NormalizeCPF keeps only the digits of a CPF.
func NormalizeCPF(cpf string) string {
	var b strings.Builder
	for _, r := range cpf {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
