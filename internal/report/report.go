// Package report turns an account's records into plain report tables with
// Brazilian number and date formatting. Rendering to a document format is
// left to the caller; WriteCSV covers the spreadsheet download.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"frota/internal/aggregate"
	"frota/internal/core"
	"frota/internal/derived"
	"frota/internal/filter"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindDashboard Kind = "dashboard"
	KindFinance   Kind = "finance"
	KindTrips     Kind = "trips"
	KindFleet     Kind = "fleet"
	KindDrivers   Kind = "drivers"
	KindMachinery Kind = "machinery"
	KindRentals   Kind = "rentals"
)

var Kinds = []Kind{KindDashboard, KindFinance, KindTrips, KindFleet, KindDrivers, KindMachinery, KindRentals}

var titles = map[Kind]string{
	KindDashboard: "Relatório Geral",
	KindFinance:   "Relatório Financeiro",
	KindTrips:     "Relatório de Viagens",
	KindFleet:     "Relatório da Frota",
	KindDrivers:   "Relatório de Motoristas",
	KindMachinery: "Relatório de Maquinário",
	KindRentals:   "Relatório de Locações",
}

func (k Kind) Valid() bool {
	_, ok := titles[k]
	return ok
}

type Line struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type Table struct {
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

type Report struct {
	Kind        Kind          `json:"kind"`
	Title       string        `json:"title"`
	Period      filter.Period `json:"period"`
	GeneratedAt time.Time     `json:"generatedAt"`
	Summary     []Line        `json:"summary"`
	Tables      []Table       `json:"tables"`
}

// Build assembles the report of kind from r. Criteria narrow the records the
// same way the dashboard does.
func Build(kind Kind, now time.Time, c filter.Criteria, r aggregate.Records) (Report, error) {
	if !kind.Valid() {
		return Report{}, &core.ValidationError{Field: "kind", Reason: "unknown report " + string(kind)}
	}
	rep := Report{
		Kind:        kind,
		Title:       titles[kind],
		Period:      filter.ParsePeriod(string(c.Period)),
		GeneratedAt: now.UTC(),
	}

	switch kind {
	case KindDashboard:
		d := aggregate.BuildDashboard(now, c, r)
		rep.Summary = append(totalsLines(d.Totals),
			Line{"Caminhões ativos", fmt.Sprintf("%d de %d", d.ActiveTrucks, d.Trucks)},
			Line{"Motoristas ativos", fmt.Sprintf("%d de %d", d.ActiveDrivers, d.Drivers)},
			Line{"Máquinas ativas", fmt.Sprintf("%d de %d", d.ActiveMachinery, d.Machinery)},
			Line{"Viagens em andamento", strconv.Itoa(d.ActiveTrips)},
			Line{"Viagens concluídas", strconv.Itoa(d.CompletedTrips)},
			Line{"Km rodados", formatInt(d.TotalKm)},
			Line{"Média km por viagem", formatInt(d.KmPerTrip)},
			Line{"Locações em andamento", strconv.Itoa(d.ActiveRentals)},
		)
		rep.Tables = []Table{transactionTable(c.Transactions(now, r.Transactions))}
	case KindFinance:
		rep.Summary = totalsLines(aggregate.PeriodTotals(now, c, r.Transactions))
		rep.Tables = []Table{
			monthlyTable(aggregate.MonthlySeries(now, c, r.Transactions)),
			transactionTable(c.Transactions(now, r.Transactions)),
		}
	case KindTrips:
		trips := c.Trips(now, r.Trips)
		s := aggregate.SummarizeTrips(trips)
		rep.Summary = []Line{
			{"Em andamento", strconv.Itoa(s.Active)},
			{"Concluídas", strconv.Itoa(s.Completed)},
			{"Km rodados", formatInt(s.TotalKm)},
			{"Média km por viagem", formatInt(s.KmPerTrip)},
			{"Combustível (L)", core.FormatNumber(s.TotalFuel)},
			{"Consumo médio (L/km)", core.FormatNumber(s.AverageConsumption)},
		}
		rep.Tables = []Table{tripTable(trips)}
	case KindFleet:
		s := aggregate.SummarizeFleet(r.Trucks)
		rep.Summary = append(statusLines(s.Trucks), Line{"Quilometragem total", formatInt(s.TotalMileage)})
		rep.Tables = []Table{truckTable(r.Trucks)}
	case KindDrivers:
		s := aggregate.SummarizeDrivers(r.Drivers)
		rep.Summary = []Line{
			{"Total", strconv.Itoa(s.Drivers.Total)},
			{"Ativos", strconv.Itoa(s.Drivers.Active)},
			{"Inativos", strconv.Itoa(s.Drivers.Inactive)},
			{"Suspensos", strconv.Itoa(s.Drivers.Suspended)},
		}
		rep.Tables = []Table{driverTable(r.Drivers)}
	case KindMachinery:
		s := aggregate.SummarizeMachinery(r.Machinery)
		rep.Summary = append(statusLines(s.Machinery), Line{"Horímetro total", core.FormatNumber(s.TotalHours)})
		rep.Tables = []Table{machineryTable(r.Machinery)}
	case KindRentals:
		rentals := c.Rentals(now, r.Rentals)
		s := aggregate.SummarizeRentals(rentals)
		rep.Summary = []Line{
			{"Em andamento", strconv.Itoa(s.Active)},
			{"Concluídas", strconv.Itoa(s.Completed)},
			{"Horas trabalhadas", core.FormatNumber(s.TotalHours)},
			{"Horas efetivas", strconv.Itoa(s.EffectiveHours)},
			{"Valor total", core.FormatBRL(s.TotalValue)},
		}
		rep.Tables = []Table{rentalTable(rentals)}
	}
	return rep, nil
}

func totalsLines(t aggregate.Totals) []Line {
	return []Line{
		{"Receitas", core.FormatBRL(t.Revenue)},
		{"Despesas", core.FormatBRL(t.Expenses)},
		{"Lucro", core.FormatBRL(t.Profit)},
	}
}

func statusLines(s aggregate.StatusCount) []Line {
	return []Line{
		{"Total", strconv.Itoa(s.Total)},
		{"Ativos", strconv.Itoa(s.Active)},
		{"Em manutenção", strconv.Itoa(s.Maintenance)},
		{"Inativos", strconv.Itoa(s.Inactive)},
	}
}

func formatInt(n int64) string { return core.FormatNumber(decimal.NewFromInt(n)) }

// formatDate renders YYYY-MM-DD as DD/MM/YYYY, passing anything else
// through unchanged.
func formatDate(s string) string {
	t, err := core.ParseDate(s)
	if err != nil {
		return s
	}
	return t.Format("02/01/2006")
}

var statusLabels = map[string]string{
	"active":      "Ativo",
	"maintenance": "Manutenção",
	"inactive":    "Inativo",
	"suspended":   "Suspenso",
	"in_progress": "Em andamento",
	"completed":   "Concluída",
	"receita":     "Receita",
	"despesa":     "Despesa",
}

func label(s string) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return s
}

func transactionTable(txs []core.Transaction) Table {
	t := Table{Title: "Transações", Columns: []string{"Data", "Tipo", "Categoria", "Descrição", "Valor"}}
	for _, tx := range txs {
		t.Rows = append(t.Rows, []string{
			formatDate(tx.Date), label(string(tx.Type)), tx.Category, tx.Description, core.FormatBRL(tx.Amount),
		})
	}
	return t
}

func monthlyTable(buckets []aggregate.MonthBucket) Table {
	t := Table{Title: "Evolução mensal", Columns: []string{"Mês", "Receitas", "Despesas", "Lucro"}}
	for _, b := range buckets {
		t.Rows = append(t.Rows, []string{
			fmt.Sprintf("%s/%d", b.Label, b.Year),
			core.FormatBRL(b.Revenue),
			core.FormatBRL(b.Expenses),
			core.FormatBRL(b.Revenue.Sub(b.Expenses)),
		})
	}
	return t
}

func tripTable(trips []core.Trip) Table {
	t := Table{Title: "Viagens", Columns: []string{"Início", "Placa", "Motorista", "Origem", "Destino", "Km", "Consumo (L/km)", "Status"}}
	for _, tr := range trips {
		m := derived.Trip(tr)
		t.Rows = append(t.Rows, []string{
			formatDate(tr.StartDate) + " " + tr.StartTime,
			tr.TruckPlate,
			tr.DriverName,
			tr.StartLocation,
			tr.EndLocation,
			formatInt(m.KmTraveled),
			core.FormatNumber(m.FuelConsumption),
			label(string(tr.Status)),
		})
	}
	return t
}

func truckTable(trucks []core.Truck) Table {
	t := Table{Title: "Caminhões", Columns: []string{"Placa", "Marca", "Modelo", "Ano", "Quilometragem", "Status"}}
	for _, tr := range trucks {
		t.Rows = append(t.Rows, []string{
			tr.Plate, tr.Brand, tr.Model, strconv.Itoa(tr.Year), formatInt(tr.Mileage), label(string(tr.Status)),
		})
	}
	return t
}

func driverTable(drivers []core.Driver) Table {
	t := Table{Title: "Motoristas", Columns: []string{"Nome", "CPF", "CNH", "Categoria", "Validade CNH", "Status"}}
	for _, d := range drivers {
		t.Rows = append(t.Rows, []string{
			d.Name, formatCPF(d.CPF), d.CNHNumber, d.CNHCategory, formatDate(d.CNHExpiry), label(string(d.Status)),
		})
	}
	return t
}

func formatCPF(cpf string) string {
	if len(cpf) != 11 {
		return cpf
	}
	return cpf[:3] + "." + cpf[3:6] + "." + cpf[6:9] + "-" + cpf[9:]
}

func machineryTable(machinery []core.Machinery) Table {
	t := Table{Title: "Máquinas", Columns: []string{"Série", "Tipo", "Marca", "Modelo", "Ano", "Horímetro", "Status"}}
	for _, m := range machinery {
		t.Rows = append(t.Rows, []string{
			m.SerialNumber, string(m.Type), m.Brand, m.Model, strconv.Itoa(m.Year), core.FormatNumber(m.Hours), label(string(m.Status)),
		})
	}
	return t
}

func rentalTable(rentals []core.Rental) Table {
	t := Table{Title: "Locações", Columns: []string{"Data", "Máquina", "Operador", "Local", "Horas", "Dias", "Valor", "Status"}}
	for _, r := range rentals {
		m := derived.Rental(r)
		t.Rows = append(t.Rows, []string{
			formatDate(r.Date),
			r.MachinerySerial,
			r.DriverName,
			r.StartLocation,
			core.FormatNumber(m.TotalHours),
			strconv.Itoa(m.WorkingDays),
			core.FormatBRL(m.TotalValue),
			label(string(r.Status)),
		})
	}
	return t
}

// WriteCSV writes the summary followed by every table, separated by blank
// records.
func WriteCSV(w io.Writer, rep Report) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write([]string{rep.Title}); err != nil {
		return err
	}
	for _, l := range rep.Summary {
		if err := cw.Write([]string{l.Label, l.Value}); err != nil {
			return err
		}
	}
	for _, t := range rep.Tables {
		if err := cw.Write(nil); err != nil {
			return err
		}
		if err := cw.Write([]string{t.Title}); err != nil {
			return err
		}
		if err := cw.Write(t.Columns); err != nil {
			return err
		}
		if err := cw.WriteAll(t.Rows); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
