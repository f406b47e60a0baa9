// Package sheets defines the ledger the export worker writes completed
// trips, rentals and transactions to. Adapters live in google and memory.
package sheets

import "context"

// Sheet names of the ledger, one per exported record kind.
const (
	SheetTrips        = "Viagens"
	SheetRentals      = "Locações"
	SheetTransactions = "Transações"
)

// Headers is the first row written to each sheet.
var Headers = map[string][]any{
	SheetTrips: {"Conta", "ID", "Placa", "Motorista", "Origem", "Destino", "Data início", "Data fim",
		"Km inicial", "Km final", "Km rodados", "Combustível (L)", "Consumo (L/km)"},
	SheetRentals: {"Conta", "ID", "Série", "Operador", "Local", "Data", "Data fim",
		"Horímetro inicial", "Horímetro final", "Horas", "Dias", "Valor/hora", "Valor total"},
	SheetTransactions: {"Conta", "ID", "Data", "Tipo", "Categoria", "Descrição", "Valor", "Caminhão", "Viagem"},
}

// Ports for outbound adapters.
type (
	LedgerWriter interface {
		// EnsureHeader writes header as the first row of an empty sheet.
		EnsureHeader(ctx context.Context, sheet string, header []any) error
		// AppendRow adds values after the last row of sheet and returns a
		// reference to the written range.
		AppendRow(ctx context.Context, sheet string, values []any) (rowRef string, err error)
	}

	LedgerReader interface {
		ReadRows(ctx context.Context, sheet string) ([][]string, error)
	}
)
