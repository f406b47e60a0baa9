package memory

import (
	"context"
	"testing"

	ports "frota/internal/sheets"
)

func TestLedgerAppendAndRead(t *testing.T) {
	l := New()
	ctx := context.Background()
	if err := l.EnsureHeader(ctx, ports.SheetTrips, ports.Headers[ports.SheetTrips]); err != nil {
		t.Fatal(err)
	}
	if err := l.EnsureHeader(ctx, ports.SheetTrips, []any{"other"}); err != nil {
		t.Fatal(err)
	}

	ref, err := l.AppendRow(ctx, ports.SheetTrips, []any{"acct", "t1", 500})
	if err != nil || ref != "mem:Viagens!A2" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}

	rows, err := l.ReadRows(ctx, ports.SheetTrips)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0][0] != "Conta" || rows[1][2] != "500" {
		t.Errorf("rows = %v", rows)
	}

	if _, err := l.AppendRow(ctx, " ", nil); err == nil {
		t.Error("expected error for empty sheet name")
	}
}
