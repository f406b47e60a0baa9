package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ports "frota/internal/sheets"
)

// Ledger keeps sheets as in-memory rows. Used in development and tests.
type Ledger struct {
	mu     sync.Mutex
	sheets map[string][][]string
}

var (
	_ ports.LedgerWriter = (*Ledger)(nil)
	_ ports.LedgerReader = (*Ledger)(nil)
)

func New() *Ledger {
	return &Ledger{sheets: make(map[string][][]string)}
}

func (l *Ledger) EnsureHeader(_ context.Context, sheet string, header []any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sheets[sheet]) > 0 {
		return nil
	}
	l.sheets[sheet] = [][]string{toStrings(header)}
	return nil
}

// AppendRow stores the row and returns a synthetic A1 reference.
func (l *Ledger) AppendRow(_ context.Context, sheet string, values []any) (string, error) {
	if strings.TrimSpace(sheet) == "" {
		return "", fmt.Errorf("missing sheet name")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sheets[sheet] = append(l.sheets[sheet], toStrings(values))
	n := len(l.sheets[sheet])
	return fmt.Sprintf("mem:%s!A%d", sheet, n), nil
}

func (l *Ledger) ReadRows(_ context.Context, sheet string) ([][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows := l.sheets[sheet]
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
