//go:build integration

package sqlstore

import (
	"os"
	"testing"

	"frota/internal/store"
	"frota/internal/store/storetest"
)

// Run with: POSTGRES_DSN=postgres://... go test -tags=integration ./internal/store/sqlstore

func TestIntegration_PostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set, skipping integration test")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := OpenPostgres(dsn)
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		if _, err := s.db.Exec(`DELETE FROM documents`); err != nil {
			t.Fatalf("reset documents: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
