// Package backend opens the record store and the optional infrastructure
// around it (change fan-out, event publisher, ledger) from configuration.
package backend

import (
	"context"
	"fmt"

	"frota/internal/amqp"
	"frota/internal/config"
	"frota/internal/sheets"
	"frota/internal/store"
)

// CleanupFunc releases what a factory opened.
type CleanupFunc func() error

// Result contains the opened store and the optional pieces wired to it.
type Result struct {
	Store store.Store
	// Signal is set when REDIS_URL is configured. Run it for the life of
	// the process so writes from other processes reach local subscribers.
	Signal *store.RedisSignal
	// Publisher is nil when AMQP is not configured or unreachable.
	Publisher *amqp.Client
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	Open(ctx context.Context, cfg Config) (*Result, error)
	OpenLedger(ctx context.Context, cfg Config) (sheets.LedgerWriter, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath  string
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string

	RedisURL     string
	RedisChannel string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Empty selects the in-memory ledger.
	GoogleSpreadsheetID string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	MongoBackend    BackendType = "mongo"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend, MongoBackend:
		return true
	default:
		return false
	}
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.Backend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.Backend)
	}

	return Config{
		Type:                backendType,
		SQLiteDBPath:        appConfig.SQLiteDBPath,
		PostgresDSN:         appConfig.PostgresDSN,
		MongoURI:            appConfig.MongoURI,
		MongoDatabase:       appConfig.MongoDatabase,
		RedisURL:            appConfig.RedisURL,
		RedisChannel:        appConfig.RedisChannel,
		AMQPURL:             appConfig.AMQPURL,
		AMQPExchange:        appConfig.AMQPExchange,
		AMQPQueue:           appConfig.AMQPQueue,
		GoogleSpreadsheetID: appConfig.GoogleSpreadsheetID,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres DSN is required for postgres backend")
		}
	case MongoBackend:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return fmt.Errorf("mongo URI and database are required for mongo backend")
		}
	}

	return nil
}
