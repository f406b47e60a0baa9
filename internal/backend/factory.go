package backend

import (
	"context"
	"errors"
	"fmt"

	"frota/internal/amqp"
	"frota/internal/log"
	"frota/internal/sheets"
	gsheet "frota/internal/sheets/google"
	ledgermem "frota/internal/sheets/memory"
	"frota/internal/store"
	"frota/internal/store/memory"
	"frota/internal/store/mongostore"
	"frota/internal/store/sqlstore"
)

// feedStore is a store that embeds *store.Feed.
type feedStore interface {
	store.Store
	Hub() *store.Hub
	UseSignal(store.Signal)
}

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// Open opens the configured store, then attaches the Redis change signal and
// the AMQP publisher when they are configured. An unreachable broker only
// disables publishing; an unreachable Redis fails the open.
func (f *DefaultFactory) Open(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := f.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res := &Result{Store: s}
	closers := []func() error{s.Close}

	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		res.Signal = store.NewRedisSignal(rdb, cfg.RedisChannel, s.Hub())
		s.UseSignal(res.Signal)
		closers = append(closers, rdb.Close)
		f.logger.Info("Change notifications routed through redis", "channel", cfg.RedisChannel)
	}

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		} else {
			res.Publisher = client
			closers = append(closers, client.Close)
			f.logger.Info("Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
		}
	}

	res.Cleanup = func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return res, nil
}

func (f *DefaultFactory) openStore(ctx context.Context, cfg Config) (feedStore, error) {
	switch cfg.Type {
	case MemoryBackend:
		f.logger.Info("Initialized memory backend")
		return memory.New(), nil
	case SQLiteBackend:
		s, err := sqlstore.OpenSQLite(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", cfg.SQLiteDBPath)
		return s, nil
	case PostgresBackend:
		s, err := sqlstore.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		f.logger.Info("Initialized postgres backend")
		return s, nil
	case MongoBackend:
		s, err := mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize mongo store: %w", err)
		}
		f.logger.Info("Initialized mongo backend", "database", cfg.MongoDatabase)
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}

// OpenLedger returns the Google Sheets ledger when a spreadsheet is
// configured and the in-memory ledger otherwise.
func (f *DefaultFactory) OpenLedger(ctx context.Context, cfg Config) (sheets.LedgerWriter, error) {
	if cfg.GoogleSpreadsheetID == "" {
		f.logger.Warn("No spreadsheet configured, ledger rows stay in memory")
		return ledgermem.New(), nil
	}
	cli, err := gsheet.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.Info("Initialized Google Sheets ledger")
	return cli, nil
}
