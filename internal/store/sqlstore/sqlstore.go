// Package sqlstore keeps fleet documents in a single SQL table, on SQLite
// for single-node installs or PostgreSQL when several API processes share
// one database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"frota/internal/core"
	"frota/internal/store"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// fieldExpr returns the expression reading a top-level field of data as
// text, given the placeholder carrying the field name.
func (d Dialect) fieldExpr() string {
	if d == Postgres {
		return "data ->> ?"
	}
	return "CAST(json_extract(data, '$.' || ?) AS TEXT)"
}

func (d Dialect) lockSuffix() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type Store struct {
	*store.Feed

	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)

// OpenSQLite opens (and creates) the database file at path.
func OpenSQLite(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	s, err := open(SQLite, dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection keeps transactions from
	// tripping over SQLITE_BUSY.
	s.db.SetMaxOpenConns(1)
	return s, nil
}

func OpenPostgres(dsn string) (*Store, error) {
	s, err := open(Postgres, dsn)
	if err != nil {
		return nil, err
	}
	s.db.SetMaxOpenConns(10)
	s.db.SetConnMaxIdleTime(5 * time.Minute)
	return s, nil
}

func open(d Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(d, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{db: db, dialect: d, now: time.Now}
	s.Feed = store.NewFeed(s.List)
	slog.Info("Document store ready", "dialect", d)
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return core.NewStoreError("ping", "", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) q(query string) string { return s.dialect.rebind(query) }

func checkWrite(op, account string, c store.Collection) error {
	if account == "" {
		return &core.ValidationError{Field: store.KeyAccount, Reason: "is required"}
	}
	if !c.Valid() {
		return core.NewStoreError(op, string(c), &core.ValidationError{Field: "collection", Reason: "unknown"})
	}
	return nil
}

func (s *Store) Create(ctx context.Context, account string, c store.Collection, data []byte) (string, error) {
	if err := checkWrite("create", account, c); err != nil {
		return "", err
	}
	clean, err := store.Clean(data)
	if err != nil {
		return "", core.NewStoreError("create", string(c), err)
	}
	id := uuid.NewString()
	now := s.now().UnixNano()
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO documents (account_id, collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`), account, string(c), id, string(clean), now, now)
	if err != nil {
		return "", core.NewStoreError("create", string(c), err)
	}
	s.Notify(ctx, account, c)
	return id, nil
}

func (s *Store) Put(ctx context.Context, account string, c store.Collection, id string, data []byte) error {
	if err := checkWrite("put", account, c); err != nil {
		return err
	}
	clean, err := store.Clean(data)
	if err != nil {
		return core.NewStoreError("put", string(c), err)
	}
	now := s.now().UnixNano()
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO documents (account_id, collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`),
		account, string(c), id, string(clean), now, now)
	if err != nil {
		return core.NewStoreError("put", string(c), err)
	}
	s.Notify(ctx, account, c)
	return nil
}

func (s *Store) Update(ctx context.Context, account string, c store.Collection, id string, patch map[string]any) error {
	if err := checkWrite("update", account, c); err != nil {
		return err
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		data, err := s.lockRow(ctx, tx, account, c, id)
		if err != nil {
			return err
		}
		merged, err := store.Merge(data, patch)
		if err != nil {
			return err
		}
		return s.writeRow(ctx, tx, account, c, id, merged)
	})
	if err != nil {
		return core.NewStoreError("update", string(c), err)
	}
	s.Notify(ctx, account, c)
	return nil
}

func (s *Store) Delete(ctx context.Context, account string, c store.Collection, id string) error {
	if err := checkWrite("delete", account, c); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM documents WHERE account_id = ? AND collection = ? AND id = ?`),
		account, string(c), id)
	if err != nil {
		return core.NewStoreError("delete", string(c), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NewStoreError("delete", string(c), core.ErrNotFound)
	}
	s.Notify(ctx, account, c)
	return nil
}

func (s *Store) Get(ctx context.Context, account string, c store.Collection, id string) (store.Document, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT data FROM documents WHERE account_id = ? AND collection = ? AND id = ?`),
		account, string(c), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, core.NewStoreError("get", string(c), core.ErrNotFound)
	}
	if err != nil {
		return store.Document{}, core.NewStoreError("get", string(c), err)
	}
	return store.Document{ID: id, Data: data}, nil
}

// List returns documents in creation order.
func (s *Store) List(ctx context.Context, account string, c store.Collection) ([]store.Document, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, data FROM documents
		WHERE account_id = ? AND collection = ? ORDER BY created_at, id`), account, string(c))
	if err != nil {
		return nil, core.NewStoreError("list", string(c), err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, core.NewStoreError("list", string(c), err)
	}
	return docs, nil
}

func (s *Store) Find(ctx context.Context, account string, c store.Collection, field, value string) ([]store.Document, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, data FROM documents
		WHERE account_id = ? AND collection = ? AND `+s.dialect.fieldExpr()+` = ? ORDER BY created_at, id`),
		account, string(c), field, value)
	if err != nil {
		return nil, core.NewStoreError("find", string(c), err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, core.NewStoreError("find", string(c), err)
	}
	return docs, nil
}

func scanDocuments(rows *sql.Rows) ([]store.Document, error) {
	defer rows.Close()
	docs := []store.Document{}
	for rows.Next() {
		var d store.Document
		var data []byte
		if err := rows.Scan(&d.ID, &data); err != nil {
			return nil, err
		}
		d.Data = data
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Complete applies the completion inside one transaction.
func (s *Store) Complete(ctx context.Context, account string, c store.Completion) (store.CompletionResult, error) {
	var res store.CompletionResult
	if err := checkWrite("complete", account, c.Child); err != nil {
		return res, err
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		child, err := s.lockRow(ctx, tx, account, c.Child, c.ChildID)
		if err != nil {
			return err
		}
		parent, err := s.lockRow(ctx, tx, account, c.Parent, c.ParentID)
		if errors.Is(err, core.ErrNotFound) {
			parent = nil
		} else if err != nil {
			return err
		}

		newChild, newParent, r, err := store.ApplyCompletion(c, child, parent)
		if err != nil {
			return err
		}
		if err := s.writeRow(ctx, tx, account, c.Child, c.ChildID, newChild); err != nil {
			return err
		}
		if newParent != nil {
			if err := s.writeRow(ctx, tx, account, c.Parent, c.ParentID, newParent); err != nil {
				return err
			}
		}
		res = r
		return nil
	})
	if err != nil {
		return store.CompletionResult{}, core.NewStoreError("complete", string(c.Child), err)
	}

	s.Notify(ctx, account, c.Child)
	if res.CounterUpdated {
		s.Notify(ctx, account, c.Parent)
	}
	return res, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) lockRow(ctx context.Context, tx *sql.Tx, account string, c store.Collection, id string) ([]byte, error) {
	var data []byte
	err := tx.QueryRowContext(ctx, s.q(`SELECT data FROM documents WHERE account_id = ? AND collection = ? AND id = ?`+
		s.dialect.lockSuffix()), account, string(c), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return data, err
}

func (s *Store) writeRow(ctx context.Context, tx *sql.Tx, account string, c store.Collection, id string, data []byte) error {
	_, err := tx.ExecContext(ctx, s.q(`UPDATE documents SET data = ?, updated_at = ?
		WHERE account_id = ? AND collection = ? AND id = ?`),
		string(data), s.now().UnixNano(), account, string(c), id)
	return err
}
