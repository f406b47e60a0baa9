// Package store defines the record store contract the fleet services depend
// on: account-scoped collections of flat JSON documents with create, put,
// update, delete, queries and change subscriptions.
//
// Backends live in sub-packages (memory, sqlstore, mongostore). They share
// the snapshot fan-out in Hub and the document helpers in doc.go.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Collection string

const (
	Trucks       Collection = "trucks"
	Machinery    Collection = "machinery"
	Drivers      Collection = "drivers"
	Trips        Collection = "trips"
	Rentals      Collection = "rentals"
	Transactions Collection = "transactions"
)

// Collections lists every collection in backup order.
var Collections = []Collection{Trucks, Machinery, Drivers, Trips, Rentals, Transactions}

func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// Document is one stored record. Data is a flat JSON object without the id
// and without the account scope, both of which the backend keeps aside.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Snapshot is the full content of one collection for one account. Err is set
// when the backend failed to load the collection; Documents is then empty.
type Snapshot struct {
	AccountID  string
	Collection Collection
	Documents  []Document
	Version    uint64
	At         time.Time
	Err        error
}

type Reader interface {
	Get(ctx context.Context, account string, c Collection, id string) (Document, error)
	List(ctx context.Context, account string, c Collection) ([]Document, error)
	// Find returns the documents whose top-level field equals value.
	Find(ctx context.Context, account string, c Collection, field, value string) ([]Document, error)
}

type Writer interface {
	Create(ctx context.Context, account string, c Collection, data []byte) (string, error)
	// Put stores data under id, replacing any existing document.
	Put(ctx context.Context, account string, c Collection, id string, data []byte) error
	// Update merges patch into the top level of the document. A nil value
	// removes the key.
	Update(ctx context.Context, account string, c Collection, id string, patch map[string]any) error
	Delete(ctx context.Context, account string, c Collection, id string) error
}

type Subscriber interface {
	// Subscribe delivers the current snapshot and then one per change until
	// ctx ends, when the channel is closed. A reader that falls behind only
	// sees the newest snapshot.
	Subscribe(ctx context.Context, account string, c Collection) (<-chan Snapshot, error)
}

type Store interface {
	Reader
	Writer
	Subscriber
	Close() error
}

// Completion moves a child record to completed and rolls its end reading
// onto the parent asset's counter.
type Completion struct {
	Child      Collection
	ChildID    string
	ChildPatch map[string]any

	Parent   Collection
	ParentID string
	// Field is the parent's counter. It is set to Value only when Reading is
	// greater than the counter's current value.
	Field   string
	Reading decimal.Decimal
	Value   any
}

// Pinger is implemented by backends that can check their connection
// without reading any account's records.
type Pinger interface {
	Ping(ctx context.Context) error
}

type CompletionResult struct {
	CounterUpdated bool
}

// Transactor is implemented by backends able to apply a Completion
// atomically. The child must still be in_progress when the write happens,
// otherwise the backend returns core.InvalidStateError and writes nothing.
// A missing parent does not abort the completion.
type Transactor interface {
	Complete(ctx context.Context, account string, c Completion) (CompletionResult, error)
}
