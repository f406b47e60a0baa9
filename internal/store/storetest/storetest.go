// Package storetest runs the same behavioural checks against every store
// backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"frota/internal/core"
	"frota/internal/store"

	"github.com/shopspring/decimal"
)

// Factory returns a fresh, empty store. It should register its own cleanup.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, newStore(t)) })
	t.Run("AccountScope", func(t *testing.T) { testAccountScope(t, newStore(t)) })
	t.Run("Find", func(t *testing.T) { testFind(t, newStore(t)) })
	t.Run("Subscribe", func(t *testing.T) { testSubscribe(t, newStore(t)) })
	t.Run("Complete", func(t *testing.T) { testComplete(t, newStore(t)) })
}

func testCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.Create(ctx, "acct", store.Trucks, []byte(`{"plate":"ABC1D23","mileage":100}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("create returned empty id")
	}

	doc, err := s.Get(ctx, "acct", store.Trucks, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if store.Field(doc.Data, "plate") != "ABC1D23" {
		t.Fatalf("unexpected body %s", doc.Data)
	}

	if err := s.Update(ctx, "acct", store.Trucks, id, map[string]any{"mileage": 250}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, _ = s.Get(ctx, "acct", store.Trucks, id)
	if store.Field(doc.Data, "mileage") != "250" || store.Field(doc.Data, "plate") != "ABC1D23" {
		t.Fatalf("update should merge, got %s", doc.Data)
	}

	if err := s.Put(ctx, "acct", store.Trucks, "fixed-id", []byte(`{"plate":"XYZ9A87"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "acct", store.Trucks, "fixed-id", []byte(`{"plate":"XYZ9A88"}`)); err != nil {
		t.Fatalf("put replace: %v", err)
	}
	docs, err := s.List(ctx, "acct", store.Trucks)
	if err != nil || len(docs) != 2 {
		t.Fatalf("list: %d docs, err %v", len(docs), err)
	}

	if err := s.Delete(ctx, "acct", store.Trucks, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "acct", store.Trucks, id); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.Update(ctx, "acct", store.Trucks, id, map[string]any{"x": 1}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
	if err := s.Delete(ctx, "acct", store.Trucks, id); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func testAccountScope(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.Create(ctx, "a1", store.Drivers, []byte(`{"cpf":"1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "a2", store.Drivers, id); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("other account must not see the record, got %v", err)
	}
	if docs, _ := s.List(ctx, "a2", store.Drivers); len(docs) != 0 {
		t.Fatalf("other account listed %d docs", len(docs))
	}
	if docs, err := s.List(ctx, "", store.Drivers); err != nil || len(docs) != 0 {
		t.Fatalf("empty account must read empty collections, got %d %v", len(docs), err)
	}
	if _, err := s.Create(ctx, "", store.Drivers, []byte(`{}`)); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("write without account must fail validation, got %v", err)
	}
}

func testFind(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, cpf := range []string{"111", "222", "111"} {
		if _, err := s.Create(ctx, "acct", store.Drivers, []byte(`{"cpf":"`+cpf+`"}`)); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := s.Find(ctx, "acct", store.Drivers, "cpf", "111")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(docs))
	}
	if docs, _ := s.Find(ctx, "acct", store.Drivers, "cpf", "333"); len(docs) != 0 {
		t.Fatalf("expected no match, got %d", len(docs))
	}
}

func next(t *testing.T, ch <-chan store.Snapshot) store.Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
	}
	return store.Snapshot{}
}

func testSubscribe(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, "acct", store.Transactions)
	if err != nil {
		t.Fatal(err)
	}
	if snap := next(t, ch); len(snap.Documents) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d", len(snap.Documents))
	}

	id, err := s.Create(ctx, "acct", store.Transactions, []byte(`{"amount":"10"}`))
	if err != nil {
		t.Fatal(err)
	}
	if snap := next(t, ch); len(snap.Documents) != 1 || snap.Documents[0].ID != id {
		t.Fatalf("expected created document in snapshot, got %+v", snap)
	}

	if err := s.Delete(ctx, "acct", store.Transactions, id); err != nil {
		t.Fatal(err)
	}
	if snap := next(t, ch); len(snap.Documents) != 0 {
		t.Fatalf("expected empty snapshot after delete, got %d", len(snap.Documents))
	}
}

func testComplete(t *testing.T, s store.Store) {
	tx, ok := s.(store.Transactor)
	if !ok {
		t.Skip("backend has no atomic completion")
	}
	ctx := context.Background()
	truck, _ := s.Create(ctx, "acct", store.Trucks, []byte(`{"plate":"ABC1D23","mileage":150000}`))
	trip, _ := s.Create(ctx, "acct", store.Trips, []byte(`{"truckId":"`+truck+`","startKm":150000,"status":"in_progress"}`))

	c := store.Completion{
		Child: store.Trips, ChildID: trip,
		ChildPatch: map[string]any{"status": "completed", "endKm": 150500},
		Parent:     store.Trucks, ParentID: truck,
		Field: "mileage", Reading: decimal.NewFromInt(150500), Value: int64(150500),
	}
	res, err := tx.Complete(ctx, "acct", c)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.CounterUpdated {
		t.Fatal("expected counter update")
	}
	doc, _ := s.Get(ctx, "acct", store.Trucks, truck)
	if store.Field(doc.Data, "mileage") != "150500" {
		t.Fatalf("mileage = %s", store.Field(doc.Data, "mileage"))
	}
	doc, _ = s.Get(ctx, "acct", store.Trips, trip)
	if store.Field(doc.Data, "status") != "completed" {
		t.Fatalf("trip status = %s", store.Field(doc.Data, "status"))
	}

	if err := s.Update(ctx, "acct", store.Trucks, truck, map[string]any{"mileage": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Complete(ctx, "acct", c); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	doc, _ = s.Get(ctx, "acct", store.Trucks, truck)
	if store.Field(doc.Data, "mileage") != "1" {
		t.Fatalf("rejected completion must not touch the counter, got %s", doc.Data)
	}

	if _, err := tx.Complete(ctx, "acct", store.Completion{Child: store.Trips, ChildID: "missing"}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for missing child, got %v", err)
	}
}
