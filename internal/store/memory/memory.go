// Package memory is an in-process record store used in development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"frota/internal/core"
	"frota/internal/store"

	"github.com/google/uuid"
)

type entry struct {
	data      []byte
	seq       uint64
	createdAt time.Time
	updatedAt time.Time
}

type Store struct {
	*store.Feed

	mu   sync.Mutex
	docs map[string]map[store.Collection]map[string]*entry
	seq  uint64
	now  func() time.Time
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)

func New() *Store {
	s := &Store{
		docs: make(map[string]map[store.Collection]map[string]*entry),
		now:  time.Now,
	}
	s.Feed = store.NewFeed(s.List)
	return s
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// bucket returns the documents of one collection, creating it when asked.
// Callers hold s.mu.
func (s *Store) bucket(account string, c store.Collection, create bool) map[string]*entry {
	byColl := s.docs[account]
	if byColl == nil {
		if !create {
			return nil
		}
		byColl = make(map[store.Collection]map[string]*entry)
		s.docs[account] = byColl
	}
	b := byColl[c]
	if b == nil && create {
		b = make(map[string]*entry)
		byColl[c] = b
	}
	return b
}

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

	s.mu.Lock()
	now := s.now()
	s.seq++
	s.bucket(account, c, true)[id] = &entry{data: clean, seq: s.seq, createdAt: now, updatedAt: now}
	s.mu.Unlock()

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

	s.mu.Lock()
	now := s.now()
	b := s.bucket(account, c, true)
	if prev, ok := b[id]; ok {
		prev.data, prev.updatedAt = clean, now
	} else {
		s.seq++
		b[id] = &entry{data: clean, seq: s.seq, createdAt: now, updatedAt: now}
	}
	s.mu.Unlock()

	s.Notify(ctx, account, c)
	return nil
}

func (s *Store) Update(ctx context.Context, account string, c store.Collection, id string, patch map[string]any) error {
	if err := checkWrite("update", account, c); err != nil {
		return err
	}

	s.mu.Lock()
	e, ok := s.bucket(account, c, false)[id]
	if !ok {
		s.mu.Unlock()
		return core.NewStoreError("update", string(c), core.ErrNotFound)
	}
	merged, err := store.Merge(e.data, patch)
	if err != nil {
		s.mu.Unlock()
		return core.NewStoreError("update", string(c), err)
	}
	e.data = merged
	e.updatedAt = s.now()
	s.mu.Unlock()

	s.Notify(ctx, account, c)
	return nil
}

func (s *Store) Delete(ctx context.Context, account string, c store.Collection, id string) error {
	if err := checkWrite("delete", account, c); err != nil {
		return err
	}

	s.mu.Lock()
	b := s.bucket(account, c, false)
	if _, ok := b[id]; !ok {
		s.mu.Unlock()
		return core.NewStoreError("delete", string(c), core.ErrNotFound)
	}
	delete(b, id)
	s.mu.Unlock()

	s.Notify(ctx, account, c)
	return nil
}

func (s *Store) Get(_ context.Context, account string, c store.Collection, id string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.bucket(account, c, false)[id]
	if !ok {
		return store.Document{}, core.NewStoreError("get", string(c), core.ErrNotFound)
	}
	return store.Document{ID: id, Data: append([]byte(nil), e.data...)}, nil
}

// List returns documents in creation order.
func (s *Store) List(_ context.Context, account string, c store.Collection) ([]store.Document, error) {
	return s.collect(account, c, func([]byte) bool { return true }), nil
}

func (s *Store) Find(_ context.Context, account string, c store.Collection, field, value string) ([]store.Document, error) {
	return s.collect(account, c, func(data []byte) bool {
		return store.Field(data, field) == value
	}), nil
}

func (s *Store) collect(account string, c store.Collection, keep func([]byte) bool) []store.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	type row struct {
		id string
		e  *entry
	}
	var rows []row
	for id, e := range s.bucket(account, c, false) {
		if keep(e.data) {
			rows = append(rows, row{id: id, e: e})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].e.seq < rows[j].e.seq })

	out := make([]store.Document, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.Document{ID: r.id, Data: append([]byte(nil), r.e.data...)})
	}
	return out
}

func (s *Store) Complete(ctx context.Context, account string, c store.Completion) (store.CompletionResult, error) {
	var res store.CompletionResult
	if err := checkWrite("complete", account, c.Child); err != nil {
		return res, err
	}

	s.mu.Lock()
	child, ok := s.bucket(account, c.Child, false)[c.ChildID]
	if !ok {
		s.mu.Unlock()
		return res, core.NewStoreError("complete", string(c.Child), core.ErrNotFound)
	}
	var parentData []byte
	parent, hasParent := s.bucket(account, c.Parent, false)[c.ParentID]
	if hasParent {
		parentData = parent.data
	}
	newChild, newParent, res, err := store.ApplyCompletion(c, child.data, parentData)
	if err != nil {
		s.mu.Unlock()
		return res, core.NewStoreError("complete", string(c.Child), err)
	}
	now := s.now()
	child.data, child.updatedAt = newChild, now
	if newParent != nil {
		parent.data, parent.updatedAt = newParent, now
	}
	s.mu.Unlock()

	s.Notify(ctx, account, c.Child)
	if res.CounterUpdated {
		s.Notify(ctx, account, c.Parent)
	}
	return res, nil
}
