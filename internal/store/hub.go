package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Loader reads a whole collection for an account.
type Loader func(ctx context.Context, account string, c Collection) ([]Document, error)

// Signal is told about every successful write. Hub implements it for a
// single process; RedisSignal spreads it across processes.
type Signal interface {
	Changed(ctx context.Context, account string, c Collection)
}

type subKey struct {
	account    string
	collection Collection
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Snapshot
	last   uint64
	closed bool
}

// offer replaces any unread snapshot with snap. Snapshots older than the
// last one delivered are dropped.
func (s *subscriber) offer(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || snap.Version < s.last {
		return
	}
	s.last = snap.Version
	select {
	case s.ch <- snap:
	default:
		select {
		case <-s.ch:
		default:
		}
		s.ch <- snap
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub fans collection snapshots out to subscribers in this process.
type Hub struct {
	load Loader

	mu      sync.Mutex
	subs    map[subKey]map[*subscriber]struct{}
	version map[subKey]uint64
}

func NewHub(load Loader) *Hub {
	return &Hub{
		load:    load,
		subs:    make(map[subKey]map[*subscriber]struct{}),
		version: make(map[subKey]uint64),
	}
}

func (h *Hub) Subscribe(ctx context.Context, account string, c Collection) (<-chan Snapshot, error) {
	key := subKey{account: account, collection: c}
	sub := &subscriber{ch: make(chan Snapshot, 1)}

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*subscriber]struct{})
	}
	h.subs[key][sub] = struct{}{}
	version := h.version[key]
	h.mu.Unlock()

	sub.offer(h.snapshot(ctx, key, version))

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if m := h.subs[key]; m != nil {
			delete(m, sub)
			if len(m) == 0 {
				delete(h.subs, key)
			}
		}
		h.mu.Unlock()
		sub.close()
	}()
	return sub.ch, nil
}

// Changed reloads the collection and pushes it to every subscriber of the
// account. It is a no-op when nobody listens.
func (h *Hub) Changed(ctx context.Context, account string, c Collection) {
	key := subKey{account: account, collection: c}

	h.mu.Lock()
	h.version[key]++
	version := h.version[key]
	targets := make([]*subscriber, 0, len(h.subs[key]))
	for sub := range h.subs[key] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	snap := h.snapshot(context.WithoutCancel(ctx), key, version)
	for _, sub := range targets {
		sub.offer(snap)
	}
}

// Subscribers reports how many readers follow the collection.
func (h *Hub) Subscribers(account string, c Collection) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[subKey{account: account, collection: c}])
}

func (h *Hub) snapshot(ctx context.Context, key subKey, version uint64) Snapshot {
	snap := Snapshot{AccountID: key.account, Collection: key.collection, Version: version, At: time.Now()}
	if key.account == "" {
		return snap
	}
	docs, err := h.load(ctx, key.account, key.collection)
	if err != nil {
		slog.WarnContext(ctx, "Snapshot load failed",
			"account_id", key.account,
			"collection", key.collection,
			"error", err)
		snap.Err = err
		return snap
	}
	snap.Documents = docs
	return snap
}

// Feed bundles a Hub with the Signal writes report to. Backends embed it to
// get Subscribe and Notify.
type Feed struct {
	hub    *Hub
	signal Signal
}

func NewFeed(load Loader) *Feed {
	h := NewHub(load)
	return &Feed{hub: h, signal: h}
}

func (f *Feed) Hub() *Hub { return f.hub }

// UseSignal routes change notifications through s. Call before serving.
func (f *Feed) UseSignal(s Signal) {
	if s != nil {
		f.signal = s
	}
}

func (f *Feed) Subscribe(ctx context.Context, account string, c Collection) (<-chan Snapshot, error) {
	return f.hub.Subscribe(ctx, account, c)
}

func (f *Feed) Notify(ctx context.Context, account string, c Collection) {
	f.signal.Changed(ctx, account, c)
}
