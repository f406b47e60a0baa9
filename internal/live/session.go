// Package live keeps an account's collections in memory by subscribing to
// the store's snapshots, so the dashboard can be recomputed on every change
// without reading the store again.
package live

import (
	"context"
	"sync"
	"time"

	"frota/internal/aggregate"
	"frota/internal/core"
	"frota/internal/filter"
	"frota/internal/log"
	"frota/internal/store"
)

// Session mirrors one account. Each collection is replaced wholesale by the
// newest snapshot; a snapshot carrying an error leaves the previous state.
type Session struct {
	account string
	logger  *log.Logger
	now     func() time.Time

	mu       sync.RWMutex
	records  aggregate.Records
	seen     map[store.Collection]bool
	version  uint64
	watchers map[chan uint64]struct{}
	ready    chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Open subscribes to every collection of account. The session keeps running
// until Close, independent of ctx, which only bounds the subscriptions.
func Open(ctx context.Context, sub store.Subscriber, account string, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		account:  account,
		logger:   logger.WithComponent(log.ComponentLive),
		now:      time.Now,
		seen:     make(map[store.Collection]bool, len(store.Collections)),
		watchers: make(map[chan uint64]struct{}),
		ready:    make(chan struct{}),
		cancel:   cancel,
	}

	for _, c := range store.Collections {
		ch, err := sub.Subscribe(runCtx, account, c)
		if err != nil {
			cancel()
			s.wg.Wait()
			return nil, core.NewStoreError("subscribe", string(c), err)
		}
		s.wg.Add(1)
		go s.consume(c, ch)
	}
	return s, nil
}

func (s *Session) Account() string { return s.account }

func (s *Session) consume(c store.Collection, ch <-chan store.Snapshot) {
	defer s.wg.Done()
	for snap := range ch {
		if snap.Err != nil {
			s.logger.Warn("Snapshot failed, keeping previous state",
				log.FieldAccountID, s.account,
				log.FieldCollection, c,
				log.FieldError, snap.Err)
			continue
		}
		s.apply(c, snap.Documents)
	}
}

func (s *Session) apply(c store.Collection, docs []store.Document) {
	var skipped int
	s.mu.Lock()
	switch c {
	case store.Trucks:
		s.records.Trucks, skipped = store.DecodeAllAs[core.Truck](docs)
	case store.Machinery:
		s.records.Machinery, skipped = store.DecodeAllAs[core.Machinery](docs)
	case store.Drivers:
		s.records.Drivers, skipped = store.DecodeAllAs[core.Driver](docs)
	case store.Trips:
		s.records.Trips, skipped = store.DecodeAllAs[core.Trip](docs)
	case store.Rentals:
		s.records.Rentals, skipped = store.DecodeAllAs[core.Rental](docs)
	case store.Transactions:
		s.records.Transactions, skipped = store.DecodeAllAs[core.Transaction](docs)
	}
	s.version++
	version := s.version
	wasReady := len(s.seen) == len(store.Collections)
	s.seen[c] = true
	if !wasReady && len(s.seen) == len(store.Collections) {
		close(s.ready)
	}
	for w := range s.watchers {
		offer(w, version)
	}
	s.mu.Unlock()

	if skipped > 0 {
		s.logger.Warn("Skipped unreadable records",
			log.FieldAccountID, s.account,
			log.FieldCollection, c,
			"skipped", skipped)
	}
}

// offer keeps only the newest version in a 1-slot channel.
func offer(ch chan uint64, v uint64) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Ready is closed once every collection has delivered a snapshot.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Wait blocks until the session is ready or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Records returns a copy of the current state.
func (s *Session) Records() aggregate.Records {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return aggregate.Records{
		Trucks:       append([]core.Truck(nil), s.records.Trucks...),
		Machinery:    append([]core.Machinery(nil), s.records.Machinery...),
		Drivers:      append([]core.Driver(nil), s.records.Drivers...),
		Trips:        append([]core.Trip(nil), s.records.Trips...),
		Rentals:      append([]core.Rental(nil), s.records.Rentals...),
		Transactions: append([]core.Transaction(nil), s.records.Transactions...),
	}
}

func (s *Session) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Session) Dashboard(c filter.Criteria) aggregate.Dashboard {
	return aggregate.BuildDashboard(s.now(), c, s.Records())
}

// Watch delivers the session version after every applied snapshot. A slow
// reader only sees the newest version. The channel closes when ctx ends or
// the session is closed.
func (s *Session) Watch(ctx context.Context) <-chan uint64 {
	in := make(chan uint64, 1)
	out := make(chan uint64)

	s.mu.Lock()
	closed := s.watchers == nil
	if !closed {
		s.watchers[in] = struct{}{}
	}
	s.mu.Unlock()
	if closed {
		close(out)
		return out
	}

	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			if s.watchers != nil {
				delete(s.watchers, in)
			}
			s.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close stops the subscriptions and ends every watcher.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.mu.Lock()
		for w := range s.watchers {
			close(w)
		}
		s.watchers = nil
		s.mu.Unlock()
	})
}
