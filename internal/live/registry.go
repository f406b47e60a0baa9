package live

import (
	"context"
	"sync"
	"time"

	"frota/internal/cache"
	"frota/internal/log"
	"frota/internal/metrics"
	"frota/internal/store"
)

// Registry shares one Session per account between concurrent readers.
// Sessions idle for longer than the TTL, or pushed out by newer accounts
// once the registry is full, are closed.
type Registry struct {
	sub     store.Subscriber
	logger  *log.Logger
	mu      sync.Mutex
	entries *cache.LRUCache[*Session]
	manager *cache.Manager
}

func NewRegistry(sub store.Subscriber, maxSessions int, ttl time.Duration, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	r := &Registry{
		sub:     sub,
		logger:  logger.WithComponent(log.ComponentLive),
		entries: cache.NewLRUCache[*Session](maxSessions, ttl),
		manager: cache.NewManager(logger),
	}
	r.entries.OnEvict(func(account string, s *Session) {
		s.Close()
		metrics.LiveSessions.Dec()
		r.logger.Debug("Live session closed", log.FieldAccountID, account)
	})
	r.manager.Register(r.entries)
	return r
}

// Start sweeps idle sessions every interval until Close.
func (r *Registry) Start(interval time.Duration) {
	r.manager.StartCleanup(interval)
}

// Acquire returns the account's session, opening it on first use. Every
// call extends the session's idle deadline.
func (r *Registry) Acquire(ctx context.Context, account string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.entries.Get(account); ok {
		r.entries.Touch(account)
		return s, nil
	}
	s, err := Open(ctx, r.sub, account, r.logger)
	if err != nil {
		return nil, err
	}
	metrics.LiveSessions.Inc()
	r.entries.Set(account, s)
	r.logger.Debug("Live session opened", log.FieldAccountID, account)
	return s, nil
}

func (r *Registry) Len() int { return r.entries.Size() }

// Close stops the sweeper and closes every session.
func (r *Registry) Close() {
	r.manager.Stop()
	r.entries.Purge()
}
