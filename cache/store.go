package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/opsdash/go-fresh/logger"
)

// DefaultNamespace applies when a namespace is not specified.
const DefaultNamespace = "default"

// FullKey joins a namespace and key into the tier-level storage key.
func FullKey(namespace, key string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + ":" + key
}

// Stats reports per-tier entry counts.
type Stats struct {
	Entries map[Tier]int
}

// Store routes namespaced keys to tier backends and owns the periodic sweep
// that keeps abandoned keys from accumulating. Every read and write on Store
// is best-effort: backend failures are logged, never surfaced — a broken
// cache degrades to a cache that always misses.
type Store struct {
	ctx           context.Context
	cancel        context.CancelFunc
	waitGroup     sync.WaitGroup
	once          sync.Once
	log           logger.Logger
	backends      map[Tier]Backend
	sweepInterval time.Duration
	defaultTTL    time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithBackend wires a tier to a Backend. Tiers left unwired fall back to
// independent in-memory backends, which keeps tests hermetic.
func WithBackend(t Tier, b Backend) StoreOption {
	return func(s *Store) { s.backends[t] = b }
}

// WithSweepInterval sets how often expired entries are swept from every
// tier. Defaults to DefaultSweepInterval.
func WithSweepInterval(d time.Duration) StoreOption {
	return func(s *Store) { s.sweepInterval = d }
}

// WithStoreDefaultTTL sets the TTL applied when Set is called with ttl <= 0.
func WithStoreDefaultTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.defaultTTL = d }
}

// New returns a Store. The parent context bounds the background sweep
// goroutine; Close (or cancelling the parent) stops it.
func New(parent context.Context, log logger.Logger, opts ...StoreOption) *Store {
	ctx, cancel := context.WithCancel(parent)
	s := &Store{
		ctx:           ctx,
		cancel:        cancel,
		log:           log.WithPrefix("[cache]"),
		backends:      make(map[Tier]Backend, len(Tiers)),
		sweepInterval: DefaultSweepInterval,
		defaultTTL:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, t := range Tiers {
		if s.backends[t] == nil {
			s.backends[t] = NewMemory(WithDefaultTTL(s.defaultTTL))
		}
	}
	s.waitGroup.Add(1)
	go s.run()
	return s
}

func (s *Store) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, t := range Tiers {
				if n := s.ClearExpired(s.ctx, t); n > 0 {
					s.log.Trace("swept %d expired entries from %s tier", n, t)
				}
			}
		}
	}
}

// Get returns the valid entry for key, or found=false when absent, expired,
// or unreadable. Serialized tiers return raw []byte; use GetAs for decoding.
func (s *Store) Get(ctx context.Context, tier Tier, namespace, key string) (bool, any) {
	fk := FullKey(namespace, key)
	found, val, err := s.backends[tier].Get(ctx, fk)
	if err != nil {
		s.log.Warn("read of %s failed on %s tier: %s", fk, tier, err)
		return false, nil
	}
	return found, val
}

// GetAs retrieves and decodes a typed value. Stored data that cannot be
// decoded into T is treated as corrupt: the entry is removed and the read
// reports a miss.
func GetAs[T any](ctx context.Context, s *Store, tier Tier, namespace, key string) (bool, T) {
	var zero T
	found, val := s.Get(ctx, tier, namespace, key)
	if !found {
		return false, zero
	}
	if typed, ok := val.(T); ok {
		return true, typed
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err == nil {
			return true, result
		}
	}
	// Wrong shape for T. Drop the entry so the next read refetches.
	s.log.Warn("%s: discarding %s from %s tier", ErrCorruptEntry, FullKey(namespace, key), tier)
	s.Remove(ctx, tier, namespace, key)
	return false, zero
}

// Set overwrites key with val, restarting its TTL clock. A quota rejection
// triggers one sweep of the tier and one retry; a write that still fails is
// dropped with a log line.
func (s *Store) Set(ctx context.Context, tier Tier, namespace, key string, val any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	fk := FullKey(namespace, key)
	backend := s.backends[tier]
	err := backend.Set(ctx, fk, val, ttl)
	if err == nil {
		return
	}
	if errors.Is(err, ErrQuotaExceeded) {
		swept, sweepErr := backend.SweepExpired(ctx)
		if sweepErr != nil {
			s.log.Warn("quota sweep of %s tier failed: %s", tier, sweepErr)
		} else {
			s.log.Debug("%s tier over quota, swept %d expired entries", tier, swept)
		}
		if err = backend.Set(ctx, fk, val, ttl); err == nil {
			return
		}
	}
	s.log.Warn("dropping write of %s to %s tier: %s", fk, tier, err)
}

// Remove deletes key from the tier. Removing an absent key is a no-op.
func (s *Store) Remove(ctx context.Context, tier Tier, namespace, key string) {
	fk := FullKey(namespace, key)
	if _, err := s.backends[tier].Remove(ctx, fk); err != nil {
		s.log.Warn("remove of %s failed on %s tier: %s", fk, tier, err)
	}
}

// Has reports whether a valid entry exists, with the same lazy-expiry side
// effect as Get.
func (s *Store) Has(ctx context.Context, tier Tier, namespace, key string) bool {
	found, _ := s.Get(ctx, tier, namespace, key)
	return found
}

// InvalidateMatching removes every key in tier+namespace that the matcher
// accepts. Keys in other namespaces and tiers are untouched. Returns how
// many entries were removed.
func (s *Store) InvalidateMatching(ctx context.Context, tier Tier, namespace string, match Matcher) int {
	prefix := FullKey(namespace, "")
	n, err := s.backends[tier].RemoveMatching(ctx, func(fullKey string) bool {
		if !strings.HasPrefix(fullKey, prefix) {
			return false
		}
		return match(strings.TrimPrefix(fullKey, prefix))
	})
	if err != nil {
		s.log.Warn("pattern invalidation on %s tier failed: %s", tier, err)
	}
	return n
}

// ClearExpired sweeps one tier and returns how many entries were removed.
func (s *Store) ClearExpired(ctx context.Context, tier Tier) int {
	n, err := s.backends[tier].SweepExpired(ctx)
	if err != nil {
		s.log.Warn("sweep of %s tier failed: %s", tier, err)
	}
	return n
}

// ClearNamespace removes every entry in the namespace across all tiers.
func (s *Store) ClearNamespace(ctx context.Context, namespace string) {
	prefix := FullKey(namespace, "")
	for _, t := range Tiers {
		if _, err := s.backends[t].RemoveMatching(ctx, func(fullKey string) bool {
			return strings.HasPrefix(fullKey, prefix)
		}); err != nil {
			s.log.Warn("namespace clear of %q on %s tier failed: %s", namespace, t, err)
		}
	}
}

// Stats returns per-tier entry counts. Counts include not-yet-swept expired
// entries on tiers that expire lazily.
func (s *Store) Stats(ctx context.Context) Stats {
	stats := Stats{Entries: make(map[Tier]int, len(Tiers))}
	for _, t := range Tiers {
		n, err := s.backends[t].Len(ctx)
		if err != nil {
			s.log.Warn("stats read on %s tier failed: %s", t, err)
			continue
		}
		stats.Entries[t] = n
	}
	return stats
}

// Close stops the background sweep and closes every backend. Idempotent.
func (s *Store) Close() error {
	var firstErr error
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
		for _, t := range Tiers {
			if err := s.backends[t].Close(context.Background()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
