package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// memoryShardCount is a power of two so the shard index reduces to a mask.
const memoryShardCount = 16

type memoryEntry struct {
	value     any
	writtenAt time.Time
	ttl       time.Duration
}

func (e *memoryEntry) expired(now time.Time) bool {
	return now.Sub(e.writtenAt) >= e.ttl
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryBackend struct {
	shards [memoryShardCount]*memoryShard
	size   atomic.Int64
	cfg    config
}

var _ Backend = (*memoryBackend)(nil)

// NewMemory returns an in-process Backend. Values are stored as-is with no
// serialization, so mutations through stored pointers are visible to every
// reader of the same key. Keys are spread over hash-selected shards to keep
// lock contention low.
func NewMemory(opts ...Option) Backend {
	m := &memoryBackend{cfg: applyOptions(opts)}
	for i := range m.shards {
		m.shards[i] = &memoryShard{entries: make(map[string]*memoryEntry)}
	}
	return m
}

func (m *memoryBackend) shard(key string) *memoryShard {
	return m.shards[xxhash.Sum64String(key)&(memoryShardCount-1)]
}

func (m *memoryBackend) Get(_ context.Context, key string) (bool, any, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false, nil, nil
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		m.size.Add(-1)
		return false, nil, nil
	}
	return true, e.value, nil
}

func (m *memoryBackend) Set(_ context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.cfg.defaultTTL
	}
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		if m.cfg.capacity > 0 && int(m.size.Load()) >= m.cfg.capacity {
			return errors.Mark(errors.Newf("memory backend full at %d entries", m.cfg.capacity), ErrQuotaExceeded)
		}
		m.size.Add(1)
	}
	s.entries[key] = &memoryEntry{value: val, writtenAt: time.Now(), ttl: ttl}
	return nil
}

func (m *memoryBackend) Remove(_ context.Context, key string) (bool, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	m.size.Add(-1)
	return true, nil
}

func (m *memoryBackend) RemoveMatching(_ context.Context, match func(key string) bool) (int, error) {
	var removed int
	for _, s := range m.shards {
		s.mu.Lock()
		for key := range s.entries {
			if match(key) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	m.size.Add(int64(-removed))
	return removed, nil
}

func (m *memoryBackend) SweepExpired(_ context.Context) (int, error) {
	now := time.Now()
	var removed int
	for _, s := range m.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if e.expired(now) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	m.size.Add(int64(-removed))
	return removed, nil
}

func (m *memoryBackend) Len(_ context.Context) (int, error) {
	return int(m.size.Load()), nil
}

func (m *memoryBackend) Close(_ context.Context) error {
	for _, s := range m.shards {
		s.mu.Lock()
		s.entries = make(map[string]*memoryEntry)
		s.mu.Unlock()
	}
	m.size.Store(0)
	return nil
}
