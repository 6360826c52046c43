package cache

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdash/go-fresh/logger"
)

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	s := New(context.Background(), logger.NewTestLogger(), opts...)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreScenarioSetGetExpire(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Set(ctx, Ephemeral, "", "k", map[string]int{"v": 1}, 50*time.Millisecond)
	found, val := s.Get(ctx, Ephemeral, "", "k")
	assert.True(t, found)
	assert.Equal(t, map[string]int{"v": 1}, val)

	time.Sleep(60 * time.Millisecond)
	found, val = s.Get(ctx, Ephemeral, "", "k")
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestStoreTierIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Set(ctx, Ephemeral, "", "k", "ephemeral value", time.Minute)
	s.Set(ctx, Session, "", "k", "session value", time.Minute)
	s.Set(ctx, Persistent, "", "k", "persistent value", time.Minute)

	_, v1 := s.Get(ctx, Ephemeral, "", "k")
	_, v2 := s.Get(ctx, Session, "", "k")
	_, v3 := s.Get(ctx, Persistent, "", "k")
	assert.Equal(t, "ephemeral value", v1)
	assert.Equal(t, "session value", v2)
	assert.Equal(t, "persistent value", v3)

	s.Remove(ctx, Session, "", "k")
	assert.False(t, s.Has(ctx, Session, "", "k"))
	assert.True(t, s.Has(ctx, Ephemeral, "", "k"))
	assert.True(t, s.Has(ctx, Persistent, "", "k"))
}

func TestStoreNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Set(ctx, Ephemeral, "alpha", "k", "from alpha", time.Minute)
	s.Set(ctx, Ephemeral, "beta", "k", "from beta", time.Minute)

	found, val := s.Get(ctx, Ephemeral, "alpha", "k")
	assert.True(t, found)
	assert.Equal(t, "from alpha", val)

	found, val = s.Get(ctx, Ephemeral, "beta", "k")
	assert.True(t, found)
	assert.Equal(t, "from beta", val)

	// The default namespace never saw the key at all.
	assert.False(t, s.Has(ctx, Ephemeral, "", "k"))
}

func TestStoreInvalidateMatchingPrecision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Set(ctx, Ephemeral, "jobs", "job:1", 1, time.Minute)
	s.Set(ctx, Ephemeral, "jobs", "job:2", 2, time.Minute)
	s.Set(ctx, Ephemeral, "jobs", "summary", 3, time.Minute)
	s.Set(ctx, Ephemeral, "users", "job:1", 4, time.Minute)
	s.Set(ctx, Session, "jobs", "job:1", 5, time.Minute)

	n := s.InvalidateMatching(ctx, Ephemeral, "jobs", MatchSubstring("job:"))
	assert.Equal(t, 2, n)

	assert.False(t, s.Has(ctx, Ephemeral, "jobs", "job:1"))
	assert.False(t, s.Has(ctx, Ephemeral, "jobs", "job:2"))
	// Untouched: other keys, other namespaces, other tiers.
	assert.True(t, s.Has(ctx, Ephemeral, "jobs", "summary"))
	assert.True(t, s.Has(ctx, Ephemeral, "users", "job:1"))
	assert.True(t, s.Has(ctx, Session, "jobs", "job:1"))
}

func TestStoreInvalidateMatchingRegexp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Set(ctx, Ephemeral, "", "task-12", 1, time.Minute)
	s.Set(ctx, Ephemeral, "", "task-9", 2, time.Minute)
	s.Set(ctx, Ephemeral, "", "taskforce", 3, time.Minute)

	n := s.InvalidateMatching(ctx, Ephemeral, "", MatchRegexp(regexp.MustCompile(`^task-\d+$`)))
	assert.Equal(t, 2, n)
	assert.True(t, s.Has(ctx, Ephemeral, "", "taskforce"))
}

func TestStoreClearNamespace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Set(ctx, Ephemeral, "doomed", "a", 1, time.Minute)
	s.Set(ctx, Session, "doomed", "b", 2, time.Minute)
	s.Set(ctx, Persistent, "doomed", "c", 3, time.Minute)
	s.Set(ctx, Ephemeral, "kept", "a", 4, time.Minute)

	s.ClearNamespace(ctx, "doomed")

	assert.False(t, s.Has(ctx, Ephemeral, "doomed", "a"))
	assert.False(t, s.Has(ctx, Session, "doomed", "b"))
	assert.False(t, s.Has(ctx, Persistent, "doomed", "c"))
	assert.True(t, s.Has(ctx, Ephemeral, "kept", "a"))
}

func TestStoreStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Set(ctx, Ephemeral, "", "a", 1, time.Minute)
	s.Set(ctx, Ephemeral, "", "b", 2, time.Minute)
	s.Set(ctx, Persistent, "", "c", 3, time.Minute)

	stats := s.Stats(ctx)
	assert.Equal(t, 2, stats.Entries[Ephemeral])
	assert.Equal(t, 0, stats.Entries[Session])
	assert.Equal(t, 1, stats.Entries[Persistent])
}

func TestStoreQuotaSweepRetry(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	s := New(context.Background(), log, WithBackend(Ephemeral, NewMemory(WithCapacity(1))))
	defer s.Close()

	// Fill the only slot with a short-lived entry, let it expire, then
	// write again: the quota rejection sweeps the dead entry and retries.
	s.Set(ctx, Ephemeral, "", "old", 1, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	s.Set(ctx, Ephemeral, "", "new", 2, time.Minute)

	found, val := s.Get(ctx, Ephemeral, "", "new")
	assert.True(t, found)
	assert.Equal(t, 2, val)
}

func TestStoreQuotaDropIsSilent(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	s := New(context.Background(), log, WithBackend(Ephemeral, NewMemory(WithCapacity(1))))
	defer s.Close()

	s.Set(ctx, Ephemeral, "", "a", 1, time.Minute)
	// Nothing expired to sweep, so this write is dropped — quietly.
	s.Set(ctx, Ephemeral, "", "b", 2, time.Minute)

	assert.False(t, s.Has(ctx, Ephemeral, "", "b"))
	assert.True(t, s.Has(ctx, Ephemeral, "", "a"))
	require.NotEmpty(t, log.EntriesBySeverity("WARN"))
}

func TestStoreCorruptEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	type record struct {
		Name string
	}
	// A stored value that cannot possibly decode into record.
	s.Set(ctx, Ephemeral, "", "bad", []byte{0xc1, 0xff, 0x00}, time.Minute)

	found, _ := GetAs[record](ctx, s, Ephemeral, "", "bad")
	assert.False(t, found)
	// The corrupt entry was dropped so the next read is a clean miss.
	assert.False(t, s.Has(ctx, Ephemeral, "", "bad"))
}

func TestStoreBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithSweepInterval(30*time.Millisecond))

	s.Set(ctx, Ephemeral, "", "dead", 1, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return s.Stats(ctx).Entries[Ephemeral] == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStoreGetAsTyped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	type point struct {
		X, Y int
	}
	s.Set(ctx, Ephemeral, "", "p", point{1, 2}, time.Minute)

	found, p := GetAs[point](ctx, s, Ephemeral, "", "p")
	assert.True(t, found)
	assert.Equal(t, point{1, 2}, p)
}

func TestFullKey(t *testing.T) {
	assert.Equal(t, "default:k", FullKey("", "k"))
	assert.Equal(t, "jobs:k", FullKey("jobs", "k"))
}

func TestParseTier(t *testing.T) {
	for name, want := range map[string]Tier{
		"":           Ephemeral,
		"ephemeral":  Ephemeral,
		"session":    Session,
		"Persistent": Persistent,
	} {
		got, err := ParseTier(name)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTier("bogus")
	assert.Error(t, err)
}
