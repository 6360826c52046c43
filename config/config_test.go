package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdash/go-fresh/cache"
	"github.com/opsdash/go-fresh/logger"
	"github.com/opsdash/go-fresh/stream"
)

const sampleConfig = `
log_level: debug
cache:
  sweep_interval: 30s
  default_ttl: 10m
  sqlite_path: ""
  prefix: dash
stream:
  url: wss://ops.example.com/live
  channels: [metrics, alerts]
  reconnect_interval_base: 2s
  backoff_cap: 1m
  max_reconnect_attempts: 5
queries:
  worker_list:
    ttl: 1h
    stale_time: 90s
    tier: session
    namespace: workers
    refetch_on_focus: true
  audit_log:
    ttl: 2d
    tier: persistent
    disabled: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fresh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "30s", cfg.Cache.SweepInterval)
	assert.Equal(t, "dash", cfg.Cache.Prefix)
	assert.Equal(t, "wss://ops.example.com/live", cfg.Stream.URL)
	assert.Equal(t, []string{"metrics", "alerts"}, cfg.Stream.Channels)
	assert.Len(t, cfg.Queries, 2)
	assert.True(t, cfg.Queries["worker_list"].RefetchOnFocus)
	assert.True(t, cfg.Queries["audit_log"].Disabled)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Stream.URL)
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "cache: [not a mapping"))
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FRESH_STREAM_URL", "wss://override.example.com/live")
	t.Setenv("FRESH_REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("FRESH_SQLITE_PATH", "/tmp/fresh.db")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "wss://override.example.com/live", cfg.Stream.URL)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Cache.RedisURL)
	assert.Equal(t, "/tmp/fresh.db", cfg.Cache.SQLitePath)
}

func TestDuration(t *testing.T) {
	d, err := Duration("", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = Duration("90s", 0)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	// Extended units beyond the stdlib syntax.
	d, err = Duration("2d", 0)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)

	_, err = Duration("soon", 0)
	assert.Error(t, err)
}

func TestQueryOptions(t *testing.T) {
	opts, err := QueryOptions[string](QueryConfig{
		TTL:            "1h",
		StaleTime:      "90s",
		Tier:           "session",
		Namespace:      "workers",
		RefetchOnFocus: true,
	})
	require.NoError(t, err)
	assert.True(t, opts.Enabled)
	assert.Equal(t, time.Hour, opts.TTL)
	assert.Equal(t, 90*time.Second, opts.StaleTime)
	assert.Equal(t, cache.Session, opts.Tier)
	assert.Equal(t, "workers", opts.Namespace)
	assert.True(t, opts.RefetchOnFocus)

	opts, err = QueryOptions[string](QueryConfig{Disabled: true})
	require.NoError(t, err)
	assert.False(t, opts.Enabled)
	assert.Equal(t, cache.Ephemeral, opts.Tier)
	assert.Equal(t, cache.DefaultNamespace, opts.Namespace)

	_, err = QueryOptions[string](QueryConfig{Tier: "galactic"})
	assert.Error(t, err)

	_, err = QueryOptions[string](QueryConfig{TTL: "whenever"})
	assert.Error(t, err)
}

func TestBuildStoreWithSQLite(t *testing.T) {
	cc := CacheConfig{
		DefaultTTL: "1m",
		SQLitePath: filepath.Join(t.TempDir(), "cache.db"),
	}
	store, err := cc.BuildStore(context.Background(), logger.NewTestLogger())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	store.Set(ctx, cache.Persistent, "cfg", "k", "v", time.Minute)
	found, val := cache.GetAs[string](ctx, store, cache.Persistent, "cfg", "k")
	assert.True(t, found)
	assert.Equal(t, "v", val)
}

func TestBuildStoreRejectsBadRedisURL(t *testing.T) {
	cc := CacheConfig{RedisURL: "http://not-redis"}
	_, err := cc.BuildStore(context.Background(), logger.NewTestLogger())
	assert.Error(t, err)
}

func TestBuildStoreRejectsBadDurations(t *testing.T) {
	cc := CacheConfig{SweepInterval: "often"}
	_, err := cc.BuildStore(context.Background(), logger.NewTestLogger())
	assert.Error(t, err)
}

func TestClientConfig(t *testing.T) {
	sc := StreamConfig{
		URL:                   "wss://ops.example.com/live",
		Channels:              []string{"metrics"},
		ReconnectIntervalBase: "2s",
		BackoffCap:            "1m",
		MaxReconnectAttempts:  5,
	}
	cfg, err := sc.ClientConfig(stream.Handlers{})
	require.NoError(t, err)
	assert.Equal(t, "wss://ops.example.com/live", cfg.URL)
	assert.Equal(t, []string{"metrics"}, cfg.Channels)
	assert.Equal(t, 2*time.Second, cfg.ReconnectIntervalBase)
	assert.Equal(t, time.Minute, cfg.BackoffCap)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)

	// Zero values keep client defaults.
	cfg, err = (&StreamConfig{}).ClientConfig(stream.Handlers{})
	require.NoError(t, err)
	assert.Equal(t, stream.DefaultReconnectIntervalBase, cfg.ReconnectIntervalBase)
	assert.Equal(t, stream.DefaultBackoffCap, cfg.BackoffCap)
	assert.Equal(t, stream.DefaultMaxReconnectAttempts, cfg.MaxReconnectAttempts)
}
