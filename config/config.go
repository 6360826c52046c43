package config

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/opsdash/go-fresh/cache"
	"github.com/opsdash/go-fresh/logger"
	"github.com/opsdash/go-fresh/query"
	"github.com/opsdash/go-fresh/stream"
)

// Config is the YAML configuration surface for a dashboard client. Durations
// accept the extended syntax of str2duration ("90s", "1.5h", "2d").
type Config struct {
	LogLevel string                 `yaml:"log_level" json:"log_level"`
	Cache    CacheConfig            `yaml:"cache" json:"cache"`
	Stream   StreamConfig           `yaml:"stream" json:"stream"`
	Queries  map[string]QueryConfig `yaml:"queries" json:"queries"`
}

// CacheConfig wires the tiered store. Tiers without a configured backing
// fall back to in-memory.
type CacheConfig struct {
	SweepInterval string `yaml:"sweep_interval" json:"sweep_interval"`
	DefaultTTL    string `yaml:"default_ttl" json:"default_ttl"`
	RedisURL      string `yaml:"redis_url" json:"redis_url"`
	SQLitePath    string `yaml:"sqlite_path" json:"sqlite_path"`
	Prefix        string `yaml:"prefix" json:"prefix"`
}

// StreamConfig wires the push-channel client.
type StreamConfig struct {
	URL                   string   `yaml:"url" json:"url"`
	Channels              []string `yaml:"channels" json:"channels"`
	ReconnectIntervalBase string   `yaml:"reconnect_interval_base" json:"reconnect_interval_base"`
	BackoffCap            string   `yaml:"backoff_cap" json:"backoff_cap"`
	MaxReconnectAttempts  int      `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
}

// QueryConfig is a named per-dataset freshness policy.
type QueryConfig struct {
	TTL                string `yaml:"ttl" json:"ttl"`
	StaleTime          string `yaml:"stale_time" json:"stale_time"`
	Tier               string `yaml:"tier" json:"tier"`
	Namespace          string `yaml:"namespace" json:"namespace"`
	RefetchOnFocus     bool   `yaml:"refetch_on_focus" json:"refetch_on_focus"`
	RefetchOnReconnect bool   `yaml:"refetch_on_reconnect" json:"refetch_on_reconnect"`
	Disabled           bool   `yaml:"disabled" json:"disabled"`
}

// Duration parses a human duration, returning def for the empty string.
func Duration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse duration %q", s)
	}
	return d, nil
}

// Load reads a YAML config file and applies environment overrides
// (FRESH_STREAM_URL, FRESH_REDIS_URL, FRESH_SQLITE_PATH). A missing file is
// not an error — overrides alone can describe a working client.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err == nil {
			if err := yaml.Unmarshal(buf, &cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
		}
	}
	if v := os.Getenv("FRESH_STREAM_URL"); v != "" {
		cfg.Stream.URL = v
	}
	if v := os.Getenv("FRESH_REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("FRESH_SQLITE_PATH"); v != "" {
		cfg.Cache.SQLitePath = v
	}
	return &cfg, nil
}

// BuildStore materializes the tiered store this config describes. The
// session tier attaches to Redis when redis_url is set; the persistent tier
// to SQLite when sqlite_path is set.
func (c *CacheConfig) BuildStore(ctx context.Context, log logger.Logger) (*cache.Store, error) {
	sweep, err := Duration(c.SweepInterval, cache.DefaultSweepInterval)
	if err != nil {
		return nil, err
	}
	ttl, err := Duration(c.DefaultTTL, cache.DefaultTTL)
	if err != nil {
		return nil, err
	}
	opts := []cache.StoreOption{
		cache.WithSweepInterval(sweep),
		cache.WithStoreDefaultTTL(ttl),
	}
	if c.RedisURL != "" {
		ropts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, errors.Wrapf(err, "parse redis url")
		}
		client := redis.NewClient(ropts)
		opts = append(opts, cache.WithBackend(cache.Session,
			cache.NewRedis(client, cache.WithDefaultTTL(ttl), cache.WithPrefix(c.Prefix))))
	}
	if c.SQLitePath != "" {
		backend, err := cache.NewSQLite(c.SQLitePath, cache.WithDefaultTTL(ttl))
		if err != nil {
			return nil, errors.Wrapf(err, "open sqlite cache at %s", c.SQLitePath)
		}
		opts = append(opts, cache.WithBackend(cache.Persistent, backend))
	}
	return cache.New(ctx, log, opts...), nil
}

// ClientConfig converts to a stream.Config carrying the given handlers.
func (s *StreamConfig) ClientConfig(h stream.Handlers) (stream.Config, error) {
	cfg := stream.DefaultConfig()
	cfg.URL = s.URL
	cfg.Handlers = h
	if len(s.Channels) > 0 {
		cfg.Channels = s.Channels
	}
	var err error
	if cfg.ReconnectIntervalBase, err = Duration(s.ReconnectIntervalBase, cfg.ReconnectIntervalBase); err != nil {
		return cfg, err
	}
	if cfg.BackoffCap, err = Duration(s.BackoffCap, cfg.BackoffCap); err != nil {
		return cfg, err
	}
	if s.MaxReconnectAttempts > 0 {
		cfg.MaxReconnectAttempts = s.MaxReconnectAttempts
	}
	return cfg, nil
}

// QueryOptions converts a named policy to query.Options for a payload type.
func QueryOptions[T any](qc QueryConfig) (query.Options[T], error) {
	opts := query.DefaultOptions[T]()
	opts.Enabled = !qc.Disabled
	opts.RefetchOnFocus = qc.RefetchOnFocus
	opts.RefetchOnReconnect = qc.RefetchOnReconnect
	var err error
	if opts.TTL, err = Duration(qc.TTL, opts.TTL); err != nil {
		return opts, err
	}
	if opts.StaleTime, err = Duration(qc.StaleTime, opts.StaleTime); err != nil {
		return opts, err
	}
	if opts.Tier, err = cache.ParseTier(qc.Tier); err != nil {
		return opts, err
	}
	if qc.Namespace != "" {
		opts.Namespace = qc.Namespace
	}
	return opts, nil
}
