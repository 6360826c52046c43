package cache

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Tier selects which storage backing an entry lives in. The same logical key
// can hold different entries in different tiers at the same time.
type Tier int

const (
	// Ephemeral entries live only for the lifetime of the process.
	Ephemeral Tier = iota
	// Session entries survive navigation within one session.
	Session
	// Persistent entries survive restarts.
	Persistent
)

// Tiers lists every tier in routing order.
var Tiers = []Tier{Ephemeral, Session, Persistent}

func (t Tier) String() string {
	switch t {
	case Ephemeral:
		return "ephemeral"
	case Session:
		return "session"
	case Persistent:
		return "persistent"
	default:
		return "unknown"
	}
}

// ParseTier converts a tier name into a Tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(s) {
	case "", "ephemeral":
		return Ephemeral, nil
	case "session":
		return Session, nil
	case "persistent":
		return Persistent, nil
	default:
		return Ephemeral, errors.Newf("cache: unknown tier %q", s)
	}
}

var (
	// ErrQuotaExceeded marks a write rejected by a capacity-constrained tier.
	ErrQuotaExceeded = errors.New("cache: storage quota exceeded")
	// ErrCorruptEntry marks stored data that could not be decoded.
	ErrCorruptEntry = errors.New("cache: corrupt entry")
)

// Backend is the storage contract for a single tier. Keys are full keys,
// namespace prefix included.
type Backend interface {
	// Get returns the valid entry for key, or found=false when the key is
	// absent or expired. An expired entry found during Get is removed before
	// returning.
	Get(ctx context.Context, key string) (bool, any, error)
	// Set overwrites key unconditionally and restarts its TTL clock. If
	// ttl <= 0 the backend's configured default TTL is used.
	Set(ctx context.Context, key string, val any, ttl time.Duration) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) (bool, error)
	// RemoveMatching deletes every key the predicate accepts and returns how
	// many were removed.
	RemoveMatching(ctx context.Context, match func(key string) bool) (int, error)
	// SweepExpired removes every expired entry and returns how many were
	// removed. Safe to call concurrently with reads.
	SweepExpired(ctx context.Context) (int, error)
	// Len returns the number of stored entries, expired ones included.
	Len(ctx context.Context) (int, error)
	// Close releases the backend's resources.
	Close(ctx context.Context) error
}

// Matcher decides whether a key (namespace prefix already stripped) should be
// invalidated.
type Matcher func(key string) bool

// MatchSubstring matches keys containing substr.
func MatchSubstring(substr string) Matcher {
	return func(key string) bool { return strings.Contains(key, substr) }
}

// MatchRegexp matches keys against re.
func MatchRegexp(re *regexp.Regexp) Matcher {
	return func(key string) bool { return re.MatchString(key) }
}

// DefaultTTL is used when Set is called with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// DefaultQueryTimeout bounds each operation against I/O-backed tiers
// (SQLite, Redis) so slow storage cannot hang a read path.
const DefaultQueryTimeout = 5 * time.Second

// DefaultSweepInterval is how often the background sweep visits each tier.
const DefaultSweepInterval = time.Minute

type config struct {
	defaultTTL   time.Duration
	queryTimeout time.Duration
	capacity     int
	prefix       string
}

// Option configures a Backend implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultTTL:   DefaultTTL,
		queryTimeout: DefaultQueryTimeout,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithDefaultTTL sets the TTL used when Set is called with ttl <= 0.
// Defaults to DefaultTTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed tiers.
// Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithCapacity caps the number of entries a backend will hold. Writes past
// the cap fail with ErrQuotaExceeded. Zero means unbounded. Applies to the
// memory backend.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithPrefix sets a key prefix applied below the namespace, for sharing one
// Redis instance between applications. Applies to the Redis backend.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}
