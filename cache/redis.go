package cache

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

type redisBackend struct {
	client *redis.Client
	cfg    config
}

var _ Backend = (*redisBackend)(nil)

// NewRedis returns a Backend stored in Redis, suitable for the session tier.
// Values are serialized to msgpack and expiry uses native Redis TTLs, so
// SweepExpired has nothing to do. The caller owns the redis.Client
// lifecycle — Close does not close the client.
func NewRedis(client *redis.Client, opts ...Option) Backend {
	return &redisBackend{client: client, cfg: applyOptions(opts)}
}

func (r *redisBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.cfg.queryTimeout)
}

func (r *redisBackend) prefixKey(key string) string {
	if r.cfg.prefix == "" {
		return key
	}
	return r.cfg.prefix + ":" + key
}

func (r *redisBackend) stripPrefix(key string) string {
	if r.cfg.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, r.cfg.prefix+":")
}

func (r *redisBackend) Get(ctx context.Context, key string) (bool, any, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	data, err := r.client.Get(qctx, r.prefixKey(key)).Bytes()
	if err == redis.Nil {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, data, nil
}

func (r *redisBackend) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.cfg.defaultTTL
	}
	data, err := msgpack.Marshal(val)
	if err != nil {
		return err
	}
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	if err := r.client.Set(qctx, r.prefixKey(key), data, ttl).Err(); err != nil {
		// Redis reports maxmemory rejections with an OOM prefix.
		if strings.Contains(err.Error(), "OOM") {
			return errors.Mark(err, ErrQuotaExceeded)
		}
		return err
	}
	return nil
}

func (r *redisBackend) Remove(ctx context.Context, key string) (bool, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	n, err := r.client.Del(qctx, r.prefixKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisBackend) scanPattern() string {
	if r.cfg.prefix == "" {
		return "*"
	}
	return r.cfg.prefix + ":*"
}

func (r *redisBackend) RemoveMatching(ctx context.Context, match func(key string) bool) (int, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	var doomed []string
	iter := r.client.Scan(qctx, 0, r.scanPattern(), 100).Iterator()
	for iter.Next(qctx) {
		if match(r.stripPrefix(iter.Val())) {
			doomed = append(doomed, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(qctx, doomed...).Result()
	return int(n), err
}

// SweepExpired is a no-op — Redis expires keys natively.
func (r *redisBackend) SweepExpired(_ context.Context) (int, error) {
	return 0, nil
}

func (r *redisBackend) Len(ctx context.Context) (int, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	var count int
	iter := r.client.Scan(qctx, 0, r.scanPattern(), 100).Iterator()
	for iter.Next(qctx) {
		count++
	}
	return count, iter.Err()
}

// Close is a no-op — the caller owns the redis.Client lifecycle.
func (r *redisBackend) Close(_ context.Context) error {
	return nil
}
