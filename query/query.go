package query

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	"github.com/opsdash/go-fresh/cache"
	"github.com/opsdash/go-fresh/logger"
)

// ErrFetchFailed marks every error surfaced through Snapshot.Err, whatever
// the fetch function returned or panicked with.
var ErrFetchFailed = errors.New("query: fetch failed")

// FetchFunc produces the value for a query. It is supplied by the caller and
// invoked with the query's context; no other arguments are injected.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Options configures a Query. Use DefaultOptions as the starting point.
type Options[T any] struct {
	// Enabled gates fetching. A disabled query performs no fetch and reports
	// IsLoading until enabled — it models waiting for a prerequisite.
	Enabled bool
	// InitialData seeds the query (and the cache) without a fetch.
	InitialData *T
	// TTL is the cache entry lifetime for write-throughs.
	TTL time.Duration
	// StaleTime is how long fetched data is considered fresh. A background
	// check runs at half this interval.
	StaleTime time.Duration
	// Tier selects the cache tier for read-through and write-through.
	Tier cache.Tier
	// Namespace scopes the cache key.
	Namespace string
	// RefetchOnFocus revalidates when FocusSource fires, if stale.
	RefetchOnFocus bool
	// RefetchOnReconnect revalidates when OnlineSource fires, if stale.
	RefetchOnReconnect bool
	// FocusSource delivers window-regained-focus events.
	FocusSource Trigger
	// OnlineSource delivers network-reconnect events.
	OnlineSource Trigger
	// OnSuccess is invoked after each applied successful fetch.
	OnSuccess func(T)
	// OnError is invoked after each applied failed fetch.
	OnError func(error)
}

// DefaultOptions returns the options a Query uses when the caller does not
// override them.
func DefaultOptions[T any]() Options[T] {
	return Options[T]{
		Enabled:   true,
		TTL:       5 * time.Minute,
		StaleTime: 30 * time.Second,
		Tier:      cache.Ephemeral,
		Namespace: cache.DefaultNamespace,
	}
}

// Snapshot is an observable copy of a query's state. Fetch failures never
// propagate as panics or returned errors; consumers poll IsError and Err.
type Snapshot[T any] struct {
	Data       T
	HasData    bool
	IsLoading  bool
	IsFetching bool
	IsStale    bool
	IsError    bool
	Err        error
	LastFetch  time.Time
}

// Query binds one cache key to one fetch function with read-through caching,
// background revalidation, manual invalidation, and optimistic writes. Every
// Query sharing a store+tier+namespace+key sees the same cache entries, so
// SetData or Invalidate by one consumer is visible to all of them.
type Query[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	log    logger.Logger
	store  *cache.Store
	key    string
	fetch  FetchFunc[T]
	opts   Options[T]
	sf     singleflight.Group
	issued atomic.Uint64

	// writeMu serializes cache write-throughs; lastWritten keeps them in
	// issue order with the in-memory applies.
	writeMu     sync.Mutex
	lastWritten uint64

	mu        sync.Mutex
	enabled   bool
	data      T
	hasData   bool
	loading   bool
	inflight  int
	stale     bool
	err       error
	lastFetch time.Time
	applied   uint64
	teardown  []func()
}

// New returns a Query bound to key. If the cache holds a valid entry the
// query starts ready; otherwise, when enabled, an initial background fetch
// begins immediately. Close must be called when the consumer detaches.
func New[T any](parent context.Context, store *cache.Store, key string, fetch FetchFunc[T], opts Options[T], log logger.Logger) *Query[T] {
	def := DefaultOptions[T]()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.StaleTime <= 0 {
		opts.StaleTime = def.StaleTime
	}
	if opts.Namespace == "" {
		opts.Namespace = def.Namespace
	}
	ctx, cancel := context.WithCancel(parent)
	q := &Query[T]{
		ctx:     ctx,
		cancel:  cancel,
		log:     log.WithPrefix("[query]").With(map[string]interface{}{"key": key}),
		store:   store,
		key:     key,
		fetch:   fetch,
		opts:    opts,
		enabled: opts.Enabled,
		loading: true,
	}

	if opts.InitialData != nil {
		q.SetData(ctx, *opts.InitialData)
	} else if found, val := cache.GetAs[T](ctx, store, opts.Tier, opts.Namespace, key); found {
		q.data = val
		q.hasData = true
		q.loading = false
		q.lastFetch = time.Now()
		q.log.Trace("hydrated from cache")
	}

	if q.enabled && !q.hasData {
		go q.refetch(ctx)
	}

	q.wg.Add(1)
	go q.run()

	if opts.RefetchOnFocus && opts.FocusSource != nil {
		q.teardown = append(q.teardown, opts.FocusSource.Subscribe(func() {
			q.maybeRevalidate("focus")
		}))
	}
	if opts.RefetchOnReconnect && opts.OnlineSource != nil {
		q.teardown = append(q.teardown, opts.OnlineSource.Subscribe(func() {
			q.maybeRevalidate("reconnect")
		}))
	}
	return q
}

// run is the periodic staleness check. It wakes at half the stale time so
// data is flagged within one half-interval of going stale.
func (q *Query[T]) run() {
	defer q.wg.Done()
	interval := q.opts.StaleTime / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.maybeRevalidate("stale timer")
		}
	}
}

// maybeRevalidate marks the query stale and starts a background refetch,
// unless the data is still fresh or a fetch is already in flight.
func (q *Query[T]) maybeRevalidate(reason string) {
	q.mu.Lock()
	if !q.enabled || !q.hasData || time.Since(q.lastFetch) < q.opts.StaleTime {
		q.mu.Unlock()
		return
	}
	q.stale = true
	if q.inflight > 0 {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	q.log.Trace("revalidating (%s)", reason)
	go q.refetch(q.ctx)
}

// Refetch forces a foreground fetch. Concurrent callers for the same key are
// coalesced into a single round trip. On failure the last known-good data is
// retained and the error becomes observable through Snapshot.
func (q *Query[T]) Refetch(ctx context.Context) {
	q.refetch(ctx)
}

func (q *Query[T]) refetch(ctx context.Context) {
	q.mu.Lock()
	if !q.enabled {
		q.mu.Unlock()
		return
	}
	issue := q.issued.Add(1)
	q.inflight++
	if !q.hasData {
		q.loading = true
	}
	q.mu.Unlock()

	val, err, _ := q.sf.Do(q.key, func() (interface{}, error) {
		return q.safeFetch(ctx)
	})

	q.mu.Lock()
	q.inflight--
	if q.applied > issue {
		// A later-issued fetch or SetData already landed.
		q.mu.Unlock()
		q.log.Trace("discarded out-of-order completion")
		return
	}
	q.applied = issue
	if err != nil {
		q.err = errors.Mark(errors.Wrapf(err, "fetch %s", q.key), ErrFetchFailed)
		q.loading = false
		onError := q.opts.OnError
		q.mu.Unlock()
		q.log.Debug("fetch failed: %s", err)
		if onError != nil {
			onError(err)
		}
		return
	}
	typed := val.(T)
	q.data = typed
	q.hasData = true
	q.err = nil
	q.loading = false
	q.stale = false
	q.lastFetch = time.Now()
	onSuccess := q.opts.OnSuccess
	q.mu.Unlock()

	q.writeThrough(ctx, issue, typed)
	if onSuccess != nil {
		onSuccess(typed)
	}
}

// writeThrough persists an applied value to the cache. Writes are serialized
// and a write superseded by a later-issued apply is skipped, so the shared
// entry never regresses to an older result than the one other consumers can
// already observe through this query.
func (q *Query[T]) writeThrough(ctx context.Context, issue uint64, val T) {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	if issue < q.lastWritten {
		return
	}
	q.lastWritten = issue
	q.store.Set(ctx, q.opts.Tier, q.opts.Namespace, q.key, val, q.opts.TTL)
}

// safeFetch normalizes fetch panics into errors so nothing escapes into the
// consumer's control flow.
func (q *Query[T]) safeFetch(ctx context.Context) (val interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("fetch panicked: %v", r)
		}
	}()
	return q.fetch(ctx)
}

// Invalidate removes the cache entry for this key and performs an
// unconditional fetch, bypassing any flight already in progress.
func (q *Query[T]) Invalidate(ctx context.Context) {
	q.store.Remove(ctx, q.opts.Tier, q.opts.Namespace, q.key)
	q.sf.Forget(q.key)
	q.refetch(ctx)
}

// SetData replaces the in-memory data and writes through to the cache
// without a network round trip, resetting the staleness clock. A fetch
// completion that was issued before this call is discarded when it lands.
func (q *Query[T]) SetData(ctx context.Context, val T) {
	q.mu.Lock()
	issue := q.issued.Add(1)
	q.data = val
	q.hasData = true
	q.err = nil
	q.loading = false
	q.stale = false
	q.lastFetch = time.Now()
	q.applied = issue
	q.mu.Unlock()
	q.writeThrough(ctx, issue, val)
}

// SetEnabled flips the prerequisite gate. Enabling a query that has no data
// starts its initial fetch.
func (q *Query[T]) SetEnabled(enabled bool) {
	q.mu.Lock()
	was := q.enabled
	q.enabled = enabled
	hasData := q.hasData
	q.mu.Unlock()
	if enabled && !was && !hasData {
		go q.refetch(q.ctx)
	}
}

// Snapshot returns a copy of the current state.
func (q *Query[T]) Snapshot() Snapshot[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot[T]{
		Data:       q.data,
		HasData:    q.hasData,
		IsLoading:  q.loading,
		IsFetching: q.inflight > 0,
		IsStale:    q.stale,
		IsError:    q.err != nil,
		Err:        q.err,
		LastFetch:  q.lastFetch,
	}
}

// Close detaches the query: the staleness timer stops and every event
// subscription is released exactly once. A hung fetch is not waited for, so
// teardown never blocks on a slow transport.
func (q *Query[T]) Close() {
	q.once.Do(func() {
		q.cancel()
		q.mu.Lock()
		td := q.teardown
		q.teardown = nil
		q.mu.Unlock()
		for _, unsubscribe := range td {
			unsubscribe()
		}
		q.wg.Wait()
	})
}
