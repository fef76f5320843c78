// Package cache provides the client-side query cache: keyed entries with
// staleness tracking, deduplicated fetches and snapshot/restore support for
// optimistic mutations.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultStaleTime is how long fetched data counts as fresh.
	DefaultStaleTime = time.Minute
	// DefaultGCTime is how long an unused entry is retained.
	DefaultGCTime = 5 * time.Minute
	// DefaultExpiryCheck is how often the janitor looks for unused entries.
	DefaultExpiryCheck = time.Minute
)

// ErrClosed is returned when fetching from a closed cache.
var ErrClosed = errors.New("cache is closed")

// Fetcher loads the data for one query.
type Fetcher func(ctx context.Context) (any, error)

// Policy controls freshness and retention of a query.
// Zero fields fall back to the cache defaults.
type Policy struct {
	StaleTime time.Duration
	GCTime    time.Duration
}

// Cloner is implemented by cached values that hold reference types.
// Snapshots and reads hand out clones so callers never share state with
// the cache.
type Cloner interface {
	CloneValue() any
}

func cloneValue(v any) any {
	if c, ok := v.(Cloner); ok {
		return c.CloneValue()
	}
	return v
}

// EntrySnapshot is a point-in-time copy of one entry.
// Present is false when the key had no entry.
type EntrySnapshot struct {
	Key       QueryKey
	Present   bool
	Data      any
	FetchedAt time.Time
	Stale     bool
	Policy    Policy
}

type entry struct {
	key        QueryKey
	data       any
	fetchedAt  time.Time
	lastAccess time.Time
	stale      bool
	policy     Policy
}

type flight struct {
	key        QueryKey
	cancel     context.CancelFunc
	version    uint64
	waiters    int
	background bool
	abandoned  bool
}

// Cache is a concurrency-safe query cache.
type Cache struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	entries  map[string]*entry
	versions map[string]uint64
	flights  map[string]*flight
	gen      uint64
	closed   bool

	group singleflight.Group

	now           func() time.Time
	log           *zap.Logger
	metrics       *Metrics
	defaultPolicy Policy
	expiryCheck   time.Duration

	waitGroup sync.WaitGroup
	inflight  sync.WaitGroup
	once      sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithExpiryCheck sets the janitor interval.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *Cache) { c.expiryCheck = d }
}

// WithDefaultPolicy sets the policy used when a query does not supply one.
func WithDefaultPolicy(p Policy) Option {
	return func(c *Cache) { c.defaultPolicy = p }
}

// New creates a cache and starts its janitor. Close stops it.
func New(ctx context.Context, opts ...Option) *Cache {
	childCtx, cancel := context.WithCancel(ctx)
	c := &Cache{
		ctx:           childCtx,
		cancel:        cancel,
		entries:       make(map[string]*entry),
		versions:      make(map[string]uint64),
		flights:       make(map[string]*flight),
		now:           time.Now,
		log:           zap.NewNop(),
		defaultPolicy: Policy{StaleTime: DefaultStaleTime, GCTime: DefaultGCTime},
		expiryCheck:   DefaultExpiryCheck,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.expiryCheck <= 0 {
		c.expiryCheck = DefaultExpiryCheck
	}

	c.waitGroup.Add(1)
	go c.run()

	return c
}

func (c *Cache) resolve(p Policy) Policy {
	if p.StaleTime <= 0 {
		p.StaleTime = c.defaultPolicy.StaleTime
	}
	if p.GCTime <= 0 {
		p.GCTime = c.defaultPolicy.GCTime
	}
	return p
}

// Fetch returns the data for key. Fresh data is served from the cache.
// Stale data is served immediately while a background refresh runs.
// Otherwise the caller waits for a fetch, sharing it with any concurrent
// caller of the same key. Leaving early via ctx does not cancel the fetch
// for the remaining waiters.
func (c *Cache) Fetch(ctx context.Context, key QueryKey, policy Policy, fetcher Fetcher) (any, error) {
	ks := key.String()
	policy = c.resolve(policy)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	now := c.now()
	if e, ok := c.entries[ks]; ok {
		e.lastAccess = now
		e.policy = policy
		data := cloneValue(e.data)
		if !e.stale && now.Sub(e.fetchedAt) < policy.StaleTime {
			c.mu.Unlock()
			c.metrics.HitsTotal.Inc()
			return data, nil
		}
		if _, running := c.flights[ks]; !running {
			c.startFlight(ks, key, policy, fetcher, true)
			c.log.Debug("background refresh", zap.String("key", ks))
		}
		c.mu.Unlock()
		c.metrics.StaleHitsTotal.Inc()
		return data, nil
	}

	f, joined := c.flights[ks]
	if joined {
		f.waiters++
		c.metrics.DedupWaitsTotal.Inc()
	} else {
		f = c.startFlight(ks, key, policy, fetcher, false)
		c.metrics.MissesTotal.Inc()
	}
	ch := c.group.DoChan(ks, c.runner(ks, f, policy, fetcher))
	c.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneValue(res.Val), nil
	case <-ctx.Done():
		c.leave(ks, f)
		return nil, ctx.Err()
	}
}

// startFlight registers a new flight for key. c.mu must be held.
func (c *Cache) startFlight(ks string, key QueryKey, policy Policy, fetcher Fetcher, background bool) *flight {
	f := &flight{
		key:        key,
		version:    c.versions[ks],
		background: background,
	}
	if !background {
		f.waiters = 1
	}
	c.flights[ks] = f
	if background {
		c.group.DoChan(ks, c.runner(ks, f, policy, fetcher))
	}
	return f
}

// runner returns the function executed once per flight. Later DoChan
// callers joining the same flight get its result without running it.
func (c *Cache) runner(ks string, f *flight, policy Policy, fetcher Fetcher) func() (any, error) {
	if f.cancel != nil {
		return func() (any, error) { return nil, nil }
	}
	fctx, cancel := context.WithCancel(c.ctx)
	f.cancel = cancel
	c.inflight.Add(1)

	return func() (any, error) {
		defer c.inflight.Done()
		defer cancel()

		c.metrics.FetchesTotal.Inc()
		data, err := fetcher(fctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.flights[ks] == f {
			delete(c.flights, ks)
			c.group.Forget(ks)
		}
		if err != nil {
			c.metrics.FetchErrorsTotal.Inc()
			c.log.Debug("fetch failed", zap.String("key", ks), zap.Error(err))
			return nil, err
		}
		if f.abandoned || c.closed || c.versions[ks] != f.version {
			c.metrics.DiscardedTotal.Inc()
			c.log.Debug("discarding superseded fetch", zap.String("key", ks))
			return data, nil
		}
		c.write(ks, f.key, data, policy)
		return cloneValue(data), nil
	}
}

// leave drops one waiter. The last foreground waiter cancels the fetch.
func (c *Cache) leave(ks string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 || f.background || c.flights[ks] != f {
		return
	}
	f.abandoned = true
	f.cancel()
	delete(c.flights, ks)
	c.group.Forget(ks)
}

// write stores data as a fresh entry. c.mu must be held.
func (c *Cache) write(ks string, key QueryKey, data any, policy Policy) {
	now := c.now()
	e, ok := c.entries[ks]
	if !ok {
		e = &entry{key: key}
		c.entries[ks] = e
		c.metrics.Entries.Inc()
	}
	e.data = cloneValue(data)
	e.fetchedAt = now
	e.lastAccess = now
	e.stale = false
	e.policy = policy
	c.bump(ks)
}

func (c *Cache) bump(ks string) {
	c.gen++
	c.versions[ks] = c.gen
}

// supersede detaches in-flight fetches under prefix so their results are
// never written. c.mu must be held.
func (c *Cache) supersede(prefix QueryKey, exact bool) {
	for ks, f := range c.flights {
		if exact && !f.key.Equal(prefix) || !exact && !f.key.HasPrefix(prefix) {
			continue
		}
		c.bump(ks)
		delete(c.flights, ks)
		c.group.Forget(ks)
	}
}

// Get returns a copy of the cached data for key, fresh or not.
func (c *Cache) Get(key QueryKey) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return nil, false
	}
	return cloneValue(e.data), true
}

// Set writes data for key as fresh and supersedes any fetch in flight.
func (c *Cache) Set(key QueryKey, data any) {
	ks := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	policy := c.defaultPolicy
	if e, ok := c.entries[ks]; ok {
		policy = e.policy
	}
	c.supersede(key, true)
	c.write(ks, key, data, policy)
}

// Update replaces the data for key with the result of fn, atomically.
// fn receives a copy of the current data. Returning false leaves the entry
// unchanged.
func (c *Cache) Update(key QueryKey, fn func(old any, ok bool) (any, bool)) bool {
	ks := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	var old any
	e, ok := c.entries[ks]
	if ok {
		old = cloneValue(e.data)
	}
	next, keep := fn(old, ok)
	if !keep {
		return false
	}
	policy := c.defaultPolicy
	if ok {
		policy = e.policy
	}
	c.supersede(key, true)
	c.write(ks, key, next, policy)
	return true
}

// Invalidate marks every entry under prefix as stale and supersedes the
// fetches in flight there. The next Fetch of a stale entry refreshes it.
// It returns the number of entries marked.
func (c *Cache) Invalidate(prefix QueryKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersede(prefix, false)
	n := 0
	for ks, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		e.stale = true
		c.bump(ks)
		n++
	}
	if n > 0 {
		c.log.Debug("invalidated", zap.String("prefix", prefix.String()), zap.Int("entries", n))
	}
	return n
}

// Remove deletes every entry under prefix.
func (c *Cache) Remove(prefix QueryKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersede(prefix, false)
	n := 0
	for ks, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		delete(c.entries, ks)
		c.bump(ks)
		n++
	}
	c.metrics.Entries.Sub(float64(n))
	return n
}

// Clear deletes every entry.
func (c *Cache) Clear() {
	c.Remove(nil)
}

// Peek returns a snapshot of key without touching its access time.
func (c *Cache) Peek(key QueryKey) EntrySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot(key)
}

func (c *Cache) snapshot(key QueryKey) EntrySnapshot {
	e, ok := c.entries[key.String()]
	if !ok {
		return EntrySnapshot{Key: key}
	}
	return EntrySnapshot{
		Key:       e.key,
		Present:   true,
		Data:      cloneValue(e.data),
		FetchedAt: e.fetchedAt,
		Stale:     e.stale,
		Policy:    e.policy,
	}
}

// ApplyPatch rewrites every entry under prefix with fn and supersedes the
// fetches in flight there. Snapshots of the entries as they were before
// the patch are returned in key order. fn returning nil leaves an entry
// as it is.
func (c *Cache) ApplyPatch(prefix QueryKey, fn func(key QueryKey, data any) any) []EntrySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersede(prefix, false)

	keys := make([]string, 0)
	for ks, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			keys = append(keys, ks)
		}
	}
	sort.Strings(keys)

	snaps := make([]EntrySnapshot, 0, len(keys))
	for _, ks := range keys {
		e := c.entries[ks]
		snaps = append(snaps, c.snapshot(e.key))
		next := fn(e.key, cloneValue(e.data))
		if next == nil {
			continue
		}
		e.data = next
		c.bump(ks)
	}
	return snaps
}

// Restore puts an entry back exactly as snap captured it. A snapshot of a
// missing entry removes the key.
func (c *Cache) Restore(snap EntrySnapshot) {
	ks := snap.Key.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersede(snap.Key, true)
	c.bump(ks)

	e, ok := c.entries[ks]
	if !snap.Present {
		if ok {
			delete(c.entries, ks)
			c.metrics.Entries.Dec()
		}
		return
	}
	if !ok {
		e = &entry{key: snap.Key}
		c.entries[ks] = e
		c.metrics.Entries.Inc()
	}
	e.policy = c.resolve(snap.Policy)
	e.data = cloneValue(snap.Data)
	e.fetchedAt = snap.FetchedAt
	e.stale = snap.Stale
	e.lastAccess = c.now()
}

// Dump returns snapshots of all entries in key order.
func (c *Cache) Dump() []EntrySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for ks := range c.entries {
		keys = append(keys, ks)
	}
	sort.Strings(keys)
	out := make([]EntrySnapshot, 0, len(keys))
	for _, ks := range keys {
		out = append(out, c.snapshot(c.entries[ks].key))
	}
	return out
}

// Hydrate seeds the cache with previously dumped entries. Seeded entries
// are stale so the first read refreshes them and keep the policy they
// were dumped with. Keys already present are left alone.
func (c *Cache) Hydrate(snaps []EntrySnapshot) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, s := range snaps {
		ks := s.Key.String()
		if !s.Present {
			continue
		}
		if _, ok := c.entries[ks]; ok {
			continue
		}
		c.entries[ks] = &entry{
			key:        s.Key,
			data:       cloneValue(s.Data),
			fetchedAt:  s.FetchedAt,
			lastAccess: now,
			stale:      true,
			policy:     c.resolve(s.Policy),
		}
		c.bump(ks)
		n++
	}
	c.metrics.Entries.Add(float64(n))
	return n
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// InFlight reports whether a fetch for key is running.
func (c *Cache) InFlight(key QueryKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.flights[key.String()]
	return ok
}

// WaitIdle blocks until every fetch started so far has finished.
func (c *Cache) WaitIdle() {
	c.inflight.Wait()
}

// Close stops the janitor, cancels running fetches and waits for them.
func (c *Cache) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		c.waitGroup.Wait()
		c.inflight.Wait()
	})
	return nil
}

func (c *Cache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.EvictExpired()
		}
	}
}

// EvictExpired removes entries that have not been read for their gc time
// and have no fetch in flight. It returns the number removed.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for ks, e := range c.entries {
		if _, running := c.flights[ks]; running {
			continue
		}
		if now.Sub(e.lastAccess) < e.policy.GCTime {
			continue
		}
		delete(c.entries, ks)
		delete(c.versions, ks)
		n++
	}
	if n > 0 {
		c.metrics.EvictionsTotal.Add(float64(n))
		c.metrics.Entries.Sub(float64(n))
		c.log.Debug("evicted unused entries", zap.Int("count", n))
	}
	return n
}

// FetchAs is Fetch with a typed result.
func FetchAs[T any](ctx context.Context, c *Cache, key QueryKey, policy Policy, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, policy, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache entry %s holds %T, want %T", key, v, zero)
	}
	return t, nil
}

// GetAs is Get with a typed result.
func GetAs[T any](c *Cache, key QueryKey) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
