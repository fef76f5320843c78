// Package mutation runs writes against the remote API with optional
// optimistic cache patches, reconciling on success and rolling back on
// failure.
package mutation

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskdash/internal/cache"
	"taskdash/internal/notification"
	"taskdash/internal/utils"
)

// Patch rewrites every cache entry under Prefix. Apply receives a copy of
// the entry data and returns the patched value, or nil to leave it alone.
type Patch struct {
	Prefix cache.QueryKey
	Apply  func(key cache.QueryKey, data any) any
}

// Snapshot holds the cache entries a mutation patched, as they were
// before the patch.
type Snapshot struct {
	Entries []cache.EntrySnapshot
}

// Empty reports whether nothing was captured.
func (s Snapshot) Empty() bool {
	return len(s.Entries) == 0
}

// Rollback restores every entry captured in s.
func Rollback(c *cache.Cache, s Snapshot) {
	for i := len(s.Entries) - 1; i >= 0; i-- {
		c.Restore(s.Entries[i])
	}
}

// Spec describes one mutation.
type Spec[T any] struct {
	// Name labels the mutation in logs and notification titles.
	Name string
	// Resources are locked for the whole mutation. Mutations sharing a
	// resource run one at a time.
	Resources []string
	// Patches are applied before Run. Nil for non-optimistic mutations.
	Patches []Patch
	// Run performs the network call.
	Run func(ctx context.Context) (T, error)
	// Reconcile writes the authoritative response into the cache.
	Reconcile func(c *cache.Cache, result T)
	// Remove lists key prefixes deleted on success.
	Remove []cache.QueryKey
	// Invalidate lists key prefixes marked stale on success.
	Invalidate []cache.QueryKey

	SuccessMessage string
	FailureMessage string
}

// Coordinator executes mutations against a cache.
type Coordinator struct {
	cache    *cache.Cache
	notifier notification.Notifier
	log      *zap.Logger
	locks    *lockSet
	hook     func(Transition)
	inflight atomic.Int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(co *Coordinator) {
		if log != nil {
			co.log = log
		}
	}
}

// WithTransitionHook registers fn to observe every state change.
func WithTransitionHook(fn func(Transition)) Option {
	return func(co *Coordinator) { co.hook = fn }
}

// New creates a coordinator. A nil notifier drops notifications.
func New(c *cache.Cache, notifier notification.Notifier, opts ...Option) *Coordinator {
	co := &Coordinator{
		cache:    c,
		notifier: notifier,
		log:      zap.NewNop(),
		locks:    newLockSet(),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// InFlight returns the number of mutations that hold their locks.
func (co *Coordinator) InFlight() int {
	return int(co.inflight.Load())
}

// Execute runs spec. The mutation waits for its resources, applies the
// optimistic patches, then calls Run. On success the response is
// reconciled and dependent queries are removed or invalidated. On failure
// the patched entries are restored and the error is returned unchanged.
// Either way a notification is sent. Mutations are never retried.
func Execute[T any](ctx context.Context, co *Coordinator, spec Spec[T]) (T, error) {
	var zero T
	m := &Mutation{ID: uuid.NewString(), Name: spec.Name, hook: co.hook}
	log := co.log.With(zap.String("mutation", spec.Name), zap.String("mutation_id", m.ID))

	unlock, err := co.locks.acquire(ctx, spec.Resources)
	if err != nil {
		log.Debug("mutation abandoned before start", zap.Error(err))
		return zero, err
	}
	defer unlock()
	co.inflight.Add(1)
	defer co.inflight.Add(-1)

	var snap Snapshot
	if len(spec.Patches) > 0 {
		for _, p := range spec.Patches {
			snap.Entries = append(snap.Entries, co.cache.ApplyPatch(p.Prefix, p.Apply)...)
		}
		if err := m.advance(StateOptimistic); err != nil {
			return zero, err
		}
		log.Debug("optimistic patch applied", zap.Int("entries", len(snap.Entries)))
	}

	if err := m.advance(StateInFlight); err != nil {
		Rollback(co.cache, snap)
		return zero, err
	}

	result, err := spec.Run(ctx)
	if err != nil {
		Rollback(co.cache, snap)
		_ = m.advance(StateFailed)
		log.Debug("mutation failed", zap.Error(err), zap.Int("rolled_back", len(snap.Entries)))
		co.notify(failureNotification(m, spec.FailureMessage, err))
		return zero, err
	}

	if spec.Reconcile != nil {
		spec.Reconcile(co.cache, result)
	}
	for _, key := range spec.Remove {
		co.cache.Remove(key)
	}
	for _, key := range spec.Invalidate {
		co.cache.Invalidate(key)
	}
	_ = m.advance(StateSucceeded)
	log.Debug("mutation succeeded")

	if spec.SuccessMessage != "" {
		n := notification.Success(spec.Name, spec.SuccessMessage)
		n.Metadata = map[string]string{"mutation_id": m.ID}
		co.notify(n)
	}
	return result, nil
}

func (co *Coordinator) notify(n notification.Notification) {
	if co.notifier == nil {
		return
	}
	if err := co.notifier.Send(n); err != nil {
		co.log.Warn("notification failed", zap.Error(err))
	}
}

// failureNotification prefers the message the server or local validation
// produced and falls back to the mutation's generic message.
func failureNotification(m *Mutation, fallback string, err error) notification.Notification {
	msg := fallback
	meta := map[string]string{"mutation_id": m.ID}
	if apiErr, ok := utils.AsAPIError(err); ok {
		meta["kind"] = string(apiErr.Kind)
		serverMessage := apiErr.Status > 0 && apiErr.Message != http.StatusText(apiErr.Status)
		if serverMessage || apiErr.Kind == utils.KindValidation {
			msg = apiErr.Message
		}
	}
	if msg == "" {
		msg = err.Error()
	}
	n := notification.Failure(m.Name, msg)
	n.Metadata = meta
	return n
}
