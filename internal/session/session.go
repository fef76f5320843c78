// Package session owns the client-side data layer for one signed-in user:
// the gateway, the query cache, the mutation coordinator and the token
// store. Views read through its query methods and write through its
// mutation methods.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taskdash/backend"
	"taskdash/internal/cache"
	"taskdash/internal/mutation"
	"taskdash/internal/notification"
)

// Config wires a Session.
type Config struct {
	Gateway backend.Gateway
	Tokens  backend.TokenStore

	// Cache is created when nil and then owned by the session.
	Cache *cache.Cache
	// Store persists the cache between runs. Optional.
	Store *cache.Store

	Notifier notification.Notifier
	Logger   *zap.Logger

	TaskPolicy        cache.Policy
	PreferencesPolicy cache.Policy

	Now func() time.Time
}

// unauthorizedSource is implemented by gateways that report 401s.
type unauthorizedSource interface {
	SetUnauthorizedHandler(fn func(loginPath string))
}

// Session is the data layer for one user.
type Session struct {
	gateway  backend.Gateway
	tokens   backend.TokenStore
	cache    *cache.Cache
	ownCache bool
	store    *cache.Store
	coord    *mutation.Coordinator
	log      *zap.Logger
	now      func() time.Time

	taskPolicy  cache.Policy
	prefsPolicy cache.Policy

	redirects chan string
}

// New creates a session. Call Start before use and Close when done.
func New(cfg Config) (*Session, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("session: gateway is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("session: token store is required")
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		gateway:     cfg.Gateway,
		tokens:      cfg.Tokens,
		cache:       cfg.Cache,
		store:       cfg.Store,
		log:         log,
		now:         now,
		taskPolicy:  cfg.TaskPolicy,
		prefsPolicy: cfg.PreferencesPolicy,
		redirects:   make(chan string, 1),
	}
	if s.taskPolicy == (cache.Policy{}) {
		s.taskPolicy = cache.Policy{StaleTime: 5 * time.Minute, GCTime: 10 * time.Minute}
	}
	if s.prefsPolicy == (cache.Policy{}) {
		s.prefsPolicy = cache.Policy{StaleTime: time.Hour, GCTime: 2 * time.Hour}
	}
	if s.cache == nil {
		s.cache = cache.New(context.Background(),
			cache.WithLogger(log.Named("cache")),
			cache.WithDefaultPolicy(s.taskPolicy),
		)
		s.ownCache = true
	}
	if s.store != nil {
		s.store.Register(
			backend.TaskList{},
			backend.Task{},
			backend.CalendarView{},
			backend.TaskReport{},
			backend.Preferences{},
			backend.TodoList{},
			backend.Todo{},
		)
	}

	s.coord = mutation.New(s.cache, cfg.Notifier, mutation.WithLogger(log.Named("mutation")))

	if src, ok := cfg.Gateway.(unauthorizedSource); ok {
		src.SetUnauthorizedHandler(s.handleUnauthorized)
	}
	return s, nil
}

// Start seeds the cache from the persistent store, if any. Seeded entries
// are stale, so the first read shows them and refreshes in the background.
func (s *Session) Start(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snaps, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading cached data: %w", err)
	}
	n := s.cache.Hydrate(snaps)
	s.log.Debug("cache hydrated", zap.Int("entries", n))
	return nil
}

// Close persists the cache, stops background work and closes the gateway.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if s.store != nil {
		s.cache.WaitIdle()
		if err := s.store.Save(ctx, s.cache.Dump()); err != nil {
			errs = append(errs, fmt.Errorf("saving cached data: %w", err))
		}
	}
	if s.ownCache {
		errs = append(errs, s.cache.Close())
	}
	errs = append(errs, s.gateway.Close())
	return errors.Join(errs...)
}

// Cache exposes the underlying query cache.
func (s *Session) Cache() *cache.Cache {
	return s.cache
}

// Redirects delivers the login path whenever the API rejects the session.
func (s *Session) Redirects() <-chan string {
	return s.redirects
}

// IsLoggedIn reports whether tokens are stored.
func (s *Session) IsLoggedIn() bool {
	tokens, err := s.tokens.Load()
	return err == nil && tokens != nil && tokens.AccessToken != ""
}

// handleUnauthorized runs after the gateway cleared the tokens on a 401.
func (s *Session) handleUnauthorized(loginPath string) {
	s.log.Info("session expired, redirecting to login", zap.String("path", loginPath))
	s.cache.Clear()
	select {
	case s.redirects <- loginPath:
	default:
	}
}
