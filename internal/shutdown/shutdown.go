// Package shutdown coordinates interrupt handling and ordered cleanup for
// one CLI invocation: the cache is flushed to disk and connections are
// closed even when the user presses Ctrl-C mid-request.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// CleanupFunc releases one resource. The context is cancelled when the
// shutdown deadline passes.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager cancels its context on Shutdown and runs registered cleanups in
// reverse registration order.
type Manager struct {
	mu       sync.Mutex
	cleanups []cleanupEntry
	shutdown bool
	ran      bool
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used to report cleanup failures.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager creates a manager whose context derives from parent.
func NewManager(parent context.Context, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		log:    zap.NewNop(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterCleanup adds fn under name. Cleanups run last-registered first,
// so register a resource right after opening it.
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// Shutdown cancels the context. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		m.shutdown = true
		m.mu.Unlock()
		m.cancel()
	})
}

// ListenForSignals calls Shutdown on SIGINT or SIGTERM until stop is called.
func (m *Manager) ListenForSignals() (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			m.log.Debug("interrupted", zap.String("signal", sig.String()))
			m.Shutdown()
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
		})
	}
}

// Wait runs every cleanup once and returns their joined errors. A
// cleanup still running when ctx ends is abandoned and ctx.Err is returned.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	if m.ran {
		m.mu.Unlock()
		return nil
	}
	m.ran = true
	cleanups := make([]cleanupEntry, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			c := cleanups[i]
			if err := c.fn(ctx); err != nil {
				m.log.Warn("cleanup failed", zap.String("resource", c.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			}
		}
		result <- errors.Join(errs...)
	}()

	select {
	case err := <-result:
		m.cancel()
		return err
	case <-ctx.Done():
		m.cancel()
		return ctx.Err()
	}
}

// IsShutdown reports whether Shutdown was called.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Context is cancelled by Shutdown. Pass it to every request so an
// interrupt aborts in-flight work.
func (m *Manager) Context() context.Context {
	return m.ctx
}
