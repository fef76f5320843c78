package notification

import (
	"io"
	"os"

	"go.uber.org/zap"
)

// manager implements NotificationManager
type manager struct {
	channels        []NotificationChannel
	enabled         bool
	commandExecutor CommandExecutor
	terminalOut     io.Writer
	logger          *zap.Logger
	extra           []NotificationChannel
}

// WithTerminalWriter sets where terminal toasts are written (default stderr)
func WithTerminalWriter(w io.Writer) Option {
	return func(c interface{}) {
		if mgr, ok := c.(*manager); ok {
			mgr.terminalOut = w
		}
	}
}

// WithLogger adds a channel that records every notification on logger
func WithLogger(logger *zap.Logger) Option {
	return func(c interface{}) {
		if mgr, ok := c.(*manager); ok {
			mgr.logger = logger
		}
	}
}

// WithChannel adds a custom channel
func WithChannel(ch NotificationChannel) Option {
	return func(c interface{}) {
		if mgr, ok := c.(*manager); ok {
			mgr.extra = append(mgr.extra, ch)
		}
	}
}

// NewManager creates a new NotificationManager based on configuration
func NewManager(cfg *Config, opts ...Option) (NotificationManager, error) {
	m := &manager{
		channels:    []NotificationChannel{},
		enabled:     cfg.Enabled,
		terminalOut: os.Stderr,
	}

	// Apply options first to get command executor
	for _, opt := range opts {
		opt(m)
	}

	if !cfg.Enabled {
		return m, nil
	}

	if cfg.Terminal.Enabled {
		m.channels = append(m.channels, NewTerminalChannel(m.terminalOut, &cfg.Terminal))
	}

	if cfg.OSNotification.Enabled {
		var osOpts []Option
		if m.commandExecutor != nil {
			osOpts = append(osOpts, WithCommandExecutor(m.commandExecutor))
		}
		m.channels = append(m.channels, NewOSNotificationChannel(&cfg.OSNotification, osOpts...))
	}

	if cfg.LogNotification.Enabled {
		m.channels = append(m.channels, NewLogNotificationChannel(&cfg.LogNotification))
	}

	if m.logger != nil {
		m.channels = append(m.channels, NewZapChannel(m.logger))
	}

	m.channels = append(m.channels, m.extra...)

	return m, nil
}

// Send dispatches notification to all enabled channels
func (m *manager) Send(n Notification) error {
	if !m.enabled {
		return nil
	}

	var lastErr error
	for _, ch := range m.channels {
		if err := ch.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// SendAsync dispatches notification without blocking
func (m *manager) SendAsync(n Notification) {
	go func() {
		_ = m.Send(n)
	}()
}

// Close cleans up resources
func (m *manager) Close() error {
	var lastErr error
	for _, ch := range m.channels {
		if err := ch.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ChannelCount returns the number of active channels
func (m *manager) ChannelCount() int {
	return len(m.channels)
}
