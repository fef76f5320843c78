// Package notification delivers user-facing toasts for settled operations.
package notification

import (
	"time"
)

// NotificationType identifies the kind of notification
type NotificationType string

const (
	NotifySuccess NotificationType = "success"
	NotifyError   NotificationType = "error"
	NotifyInfo    NotificationType = "info"
)

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Timestamp time.Time
	Metadata  map[string]string
}

// Success builds a success notification stamped with the current time.
func Success(title, message string) Notification {
	return Notification{Type: NotifySuccess, Title: title, Message: message, Timestamp: time.Now()}
}

// Failure builds an error notification stamped with the current time.
func Failure(title, message string) Notification {
	return Notification{Type: NotifyError, Title: title, Message: message, Timestamp: time.Now()}
}

// Notifier is anything that accepts notifications.
type Notifier interface {
	Send(n Notification) error
}

// NotificationManager is the interface for managing notifications
type NotificationManager interface {
	Notifier
	SendAsync(n Notification)
	Close() error
	ChannelCount() int
}

// NotificationChannel is the interface for a notification channel
type NotificationChannel interface {
	Send(n Notification) error
	Close() error
}

// Config holds the notification configuration
type Config struct {
	Enabled         bool
	Terminal        TerminalConfig
	OSNotification  OSNotificationConfig
	LogNotification LogNotificationConfig
}

// TerminalConfig holds terminal toast configuration
type TerminalConfig struct {
	Enabled bool
	// Quiet suppresses success and info toasts; errors are always shown.
	Quiet bool
}

// OSNotificationConfig holds desktop notification configuration
type OSNotificationConfig struct {
	Enabled   bool
	OnSuccess bool
	OnError   bool
}

// LogNotificationConfig holds notification history configuration
type LogNotificationConfig struct {
	Enabled   bool
	Path      string
	MaxSizeMB int
}

// CommandExecutor is the interface for executing system commands
type CommandExecutor interface {
	Execute(cmd string, args ...string) error
}

// MockCommandExecutor is a mock implementation of CommandExecutor for testing
type MockCommandExecutor struct {
	ExecuteFunc func(cmd string, args ...string) error
}

// Execute implements CommandExecutor
func (m *MockCommandExecutor) Execute(cmd string, args ...string) error {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(cmd, args...)
	}
	return nil
}

// Option is a functional option for configuring notification channels
type Option func(interface{})

// WithCommandExecutor sets a custom command executor
func WithCommandExecutor(executor CommandExecutor) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.executor = executor
		}
		if mgr, ok := c.(*manager); ok {
			mgr.commandExecutor = executor
		}
	}
}

// WithPlatform sets the platform for desktop notifications
func WithPlatform(platform string) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.platform = platform
		}
	}
}
