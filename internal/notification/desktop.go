package notification

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// osNotificationChannel sends notifications via OS-native notification systems
type osNotificationChannel struct {
	config   *OSNotificationConfig
	executor CommandExecutor
	platform string
}

// NewOSNotificationChannel creates a new desktop notification channel
func NewOSNotificationChannel(cfg *OSNotificationConfig, opts ...Option) NotificationChannel {
	ch := &osNotificationChannel{
		config:   cfg,
		platform: runtime.GOOS,
	}

	for _, opt := range opts {
		opt(ch)
	}

	if ch.executor == nil {
		ch.executor = &realCommandExecutor{}
	}

	return ch
}

// Send sends a notification via the OS notification system
func (c *osNotificationChannel) Send(n Notification) error {
	if !c.shouldSend(n.Type) {
		return nil
	}

	title := n.Title
	if title == "" {
		title = "taskdash"
	}

	switch c.platform {
	case "linux":
		return c.executor.Execute("notify-send", title, n.Message)
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`,
			escapeAppleScript(n.Message), escapeAppleScript(title))
		return c.executor.Execute("osascript", "-e", script)
	default:
		return fmt.Errorf("unsupported platform: %s", c.platform)
	}
}

func (c *osNotificationChannel) shouldSend(t NotificationType) bool {
	switch t {
	case NotifySuccess:
		return c.config.OnSuccess
	case NotifyError:
		return c.config.OnError
	default:
		return false
	}
}

// escapeAppleScript escapes backslashes and double quotes for AppleScript strings.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// Close cleans up resources
func (c *osNotificationChannel) Close() error {
	return nil
}

// realCommandExecutor executes real system commands
type realCommandExecutor struct{}

// Execute runs a command
func (e *realCommandExecutor) Execute(cmd string, args ...string) error {
	return exec.Command(cmd, args...).Run()
}
