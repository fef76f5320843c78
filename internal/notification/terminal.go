package notification

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	detailStyle  = lipgloss.NewStyle().Faint(true)
)

// terminalChannel prints one toast line per notification
type terminalChannel struct {
	out    io.Writer
	config *TerminalConfig
	mu     sync.Mutex
}

// NewTerminalChannel creates a channel writing styled toasts to out
func NewTerminalChannel(out io.Writer, cfg *TerminalConfig) NotificationChannel {
	return &terminalChannel{out: out, config: cfg}
}

// Send writes the toast line
func (c *terminalChannel) Send(n Notification) error {
	if c.config.Quiet && n.Type != NotifyError {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, FormatToast(n))
	return err
}

// Close is a no-op
func (c *terminalChannel) Close() error {
	return nil
}

// FormatToast renders n as a single styled line.
func FormatToast(n Notification) string {
	var badge string
	switch n.Type {
	case NotifySuccess:
		badge = successStyle.Render("✓")
	case NotifyError:
		badge = errorStyle.Render("✗")
	default:
		badge = infoStyle.Render("i")
	}

	line := badge + " " + n.Message
	if n.Title != "" && n.Title != n.Message {
		line += " " + detailStyle.Render("("+n.Title+")")
	}
	return line
}
