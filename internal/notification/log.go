package notification

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// logNotificationChannel appends notifications to a history file. The file
// is rotated once it reaches MaxSizeMB, keeping a single backup.
type logNotificationChannel struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
}

// NewLogNotificationChannel creates a new log notification channel
func NewLogNotificationChannel(cfg *LogNotificationConfig) NotificationChannel {
	return &logNotificationChannel{
		writer: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: 1,
		},
	}
}

// Send writes a notification to the log file
func (c *logNotificationChannel) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Format: 2026-03-10T10:30:00Z [SUCCESS] Task updated successfully!
	typeStr := strings.ToUpper(string(n.Type))
	line := fmt.Sprintf("%s [%s] %s\n", n.Timestamp.UTC().Format(time.RFC3339), typeStr, n.Message)

	if _, err := c.writer.Write([]byte(line)); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return nil
}

// Close closes the log file
func (c *logNotificationChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer.Close()
}

// ReadLog reads and returns all entries from the log file
func ReadLog(path string) ([]string, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var entries []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		entries = append(entries, scanner.Text())
	}

	return entries, scanner.Err()
}

// ClearLog truncates the history file
func ClearLog(path string) error {
	return os.WriteFile(path, []byte{}, 0644)
}
