package notification

import (
	"go.uber.org/zap"
)

// zapChannel records notifications as structured log entries
type zapChannel struct {
	logger *zap.Logger
}

// NewZapChannel creates a channel logging every notification on logger
func NewZapChannel(logger *zap.Logger) NotificationChannel {
	return &zapChannel{logger: logger.Named("notification")}
}

// Send logs n at a level matching its type
func (c *zapChannel) Send(n Notification) error {
	fields := []zap.Field{
		zap.String("type", string(n.Type)),
		zap.String("title", n.Title),
		zap.Time("timestamp", n.Timestamp),
	}
	for k, v := range n.Metadata {
		fields = append(fields, zap.String(k, v))
	}

	if n.Type == NotifyError {
		c.logger.Warn(n.Message, fields...)
	} else {
		c.logger.Info(n.Message, fields...)
	}
	return nil
}

// Close flushes the logger
func (c *zapChannel) Close() error {
	_ = c.logger.Sync()
	return nil
}
