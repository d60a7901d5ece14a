package audit

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/medsafe-analysis-server/internal/domain"
)

// LogSink writes audit events as structured log lines
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a sink that logs each event at Info level
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Save logs event
func (s *LogSink) Save(ctx context.Context, event *domain.AuditEvent) error {
	fields := logrus.Fields{
		"audit_id":    event.ID,
		"audit_event": event.Event,
		"recorded_at": event.RecordedAt,
	}
	for k, v := range event.Metadata {
		fields["audit_"+k] = v
	}
	s.logger.WithFields(fields).Info("Audit event")
	return nil
}

// Close is a no-op
func (s *LogSink) Close() error {
	return nil
}
