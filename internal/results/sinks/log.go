// Package sinks provides Sink implementations for the result hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/verwatch/verwatch/internal/check"
)

// LogSink emits a structured log line per result. Useful during development
// or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the result using structured fields.
func (s *LogSink) Consume(_ context.Context, result check.Result) error {
	fields := []zap.Field{
		zap.String("package", result.PackageID),
		zap.String("source", result.SourceKind),
		zap.Int("attempts", result.Attempts),
		zap.Time("fetched_at", result.FetchedAt),
	}
	if result.Success {
		fields = append(fields,
			zap.String("version", result.Version.Version),
			zap.String("normalized", result.Version.Normalized),
		)
		s.logger.Info("check result", fields...)
		return nil
	}
	fields = append(fields,
		zap.String("error_kind", string(result.ErrKind)),
		zap.String("message", result.Message),
	)
	s.logger.Warn("check result", fields...)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
