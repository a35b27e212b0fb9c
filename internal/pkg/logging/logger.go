package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// SystemTraceID is used when no distributed trace context is available.
	SystemTraceID = "system"
	// SystemSpanID is used when no distributed span context is available.
	SystemSpanID = "system"
)

// NewLogger creates a production zap logger emitting JSON to stdout, with the
// service and environment identifiers bound to every entry.
func NewLogger(service, env string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	cfg.InitialFields = map[string]any{
		"service": service,
		"env":     env,
	}

	return cfg.Build()
}

// MustNewLogger is like NewLogger but panics if the logger cannot be created.
func MustNewLogger(service, env string) *zap.Logger {
	logger, err := NewLogger(service, env)
	if err != nil {
		panic(err)
	}
	return logger
}

// WithTrace returns a logger enriched with trace and span identifiers.
func WithTrace(logger *zap.Logger, traceID, spanID string) *zap.Logger {
	if logger == nil {
		logger = zap.L()
	}
	if traceID == "" {
		traceID = "unknown"
	}
	if spanID == "" {
		spanID = "unknown"
	}
	return logger.With(
		zap.String("trace_id", traceID),
		zap.String("span_id", spanID),
	)
}
