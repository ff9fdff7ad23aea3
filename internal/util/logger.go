package util

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger initializes the global logger. level overrides the environment's
// default level when set ("debug", "info", "warn", "error").
func InitLogger(env, level string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return fmt.Errorf("failed to parse log level %q: %w", level, err)
		}
		config.Level = lvl
	}

	built, err := config.Build(zap.Fields(
		zap.String("service", "ticket-service"),
		zap.String("env", env),
	))
	if err != nil {
		return err
	}

	logger = built
	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// WithOrder tags l with an order reference and, when known, the path that
// touched it. Every settlement log line carries both.
func WithOrder(l *zap.Logger, reference, source string) *zap.Logger {
	fields := []zap.Field{zap.String("reference", reference)}
	if source != "" {
		fields = append(fields, zap.String("source", source))
	}
	return l.With(fields...)
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
