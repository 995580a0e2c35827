// Package logutil implements logger construction shared across the service.
package logutil

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogLevel is used when a level string isn't supplied.
var DefaultLogLevel = "info"

// ConvertToZapLevel converts a log level string to zapcore.Level.
func ConvertToZapLevel(lvl string) zapcore.Level {
	switch lvl {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "dpanic":
		return zap.DPanicLevel
	case "panic":
		return zap.PanicLevel
	case "fatal":
		return zap.FatalLevel
	default:
		panic(fmt.Sprintf("unknown level %q", lvl))
	}
}

// New builds a production-style zap.Logger at the given level, writing JSON
// to stderr. It's the single entry point cmd/libvirt-aws and tests use to
// obtain a logger.
func New(level string) (*zap.Logger, error) {
	if level == "" {
		level = DefaultLogLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ConvertToZapLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}
