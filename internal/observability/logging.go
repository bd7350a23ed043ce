// Package observability builds the process loggers.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	// ProfileStructured emits JSON records for log shipping.
	ProfileStructured = "STRUCTURED"

	// ProfileCLI emits human-readable console output.
	ProfileCLI = "CLI"
)

// NewLogger constructs a zap logger for the given level and profile. The
// logger is built once at startup and handed to each component; there is no
// package-level logger to mutate.
func NewLogger(level, profile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch profile {
	case ProfileCLI:
		cfg = zap.NewDevelopmentConfig()
	case ProfileStructured, "":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown logging profile %q", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
