// Package logger builds the process logger.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Name is the name of the root logger; components add their own segment
// with Named.
const Name = "accelnet"

// Format selects the log encoding.
type Format string

const (
	// FormatJSON writes one JSON object per line (production).
	FormatJSON Format = "json"
	// FormatConsole writes colored human-readable lines (development).
	FormatConsole Format = "console"
)

// New returns the root logger at the given level ("debug", "info", ...).
// An empty level means info and an empty format means FormatJSON.
func New(verbosity string, format Format) (*zap.Logger, error) {
	var config zap.Config
	switch format {
	case FormatJSON, "":
		config = zap.NewProductionConfig()
	case FormatConsole:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("logger: unknown format %q", format)
	}
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	l, err := config.Build()
	if err != nil {
		return nil, err
	}
	return l.Named(Name), nil
}
