// Package logging constructs the zap.Logger used throughout the node.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger suitable for production use: JSON encoding,
// ISO8601 timestamps, level gated by debug.
func New(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Development = true
	}
	return cfg.Build()
}

// NewNop returns a logger that discards everything, for tests and
// callers that haven't wired a real sink.
func NewNop() *zap.Logger { return zap.NewNop() }
