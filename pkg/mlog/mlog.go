// Package mlog builds the single zap.Logger every component derives
// its own named logger from, matching Logger.py's Initialize: a
// console handler and an optional file handler, both sharing one
// level and format.
package mlog

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLevel matches Logger.py's _DEFAULT_LVL.
const DefaultLevel = "INFO"

// Config matches Logger.py's Initialize/InitializeFromConfig options.
type Config struct {
	// Level is one of debug/info/warn/error, case-insensitive.
	Level string
	// Console enables logging to stderr.
	Console bool
	// File, if non-empty, additionally appends logs to this path.
	File string
}

func (c *Config) init() {
	if c.Level == "" {
		c.Level = DefaultLevel
	}
}

// NewLogger builds the root logger described by cfg. The caller owns
// the returned logger's lifetime and should call Sync before exit.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	cfg.init()

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("mlog: invalid log level %q: %w", cfg.Level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	var cores []zapcore.Core
	if cfg.Console {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("mlog: opening log file %q: %w", cfg.File, err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(f), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// Nop returns a no-op logger, used where a component is constructed
// without an explicit logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}
