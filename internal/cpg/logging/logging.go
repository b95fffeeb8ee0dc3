// Package logging builds the zap logger every cpg component writes to.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the level and destination.
type Config struct {
	Level string
	// File, when set, receives JSON lines rotated by size.
	File string
	// Development switches stderr output to the console encoder.
	Development bool

	// Rotation limits for File. Zero values use lumberjack's defaults
	// except MaxSizeMB, which defaults to 50.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Output overrides stderr. Used in tests.
	Output io.Writer
}

// New builds a logger. The returned cleanup flushes buffered entries and
// closes the log file; it is safe to call more than once.
func New(cfg Config) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	if cfg.File == "" && cfg.Output == nil {
		config := zap.NewProductionConfig()
		if cfg.Development {
			config = zap.NewDevelopmentConfig()
		}
		config.Level = zap.NewAtomicLevelAt(level)
		logger, err := config.Build()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		return logger, func() { _ = logger.Sync() }, nil
	}

	var (
		sink    zapcore.WriteSyncer
		closeFn = func() error { return nil }
	)
	switch {
	case cfg.File != "":
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 50
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		sink = zapcore.AddSync(rotator)
		closeFn = rotator.Close
	default:
		sink = zapcore.AddSync(cfg.Output)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, level)
	logger := zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))

	closed := false
	cleanup := func() {
		if closed {
			return
		}
		closed = true
		_ = logger.Sync()
		_ = closeFn()
	}
	return logger, cleanup, nil
}
