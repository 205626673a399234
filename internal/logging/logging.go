// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "optionsim", "logs", "optionsim.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		writers = append(writers, consoleWriter)
	}

	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stdout
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithComponent adds a pipeline component name to the logger context.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// LogQuote logs a resolved quote.
func LogQuote(logger zerolog.Logger, symbol, source string, price float64, cached bool) {
	logger.Debug().
		Str("event", "quote").
		Str("symbol", symbol).
		Str("source", source).
		Float64("price", price).
		Bool("cached", cached).
		Msg("Quote resolved")
}

// LogProviderFallback logs a provider being skipped during a gateway walk.
func LogProviderFallback(logger zerolog.Logger, provider, symbol, reason string) {
	logger.Warn().
		Str("event", "provider_fallback").
		Str("provider", provider).
		Str("symbol", symbol).
		Str("reason", reason).
		Msg("Provider skipped")
}

// LogBatchDrain logs a transport batch drain cycle.
func LogBatchDrain(logger zerolog.Logger, batchID uint64, drained, dropped int, took time.Duration) {
	logger.Debug().
		Str("event", "batch_drain").
		Uint64("batch_id", batchID).
		Int("drained", drained).
		Int("dropped", dropped).
		Dur("took", took).
		Msg("Batch drained")
}

// LogPLCycle logs one portfolio P&L recompute cycle.
func LogPLCycle(logger zerolog.Logger, updateCount uint64, positions, changed int, totalPL float64, took time.Duration) {
	logger.Debug().
		Str("event", "pl_cycle").
		Uint64("update_count", updateCount).
		Int("positions", positions).
		Int("changed", changed).
		Float64("total_unrealized_pl", totalPL).
		Dur("took", took).
		Msg("P&L cycle completed")
}

// LogMarginCheck logs a pre-trade margin check.
func LogMarginCheck(logger zerolog.Logger, symbol string, required, available float64, approved bool) {
	logger.Info().
		Str("event", "margin_check").
		Str("symbol", symbol).
		Float64("required", required).
		Float64("available", available).
		Bool("approved", approved).
		Msg("Margin check")
}
