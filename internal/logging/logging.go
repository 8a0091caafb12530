package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	loggerOnce    sync.Once
)

// GetDefaultLogger returns the process-wide root logger. The log level is taken
// from the RADIO_LOG_LEVEL environment variable (trace, debug, info, warn, error)
// and defaults to info.
func GetDefaultLogger() *zerolog.Logger {
	loggerOnce.Do(func() {
		level := parseLevel(os.Getenv("RADIO_LOG_LEVEL"))

		writer := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}

		defaultLogger = zerolog.New(writer).
			Level(level).
			With().
			Timestamp().
			Logger()
	})
	return &defaultLogger
}

// GetSubsystemLogger returns a child logger tagged with the given subsystem name.
func GetSubsystemLogger(subsystem string) *zerolog.Logger {
	l := GetDefaultLogger().With().Str("subsystem", subsystem).Logger()
	return &l
}

// SetLevel overrides the level of the default logger. Intended for config-driven
// reconfiguration after startup.
func SetLevel(level string) {
	l := GetDefaultLogger().Level(parseLevel(level))
	defaultLogger = l
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "info":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}
