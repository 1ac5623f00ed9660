// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

//nolint:gochecknoglobals
var Logger zerolog.Logger

// Init sets the global level and rebuilds Logger for the running service.
func Init(levelStr string) {
	zerolog.SetGlobalLevel(ParseLevel(levelStr))
	Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "villa-sync").Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a sub-logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

//nolint:gochecknoinits
func init() {
	if isTestSilentMode() {
		Logger = zerolog.New(io.Discard)
		zerolog.SetGlobalLevel(zerolog.Disabled)
		return
	}
	Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "villa-sync").Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func isTestSilentMode() bool {
	silent := os.Getenv("TEST_SILENT")
	return isTestMode() && (silent == "1" || silent == "true")
}

func isTestMode() bool {
	for _, arg := range os.Args {
		if strings.HasSuffix(arg, ".test") || strings.Contains(arg, "-test.") {
			return true
		}
	}
	return false
}
