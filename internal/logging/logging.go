package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a console logger at <logLevel>, with any trailing
// key/value pairs attached as fields, e.g. NewLogger("info", "component", "Catalog").
func NewLogger(logLevel string, keyvals ...string) *zerolog.Logger {

	// Set log output format
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}
	for i := 0; i+1 < len(keyvals); i += 2 {
		logger = logger.With().Str(keyvals[i], keyvals[i+1]).Logger()
	}
	// Set log level, default info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	switch strings.ToLower(logLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
	return &logger
}
