package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// L is the process-wide logger. It writes JSON to stderr so that the chat
// REPL keeps stdout for the conversation itself.
var L = zerolog.New(os.Stderr).With().Timestamp().Logger()

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled", "off":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// SetOutput redirects L, keeping its timestamp context.
func SetOutput(w io.Writer) {
	L = zerolog.New(w).With().Timestamp().Logger()
}
