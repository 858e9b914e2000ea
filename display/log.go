package display

import (
	"os"

	"github.com/rs/zerolog"
)

// PrintLog controls whether the display emits diagnostics to stderr. By
// default, it is enabled.
var PrintLog = true

// Logger is the logger used for everything the connection cannot hand back
// to a caller: read/write failures, unchecked X errors and events that
// arrive for a cookie nobody waits on. Extensions derive their own loggers
// from it.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
	With().Timestamp().Str("component", "display").Logger()

// logger returns Logger, or a disabled logger when PrintLog is off.
func logger() *zerolog.Logger {
	if !PrintLog {
		nop := zerolog.Nop()
		return &nop
	}
	return &Logger
}
