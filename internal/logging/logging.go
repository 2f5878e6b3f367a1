// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// New returns a logger tagged with the service name. Unknown levels fall
// back to info. pretty switches to human-readable console output.
func New(service, level string, pretty bool) zerolog.Logger {
	return newWithWriter(os.Stdout, service, level, pretty)
}

func newWithWriter(w io.Writer, service, level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(w).Level(lvl).With().Timestamp().Str("service", service).Logger()
	zlog.Logger = l
	zerolog.DefaultContextLogger = &l
	return l
}
