// Package zerolog configures the process-wide zerolog logger.
package zerolog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

func init() {
	InitDefaultLogger(os.Stderr)
}

// InitLogger sets the global level from a level name ("debug", "info", ...)
// and picks console or JSON output.
func InitLogger(level string, console bool) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stderr
	if console {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	InitDefaultLogger(out)
	return nil
}

// InitDefaultLogger points the global and context loggers at out with
// caller info and stack marshalling.
func InitDefaultLogger(out io.Writer) {
	logger := zerolog.New(out).With().Timestamp().Caller().Logger()
	log.Logger = logger
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.DefaultContextLogger = &logger
}
