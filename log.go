package tempest

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// disabledLogger is shared by every Connection/Provider that was not given
// an explicit logger, so the library stays silent by default (atlas wires a
// real sink at the application edge; the library itself never assumes one).
var (
	disabledLogger     zerolog.Logger
	disabledLoggerOnce sync.Once
)

func defaultLogger() zerolog.Logger {
	disabledLoggerOnce.Do(func() {
		disabledLogger = zerolog.New(io.Discard).Level(zerolog.Disabled)
	})
	return disabledLogger
}

// NewConsoleLogger builds a human-readable logger writing to w, for
// applications that want Tempest's lifecycle events on stderr during
// development (grounded on r2northstar/atlas's zerolog + go-colorable
// console writer setup).
func NewConsoleLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(level).With().Timestamp().Logger()
}
