package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

func SetupLogger(level string) zerolog.Logger {
	return NewLogger(os.Stdout, level)
}

func NewLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// Logger attaches a request-scoped logger tagged with the upstream provider
// and a generated req_id (echoed in the X-Request-ID response header), then
// writes one access line per request. Paths in quiet are logged at debug.
func Logger(logger zerolog.Logger, provider string, quiet ...string) func(http.Handler) http.Handler {
	quietPaths := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		quietPaths[p] = struct{}{}
	}
	base := logger.With().Str("provider", provider).Logger()

	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		l := hlog.FromRequest(r)
		ev := l.Info()
		if _, ok := quietPaths[r.URL.Path]; ok {
			ev = l.Debug()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("origin", r.Header.Get("Origin")).
			Str("remote", r.RemoteAddr).
			Int("status", status).
			Int("size", size).
			Dur("dur", duration).
			Msg("req")
	})

	return func(next http.Handler) http.Handler {
		return hlog.NewHandler(base)(access(
			hlog.UserAgentHandler("ua")(
				hlog.RequestIDHandler("req_id", "X-Request-ID")(next),
			),
		))
	}
}
