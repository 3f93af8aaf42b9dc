package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Logger returns request logging middleware. The logger is attached to the
// request context, so handlers can use hlog.FromRequest, and one line is
// written per request: server errors at error level, the rest at info.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		ev := hlog.FromRequest(r).Info()
		if status >= http.StatusInternalServerError {
			ev = hlog.FromRequest(r).Error()
		}
		ev.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", size).
			Dur("latency", d).
			Str("user", r.Header.Get(HeaderUserID)).
			Msg("request completed")
	})

	return func(next http.Handler) http.Handler {
		withFields := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := zerolog.Ctx(r.Context())
			l.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.
					Str("request_id", chimw.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr)
			})
			next.ServeHTTP(w, r)
		})
		return hlog.NewHandler(logger)(access(withFields))
	}
}
