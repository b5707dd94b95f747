package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"threatprint/pkg/logger"
)

// Logger returns a middleware logging each request with its outcome.
// Ingest and job requests carry their feed source, format and job id so
// pipeline activity can be traced from the access log alone.
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	httpLog := log.WithComponent("http")
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				evt := httpLog.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context()))
				if source := r.URL.Query().Get("source"); source != "" {
					evt = evt.Str("source", source)
				}
				if format := r.URL.Query().Get("format"); format != "" {
					evt = evt.Str("format", format)
				}
				if id := chi.URLParam(r, "id"); id != "" {
					if strings.HasPrefix(r.URL.Path, "/api/v1/ingest/jobs/") {
						evt = evt.Str("job_id", id)
					} else {
						evt = evt.Str("indicator_id", id)
					}
				}
				evt.Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}
