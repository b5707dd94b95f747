package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"threatprint/internal/metrics"
)

// Metrics returns a middleware that records request counts and latency.
// The route pattern is resolved after the handler runs so parameterized
// paths collapse into one label value.
func Metrics(m *metrics.Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(r.Method, route, ww.Status(), time.Since(start))
		}
		return http.HandlerFunc(fn)
	}
}
