package middlewares

import (
	"net/http"
	"time"

	"github.com/dropDatabas3/consultadmin/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// WithMetrics registra contadores/latencia por patrón de ruta chi.
func WithMetrics(m *metrics.Metrics) Middleware {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			done := m.TrackInflight()
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				done()
				route := ""
				if rc := chi.RouteContext(r.Context()); rc != nil {
					route = rc.RoutePattern()
				}
				m.ObserveHTTP(r.Method, route, r.URL.Path, rec.status, time.Since(start))
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
