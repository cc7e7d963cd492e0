package http

import (
	"net/http"
	"time"
)

// MetricsMiddleware records http_request_duration_seconds and
// http_requests_total for every request except scrapes of /metrics.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == pathMetrics {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := pathLabel(r.URL.Path)
			metrics.RequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(path, statusToLabel(wrapped.status)).Inc()
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// pathLabel keeps the path label bounded to the routes the server knows.
func pathLabel(path string) string {
	switch path {
	case pathState, pathHealth:
		return path
	default:
		return "other"
	}
}

func statusToLabel(code int) string {
	if code >= 200 && code < 400 {
		return "ok"
	}
	return "error"
}
