package router

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tbeaudouin05/stripe-facade/api/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs and counts every request. Paths outside known are
// collapsed into one label.
func logRequests(known map[string]bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if !known[path] {
			path = "other"
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}
