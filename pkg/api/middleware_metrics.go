package api

import (
	"net/http"
	"strconv"
	"time"
)

// metricsMiddleware tracks HTTP request metrics per route pattern
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		// ServeMux fills in r.Pattern; unmatched paths share one label
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metricsRegistry.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.statusCode), time.Since(start))
	})
}
