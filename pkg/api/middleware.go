package api

import (
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/dd0wney/cluso-clusterstore/pkg/auth"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
)

// panicRecoveryMiddleware recovers from panics in HTTP handlers
func (s *Server) panicRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic in HTTP handler",
					logging.String("method", r.Method),
					logging.String("path", r.URL.Path),
					logging.Any("panic", err),
					logging.String("stack", string(debug.Stack())),
				)
				s.respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", rec.statusCode),
			logging.Latency(time.Since(start)),
		)
	})
}

// bodySizeLimitMiddleware limits the size of incoming request bodies
func (s *Server) bodySizeLimitMiddleware(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxBytes {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// requireAdmin rejects requests without an admin bearer token. It passes
// everything through when no JWT manager is configured.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	if s.jwtManager == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		_, err := s.jwtManager.Authorize(r.Context(), r.Header.Get("Authorization"), auth.RoleAdmin)
		if err != nil {
			s.logger.Warn("authorization failed",
				logging.String("path", r.URL.Path), logging.Error(err))
			status := http.StatusUnauthorized
			if errors.Is(err, auth.ErrNotPermitted) {
				status = http.StatusForbidden
			}
			s.respondError(w, status, err.Error())
			return
		}
		next(w, r)
	}
}

// statusRecorder wraps http.ResponseWriter to capture status code and size
type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}
