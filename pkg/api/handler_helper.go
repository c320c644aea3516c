package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("error encoding JSON response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}

// respondStoreError maps a storage failure to a status. Internal details
// are logged by the component that failed, not exposed.
func (s *Server) respondStoreError(w http.ResponseWriter, operation string, err error) {
	switch {
	case errors.Is(err, docstore.ErrDatabaseNotFound):
		s.respondError(w, http.StatusServiceUnavailable, "database not initialized")
	case docstore.IsConflict(err):
		s.respondError(w, http.StatusConflict, operation+" conflicted with a concurrent write, retry")
	case errors.Is(err, docstore.ErrStoreClosed):
		s.respondError(w, http.StatusServiceUnavailable, "store is shutting down")
	default:
		s.respondError(w, http.StatusInternalServerError, operation+" failed")
	}
}

// quoteETag and parseETag convert between change tokens and entity tags
func quoteETag(token string) string {
	return `"` + token + `"`
}

func parseETag(header string) string {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "W/")
	return strings.Trim(header, `"`)
}
