package api

import (
	"net/http"
	"time"

	"github.com/dd0wney/cluso-clusterstore/pkg/membership"
	"github.com/dd0wney/cluso-clusterstore/pkg/validation"
)

func (s *Server) handleListMembership(w http.ResponseWriter, r *http.Request) {
	data, err := s.directory.ReadAll(r.Context())
	if err != nil {
		s.respondStoreError(w, "read membership", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toMembershipResponse(s.directory.ServiceID(), s.directory.DeploymentID(), data))
}

func (s *Server) handleGetSilo(w http.ResponseWriter, r *http.Request) {
	addr, err := membership.ParseSiloAddress(r.PathValue("address"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := s.directory.ReadRow(r.Context(), addr)
	if err != nil {
		s.respondStoreError(w, "read silo", err)
		return
	}
	if len(data.Entries) == 0 {
		s.respondError(w, http.StatusNotFound, "silo "+addr.String()+" not found")
		return
	}

	w.Header().Set("ETag", quoteETag(data.Entries[0].ETag))
	s.respondJSON(w, http.StatusOK, toMembershipResponse(s.directory.ServiceID(), s.directory.DeploymentID(), data))
}

// handleCleanup removes silos that have not reported for older_than
// (a Go duration, e.g. "24h").
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	olderThan, err := time.ParseDuration(r.URL.Query().Get("older_than"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "older_than must be a duration such as 24h")
		return
	}
	if err := validation.ValidateCleanupRequest(&validation.CleanupRequest{OlderThan: olderThan}); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	before, err := s.directory.ReadAll(ctx)
	if err != nil {
		s.respondStoreError(w, "cleanup", err)
		return
	}

	cutoff := time.Now().Add(-olderThan)
	if err := s.directory.CleanupDefunctSiloEntries(ctx, cutoff); err != nil {
		s.respondStoreError(w, "cleanup", err)
		return
	}

	after, err := s.directory.ReadAll(ctx)
	if err != nil {
		s.respondStoreError(w, "cleanup", err)
		return
	}

	removed := len(before.Entries) - len(after.Entries)
	if removed < 0 {
		removed = 0
	}
	s.respondJSON(w, http.StatusOK, CleanupResponse{
		Cutoff:  cutoff.UTC(),
		Removed: removed,
		Version: TableVersionResponse{Version: after.Version.Version, Etag: after.Version.VersionEtag},
	})
}

// handlePurge deletes the rows of ?service_id= (default: this directory's
// service) in this deployment.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	serviceID := r.URL.Query().Get("service_id")
	if serviceID == "" {
		serviceID = s.directory.ServiceID()
	}

	if err := s.directory.DeleteMembershipTableEntries(r.Context(), serviceID); err != nil {
		s.respondStoreError(w, "purge membership", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
