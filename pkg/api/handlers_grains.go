package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dd0wney/cluso-clusterstore/pkg/grainstate"
	"github.com/dd0wney/cluso-clusterstore/pkg/validation"
)

// grainFromPath validates the {type} and {id} path segments
func (s *Server) grainFromPath(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	req := validation.GrainRequest{GrainType: r.PathValue("type"), GrainID: r.PathValue("id")}
	if err := validation.ValidateGrainRequest(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	return req.GrainType, req.GrainID, true
}

// readCurrent loads the stored state so a request precondition can be
// checked against it
func (s *Server) readCurrent(w http.ResponseWriter, r *http.Request, grainType, grainID string) (*grainstate.GrainState[json.RawMessage], bool) {
	state := grainstate.NewGrainState[json.RawMessage](nil)
	if err := s.grains.ReadState(r.Context(), grainType, grainID, state); err != nil {
		s.respondStoreError(w, "read state", err)
		return nil, false
	}
	return state, true
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	grainType, grainID, ok := s.grainFromPath(w, r)
	if !ok {
		return
	}
	state, ok := s.readCurrent(w, r, grainType, grainID)
	if !ok {
		return
	}
	if !state.Exists {
		s.respondError(w, http.StatusNotFound, "no state stored for "+grainType+"/"+grainID)
		return
	}

	w.Header().Set("ETag", quoteETag(state.Etag))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(state.State)
}

// handlePutState writes the request body as the grain's state. Without
// If-Match the state must not exist yet; If-Match: * overwrites whatever
// is stored; any other If-Match must equal the stored etag.
func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	grainType, grainID, ok := s.grainFromPath(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := validation.ValidateStateBody(body); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	state := grainstate.NewGrainState(json.RawMessage(body))
	if match := r.Header.Get("If-Match"); match == "*" {
		current, ok := s.readCurrent(w, r, grainType, grainID)
		if !ok {
			return
		}
		state.Etag = current.Etag
	} else {
		state.Etag = parseETag(match)
	}

	created := state.Etag == ""
	if err := s.grains.WriteState(r.Context(), grainType, grainID, state); err != nil {
		s.respondStateError(w, err)
		return
	}

	w.Header().Set("ETag", quoteETag(state.Etag))
	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearState deletes the grain's state. If-Match, when given, must
// equal the stored etag, and the delete only removes that version.
func (s *Server) handleClearState(w http.ResponseWriter, r *http.Request) {
	grainType, grainID, ok := s.grainFromPath(w, r)
	if !ok {
		return
	}

	state := grainstate.NewGrainState[json.RawMessage](nil)
	if match := r.Header.Get("If-Match"); match != "" && match != "*" {
		expected := parseETag(match)
		current, ok := s.readCurrent(w, r, grainType, grainID)
		if !ok {
			return
		}
		if current.Etag != expected {
			s.respondJSON(w, http.StatusPreconditionFailed, StateConflictResponse{
				ErrorResponse: ErrorResponse{
					Error:   http.StatusText(http.StatusPreconditionFailed),
					Message: "etag does not match stored state",
					Code:    http.StatusPreconditionFailed,
				},
				Expected: expected,
				Current:  current.Etag,
			})
			return
		}
		state.Etag = expected
	}

	if err := s.grains.ClearState(r.Context(), grainType, grainID, state); err != nil {
		s.respondStateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondStateError(w http.ResponseWriter, err error) {
	var inconsistent *grainstate.InconsistentStateError
	if errors.As(err, &inconsistent) {
		s.respondJSON(w, http.StatusPreconditionFailed, StateConflictResponse{
			ErrorResponse: ErrorResponse{
				Error:   http.StatusText(http.StatusPreconditionFailed),
				Message: "state was changed by another writer",
				Code:    http.StatusPreconditionFailed,
			},
			Expected: inconsistent.ExpectedETag,
			Current:  inconsistent.CurrentETag,
		})
		return
	}
	s.respondStoreError(w, "write state", err)
}
