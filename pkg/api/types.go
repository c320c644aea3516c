package api

import (
	"time"

	"github.com/dd0wney/cluso-clusterstore/pkg/membership"
)

// TableVersionResponse is the table version as served
type TableVersionResponse struct {
	Version int64  `json:"version"`
	Etag    string `json:"etag"`
}

// SiloResponse is one membership row with the etag it was read at
type SiloResponse struct {
	Address string                     `json:"address"`
	Etag    string                     `json:"etag"`
	Entry   membership.MembershipEntry `json:"entry"`
}

// MembershipResponse is a read of the membership table
type MembershipResponse struct {
	ServiceID    string               `json:"service_id"`
	DeploymentID string               `json:"deployment_id"`
	Version      TableVersionResponse `json:"version"`
	Silos        []SiloResponse       `json:"silos"`
}

// CleanupResponse reports a defunct-silo cleanup
type CleanupResponse struct {
	Cutoff  time.Time            `json:"cutoff"`
	Removed int                  `json:"removed"`
	Version TableVersionResponse `json:"version"`
}

// StateConflictResponse is returned when a grain state precondition fails
type StateConflictResponse struct {
	ErrorResponse
	Expected string `json:"expected_etag"`
	Current  string `json:"current_etag,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func toMembershipResponse(serviceID, deploymentID string, data *membership.TableData) MembershipResponse {
	resp := MembershipResponse{
		ServiceID:    serviceID,
		DeploymentID: deploymentID,
		Version:      TableVersionResponse{Version: data.Version.Version, Etag: data.Version.VersionEtag},
		Silos:        make([]SiloResponse, 0, len(data.Entries)),
	}
	for _, e := range data.Entries {
		resp.Silos = append(resp.Silos, SiloResponse{
			Address: e.Entry.SiloAddress.ToParsableString(),
			Etag:    e.ETag,
			Entry:   e.Entry,
		})
	}
	return resp
}
