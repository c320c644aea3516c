package membership

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SiloStatus is a silo's lifecycle state
type SiloStatus int

const (
	StatusNone SiloStatus = iota
	StatusCreated
	StatusJoining
	StatusActive
	StatusShuttingDown
	StatusStopping
	StatusDead
)

var statusNames = [...]string{"None", "Created", "Joining", "Active", "ShuttingDown", "Stopping", "Dead"}

// String returns the status name as stored in documents
func (s SiloStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("SiloStatus(%d)", int(s))
	}
	return statusNames[s]
}

// IsTerminating is true once a silo has begun leaving the cluster
func (s SiloStatus) IsTerminating() bool {
	return s == StatusShuttingDown || s == StatusStopping || s == StatusDead
}

// ParseSiloStatus accepts a status name, case-insensitively
func ParseSiloStatus(name string) (SiloStatus, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return SiloStatus(i), nil
		}
	}
	return StatusNone, fmt.Errorf("%w: %q", ErrInvalidStatus, name)
}

func (s SiloStatus) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, int(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *SiloStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseSiloStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SuspectTime is one peer's vote that a silo is unreachable
type SuspectTime struct {
	Address   SiloAddress `json:"address"`
	Timestamp time.Time   `json:"timestamp"`
}

// MembershipEntry is one silo's row in the membership table
type MembershipEntry struct {
	SiloAddress  SiloAddress   `json:"siloAddress"`
	Status       SiloStatus    `json:"status"`
	SuspectTimes []SuspectTime `json:"suspectTimes,omitempty"`
	StartTime    time.Time     `json:"startTime"`
	IAmAliveTime time.Time     `json:"iAmAliveTime"`
	HostName     string        `json:"hostName,omitempty"`
	SiloName     string        `json:"siloName,omitempty"`
	RoleName     string        `json:"roleName,omitempty"`
	UpdateZone   int           `json:"updateZone"`
	FaultZone    int           `json:"faultZone"`
	ProxyPort    int           `json:"proxyPort"`
}

// AddOrUpdateSuspector records a suspicion vote from voter. An existing
// vote from the same voter is replaced. When maxVotes votes are already
// recorded the oldest one is overwritten, unless voteTime is older still.
func (e *MembershipEntry) AddOrUpdateSuspector(voter SiloAddress, voteTime time.Time, maxVotes int) {
	vote := SuspectTime{Address: voter, Timestamp: voteTime}
	for i, v := range e.SuspectTimes {
		if v.Address == voter {
			e.SuspectTimes[i] = vote
			return
		}
	}

	if maxVotes <= 0 || len(e.SuspectTimes) < maxVotes {
		e.SuspectTimes = append(e.SuspectTimes, vote)
		return
	}

	oldest := 0
	for i, v := range e.SuspectTimes {
		if v.Timestamp.Before(e.SuspectTimes[oldest].Timestamp) {
			oldest = i
		}
	}
	if !voteTime.Before(e.SuspectTimes[oldest].Timestamp) {
		e.SuspectTimes[oldest] = vote
	}
}

// FreshVotes returns the votes cast less than expiration before now
func (e *MembershipEntry) FreshVotes(now time.Time, expiration time.Duration) []SuspectTime {
	var fresh []SuspectTime
	for _, v := range e.SuspectTimes {
		if now.Sub(v.Timestamp) < expiration {
			fresh = append(fresh, v)
		}
	}
	return fresh
}

// TableVersion is the version of the whole membership table. Every write
// to a row also writes the next version.
type TableVersion struct {
	Version     int64  `json:"version"`
	VersionEtag string `json:"versionEtag"`
}

// NewTableVersion returns version v with a fresh etag
func NewTableVersion(v int64) TableVersion {
	return TableVersion{Version: v, VersionEtag: uuid.NewString()}
}

// Next returns the following version with a fresh etag
func (v TableVersion) Next() TableVersion {
	return NewTableVersion(v.Version + 1)
}

func (v TableVersion) String() string {
	return fmt.Sprintf("<%d, %s>", v.Version, v.VersionEtag)
}

// EntryWithETag pairs a row with the change token it was read at
type EntryWithETag struct {
	Entry MembershipEntry
	ETag  string
}

// TableData is a read of some or all rows plus the table version at the
// time of the read.
type TableData struct {
	Entries []EntryWithETag
	Version TableVersion
}

// Find returns the entry for addr, if present
func (t *TableData) Find(addr SiloAddress) (EntryWithETag, bool) {
	for _, e := range t.Entries {
		if e.Entry.SiloAddress == addr {
			return e, true
		}
	}
	return EntryWithETag{}, false
}

// CountByStatus groups the entries by status name
func (t *TableData) CountByStatus() map[string]int {
	counts := make(map[string]int)
	for _, e := range t.Entries {
		counts[e.Entry.Status.String()]++
	}
	return counts
}

// Stale returns the active entries that have not reported liveness within
// after of now
func (t *TableData) Stale(now time.Time, after time.Duration) []EntryWithETag {
	var stale []EntryWithETag
	for _, e := range t.Entries {
		if e.Entry.Status == StatusActive && now.Sub(e.Entry.IAmAliveTime) > after {
			stale = append(stale, e)
		}
	}
	return stale
}
