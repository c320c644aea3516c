package membership

// Document collections and keys. The key formats are shared with existing
// deployments and must not change.
const (
	MembershipCollection   = "Memberships"
	TableVersionCollection = "TableVersions"
	TableVersionKey        = "TableVersion"

	membershipKeyPrefix = "memberships/"
)

// MembershipKey derives the document key of a silo's row within a scope
func MembershipKey(addr SiloAddress, serviceID, deploymentID string) string {
	return membershipKeyPrefix + addr.ToParsableString() + "/" + serviceID + "/" + deploymentID
}

// membershipDocument is a row as stored: the entry scoped by service and
// deployment.
type membershipDocument struct {
	ServiceID    string `json:"serviceId"`
	DeploymentID string `json:"deploymentId"`
	MembershipEntry
}

func newMembershipDocument(entry MembershipEntry, serviceID, deploymentID string) *membershipDocument {
	return &membershipDocument{
		ServiceID:       serviceID,
		DeploymentID:    deploymentID,
		MembershipEntry: entry,
	}
}
