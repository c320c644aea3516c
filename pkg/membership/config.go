package membership

import (
	"github.com/google/uuid"

	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
)

// Config scopes a Directory
type Config struct {
	// ServiceID is the logical service the cluster belongs to.
	ServiceID string
	// DeploymentID isolates one cluster generation from others sharing the
	// same store. A random one is generated when empty.
	DeploymentID string

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Validate checks the config and fills defaults
func (c *Config) Validate() error {
	if c.ServiceID == "" {
		return ErrServiceIDRequired
	}
	if c.DeploymentID == "" {
		c.DeploymentID = uuid.NewString()
	}
	return nil
}
