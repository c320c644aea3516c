package provider

import (
	"io"

	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
)

// resourceStack closes what was opened during assembly in reverse order.
// A failed New unwinds it; a successful one hands it to Provider.Close.
type resourceStack struct {
	logger    logging.Logger
	resources []namedCloser
}

type namedCloser struct {
	closer io.Closer
	name   string
}

func newResourceStack(logger logging.Logger) *resourceStack {
	return &resourceStack{logger: logger, resources: make([]namedCloser, 0, 4)}
}

func (rs *resourceStack) add(closer io.Closer, name string) {
	rs.resources = append(rs.resources, namedCloser{closer: closer, name: name})
}

// closeAll closes everything and returns the first error. All resources
// are attempted regardless. Safe to call more than once.
func (rs *resourceStack) closeAll() error {
	var firstErr error
	for i := len(rs.resources) - 1; i >= 0; i-- {
		r := rs.resources[i]
		if r.closer == nil {
			continue
		}
		if err := r.closer.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			rs.logger.Warn("failed to close resource", logging.String("resource", r.name), logging.Error(err))
		}
	}
	rs.resources = rs.resources[:0]
	return firstErr
}
