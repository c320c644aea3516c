// Package membership keeps the cluster membership table in a document store.
//
// Each silo has one row, keyed by its address and the (service,
// deployment) scope, and each scope has a TableVersion that is advanced by
// every row write in it. All scopes' versions share the one "TableVersion"
// document. Readers use the version to notice that
// their view is stale; writers pass the version they read and lose
// (InsertRow/UpdateRow return false) if someone advanced it first.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
)

// Table is the membership table as the cluster runtime sees it
type Table interface {
	Initialize(ctx context.Context, createIfMissing bool) error
	ReadRow(ctx context.Context, addr SiloAddress) (*TableData, error)
	ReadAll(ctx context.Context) (*TableData, error)
	InsertRow(ctx context.Context, entry MembershipEntry, expected TableVersion) (bool, error)
	UpdateRow(ctx context.Context, entry MembershipEntry, etag string, expected TableVersion) (bool, error)
	UpdateIAmAlive(ctx context.Context, entry MembershipEntry) error
	CleanupDefunctSiloEntries(ctx context.Context, cutoff time.Time) error
	DeleteMembershipTableEntries(ctx context.Context, serviceID string) error
}

// Directory is a Table over a docstore.Store
type Directory struct {
	docs         docstore.Store
	serviceID    string
	deploymentID string
	logger       logging.Logger
	metrics      *metrics.Registry
}

var _ Table = (*Directory)(nil)

// NewDirectory creates a directory scoped by cfg
func NewDirectory(docs docstore.Store, cfg Config) (*Directory, error) {
	if docs == nil {
		return nil, ErrNilStore
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Directory{
		docs:         docs,
		serviceID:    cfg.ServiceID,
		deploymentID: cfg.DeploymentID,
		logger: logging.OrDefault(cfg.Logger).With(
			logging.Component("membership"),
			logging.ServiceID(cfg.ServiceID),
			logging.DeploymentID(cfg.DeploymentID),
		),
		metrics: cfg.Metrics,
	}, nil
}

func (d *Directory) ServiceID() string    { return d.serviceID }
func (d *Directory) DeploymentID() string { return d.deploymentID }

// Key returns the document key of addr's row in this directory's scope
func (d *Directory) Key(addr SiloAddress) string {
	return MembershipKey(addr, d.serviceID, d.deploymentID)
}

// Initialize makes sure the database exists, creating it if allowed, and
// seeds TableVersion 0 unless a version is already stored.
func (d *Directory) Initialize(ctx context.Context, createIfMissing bool) (err error) {
	start := time.Now()
	defer func() { d.record("initialize", start, err) }()

	exists, err := d.docs.DatabaseExists(ctx)
	if err != nil {
		d.logger.Error("database check failed", logging.Error(err))
		return fmt.Errorf("membership: check database: %w", err)
	}
	if !exists {
		if !createIfMissing {
			return fmt.Errorf("membership: %w: %s", docstore.ErrDatabaseNotFound, d.docs.Database())
		}
		if err := d.docs.CreateDatabase(ctx); err != nil {
			d.logger.Error("database creation failed", logging.Error(err))
			return fmt.Errorf("membership: create database: %w", err)
		}
		d.logger.Info("database created", logging.String("database", d.docs.Database()))
	}

	sess, err := d.docs.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("membership: initialize: %w", err)
	}
	defer sess.Close()

	_, found, versions, err := d.loadVersion(ctx, sess)
	if err != nil {
		return fmt.Errorf("membership: load table version: %w", err)
	}
	if found {
		return nil
	}

	seed := NewTableVersion(0)
	if err := d.storeVersion(sess, versions, seed); err != nil {
		return fmt.Errorf("membership: seed table version: %w", err)
	}
	err = sess.Commit(ctx)
	if docstore.IsConflict(err) {
		// Another silo changed the version document first. An unseeded
		// scope reads as version 0, which is what the seed would have been.
		d.logger.Debug("table version seed raced", logging.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("membership: seed table version: %w", err)
	}

	d.logger.Info("table version seeded", logging.TableVersion(seed.Version))
	return nil
}

// record publishes the outcome of one operation
func (d *Directory) record(op string, start time.Time, err error) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordMembershipOperation(op, statusOf(err), time.Since(start))
}

func (d *Directory) recordRejected(op string, start time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordMembershipOperation(op, metrics.StatusRejected, time.Since(start))
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return metrics.StatusSuccess
	case errors.Is(err, ErrConflict), docstore.IsConflict(err):
		return metrics.StatusConflict
	default:
		return metrics.StatusError
	}
}
