// Package provider assembles a document store, membership directory and
// grain state store from a config.Config.
package provider

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-clusterstore/pkg/config"
	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/docstore/memstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/docstore/pgstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/grainstate"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/membership"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
	"github.com/dd0wney/cluso-clusterstore/pkg/snapshot"
)

// Provider owns every component of one clusterstore scope
type Provider struct {
	Docs      docstore.Store
	Directory *membership.Directory
	Grains    *grainstate.Store
	Gateways  *membership.GatewayProvider

	cfg       *config.Config
	logger    logging.Logger
	metrics   *metrics.Registry
	resources *resourceStack
}

// New opens the configured backend and builds the components on top of
// it. Nothing is provisioned; call Initialize for that.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger, reg *metrics.Registry) (_ *Provider, err error) {
	logger = logging.OrDefault(logger)
	resources := newResourceStack(logger)
	defer func() {
		if err != nil {
			_ = resources.closeAll()
		}
	}()

	docs, err := OpenStore(ctx, cfg, logger, reg)
	if err != nil {
		return nil, err
	}
	resources.add(docs, docs.Name())

	dir, err := membership.NewDirectory(docs, membership.Config{
		ServiceID:    cfg.ServiceID,
		DeploymentID: cfg.DeploymentID,
		Logger:       logger,
		Metrics:      reg,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: membership: %w", err)
	}
	if cfg.DeploymentID == "" {
		logger.Warn("no deployment_id configured, rows written by this process are private to it",
			logging.DeploymentID(dir.DeploymentID()))
	}

	grains, err := grainstate.NewStore(docs, grainstate.Config{
		ServiceID:  cfg.ServiceID,
		Collection: cfg.Collection,
		Logger:     logger,
		Metrics:    reg,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: grain state: %w", err)
	}

	logger.Info("clusterstore assembled",
		logging.Backend(docs.Name()),
		logging.String("database", docs.Database()),
		logging.ServiceID(dir.ServiceID()),
		logging.DeploymentID(dir.DeploymentID()),
	)

	return &Provider{
		Docs:      docs,
		Directory: dir,
		Grains:    grains,
		Gateways:  membership.NewGatewayProvider(dir),
		cfg:       cfg,
		logger:    logger,
		metrics:   reg,
		resources: resources,
	}, nil
}

// OpenStore opens the document store backend selected by cfg.Backend
func OpenStore(ctx context.Context, cfg *config.Config, logger logging.Logger, reg *metrics.Registry) (docstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		sink, err := openSink(ctx, cfg.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("provider: snapshot sink: %w", err)
		}
		store, err := memstore.New(ctx, memstore.Options{
			Database: cfg.Database,
			Sink:     sink,
			Logger:   logger,
			Metrics:  reg,
		})
		if err != nil {
			return nil, fmt.Errorf("provider: %w", err)
		}
		return store, nil

	case config.BackendPostgres:
		store, err := pgstore.New(ctx, pgstore.Options{
			ConnectionString: cfg.ConnectionString,
			Database:         cfg.Database,
			Logger:           logger,
			Metrics:          reg,
		})
		if err != nil {
			return nil, fmt.Errorf("provider: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("provider: unknown backend %q", cfg.Backend)
	}
}

// openSink returns nil when no snapshot target is configured
func openSink(ctx context.Context, cfg config.SnapshotConfig) (snapshot.Sink, error) {
	switch {
	case cfg.Path != "":
		return snapshot.NewFileSink(cfg.Path)
	case cfg.S3.Enabled():
		return snapshot.NewS3Sink(ctx, snapshot.S3Options{
			Bucket:          cfg.S3.Bucket,
			Key:             cfg.S3.Key,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			UsePathStyle:    cfg.S3.UsePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	default:
		return nil, nil
	}
}

// Initialize provisions the database when the config allows it and seeds
// the membership table version.
func (p *Provider) Initialize(ctx context.Context) error {
	return p.Directory.Initialize(ctx, p.cfg.CreateDatabase)
}

// Config returns the configuration the provider was built from
func (p *Provider) Config() *config.Config {
	return p.cfg
}

// Close releases the document store
func (p *Provider) Close() error {
	return p.resources.closeAll()
}
