package provider

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
)

// CleanupOnce removes rows that have not reported liveness for the
// configured max age, measured from now.
func (p *Provider) CleanupOnce(ctx context.Context, now time.Time) error {
	return p.Directory.CleanupDefunctSiloEntries(ctx, now.Add(-p.cfg.Cleanup.MaxAge))
}

// RunCleanup calls CleanupOnce every Cleanup.Interval until ctx is done.
// Failures are logged and retried on the next tick. A zero interval
// returns immediately.
func (p *Provider) RunCleanup(ctx context.Context) {
	interval := p.cfg.Cleanup.Interval
	if interval <= 0 {
		return
	}

	logger := p.logger.With(logging.Component("cleanup"))
	logger.Info("defunct silo cleanup started",
		logging.Duration("interval", interval),
		logging.Duration("max_age", p.cfg.Cleanup.MaxAge),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("defunct silo cleanup stopped")
			return
		case now := <-ticker.C:
			err := p.CleanupOnce(ctx, now)
			switch {
			case err == nil:
			case docstore.IsConflict(err):
				logger.Debug("cleanup lost a race, retrying next tick", logging.Error(err))
			case ctx.Err() != nil:
				return
			default:
				logger.Error("cleanup failed", logging.Error(err))
			}
		}
	}
}
