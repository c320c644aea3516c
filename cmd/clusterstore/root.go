package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-clusterstore/pkg/config"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
	"github.com/dd0wney/cluso-clusterstore/pkg/provider"
)

// cliOptions holds the persistent flags every command shares
type cliOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "clusterstore",
		Short: "Cluster membership and grain state store",
		Long: `clusterstore keeps a cluster's membership table and per-grain state in a
document store (in memory with optional snapshots, or PostgreSQL), with
optimistic concurrency on every write.

Configuration comes from --config (YAML) and CLUSTERSTORE_* variables.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("CLUSTERSTORE_CONFIG"), "Path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		newServeCmd(opts),
		newInitCmd(opts),
		newMembersCmd(opts),
		newStateCmd(opts),
		newTokenCmd(opts),
		newWatchCmd(opts),
		newCertCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads and validates the configuration and builds a logger for it
func (o *cliOptions) load() (*config.Config, *logging.JSONLogger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, logging.New(os.Stderr, cfg.LogLevel), nil
}

// open assembles a provider for one-shot commands. The caller closes it.
func (o *cliOptions) open(ctx context.Context) (*provider.Provider, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	return provider.New(ctx, cfg, logger, metrics.NewRegistry())
}
