package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-clusterstore/pkg/api"
	"github.com/dd0wney/cluso-clusterstore/pkg/auth"
	"github.com/dd0wney/cluso-clusterstore/pkg/config"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
	"github.com/dd0wney/cluso-clusterstore/pkg/provider"
	"github.com/dd0wney/cluso-clusterstore/pkg/server"
	clustertls "github.com/dd0wney/cluso-clusterstore/pkg/tls"
)

// systemMetricsInterval is how often uptime and runtime gauges are sampled
const systemMetricsInterval = 10 * time.Second

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API and periodic cleanup",
		Long: `Initialize the store, then serve the admin API until SIGINT or SIGTERM.

SIGHUP re-reads the config file and applies its log level.

Examples:
  clusterstore serve --config clusterstore.yaml
  CLUSTERSTORE_BACKEND=postgres CLUSTERSTORE_CONNECTION_STRING=postgres://db1/postgres clusterstore serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *cliOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	logging.SetDefaultLogger(logger)
	reg := metrics.DefaultRegistry()

	p, err := provider.New(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var jwtManager *auth.JWTManager
	if cfg.HTTP.JWTSecret != "" {
		jwtManager, err = auth.NewJWTManager(cfg.HTTP.JWTSecret, auth.DefaultTokenDuration)
		if err != nil {
			return fmt.Errorf("jwt: %w", err)
		}
	} else {
		logger.Warn("no JWT secret configured, mutating routes are open")
	}

	srv, err := api.NewServer(api.Options{
		Directory: p.Directory,
		Grains:    p.Grains,
		Health:    p.HealthChecker(),
		JWT:       jwtManager,
		Metrics:   reg,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	tlsConfig, err := loadTLS(cfg.HTTP.TLS, logger)
	if err != nil {
		return err
	}

	gs := server.NewGracefulServer(server.Options{
		Addr:            cfg.HTTP.Addr,
		Handler:         srv.Handler(),
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		TLSConfig:       tlsConfig,
		Logger:          logger,
	})
	gs.SetConfigReloadFunc(func() error {
		reloaded, err := config.Load(opts.configPath)
		if err != nil {
			return err
		}
		level := reloaded.LogLevel
		if opts.logLevel != "" {
			level = opts.logLevel
		}
		logger.SetLevel(logging.ParseLevel(level))
		return nil
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go p.RunCleanup(ctx)
	go sampleSystemMetrics(ctx, reg)

	return gs.Run(ctx)
}

func loadTLS(c config.TLSConfig, logger logging.Logger) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	tc := clustertls.DefaultConfig()
	tc.Enabled = true
	tc.CertFile = c.CertFile
	tc.KeyFile = c.KeyFile
	tc.CAFile = c.CAFile
	tc.RequireClientCert = c.RequireClientCert
	tc.AutoGenerate = c.AutoGenerate
	if len(c.Hosts) > 0 {
		tc.Hosts = c.Hosts
	}

	tlsConfig, err := clustertls.LoadTLSConfig(tc)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	if c.CertFile == "" {
		logger.Warn("serving with a self-signed certificate", logging.Any("hosts", tc.Hosts))
		return tlsConfig, nil
	}
	info, err := clustertls.GetCertificateInfo(c.CertFile)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	if info.IsExpired() {
		return nil, fmt.Errorf("tls: certificate %s expired at %s", c.CertFile, info.NotAfter.Format(time.RFC3339))
	}
	logger.Info("loaded TLS certificate",
		logging.String("subject", info.Subject),
		logging.Duration("expires_in", info.ExpiresIn().Round(time.Hour)))
	return tlsConfig, nil
}

func sampleSystemMetrics(ctx context.Context, reg *metrics.Registry) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	reg.UpdateSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.UpdateSystemMetrics()
		}
	}
}
