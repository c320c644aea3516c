// Package api serves the membership table and grain state over HTTP for
// operators and tooling.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/dd0wney/cluso-clusterstore/pkg/auth"
	"github.com/dd0wney/cluso-clusterstore/pkg/grainstate"
	"github.com/dd0wney/cluso-clusterstore/pkg/health"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/membership"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
	"github.com/dd0wney/cluso-clusterstore/pkg/validation"
)

// Options wires a Server. Health, JWT and Metrics are optional; without
// JWT every route is open.
type Options struct {
	Directory *membership.Directory
	Grains    *grainstate.Store
	Health    *health.HealthChecker
	JWT       *auth.JWTManager
	Metrics   *metrics.Registry
	Logger    logging.Logger
}

// Server represents the HTTP API server
type Server struct {
	directory       *membership.Directory
	grains          *grainstate.Store
	healthChecker   *health.HealthChecker
	jwtManager      *auth.JWTManager
	metricsRegistry *metrics.Registry
	logger          logging.Logger
	startTime       time.Time
}

// NewServer creates a new API server
func NewServer(opts Options) (*Server, error) {
	if opts.Directory == nil || opts.Grains == nil {
		return nil, errors.New("api: directory and grain store are required")
	}
	hc := opts.Health
	if hc == nil {
		hc = health.NewHealthChecker()
	}

	return &Server{
		directory:       opts.Directory,
		grains:          opts.Grains,
		healthChecker:   hc,
		jwtManager:      opts.JWT,
		metricsRegistry: opts.Metrics,
		logger:          logging.OrDefault(opts.Logger).With(logging.Component("api")),
		startTime:       time.Now(),
	}, nil
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("GET /health", s.healthChecker.HTTPHandler())
	mux.HandleFunc("GET /health/live", s.healthChecker.LivenessHandler())
	mux.HandleFunc("GET /health/ready", s.healthChecker.ReadinessHandler())
	if s.metricsRegistry != nil {
		mux.Handle("GET /metrics", s.metricsRegistry.Handler())
	}

	// Membership
	mux.HandleFunc("GET /membership", s.handleListMembership)
	mux.HandleFunc("GET /membership/silos/{address}", s.handleGetSilo)
	mux.HandleFunc("POST /membership/cleanup", s.requireAdmin(s.handleCleanup))
	mux.HandleFunc("DELETE /membership", s.requireAdmin(s.handlePurge))

	// Grain state
	mux.HandleFunc("GET /grains/{type}/{id}", s.handleGetState)
	mux.HandleFunc("PUT /grains/{type}/{id}", s.requireAdmin(s.handlePutState))
	mux.HandleFunc("DELETE /grains/{type}/{id}", s.requireAdmin(s.handleClearState))

	var h http.Handler = mux
	h = s.bodySizeLimitMiddleware(h, int64(validation.MaxStateBytes+1))
	if s.metricsRegistry != nil {
		h = s.metricsMiddleware(h)
	}
	h = s.loggingMiddleware(h)
	return s.panicRecoveryMiddleware(h)
}
