package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
)

// ConfigReloadFunc is a function that reloads configuration
type ConfigReloadFunc func() error

// Options configures a GracefulServer. Zero timeouts take the defaults.
type Options struct {
	Addr            string
	Handler         http.Handler
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// TLSConfig, when set, wraps the listener.
	TLSConfig *tls.Config
	Logger    logging.Logger
}

// GracefulServer wraps an HTTP server with graceful shutdown capabilities
type GracefulServer struct {
	server          *http.Server
	logger          logging.Logger
	shutdownTimeout time.Duration
	tlsConfig       *tls.Config
	shutdownCh      chan struct{}
	shutdownOnce    sync.Once
	configReloadFn  ConfigReloadFunc
	configMu        sync.RWMutex

	addrMu sync.Mutex
	addr   net.Addr
}

// NewGracefulServer creates a new graceful HTTP server
func NewGracefulServer(opts Options) *GracefulServer {
	return &GracefulServer{
		server: &http.Server{
			Addr:           opts.Addr,
			Handler:        opts.Handler,
			ReadTimeout:    orDefault(opts.ReadTimeout, 30*time.Second),
			WriteTimeout:   orDefault(opts.WriteTimeout, 30*time.Second),
			IdleTimeout:    120 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		logger:          logging.OrDefault(opts.Logger).With(logging.Component("http")),
		shutdownTimeout: orDefault(opts.ShutdownTimeout, 30*time.Second),
		tlsConfig:       opts.TLSConfig,
		shutdownCh:      make(chan struct{}),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Run serves until ctx is canceled or SIGINT/SIGTERM arrives, then drains
// connections. SIGHUP triggers the configured reload function.
func (gs *GracefulServer) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return err
	}
	gs.addrMu.Lock()
	gs.addr = ln.Addr()
	gs.addrMu.Unlock()
	if gs.tlsConfig != nil {
		ln = tls.NewListener(ln, gs.tlsConfig)
	}

	serveErr := make(chan error, 1)
	go func() {
		gs.logger.Info("starting HTTP server",
			logging.String("addr", ln.Addr().String()),
			logging.Any("tls", gs.tlsConfig != nil))
		serveErr <- gs.server.Serve(ln)
	}()

	for {
		select {
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err

		case <-ctx.Done():
			return gs.drain(serveErr)

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				gs.logger.Info("received SIGHUP, reloading configuration")
				_ = gs.ReloadConfig()
			default:
				gs.logger.Info("received signal, starting graceful shutdown", logging.String("signal", sig.String()))
				return gs.drain(serveErr)
			}
		}
	}
}

func (gs *GracefulServer) drain(serveErr <-chan error) error {
	if err := gs.Shutdown(gs.shutdownTimeout); err != nil {
		return err
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound listener address once Run has started listening
func (gs *GracefulServer) Addr() net.Addr {
	gs.addrMu.Lock()
	defer gs.addrMu.Unlock()
	return gs.addr
}

// Shutdown initiates a graceful shutdown
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.logger.Info("initiating graceful shutdown", logging.Duration("timeout", timeout))

		if shutdownErr := gs.server.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
			gs.logger.Error("error during shutdown", logging.Error(shutdownErr))
		} else {
			gs.logger.Info("server shutdown complete")
		}
	})
	return err
}

// IsShuttingDown returns true if shutdown has been initiated
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel returns a channel that closes when shutdown is initiated
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}

// SetConfigReloadFunc sets the function to call when configuration reload is triggered
func (gs *GracefulServer) SetConfigReloadFunc(fn ConfigReloadFunc) {
	gs.configMu.Lock()
	defer gs.configMu.Unlock()
	gs.configReloadFn = fn
}

// ReloadConfig triggers a configuration reload
func (gs *GracefulServer) ReloadConfig() error {
	gs.configMu.RLock()
	reloadFn := gs.configReloadFn
	gs.configMu.RUnlock()

	if reloadFn == nil {
		gs.logger.Warn("configuration reload requested, but no reload function configured")
		return nil
	}

	if err := reloadFn(); err != nil {
		gs.logger.Error("configuration reload failed", logging.Error(err))
		return err
	}

	gs.logger.Info("configuration reload complete")
	return nil
}
