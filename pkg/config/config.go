// Package config loads clusterstore settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-clusterstore/pkg/validation"
)

// Backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// EnvPrefix starts every environment override
const EnvPrefix = "CLUSTERSTORE_"

// Config is the full process configuration
type Config struct {
	Backend string `yaml:"backend" validate:"required,oneof=memory postgres"`
	// ConnectionString lists PostgreSQL endpoints separated by ';'.
	ConnectionString string `yaml:"connection_string"`
	Database         string `yaml:"database" validate:"required,max=63"`
	CreateDatabase   bool   `yaml:"create_database"`

	ServiceID    string `yaml:"service_id" validate:"required"`
	DeploymentID string `yaml:"deployment_id"`
	Collection   string `yaml:"collection" validate:"required"`

	Snapshot SnapshotConfig `yaml:"snapshot"`
	HTTP     HTTPConfig     `yaml:"http"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	LogLevel string         `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// SnapshotConfig selects where the memory backend persists itself. At
// most one of Path and S3 may be set; neither means no persistence.
type SnapshotConfig struct {
	Path string   `yaml:"path"`
	S3   S3Config `yaml:"s3"`
}

// S3Config addresses a snapshot object in S3 or an S3-compatible store
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Key             string `yaml:"key"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Enabled reports whether an S3 snapshot target is configured
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// HTTPConfig configures the admin API
type HTTPConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	JWTSecret       string        `yaml:"jwt_secret"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig serves the admin API over TLS. Without cert_file and key_file
// a self-signed certificate is issued for Hosts when auto_generate is set.
type TLSConfig struct {
	Enabled           bool     `yaml:"enabled"`
	CertFile          string   `yaml:"cert_file"`
	KeyFile           string   `yaml:"key_file"`
	CAFile            string   `yaml:"ca_file"`
	RequireClientCert bool     `yaml:"require_client_cert"`
	AutoGenerate      bool     `yaml:"auto_generate"`
	Hosts             []string `yaml:"hosts"`
}

// CleanupConfig drives periodic removal of defunct silos. A zero
// Interval disables it.
type CleanupConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// Default returns a memory-backed configuration for local use
func Default() *Config {
	return &Config{
		Backend:        BackendMemory,
		Database:       "clusterstore",
		CreateDatabase: true,
		ServiceID:      "default",
		Collection:     "GrainStates",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Cleanup: CleanupConfig{
			MaxAge: 7 * 24 * time.Hour,
		},
		LogLevel: "info",
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CLUSTERSTORE_* variables found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off", "":
				*dst = false
			default:
				errs = append(errs, fmt.Errorf("%s%s: invalid boolean %q", EnvPrefix, name, v))
			}
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("BACKEND", &c.Backend)
	str("CONNECTION_STRING", &c.ConnectionString)
	str("DATABASE", &c.Database)
	boolean("CREATE_DATABASE", &c.CreateDatabase)
	str("SERVICE_ID", &c.ServiceID)
	str("DEPLOYMENT_ID", &c.DeploymentID)
	str("COLLECTION", &c.Collection)
	str("SNAPSHOT_PATH", &c.Snapshot.Path)
	str("S3_BUCKET", &c.Snapshot.S3.Bucket)
	str("S3_KEY", &c.Snapshot.S3.Key)
	str("S3_REGION", &c.Snapshot.S3.Region)
	str("S3_ENDPOINT", &c.Snapshot.S3.Endpoint)
	boolean("S3_USE_PATH_STYLE", &c.Snapshot.S3.UsePathStyle)
	str("S3_ACCESS_KEY_ID", &c.Snapshot.S3.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &c.Snapshot.S3.SecretAccessKey)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("JWT_SECRET", &c.HTTP.JWTSecret)
	boolean("TLS_ENABLED", &c.HTTP.TLS.Enabled)
	str("TLS_CERT_FILE", &c.HTTP.TLS.CertFile)
	str("TLS_KEY_FILE", &c.HTTP.TLS.KeyFile)
	str("TLS_CA_FILE", &c.HTTP.TLS.CAFile)
	duration("CLEANUP_INTERVAL", &c.Cleanup.Interval)
	duration("CLEANUP_MAX_AGE", &c.Cleanup.MaxAge)
	str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}

// Validate checks field constraints and the rules that span fields
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return validation.NewConfigValidator("Config").
		When(c.Backend == BackendPostgres, func(cv *validation.ConfigValidator) {
			cv.Required("ConnectionString", strings.Trim(c.ConnectionString, "; "))
			cv.Custom("Snapshot", func() error {
				if c.Snapshot.Path != "" || c.Snapshot.S3.Enabled() {
					return errors.New("snapshots apply to the memory backend only")
				}
				return nil
			})
		}).
		Custom("Snapshot", func() error {
			if c.Snapshot.Path != "" && c.Snapshot.S3.Enabled() {
				return errors.New("set either path or s3, not both")
			}
			return nil
		}).
		When(c.Snapshot.S3.Enabled(), func(cv *validation.ConfigValidator) {
			cv.Required("Snapshot.S3.Key", c.Snapshot.S3.Key)
		}).
		When(c.HTTP.TLS.Enabled, func(cv *validation.ConfigValidator) {
			cv.Custom("HTTP.TLS", func() error {
				t := c.HTTP.TLS
				if (t.CertFile == "") != (t.KeyFile == "") {
					return errors.New("cert_file and key_file must be set together")
				}
				if t.CertFile == "" && !t.AutoGenerate {
					return errors.New("set cert_file and key_file or enable auto_generate")
				}
				if t.RequireClientCert && t.CAFile == "" {
					return errors.New("require_client_cert needs ca_file")
				}
				return nil
			})
		}).
		When(c.Cleanup.Interval > 0, func(cv *validation.ConfigValidator) {
			cv.MinDuration("Cleanup.Interval", c.Cleanup.Interval, time.Second)
			cv.MinDuration("Cleanup.MaxAge", c.Cleanup.MaxAge, time.Minute)
		}).
		Custom("Collection", func() error {
			if strings.Contains(c.Collection, "/") {
				return errors.New("must not contain '/'")
			}
			return nil
		}).
		Validate()
}
