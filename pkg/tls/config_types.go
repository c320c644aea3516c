package tls

import (
	"crypto/tls"
	"time"
)

// Config holds TLS settings for the admin listener
type Config struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	// CAFile enables client certificate verification against the bundle.
	CAFile string
	// RequireClientCert rejects clients without a certificate signed by CAFile.
	RequireClientCert bool

	// AutoGenerate issues a self-signed certificate when no files are set.
	AutoGenerate bool
	Hosts        []string
	Organization string
	ValidFor     time.Duration

	MinVersion uint16
}

// DefaultConfig returns TLS disabled with secure defaults for when it is enabled
func DefaultConfig() *Config {
	return &Config{
		AutoGenerate: true,
		Hosts:        []string{"localhost", "127.0.0.1"},
		Organization: "clusterstore",
		ValidFor:     365 * 24 * time.Hour,
		MinVersion:   tls.VersionTLS12,
	}
}

// CertificateInfo holds certificate metadata
type CertificateInfo struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	DNSNames     []string
	IPAddresses  []string
	IsCA         bool
}

// IsExpired checks if the certificate has expired
func (ci *CertificateInfo) IsExpired() bool {
	return time.Now().After(ci.NotAfter)
}

// ExpiresIn returns the time until certificate expiration
func (ci *CertificateInfo) ExpiresIn() time.Duration {
	return time.Until(ci.NotAfter)
}

// SecureCipherSuites lists the TLS 1.2 suites offered. TLS 1.3 suites are
// not configurable.
func SecureCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	}
}
