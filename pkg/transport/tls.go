package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSConfig holds the client side of a wss:// connection.
type TLSConfig struct {
	// RootCAs verifies the server certificate. Nil uses the system pool.
	RootCAs *x509.CertPool

	// Certificate is presented when the server asks for a client
	// certificate. Optional.
	Certificate *tls.Certificate

	// ServerName overrides the name checked against the server certificate.
	ServerName string

	// InsecureSkipVerify disables certificate verification.
	// Only for testing - never use in production!
	InsecureSkipVerify bool
}

// NewClientTLSConfig creates the crypto/tls configuration for dialing a
// wss:// endpoint. TLS 1.2 is the minimum version.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, errors.New("TLSConfig is required")
	}
	if cfg.Certificate != nil && len(cfg.Certificate.Certificate) == 0 {
		return nil, errors.New("client certificate is empty")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    cfg.RootCAs,
		ServerName: cfg.ServerName,

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.Certificate != nil {
		tlsConfig.Certificates = []tls.Certificate{*cfg.Certificate}
	}
	return tlsConfig, nil
}

// TLSFiles names PEM files to build a TLSConfig from.
type TLSFiles struct {
	// CAFile holds one or more trusted CA certificates.
	CAFile string

	// CertFile and KeyFile hold the client certificate and its key. Both or
	// neither must be set.
	CertFile string
	KeyFile  string

	ServerName         string
	InsecureSkipVerify bool
}

// IsZero reports whether no TLS setting is present.
func (f TLSFiles) IsZero() bool {
	return f == TLSFiles{}
}

// LoadClientTLSConfig reads the files named by f and creates the client
// TLS configuration.
func LoadClientTLSConfig(f TLSFiles) (*tls.Config, error) {
	cfg := &TLSConfig{
		ServerName:         f.ServerName,
		InsecureSkipVerify: f.InsecureSkipVerify,
	}

	if f.CAFile != "" {
		pem, err := os.ReadFile(f.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA file %s contains no certificates", f.CAFile)
		}
		cfg.RootCAs = pool
	}

	switch {
	case f.CertFile != "" && f.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificate = &cert
	case f.CertFile != "" || f.KeyFile != "":
		return nil, errors.New("cert_file and key_file must be set together")
	}

	return NewClientTLSConfig(cfg)
}
