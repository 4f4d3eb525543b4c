package tlsx

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// ParseVersion maps "tls1.0" .. "tls1.3" to the crypto/tls constants. An
// empty string selects TLS 1.2.
func ParseVersion(s string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return tls.VersionTLS12, nil
	case "tls1.0", "tls10", "1.0":
		return tls.VersionTLS10, nil
	case "tls1.1", "tls11", "1.1":
		return tls.VersionTLS11, nil
	case "tls1.2", "tls12", "1.2":
		return tls.VersionTLS12, nil
	case "tls1.3", "tls13", "1.3":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("tlsx: unknown tls version %q", s)
}

func NewServerConfig(certFile, keyFile, minVersion string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("tlsx: server needs both a certificate and a key file")
	}
	v, err := ParseVersion(minVersion)
	if err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsx: load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   v,
	}, nil
}

// NewClientConfig verifies the server against caFile, or the system pool
// when caFile is empty. certFile and keyFile are optional and present a
// client certificate.
func NewClientConfig(caFile, serverName string, insecure bool, certFile, keyFile, minVersion string) (*tls.Config, error) {
	v, err := ParseVersion(minVersion)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecure,
		MinVersion:         v,
	}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("tlsx: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("tlsx: no certificates in %s", caFile)
		}
		cfg.RootCAs = pool
	}
	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("tlsx: load client key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
