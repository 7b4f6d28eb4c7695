// Package tls builds crypto/tls configurations for the control API server and
// its client, including optional self-signed certificate generation.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

func joinDir(dir, name string) string { return filepath.Join(dir, name) }

// parseVersion maps a version name to its constant. ok is false for empty or
// unrecognised names.
func parseVersion(ver string) (uint16, bool) {
	switch strings.ToLower(ver) {
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

func resolveVersions(c Config) (min, max uint16) {
	min, max = tls.VersionTLS12, tls.VersionTLS13
	if v, ok := parseVersion(c.MinVersion); ok {
		min = v
	}
	if v, ok := parseVersion(c.MaxVersion); ok {
		max = v
	}
	if min > max {
		min = max
	}
	return
}

// safeReadFile reads p only if it lies within baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certLoader re-reads the pair on every handshake so rotated certificates
// are picked up without a restart.
func certLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(filepath.Dir(keyFile), keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		return &cert, err
	}
}

// ServerConfig returns the listener TLS config, or nil when c is disabled.
func ServerConfig(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, maxVer := resolveVersions(c)

	if c.CertFile != "" && c.KeyFile != "" {
		if _, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile); err != nil {
			return nil, fmt.Errorf("load certificate: %w", err)
		}
		return serverConfig(c.CertFile, c.KeyFile, minVer, maxVer), nil
	}

	if c.Dir != "" {
		certPath := joinDir(c.Dir, tlsCrt)
		keyPath := joinDir(c.Dir, tlsKey)
		if !certificatesExist(certPath, keyPath) {
			if !c.AutoGenerate {
				return nil, fmt.Errorf("no certificate in %s and auto_generate is off", c.Dir)
			}
			if err := generateCertificate(c); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return serverConfig(certPath, keyPath, minVer, maxVer), nil
	}

	return nil, errors.New("TLS enabled but no valid certificate configuration found")
}

func serverConfig(certPath, keyPath string, minVer, maxVer uint16) *tls.Config {
	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}
}

// ClientConfig returns a client TLS config trusting caFile (in addition to
// the system pool when caFile is empty). A client certificate is presented
// when both certFile and keyFile are set.
func ClientConfig(caFile, certFile, keyFile, serverName string, skipVerify bool) (*tls.Config, error) {
	// #nosec G402 skipVerify is an explicit opt-in
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         serverName,
		InsecureSkipVerify: skipVerify,
	}
	if caFile != "" {
		pem, err := os.ReadFile(filepath.Clean(caFile))
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		cfg.RootCAs = pool
	}
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func getOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func getOrDefaultSlice(value, defaultValue []string) []string {
	if len(value) == 0 {
		return defaultValue
	}
	return value
}

func generateCertificate(c Config) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	ag := c.AutoGen
	validDays := ag.ValidDays
	if validDays <= 0 {
		validDays = 365 * 5
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   getOrDefault(ag.CommonName, "localhost"),
		Organization: getOrDefault(ag.Organization, "svcmgr"),
		DNSNames:     getOrDefaultSlice(ag.DNSNames, []string{"localhost"}),
		IPAddresses:  getOrDefaultSlice(ag.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     joinDir(c.Dir, tlsCrt),
		KeyPath:      joinDir(c.Dir, tlsKey),
		CACertPath:   joinDir(c.Dir, tlsCaCrt),
	})
}
