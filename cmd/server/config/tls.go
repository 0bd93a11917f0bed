package config

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// TLSFiles names the PEM files used to dial Redis over TLS.
type TLSFiles struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
	enabled            bool
}

// Enabled reports whether any TLS setting was provided.
func (f TLSFiles) Enabled() bool { return f.enabled }

func loadRedisTLSFiles() (TLSFiles, error) {
	files := TLSFiles{
		CAFile:     strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE")),
		CertFile:   strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE")),
		KeyFile:    strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE")),
		ServerName: strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME")),
	}
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if files.CAFile == "" && files.CertFile == "" && files.KeyFile == "" && files.ServerName == "" && insecureStr == "" {
		return files, nil
	}
	if (files.CertFile == "") != (files.KeyFile == "") {
		return files, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}
	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return files, errors.Wrap(err, "REDIS_TLS_INSECURE_SKIP_VERIFY")
		}
		files.InsecureSkipVerify = insecure
	}
	files.enabled = true
	return files, nil
}

// Build loads the referenced files. It returns nil when TLS is not enabled.
func (f TLSFiles) Build() (*tls.Config, error) {
	if !f.enabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         f.ServerName,
		InsecureSkipVerify: f.InsecureSkipVerify, //nolint:gosec
	}

	if f.CAFile != "" {
		pemData, err := os.ReadFile(f.CAFile)
		if err != nil {
			return nil, errors.Wrap(err, "read REDIS_TLS_CA_FILE")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if f.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "load redis TLS keypair")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
