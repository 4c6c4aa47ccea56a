package util

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"github.com/leonunix/portalindex/internal/config"
)

// NewTLSTransport builds an HTTP transport with TLS settings from the given
// config. If neither SkipVerify nor CACert is set, it returns nil and the
// caller keeps its default transport.
func NewTLSTransport(tc config.TLSConfig) (http.RoundTripper, error) {
	if !tc.SkipVerify && tc.CACert == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{}

	if tc.SkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	if tc.CACert != "" {
		caCert, err := os.ReadFile(tc.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate %s: %w", tc.CACert, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate %s", tc.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsConfig
	return tr, nil
}
