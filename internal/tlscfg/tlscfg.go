// Package tlscfg wires up TLS certificate loading for the RTMPS/HTTPS
// listeners. The reference server's go.mod lists
// go-tls-certificate-loader but its rtmp_ssl.go never actually
// imports it, instead hand-rolling an equivalent stat-and-reload poll
// loop; here the real library does that job.
package tlscfg

import (
	"crypto/tls"

	certloader "github.com/AgustinSRG/go-tls-certificate-loader"
)

// Loader serves the current certificate to incoming TLS handshakes,
// transparently picking up a renewed cert/key pair written to disk
// (e.g. by an ACME client) without a listener restart.
type Loader struct {
	inner *certloader.CertificateLoader
}

// NewLoader starts watching certPath/keyPath, checking for changes
// every checkReloadSeconds.
func NewLoader(certPath, keyPath string, checkReloadSeconds int) (*Loader, error) {
	inner, err := certloader.NewCertificateLoader(certloader.CertificateLoaderConfig{
		CertificatePath:    certPath,
		KeyPath:            keyPath,
		CheckReloadSeconds: checkReloadSeconds,
	})
	if err != nil {
		return nil, err
	}
	return &Loader{inner: inner}, nil
}

// TLSConfig builds a *tls.Config that always serves the loader's
// current certificate, suitable for net/http or net.Listen callers.
func (l *Loader) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: l.inner.GetCertificateFunc(),
	}
}
