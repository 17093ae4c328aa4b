package docstore

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"

	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

// TLSOptions selects the client certificate presented to the document service.
// A .p12/.pfx CertFile, or any CertFile without a KeyFile, is read as PKCS12.
type TLSOptions struct {
	CertFile string
	Password string
	KeyFile  string
	CAFile   string
}

func (o TLSOptions) enabled() bool { return o.CertFile != "" || o.CAFile != "" }

// LoadTLSConfig builds a client TLS config, or returns nil when no
// certificate or CA is configured.
func LoadTLSConfig(o TLSOptions) (*tls.Config, error) {
	if !o.enabled() {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if o.CertFile != "" {
		cert, err := loadClientCert(o)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if o.CAFile != "" {
		pem, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, xerrors.Wrapf(err, "read CA bundle %s", o.CAFile)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, xerrors.Newf("CA bundle %s contains no PEM certificates", o.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

func loadClientCert(o TLSOptions) (tls.Certificate, error) {
	ext := strings.ToLower(filepath.Ext(o.CertFile))
	if o.KeyFile != "" && ext != ".p12" && ext != ".pfx" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return tls.Certificate{}, xerrors.Wrapf(err, "load client key pair %s", o.CertFile)
		}
		return cert, nil
	}

	data, err := os.ReadFile(o.CertFile)
	if err != nil {
		return tls.Certificate{}, xerrors.Wrapf(err, "read client certificate %s", o.CertFile)
	}
	key, leaf, err := pkcs12.Decode(data, o.Password)
	if err != nil {
		return tls.Certificate{}, xerrors.Wrapf(err, "decode PKCS12 %s", o.CertFile)
	}
	return tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
