package docstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writePEMPair writes a self-signed cert and key and returns their paths.
func writePEMPair(t *testing.T) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ziprehome-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	tmpl.BasicConstraintsValid = true
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	certPath = filepath.Join(dir, "client.crt")
	keyPath = filepath.Join(dir, "client.key")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certPath, keyPath
}

func TestLoadTLSConfig_NothingConfigured(t *testing.T) {
	cfg, err := LoadTLSConfig(TLSOptions{})
	if err != nil || cfg != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", cfg, err)
	}
}

func TestLoadTLSConfig_PEMPairAndCA(t *testing.T) {
	certPath, keyPath := writePEMPair(t)

	cfg, err := LoadTLSConfig(TLSOptions{CertFile: certPath, KeyFile: keyPath, CAFile: certPath})
	if err != nil {
		t.Fatalf("LoadTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("certificates = %d, want 1", len(cfg.Certificates))
	}
	if cfg.RootCAs == nil {
		t.Fatal("RootCAs should be set from the CA bundle")
	}
}

func TestLoadTLSConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "client.p12")
	if err := os.WriteFile(garbage, []byte("not pkcs12"), 0o600); err != nil {
		t.Fatal(err)
	}
	notPEM := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(notPEM, []byte("no certs here"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts TLSOptions
		want string
	}{
		{"missing cert", TLSOptions{CertFile: filepath.Join(dir, "nope.p12")}, "read client certificate"},
		{"bad pkcs12", TLSOptions{CertFile: garbage, Password: "pw"}, "decode PKCS12"},
		{"missing key", TLSOptions{CertFile: notPEM, KeyFile: filepath.Join(dir, "nope.key")}, "load client key pair"},
		{"empty CA", TLSOptions{CAFile: notPEM}, "no PEM certificates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTLSConfig(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}
