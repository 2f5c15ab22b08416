// Package keystore loads the server certificate used to terminate TLS on
// the webhook listener.
package keystore

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

const (
	friendlyName = "friendlyName"
	localKeyID   = "localKeyId"
)

var ErrNoKeyPair = errors.New("keystore: no certificate and key for alias")

type Options struct {
	// Path of a PKCS#12 keystore.
	Path     string
	Password string
	// Alias selects the entry by its friendly name. Empty takes the only one.
	Alias string
	// CertFile and KeyFile, when both set, are used instead of the keystore.
	CertFile string
	KeyFile  string
}

// Load returns a TLS certificate from PEM files or a PKCS#12 keystore.
func Load(opts Options) (tls.Certificate, error) {
	if opts.CertFile != "" && opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("keystore: loading pem pair: %w", err)
		}
		return cert, nil
	}

	data, err := os.ReadFile(opts.Path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: reading %s: %w", opts.Path, err)
	}
	return Decode(data, opts.Password, opts.Alias)
}

// Decode converts PKCS#12 data into a TLS certificate, leaf first and the
// CA chain after it. Both the legacy (RC2/3DES, SHA-1 MAC) and the current
// (PBES2 AES, SHA-256 MAC) encodings are accepted.
func Decode(data []byte, password, alias string) (tls.Certificate, error) {
	if alias == "" {
		return decodeChain(data, password)
	}
	return decodeAlias(data, password, alias)
}

func decodeChain(data []byte, password string) (tls.Certificate, error) {
	key, leaf, cas, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: decoding: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: encoding key: %w", err)
	}

	chain := [][]byte{leaf.Raw}
	for _, ca := range cas {
		chain = append(chain, ca.Raw)
	}
	return keyPair(chain, keyDER)
}

// decodeAlias picks the key named alias and the certificate sharing its
// local key id. Unnamed certificates are taken as the CA chain.
func decodeAlias(data []byte, password, alias string) (tls.Certificate, error) {
	// ToPEM is the only decoder that exposes bag attributes.
	blocks, err := pkcs12.ToPEM(data, password) //nolint:staticcheck
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: decoding: %w", err)
	}

	var key *pem.Block
	for _, b := range blocks {
		if b.Type == "PRIVATE KEY" && b.Headers[friendlyName] == alias {
			key = b
			break
		}
	}
	if key == nil {
		return tls.Certificate{}, fmt.Errorf("%w %q", ErrNoKeyPair, alias)
	}

	var leaf []byte
	var chain [][]byte
	for _, b := range blocks {
		if b.Type != "CERTIFICATE" {
			continue
		}
		switch {
		case leaf == nil && sameEntry(b, key, alias):
			leaf = b.Bytes
		case b.Headers[friendlyName] == "" && b.Headers[localKeyID] == "":
			chain = append(chain, b.Bytes)
		}
	}
	if leaf == nil {
		return tls.Certificate{}, fmt.Errorf("%w %q", ErrNoKeyPair, alias)
	}
	return keyPair(append([][]byte{leaf}, chain...), key.Bytes)
}

func sameEntry(cert, key *pem.Block, alias string) bool {
	if id := key.Headers[localKeyID]; id != "" {
		return cert.Headers[localKeyID] == id
	}
	return cert.Headers[friendlyName] == alias
}

// keyPair also checks that the leaf matches the private key.
func keyPair(chain [][]byte, keyDER []byte) (tls.Certificate, error) {
	var certPEM []byte
	for _, der := range chain {
		certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: building key pair: %w", err)
	}
	return cert, nil
}
