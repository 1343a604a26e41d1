package apns

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/pkcs12"
)

// Errors wrapped by CredentialError.
var (
	ErrNoCredential  = errors.New("no certificate or key source configured")
	ErrNoCertificate = errors.New("no certificate found")
	ErrNoPrivateKey  = errors.New("no private key found")
	ErrBadSigningKey = errors.New("signing key must be an ECDSA P-256 key")
	ErrBadPassphrase = errors.New("wrong passphrase")
	errNoPassphrase  = errors.New("private key is encrypted and no passphrase is set")
)

// Credential holds the raw material of a TLS client certificate with its
// private key (legacy interface) or of a provider token signing key (HTTP/2
// interface). The material comes either from a file or from memory and is
// parsed on first use; a successful parse is cached and reused.
type Credential struct {
	Path       string // file name, used when Data is empty
	Data       []byte // PEM bundle, PKCS#12 archive or PKCS#8 key
	Passphrase string // optional

	mu   sync.Mutex
	cert *tls.Certificate
	key  *ecdsa.PrivateKey
}

// CredentialFile returns a credential read from the named file.
func CredentialFile(path, passphrase string) *Credential {
	return &Credential{Path: path, Passphrase: passphrase}
}

// CredentialBytes returns a credential held in memory.
func CredentialBytes(data []byte, passphrase string) *Credential {
	return &Credential{Data: data, Passphrase: passphrase}
}

// CredentialFrom treats s as a file name when it names an existing regular
// file and as inline PEM text otherwise.
func CredentialFrom(s, passphrase string) *Credential {
	if info, err := os.Stat(s); err == nil && info.Mode().IsRegular() {
		return CredentialFile(s, passphrase)
	}
	return CredentialBytes([]byte(s), passphrase)
}

func (c *Credential) source() string {
	if len(c.Data) > 0 || c.Path == "" {
		return "inline data"
	}
	return c.Path
}

func (c *Credential) fail(err error) error {
	return &CredentialError{Source: c.source(), Err: err}
}

func (c *Credential) load() ([]byte, error) {
	switch {
	case len(c.Data) > 0:
		return c.Data, nil
	case c.Path != "":
		data, err := os.ReadFile(c.Path)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return nil, ErrNoCredential
}

// Certificate returns the parsed TLS client certificate. The data may be a PEM
// bundle holding the certificate chain and the private key, the key optionally
// encrypted with the passphrase, or a PKCS#12 archive.
func (c *Credential) Certificate() (tls.Certificate, error) {
	if c == nil {
		return tls.Certificate{}, &CredentialError{Err: ErrNoCredential}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cert != nil {
		return *c.cert, nil
	}
	data, err := c.load()
	if err != nil {
		return tls.Certificate{}, c.fail(err)
	}
	var cert tls.Certificate
	if isPEM(data) {
		cert, err = parsePEMCertificate(data, c.Passphrase)
	} else {
		cert, err = parsePKCS12Certificate(data, c.Passphrase)
	}
	if err != nil {
		return tls.Certificate{}, c.fail(err)
	}
	c.cert = &cert
	return cert, nil
}

// SigningKey returns the parsed ECDSA P-256 key used to sign provider tokens.
// Apple distributes it as a PKCS#8 PEM file (.p8); SEC 1 "EC PRIVATE KEY"
// blocks and bare PKCS#8 DER are accepted too.
func (c *Credential) SigningKey() (*ecdsa.PrivateKey, error) {
	if c == nil {
		return nil, &CredentialError{Err: ErrNoCredential}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != nil {
		return c.key, nil
	}
	data, err := c.load()
	if err != nil {
		return nil, c.fail(err)
	}
	key, err := parseSigningKey(data)
	if err != nil {
		return nil, c.fail(err)
	}
	c.key = key
	return key, nil
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN "))
}

func parsePKCS12Certificate(data []byte, passphrase string) (tls.Certificate, error) {
	privateKey, x509Cert, err := pkcs12.Decode(data, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return tls.Certificate{}, ErrBadPassphrase
		}
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{x509Cert.Raw},
		PrivateKey:  privateKey,
		Leaf:        x509Cert,
	}, nil
}

func parsePEMCertificate(data []byte, passphrase string) (tls.Certificate, error) {
	var certPEM, keyPEM []byte
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch {
		case block.Type == "CERTIFICATE":
			certPEM = append(certPEM, pem.EncodeToMemory(block)...)
		case block.Type == "PRIVATE KEY" || strings.HasSuffix(block.Type, " PRIVATE KEY"):
			if x509.IsEncryptedPEMBlock(block) {
				if passphrase == "" {
					return tls.Certificate{}, errNoPassphrase
				}
				der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
				if err != nil {
					return tls.Certificate{}, ErrBadPassphrase
				}
				block = &pem.Block{Type: block.Type, Bytes: der}
			}
			keyPEM = pem.EncodeToMemory(block)
		}
	}
	if len(certPEM) == 0 {
		return tls.Certificate{}, ErrNoCertificate
	}
	if len(keyPEM) == 0 {
		return tls.Certificate{}, ErrNoPrivateKey
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, err
	}
	if cert.Leaf == nil {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
		}
	}
	return cert, nil
}

func parseSigningKey(data []byte) (*ecdsa.PrivateKey, error) {
	der, blockType := data, "PRIVATE KEY"
	if isPEM(data) {
		der = nil
		for rest := data; der == nil; {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				return nil, ErrNoPrivateKey
			}
			if strings.HasSuffix(block.Type, "PRIVATE KEY") {
				der, blockType = block.Bytes, block.Type
			}
		}
	}
	var key *ecdsa.PrivateKey
	switch blockType {
	case "EC PRIVATE KEY":
		parsed, err := x509.ParseECPrivateKey(der)
		if err != nil {
			return nil, err
		}
		key = parsed
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, err
		}
		ecKey, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, ErrBadSigningKey
		}
		key = ecKey
	default:
		return nil, fmt.Errorf("unsupported PEM type %q", blockType)
	}
	if key.Curve != elliptic.P256() {
		return nil, ErrBadSigningKey
	}
	return key, nil
}
