// Package credentials loads per-company signing material.
//
// Each issuing company has an RSA key pair on disk under the configured
// certificate directory, named by tax id: <taxid>.key (PKCS#1 or PKCS#8
// PEM) and <taxid>.crt (X.509 PEM).
package credentials

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var ErrNotFound = errors.New("signing credentials not found")

// Credential is the loaded key material for one company.
type Credential struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate

	// CertBase64 is the raw certificate DER in base64, embedded in the
	// signature's KeyInfo.
	CertBase64 string
}

// Store loads and caches credentials by tax id. Files are read once; key
// rotation requires a process restart.
type Store struct {
	dir string

	mu    sync.Mutex
	cache map[string]*Credential
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, cache: make(map[string]*Credential)}
}

// Load returns the credential for the tax id, reading it from disk on first
// use. Returns ErrNotFound when either file is missing.
func (s *Store) Load(taxID string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cache[taxID]; ok {
		return c, nil
	}

	key, err := s.readKey(taxID)
	if err != nil {
		return nil, err
	}
	cert, certB64, err := s.readCert(taxID)
	if err != nil {
		return nil, err
	}

	c := &Credential{PrivateKey: key, Certificate: cert, CertBase64: certB64}
	s.cache[taxID] = c
	return c, nil
}

func (s *Store) readKey(taxID string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, taxID+".key"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, taxID)
		}
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("invalid key PEM for %s", taxID)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key for %s: %w", taxID, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key for %s is not RSA", taxID)
	}
	return key, nil
}

func (s *Store) readCert(taxID string) (*x509.Certificate, string, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, taxID+".crt"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, taxID)
		}
		return nil, "", err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, "", fmt.Errorf("invalid certificate PEM for %s", taxID)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, "", fmt.Errorf("parse certificate for %s: %w", taxID, err)
	}
	return cert, base64.StdEncoding.EncodeToString(block.Bytes), nil
}
