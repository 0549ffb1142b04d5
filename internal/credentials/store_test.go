package credentials

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeTestCredential(t *testing.T, dir, taxID string) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NoError(t, err)

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	assert.NoError(t, os.WriteFile(filepath.Join(dir, taxID+".key"), keyPEM, 0o600))

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: taxID},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	assert.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	assert.NoError(t, os.WriteFile(filepath.Join(dir, taxID+".crt"), certPEM, 0o600))

	return key
}

func TestLoadCredential(t *testing.T) {
	dir := t.TempDir()
	key := writeTestCredential(t, dir, "B12345678")

	store := NewStore(dir)
	cred, err := store.Load("B12345678")
	assert.NoError(t, err)
	assert.Equal(t, key.N, cred.PrivateKey.N)
	assert.Equal(t, "B12345678", cred.Certificate.Subject.CommonName)
	assert.NotEmpty(t, cred.CertBase64)
}

func TestLoadCaches(t *testing.T) {
	dir := t.TempDir()
	writeTestCredential(t, dir, "B12345678")

	store := NewStore(dir)
	first, err := store.Load("B12345678")
	assert.NoError(t, err)

	// Removing the files does not evict an already-loaded credential.
	assert.NoError(t, os.Remove(filepath.Join(dir, "B12345678.key")))
	second, err := store.Load("B12345678")
	assert.NoError(t, err)
	assert.Same(t, first, second)
}

func TestLoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Load("X00000000")
	assert.ErrorIs(t, err, ErrNotFound)
}
