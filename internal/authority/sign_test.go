package authority

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/smallbiznis/facturo/internal/credentials"
)

func newTestSigner(t *testing.T, taxID string) (*Signer, *rsa.PrivateKey) {
	t.Helper()
	dir := t.TempDir()

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

	return NewSigner(credentials.NewStore(dir)), key
}

func TestSignEnvelopesSignature(t *testing.T) {
	signer, _ := newTestSigner(t, "B12345678")

	signed, err := signer.Sign(BuildRecord(testSubmission()), "B12345678")
	assert.NoError(t, err)

	s := string(signed)
	assert.True(t, strings.HasPrefix(s, "<sum:RegFactuSistemaFacturacion"))
	assert.True(t, strings.HasSuffix(s, "</sum:RegFactuSistemaFacturacion>"))
	assert.Contains(t, s, "<ds:Signature")
	assert.Contains(t, s, "<ds:SignatureValue>")
	assert.Contains(t, s, "<ds:X509Certificate>")
}

func TestSignatureVerifies(t *testing.T) {
	signer, key := newTestSigner(t, "B12345678")

	signed, err := signer.Sign(BuildRecord(testSubmission()), "B12345678")
	assert.NoError(t, err)

	// Extract SignedInfo and SignatureValue back out of the document.
	siMatch := regexp.MustCompile(`<ds:SignedInfo>.*</ds:SignedInfo>`).Find(signed)
	assert.NotNil(t, siMatch)
	svMatch := regexp.MustCompile(`<ds:SignatureValue>([^<]+)</ds:SignatureValue>`).FindSubmatch(signed)
	assert.Len(t, svMatch, 2)

	sigValue, err := base64.StdEncoding.DecodeString(string(svMatch[1]))
	assert.NoError(t, err)

	digest := sha256.Sum256(siMatch)
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sigValue))
}

func TestSignUnknownCompany(t *testing.T) {
	signer, _ := newTestSigner(t, "B12345678")

	_, err := signer.Sign(BuildRecord(testSubmission()), "X99999999")
	assert.Error(t, err)
}

func TestSignedRecordStillParses(t *testing.T) {
	signer, _ := newTestSigner(t, "B12345678")

	signed, err := signer.Sign(BuildRecord(testSubmission()), "B12345678")
	assert.NoError(t, err)

	// The enveloped signature must not break well-formedness.
	dec := xml.NewDecoder(strings.NewReader(string(signed)))
	for {
		_, err := dec.Token()
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
	}
}
