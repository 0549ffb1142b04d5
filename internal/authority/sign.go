package authority

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"fmt"

	"github.com/smallbiznis/facturo/internal/credentials"
)

// Signer produces the enveloped XML signature the authority requires on
// every registration record. Signing is RSA-SHA256 over the serialized
// record; the company certificate rides along in KeyInfo.
type Signer struct {
	store *credentials.Store
}

func NewSigner(store *credentials.Store) *Signer {
	return &Signer{store: store}
}

type signedInfo struct {
	XMLName                xml.Name `xml:"ds:SignedInfo"`
	CanonicalizationMethod algo     `xml:"ds:CanonicalizationMethod"`
	SignatureMethod        algo     `xml:"ds:SignatureMethod"`
	Reference              reference
}

type reference struct {
	XMLName      xml.Name `xml:"ds:Reference"`
	URI          string   `xml:"URI,attr"`
	DigestMethod algo     `xml:"ds:DigestMethod"`
	DigestValue  string   `xml:"ds:DigestValue"`
}

type algo struct {
	Algorithm string `xml:"Algorithm,attr"`
}

type signature struct {
	XMLName        xml.Name `xml:"ds:Signature"`
	XmlnsDs        string   `xml:"xmlns:ds,attr"`
	SignedInfo     signedInfo
	SignatureValue string `xml:"ds:SignatureValue"`
	KeyInfo        keyInfo
}

type keyInfo struct {
	XMLName  xml.Name `xml:"ds:KeyInfo"`
	X509Data struct {
		XMLName         xml.Name `xml:"ds:X509Data"`
		X509Certificate string   `xml:"ds:X509Certificate"`
	}
}

// Sign serializes the record and appends an enveloped signature, returning
// the full signed document bytes.
func (s *Signer) Sign(record RegFactu, taxID string) ([]byte, error) {
	cred, err := s.store.Load(taxID)
	if err != nil {
		return nil, err
	}

	body, err := xml.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	digest := sha256.Sum256(body)

	si := signedInfo{
		CanonicalizationMethod: algo{Algorithm: "http://www.w3.org/2001/10/xml-exc-c14n#"},
		SignatureMethod:        algo{Algorithm: "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"},
		Reference: reference{
			URI:          "",
			DigestMethod: algo{Algorithm: "http://www.w3.org/2001/04/xmlenc#sha256"},
			DigestValue:  base64.StdEncoding.EncodeToString(digest[:]),
		},
	}
	siBytes, err := xml.Marshal(si)
	if err != nil {
		return nil, fmt.Errorf("marshal signed info: %w", err)
	}

	siDigest := sha256.Sum256(siBytes)
	sigValue, err := rsa.SignPKCS1v15(rand.Reader, cred.PrivateKey, crypto.SHA256, siDigest[:])
	if err != nil {
		return nil, fmt.Errorf("sign record: %w", err)
	}

	sig := signature{
		XmlnsDs:        "http://www.w3.org/2000/09/xmldsig#",
		SignedInfo:     si,
		SignatureValue: base64.StdEncoding.EncodeToString(sigValue),
	}
	sig.KeyInfo.X509Data.X509Certificate = cred.CertBase64

	sigBytes, err := xml.Marshal(sig)
	if err != nil {
		return nil, fmt.Errorf("marshal signature: %w", err)
	}

	// Envelope the signature as the last child of the record root.
	closing := []byte("</sum:RegFactuSistemaFacturacion>")
	idx := len(body) - len(closing)
	signed := make([]byte, 0, len(body)+len(sigBytes))
	signed = append(signed, body[:idx]...)
	signed = append(signed, sigBytes...)
	signed = append(signed, closing...)
	return signed, nil
}
