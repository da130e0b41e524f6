// Package doctest builds signed document envelopes for tests.
package doctest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/selfprove-teeclient/document"
)

// PassportMRZ is a well-formed 88 character TD3 MRZ.
const PassportMRZ = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<" +
	"L898902C36UTO7408122F1204159ZE184226B<<<<<10"

// IDCardMRZ is a well-formed 90 character TD1 MRZ.
const IDCardMRZ = "I<UTOD231458907<<<<<<<<<<<<<<<" +
	"7408122F1204159UTO<<<<<<<<<<<6" +
	"ERIKSSON<<ANNA<MARIA<<<<<<<<<<"

// PKI holds a CSCA and a DSC issued by it.
type PKI struct {
	CSCA    *x509.Certificate
	DSC     *x509.Certificate
	DSCKey  *rsa.PrivateKey
	CSCAKey *ecdsa.PrivateKey
	Roots   *document.Roots
}

// NewPKI creates an ECDSA P-256 CSCA and an RSA-2048 DSC.
func NewPKI(t testing.TB) *PKI {
	t.Helper()

	cscaKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	now := time.Now()
	cscaTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Utopia CSCA", Country: []string{"UT"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
		SubjectKeyId:          []byte{1, 2, 3, 4},
	}
	cscaDER, err := x509.CreateCertificate(rand.Reader, cscaTmpl, cscaTmpl, &cscaKey.PublicKey, cscaKey)
	require.NoError(t, err)
	csca, err := x509.ParseCertificate(cscaDER)
	require.NoError(t, err)

	dscKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dscTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Utopia DSC", Country: []string{"UT"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	dscDER, err := x509.CreateCertificate(rand.Reader, dscTmpl, csca, &dscKey.PublicKey, cscaKey)
	require.NoError(t, err)
	dsc, err := x509.ParseCertificate(dscDER)
	require.NoError(t, err)

	return &PKI{
		CSCA:    csca,
		DSC:     dsc,
		DSCKey:  dscKey,
		CSCAKey: cscaKey,
		Roots:   document.NewRoots(csca),
	}
}

// DSCPEM returns the DSC as PEM.
func (p *PKI) DSCPEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.DSC.Raw}))
}

// PassportEnvelope returns a passport envelope signed by the PKI's DSC.
func (p *PKI) PassportEnvelope(t testing.TB) []byte {
	return p.envelope(t, "passport", PassportMRZ)
}

// IDCardEnvelope returns an ID card envelope signed by the PKI's DSC.
func (p *PKI) IDCardEnvelope(t testing.TB) []byte {
	return p.envelope(t, "id_card", IDCardMRZ)
}

func (p *PKI) envelope(t testing.TB, category, mrz string) []byte {
	t.Helper()
	raw, err := json.Marshal(document.Envelope{
		Category:        category,
		MRZ:             mrz,
		HashAlgorithm:   "sha256",
		EContent:        []byte(strings.Repeat("e", 64)),
		SignedAttr:      []byte(strings.Repeat("s", 32)),
		EncryptedDigest: []byte(strings.Repeat("d", 256)),
		DSC:             p.DSCPEM(),
	})
	require.NoError(t, err)
	return raw
}

// SampleRecord returns a valid Selfrica record.
func SampleRecord() *document.Record {
	return &document.Record{
		Country:      "nga",
		IDType:       "national_id",
		IDNumber:     "A12345678",
		IssuanceDate: "20200101",
		ExpiryDate:   "20300101",
		FullName:     "ADA LOVELACE",
		DOB:          "19900101",
		PhotoHash:    strings.Repeat("f", 32),
		PhoneNumber:  "+2348000000",
		Document:     "ID",
		Gender:       "FEMALE",
		Address:      "1 MARINA ROAD LAGOS",
	}
}

// SelfricaEnvelope returns a Selfrica envelope.
func SelfricaEnvelope(t testing.TB) []byte {
	t.Helper()
	raw, err := json.Marshal(document.Envelope{
		Category:  "selfrica",
		Record:    SampleRecord(),
		Signature: []byte{1, 2, 3},
	})
	require.NoError(t, err)
	return raw
}

// AadhaarEnvelope returns an Aadhaar envelope.
func AadhaarEnvelope(t testing.TB) []byte {
	t.Helper()
	raw, err := json.Marshal(document.Envelope{
		Category:  "aadhaar",
		QRData:    []byte("aadhaar-qr-payload"),
		Signature: []byte{4, 5, 6},
	})
	require.NoError(t, err)
	return raw
}

// AadhaarSigner holds a UIDAI-style RSA signing key.
type AadhaarSigner struct {
	Key *rsa.PrivateKey
}

// NewAadhaarSigner creates an RSA-2048 signing key.
func NewAadhaarSigner(t testing.TB) *AadhaarSigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &AadhaarSigner{Key: key}
}

// PublicKeyPEM returns the signer's PKIX public key as PEM.
func (s *AadhaarSigner) PublicKeyPEM(t testing.TB) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&s.Key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// Envelope returns an Aadhaar envelope whose QR data is signed with
// RSA-PKCS1v15 over SHA-256. The public key is not embedded.
func (s *AadhaarSigner) Envelope(t testing.TB) []byte {
	t.Helper()
	qr := []byte("aadhaar-qr-payload")
	digest := sha256.Sum256(qr)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.Key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	raw, err := json.Marshal(document.Envelope{
		Category:  "aadhaar",
		QRData:    qr,
		Signature: sig,
	})
	require.NoError(t, err)
	return raw
}
