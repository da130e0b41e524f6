package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/selfprove-teeclient/crypto"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type chain struct {
	root, intermediate, leaf *x509.Certificate
	leafKey                  any
}

func issue(t *testing.T, serial int64, cn string, isCA bool, pub, signerKey any, parent *x509.Certificate) *x509.Certificate {
	t.Helper()

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             testNow.Add(-24 * time.Hour),
		NotAfter:              testNow.Add(24 * time.Hour),
		IsCA:                  isCA,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	if parent == nil {
		parent = tmpl
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signerKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// newJWTChain builds an ECDSA root and intermediate with an RSA leaf.
func newJWTChain(t *testing.T) *chain {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	interKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	root := issue(t, 1, "Test Root", true, &rootKey.PublicKey, rootKey, nil)
	inter := issue(t, 2, "Test Intermediate", true, &interKey.PublicKey, rootKey, root)
	leaf := issue(t, 3, "Test Leaf", false, &leafKey.PublicKey, interKey, inter)

	return &chain{root: root, intermediate: inter, leaf: leaf, leafKey: leafKey}
}

func (c *chain) fingerprint() []byte {
	sum := sha256.Sum256(c.root.Raw)
	return sum[:]
}

type tokenFields struct {
	userKey, serverKey []byte
	imageDigest        string
	dbgstat            string
}

func defaultTokenFields() tokenFields {
	return tokenFields{
		userKey:     []byte{0x04, 1, 2, 3},
		serverKey:   []byte{0x04, 4, 5, 6},
		imageDigest: "sha256:" + hex.EncodeToString(make([]byte, 32)),
		dbgstat:     debugDisabled,
	}
}

func (c *chain) token(t *testing.T, f tokenFields) string {
	t.Helper()

	claims := jwt.MapClaims{
		"eat_nonce": []string{hex.EncodeToString(f.userKey), hex.EncodeToString(f.serverKey)},
		"dbgstat":   f.dbgstat,
		"submods": map[string]any{
			"container": map[string]any{"image_digest": f.imageDigest},
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["x5c"] = []string{
		base64.StdEncoding.EncodeToString(c.leaf.Raw),
		base64.StdEncoding.EncodeToString(c.intermediate.Raw),
		base64.StdEncoding.EncodeToString(c.root.Raw),
	}

	signed, err := tok.SignedString(c.leafKey)
	require.NoError(t, err)
	return signed
}

// nitroFixture builds a P-384 cabundle, a leaf and a signed document.
type nitroFixture struct {
	bundle  [][]byte
	leaf    *x509.Certificate
	leafKey *ecdsa.PrivateKey
}

func newNitroFixture(t *testing.T) *nitroFixture {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	interKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	root := issue(t, 1, "aws.nitro-enclaves", true, &rootKey.PublicKey, rootKey, nil)
	inter := issue(t, 2, "zonal", true, &interKey.PublicKey, rootKey, root)
	leaf := issue(t, 3, "i-0123.enclave", false, &leafKey.PublicKey, interKey, inter)

	return &nitroFixture{
		bundle:  [][]byte{root.Raw, inter.Raw},
		leaf:    leaf,
		leafKey: leafKey,
	}
}

func (f *nitroFixture) document() *NitroDocument {
	pcr0 := make([]byte, 48)
	for i := range pcr0 {
		pcr0[i] = byte(i + 1)
	}
	return &NitroDocument{
		ModuleID:    "i-0123-enc0123",
		Timestamp:   uint64(testNow.UnixMilli()),
		Digest:      "SHA384",
		PCRs:        map[uint][]byte{0: pcr0, 1: make([]byte, 48), 2: make([]byte, 48)},
		Certificate: f.leaf.Raw,
		CABundle:    f.bundle,
		PublicKey:   []byte{0x04, 9, 9, 9},
		UserData:    []byte{0x04, 7, 7, 7},
	}
}

func (f *nitroFixture) sign(t *testing.T, doc *NitroDocument) []byte {
	t.Helper()

	payload, err := cbor.Marshal(doc)
	require.NoError(t, err)
	protected, err := cbor.Marshal(map[int]int{1: coseES384})
	require.NoError(t, err)

	sigStructure, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, payload})
	require.NoError(t, err)
	digest := sha512.Sum384(sigStructure)

	sig, err := crypto.SignRawECDSA(f.leafKey, digest[:])
	require.NoError(t, err)

	out, err := cbor.Marshal(&COSESign1{
		Protected:   protected,
		Unprotected: map[any]any{},
		Payload:     payload,
		Signature:   sig,
	})
	require.NoError(t, err)
	return out
}
