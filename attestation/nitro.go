package attestation

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/anchorageoss/selfprove-teeclient/crypto"
)

// COSE algorithm identifier for ECDSA with SHA-384.
const coseES384 = -35

const (
	maxCertLength      = 1024
	maxPublicKeyLength = 1024
	maxUserDataLength  = 512
	maxNonceLength     = 512
	maxCABundleLength  = 1024
)

// AWSNitroRootFingerprint is the SHA-256 fingerprint of the AWS Nitro
// Enclaves Root-G1 certificate.
const AWSNitroRootFingerprint = "641a0321a3e244efe456463195d606317ed7cdcc3c1756e09893f3c68f79bb5b"

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidCurveP256      = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	oidCurveP384      = asn1.ObjectIdentifier{1, 3, 132, 0, 34}
)

// COSESign1 is a COSE_Sign1 message.
type COSESign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[any]any
	Payload     []byte
	Signature   []byte
}

// NitroDocument is the payload of a Nitro attestation.
type NitroDocument struct {
	ModuleID    string          `cbor:"module_id"`
	Timestamp   uint64          `cbor:"timestamp"`
	Digest      string          `cbor:"digest"`
	PCRs        map[uint][]byte `cbor:"pcrs"`
	Certificate []byte          `cbor:"certificate"`
	CABundle    [][]byte        `cbor:"cabundle"`
	PublicKey   []byte          `cbor:"public_key,omitempty"`
	UserData    []byte          `cbor:"user_data,omitempty"`
	Nonce       []byte          `cbor:"nonce,omitempty"`
}

// NitroVerifier validates COSE_Sign1 Nitro attestation documents.
type NitroVerifier struct {
	// RootFingerprint pins the SHA-256 fingerprint of cabundle[0]. A verifier
	// without one rejects every document.
	RootFingerprint []byte
	Now             func() time.Time
}

// NewNitroVerifier pins fingerprint, or the AWS Nitro root when it is nil.
func NewNitroVerifier(fingerprint []byte) *NitroVerifier {
	if fingerprint == nil {
		fingerprint, _ = hex.DecodeString(AWSNitroRootFingerprint)
	}
	return &NitroVerifier{RootFingerprint: fingerprint}
}

// Validate verifies the document and maps public_key to the server key,
// user_data to the client key and PCR0 to the image hash.
func (v *NitroVerifier) Validate(doc []byte, devMode bool) (*Result, error) {
	// Step 1: Decode the COSE_Sign1 envelope
	var msg COSESign1
	if err := cbor.Unmarshal(doc, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid COSE_Sign1: %v", ErrMalformed, err)
	}

	var header map[int]any
	if err := cbor.Unmarshal(msg.Protected, &header); err != nil {
		return nil, fmt.Errorf("%w: invalid protected header: %v", ErrMalformed, err)
	}
	if alg, ok := header[1]; !ok || !isAlg(alg, coseES384) {
		return nil, fmt.Errorf("%w: unsupported COSE algorithm %v", ErrMalformed, header[1])
	}

	var att NitroDocument
	if err := cbor.Unmarshal(msg.Payload, &att); err != nil {
		return nil, fmt.Errorf("%w: invalid attestation payload: %v", ErrMalformed, err)
	}

	// Step 2: Check required fields and bounds
	if err := checkNitroFields(&att); err != nil {
		return nil, err
	}

	// Step 3: Verify cabundle -> leaf with SHA-384 signatures
	leaf, err := v.verifyChain(&att)
	if err != nil {
		return nil, err
	}

	// Step 4: Verify the COSE signature with the leaf key
	key, err := ecPublicKeyFromSPKI(leaf.RawSubjectPublicKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	sigStructure, err := cbor.Marshal([]any{"Signature1", msg.Protected, []byte{}, msg.Payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode Sig_structure: %w", err)
	}
	digest := sha512.Sum384(sigStructure)
	if !crypto.VerifyRawECDSA(key, digest[:], msg.Signature) {
		return nil, ErrSignature
	}

	pcr0 := att.PCRs[0]
	if !devMode && isZero(pcr0) {
		return nil, fmt.Errorf("%w: PCR0 is all zeros", ErrDebugMode)
	}

	return &Result{
		UserPubkey:   att.UserData,
		ServerPubkey: att.PublicKey,
		ImageHash:    hex.EncodeToString(pcr0),
		Verified:     true,
	}, nil
}

func checkNitroFields(att *NitroDocument) error {
	switch {
	case att.ModuleID == "":
		return fmt.Errorf("%w: missing module_id", ErrMalformed)
	case att.Digest != "SHA384":
		return fmt.Errorf("%w: digest must be SHA384, got %q", ErrMalformed, att.Digest)
	case att.Timestamp == 0:
		return fmt.Errorf("%w: timestamp must be positive", ErrMalformed)
	case len(att.PCRs) == 0:
		return fmt.Errorf("%w: missing pcrs", ErrMalformed)
	case len(att.Certificate) == 0 || len(att.Certificate) > maxCertLength:
		return fmt.Errorf("%w: certificate length %d out of range", ErrMalformed, len(att.Certificate))
	case len(att.CABundle) == 0:
		return fmt.Errorf("%w: missing cabundle", ErrMalformed)
	case len(att.PublicKey) > maxPublicKeyLength:
		return fmt.Errorf("%w: public_key too long", ErrMalformed)
	case len(att.UserData) > maxUserDataLength:
		return fmt.Errorf("%w: user_data too long", ErrMalformed)
	case len(att.Nonce) > maxNonceLength:
		return fmt.Errorf("%w: nonce too long", ErrMalformed)
	}

	for idx, pcr := range att.PCRs {
		switch len(pcr) {
		case 32, 48, 64:
		default:
			return fmt.Errorf("%w: PCR%d has invalid length %d", ErrMalformed, idx, len(pcr))
		}
	}
	if _, ok := att.PCRs[0]; !ok {
		return fmt.Errorf("%w: missing PCR0", ErrMalformed)
	}

	for i, cert := range att.CABundle {
		if len(cert) == 0 || len(cert) > maxCABundleLength {
			return fmt.Errorf("%w: cabundle entry %d length %d out of range", ErrMalformed, i, len(cert))
		}
	}
	return nil
}

// verifyChain checks that every certificate is signed by its predecessor,
// starting at cabundle[0] and ending at the leaf.
func (v *NitroVerifier) verifyChain(att *NitroDocument) (*x509.Certificate, error) {
	ders := append(append([][]byte{}, att.CABundle...), att.Certificate)

	if len(v.RootFingerprint) == 0 {
		return nil, fmt.Errorf("%w: no root fingerprint is pinned", ErrRootFingerprint)
	}
	fingerprint := sha256.Sum256(ders[0])
	if !bytes.Equal(fingerprint[:], v.RootFingerprint) {
		return nil, fmt.Errorf("%w: got %x", ErrRootFingerprint, fingerprint)
	}

	certs := make([]*x509.Certificate, len(ders))
	for i, der := range ders {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: certificate %d: %v", ErrMalformed, i, err)
		}
		certs[i] = cert
	}

	now := v.now()
	for i, cert := range certs {
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return nil, fmt.Errorf("%w: certificate %d is outside its validity window", ErrChain, i)
		}
	}

	for i := 1; i < len(certs); i++ {
		child, parent := certs[i], certs[i-1]
		if child.SignatureAlgorithm != x509.ECDSAWithSHA384 {
			return nil, fmt.Errorf("%w: certificate %d is signed with %s", ErrChain, i, child.SignatureAlgorithm)
		}
		if err := parent.CheckSignature(x509.ECDSAWithSHA384, child.RawTBSCertificate, child.Signature); err != nil {
			return nil, fmt.Errorf("%w: certificate %d: %v", ErrChain, i, err)
		}
	}

	return certs[len(certs)-1], nil
}

func (v *NitroVerifier) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}
	return v.Now()
}

// ecPublicKeyFromSPKI decodes an EC SubjectPublicKeyInfo.
func ecPublicKeyFromSPKI(spki []byte) (*ecdsa.PublicKey, error) {
	input := cryptobyte.String(spki)

	var info, algorithm cryptobyte.String
	var algOID, curveOID asn1.ObjectIdentifier
	var point asn1.BitString

	if !input.ReadASN1(&info, cbasn1.SEQUENCE) ||
		!info.ReadASN1(&algorithm, cbasn1.SEQUENCE) ||
		!algorithm.ReadASN1ObjectIdentifier(&algOID) ||
		!algorithm.ReadASN1ObjectIdentifier(&curveOID) ||
		!info.ReadASN1BitString(&point) {
		return nil, fmt.Errorf("invalid subject public key info")
	}

	if !algOID.Equal(oidPublicKeyECDSA) {
		return nil, fmt.Errorf("leaf key is not an EC key")
	}

	var curve elliptic.Curve
	switch {
	case curveOID.Equal(oidCurveP384):
		curve = elliptic.P384()
	case curveOID.Equal(oidCurveP256):
		curve = elliptic.P256()
	default:
		return nil, fmt.Errorf("unsupported curve %s", curveOID)
	}

	x, y := elliptic.Unmarshal(curve, point.RightAlign())
	if x == nil {
		return nil, fmt.Errorf("invalid EC point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func isAlg(v any, want int64) bool {
	switch alg := v.(type) {
	case int64:
		return alg == want
	case int:
		return int64(alg) == want
	default:
		return false
	}
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
