package circuits

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iden3/go-iden3-crypto/poseidon"
	"golang.org/x/crypto/ripemd160"

	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/field"
)

const poseidonWidth = 16

// PackedHash packs b into field elements and hashes them with Poseidon.
// More than 16 elements are hashed in chunks of 16 and the chunk hashes are
// hashed again.
func PackedHash(b []byte) (*big.Int, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("cannot hash empty input")
	}
	return hashElements(field.PackBytes(b))
}

func hashElements(elems []*big.Int) (*big.Int, error) {
	if len(elems) <= poseidonWidth {
		return poseidon.Hash(elems)
	}

	chunks := make([]*big.Int, 0, (len(elems)+poseidonWidth-1)/poseidonWidth)
	for i := 0; i < len(elems); i += poseidonWidth {
		end := min(i+poseidonWidth, len(elems))
		h, err := poseidon.Hash(elems[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to hash chunk %d: %w", i/poseidonWidth, err)
		}
		chunks = append(chunks, h)
	}
	return hashElements(chunks)
}

// CSCALeaf is the CSCA tree leaf of a root certificate
func CSCALeaf(csca *x509.Certificate) (*big.Int, error) {
	if csca == nil {
		return nil, fmt.Errorf("missing CSCA certificate")
	}
	return PackedHash(csca.Raw)
}

// DSCLeaf is the DSC tree leaf binding a DSC to its CSCA
func DSCLeaf(dsc, csca *x509.Certificate) (*big.Int, error) {
	if dsc == nil {
		return nil, fmt.Errorf("missing DSC certificate")
	}
	dscHash, err := PackedHash(dsc.Raw)
	if err != nil {
		return nil, err
	}
	cscaLeaf, err := CSCALeaf(csca)
	if err != nil {
		return nil, err
	}
	return poseidon.Hash([]*big.Int{dscHash, cscaLeaf})
}

// ScopeHash binds an application scope to its endpoint
func ScopeHash(endpoint, scope string) (*big.Int, error) {
	if endpoint == "" || scope == "" {
		return nil, fmt.Errorf("scope and endpoint are required")
	}
	e, err := PackedHash([]byte(strings.ToLower(endpoint)))
	if err != nil {
		return nil, err
	}
	s, err := PackedHash([]byte(scope))
	if err != nil {
		return nil, err
	}
	return poseidon.Hash([]*big.Int{e, s})
}

// ParseUserID parses a user id given as a uuid or as hex (an address or a
// 32 byte value) into a left-padded bytes32
func ParseUserID(s string) ([32]byte, error) {
	var out [32]byte

	if id, err := uuid.Parse(s); err == nil && !strings.HasPrefix(s, "0x") {
		copy(out[16:], id[:])
		return out, nil
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("user id is neither a uuid nor hex: %w", err)
	}
	if len(raw) == 0 || len(raw) > 32 {
		return out, fmt.Errorf("invalid user id length %d", len(raw))
	}
	copy(out[32-len(raw):], raw)
	return out, nil
}

// UserContextData encodes destChainId ++ userIdentifier ++ userDefinedData
func UserContextData(chainID uint64, userID [32]byte, userDefinedData []byte) []byte {
	var chain [32]byte
	binary.BigEndian.PutUint64(chain[24:], chainID)

	var buf bytes.Buffer
	buf.Write(chain[:])
	buf.Write(userID[:])
	buf.Write(userDefinedData)
	return buf.Bytes()
}

// UserIdentifier is uint160(ripemd160(sha256(userContextData)))
func UserIdentifier(userContextData []byte) *big.Int {
	sum := sha256.Sum256(userContextData)
	h := ripemd160.New()
	h.Write(sum[:])
	return new(big.Int).SetBytes(h.Sum(nil))
}

// DateDigits returns the YYMMDD digits of t in UTC
func DateDigits(t time.Time) []int {
	s := t.UTC().Format("060102")
	out := make([]int, len(s))
	for i, c := range s {
		out[i] = int(c - '0')
	}
	return out
}

// Identity holds the hashes a document contributes to its commitment
type Identity struct {
	AttestationID uint64
	DataHash      *big.Int
	SignerHash    *big.Int
	Nullifier     *big.Int
}

// NewIdentity derives the identity hashes of a parsed document. Aadhaar
// documents resolve their signer from aadhaarKeys.
func NewIdentity(d *document.Data, aadhaarKeys []string) (*Identity, error) {
	if d.Category.IsPKI() {
		return NewIdentityWithCSCA(d, d.CSCA)
	}

	attID, err := d.Category.AttestationID()
	if err != nil {
		return nil, err
	}
	id := &Identity{AttestationID: attID}

	switch d.Category {
	case document.Aadhaar:
		key, err := AadhaarSigner(d, aadhaarKeys)
		if err != nil {
			return nil, err
		}
		if id.DataHash, err = PackedHash(d.QRData); err != nil {
			return nil, err
		}
		if id.SignerHash, err = PackedHash(key.N.Bytes()); err != nil {
			return nil, err
		}
	case document.Selfrica:
		serialized, err := document.Serialize(d.Record)
		if err != nil {
			return nil, err
		}
		if id.DataHash, err = PackedHash([]byte(serialized)); err != nil {
			return nil, err
		}
		id.SignerHash = big.NewInt(0)
		if d.SignerKey != nil {
			der, err := x509.MarshalPKIXPublicKey(d.SignerKey)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal signer key: %w", err)
			}
			if id.SignerHash, err = PackedHash(der); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported document category %s", d.Category)
	}

	if id.Nullifier, err = PackedHash(d.Signature); err != nil {
		return nil, fmt.Errorf("failed to derive nullifier: %w", err)
	}
	return id, nil
}

// NewIdentityWithCSCA derives the identity of a PKI document as if its DSC
// had been issued by csca
func NewIdentityWithCSCA(d *document.Data, csca *x509.Certificate) (*Identity, error) {
	if !d.Category.IsPKI() {
		return nil, fmt.Errorf("category %s is not PKI chained", d.Category)
	}
	attID, err := d.Category.AttestationID()
	if err != nil {
		return nil, err
	}

	id := &Identity{AttestationID: attID}
	if id.DataHash, err = PackedHash([]byte(d.MRZ)); err != nil {
		return nil, err
	}
	if id.SignerHash, err = DSCLeaf(d.DSC, csca); err != nil {
		return nil, err
	}
	if id.Nullifier, err = PackedHash(d.EncryptedDigest); err != nil {
		return nil, fmt.Errorf("failed to derive nullifier: %w", err)
	}
	return id, nil
}

// Commitment binds the identity to a user secret
func (id *Identity) Commitment(secret *big.Int) (*big.Int, error) {
	if !field.InField(secret) {
		return nil, fmt.Errorf("secret is not a field element")
	}
	return poseidon.Hash([]*big.Int{secret, bigInt(id.AttestationID), id.DataHash, id.SignerHash})
}

// AadhaarSigner returns the key from keys that signed the document's QR
// data, or the embedded signer key when it is part of the set
func AadhaarSigner(d *document.Data, keys []string) (*rsa.PublicKey, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: aadhaar public keys", ErrMissingTree)
	}

	digest := sha256.Sum256(d.QRData)
	for i, pemKey := range keys {
		parsed, err := document.ParsePublicKeyPEM(pemKey)
		if err != nil {
			return nil, fmt.Errorf("invalid aadhaar public key %d: %w", i, err)
		}
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("aadhaar public key %d is %T, expected RSA", i, parsed)
		}
		if embedded, ok := d.SignerKey.(*rsa.PublicKey); ok && embedded.Equal(key) {
			return key, nil
		}
		if rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], d.Signature) == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("no aadhaar public key matches the document signature")
}
