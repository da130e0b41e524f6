package attestation

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const debugDisabled = "disabled-since-boot"

// JWTVerifier validates PKI-JWT attestation tokens.
type JWTVerifier struct {
	// RootFingerprint is the pinned SHA-256 fingerprint of the x5c root.
	RootFingerprint []byte

	// Now returns the time used for certificate validity windows.
	Now func() time.Time
}

// NewJWTVerifier creates a verifier pinned to a root fingerprint.
func NewJWTVerifier(rootFingerprint []byte) *JWTVerifier {
	return &JWTVerifier{RootFingerprint: rootFingerprint, Now: time.Now}
}

type attestationClaims struct {
	EATNonce []string `json:"eat_nonce"`
	DbgStat  string   `json:"dbgstat"`
	Submods  struct {
		Container struct {
			ImageDigest string `json:"image_digest"`
		} `json:"container"`
	} `json:"submods"`
	jwt.RegisteredClaims
}

// Validate verifies the token and extracts the nonce keys and image hash.
func (v *JWTVerifier) Validate(doc []byte, devMode bool) (*Result, error) {
	token := strings.TrimSpace(string(doc))
	if strings.Count(token, ".") != 2 {
		return nil, fmt.Errorf("%w: expected a 3 part JWT", ErrMalformed)
	}

	claims := &attestationClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	if _, err := parser.ParseWithClaims(token, claims, v.leafKey); err != nil {
		switch {
		case errors.Is(err, ErrRootFingerprint), errors.Is(err, ErrChain), errors.Is(err, ErrMalformed):
			return nil, err
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %v", ErrSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	if len(claims.EATNonce) < 2 {
		return nil, fmt.Errorf("%w: eat_nonce must carry two keys", ErrMalformed)
	}
	userPubkey, err := hex.DecodeString(strings.TrimPrefix(claims.EATNonce[0], "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user public key: %v", ErrMalformed, err)
	}
	serverPubkey, err := hex.DecodeString(strings.TrimPrefix(claims.EATNonce[1], "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid server public key: %v", ErrMalformed, err)
	}

	imageHash := strings.TrimPrefix(claims.Submods.Container.ImageDigest, "sha256:")
	if imageHash == "" {
		return nil, fmt.Errorf("%w: missing image digest", ErrMalformed)
	}

	if !devMode && claims.DbgStat != debugDisabled {
		return nil, fmt.Errorf("%w: dbgstat is %q", ErrDebugMode, claims.DbgStat)
	}

	return &Result{
		UserPubkey:   userPubkey,
		ServerPubkey: serverPubkey,
		ImageHash:    imageHash,
		Verified:     true,
	}, nil
}

// leafKey checks the x5c chain and returns the leaf RSA key.
func (v *JWTVerifier) leafKey(token *jwt.Token) (any, error) {
	// Step 1: Decode the x5c chain (leaf, intermediate, root)
	raw, ok := token.Header["x5c"].([]any)
	if !ok || len(raw) != 3 {
		return nil, fmt.Errorf("%w: x5c must carry exactly 3 certificates", ErrMalformed)
	}

	certs := make([]*x509.Certificate, len(raw))
	for i, entry := range raw {
		s, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("%w: x5c entry %d is not a string", ErrMalformed, i)
		}
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: x5c entry %d: %v", ErrMalformed, i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: x5c entry %d: %v", ErrMalformed, i, err)
		}
		certs[i] = cert
	}
	leaf, intermediate, root := certs[0], certs[1], certs[2]

	// Step 2: Compare the root fingerprint with the pinned value
	fingerprint := sha256.Sum256(root.Raw)
	if !bytes.Equal(fingerprint[:], v.RootFingerprint) {
		return nil, fmt.Errorf("%w: got %x", ErrRootFingerprint, fingerprint)
	}

	// Step 3: Verify the chain and every validity window
	now := v.now()
	for _, cert := range certs {
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return nil, fmt.Errorf("%w: certificate %q is outside its validity window", ErrChain, cert.Subject.CommonName)
		}
	}

	roots := x509.NewCertPool()
	roots.AddCert(root)
	intermediates := x509.NewCertPool()
	intermediates.AddCert(intermediate)

	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChain, err)
	}

	// Step 4: The leaf key checks the RS256 signature
	pub, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: leaf key is %T, expected RSA", ErrMalformed, leaf.PublicKey)
	}
	return pub, nil
}

func (v *JWTVerifier) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}
	return v.Now()
}
