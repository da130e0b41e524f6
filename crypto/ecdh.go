package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"math/big"
)

// KeySize is the length of the derived channel key.
const KeySize = 32

// GenerateKey creates an ephemeral P-256 client key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client key: %w", err)
	}
	return key, nil
}

// MarshalPublicKey returns the 65 byte uncompressed SEC1 encoding.
func MarshalPublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	key, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key: %w", err)
	}
	return key.Bytes(), nil
}

// ParsePublicKey accepts an uncompressed (65 byte), compressed (33 byte) or
// raw X||Y (64 byte) P-256 point.
func ParsePublicKey(b []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()

	var x, y *big.Int
	switch len(b) {
	case 65:
		if b[0] != 0x04 {
			return nil, fmt.Errorf("invalid uncompressed point prefix 0x%02x", b[0])
		}
		x = new(big.Int).SetBytes(b[1:33])
		y = new(big.Int).SetBytes(b[33:])
	case 64:
		x = new(big.Int).SetBytes(b[:32])
		y = new(big.Int).SetBytes(b[32:])
	case 33:
		x, y = elliptic.UnmarshalCompressed(curve, b)
		if x == nil {
			return nil, fmt.Errorf("invalid compressed point")
		}
	default:
		return nil, fmt.Errorf("invalid public key length %d", len(b))
	}

	pub := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
	// ECDH conversion rejects points that are not on the curve
	if _, err := pub.ECDH(); err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return pub, nil
}

// SharedKey derives the 32 byte AES key from the client private key and the
// attested server public key.
func SharedKey(priv *ecdsa.PrivateKey, serverPub []byte) ([]byte, error) {
	pub, err := ParsePublicKey(serverPub)
	if err != nil {
		return nil, err
	}

	ecdhPriv, err := priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to convert client key: %w", err)
	}
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to convert server key: %w", err)
	}

	secret, err := ecdhPriv.ECDH(ecdhPub)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	return fitKey(secret), nil
}

// fitKey left-pads or truncates the secret to KeySize bytes.
func fitKey(secret []byte) []byte {
	key := make([]byte, KeySize)
	if len(secret) >= KeySize {
		copy(key, secret[:KeySize])
	} else {
		copy(key[KeySize-len(secret):], secret)
	}
	return key
}
