// Package crypto provides the key agreement, channel encryption and
// signature primitives used between the prover and the TEE.
//
// This package provides:
//   - ECDH P-256 key agreement with a 32 byte derived key
//   - AES-256-GCM payload encryption
//   - Public key parsing (uncompressed, compressed and raw X||Y)
//   - Raw r||s ECDSA verification for COSE signatures
//
// # Key agreement
//
// Derive the channel key from the client key and the attested server key:
//
//	key, err := crypto.SharedKey(clientKey, serverPubkey)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Encryption
//
// Encrypt a payload for the TEE:
//
//	sealed, err := crypto.Encrypt(plaintext, key)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Verification
//
// Verify a raw r||s ECDSA signature over a digest:
//
//	valid := crypto.VerifyRawECDSA(publicKey, digest, signature)
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
)

// SignRawECDSA signs a digest and returns the fixed-width r||s encoding
func SignRawECDSA(privateKey *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, privateKey, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign with ECDSA: %w", err)
	}

	size := coordinateSize(&privateKey.PublicKey)
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}

// VerifyRawECDSA verifies a fixed-width r||s signature over a digest
func VerifyRawECDSA(publicKey *ecdsa.PublicKey, digest []byte, signature []byte) bool {
	if publicKey == nil {
		return false
	}

	// Each half is the curve's coordinate size (32 for P-256, 48 for P-384)
	size := coordinateSize(publicKey)
	if len(signature) != 2*size {
		return false
	}

	r := new(big.Int).SetBytes(signature[:size])
	s := new(big.Int).SetBytes(signature[size:])

	return ecdsa.Verify(publicKey, digest, r, s)
}

func coordinateSize(pub *ecdsa.PublicKey) int {
	return (pub.Curve.Params().BitSize + 7) / 8
}
