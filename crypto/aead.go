package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// NonceSize is the AES-GCM nonce length.
const NonceSize = 12

const tagSize = 16

// Sealed is an AES-256-GCM ciphertext with its nonce and tag split out, as
// the TEE expects them.
type Sealed struct {
	Nonce      []byte
	CipherText []byte
	AuthTag    []byte
}

// Encrypt seals plaintext under key with a fresh random nonce.
func Encrypt(plaintext, key []byte) (*Sealed, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := aead.Seal(nil, nonce, plaintext, nil)
	split := len(out) - tagSize

	return &Sealed{
		Nonce:      nonce,
		CipherText: out[:split],
		AuthTag:    out[split:],
	}, nil
}

// Decrypt opens a sealed payload.
func Decrypt(sealed *Sealed, key []byte) ([]byte, error) {
	if len(sealed.Nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce length %d", len(sealed.Nonce))
	}
	if len(sealed.AuthTag) != tagSize {
		return nil, fmt.Errorf("invalid auth tag length %d", len(sealed.AuthTag))
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(sealed.CipherText)+tagSize)
	buf = append(buf, sealed.CipherText...)
	buf = append(buf, sealed.AuthTag...)

	plaintext, err := aead.Open(nil, sealed.Nonce, buf, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length %d, expected %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
