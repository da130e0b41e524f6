// Package keys provides the client key and user secret loading used by the
// prover.
//
// # Key File Format
//
// Client keys are stored in ~/.config/selfprove/keys/ as:
//
//	<key-name>.private - Format: "hexkey:p256" where hexkey is the private scalar
//
// # Loading Keys
//
// Load a client key using the FileKeyProvider:
//
//	provider := &keys.FileKeyProvider{KeyName: "my-key"}
//	key, err := provider.ClientKey(context.Background())
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Sessions that do not need a stable identity towards the TEE use an
// EphemeralKeyProvider, which generates a fresh key per session.
//
// # Key Formats
//
// The private key format in .private file is "hexkey:curve" where:
//   - hexkey: Hex-encoded private key scalar (must be 64 hex characters for P-256)
//   - curve: Curve name (currently only "p256" is supported)
package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/anchorageoss/selfprove-teeclient/crypto"
)

// FileKeyProvider loads the client key from a key file
type FileKeyProvider struct {
	KeyName string
	// Dir overrides the default key directory
	Dir string
}

// ClientKey loads the client key from files
func (f *FileKeyProvider) ClientKey(ctx context.Context) (*ecdsa.PrivateKey, error) {
	dir := f.Dir
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	return LoadKeyFromFile(filepath.Join(dir, f.KeyName+".private"))
}

// DefaultDir returns the default key directory
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "selfprove", "keys"), nil
}

// LoadKeyFromFile loads a "hexkey:p256" private key file
func LoadKeyFromFile(path string) (*ecdsa.PrivateKey, error) {
	privateKeyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	return ParsePrivateKey(string(privateKeyBytes))
}

// ParsePrivateKey parses the "hexkey:curve" format
func ParsePrivateKey(content string) (*ecdsa.PrivateKey, error) {
	// Parse private key format: "hexkey:curve"
	parts := strings.Split(strings.TrimSpace(content), ":")
	if len(parts) != 2 {
		return nil, errors.New("invalid private key format, expected 'hexkey:curve'")
	}

	privateKeyHex := parts[0]
	curve := parts[1]

	if curve != "p256" {
		return nil, fmt.Errorf("unsupported curve: %s, only p256 is supported", curve)
	}

	return privateKeyFromHex(privateKeyHex)
}

// FormatPrivateKey renders a key in the "hexkey:p256" format
func FormatPrivateKey(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(key.D.FillBytes(make([]byte, 32))) + ":p256"
}

// WriteKeyFile stores a key with owner-only permissions
func WriteKeyFile(path string, key *ecdsa.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(FormatPrivateKey(key)+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write private key file: %w", err)
	}
	return nil
}

// MemoryKeyProvider provides a client key from memory
type MemoryKeyProvider struct {
	privateKey string
}

// NewMemoryKeyProvider creates a new memory-based key provider
func NewMemoryKeyProvider(privateKeyHex string) *MemoryKeyProvider {
	return &MemoryKeyProvider{privateKey: privateKeyHex}
}

// ClientKey implements the prover key provider
func (m *MemoryKeyProvider) ClientKey(ctx context.Context) (*ecdsa.PrivateKey, error) {
	return privateKeyFromHex(m.privateKey)
}

// EphemeralKeyProvider generates a fresh key on every call
type EphemeralKeyProvider struct{}

// ClientKey implements the prover key provider
func (EphemeralKeyProvider) ClientKey(ctx context.Context) (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

func privateKeyFromHex(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	// Decode hex private key
	privateKeyBytes, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key hex: %w", err)
	}
	if len(privateKeyBytes) != 32 {
		return nil, fmt.Errorf("invalid private key length %d, expected 32", len(privateKeyBytes))
	}

	// Create ECDSA private key
	ecdsaCurve := elliptic.P256()
	d := new(big.Int).SetBytes(privateKeyBytes)
	if d.Sign() == 0 || d.Cmp(ecdsaCurve.Params().N) >= 0 {
		return nil, errors.New("private key scalar out of range")
	}

	privateKey := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: ecdsaCurve,
		},
		D: d,
	}

	// Calculate public key point
	privateKey.X, privateKey.Y = ecdsaCurve.ScalarBaseMult(privateKeyBytes)

	return privateKey, nil
}
