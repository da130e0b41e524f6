package keys

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/anchorageoss/selfprove-teeclient/field"
)

// ParseSecret parses a hex user secret and checks it is a field element.
func ParseSecret(s string) (*big.Int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, fmt.Errorf("empty secret")
	}

	secret, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("secret is not hex encoded")
	}
	if !field.InField(secret) {
		return nil, fmt.Errorf("secret is not below the field modulus")
	}
	return secret, nil
}

// GenerateSecret returns a random field element.
func GenerateSecret() (*big.Int, error) {
	secret, err := rand.Int(rand.Reader, field.Modulus())
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	return secret, nil
}

// FileSecretProvider reads the user secret from a file.
type FileSecretProvider struct {
	Path string
}

// Secret loads and validates the secret.
func (f *FileSecretProvider) Secret(ctx context.Context) (*big.Int, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}
	return ParseSecret(string(data))
}

// StaticSecret is a secret held in memory.
type StaticSecret struct {
	Value *big.Int
}

// Secret returns the held secret.
func (s StaticSecret) Secret(ctx context.Context) (*big.Int, error) {
	if s.Value == nil || !field.InField(s.Value) {
		return nil, fmt.Errorf("invalid secret")
	}
	return s.Value, nil
}
