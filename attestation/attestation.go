// Package attestation validates TEE attestation documents before any key
// agreement takes place.
//
// Two document formats are supported:
//
//   - PKI-JWT tokens (RS256 with an x5c chain pinned to a root fingerprint)
//   - COSE_Sign1 documents in the AWS Nitro format (CBOR, ES384)
//
// # Usage
//
//	validator := &attestation.Validator{
//		Verifier: attestation.NewJWTVerifier(rootFingerprint),
//		Images:   attestation.NewStaticAllowList(rules),
//	}
//	result, err := validator.Validate(ctx, doc)
//	if err != nil {
//		// connection-fatal
//	}
//
// Every failure is fatal for the connection: callers must never derive keys
// from a document that did not validate.
package attestation

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for documents that cannot be decoded or are
	// missing required fields.
	ErrMalformed = errors.New("malformed attestation document")

	// ErrRootFingerprint is returned when the chain root is not the pinned root.
	ErrRootFingerprint = errors.New("root certificate fingerprint mismatch")

	// ErrChain is returned when the certificate chain does not verify.
	ErrChain = errors.New("certificate chain verification failed")

	// ErrSignature is returned when the document signature does not verify.
	ErrSignature = errors.New("attestation signature verification failed")

	// ErrDebugMode is returned when a production session sees a debug enclave.
	ErrDebugMode = errors.New("enclave is running in debug mode")

	// ErrImageNotAllowed is returned when the image hash is not allow-listed.
	ErrImageNotAllowed = errors.New("enclave image is not allow-listed")
)

// Result is the outcome of a successful validation.
type Result struct {
	UserPubkey   []byte
	ServerPubkey []byte
	ImageHash    string
	Verified     bool
}

// Verifier validates an attestation document of one format.
type Verifier interface {
	Validate(doc []byte, devMode bool) (*Result, error)
}

// ImageAllowList decides whether an enclave image hash may be trusted.
type ImageAllowList interface {
	IsAllowed(ctx context.Context, imageHash string) (bool, error)
}

// Validator combines document verification with the image allow-list.
type Validator struct {
	Verifier Verifier
	Images   ImageAllowList
	DevMode  bool
}

// Validate verifies the document and checks its image hash.
func (v *Validator) Validate(ctx context.Context, doc []byte) (*Result, error) {
	result, err := v.Verifier.Validate(doc, v.DevMode)
	if err != nil {
		return nil, err
	}
	if !result.Verified {
		return nil, ErrSignature
	}

	if v.Images == nil {
		if v.DevMode {
			return result, nil
		}
		return nil, fmt.Errorf("%w: no allow-list configured", ErrImageNotAllowed)
	}

	allowed, err := v.Images.IsAllowed(ctx, result.ImageHash)
	if err != nil {
		return nil, fmt.Errorf("failed to check image allow-list: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s", ErrImageNotAllowed, result.ImageHash)
	}

	return result, nil
}
