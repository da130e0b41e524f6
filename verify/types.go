// Package verify provides off-chain verification of selective-disclosure
// proofs, mirroring the checks the on-chain hub performs in verifySelfProof.
//
// The verification process validates:
//   - the public-signal layout of the attestation id
//   - scope and user-identifier binding
//   - the proof date (one day tolerance around now)
//   - the Groth16 proof against the disclosure verifying key
//   - the identity commitment root and sanctions-list roots
//   - the forbidden-countries list and minimum age
//
// # Verification Flow
//
//	svc := verify.NewService(config, keys, hub, trees)
//	result, err := svc.Verify(ctx, &verify.Request{
//		AttestationID:   1,
//		Proof:           proof,
//		PublicSignals:   signals,
//		UserContextData: userContext,
//	})
//	if errors.Is(err, chain.ErrScopeMismatch) {
//		// proof was generated for another application
//	}
//
// Every failure is reported with the hub's typed errors from package chain,
// so a proof rejected here would revert on-chain with the same error.
package verify

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Config is the verification config of one application
type Config struct {
	// Scope is the scope hash the proof must be bound to
	Scope *big.Int
	// ChainID is the destination chain expected in the user context, 0 for any
	ChainID            uint64
	OlderThan          int
	ForbiddenCountries []string
	OFAC               bool
}

// Request represents the parameters for verification
type Request struct {
	AttestationID   uint64
	Proof           *Proof
	PublicSignals   []*big.Int
	UserContextData []byte
}

// RequestJSON is the wire form of a Request
type RequestJSON struct {
	AttestationID   uint64          `json:"attestationId"`
	Proof           json.RawMessage `json:"proof"`
	PublicSignals   []string        `json:"publicSignals"`
	UserContextData string          `json:"userContextData"`
}

// Decode converts the wire form into a Request
func (r *RequestJSON) Decode() (*Request, error) {
	proof, err := ParseProof(r.Proof)
	if err != nil {
		return nil, err
	}

	signals := make([]*big.Int, len(r.PublicSignals))
	for i, s := range r.PublicSignals {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid public signal %d: %q", i, s)
		}
		signals[i] = v
	}

	userContext, err := hex.DecodeString(strings.TrimPrefix(r.UserContextData, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode user context data: %w", err)
	}

	return &Request{
		AttestationID:   r.AttestationID,
		Proof:           proof,
		PublicSignals:   signals,
		UserContextData: userContext,
	}, nil
}

// Result represents the result of verification
type Result struct {
	Valid           bool        `json:"valid"`
	AttestationID   uint64      `json:"attestationId"`
	Nullifier       *big.Int    `json:"-"`
	UserIdentifier  *big.Int    `json:"-"`
	DestChainID     uint64      `json:"destChainId"`
	UserID          [32]byte    `json:"-"`
	UserDefinedData []byte      `json:"-"`
	Disclosure      *Disclosure `json:"disclosure,omitempty"`
}

// Disclosure is the revealed content of a proof
type Disclosure struct {
	Attributes         map[string]string `json:"attributes"`
	OlderThan          string            `json:"olderThan,omitempty"`
	OFAC               []bool            `json:"ofac"`
	ForbiddenCountries []string          `json:"forbiddenCountries,omitempty"`
}
