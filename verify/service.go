package verify

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/anchorageoss/selfprove-teeclient/chain"
	"github.com/anchorageoss/selfprove-teeclient/circuits"
	"github.com/anchorageoss/selfprove-teeclient/disclose"
	"github.com/anchorageoss/selfprove-teeclient/field"
)

// dateTolerance is how far the proof date may be from today
const dateTolerance = 24 * time.Hour

// Service handles verification logic
type Service struct {
	config        *Config
	keys          map[uint64]*VerifyingKey
	identityRoots IdentityRootSource
	ofacRoots     OFACRootSource
	formatter     *Formatter
	now           func() time.Time
}

// NewService creates a new verification service. keys maps attestation ids
// to disclosure verifying keys.
func NewService(config *Config, keys map[uint64]*VerifyingKey, identityRoots IdentityRootSource, ofacRoots OFACRootSource) *Service {
	return &Service{
		config:        config,
		keys:          keys,
		identityRoots: identityRoots,
		ofacRoots:     ofacRoots,
		formatter:     NewFormatter(),
		now:           time.Now,
	}
}

// Verify runs the hub's disclosure checks against a proof
func (s *Service) Verify(ctx context.Context, req *Request) (*Result, error) {
	// Step 1: decode the proof envelope
	layout, err := LayoutFor(req.AttestationID)
	if err != nil {
		return nil, err
	}
	signals := req.PublicSignals
	if req.Proof == nil || len(signals) != layout.Count {
		return nil, fmt.Errorf("%w: expected %d public signals, got %d", chain.ErrInvalidDataFormat, layout.Count, len(signals))
	}
	if len(req.UserContextData) < 64 {
		return nil, fmt.Errorf("%w: user context data too short", chain.ErrInvalidDataFormat)
	}
	if !signals[layout.AttestationID].IsUint64() || signals[layout.AttestationID].Uint64() != req.AttestationID {
		return nil, chain.ErrInvalidAttestationId
	}

	result := &Result{
		AttestationID:   req.AttestationID,
		Nullifier:       signals[layout.Nullifier],
		UserIdentifier:  signals[layout.UserIdentifier],
		UserDefinedData: req.UserContextData[64:],
	}
	destChain, err := UserContextChainID(req.UserContextData)
	if err != nil {
		return nil, err
	}
	result.DestChainID = destChain
	copy(result.UserID[:], req.UserContextData[32:64])

	// Step 2: application config
	if s.config == nil || s.config.Scope == nil {
		return nil, chain.ErrConfigNotSet
	}
	if s.config.ChainID != 0 && result.DestChainID != s.config.ChainID {
		return nil, chain.ErrCrossChainIsNotSupportedYet
	}

	// Step 3: scope and user binding
	if signals[layout.Scope].Cmp(s.config.Scope) != 0 {
		return nil, chain.ErrScopeMismatch
	}
	if signals[layout.UserIdentifier].Cmp(circuits.UserIdentifier(req.UserContextData)) != 0 {
		return nil, chain.ErrInvalidUserIdentifierInProof
	}

	// Step 4: proof date
	if err := s.checkDate(signals[layout.CurrentDate : layout.CurrentDate+6]); err != nil {
		return nil, err
	}

	// Step 5: Groth16
	vk, ok := s.keys[req.AttestationID]
	if !ok {
		return nil, chain.ErrNoVerifierSet
	}
	if err := VerifyGroth16(vk, req.Proof, signals); err != nil {
		return nil, err
	}

	// Step 6: identity commitment root
	if s.identityRoots == nil {
		return nil, chain.ErrConfigNotSet
	}
	root, err := s.identityRoots.IdentityRoot(ctx, req.AttestationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch identity root: %w", err)
	}
	if signals[layout.MerkleRoot].Cmp(root) != 0 {
		return nil, chain.ErrInvalidIdentityCommitmentRoot
	}

	disclosure, err := s.formatter.Disclosure(layout, signals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidDataFormat, err)
	}
	result.Disclosure = disclosure

	// Step 7: sanctions lists
	if s.config.OFAC {
		if err := s.checkOFAC(ctx, layout, signals, disclosure); err != nil {
			return nil, err
		}
	}

	// Step 8: forbidden countries
	if len(s.config.ForbiddenCountries) > 0 {
		expected, err := disclose.PackForbiddenCountries(s.config.ForbiddenCountries)
		if err != nil {
			return nil, fmt.Errorf("invalid forbidden countries config: %w", err)
		}
		for i, e := range expected {
			if signals[layout.ForbiddenCountries+i].Cmp(e) != 0 {
				return nil, chain.ErrInvalidForbiddenCountries
			}
		}
	}

	// Step 9: minimum age
	if s.config.OlderThan > 0 {
		age, err := strconv.Atoi(disclosure.OlderThan)
		if err != nil || age < s.config.OlderThan {
			return nil, chain.ErrInvalidOlderThan
		}
	}

	result.Valid = true
	return result, nil
}

func (s *Service) checkDate(digits []*big.Int) error {
	var buf [6]byte
	for i, d := range digits {
		if !d.IsUint64() || d.Uint64() > 9 {
			return chain.ErrCurrentDateNotInValidRange
		}
		buf[i] = byte('0' + d.Uint64())
	}
	date, err := time.Parse("060102", string(buf[:]))
	if err != nil {
		return chain.ErrCurrentDateNotInValidRange
	}

	// time.Parse maps 69-99 to the 1900s; proof dates are always 20YY
	if date.Year() < 2000 {
		date = date.AddDate(100, 0, 0)
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	if date.Before(today.Add(-dateTolerance)) || date.After(today.Add(dateTolerance)) {
		return chain.ErrCurrentDateNotInValidRange
	}
	return nil
}

func (s *Service) checkOFAC(ctx context.Context, layout *Layout, signals []*big.Int, d *Disclosure) error {
	if s.ofacRoots == nil {
		return chain.ErrConfigNotSet
	}
	roots, err := s.ofacRoots.OFACRoots(ctx, layout.Category, layout.OFACLists)
	if err != nil {
		return fmt.Errorf("failed to fetch OFAC roots: %w", err)
	}
	if len(roots) != len(layout.OFACRoots) {
		return fmt.Errorf("expected %d OFAC roots, got %d", len(layout.OFACRoots), len(roots))
	}
	for i, idx := range layout.OFACRoots {
		if signals[idx].Cmp(roots[i]) != 0 {
			return fmt.Errorf("%w: %s root mismatch", chain.ErrInvalidOfacCheck, layout.OFACLists[i])
		}
		if !d.OFAC[i] {
			return fmt.Errorf("%w: %s", chain.ErrInvalidOfacCheck, layout.OFACLists[i])
		}
	}
	return nil
}

// NewConfig builds an application config bound to endpoint and scope
func NewConfig(endpoint, scope string) (*Config, error) {
	h, err := circuits.ScopeHash(endpoint, scope)
	if err != nil {
		return nil, err
	}
	return &Config{Scope: h}, nil
}

// IsRevert reports whether err is one of the hub's typed rejections
func IsRevert(err error) bool {
	for _, sentinel := range []error{
		chain.ErrInvalidDataFormat, chain.ErrScopeMismatch, chain.ErrInvalidUserIdentifierInProof,
		chain.ErrCurrentDateNotInValidRange, chain.ErrInvalidVcAndDiscloseProof,
		chain.ErrInvalidIdentityCommitmentRoot, chain.ErrCrossChainIsNotSupportedYet,
		chain.ErrConfigNotSet, chain.ErrInvalidOfacCheck, chain.ErrInvalidForbiddenCountries,
		chain.ErrInvalidOlderThan, chain.ErrNoVerifierSet, chain.ErrInvalidAttestationId,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// UserContextChainID reads the destination chain of user context data
func UserContextChainID(userContextData []byte) (uint64, error) {
	if len(userContextData) < 32 {
		return 0, chain.ErrInvalidDataFormat
	}
	for _, b := range userContextData[:24] {
		if b != 0 {
			return 0, chain.ErrCrossChainIsNotSupportedYet
		}
	}
	return binary.BigEndian.Uint64(userContextData[24:32]), nil
}

// RevealedBytes unpacks the revealed data of a proof
func RevealedBytes(layout *Layout, signals []*big.Int) []byte {
	return field.UnpackBytes(signals[layout.Revealed:layout.Revealed+layout.RevealedElements], layout.RevealedLength())
}
