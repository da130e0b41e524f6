package chain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Typed hub errors. RevertError unwraps to these by name.
var (
	ErrInvalidDataFormat             = errors.New("InvalidDataFormat")
	ErrScopeMismatch                 = errors.New("ScopeMismatch")
	ErrInvalidUserIdentifierInProof  = errors.New("InvalidUserIdentifierInProof")
	ErrCurrentDateNotInValidRange    = errors.New("CurrentDateNotInValidRange")
	ErrInvalidVcAndDiscloseProof     = errors.New("InvalidVcAndDiscloseProof")
	ErrInvalidIdentityCommitmentRoot = errors.New("InvalidIdentityCommitmentRoot")
	ErrCrossChainIsNotSupportedYet   = errors.New("CrossChainIsNotSupportedYet")
	ErrInvalidPubkeyCommitment       = errors.New("InvalidPubkeyCommitment")
	ErrConfigNotSet                  = errors.New("ConfigNotSet")
	ErrInvalidOfacCheck              = errors.New("InvalidOfacCheck")
	ErrInvalidForbiddenCountries     = errors.New("InvalidForbiddenCountries")
	ErrInvalidOlderThan              = errors.New("InvalidOlderThan")
	ErrInvalidRegisterProof          = errors.New("InvalidRegisterProof")
	ErrNoVerifierSet                 = errors.New("NoVerifierSet")
	ErrInvalidAttestationId          = errors.New("InvalidAttestationId")
)

var revertSentinels = map[string]error{}

func init() {
	for _, err := range []error{
		ErrInvalidDataFormat, ErrScopeMismatch, ErrInvalidUserIdentifierInProof,
		ErrCurrentDateNotInValidRange, ErrInvalidVcAndDiscloseProof,
		ErrInvalidIdentityCommitmentRoot, ErrCrossChainIsNotSupportedYet,
		ErrInvalidPubkeyCommitment, ErrConfigNotSet,
		ErrInvalidOfacCheck, ErrInvalidForbiddenCountries, ErrInvalidOlderThan,
		ErrInvalidRegisterProof, ErrNoVerifierSet, ErrInvalidAttestationId,
	} {
		revertSentinels[err.Error()] = err
	}
}

// RevertError is a decoded contract revert. It matches the typed sentinel of
// the same name with errors.Is.
type RevertError struct {
	Name string
	// Reason is set for Error(string) reverts
	Reason string
	Data   []byte
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("execution reverted: %s", e.Reason)
	}
	return fmt.Sprintf("execution reverted: %s()", e.Name)
}

// Unwrap returns the typed sentinel, if any
func (e *RevertError) Unwrap() error {
	return revertSentinels[e.Name]
}

// NewRevert builds the revert for a typed sentinel
func NewRevert(sentinel error) *RevertError {
	return &RevertError{Name: sentinel.Error()}
}

// DecodeRevert decodes revert data returned by the hub
func DecodeRevert(data []byte) (*RevertError, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("revert data too short: %d bytes", len(data))
	}

	if reason, err := abi.UnpackRevert(data); err == nil {
		return &RevertError{Name: "Error", Reason: reason, Data: data}, nil
	}

	coder, err := NewHubCoder()
	if err != nil {
		return nil, err
	}
	for name, e := range coder.Errors {
		if bytes.Equal(e.ID[:4], data[:4]) {
			return &RevertError{Name: name, Data: data}, nil
		}
	}
	return nil, fmt.Errorf("unknown revert selector %x", data[:4])
}

// EncodeRevert returns the revert data of a typed sentinel
func EncodeRevert(sentinel error) ([]byte, error) {
	coder, err := NewHubCoder()
	if err != nil {
		return nil, err
	}
	e, ok := coder.Errors[sentinel.Error()]
	if !ok {
		return nil, fmt.Errorf("unknown hub error %s", sentinel)
	}
	return append([]byte(nil), e.ID[:4]...), nil
}

// revertFromCall extracts a typed revert from an eth_call error
func revertFromCall(err error) error {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return err
	}
	hexData, ok := dataErr.ErrorData().(string)
	if !ok {
		return err
	}
	data, decodeErr := hexutil.Decode(hexData)
	if decodeErr != nil {
		return err
	}
	revert, decodeErr := DecodeRevert(data)
	if decodeErr != nil {
		return err
	}
	return revert
}
