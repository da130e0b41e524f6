package chain

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Proof is a Groth16 proof with its public signals, in contract layout
type Proof struct {
	A          [2]*big.Int
	B          [2][2]*big.Int
	C          [2]*big.Int
	PubSignals []*big.Int
}

// AttestationID encodes an attestation id as bytes32
func AttestationID(id uint64) [32]byte {
	var out [32]byte
	binary.BigEndian.PutUint64(out[24:], id)
	return out
}

func proofArguments() (abi.Arguments, error) {
	proofT, err := abi.NewType("tuple", "struct GenericProofStruct", []abi.ArgumentMarshaling{
		{Name: "a", Type: "uint256[2]"},
		{Name: "b", Type: "uint256[2][2]"},
		{Name: "c", Type: "uint256[2]"},
		{Name: "pubSignals", Type: "uint256[]"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build proof type: %w", err)
	}
	return abi.Arguments{{Type: proofT}}, nil
}

// EncodeProofPayload builds attestationId ++ abi.encode(proof)
func EncodeProofPayload(attestationID uint64, proof *Proof) ([]byte, error) {
	args, err := proofArguments()
	if err != nil {
		return nil, err
	}
	encoded, err := args.Pack(*proof)
	if err != nil {
		return nil, fmt.Errorf("failed to pack proof: %w", err)
	}

	id := AttestationID(attestationID)
	return append(id[:], encoded...), nil
}

// DecodeProofPayload splits a proof payload into its attestation id and proof
func DecodeProofPayload(payload []byte) (uint64, *Proof, error) {
	if len(payload) < 32 {
		return 0, nil, fmt.Errorf("%w: proof payload too short", ErrInvalidDataFormat)
	}
	args, err := proofArguments()
	if err != nil {
		return 0, nil, err
	}
	values, err := args.Unpack(payload[32:])
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidDataFormat, err)
	}

	if len(values) != 1 {
		return 0, nil, ErrInvalidDataFormat
	}
	proof, ok := abi.ConvertType(values[0], new(Proof)).(*Proof)
	if !ok {
		return 0, nil, ErrInvalidDataFormat
	}
	id := new(big.Int).SetBytes(payload[:32])
	if !id.IsUint64() {
		return 0, nil, ErrInvalidAttestationId
	}
	return id.Uint64(), proof, nil
}

// EncodeVerifySelfProof builds the verifySelfProof calldata
func EncodeVerifySelfProof(attestationID uint64, proof *Proof, userContextData []byte) ([]byte, error) {
	payload, err := EncodeProofPayload(attestationID, proof)
	if err != nil {
		return nil, err
	}
	coder, err := NewHubCoder()
	if err != nil {
		return nil, err
	}
	return coder.Pack("verifySelfProof", payload, userContextData)
}

// EncodeRegisterCommitment builds the registerCommitment calldata
func EncodeRegisterCommitment(attestationID uint64, verifierID *big.Int, proof *Proof) ([]byte, error) {
	coder, err := NewHubCoder()
	if err != nil {
		return nil, err
	}
	return coder.Pack("registerCommitment", AttestationID(attestationID), verifierID, *proof)
}
