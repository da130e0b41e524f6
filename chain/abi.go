// Package chain talks to the on-chain identity hub: it encodes
// verifySelfProof and registerCommitment calls, reads registry state, and
// decodes typed contract reverts.
package chain

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

const proofTuple = `{"components":[` +
	`{"internalType":"uint256[2]","name":"a","type":"uint256[2]"},` +
	`{"internalType":"uint256[2][2]","name":"b","type":"uint256[2][2]"},` +
	`{"internalType":"uint256[2]","name":"c","type":"uint256[2]"},` +
	`{"internalType":"uint256[]","name":"pubSignals","type":"uint256[]"}],` +
	`"internalType":"struct GenericProofStruct","name":"proof","type":"tuple"}`

func abiError(name string) string {
	return `{"inputs":[],"name":"` + name + `","type":"error"}`
}

// HubMetaData contains the ABI of the identity hub contract
var HubMetaData = &bind.MetaData{
	ABI: `[` +
		`{"inputs":[{"internalType":"bytes","name":"proofPayload","type":"bytes"},{"internalType":"bytes","name":"userContextData","type":"bytes"}],"name":"verifySelfProof","outputs":[],"stateMutability":"nonpayable","type":"function"},` +
		`{"inputs":[{"internalType":"bytes32","name":"attestationId","type":"bytes32"},{"internalType":"uint256","name":"registerCircuitVerifierId","type":"uint256"},` + proofTuple + `],"name":"registerCommitment","outputs":[],"stateMutability":"nonpayable","type":"function"},` +
		`{"inputs":[{"internalType":"bytes32","name":"attestationId","type":"bytes32"},{"internalType":"uint256","name":"nullifier","type":"uint256"}],"name":"nullifiers","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},` +
		`{"inputs":[{"internalType":"bytes32","name":"attestationId","type":"bytes32"},{"internalType":"uint256","name":"dscCommitment","type":"uint256"}],"name":"isRegisteredDscKeyCommitment","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},` +
		`{"inputs":[{"internalType":"bytes32","name":"attestationId","type":"bytes32"}],"name":"getIdentityCommitmentMerkleRoot","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},` +
		`{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"attestationId","type":"bytes32"},{"indexed":true,"internalType":"uint256","name":"nullifier","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"commitment","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"timestamp","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"imtRoot","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"imtIndex","type":"uint256"}],"name":"CommitmentRegistered","type":"event"},` +
		abiError("InvalidDataFormat") + `,` +
		abiError("ScopeMismatch") + `,` +
		abiError("InvalidUserIdentifierInProof") + `,` +
		abiError("CurrentDateNotInValidRange") + `,` +
		abiError("InvalidVcAndDiscloseProof") + `,` +
		abiError("InvalidIdentityCommitmentRoot") + `,` +
		abiError("CrossChainIsNotSupportedYet") + `,` +
		abiError("InvalidPubkeyCommitment") + `,` +
		abiError("ConfigNotSet") + `,` +
		abiError("InvalidOfacCheck") + `,` +
		abiError("InvalidForbiddenCountries") + `,` +
		abiError("InvalidOlderThan") + `,` +
		abiError("InvalidRegisterProof") + `,` +
		abiError("NoVerifierSet") + `,` +
		abiError("InvalidAttestationId") +
		`]`,
}

// PCR0ManagerMetaData contains the ABI of the enclave image registry
var PCR0ManagerMetaData = &bind.MetaData{
	ABI: `[{"inputs":[{"internalType":"bytes","name":"pcr0","type":"bytes"}],"name":"isPCR0Set","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}]`,
}

// NewHubCoder parses the hub ABI
func NewHubCoder() (*abi.ABI, error) {
	parsed, err := HubMetaData.GetAbi()
	if err != nil {
		return nil, err
	}

	return parsed, nil
}

// NewPCR0ManagerCoder parses the image registry ABI
func NewPCR0ManagerCoder() (*abi.ABI, error) {
	parsed, err := PCR0ManagerMetaData.GetAbi()
	if err != nil {
		return nil, err
	}

	return parsed, nil
}
