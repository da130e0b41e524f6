package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Caller executes read-only contract calls
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client reads hub state and simulates hub calls
type Client struct {
	caller     Caller
	transactor bind.ContractTransactor
	hub        common.Address
	pcr0       common.Address
	hubABI     *abi.ABI
	pcr0ABI    *abi.ABI
}

// NewClient creates a client for the hub and image registry. transactor may
// be nil for read-only use.
func NewClient(caller Caller, transactor bind.ContractTransactor, hub, pcr0Manager common.Address) (*Client, error) {
	hubABI, err := NewHubCoder()
	if err != nil {
		return nil, fmt.Errorf("failed to parse hub ABI: %w", err)
	}
	pcr0ABI, err := NewPCR0ManagerCoder()
	if err != nil {
		return nil, fmt.Errorf("failed to parse PCR0 manager ABI: %w", err)
	}
	return &Client{
		caller:     caller,
		transactor: transactor,
		hub:        hub,
		pcr0:       pcr0Manager,
		hubABI:     hubABI,
		pcr0ABI:    pcr0ABI,
	}, nil
}

// Dial connects to an EVM RPC endpoint
func Dial(ctx context.Context, rpcURL string, hub, pcr0Manager common.Address) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return NewClient(eth, eth, hub, pcr0Manager)
}

func (c *Client) call(ctx context.Context, to common.Address, coder *abi.ABI, method string, args ...any) ([]any, error) {
	input, err := coder.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	output, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, revertFromCall(err)
	}

	values, err := coder.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}

func (c *Client) callBool(ctx context.Context, to common.Address, coder *abi.ABI, method string, args ...any) (bool, error) {
	values, err := c.call(ctx, to, coder, method, args...)
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, fmt.Errorf("%s returned %d values", method, len(values))
	}
	v, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s returned %T", method, values[0])
	}
	return v, nil
}

// IsNullifierUsed reports whether a nullifier already backs a commitment
func (c *Client) IsNullifierUsed(ctx context.Context, attestationID uint64, nullifier *big.Int) (bool, error) {
	return c.callBool(ctx, c.hub, c.hubABI, "nullifiers", AttestationID(attestationID), nullifier)
}

// IsDSCRegistered reports whether a DSC leaf has been proven on-chain
func (c *Client) IsDSCRegistered(ctx context.Context, attestationID uint64, dscLeaf *big.Int) (bool, error) {
	return c.callBool(ctx, c.hub, c.hubABI, "isRegisteredDscKeyCommitment", AttestationID(attestationID), dscLeaf)
}

// IdentityRoot returns the current commitment tree root
func (c *Client) IdentityRoot(ctx context.Context, attestationID uint64) (*big.Int, error) {
	values, err := c.call(ctx, c.hub, c.hubABI, "getIdentityCommitmentMerkleRoot", AttestationID(attestationID))
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("getIdentityCommitmentMerkleRoot returned %d values", len(values))
	}
	root, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getIdentityCommitmentMerkleRoot returned %T", values[0])
	}
	return root, nil
}

// SimulateVerifySelfProof runs verifySelfProof as an eth_call and returns
// the typed revert, if any
func (c *Client) SimulateVerifySelfProof(ctx context.Context, from common.Address, attestationID uint64, proof *Proof, userContextData []byte) error {
	input, err := EncodeVerifySelfProof(attestationID, proof, userContextData)
	if err != nil {
		return err
	}
	_, err = c.caller.CallContract(ctx, ethereum.CallMsg{From: from, To: &c.hub, Data: input}, nil)
	if err != nil {
		return revertFromCall(err)
	}
	return nil
}

// RegisterCommitment submits a registration proof
func (c *Client) RegisterCommitment(opts *bind.TransactOpts, attestationID uint64, verifierID *big.Int, proof *Proof) (*types.Transaction, error) {
	if c.transactor == nil {
		return nil, fmt.Errorf("client is read-only")
	}
	contract := bind.NewBoundContract(c.hub, *c.hubABI, nil, c.transactor, nil)
	tx, err := contract.Transact(opts, "registerCommitment", AttestationID(attestationID), verifierID, *proof)
	if err != nil {
		return nil, revertFromCall(err)
	}
	return tx, nil
}

// IsPCR0Set reports whether an enclave image is registered
func (c *Client) IsPCR0Set(ctx context.Context, pcr0 []byte) (bool, error) {
	return c.callBool(ctx, c.pcr0, c.pcr0ABI, "isPCR0Set", pcr0)
}

// PCR0AllowList checks enclave images against the on-chain registry
type PCR0AllowList struct {
	Client *Client
}

// IsAllowed decodes a hex image hash and queries the registry
func (l *PCR0AllowList) IsAllowed(ctx context.Context, imageHash string) (bool, error) {
	pcr0, err := hex.DecodeString(strings.TrimPrefix(imageHash, "0x"))
	if err != nil {
		return false, fmt.Errorf("invalid image hash: %w", err)
	}
	return l.Client.IsPCR0Set(ctx, pcr0)
}
