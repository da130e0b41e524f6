package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hubAddress  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	pcr0Address = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// revertErr mimics the JSON-RPC error returned for a reverted eth_call
type revertErr struct {
	data string
}

func (e *revertErr) Error() string  { return "execution reverted" }
func (e *revertErr) ErrorData() any { return e.data }

type mockCaller struct {
	lastMsg ethereum.CallMsg
	handle  func(method string, args []any) ([]byte, error)
}

func (m *mockCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.lastMsg = call

	var coder *abi.ABI
	var err error
	if *call.To == pcr0Address {
		coder, err = NewPCR0ManagerCoder()
	} else {
		coder, err = NewHubCoder()
	}
	if err != nil {
		return nil, err
	}

	method, err := coder.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	return m.handle(method.Name, args)
}

func sampleProof() *Proof {
	return &Proof{
		A: [2]*big.Int{big.NewInt(1), big.NewInt(2)},
		B: [2][2]*big.Int{{big.NewInt(3), big.NewInt(4)}, {big.NewInt(5), big.NewInt(6)}},
		C: [2]*big.Int{big.NewInt(7), big.NewInt(8)},
		PubSignals: []*big.Int{
			big.NewInt(9), big.NewInt(10), big.NewInt(11),
		},
	}
}

func newTestClient(t *testing.T, caller *mockCaller) *Client {
	t.Helper()
	c, err := NewClient(caller, nil, hubAddress, pcr0Address)
	require.NoError(t, err)
	return c
}

func TestAttestationID(t *testing.T) {
	id := AttestationID(2)
	assert.Equal(t, byte(2), id[31])
	assert.True(t, bytes.Equal(make([]byte, 31), id[:31]))
}

func TestProofPayload(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		payload, err := EncodeProofPayload(1, sampleProof())
		require.NoError(t, err)
		assert.Equal(t, byte(1), payload[31])

		id, proof, err := DecodeProofPayload(payload)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)
		assert.Equal(t, int64(6), proof.B[1][1].Int64())
		require.Len(t, proof.PubSignals, 3)
		assert.Equal(t, int64(11), proof.PubSignals[2].Int64())
	})

	t.Run("short payload", func(t *testing.T) {
		_, _, err := DecodeProofPayload([]byte{1, 2, 3})
		assert.ErrorIs(t, err, ErrInvalidDataFormat)
	})

	t.Run("garbage after id", func(t *testing.T) {
		payload := append(make([]byte, 32), 0xff, 0xff)
		_, _, err := DecodeProofPayload(payload)
		assert.ErrorIs(t, err, ErrInvalidDataFormat)
	})
}

func TestEncodeVerifySelfProof(t *testing.T) {
	coder, err := NewHubCoder()
	require.NoError(t, err)

	userContext := []byte("context")
	calldata, err := EncodeVerifySelfProof(3, sampleProof(), userContext)
	require.NoError(t, err)

	method, err := coder.MethodById(calldata[:4])
	require.NoError(t, err)
	assert.Equal(t, "verifySelfProof", method.Name)

	args, err := method.Inputs.Unpack(calldata[4:])
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, userContext, args[1])

	id, _, err := DecodeProofPayload(args[0].([]byte))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)
}

func TestEncodeRegisterCommitment(t *testing.T) {
	coder, err := NewHubCoder()
	require.NoError(t, err)

	calldata, err := EncodeRegisterCommitment(1, big.NewInt(42), sampleProof())
	require.NoError(t, err)

	method, err := coder.MethodById(calldata[:4])
	require.NoError(t, err)
	assert.Equal(t, "registerCommitment", method.Name)

	args, err := method.Inputs.Unpack(calldata[4:])
	require.NoError(t, err)
	assert.Equal(t, AttestationID(1), args[0])
	assert.Equal(t, int64(42), args[1].(*big.Int).Int64())
}

func TestRevert(t *testing.T) {
	sentinels := []error{
		ErrInvalidDataFormat, ErrScopeMismatch, ErrInvalidUserIdentifierInProof,
		ErrCurrentDateNotInValidRange, ErrInvalidVcAndDiscloseProof,
		ErrInvalidIdentityCommitmentRoot, ErrCrossChainIsNotSupportedYet,
		ErrInvalidPubkeyCommitment, ErrConfigNotSet,
		ErrInvalidOfacCheck, ErrInvalidForbiddenCountries, ErrInvalidOlderThan,
		ErrInvalidRegisterProof, ErrNoVerifierSet, ErrInvalidAttestationId,
	}
	for _, sentinel := range sentinels {
		t.Run(sentinel.Error(), func(t *testing.T) {
			data, err := EncodeRevert(sentinel)
			require.NoError(t, err)
			require.Len(t, data, 4)

			revert, err := DecodeRevert(data)
			require.NoError(t, err)
			assert.ErrorIs(t, revert, sentinel)
			assert.Equal(t, "execution reverted: "+sentinel.Error()+"()", revert.Error())
		})
	}

	t.Run("reason string", func(t *testing.T) {
		// Error(string) selector followed by abi.encode("nope")
		data := hexutil.MustDecode("0x08c379a0" +
			"0000000000000000000000000000000000000000000000000000000000000020" +
			"0000000000000000000000000000000000000000000000000000000000000004" +
			"6e6f706500000000000000000000000000000000000000000000000000000000")
		revert, err := DecodeRevert(data)
		require.NoError(t, err)
		assert.Equal(t, "nope", revert.Reason)
		assert.Nil(t, errors.Unwrap(revert))
	})

	t.Run("unknown selector", func(t *testing.T) {
		_, err := DecodeRevert([]byte{1, 2, 3, 4})
		assert.ErrorContains(t, err, "unknown revert selector")
	})

	t.Run("too short", func(t *testing.T) {
		_, err := DecodeRevert([]byte{1})
		assert.Error(t, err)
	})

	t.Run("non revert errors pass through", func(t *testing.T) {
		plain := errors.New("connection refused")
		assert.Equal(t, plain, revertFromCall(plain))
	})
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("nullifier lookup", func(t *testing.T) {
		caller := &mockCaller{handle: func(method string, args []any) ([]byte, error) {
			require.Equal(t, "nullifiers", method)
			assert.Equal(t, int64(77), args[1].(*big.Int).Int64())
			return abi.Arguments{{Type: mustType(t, "bool")}}.Pack(true)
		}}
		used, err := newTestClient(t, caller).IsNullifierUsed(ctx, 1, big.NewInt(77))
		require.NoError(t, err)
		assert.True(t, used)
		assert.Equal(t, hubAddress, *caller.lastMsg.To)
	})

	t.Run("dsc lookup", func(t *testing.T) {
		caller := &mockCaller{handle: func(method string, args []any) ([]byte, error) {
			require.Equal(t, "isRegisteredDscKeyCommitment", method)
			return abi.Arguments{{Type: mustType(t, "bool")}}.Pack(false)
		}}
		registered, err := newTestClient(t, caller).IsDSCRegistered(ctx, 1, big.NewInt(5))
		require.NoError(t, err)
		assert.False(t, registered)
	})

	t.Run("identity root", func(t *testing.T) {
		caller := &mockCaller{handle: func(method string, args []any) ([]byte, error) {
			return abi.Arguments{{Type: mustType(t, "uint256")}}.Pack(big.NewInt(1234))
		}}
		root, err := newTestClient(t, caller).IdentityRoot(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1234), root.Int64())
	})

	t.Run("simulate surfaces typed reverts", func(t *testing.T) {
		data, err := EncodeRevert(ErrScopeMismatch)
		require.NoError(t, err)

		caller := &mockCaller{handle: func(method string, args []any) ([]byte, error) {
			require.Equal(t, "verifySelfProof", method)
			return nil, &revertErr{data: hexutil.Encode(data)}
		}}
		err = newTestClient(t, caller).SimulateVerifySelfProof(ctx, common.Address{}, 1, sampleProof(), nil)
		assert.ErrorIs(t, err, ErrScopeMismatch)

		var revert *RevertError
		require.ErrorAs(t, err, &revert)
		assert.Equal(t, "ScopeMismatch", revert.Name)
	})

	t.Run("simulate success", func(t *testing.T) {
		caller := &mockCaller{handle: func(method string, args []any) ([]byte, error) {
			return nil, nil
		}}
		err := newTestClient(t, caller).SimulateVerifySelfProof(ctx, common.Address{}, 1, sampleProof(), nil)
		assert.NoError(t, err)
	})

	t.Run("read-only client cannot transact", func(t *testing.T) {
		caller := &mockCaller{}
		_, err := newTestClient(t, caller).RegisterCommitment(nil, 1, big.NewInt(1), sampleProof())
		assert.ErrorContains(t, err, "read-only")
	})
}

func TestPCR0AllowList(t *testing.T) {
	image := bytes.Repeat([]byte{0xab}, 48)

	caller := &mockCaller{handle: func(method string, args []any) ([]byte, error) {
		require.Equal(t, "isPCR0Set", method)
		return abi.Arguments{{Type: mustType(t, "bool")}}.Pack(bytes.Equal(args[0].([]byte), image))
	}}
	list := &PCR0AllowList{Client: newTestClient(t, caller)}

	allowed, err := list.IsAllowed(context.Background(), hexutil.Encode(image))
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, pcr0Address, *caller.lastMsg.To)

	allowed, err = list.IsAllowed(context.Background(), "cd")
	require.NoError(t, err)
	assert.False(t, allowed)

	_, err = list.IsAllowed(context.Background(), "zz")
	assert.Error(t, err)
}

func mustType(t *testing.T, name string) abi.Type {
	t.Helper()
	typ, err := abi.NewType(name, "", nil)
	require.NoError(t, err)
	return typ
}
