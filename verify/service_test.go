package verify

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/selfprove-teeclient/chain"
	"github.com/anchorageoss/selfprove-teeclient/circuits"
)

func TestLayouts(t *testing.T) {
	tests := []struct {
		name           string
		attestationID  uint64
		count          int
		revealed       int
		nullifier      int
		scope          int
		userIdentifier int
		currentDate    int
		ofacRoots      []int
	}{
		{"passport", 1, 21, 3, 7, 19, 20, 10, []int{16, 17, 18}},
		{"eu id card", 2, 21, 4, 8, 19, 20, 11, []int{17, 18}},
		{"selfrica", 4, 26, 9, 13, 24, 25, 16, []int{22, 23}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := LayoutFor(tt.attestationID)
			require.NoError(t, err)
			assert.Equal(t, tt.count, l.Count)
			assert.Equal(t, tt.revealed, l.RevealedElements)
			assert.Equal(t, tt.revealed, l.ForbiddenCountries)
			assert.Equal(t, tt.nullifier, l.Nullifier)
			assert.Equal(t, tt.nullifier+1, l.AttestationID)
			assert.Equal(t, tt.nullifier+2, l.MerkleRoot)
			assert.Equal(t, tt.currentDate, l.CurrentDate)
			assert.Equal(t, tt.ofacRoots, l.OFACRoots)
			assert.Equal(t, tt.scope, l.Scope)
			assert.Equal(t, tt.userIdentifier, l.UserIdentifier)
		})
	}

	t.Run("aadhaar has no disclosure layout", func(t *testing.T) {
		_, err := LayoutFor(3)
		assert.ErrorIs(t, err, chain.ErrInvalidAttestationId)
	})
}

func TestGroth16(t *testing.T) {
	td := newTrapdoor(t, 3)
	public := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	proof := td.prove(t, public)

	t.Run("valid proof", func(t *testing.T) {
		require.NoError(t, VerifyGroth16(td.vk, proof, public))
	})

	t.Run("altered public signal", func(t *testing.T) {
		altered := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(4)}
		assert.ErrorIs(t, VerifyGroth16(td.vk, proof, altered), chain.ErrInvalidVcAndDiscloseProof)
	})

	t.Run("wrong signal count", func(t *testing.T) {
		assert.ErrorIs(t, VerifyGroth16(td.vk, proof, public[:2]), chain.ErrInvalidVcAndDiscloseProof)
	})

	t.Run("signal outside the field", func(t *testing.T) {
		outside := []*big.Int{big.NewInt(1), big.NewInt(2), new(big.Int).Lsh(big.NewInt(1), 256)}
		assert.ErrorIs(t, VerifyGroth16(td.vk, proof, outside), chain.ErrInvalidVcAndDiscloseProof)
	})

	t.Run("snarkjs json", func(t *testing.T) {
		vkJSON, err := json.Marshal(td.vk)
		require.NoError(t, err)
		proofJSON, err := json.Marshal(proof)
		require.NoError(t, err)

		vk, err := ParseVerifyingKey(vkJSON)
		require.NoError(t, err)
		parsed, err := ParseProof(proofJSON)
		require.NoError(t, err)
		require.NoError(t, VerifyGroth16(vk, parsed, public))
	})

	t.Run("point off the curve", func(t *testing.T) {
		_, err := ParseProof([]byte(`{"pi_a":["1","3","1"],"pi_b":[["0","0"],["1","0"],["0","0"]],"pi_c":["0","1","0"]}`))
		assert.ErrorContains(t, err, "not on the curve")
	})

	t.Run("chain layout swaps G2 coordinates", func(t *testing.T) {
		cp := ChainProof(proof, public)
		assert.Equal(t, proof.B.X.A1.String(), cp.B[0][0].String())
		assert.Equal(t, proof.B.X.A0.String(), cp.B[0][1].String())
		assert.Equal(t, proof.A.X.String(), cp.A[0].String())
		assert.Equal(t, public, cp.PubSignals)
	})
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("valid disclosure", func(t *testing.T) {
		f := newVerifyFixture(t)
		result, err := f.service.Verify(ctx, f.request(t, f.baseProof))
		require.NoError(t, err)

		assert.True(t, result.Valid)
		assert.Equal(t, uint64(42220), result.DestChainID)
		assert.Equal(t, []byte("hello"), result.UserDefinedData)
		assert.Equal(t, f.userID, result.UserID)
		assert.Equal(t, int64(987654321), result.Nullifier.Int64())

		require.NotNil(t, result.Disclosure)
		assert.Equal(t, "ERIKSSON ANNA MARIA", result.Disclosure.Attributes["name"])
		assert.Equal(t, "UTO", result.Disclosure.Attributes["nationality"])
		assert.NotContains(t, result.Disclosure.Attributes, "document_number")
		assert.Equal(t, "18", result.Disclosure.OlderThan)
		assert.Equal(t, []bool{true, true, true}, result.Disclosure.OFAC)
		assert.Equal(t, []string{"PRK", "IRN"}, result.Disclosure.ForbiddenCountries)
	})

	t.Run("altered scope", func(t *testing.T) {
		f := newVerifyFixture(t)
		req := f.request(t, f.baseProof)
		layout, _ := LayoutFor(1)
		req.PublicSignals[layout.Scope] = new(big.Int).Add(req.PublicSignals[layout.Scope], big.NewInt(1))

		_, err := f.service.Verify(ctx, req)
		assert.ErrorIs(t, err, chain.ErrScopeMismatch)
	})

	t.Run("proof for another application", func(t *testing.T) {
		f := newVerifyFixture(t)
		other, err := circuits.ScopeHash("https://other.example", "demo-scope")
		require.NoError(t, err)
		p := f.baseProof
		p.scope = other

		_, err = f.service.Verify(ctx, f.request(t, p))
		assert.ErrorIs(t, err, chain.ErrScopeMismatch)
	})

	t.Run("altered user identifier", func(t *testing.T) {
		f := newVerifyFixture(t)
		req := f.request(t, f.baseProof)
		layout, _ := LayoutFor(1)
		req.PublicSignals[layout.UserIdentifier] = big.NewInt(1)

		_, err := f.service.Verify(ctx, req)
		assert.ErrorIs(t, err, chain.ErrInvalidUserIdentifierInProof)
	})

	t.Run("user context swapped", func(t *testing.T) {
		f := newVerifyFixture(t)
		req := f.request(t, f.baseProof)
		req.UserContextData = circuits.UserContextData(f.chainID, f.userID, []byte("other"))

		_, err := f.service.Verify(ctx, req)
		assert.ErrorIs(t, err, chain.ErrInvalidUserIdentifierInProof)
	})

	dates := []struct {
		name  string
		shift time.Duration
		ok    bool
	}{
		{"yesterday", -24 * time.Hour, true},
		{"tomorrow", 24 * time.Hour, true},
		{"two days ago", -48 * time.Hour, false},
		{"two days ahead", 48 * time.Hour, false},
	}
	for _, tt := range dates {
		t.Run("date "+tt.name, func(t *testing.T) {
			f := newVerifyFixture(t)
			p := f.baseProof
			p.date = fixedNow.Add(tt.shift)

			_, err := f.service.Verify(ctx, f.request(t, p))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, chain.ErrCurrentDateNotInValidRange)
			}
		})
	}

	t.Run("date digit out of range", func(t *testing.T) {
		f := newVerifyFixture(t)
		req := f.request(t, f.baseProof)
		layout, _ := LayoutFor(1)
		req.PublicSignals[layout.CurrentDate] = big.NewInt(12)

		_, err := f.service.Verify(ctx, req)
		assert.ErrorIs(t, err, chain.ErrCurrentDateNotInValidRange)
	})

	t.Run("tampered nullifier", func(t *testing.T) {
		f := newVerifyFixture(t)
		req := f.request(t, f.baseProof)
		layout, _ := LayoutFor(1)
		req.PublicSignals[layout.Nullifier] = big.NewInt(1)

		_, err := f.service.Verify(ctx, req)
		assert.ErrorIs(t, err, chain.ErrInvalidVcAndDiscloseProof)
	})

	t.Run("stale identity root", func(t *testing.T) {
		f := newVerifyFixture(t)
		p := f.baseProof
		p.root = big.NewInt(1)

		_, err := f.service.Verify(ctx, f.request(t, p))
		assert.ErrorIs(t, err, chain.ErrInvalidIdentityCommitmentRoot)
	})

	t.Run("identity root unavailable", func(t *testing.T) {
		f := newVerifyFixture(t)
		f.identity.err = errors.New("rpc down")

		_, err := f.service.Verify(ctx, f.request(t, f.baseProof))
		assert.ErrorContains(t, err, "rpc down")
		assert.False(t, IsRevert(err))
	})

	t.Run("sanctions match", func(t *testing.T) {
		f := newVerifyFixture(t)
		p := f.baseProof
		p.ofac = []byte{1, 0, 1}

		_, err := f.service.Verify(ctx, f.request(t, p))
		assert.ErrorIs(t, err, chain.ErrInvalidOfacCheck)
	})

	t.Run("sanctions check disabled", func(t *testing.T) {
		f := newVerifyFixture(t)
		f.config.OFAC = false
		p := f.baseProof
		p.ofac = []byte{0, 0, 0}

		_, err := f.service.Verify(ctx, f.request(t, p))
		assert.NoError(t, err)
	})

	t.Run("outdated sanctions root", func(t *testing.T) {
		f := newVerifyFixture(t)
		p := f.baseProof
		p.ofacRoots = []*big.Int{big.NewInt(11), big.NewInt(99), big.NewInt(33)}

		_, err := f.service.Verify(ctx, f.request(t, p))
		assert.ErrorIs(t, err, chain.ErrInvalidOfacCheck)
	})

	t.Run("forbidden countries differ", func(t *testing.T) {
		f := newVerifyFixture(t)
		p := f.baseProof
		p.forbidden = []string{"PRK"}

		_, err := f.service.Verify(ctx, f.request(t, p))
		assert.ErrorIs(t, err, chain.ErrInvalidForbiddenCountries)
	})

	t.Run("too young", func(t *testing.T) {
		f := newVerifyFixture(t)
		p := f.baseProof
		p.olderThan = "00"

		_, err := f.service.Verify(ctx, f.request(t, p))
		assert.ErrorIs(t, err, chain.ErrInvalidOlderThan)
	})

	t.Run("config not set", func(t *testing.T) {
		f := newVerifyFixture(t)
		f.service.config = nil

		_, err := f.service.Verify(ctx, f.request(t, f.baseProof))
		assert.ErrorIs(t, err, chain.ErrConfigNotSet)
	})

	t.Run("no verifier for attestation id", func(t *testing.T) {
		f := newVerifyFixture(t)
		f.service.keys = map[uint64]*VerifyingKey{}

		_, err := f.service.Verify(ctx, f.request(t, f.baseProof))
		assert.ErrorIs(t, err, chain.ErrNoVerifierSet)
	})

	t.Run("other destination chain", func(t *testing.T) {
		f := newVerifyFixture(t)
		p := f.baseProof
		p.userContext = circuits.UserContextData(1, f.userID, nil)

		_, err := f.service.Verify(ctx, f.request(t, p))
		assert.ErrorIs(t, err, chain.ErrCrossChainIsNotSupportedYet)
	})

	t.Run("malformed requests", func(t *testing.T) {
		f := newVerifyFixture(t)

		req := f.request(t, f.baseProof)
		req.PublicSignals = req.PublicSignals[:20]
		_, err := f.service.Verify(ctx, req)
		assert.ErrorIs(t, err, chain.ErrInvalidDataFormat)

		req = f.request(t, f.baseProof)
		req.UserContextData = req.UserContextData[:40]
		_, err = f.service.Verify(ctx, req)
		assert.ErrorIs(t, err, chain.ErrInvalidDataFormat)

		req = f.request(t, f.baseProof)
		req.AttestationID = 2
		_, err = f.service.Verify(ctx, req)
		assert.ErrorIs(t, err, chain.ErrInvalidAttestationId)

		req = f.request(t, f.baseProof)
		req.AttestationID = 9
		_, err = f.service.Verify(ctx, req)
		assert.ErrorIs(t, err, chain.ErrInvalidAttestationId)
		assert.True(t, IsRevert(err))
	})
}

func TestRequestJSON(t *testing.T) {
	f := newVerifyFixture(t)
	req := f.request(t, f.baseProof)

	proofJSON, err := json.Marshal(req.Proof)
	require.NoError(t, err)
	signals := make([]string, len(req.PublicSignals))
	for i, s := range req.PublicSignals {
		signals[i] = s.String()
	}

	wire := &RequestJSON{
		AttestationID:   1,
		Proof:           proofJSON,
		PublicSignals:   signals,
		UserContextData: "0x" + hex.EncodeToString(req.UserContextData),
	}
	decoded, err := wire.Decode()
	require.NoError(t, err)

	result, err := f.service.Verify(context.Background(), decoded)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	wire.PublicSignals[0] = "abc"
	_, err = wire.Decode()
	assert.ErrorContains(t, err, "invalid public signal 0")
}
