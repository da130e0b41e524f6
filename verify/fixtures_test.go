package verify

import (
	"context"
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/selfprove-teeclient/api"
	"github.com/anchorageoss/selfprove-teeclient/circuits"
	"github.com/anchorageoss/selfprove-teeclient/disclose"
	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/document/doctest"
	"github.com/anchorageoss/selfprove-teeclient/field"
)

var fixedNow = time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC)

// trapdoor is a Groth16 setup whose toxic waste is kept, so tests can forge
// valid proofs for arbitrary public signals
type trapdoor struct {
	alpha, beta, gamma, delta *big.Int
	ic                        []*big.Int
	vk                        *VerifyingKey
}

func randScalar(t *testing.T) *big.Int {
	t.Helper()
	for {
		k, err := rand.Int(rand.Reader, fr.Modulus())
		require.NoError(t, err)
		if k.Sign() != 0 {
			return k
		}
	}
}

func newTrapdoor(t *testing.T, nPublic int) *trapdoor {
	t.Helper()
	_, _, g1, g2 := bn254.Generators()

	td := &trapdoor{
		alpha: randScalar(t),
		beta:  randScalar(t),
		gamma: randScalar(t),
		delta: randScalar(t),
		vk:    &VerifyingKey{},
	}
	td.vk.Alpha.ScalarMultiplication(&g1, td.alpha)
	td.vk.Beta.ScalarMultiplication(&g2, td.beta)
	td.vk.Gamma.ScalarMultiplication(&g2, td.gamma)
	td.vk.Delta.ScalarMultiplication(&g2, td.delta)

	td.vk.IC = make([]bn254.G1Affine, nPublic+1)
	for i := range td.vk.IC {
		k := randScalar(t)
		td.ic = append(td.ic, k)
		td.vk.IC[i].ScalarMultiplication(&g1, k)
	}
	return td
}

func (td *trapdoor) prove(t *testing.T, public []*big.Int) *Proof {
	t.Helper()
	require.Len(t, public, len(td.ic)-1)
	_, _, g1, g2 := bn254.Generators()
	r := fr.Modulus()

	x := new(big.Int).Set(td.ic[0])
	for i, s := range public {
		x.Add(x, new(big.Int).Mul(s, td.ic[i+1]))
	}
	x.Mod(x, r)

	b := randScalar(t)
	c := randScalar(t)

	// a*b = alpha*beta + x*gamma + c*delta
	a := new(big.Int).Mul(td.alpha, td.beta)
	a.Add(a, new(big.Int).Mul(x, td.gamma))
	a.Add(a, new(big.Int).Mul(c, td.delta))
	a.Mul(a, new(big.Int).ModInverse(b, r))
	a.Mod(a, r)

	p := &Proof{}
	p.A.ScalarMultiplication(&g1, a)
	p.B.ScalarMultiplication(&g2, b)
	p.C.ScalarMultiplication(&g1, c)
	return p
}

type fakeIdentityRoots struct {
	root *big.Int
	err  error
}

func (f *fakeIdentityRoots) IdentityRoot(ctx context.Context, attestationID uint64) (*big.Int, error) {
	return f.root, f.err
}

type fakeOFACRoots struct {
	roots []*big.Int
}

func (f *fakeOFACRoots) OFACRoots(ctx context.Context, category document.Category, lists []api.OFACList) ([]*big.Int, error) {
	return f.roots[:len(lists)], nil
}

// passportProof describes the public signals of a passport disclosure
type passportProof struct {
	mrzMask     []bool
	olderThan   string
	ofac        []byte
	forbidden   []string
	date        time.Time
	root        *big.Int
	ofacRoots   []*big.Int
	scope       *big.Int
	userContext []byte
}

type verifyFixture struct {
	td        *trapdoor
	config    *Config
	identity  *fakeIdentityRoots
	ofac      *fakeOFACRoots
	service   *Service
	userID    [32]byte
	chainID   uint64
	baseProof passportProof
}

func newVerifyFixture(t *testing.T) *verifyFixture {
	t.Helper()

	config, err := NewConfig("https://app.example", "demo-scope")
	require.NoError(t, err)
	config.OlderThan = 18
	config.ForbiddenCountries = []string{"PRK", "IRN"}
	config.OFAC = true
	config.ChainID = 42220

	layout, err := LayoutFor(1)
	require.NoError(t, err)

	f := &verifyFixture{
		td:       newTrapdoor(t, layout.Count),
		config:   config,
		identity: &fakeIdentityRoots{root: big.NewInt(123456789)},
		ofac:     &fakeOFACRoots{roots: []*big.Int{big.NewInt(11), big.NewInt(22), big.NewInt(33)}},
		chainID:  42220,
	}
	f.userID, err = circuits.ParseUserID("0x00000000000000000000000000000000000000000000000000000000000000ff")
	require.NoError(t, err)

	f.service = NewService(config, map[uint64]*VerifyingKey{1: f.td.vk}, f.identity, f.ofac)
	f.service.now = func() time.Time { return fixedNow }

	mask := make([]bool, document.PassportMRZLength)
	for _, mf := range []document.MRZField{document.MRZName, document.MRZNationality} {
		r, err := document.MRZRange(document.Passport, mf)
		require.NoError(t, err)
		for i := r.Start; i < r.End; i++ {
			mask[i] = true
		}
	}

	f.baseProof = passportProof{
		mrzMask:     mask,
		olderThan:   "18",
		ofac:        []byte{1, 1, 1},
		forbidden:   config.ForbiddenCountries,
		date:        fixedNow,
		root:        f.identity.root,
		ofacRoots:   f.ofac.roots,
		scope:       config.Scope,
		userContext: circuits.UserContextData(f.chainID, f.userID, []byte("hello")),
	}
	return f
}

func (f *verifyFixture) signals(t *testing.T, p passportProof) []*big.Int {
	t.Helper()
	layout, err := LayoutFor(1)
	require.NoError(t, err)

	revealed := make([]byte, 0, layout.RevealedLength())
	for i := 0; i < document.PassportMRZLength; i++ {
		if p.mrzMask[i] {
			revealed = append(revealed, doctest.PassportMRZ[i])
		} else {
			revealed = append(revealed, 0)
		}
	}
	revealed = append(revealed, p.olderThan...)
	revealed = append(revealed, p.ofac...)

	forbidden, err := disclose.PackForbiddenCountries(p.forbidden)
	require.NoError(t, err)

	signals := make([]*big.Int, layout.Count)
	copy(signals[layout.Revealed:], field.PackBytes(revealed))
	copy(signals[layout.ForbiddenCountries:], forbidden)
	signals[layout.Nullifier] = big.NewInt(987654321)
	signals[layout.AttestationID] = big.NewInt(1)
	signals[layout.MerkleRoot] = p.root
	for i, d := range circuits.DateDigits(p.date) {
		signals[layout.CurrentDate+i] = big.NewInt(int64(d))
	}
	for i, idx := range layout.OFACRoots {
		signals[idx] = p.ofacRoots[i]
	}
	signals[layout.Scope] = p.scope
	signals[layout.UserIdentifier] = circuits.UserIdentifier(p.userContext)
	return signals
}

func (f *verifyFixture) request(t *testing.T, p passportProof) *Request {
	t.Helper()
	signals := f.signals(t, p)
	return &Request{
		AttestationID:   1,
		Proof:           f.td.prove(t, signals),
		PublicSignals:   signals,
		UserContextData: p.userContext,
	}
}
