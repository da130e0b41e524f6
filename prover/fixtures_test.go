package prover

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/selfprove-teeclient/api"
	"github.com/anchorageoss/selfprove-teeclient/attestation"
	"github.com/anchorageoss/selfprove-teeclient/circuits"
	"github.com/anchorageoss/selfprove-teeclient/crypto"
	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/document/doctest"
	"github.com/anchorageoss/selfprove-teeclient/keys"
	"github.com/anchorageoss/selfprove-teeclient/store"
	"github.com/anchorageoss/selfprove-teeclient/tee"
	"github.com/anchorageoss/selfprove-teeclient/tree"
)

var testSecret = big.NewInt(424242)

// fakeTEE plays the proving backend on every request channel it dials
type fakeTEE struct {
	t         *testing.T
	serverKey *ecdsa.PrivateKey
	// boundKey overrides the client key echoed in the attestation
	boundKey []byte
	// boundUUID overrides the session echoed in the attestation
	boundUUID string

	mu       sync.Mutex
	urls     []string
	conns    []*fakeConn
	payloads []tee.Payload
}

func newFakeTEE(t *testing.T) *fakeTEE {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeTEE{t: t, serverKey: key}
}

func (f *fakeTEE) Dial(ctx context.Context, url string) (tee.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{
		tee:      f,
		messages: make(chan []byte, 8),
		done:     make(chan struct{}),
	}
	f.urls = append(f.urls, url)
	f.conns = append(f.conns, c)
	return c, nil
}

// Validate echoes the attestation as the client key and binds the server key
func (f *fakeTEE) Validate(ctx context.Context, doc []byte) (*attestation.Result, error) {
	pub, err := crypto.MarshalPublicKey(&f.serverKey.PublicKey)
	if err != nil {
		return nil, err
	}
	return &attestation.Result{
		UserPubkey:   doc,
		ServerPubkey: pub,
		ImageHash:    "f00d",
		Verified:     true,
	}, nil
}

func (f *fakeTEE) Payloads() []tee.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tee.Payload(nil), f.payloads...)
}

func (f *fakeTEE) Conns() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

func (f *fakeTEE) handle(c *fakeConn, req *tee.Request) [][]byte {
	switch req.Method {
	case tee.MethodHello:
		p := req.Params.(tee.HelloParams)
		c.clientPub = p.UserPubkey
		bound := []byte(p.UserPubkey)
		if f.boundKey != nil {
			bound = f.boundKey
		}
		uuid := p.UUID
		if f.boundUUID != "" {
			uuid = f.boundUUID
		}
		return [][]byte{reply(f.t, tee.HelloID, tee.AttestationResult{Attestation: bound, UUID: uuid})}
	case tee.MethodSubmit:
		p := req.Params.(tee.SubmitParams)
		key, err := crypto.SharedKey(f.serverKey, c.clientPub)
		require.NoError(f.t, err)
		plain, err := crypto.Decrypt(&crypto.Sealed{Nonce: p.Nonce, CipherText: p.CipherText, AuthTag: p.AuthTag}, key)
		require.NoError(f.t, err)

		var payload tee.Payload
		require.NoError(f.t, json.Unmarshal(plain, &payload))
		f.mu.Lock()
		f.payloads = append(f.payloads, payload)
		f.mu.Unlock()
		return [][]byte{reply(f.t, tee.SubmitID, p.UUID)}
	}
	return nil
}

func reply(t *testing.T, id int, result any) []byte {
	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
	require.NoError(t, err)
	return raw
}

type fakeConn struct {
	tee       *fakeTEE
	clientPub []byte
	messages  chan []byte
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return tee.ErrClosed
	}
	for _, msg := range c.tee.handle(c, v.(*tee.Request)) {
		c.push(msg)
	}
	return nil
}

func (c *fakeConn) push(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.messages <- msg
	}
}

func (c *fakeConn) Messages() <-chan []byte { return c.messages }
func (c *fakeConn) Done() <-chan struct{}   { return c.done }
func (c *fakeConn) Err() error              { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.messages)
	}
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeStatus replays one status script per subscription. Streams stay open
// after their script until the machine closes them.
type fakeStatus struct {
	mu      sync.Mutex
	scripts [][]tee.Status
	uuids   []string
	streams []*fakeStream
}

func (f *fakeStatus) Subscribe(ctx context.Context, url, uuid string) (tee.StatusStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script := []tee.Status{{Status: 1}, {Status: tee.StatusSuccess}}
	if i := len(f.uuids); i < len(f.scripts) {
		script = f.scripts[i]
	}
	f.uuids = append(f.uuids, uuid)

	s := &fakeStream{updates: make(chan tee.Status, len(script)), done: make(chan struct{})}
	for _, st := range script {
		s.updates <- st
	}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeStatus) Streams() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.streams...)
}

type fakeStream struct {
	updates chan tee.Status
	done    chan struct{}
	once    sync.Once
}

func (s *fakeStream) Updates() <-chan tee.Status { return s.updates }
func (s *fakeStream) Done() <-chan struct{}      { return s.done }
func (s *fakeStream) Err() error                 { return nil }
func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// fakeTrees serves fixed trees. Successive DSC tree fetches walk dscTrees.
type fakeTrees struct {
	commitment *tree.LeanIMT
	csca       *tree.LeanIMT
	deployed   api.DeployedCircuits

	mu       sync.Mutex
	dscTrees []*tree.LeanIMT
	dscCalls int
}

func (f *fakeTrees) CommitmentTree(ctx context.Context, c document.Category) (*tree.LeanIMT, error) {
	return f.commitment, nil
}

func (f *fakeTrees) DSCTree(ctx context.Context, c document.Category) (*tree.LeanIMT, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.dscCalls, len(f.dscTrees)-1)
	f.dscCalls++
	return f.dscTrees[i], nil
}

func (f *fakeTrees) CSCATree(ctx context.Context, c document.Category) (*tree.LeanIMT, error) {
	return f.csca, nil
}

func (f *fakeTrees) OFACLeaves(ctx context.Context, c document.Category, list api.OFACList) ([]*big.Int, error) {
	return nil, errors.New("no sanctions lists in this fixture")
}

func (f *fakeTrees) AadhaarPublicKeys(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (f *fakeTrees) DeployedCircuits(ctx context.Context) (api.DeployedCircuits, error) {
	return f.deployed, nil
}

type fakeChain struct {
	used bool
}

func (f *fakeChain) IsNullifierUsed(ctx context.Context, attestationID uint64, nullifier *big.Int) (bool, error) {
	return f.used, nil
}

// harness wires a machine to in-memory collaborators around one passport
type harness struct {
	pki      *doctest.PKI
	data     *document.Data
	docID    string
	store    *store.FileStore
	trees    *fakeTrees
	tee      *fakeTEE
	status   *fakeStatus
	deps     Deps
	dscLeaf  *big.Int
	identity *circuits.Identity
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	pki := doctest.NewPKI(t)
	raw := pki.PassportEnvelope(t)
	data, err := document.Parse(raw, pki.Roots)
	require.NoError(t, err)

	st := store.NewFileStore(filepath.Join(t.TempDir(), "catalog.bin"))
	docID, err := st.Put(ctx, raw, data.Category, data.DocumentType)
	require.NoError(t, err)

	dscLeaf, err := circuits.DSCLeaf(data.DSC, data.CSCA)
	require.NoError(t, err)
	cscaLeaf, err := circuits.CSCALeaf(data.CSCA)
	require.NoError(t, err)
	identity, err := circuits.NewIdentityWithCSCA(data, data.CSCA)
	require.NoError(t, err)

	registerName, err := circuits.RegisterCircuitName(data)
	require.NoError(t, err)
	dscName, err := circuits.DSCCircuitName(data)
	require.NoError(t, err)

	trees := &fakeTrees{
		commitment: leanTree(t),
		csca:       leanTree(t, cscaLeaf),
		deployed: api.DeployedCircuits{
			api.KindRegister: {registerName},
			api.KindDSC:      {dscName},
		},
		dscTrees: []*tree.LeanIMT{leanTree(t, dscLeaf)},
	}
	fake := newFakeTEE(t)
	status := &fakeStatus{}

	return &harness{
		pki:      pki,
		data:     data,
		docID:    docID,
		store:    st,
		trees:    trees,
		tee:      fake,
		status:   status,
		dscLeaf:  dscLeaf,
		identity: identity,
		deps: Deps{
			Store:       st,
			Trees:       trees,
			Roots:       pki.Roots,
			Keys:        keys.EphemeralKeyProvider{},
			Secrets:     keys.StaticSecret{Value: testSecret},
			Attestation: fake,
			Dialer:      fake,
			Status:      status,
			Endpoints: &circuits.EndpointTable{URLs: map[circuits.CircuitType]string{
				circuits.Register: "wss://register.tee.example/",
				circuits.DSC:      "wss://dsc.tee.example/",
				circuits.Disclose: "wss://disclose.tee.example/",
			}},
			StatusURL:     "https://status.tee.example",
			Env:           circuits.Staging,
			HubAddress:    "0x68c931C9a534D37aa78094877F46fE46a49F1A51",
			RegisterDelay: 10 * time.Millisecond,
			Now:           func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) },
		},
	}
}

// registered puts the document's commitment in the commitment tree
func (h *harness) registered(t *testing.T) {
	commitment, err := h.identity.Commitment(testSecret)
	require.NoError(t, err)
	h.trees.commitment = leanTree(t, commitment)
}

func (h *harness) machine(t *testing.T) *Machine {
	m := NewMachine(h.deps)
	t.Cleanup(func() { m.Close() })
	return m
}

func leanTree(t *testing.T, leaves ...*big.Int) *tree.LeanIMT {
	t.Helper()
	all := append([]*big.Int{big.NewInt(7), big.NewInt(8)}, leaves...)
	lt, err := tree.FromLeaves(all)
	require.NoError(t, err)
	return lt
}

func testApp() *circuits.App {
	return &circuits.App{
		Name:         "demo",
		Scope:        "demo-scope",
		Endpoint:     "https://app.example",
		EndpointType: circuits.EndpointStagingHTTPS,
		UserID:       "a1b2c3d4-e5f6-4a5b-8c7d-0e1f2a3b4c5d",
		ChainID:      42220,
		Disclosures: circuits.Disclosures{
			MRZFields:  []document.MRZField{document.MRZNationality},
			MinimumAge: 18,
		},
	}
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
