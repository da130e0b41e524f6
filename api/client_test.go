package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/tree"
)

// Mock implementations for testing

type mockHTTPClient struct {
	response *http.Response
	err      error
	lastURL  string
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.lastURL = req.URL.String()
	return m.response, m.err
}

func jsonResponse(t *testing.T, status int, v any) *http.Response {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

func success(t *testing.T, data any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return map[string]any{"status": "success", "data": json.RawMessage(raw)}
}

func sampleTree(t *testing.T) *tree.LeanIMT {
	t.Helper()
	lt, err := tree.FromLeaves([]*big.Int{big.NewInt(11), big.NewInt(22), big.NewInt(33)})
	require.NoError(t, err)
	return lt
}

// TestNewClient tests the NewClient function
func TestNewClient(t *testing.T) {
	t.Run("trims trailing slash", func(t *testing.T) {
		client := NewClient("https://tree.example.org/", &http.Client{})
		require.Equal(t, "https://tree.example.org", client.HostURI)
	})

	t.Run("defaults http client", func(t *testing.T) {
		client := NewClient("https://tree.example.org", nil)
		require.Equal(t, http.DefaultClient, client.HTTPClient)
	})
}

// TestCommitmentTree tests tree snapshot retrieval
func TestCommitmentTree(t *testing.T) {
	want := sampleTree(t)
	exported, err := want.Export()
	require.NoError(t, err)

	t.Run("successful response", func(t *testing.T) {
		mock := &mockHTTPClient{response: jsonResponse(t, http.StatusOK, success(t, json.RawMessage(exported)))}
		client := NewClient("https://tree.example.org", mock)

		got, err := client.CommitmentTree(context.Background(), document.Passport)
		require.NoError(t, err)
		require.Equal(t, 0, want.Root().Cmp(got.Root()))
		require.Equal(t, "https://tree.example.org/identity/passport", mock.lastURL)
	})

	t.Run("tree published as string", func(t *testing.T) {
		mock := &mockHTTPClient{response: jsonResponse(t, http.StatusOK, success(t, string(exported)))}
		client := NewClient("https://tree.example.org", mock)

		got, err := client.CommitmentTree(context.Background(), document.IDCard)
		require.NoError(t, err)
		require.Equal(t, 3, got.Size())
		require.Equal(t, "https://tree.example.org/identity/id_card", mock.lastURL)
	})

	t.Run("network error", func(t *testing.T) {
		client := NewClient("https://tree.example.org", &mockHTTPClient{err: fmt.Errorf("network error")})

		_, err := client.CommitmentTree(context.Background(), document.Passport)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to send request to tree server")
	})

	t.Run("non-OK status", func(t *testing.T) {
		mock := &mockHTTPClient{response: &http.Response{
			StatusCode: http.StatusInternalServerError,
			Body:       io.NopCloser(bytes.NewReader([]byte("boom"))),
		}}
		client := NewClient("https://tree.example.org", mock)

		_, err := client.CommitmentTree(context.Background(), document.Passport)
		require.Error(t, err)
		require.Contains(t, err.Error(), "non-OK status: 500")
	})

	t.Run("error envelope", func(t *testing.T) {
		mock := &mockHTTPClient{response: jsonResponse(t, http.StatusOK, map[string]any{"status": "error", "message": "tree unavailable"})}
		client := NewClient("https://tree.example.org", mock)

		_, err := client.CommitmentTree(context.Background(), document.Passport)
		require.Error(t, err)
		require.Contains(t, err.Error(), "tree unavailable")
	})

	t.Run("inconsistent root", func(t *testing.T) {
		mock := &mockHTTPClient{response: jsonResponse(t, http.StatusOK, success(t, [][]string{{"1", "2"}, {"5"}}))}
		client := NewClient("https://tree.example.org", mock)

		_, err := client.CommitmentTree(context.Background(), document.Passport)
		require.Error(t, err)
		require.Contains(t, err.Error(), "root mismatch")
	})
}

// TestPKITrees tests that DSC and CSCA trees only exist for PKI documents
func TestPKITrees(t *testing.T) {
	exported, err := sampleTree(t).Export()
	require.NoError(t, err)

	mock := &mockHTTPClient{response: jsonResponse(t, http.StatusOK, success(t, json.RawMessage(exported)))}
	client := NewClient("https://tree.example.org", mock)

	_, err = client.DSCTree(context.Background(), document.Passport)
	require.NoError(t, err)
	require.Equal(t, "https://tree.example.org/dsc/passport", mock.lastURL)

	_, err = client.DSCTree(context.Background(), document.Aadhaar)
	require.Error(t, err)
	_, err = client.CSCATree(context.Background(), document.Selfrica)
	require.Error(t, err)
}

// TestTreeServer exercises the client against a real HTTP server
func TestTreeServer(t *testing.T) {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, data any) {
		raw, _ := json.Marshal(data)
		_ = json.NewEncoder(w).Encode(Envelope{Status: "success", Data: raw})
	}
	mux.HandleFunc("/ofac/passport/name-dob", func(w http.ResponseWriter, r *http.Request) {
		write(w, []string{"1", "2", "340282366920938463463374607431768211456"})
	})
	mux.HandleFunc("/ofac/id_card/name-yob", func(w http.ResponseWriter, r *http.Request) {
		write(w, []string{"x"})
	})
	mux.HandleFunc("/aadhaar/public-keys", func(w http.ResponseWriter, r *http.Request) {
		write(w, AadhaarKeys{PublicKeys: []string{"-----BEGIN PUBLIC KEY-----"}})
	})
	mux.HandleFunc("/deployed-circuits", func(w http.ResponseWriter, r *http.Request) {
		write(w, DeployedCircuits{
			KindRegister: {"register_sha256_rsa_65537_2048"},
			KindDSC:      {"dsc_sha256_ecdsa_secp256r1_256"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	ctx := context.Background()

	t.Run("ofac leaves", func(t *testing.T) {
		leaves, err := client.OFACLeaves(ctx, document.Passport, OFACNameDob)
		require.NoError(t, err)
		require.Len(t, leaves, 3)
		require.Equal(t, "340282366920938463463374607431768211456", leaves[2].String())
	})

	t.Run("invalid ofac leaf", func(t *testing.T) {
		_, err := client.OFACLeaves(ctx, document.IDCard, OFACNameYob)
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid OFAC leaf")
	})

	t.Run("passport number list is passport only", func(t *testing.T) {
		_, err := client.OFACLeaves(ctx, document.IDCard, OFACPassportNo)
		require.Error(t, err)
	})

	t.Run("missing list", func(t *testing.T) {
		_, err := client.OFACLeaves(ctx, document.Passport, OFACPassportNo)
		require.Error(t, err)
		require.Contains(t, err.Error(), "404")
	})

	t.Run("aadhaar keys", func(t *testing.T) {
		keys, err := client.AadhaarPublicKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 1)
	})

	t.Run("deployed circuits", func(t *testing.T) {
		circuits, err := client.DeployedCircuits(ctx)
		require.NoError(t, err)
		require.True(t, circuits.Supports(KindRegister, "register_sha256_rsa_65537_2048"))
		require.False(t, circuits.Supports(KindRegisterID, "register_sha256_rsa_65537_2048"))
		require.True(t, circuits.Supports(KindDSC, "dsc_sha256_ecdsa_secp256r1_256"))
	})
}
