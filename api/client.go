package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/tree"
)

// HTTPClient interface for dependency injection
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements the tree server client
type Client struct {
	HostURI    string
	HTTPClient HTTPClient
}

// NewClient creates a new tree server client
func NewClient(hostURI string, httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		HostURI:    strings.TrimRight(hostURI, "/"),
		HTTPClient: httpClient,
	}
}

// CommitmentTree fetches the identity commitment tree for a category
func (c *Client) CommitmentTree(ctx context.Context, category document.Category) (*tree.LeanIMT, error) {
	return c.leanTree(ctx, "/identity/"+category.String(), "commitment")
}

// DSCTree fetches the registered DSC tree for a category
func (c *Client) DSCTree(ctx context.Context, category document.Category) (*tree.LeanIMT, error) {
	if !category.IsPKI() {
		return nil, fmt.Errorf("no DSC tree for category %s", category)
	}
	return c.leanTree(ctx, "/dsc/"+category.String(), "DSC")
}

// CSCATree fetches the CSCA tree for a category
func (c *Client) CSCATree(ctx context.Context, category document.Category) (*tree.LeanIMT, error) {
	if !category.IsPKI() {
		return nil, fmt.Errorf("no CSCA tree for category %s", category)
	}
	return c.leanTree(ctx, "/csca/"+category.String(), "CSCA")
}

// OFACLeaves fetches the leaves of one sanctions list for a category
func (c *Client) OFACLeaves(ctx context.Context, category document.Category, list OFACList) ([]*big.Int, error) {
	if list == OFACPassportNo && category != document.Passport {
		return nil, fmt.Errorf("list %s is only published for passports", list)
	}

	var raw []string
	if err := c.get(ctx, fmt.Sprintf("/ofac/%s/%s", category, list), &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch OFAC %s list: %w", list, err)
	}

	leaves := make([]*big.Int, len(raw))
	for i, s := range raw {
		leaf, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid OFAC leaf at index %d: %q", i, s)
		}
		leaves[i] = leaf
	}
	return leaves, nil
}

// AadhaarPublicKeys fetches the UIDAI signing keys
func (c *Client) AadhaarPublicKeys(ctx context.Context) ([]string, error) {
	var keys AadhaarKeys
	if err := c.get(ctx, "/aadhaar/public-keys", &keys); err != nil {
		return nil, fmt.Errorf("failed to fetch Aadhaar public keys: %w", err)
	}
	if len(keys.PublicKeys) == 0 {
		return nil, fmt.Errorf("tree server returned no Aadhaar public keys")
	}
	return keys.PublicKeys, nil
}

// DeployedCircuits fetches the deployed-circuit allow-list
func (c *Client) DeployedCircuits(ctx context.Context) (DeployedCircuits, error) {
	var circuits DeployedCircuits
	if err := c.get(ctx, "/deployed-circuits", &circuits); err != nil {
		return nil, fmt.Errorf("failed to fetch deployed circuits: %w", err)
	}
	return circuits, nil
}

func (c *Client) leanTree(ctx context.Context, path, name string) (*tree.LeanIMT, error) {
	var raw json.RawMessage
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch %s tree: %w", name, err)
	}

	// Some deployments publish the serialized tree as a JSON string
	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		raw = json.RawMessage(nested)
	}

	t, err := tree.Import(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s tree: %w", name, err)
	}
	return t, nil
}

// get performs a GET request and decodes the envelope data into out
func (c *Client) get(ctx context.Context, path string, out any) error {
	url := c.HostURI + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	// Send request
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to tree server: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	// Check HTTP status
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tree server returned non-OK status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	// Parse response
	var env Envelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Status != "success" {
		return fmt.Errorf("tree server returned error: %s", env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
