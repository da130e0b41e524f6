package verify

import (
	"context"
	"fmt"
	"math/big"

	"github.com/anchorageoss/selfprove-teeclient/api"
	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/ofac"
)

// IdentityRootSource reports the current identity commitment root.
// *chain.Client implements it against the hub.
type IdentityRootSource interface {
	IdentityRoot(ctx context.Context, attestationID uint64) (*big.Int, error)
}

// OFACRootSource reports the current sanctions-list roots in the order of
// the category's layout.
type OFACRootSource interface {
	OFACRoots(ctx context.Context, category document.Category, lists []api.OFACList) ([]*big.Int, error)
}

// TreeRoots computes roots from tree-server snapshots.
type TreeRoots struct {
	Client *api.Client
}

// IdentityRoot fetches the commitment tree of the attestation id.
func (r *TreeRoots) IdentityRoot(ctx context.Context, attestationID uint64) (*big.Int, error) {
	category, err := categoryOf(attestationID)
	if err != nil {
		return nil, err
	}
	t, err := r.Client.CommitmentTree(ctx, category)
	if err != nil {
		return nil, err
	}
	return t.Root(), nil
}

// OFACRoots rebuilds each sanctions tree and returns its root.
func (r *TreeRoots) OFACRoots(ctx context.Context, category document.Category, lists []api.OFACList) ([]*big.Int, error) {
	roots := make([]*big.Int, len(lists))
	for i, list := range lists {
		leaves, err := r.Client.OFACLeaves(ctx, category, list)
		if err != nil {
			return nil, err
		}
		t, err := ofac.FromLeaves(ctx, ofac.DefaultDepth, leaves)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s tree: %w", list, err)
		}
		roots[i] = t.Root()
	}
	return roots, nil
}

func categoryOf(attestationID uint64) (document.Category, error) {
	for _, c := range document.Categories() {
		id, err := c.AttestationID()
		if err == nil && id == attestationID {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown attestation id %d", attestationID)
}
