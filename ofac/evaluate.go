package ofac

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// Evaluate replays the circuit's SMT check for leaf. It returns 1 when the
// proof shows leaf is absent from the tree rooted at proof.Root and 0
// otherwise, including for members and for malformed or mismatched proofs.
func Evaluate(proof *Proof, leaf *big.Int) (int, error) {
	root, ok := new(big.Int).SetString(proof.Root, 10)
	if !ok {
		return 0, fmt.Errorf("invalid root %q", proof.Root)
	}
	closest, ok := new(big.Int).SetString(proof.ClosestLeafKey, 10)
	if !ok {
		return 0, fmt.Errorf("invalid closest leaf %q", proof.ClosestLeafKey)
	}

	siblings := make([]*big.Int, len(proof.Siblings))
	depth := 0
	for i, s := range proof.Siblings {
		sib, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return 0, fmt.Errorf("invalid sibling %d %q", i, s)
		}
		siblings[i] = sib
		if sib.Sign() != 0 {
			depth = i + 1
		}
	}

	if closest.Cmp(leaf) == 0 {
		return 0, nil
	}

	node := big.NewInt(0)
	if closest.Sign() != 0 {
		for i := 0; i < depth; i++ {
			if closest.Bit(i) != leaf.Bit(i) {
				return 0, nil
			}
		}
		h, err := poseidon.Hash([]*big.Int{closest, entryValue, big.NewInt(1)})
		if err != nil {
			return 0, fmt.Errorf("failed to hash leaf: %w", err)
		}
		node = h
	}

	for i := depth - 1; i >= 0; i-- {
		var pair []*big.Int
		if leaf.Bit(i) == 1 {
			pair = []*big.Int{siblings[i], node}
		} else {
			pair = []*big.Int{node, siblings[i]}
		}
		h, err := poseidon.Hash(pair)
		if err != nil {
			return 0, fmt.Errorf("failed to hash node: %w", err)
		}
		node = h
	}

	if node.Cmp(root) != 0 {
		return 0, nil
	}
	return 1, nil
}
