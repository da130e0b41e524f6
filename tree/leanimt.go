// Package tree implements the Poseidon lean incremental merkle tree used for
// the identity commitment, DSC and CSCA registries.
//
// A lean tree never hashes a node with an empty sibling: a right-most node
// without a sibling is carried up to the next level unchanged, so the depth
// grows only when the leaf count crosses a power of two.
package tree

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/anchorageoss/selfprove-teeclient/field"
)

// ErrLeafNotFound is returned when a leaf is not present in the tree.
var ErrLeafNotFound = errors.New("leaf not found in tree")

// LeanIMT is a Poseidon lean incremental merkle tree. It is not safe for
// concurrent mutation; a fetched snapshot is treated as read-only.
type LeanIMT struct {
	nodes [][]*big.Int
}

// New returns an empty tree.
func New() *LeanIMT {
	return &LeanIMT{nodes: [][]*big.Int{{}}}
}

// FromLeaves builds a tree by inserting leaves in order.
func FromLeaves(leaves []*big.Int) (*LeanIMT, error) {
	t := New()
	for i, leaf := range leaves {
		if err := t.Insert(leaf); err != nil {
			return nil, fmt.Errorf("failed to insert leaf %d: %w", i, err)
		}
	}
	return t, nil
}

// Size returns the number of leaves.
func (t *LeanIMT) Size() int {
	return len(t.nodes[0])
}

// Depth returns the current depth of the tree.
func (t *LeanIMT) Depth() int {
	return len(t.nodes) - 1
}

// Root returns the tree root, zero for an empty tree.
func (t *LeanIMT) Root() *big.Int {
	if t.Size() == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Set(t.nodes[t.Depth()][0])
}

// Leaves returns a copy of the leaves.
func (t *LeanIMT) Leaves() []*big.Int {
	out := make([]*big.Int, len(t.nodes[0]))
	for i, leaf := range t.nodes[0] {
		out[i] = new(big.Int).Set(leaf)
	}
	return out
}

// Insert appends a leaf.
func (t *LeanIMT) Insert(leaf *big.Int) error {
	if leaf == nil || !field.InField(leaf) {
		return fmt.Errorf("leaf is not a field element")
	}

	index := t.Size()
	depth := t.Depth()
	if 1<<depth < index+1 {
		depth++
		t.nodes = append(t.nodes, []*big.Int{})
	}

	node := new(big.Int).Set(leaf)
	for level := 0; level < depth; level++ {
		if index < len(t.nodes[level]) {
			t.nodes[level][index] = node
		} else {
			t.nodes[level] = append(t.nodes[level], node)
		}

		if index&1 == 1 {
			parent, err := hashPair(t.nodes[level][index-1], node)
			if err != nil {
				return err
			}
			node = parent
		}
		index >>= 1
	}

	t.nodes[depth] = []*big.Int{node}
	return nil
}

// IndexOf returns the index of a leaf or ErrLeafNotFound.
func (t *LeanIMT) IndexOf(leaf *big.Int) (int, error) {
	for i, l := range t.nodes[0] {
		if l.Cmp(leaf) == 0 {
			return i, nil
		}
	}
	return -1, ErrLeafNotFound
}

// Proof is an inclusion proof. Siblings and PathIndices only cover the levels
// where the node had a sibling.
type Proof struct {
	Root        *big.Int
	Leaf        *big.Int
	Index       int
	Siblings    []*big.Int
	PathIndices []int
}

// Depth returns the number of hashing steps in the proof.
func (p *Proof) Depth() int {
	return len(p.Siblings)
}

// Padded returns siblings and path indices padded with zeros to maxDepth.
func (p *Proof) Padded(maxDepth int) ([]*big.Int, []int, error) {
	if len(p.Siblings) > maxDepth {
		return nil, nil, fmt.Errorf("proof depth %d exceeds max depth %d", len(p.Siblings), maxDepth)
	}

	siblings := make([]*big.Int, maxDepth)
	indices := make([]int, maxDepth)
	for i := range siblings {
		if i < len(p.Siblings) {
			siblings[i] = p.Siblings[i]
			indices[i] = p.PathIndices[i]
		} else {
			siblings[i] = big.NewInt(0)
		}
	}
	return siblings, indices, nil
}

// GenerateProof builds an inclusion proof for the leaf at index.
func (t *LeanIMT) GenerateProof(index int) (*Proof, error) {
	if index < 0 || index >= t.Size() {
		return nil, fmt.Errorf("leaf index %d out of range", index)
	}

	proof := &Proof{
		Root:  t.Root(),
		Leaf:  new(big.Int).Set(t.nodes[0][index]),
		Index: index,
	}

	for level := 0; level < t.Depth(); level++ {
		nodes := t.nodes[level]
		switch {
		case index&1 == 1:
			proof.Siblings = append(proof.Siblings, nodes[index-1])
			proof.PathIndices = append(proof.PathIndices, 1)
		case index+1 < len(nodes):
			proof.Siblings = append(proof.Siblings, nodes[index+1])
			proof.PathIndices = append(proof.PathIndices, 0)
		}
		index >>= 1
	}

	return proof, nil
}

// VerifyProof recomputes the root of a proof.
func VerifyProof(p *Proof) (bool, error) {
	if len(p.Siblings) != len(p.PathIndices) {
		return false, fmt.Errorf("siblings and path indices differ in length")
	}

	node := p.Leaf
	for i, sibling := range p.Siblings {
		var err error
		if p.PathIndices[i] == 1 {
			node, err = hashPair(sibling, node)
		} else {
			node, err = hashPair(node, sibling)
		}
		if err != nil {
			return false, err
		}
	}
	return node.Cmp(p.Root) == 0, nil
}

// Export serializes the tree levels as decimal strings.
func (t *LeanIMT) Export() ([]byte, error) {
	levels := make([][]string, len(t.nodes))
	for i, level := range t.nodes {
		levels[i] = make([]string, len(level))
		for j, n := range level {
			levels[i][j] = n.String()
		}
	}
	return json.Marshal(levels)
}

// Import restores a tree serialized by Export and checks its consistency.
func Import(data []byte) (*LeanIMT, error) {
	var levels [][]string
	if err := json.Unmarshal(data, &levels); err != nil {
		return nil, fmt.Errorf("failed to decode tree: %w", err)
	}
	if len(levels) == 0 {
		return New(), nil
	}

	leaves := make([]*big.Int, len(levels[0]))
	for i, s := range levels[0] {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid leaf %q", s)
		}
		leaves[i] = n
	}

	t, err := FromLeaves(leaves)
	if err != nil {
		return nil, err
	}

	top := levels[len(levels)-1]
	if len(top) == 1 && top[0] != t.Root().String() {
		return nil, fmt.Errorf("tree root mismatch: got %s, computed %s", top[0], t.Root())
	}
	return t, nil
}

func hashPair(left, right *big.Int) (*big.Int, error) {
	h, err := poseidon.Hash([]*big.Int{left, right})
	if err != nil {
		return nil, fmt.Errorf("failed to hash nodes: %w", err)
	}
	return h, nil
}
