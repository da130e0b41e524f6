// Package ofac builds sanctions-list sparse merkle trees and the
// non-membership witnesses the disclosure circuits consume.
//
// Every list entry is stored in an iden3 SMT under its leaf hash with the
// value 1. A proof is the triple (root, closest leaf key, siblings) with the
// siblings padded to the tree depth.
package ofac

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/iden3/go-merkletree-sql/v2"
	"github.com/iden3/go-merkletree-sql/v2/db/memory"
)

// DefaultDepth is the number of levels of the deployed OFAC trees.
const DefaultDepth = 64

// Proof levels.
const (
	LevelNameYob = 1
	LevelNameDob = 2
)

// ErrInvalidLevel is returned for proof levels other than 1 and 2.
var ErrInvalidLevel = errors.New("Invalid proof level")

var entryValue = big.NewInt(1)

// Entry is a sanctions-list record.
type Entry struct {
	Name string `json:"name"`
	DOB  string `json:"dob"`
}

// Tree is an in-memory sanctions SMT snapshot.
type Tree struct {
	mt    *merkletree.MerkleTree
	depth int
}

// NewTree returns an empty tree with the given depth.
func NewTree(ctx context.Context, depth int) (*Tree, error) {
	mt, err := merkletree.NewMerkleTree(ctx, memory.NewMemoryStorage(), depth)
	if err != nil {
		return nil, fmt.Errorf("failed to create merkle tree: %w", err)
	}
	return &Tree{mt: mt, depth: depth}, nil
}

// FromLeaves builds a tree from precomputed leaf hashes.
func FromLeaves(ctx context.Context, depth int, leaves []*big.Int) (*Tree, error) {
	t, err := NewTree(ctx, depth)
	if err != nil {
		return nil, err
	}
	for i, leaf := range leaves {
		if err := t.Add(ctx, leaf); err != nil {
			return nil, fmt.Errorf("failed to add leaf %d: %w", i, err)
		}
	}
	return t, nil
}

// FromEntries builds a name+DOB (level 2) or name+YOB (level 1) tree.
func FromEntries(ctx context.Context, depth, level int, entries []Entry) (*Tree, error) {
	leaves := make([]*big.Int, 0, len(entries))
	for _, e := range entries {
		leaf, err := entryLeaf(level, e.Name, e.DOB)
		if err != nil {
			return nil, fmt.Errorf("failed to hash entry %q: %w", e.Name, err)
		}
		leaves = append(leaves, leaf)
	}
	return FromLeaves(ctx, depth, leaves)
}

// Add inserts a leaf. Duplicate leaves are ignored.
func (t *Tree) Add(ctx context.Context, leaf *big.Int) error {
	err := t.mt.Add(ctx, leaf, entryValue)
	if errors.Is(err, merkletree.ErrEntryIndexAlreadyExists) {
		return nil
	}
	return err
}

// Root returns the tree root.
func (t *Tree) Root() *big.Int {
	return t.mt.Root().BigInt()
}

// Depth returns the configured depth.
func (t *Tree) Depth() int {
	return t.depth
}

// Proof is an SMT witness in circuit input format.
type Proof struct {
	Root           string   `json:"root"`
	ClosestLeafKey string   `json:"closest_leaf"`
	Siblings       []string `json:"siblings"`
}

// GenerateProof builds a witness for leaf against the current root.
func GenerateProof(ctx context.Context, t *Tree, leaf *big.Int) (*Proof, error) {
	mtp, _, err := t.mt.GenerateProof(ctx, leaf, t.mt.Root())
	if err != nil {
		return nil, fmt.Errorf("failed to generate SMT proof: %w", err)
	}

	closest := big.NewInt(0)
	switch {
	case mtp.Existence:
		closest = new(big.Int).Set(leaf)
	case mtp.NodeAux != nil && mtp.NodeAux.Key != nil:
		closest = mtp.NodeAux.Key.BigInt()
	}

	all := mtp.AllSiblings()
	if len(all) > t.depth {
		return nil, fmt.Errorf("proof has %d siblings, tree depth is %d", len(all), t.depth)
	}

	siblings := make([]string, t.depth)
	for i := range siblings {
		if i < len(all) {
			siblings[i] = all[i].BigInt().String()
		} else {
			siblings[i] = "0"
		}
	}

	return &Proof{
		Root:           t.Root().String(),
		ClosestLeafKey: closest.String(),
		Siblings:       siblings,
	}, nil
}

// ProofForLevel hashes the holder's name with their DOB (level 2) or YOB
// (level 1) and builds the matching witness. dob is YYYYMMDD.
func ProofForLevel(ctx context.Context, t *Tree, level int, name, dob string) (*Proof, *big.Int, error) {
	leaf, err := entryLeaf(level, name, dob)
	if err != nil {
		return nil, nil, err
	}
	proof, err := GenerateProof(ctx, t, leaf)
	if err != nil {
		return nil, nil, err
	}
	return proof, leaf, nil
}

func entryLeaf(level int, name, dob string) (*big.Int, error) {
	switch level {
	case LevelNameDob:
		return NameDobLeaf(name, dob)
	case LevelNameYob:
		if len(dob) < 4 {
			return nil, fmt.Errorf("invalid date of birth %q", dob)
		}
		return NameYobLeaf(name, dob[:4])
	default:
		return nil, ErrInvalidLevel
	}
}
