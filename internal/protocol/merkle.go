package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	merkleEmptyTag = "oan:merkle:empty:v1"
	merkleLeafTag  = "oan:merkle:leaf:v1:"
	merkleNodeTag  = "oan:merkle:node:v1:"
)

// Sides of a proof step: where the sibling sits relative to the running hash.
const (
	SideLeft  = "left"
	SideRight = "right"
)

var errLeafRange = errors.New("leaf index out of range")

type MerkleStep struct {
	Side string `json:"side"`
	Hash string `json:"hash"`
}

type MerkleProof struct {
	LeafHash  string       `json:"leaf_hash"`
	RootHash  string       `json:"root_hash"`
	TreeSize  int          `json:"tree_size"`
	LeafIndex int          `json:"leaf_index"`
	Path      []MerkleStep `json:"path"`
}

// LeafHash domain-separates an arbitrary document before it enters a tree.
func LeafHash(canonical []byte) string {
	body := append([]byte(merkleLeafTag), canonical...)
	return SHA256Hex(body)
}

// MerkleTree keeps every level so that many proofs can be cut from one
// build. levels[0] are the leaves; the last level holds the root. An odd
// node at any level is paired with itself.
type MerkleTree struct {
	leaves []string
	levels [][][]byte
}

// BuildMerkleTree hashes a binary tree over hex leaf hashes.
func BuildMerkleTree(leafHashes []string) (*MerkleTree, error) {
	base := make([][]byte, len(leafHashes))
	for i, leaf := range leafHashes {
		b, err := hex.DecodeString(leaf)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		base[i] = b
	}
	t := &MerkleTree{leaves: append([]string(nil), leafHashes...), levels: [][][]byte{base}}
	for level := base; len(level) > 1; {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, nodeHash(level[i], right))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t, nil
}

func (t *MerkleTree) Size() int { return len(t.leaves) }

// Root is the hex root, or the tagged empty hash for a tree with no leaves.
func (t *MerkleTree) Root() string {
	if len(t.leaves) == 0 {
		empty := sha256.Sum256([]byte(merkleEmptyTag))
		return hex.EncodeToString(empty[:])
	}
	top := t.levels[len(t.levels)-1]
	return hex.EncodeToString(top[0])
}

func (t *MerkleTree) Proof(leafIndex int) (*MerkleProof, error) {
	if leafIndex < 0 || leafIndex >= len(t.leaves) {
		return nil, errLeafRange
	}
	path := make([]MerkleStep, 0, len(t.levels)-1)
	idx := leafIndex
	for _, level := range t.levels[:len(t.levels)-1] {
		step := MerkleStep{Side: SideRight}
		sibling := idx + 1
		if idx%2 == 1 {
			step.Side, sibling = SideLeft, idx-1
		}
		if sibling >= len(level) {
			sibling = idx
		}
		step.Hash = hex.EncodeToString(level[sibling])
		path = append(path, step)
		idx /= 2
	}
	return &MerkleProof{
		LeafHash:  t.leaves[leafIndex],
		RootHash:  t.Root(),
		TreeSize:  len(t.leaves),
		LeafIndex: leafIndex,
		Path:      path,
	}, nil
}

func ComputeMerkleRoot(leafHashes []string) (string, error) {
	t, err := BuildMerkleTree(leafHashes)
	if err != nil {
		return "", err
	}
	return t.Root(), nil
}

func ComputeInclusionProof(leafHashes []string, leafIndex int) (*MerkleProof, error) {
	if leafIndex < 0 || leafIndex >= len(leafHashes) {
		return nil, errLeafRange
	}
	t, err := BuildMerkleTree(leafHashes)
	if err != nil {
		return nil, err
	}
	return t.Proof(leafIndex)
}

// VerifyInclusionProof folds the path from the leaf and compares the result
// with the claimed root.
func VerifyInclusionProof(proof *MerkleProof) (bool, error) {
	acc, err := hex.DecodeString(proof.LeafHash)
	if err != nil {
		return false, err
	}
	for _, step := range proof.Path {
		sibling, err := hex.DecodeString(step.Hash)
		if err != nil {
			return false, err
		}
		switch step.Side {
		case SideLeft:
			acc = nodeHash(sibling, acc)
		case SideRight:
			acc = nodeHash(acc, sibling)
		default:
			return false, fmt.Errorf("invalid proof side %q", step.Side)
		}
	}
	return hex.EncodeToString(acc) == proof.RootHash, nil
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte(merkleNodeTag))
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
