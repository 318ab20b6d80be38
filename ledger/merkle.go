package ledger

import (
	"bytes"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Tree is a binary Merkle tree over 32-byte leaves. Pairs are sorted before
// hashing, so proofs carry no left/right flags. An unpaired trailing node is
// promoted to the next layer unchanged.
type Tree struct {
	layers [][][]byte
	index  map[string]int
}

func hashPair(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256(a, b)
}

// BuildTree builds the full tree from scratch.
func BuildTree(leaves [][]byte) *Tree {
	t := &Tree{index: make(map[string]int, len(leaves))}
	if len(leaves) == 0 {
		return t
	}

	layer := make([][]byte, len(leaves))
	for i, l := range leaves {
		layer[i] = l
		key := string(l)
		if _, seen := t.index[key]; !seen {
			t.index[key] = i
		}
	}
	t.layers = append(t.layers, layer)

	for len(layer) > 1 {
		next := make([][]byte, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 < len(layer) {
				next = append(next, hashPair(layer[i], layer[i+1]))
			} else {
				next = append(next, layer[i])
			}
		}
		t.layers = append(t.layers, next)
		layer = next
	}
	return t
}

// BuildTreeHex decodes hex leaves and builds the tree.
func BuildTreeHex(leaves []string) (*Tree, error) {
	raw := make([][]byte, len(leaves))
	for i, l := range leaves {
		b, err := hex.DecodeString(l)
		if err != nil {
			return nil, errors.Wrapf(err, "leaf %d is not hex", i)
		}
		raw[i] = b
	}
	return BuildTree(raw), nil
}

func (t *Tree) Len() int {
	if len(t.layers) == 0 {
		return 0
	}
	return len(t.layers[0])
}

// Root returns nil for an empty tree.
func (t *Tree) Root() []byte {
	if len(t.layers) == 0 {
		return nil
	}
	return t.layers[len(t.layers)-1][0]
}

// RootHex returns "" for an empty tree.
func (t *Tree) RootHex() string {
	return hex.EncodeToString(t.Root())
}

func (t *Tree) Contains(leaf []byte) bool {
	_, ok := t.index[string(leaf)]
	return ok
}

// Proof returns the sibling path from leaf to the root.
func (t *Tree) Proof(leaf []byte) ([][]byte, bool) {
	idx, ok := t.index[string(leaf)]
	if !ok {
		return nil, false
	}

	proof := [][]byte{}
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := idx ^ 1
		if sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		idx /= 2
	}
	return proof, true
}

func (t *Tree) ProofHex(leafHex string) ([]string, bool) {
	leaf, err := hex.DecodeString(leafHex)
	if err != nil {
		return nil, false
	}
	proof, ok := t.Proof(leaf)
	if !ok {
		return nil, false
	}
	out := make([]string, len(proof))
	for i, p := range proof {
		out[i] = hex.EncodeToString(p)
	}
	return out, true
}

// VerifyProof folds the proof into leaf and compares with root.
func VerifyProof(proof [][]byte, leaf, root []byte) bool {
	if len(root) == 0 {
		return false
	}
	cur := leaf
	for _, sibling := range proof {
		cur = hashPair(cur, sibling)
	}
	return bytes.Equal(cur, root)
}

func VerifyProofHex(proof []string, leafHex, rootHex string) bool {
	leaf, err := hex.DecodeString(leafHex)
	if err != nil {
		return false
	}
	root, err := hex.DecodeString(rootHex)
	if err != nil {
		return false
	}
	raw := make([][]byte, len(proof))
	for i, p := range proof {
		if raw[i], err = hex.DecodeString(p); err != nil {
			return false
		}
	}
	return VerifyProof(raw, leaf, root)
}

// MerkleRoot computes the root of hex leaves, "" when there are none.
func MerkleRoot(leaves []string) (string, error) {
	t, err := BuildTreeHex(leaves)
	if err != nil {
		return "", err
	}
	return t.RootHex(), nil
}

// VerifyInclusion reports whether leaf is part of the tree over leaves.
func VerifyInclusion(leaf string, leaves []string) bool {
	t, err := BuildTreeHex(leaves)
	if err != nil {
		return false
	}
	proof, ok := t.ProofHex(leaf)
	if !ok {
		return false
	}
	return VerifyProofHex(proof, leaf, t.RootHex())
}

// LeafHash is the ledger leaf of one ballot.
func LeafHash(ciphertextHex, sessionID string) string {
	return hex.EncodeToString(crypto.Keccak256([]byte(ciphertextHex), []byte(sessionID)))
}
