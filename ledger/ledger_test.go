package ledger

import (
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-ledger/models"
)

func testLeaves(n int) []string {
	leaves := make([]string, n)
	for i := range leaves {
		leaves[i] = LeafHash(fmt.Sprintf("ciphertext-%d", i), fmt.Sprintf("session-%d", i))
	}
	return leaves
}

func TestMerkleRootEdgeCases(t *testing.T) {
	root, err := MerkleRoot(nil)
	require.NoError(t, err)
	assert.Equal(t, "", root)

	leaves := testLeaves(1)
	root, err = MerkleRoot(leaves)
	require.NoError(t, err)
	assert.Equal(t, leaves[0], root, "single leaf is its own root")

	_, err = MerkleRoot([]string{"not-hex"})
	assert.Error(t, err)
}

func TestMerkleRootSortedPairs(t *testing.T) {
	leaves := testLeaves(2)
	a, _ := hex.DecodeString(leaves[0])
	b, _ := hex.DecodeString(leaves[1])

	root, err := MerkleRoot(leaves)
	require.NoError(t, err)
	swapped, err := MerkleRoot([]string{leaves[1], leaves[0]})
	require.NoError(t, err)
	assert.Equal(t, root, swapped)

	lo, hi := a, b
	if hex.EncodeToString(a) > hex.EncodeToString(b) {
		lo, hi = b, a
	}
	assert.Equal(t, hex.EncodeToString(crypto.Keccak256(lo, hi)), root)
}

func TestOddLeafPromoted(t *testing.T) {
	leaves := testLeaves(3)
	root, err := MerkleRoot(leaves)
	require.NoError(t, err)

	pair, err := MerkleRoot(leaves[:2])
	require.NoError(t, err)
	p, _ := hex.DecodeString(pair)
	c, _ := hex.DecodeString(leaves[2])
	assert.Equal(t, hex.EncodeToString(hashPair(p, c)), root)
}

func TestVerifyInclusion(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 16, 33} {
		leaves := testLeaves(n)
		for _, l := range leaves {
			assert.True(t, VerifyInclusion(l, leaves), "n=%d", n)
		}
		assert.False(t, VerifyInclusion(LeafHash("forged", "x"), leaves), "n=%d", n)
	}
	assert.False(t, VerifyInclusion(LeafHash("a", "b"), nil))
}

func TestProofVerifiesAgainstRootOnly(t *testing.T) {
	leaves := testLeaves(11)
	tree, err := BuildTreeHex(leaves)
	require.NoError(t, err)

	proof, ok := tree.ProofHex(leaves[6])
	require.True(t, ok)
	assert.True(t, VerifyProofHex(proof, leaves[6], tree.RootHex()))
	assert.False(t, VerifyProofHex(proof, leaves[5], tree.RootHex()))

	_, ok = tree.ProofHex(LeafHash("missing", "x"))
	assert.False(t, ok)
}

func TestAppendMatchesFullRebuild(t *testing.T) {
	now := time.Unix(1700000000, 0)
	st := State{ElectionID: "e1"}

	leaves := testLeaves(9)
	for i, leaf := range leaves {
		res, err := Append(st, leaf, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, i+1, res.Position)
		assert.Equal(t, uint64(i+1), res.Block.BlockID)
		assert.Equal(t, i+1, res.Block.VoteCount)

		st.Leaves = append(st.Leaves, leaf)
		st.Root = res.Root
		blk := res.Block
		st.Tail = &blk
	}

	root, err := MerkleRoot(leaves)
	require.NoError(t, err)
	assert.Equal(t, root, st.Root)
}

func TestAppendDetectsCorruption(t *testing.T) {
	now := time.Unix(1700000000, 0)
	leaves := testLeaves(2)

	res, err := Append(State{ElectionID: "e1"}, leaves[0], now)
	require.NoError(t, err)
	blk := res.Block

	_, err = Append(State{ElectionID: "e1", Leaves: leaves[:1], Root: "deadbeef", Tail: &blk}, leaves[1], now)
	assert.True(t, errors.Is(err, models.ErrLedgerCorruption))

	_, err = Append(State{ElectionID: "e1", Leaves: leaves[:1], Root: res.Root}, leaves[1], now)
	assert.True(t, errors.Is(err, models.ErrLedgerCorruption), "missing chain tail")

	forged := blk
	forged.MerkleRoot = leaves[1]
	_, err = Append(State{ElectionID: "e1", Leaves: leaves[:1], Root: res.Root, Tail: &forged}, leaves[1], now)
	assert.True(t, errors.Is(err, models.ErrLedgerCorruption))
}

func buildLedger(t *testing.T, n int) ([]string, []models.Block, string) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	st := State{ElectionID: "e1"}
	var blocks []models.Block
	for i, leaf := range testLeaves(n) {
		res, err := Append(st, leaf, now.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
		st.Leaves = append(st.Leaves, leaf)
		st.Root = res.Root
		blocks = append(blocks, res.Block)
		st.Tail = &blocks[len(blocks)-1]
	}
	return st.Leaves, blocks, st.Root
}

func TestChainLinks(t *testing.T) {
	_, blocks, _ := buildLedger(t, 4)
	assert.Equal(t, GenesisPreviousHash, blocks[0].PreviousHash)
	for i := 1; i < len(blocks); i++ {
		assert.Equal(t, blocks[i-1].CurrentHash, blocks[i].PreviousHash)
	}
	require.NoError(t, ValidateChain(blocks))

	blocks[2].MerkleRoot = blocks[1].MerkleRoot
	assert.True(t, errors.Is(ValidateChain(blocks), models.ErrLedgerCorruption))
}

func TestNewBlockClampsTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	first := NewBlock("e1", nil, "aa", 1, now)
	second := NewBlock("e1", &first, "bb", 2, now.Add(-time.Second))
	assert.Equal(t, first.Timestamp, second.Timestamp)
	require.NoError(t, ValidateChain([]models.Block{first, second}))
}

func TestAudit(t *testing.T) {
	leaves, blocks, root := buildLedger(t, 6)

	report, err := Audit("e1", leaves, blocks, root, true)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, root, report.ComputedRoot)

	tampered := append([]string{}, leaves...)
	tampered[3] = LeafHash("swapped", "ballot")
	report, err = Audit("e1", tampered, blocks, root, false)
	assert.True(t, errors.Is(err, models.ErrLedgerCorruption))
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Problems)

	report, err = Audit("e1", leaves[:5], blocks, root, false)
	assert.True(t, errors.Is(err, models.ErrLedgerCorruption))
	assert.False(t, report.Valid)
}

func TestTreeCache(t *testing.T) {
	cache, err := NewTreeCache(2)
	require.NoError(t, err)

	leaves := testLeaves(5)
	tree, err := BuildTreeHex(leaves)
	require.NoError(t, err)
	cache.Put("e1", tree)

	got, ok := cache.Get("e1", 5, tree.RootHex())
	require.True(t, ok)
	assert.Same(t, tree, got)

	_, ok = cache.Get("e1", 6, tree.RootHex())
	assert.False(t, ok, "stale leaf count")
	_, ok = cache.Get("e1", 5, "other")
	assert.False(t, ok, "stale root")

	cache.Remove("e1")
	_, ok = cache.Get("e1", 5, tree.RootHex())
	assert.False(t, ok)
}
