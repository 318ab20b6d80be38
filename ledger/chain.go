package ledger

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"voting-ledger/models"
)

// GenesisPreviousHash is the previous_hash of every election's first block.
var GenesisPreviousHash = strings.Repeat("0", 64)

func BlockHash(previousHash, merkleRoot string, timestamp int64) string {
	return hex.EncodeToString(crypto.Keccak256(
		[]byte(previousHash),
		[]byte(merkleRoot),
		[]byte(strconv.FormatInt(timestamp, 10)),
	))
}

// NewBlock links a block for merkleRoot onto prev. A nil prev starts the chain.
func NewBlock(electionID string, prev *models.Block, merkleRoot string, voteCount int, now time.Time) models.Block {
	b := models.Block{
		BlockID:      1,
		ElectionID:   electionID,
		PreviousHash: GenesisPreviousHash,
		MerkleRoot:   merkleRoot,
		VoteCount:    voteCount,
		Timestamp:    now.UnixNano(),
	}
	if prev != nil {
		b.BlockID = prev.BlockID + 1
		b.PreviousHash = prev.CurrentHash
		// wall clock steps backwards must not break ordering
		if b.Timestamp < prev.Timestamp {
			b.Timestamp = prev.Timestamp
		}
	}
	b.CurrentHash = BlockHash(b.PreviousHash, b.MerkleRoot, b.Timestamp)
	return b
}

// ValidateBlock recomputes the block's own hash.
func ValidateBlock(b *models.Block) bool {
	return BlockHash(b.PreviousHash, b.MerkleRoot, b.Timestamp) == b.CurrentHash
}

// ValidateChain checks hash links, numbering and per-block hashes. It returns
// the first problem found, wrapped in ErrLedgerCorruption.
func ValidateChain(blocks []models.Block) error {
	for i := range blocks {
		b := &blocks[i]

		if b.BlockID != uint64(i+1) {
			return errors.Wrapf(models.ErrLedgerCorruption, "block %d has id %d", i+1, b.BlockID)
		}
		if !ValidateBlock(b) {
			return errors.Wrapf(models.ErrLedgerCorruption, "block %d has invalid hash", b.BlockID)
		}
		if b.VoteCount != i+1 {
			return errors.Wrapf(models.ErrLedgerCorruption, "block %d records %d votes", b.BlockID, b.VoteCount)
		}

		if i == 0 {
			if b.PreviousHash != GenesisPreviousHash {
				return errors.Wrap(models.ErrLedgerCorruption, "first block does not start from the genesis hash")
			}
			continue
		}

		prev := &blocks[i-1]
		if b.PreviousHash != prev.CurrentHash {
			return errors.Wrapf(models.ErrLedgerCorruption, "block %d has invalid previous hash link", b.BlockID)
		}
		if b.Timestamp < prev.Timestamp {
			return errors.Wrapf(models.ErrLedgerCorruption, "block %d has invalid timestamp", b.BlockID)
		}
	}
	return nil
}
