package ledger

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"voting-ledger/models"
)

// State is the persisted ledger of one election as read inside the append
// transaction.
type State struct {
	ElectionID string
	Leaves     []string
	Root       string
	Tail       *models.Block
}

type AppendResult struct {
	Root     string
	Block    models.Block
	Position int
}

// Append verifies the stored state, adds leaf and returns the new root plus
// the block linking it to the chain. The caller persists both atomically.
// The full tree is rebuilt on every call.
func Append(st State, leaf string, now time.Time) (*AppendResult, error) {
	if err := verifyState(st); err != nil {
		return nil, err
	}

	leaves := make([]string, len(st.Leaves), len(st.Leaves)+1)
	copy(leaves, st.Leaves)
	leaves = append(leaves, leaf)

	root, err := MerkleRoot(leaves)
	if err != nil {
		return nil, errors.Wrap(models.ErrInvalidArgument, err.Error())
	}

	return &AppendResult{
		Root:     root,
		Block:    NewBlock(st.ElectionID, st.Tail, root, len(leaves), now),
		Position: len(leaves),
	}, nil
}

func verifyState(st State) error {
	root, err := MerkleRoot(st.Leaves)
	if err != nil {
		return errors.Wrap(models.ErrLedgerCorruption, err.Error())
	}
	if root != st.Root {
		return errors.Wrapf(models.ErrLedgerCorruption,
			"election %s: stored root %q does not match recomputed root %q", st.ElectionID, st.Root, root)
	}

	if st.Tail == nil {
		if len(st.Leaves) != 0 {
			return errors.Wrapf(models.ErrLedgerCorruption, "election %s: %d leaves but no blocks", st.ElectionID, len(st.Leaves))
		}
		return nil
	}
	if st.Tail.BlockID != uint64(len(st.Leaves)) {
		return errors.Wrapf(models.ErrLedgerCorruption,
			"election %s: chain tail is block %d but ledger holds %d leaves", st.ElectionID, st.Tail.BlockID, len(st.Leaves))
	}
	if st.Tail.MerkleRoot != root || !ValidateBlock(st.Tail) {
		return errors.Wrapf(models.ErrLedgerCorruption, "election %s: chain tail does not commit to the current root", st.ElectionID)
	}
	return nil
}

// AuditReport summarises a full ledger check.
type AuditReport struct {
	ElectionID   string   `json:"election_id"`
	LeafCount    int      `json:"leaf_count"`
	BlockCount   int      `json:"block_count"`
	StoredRoot   string   `json:"stored_root"`
	ComputedRoot string   `json:"computed_root"`
	Deep         bool     `json:"deep"`
	Valid        bool     `json:"valid"`
	Problems     []string `json:"problems,omitempty"`
}

// Audit recomputes the root from leaves and validates the block chain. With
// deep set, every block's root is also checked against the leaf prefix it
// covers. A non-nil error wraps ErrLedgerCorruption.
func Audit(electionID string, leaves []string, blocks []models.Block, storedRoot string, deep bool) (*AuditReport, error) {
	report := &AuditReport{
		ElectionID: electionID,
		LeafCount:  len(leaves),
		BlockCount: len(blocks),
		StoredRoot: storedRoot,
		Deep:       deep,
	}

	tree, err := BuildTreeHex(leaves)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
	} else {
		report.ComputedRoot = tree.RootHex()
		if report.ComputedRoot != storedRoot {
			report.Problems = append(report.Problems, "stored root does not match recomputed root")
		}
	}

	if len(blocks) != len(leaves) {
		report.Problems = append(report.Problems, fmt.Sprintf("%d blocks for %d leaves", len(blocks), len(leaves)))
	}
	if err := ValidateChain(blocks); err != nil {
		report.Problems = append(report.Problems, err.Error())
	}
	if len(blocks) > 0 && blocks[len(blocks)-1].MerkleRoot != storedRoot {
		report.Problems = append(report.Problems, "last block does not commit to the stored root")
	}

	if deep {
		n := len(blocks)
		if len(leaves) < n {
			n = len(leaves)
		}
		for i := 0; i < n; i++ {
			root, err := MerkleRoot(leaves[:i+1])
			if err != nil || root != blocks[i].MerkleRoot {
				report.Problems = append(report.Problems, fmt.Sprintf("block %d root does not match leaves 1..%d", blocks[i].BlockID, i+1))
			}
		}
	}

	report.Valid = len(report.Problems) == 0
	if !report.Valid {
		return report, errors.Wrapf(models.ErrLedgerCorruption, "election %s: %s", electionID, report.Problems[0])
	}
	return report, nil
}
