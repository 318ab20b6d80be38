package service

import (
	"context"

	"github.com/pkg/errors"

	"voting-ledger/ledger"
	"voting-ledger/models"
	"voting-ledger/storage"
)

func (vs *VotingService) receiptFor(tx *storage.Tx, ballot *models.Ballot) (*models.Receipt, error) {
	receipt := &models.Receipt{
		ReceiptID:   ballot.ReceiptID,
		ElectionID:  ballot.ElectionID,
		VoteHash:    ballot.VoteHash,
		VoterNumber: ballot.VoterNumber,
		Timestamp:   ballot.CastAt,
	}

	election, err := tx.GetElection(ballot.ElectionID)
	switch {
	case err == nil:
		receipt.ElectionName = election.Name
		receipt.MerkleRoot = election.MerkleRoot
	case errors.Is(err, models.ErrNotFound):
		// deleted elections keep their chain; the tail commits to the root
		tail, err := tx.LastBlock(ballot.ElectionID)
		if err != nil {
			return nil, err
		}
		if tail != nil {
			receipt.MerkleRoot = tail.MerkleRoot
		}
	default:
		return nil, err
	}
	return receipt, nil
}

// GetReceipt looks a receipt up by id. The response never reveals the choice.
func (vs *VotingService) GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error) {
	var receipt *models.Receipt
	err := vs.store.View(ctx, func(tx *storage.Tx) error {
		ballot, err := tx.BallotByReceipt(receiptID)
		if err != nil {
			return err
		}
		receipt, err = vs.receiptFor(tx, ballot)
		return err
	})
	return receipt, err
}

// ledgerTree returns the tree of an election's ledger, from cache when the
// ledger has not changed. The rebuilt root must equal the stored root.
func (vs *VotingService) ledgerTree(ctx context.Context, electionID string) (*ledger.Tree, error) {
	var (
		cached    *ledger.Tree
		leaves    []string
		root      string
		leafCount int
	)
	err := vs.store.View(ctx, func(tx *storage.Tx) error {
		election, err := tx.GetElection(electionID)
		if err == nil {
			root, leafCount = election.MerkleRoot, election.LeafCount
		} else if errors.Is(err, models.ErrNotFound) {
			tail, err := tx.LastBlock(electionID)
			if err != nil {
				return err
			}
			if tail == nil {
				return errors.Wrapf(models.ErrNotFound, "ledger for election %s", electionID)
			}
			root, leafCount = tail.MerkleRoot, int(tail.BlockID)
		} else {
			return err
		}

		if tree, ok := vs.trees.Get(electionID, leafCount, root); ok {
			cached = tree
			return nil
		}
		leaves, err = tx.Leaves(electionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	tree, err := ledger.BuildTreeHex(leaves)
	if err != nil {
		err = errors.Wrap(models.ErrLedgerCorruption, err.Error())
		vs.markCorrupted(ctx, electionID, err)
		return nil, err
	}
	if tree.RootHex() != root || tree.Len() != leafCount {
		err := errors.Wrapf(models.ErrLedgerCorruption, "election %s: stored root does not match its leaves", electionID)
		vs.markCorrupted(ctx, electionID, err)
		return nil, err
	}
	vs.trees.Put(electionID, tree)
	return tree, nil
}

// VerifyReceipt checks that the receipt's ballot is included under the
// current root.
func (vs *VotingService) VerifyReceipt(ctx context.Context, receiptID string) (*models.ReceiptVerification, error) {
	var (
		receipt *models.Receipt
		leaf    string
	)
	err := vs.store.View(ctx, func(tx *storage.Tx) error {
		ballot, err := tx.BallotByReceipt(receiptID)
		if err != nil {
			return err
		}
		leaf = ballot.LeafHash
		receipt, err = vs.receiptFor(tx, ballot)
		return err
	})
	if err != nil {
		return nil, err
	}

	tree, err := vs.ledgerTree(ctx, receipt.ElectionID)
	if err != nil {
		return nil, err
	}
	proof, ok := tree.ProofHex(leaf)
	return &models.ReceiptVerification{
		Receipt:  *receipt,
		LeafHash: leaf,
		Verified: ok && ledger.VerifyProofHex(proof, leaf, tree.RootHex()),
	}, nil
}

// InclusionProof returns the sibling path for a receipt's leaf so it can be
// checked against the published root without any other leaf.
func (vs *VotingService) InclusionProof(ctx context.Context, receiptID string) (*models.InclusionProof, error) {
	var ballot *models.Ballot
	err := vs.store.View(ctx, func(tx *storage.Tx) (err error) {
		ballot, err = tx.BallotByReceipt(receiptID)
		return err
	})
	if err != nil {
		return nil, err
	}

	tree, err := vs.ledgerTree(ctx, ballot.ElectionID)
	if err != nil {
		return nil, err
	}
	siblings, ok := tree.ProofHex(ballot.LeafHash)
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "leaf for receipt %s is not on the ledger", receiptID)
	}
	return &models.InclusionProof{
		ReceiptID: receiptID,
		LeafHash:  ballot.LeafHash,
		Siblings:  siblings,
		Root:      tree.RootHex(),
	}, nil
}

// VerifyInclusion reports whether leafHash is part of the election's ledger.
func (vs *VotingService) VerifyInclusion(ctx context.Context, electionID, leafHash string) (bool, error) {
	tree, err := vs.ledgerTree(ctx, electionID)
	if err != nil {
		return false, err
	}
	proof, ok := tree.ProofHex(leafHash)
	if !ok {
		return false, nil
	}
	return ledger.VerifyProofHex(proof, leafHash, tree.RootHex()), nil
}

func (vs *VotingService) loadLedger(ctx context.Context, electionID string) (*storage.LedgerSnapshot, error) {
	snap := &storage.LedgerSnapshot{ElectionID: electionID, ExportedAt: vs.now()}
	err := vs.store.View(ctx, func(tx *storage.Tx) error {
		election, err := tx.GetElection(electionID)
		if err != nil {
			return err
		}
		snap.ElectionName = election.Name
		snap.Status = election.Status
		snap.MerkleRoot = election.MerkleRoot

		if snap.Leaves, err = tx.Leaves(electionID); err != nil {
			return err
		}
		snap.Blocks, err = tx.Blocks(electionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if snap.Leaves == nil {
		snap.Leaves = []string{}
	}
	if snap.Blocks == nil {
		snap.Blocks = []models.Block{}
	}
	return snap, nil
}

// GetLedger returns the public ledger of an election: leaves, blocks and root.
func (vs *VotingService) GetLedger(ctx context.Context, electionID string) (*storage.LedgerSnapshot, error) {
	return vs.loadLedger(ctx, electionID)
}

// AuditLedger recomputes the election's root and validates its chain. A
// failed audit marks the election corrupted.
func (vs *VotingService) AuditLedger(ctx context.Context, electionID string, deep bool) (*ledger.AuditReport, error) {
	snap, err := vs.loadLedger(ctx, electionID)
	if err != nil {
		return nil, err
	}
	report, err := ledger.Audit(electionID, snap.Leaves, snap.Blocks, snap.MerkleRoot, deep)
	if err != nil {
		vs.markCorrupted(ctx, electionID, err)
		return report, err
	}
	return report, nil
}

// ExportLedger writes a snapshot of the election's ledger and returns its
// path.
func (vs *VotingService) ExportLedger(ctx context.Context, electionID string) (string, error) {
	unlock := vs.locks.lock(electionID)
	defer unlock()
	return vs.exportLedger(ctx, electionID)
}

func (vs *VotingService) exportLedger(ctx context.Context, electionID string) (string, error) {
	if vs.snapshots == nil {
		return "", errors.New("ledger snapshots are not configured")
	}
	snap, err := vs.loadLedger(ctx, electionID)
	if err != nil {
		return "", err
	}
	return vs.snapshots.Save(snap)
}

// AuditLog returns the append-only admin action log of an election. The log
// outlives the election record.
func (vs *VotingService) AuditLog(ctx context.Context, electionID string) ([]*models.AuditEntry, error) {
	var entries []*models.AuditEntry
	err := vs.store.View(ctx, func(tx *storage.Tx) (err error) {
		entries, err = tx.AuditEntries(electionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		return nil, errors.Wrapf(models.ErrNotFound, "audit log for election %s", electionID)
	}
	return entries, nil
}

func (vs *VotingService) Stats(ctx context.Context, electionID string) (*models.ElectionStats, error) {
	election, err := vs.GetElection(ctx, electionID)
	if err != nil {
		return nil, err
	}
	return &models.ElectionStats{
		ElectionID:        election.ID,
		Status:            election.Status,
		TotalRegistered:   election.TotalRegistered,
		TotalVotesCast:    election.TotalVotesCast,
		TurnoutPercentage: percentage(election.TotalVotesCast, election.TotalRegistered),
		MerkleRoot:        election.MerkleRoot,
		LeafCount:         election.LeafCount,
		BlockCount:        election.BlockCount,
		Corrupted:         election.Corrupted,
	}, nil
}
