package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-ledger/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"), Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestElectionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := &models.Election{ID: "e1", Name: "General", Status: models.StatusDraft}
	require.NoError(t, s.Update(ctx, func(tx *Tx) error { return tx.PutElection(e) }))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		got, err := tx.GetElection("e1")
		require.NoError(t, err)
		assert.Equal(t, "General", got.Name)

		_, err = tx.GetElection("missing")
		assert.True(t, errors.Is(err, models.ErrNotFound))
		return nil
	}))
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.PutElection(&models.Election{ID: "e1"}))
		return boom
	})
	assert.Equal(t, boom, err)

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		_, err := tx.GetElection("e1")
		assert.True(t, errors.Is(err, models.ErrNotFound))
		return nil
	}))
}

func TestInsertVoterUniquePerElection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertVoter(&models.VoterIdentity{ID: "v1", ElectionID: "e1", Commitment: "c"}))
		require.NoError(t, tx.InsertVoter(&models.VoterIdentity{ID: "v2", ElectionID: "e2", Commitment: "c"}))
		return tx.InsertVoter(&models.VoterIdentity{ID: "v3", ElectionID: "e1", Commitment: "c"})
	})
	assert.True(t, errors.Is(err, models.ErrAlreadyRegistered))
}

func TestListVotersByElection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertVoter(&models.VoterIdentity{ID: "v1", ElectionID: "e1", Commitment: "a"}))
		require.NoError(t, tx.InsertVoter(&models.VoterIdentity{ID: "v2", ElectionID: "e1", Commitment: "b"}))
		return tx.InsertVoter(&models.VoterIdentity{ID: "v3", ElectionID: "e10", Commitment: "a"})
	}))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		voters, err := tx.ListVoters("e1")
		require.NoError(t, err)
		require.Len(t, voters, 2)
		assert.ElementsMatch(t, []string{"v1", "v2"}, []string{voters[0].ID, voters[1].ID})

		none, err := tx.ListVoters("e2")
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	}))
}

func TestSessionIndexes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	sess := &models.VotingSession{
		ID: "s1", VoterID: "v1", ElectionID: "e1",
		Status: models.SessionActive, StartedAt: now, ExpiresAt: now.Add(time.Minute),
	}
	require.NoError(t, s.Update(ctx, func(tx *Tx) error { return tx.PutSession(sess) }))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		active, err := tx.ActiveSession("v1", "e1")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, "s1", active.ID)

		assert.Empty(t, tx.ExpiredSessionIDs(now, 10))
		assert.Equal(t, []string{"s1"}, tx.ExpiredSessionIDs(now.Add(2*time.Minute), 10))
		return nil
	}))

	sess.End(models.SessionCompleted, now)
	require.NoError(t, s.Update(ctx, func(tx *Tx) error { return tx.PutSession(sess) }))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		active, err := tx.ActiveSession("v1", "e1")
		require.NoError(t, err)
		assert.Nil(t, active)
		assert.Empty(t, tx.ExpiredSessionIDs(now.Add(2*time.Minute), 10))
		return nil
	}))
}

func TestBallotNullifierUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := &models.Ballot{ElectionID: "e1", Nullifier: "n1", ReceiptID: "r1", LeafHash: "aa"}
	require.NoError(t, s.Update(ctx, func(tx *Tx) error { return tx.InsertBallot(b) }))

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.InsertBallot(&models.Ballot{ElectionID: "e1", Nullifier: "n1", ReceiptID: "r2"})
	})
	assert.True(t, errors.Is(err, models.ErrDuplicateVote))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		got, err := tx.BallotByReceipt("r1")
		require.NoError(t, err)
		assert.Equal(t, "aa", got.LeafHash)

		_, err = tx.BallotByReceipt("r2")
		assert.True(t, errors.Is(err, models.ErrNotFound), "rolled back insert must leave no receipt")

		ok, err := tx.HasBallot("e1", "n1")
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))
}

func TestLeavesAndBlocksOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		for i := 1; i <= 3; i++ {
			require.NoError(t, tx.AppendLeaf("e1", i, string(rune('a'+i))))
			require.NoError(t, tx.PutBlock(&models.Block{ElectionID: "e1", BlockID: uint64(i)}))
		}
		return nil
	}))

	err := s.Update(ctx, func(tx *Tx) error { return tx.AppendLeaf("e1", 5, "gap") })
	assert.True(t, errors.Is(err, models.ErrLedgerCorruption))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		leaves, err := tx.Leaves("e1")
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c", "d"}, leaves)

		last, err := tx.LastBlock("e1")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), last.BlockID)

		empty, err := tx.LastBlock("e2")
		require.NoError(t, err)
		assert.Nil(t, empty)
		return nil
	}))
}

func TestResultWrittenOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &models.Result{ResultPayload: models.ResultPayload{ElectionID: "e1", TotalVotes: 3}}
	require.NoError(t, s.Update(ctx, func(tx *Tx) error { return tx.InsertResult(first) }))

	second := &models.Result{ResultPayload: models.ResultPayload{ElectionID: "e1", TotalVotes: 9}}
	err := s.Update(ctx, func(tx *Tx) error { return tx.InsertResult(second) })
	assert.True(t, errors.Is(err, models.ErrAlreadyPublished))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		got, err := tx.GetResult("e1")
		require.NoError(t, err)
		assert.Equal(t, 3, got.TotalVotes)
		return nil
	}))
}

func TestAuditEntriesAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.AppendAudit(&models.AuditEntry{ElectionID: "e1", Action: models.AuditElectionCreated}))
		return tx.AppendAudit(&models.AuditEntry{ElectionID: "e1", Action: models.AuditStatusChanged})
	}))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		entries, err := tx.AuditEntries("e1")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, models.AuditElectionCreated, entries[0].Action)
		assert.Equal(t, models.AuditStatusChanged, entries[1].Action)
		return nil
	}))
}

func TestSnapshotRotation(t *testing.T) {
	snaps, err := NewSnapshotStore(t.TempDir(), 2)
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_, err := snaps.Save(&LedgerSnapshot{
			ElectionID: "e1",
			MerkleRoot: string(rune('a' + i)),
			ExportedAt: base.Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
	}

	files, err := snaps.listFiles(snapshotPattern("e1"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	latest, err := snaps.LoadLatest("e1")
	require.NoError(t, err)
	assert.Equal(t, "d", latest.MerkleRoot)

	none, err := snaps.LoadLatest("e2")
	require.NoError(t, err)
	assert.Nil(t, none)
}
