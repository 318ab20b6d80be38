package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"voting-ledger/encryption"
	"voting-ledger/models"
	"voting-ledger/storage"
)

var admin = models.Principal{ID: "admin-1", Admin: true}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	vs    *VotingService
	clock *fakeClock
	store *storage.Store
	ctx   context.Context
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(filepath.Join(dir, "ledger.db"), storage.Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	snapshots, err := storage.NewSnapshotStore(filepath.Join(dir, "snapshots"), 3)
	require.NoError(t, err)

	signer, err := crypto.GenerateKey()
	require.NoError(t, err)
	master := make([]byte, encryption.KeySize)
	for i := range master {
		master[i] = byte(i + 1)
	}
	cs, err := encryption.NewCryptoService(master, []byte("test-hash-secret"), signer)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	vs, err := NewVotingService(store, cs, snapshots, Config{Now: clock.Now})
	require.NoError(t, err)

	return &testEnv{vs: vs, clock: clock, store: store, ctx: context.Background()}
}

// liveElection creates an election with the given candidates, generates its
// keys and takes it live.
func (e *testEnv) liveElection(t *testing.T, candidates ...CandidateSpec) (*models.Election, []*models.Candidate) {
	t.Helper()
	election, err := e.vs.CreateElection(e.ctx, admin, ElectionSpec{Name: "General 2026"})
	require.NoError(t, err)

	var added []*models.Candidate
	for _, spec := range candidates {
		c, err := e.vs.AddCandidate(e.ctx, admin, election.ID, spec)
		require.NoError(t, err)
		added = append(added, c)
	}

	_, err = e.vs.GenerateKeys(e.ctx, admin, election.ID)
	require.NoError(t, err)
	_, err = e.vs.TransitionElection(e.ctx, admin, election.ID, models.StatusScheduled)
	require.NoError(t, err)
	election, err = e.vs.TransitionElection(e.ctx, admin, election.ID, models.StatusLive)
	require.NoError(t, err)
	return election, added
}

func (e *testEnv) register(t *testing.T, electionID, commitment string) *models.VoterIdentity {
	t.Helper()
	v, err := e.vs.RegisterVoter(e.ctx, electionID, commitment, "")
	require.NoError(t, err)
	return v
}

// vote registers a voter, opens a session and casts one ballot.
func (e *testEnv) vote(t *testing.T, electionID, commitment, candidateID string) *models.Receipt {
	t.Helper()
	v := e.register(t, electionID, commitment)
	sess, err := e.vs.StartSession(e.ctx, v.ID, electionID)
	require.NoError(t, err)
	receipt, err := e.vs.CastVote(e.ctx, &CastVoteRequest{SessionID: sess.ID, VoterID: v.ID, CandidateID: candidateID})
	require.NoError(t, err)
	return receipt
}

func (e *testEnv) closeAndPublish(t *testing.T, electionID string) *models.Result {
	t.Helper()
	_, err := e.vs.TransitionElection(e.ctx, admin, electionID, models.StatusClosed)
	require.NoError(t, err)
	_, err = e.vs.EnableDecryption(e.ctx, admin, electionID)
	require.NoError(t, err)
	result, err := e.vs.PublishResults(e.ctx, admin, electionID, "certified")
	require.NoError(t, err)
	return result
}
