package service

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-ledger/ledger"
	"voting-ledger/models"
)

func leafOf(blob models.EncryptedBlob, sessionID string) string {
	return ledger.LeafHash(blob.Data, sessionID)
}

func TestEndToEndSingleVote(t *testing.T) {
	env := newTestService(t)
	election, candidates := env.liveElection(t, CandidateSpec{Name: "C1", Party: "Blue"})

	receipt := env.vote(t, election.ID, "commit-v1", candidates[0].ID)
	assert.Equal(t, 1, receipt.VoterNumber)

	verification, err := env.vs.VerifyReceipt(env.ctx, receipt.ReceiptID)
	require.NoError(t, err)
	assert.True(t, verification.Verified)

	result := env.closeAndPublish(t, election.ID)
	assert.Equal(t, 1, result.TotalVotes)
	assert.Zero(t, result.InvalidBallots)
	assert.Equal(t, receipt.MerkleRoot, result.FinalMerkleRoot)
	assert.Equal(t, 100.0, result.TurnoutPercentage)
	assert.Equal(t, "Blue", result.WinningParty)

	require.Len(t, result.Constituencies, 1)
	general := result.Constituencies[0]
	assert.Equal(t, GeneralConstituency, general.Constituency)
	assert.Equal(t, candidates[0].ID, general.WinnerID)
	assert.Equal(t, 1, general.Candidates[0].Votes)
	assert.Equal(t, 100.0, general.Candidates[0].Percentage)

	assert.True(t, env.vs.VerifyResult(result))

	stored, err := env.vs.GetResult(env.ctx, election.ID)
	require.NoError(t, err)
	assert.True(t, env.vs.VerifyResult(stored), "signature must survive storage")

	election, err = env.vs.GetElection(env.ctx, election.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResultsPublished, election.Status)

	listed, err := env.vs.ListCandidates(env.ctx, election.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, listed[0].VoteCount)
}

func TestPublishRequiresDecryption(t *testing.T) {
	env := newTestService(t)
	election, candidates := env.liveElection(t, CandidateSpec{Name: "C1"})
	env.vote(t, election.ID, "commit-v1", candidates[0].ID)

	_, err := env.vs.PublishResults(env.ctx, admin, election.ID, "")
	assert.True(t, errors.Is(err, models.ErrElectionNotClosed))

	_, err = env.vs.EnableDecryption(env.ctx, admin, election.ID)
	assert.True(t, errors.Is(err, models.ErrElectionNotClosed))

	_, err = env.vs.TransitionElection(env.ctx, admin, election.ID, models.StatusClosed)
	require.NoError(t, err)

	_, err = env.vs.PublishResults(env.ctx, admin, election.ID, "")
	assert.True(t, errors.Is(err, models.ErrDecryptionNotEnabled))

	_, err = env.vs.GetResult(env.ctx, election.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestPublishOnce(t *testing.T) {
	env := newTestService(t)
	election, candidates := env.liveElection(t, CandidateSpec{Name: "C1"})
	env.vote(t, election.ID, "commit-v1", candidates[0].ID)

	first := env.closeAndPublish(t, election.ID)

	_, err := env.vs.PublishResults(env.ctx, admin, election.ID, "again")
	assert.True(t, errors.Is(err, models.ErrAlreadyPublished))

	stored, err := env.vs.GetResult(env.ctx, election.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Signature.Signature, stored.Signature.Signature)
	assert.Equal(t, "certified", stored.OfficialStatement)
}

func TestTieIsFlagged(t *testing.T) {
	env := newTestService(t)
	election, candidates := env.liveElection(t,
		CandidateSpec{Name: "Alice", Party: "Red"},
		CandidateSpec{Name: "Bob", Party: "Green"},
	)
	env.vote(t, election.ID, "commit-1", candidates[0].ID)
	env.vote(t, election.ID, "commit-2", candidates[1].ID)

	result := env.closeAndPublish(t, election.ID)
	require.Len(t, result.Constituencies, 1)
	res := result.Constituencies[0]
	assert.True(t, res.Tie)
	assert.Empty(t, res.WinnerID)
	assert.ElementsMatch(t, []string{candidates[0].ID, candidates[1].ID}, res.TiedCandidates)
	assert.Equal(t, 50.0, res.Candidates[0].Percentage)

	assert.Empty(t, result.WinningParty)
	assert.False(t, result.PartyTie, "no party won a seat")
}

func TestTallyByConstituency(t *testing.T) {
	env := newTestService(t)
	election, err := env.vs.CreateElection(env.ctx, admin, ElectionSpec{
		Name:           "Regional",
		Constituencies: []string{"north", "south"},
	})
	require.NoError(t, err)

	specs := []CandidateSpec{
		{Name: "N1", Party: "Red", Constituency: "north"},
		{Name: "N2", Party: "Blue", Constituency: "north"},
		{Name: "S1", Party: "Red", Constituency: "south"},
	}
	var candidates []*models.Candidate
	for _, spec := range specs {
		c, err := env.vs.AddCandidate(env.ctx, admin, election.ID, spec)
		require.NoError(t, err)
		candidates = append(candidates, c)
	}
	_, err = env.vs.AddCandidate(env.ctx, admin, election.ID, CandidateSpec{Name: "X", Constituency: "east"})
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))

	_, err = env.vs.GenerateKeys(env.ctx, admin, election.ID)
	require.NoError(t, err)
	_, err = env.vs.TransitionElection(env.ctx, admin, election.ID, models.StatusScheduled)
	require.NoError(t, err)
	_, err = env.vs.TransitionElection(env.ctx, admin, election.ID, models.StatusLive)
	require.NoError(t, err)

	cast := func(commitment, constituency string, c *models.Candidate) error {
		v, err := env.vs.RegisterVoter(env.ctx, election.ID, commitment, constituency)
		require.NoError(t, err)
		sess, err := env.vs.StartSession(env.ctx, v.ID, election.ID)
		require.NoError(t, err)
		_, err = env.vs.CastVote(env.ctx, &CastVoteRequest{SessionID: sess.ID, VoterID: v.ID, CandidateID: c.ID})
		return err
	}
	require.NoError(t, cast("n-1", "north", candidates[0]))
	require.NoError(t, cast("n-2", "north", candidates[0]))
	require.NoError(t, cast("n-3", "north", candidates[1]))
	require.NoError(t, cast("s-1", "south", candidates[2]))

	err = cast("s-2", "south", candidates[0])
	assert.True(t, errors.Is(err, models.ErrInvalidCandidate))

	result := env.closeAndPublish(t, election.ID)
	require.Len(t, result.Constituencies, 2)
	assert.Equal(t, "north", result.Constituencies[0].Constituency)
	assert.Equal(t, 3, result.Constituencies[0].TotalVotes)
	assert.Equal(t, candidates[0].ID, result.Constituencies[0].WinnerID)
	assert.Equal(t, 66.67, result.Constituencies[0].Candidates[0].Percentage)
	assert.Equal(t, "south", result.Constituencies[1].Constituency)

	assert.Equal(t, "Red", result.WinningParty)
	require.NotEmpty(t, result.PartySeats)
	assert.Equal(t, models.PartySeats{Party: "Red", Seats: 2, Votes: 3}, result.PartySeats[0])
	assert.Equal(t, 4, result.TotalVotes)
	assert.Equal(t, 80.0, result.TurnoutPercentage)
}

func TestCountVotesReportsInvalidBallots(t *testing.T) {
	env := newTestService(t)
	cs := env.vs.cryptoService
	key, _, err := cs.GenerateElectionKey()
	require.NoError(t, err)

	candidates := []*models.Candidate{{ID: "c1", Name: "Alice"}}
	good, err := cs.EncryptBallot(key, "e1", &models.BallotPayload{CandidateID: "c1", ElectionID: "e1", SessionID: "s1"})
	require.NoError(t, err)
	unknown, err := cs.EncryptBallot(key, "e1", &models.BallotPayload{CandidateID: "ghost", ElectionID: "e1", SessionID: "s2"})
	require.NoError(t, err)
	offLedger, err := cs.EncryptBallot(key, "e1", &models.BallotPayload{CandidateID: "c1", ElectionID: "e1", SessionID: "s3"})
	require.NoError(t, err)
	foreign, err := cs.EncryptBallot(key, "e1", &models.BallotPayload{CandidateID: "c1", ElectionID: "e2", SessionID: "s4"})
	require.NoError(t, err)

	goodLeaf := leafOf(good, "s1")
	unknownLeaf := leafOf(unknown, "s2")
	foreignLeaf := leafOf(foreign, "s4")
	ballots := []*models.Ballot{
		{Encrypted: good, LeafHash: goodLeaf},
		{Encrypted: unknown, LeafHash: unknownLeaf},
		{Encrypted: offLedger, LeafHash: leafOf(offLedger, "s3")},
		{Encrypted: models.EncryptedBlob{IV: good.IV, Data: "00"}, LeafHash: goodLeaf},
		{Encrypted: foreign, LeafHash: foreignLeaf},
	}

	outcome := env.vs.countingService.CountVotes("e1", candidates, ballots, []string{goodLeaf, unknownLeaf, foreignLeaf}, key)
	assert.Equal(t, 1, outcome.TotalVotes)
	assert.Equal(t, 4, outcome.InvalidBallots)
	assert.Equal(t, 1, outcome.CandidateVotes["c1"])
}
