package service

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-ledger/models"
)

func TestWarnings(t *testing.T) {
	env := newTestService(t)
	election, _ := env.liveElection(t, CandidateSpec{Name: "Alice"})

	_, err := env.vs.AddWarning(env.ctx, models.Principal{ID: "v1"}, election.ID, "network", "booth offline")
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
	_, err = env.vs.AddWarning(env.ctx, admin, election.ID, "network", " ")
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))

	first, err := env.vs.AddWarning(env.ctx, admin, election.ID, "network", "booth offline")
	require.NoError(t, err)
	assert.Equal(t, 0, first.Index)
	env.clock.Advance(time.Second)
	second, err := env.vs.AddWarning(env.ctx, admin, election.ID, "turnout", "low turnout")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Index)

	warnings, err := env.vs.ListWarnings(env.ctx, admin, election.ID, false)
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	assert.Equal(t, "turnout", warnings[0].Type)
	assert.Equal(t, 1, warnings[0].Index)

	resolved, err := env.vs.ResolveWarning(env.ctx, admin, election.ID, 0)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, admin.ID, resolved.ResolvedBy)

	_, err = env.vs.ResolveWarning(env.ctx, admin, election.ID, 5)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	open, err := env.vs.ListWarnings(env.ctx, admin, election.ID, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "turnout", open[0].Type)

	entries, err := env.vs.AuditLog(env.ctx, election.ID)
	require.NoError(t, err)
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, models.AuditWarningAdded)
	assert.Contains(t, actions, models.AuditWarningResolved)
}

func TestWarningsFrozenAfterPublish(t *testing.T) {
	env := newTestService(t)
	election, candidates := env.liveElection(t, CandidateSpec{Name: "Alice"})
	_, err := env.vs.AddWarning(env.ctx, admin, election.ID, "network", "booth offline")
	require.NoError(t, err)
	env.vote(t, election.ID, "commit-1", candidates[0].ID)
	env.closeAndPublish(t, election.ID)

	_, err = env.vs.AddWarning(env.ctx, admin, election.ID, "late", "after publish")
	assert.True(t, errors.Is(err, models.ErrAlreadyPublished))
	_, err = env.vs.ResolveWarning(env.ctx, admin, election.ID, 0)
	assert.True(t, errors.Is(err, models.ErrAlreadyPublished))

	warnings, err := env.vs.ListWarnings(env.ctx, admin, election.ID, false)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.False(t, warnings[0].Resolved)
}

func TestFlaggedVoters(t *testing.T) {
	env := newTestService(t)
	election, _ := env.liveElection(t, CandidateSpec{Name: "Alice"})
	clean := env.register(t, election.ID, "commit-clean")
	once := env.register(t, election.ID, "commit-once")
	twice := env.register(t, election.ID, "commit-twice")

	violate := func(voterID string) {
		sess, err := env.vs.StartSession(env.ctx, voterID, election.ID)
		require.NoError(t, err)
		_, err = env.vs.ReportViolation(env.ctx, sess.ID, models.ViolationTabSwitch)
		require.NoError(t, err)
	}
	violate(once.ID)
	violate(twice.ID)
	violate(twice.ID)

	flagged, err := env.vs.FlaggedVoters(env.ctx, admin, election.ID)
	require.NoError(t, err)
	require.Len(t, flagged, 2)
	assert.Equal(t, twice.ID, flagged[0].ID)
	assert.True(t, flagged[0].Blocked)
	assert.Equal(t, once.ID, flagged[1].ID)
	for _, v := range flagged {
		assert.NotEqual(t, clean.ID, v.ID)
	}

	_, err = env.vs.FlaggedVoters(env.ctx, models.Principal{ID: "v1"}, election.ID)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
	_, err = env.vs.FlaggedVoters(env.ctx, admin, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestTimeline(t *testing.T) {
	env := newTestService(t)
	election, candidates := env.liveElection(t, CandidateSpec{Name: "Alice"})

	events, err := env.vs.Timeline(env.ctx, election.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Polling Started", events[0].Event)

	env.clock.Advance(time.Minute)
	env.vote(t, election.ID, "commit-1", candidates[0].ID)
	env.clock.Advance(time.Minute)
	env.closeAndPublish(t, election.ID)

	events, err = env.vs.Timeline(env.ctx, election.ID)
	require.NoError(t, err)
	var names []string
	for _, ev := range events {
		names = append(names, ev.Event)
		assert.Equal(t, models.EventCompleted, ev.Status)
	}
	assert.Equal(t, []string{"Polling Started", "Polling Ended", "Merkle Root Published", "Results Announced"}, names)
	assert.True(t, events[2].Date.Equal(env.clock.Now().Add(-time.Minute)))

	_, err = env.vs.Timeline(env.ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
