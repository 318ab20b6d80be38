package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voting-ledger/models"
	"voting-ledger/storage"
)

// StartSession opens a voting session. When the voter already has an active
// session in the election, that session is returned together with
// ErrSessionAlreadyActive.
func (vs *VotingService) StartSession(ctx context.Context, voterID, electionID string) (*models.VotingSession, error) {
	var (
		session  *models.VotingSession
		existing bool
	)
	err := vs.store.Update(ctx, func(tx *storage.Tx) error {
		now := vs.now()

		election, err := tx.GetElection(electionID)
		if err != nil {
			return err
		}
		if !election.IsLive() {
			return errors.Wrapf(models.ErrElectionNotLive, "election %s is %s", election.ID, election.Status)
		}

		voter, err := tx.GetVoter(voterID)
		if err != nil {
			return err
		}
		if voter.ElectionID != election.ID {
			return errors.Wrapf(models.ErrNotFound, "voter %s is not registered for election %s", voterID, electionID)
		}
		if voter.HasVoted {
			return errors.Wrapf(models.ErrAlreadyVoted, "voter %s", voterID)
		}
		if voter.Blocked {
			return errors.Wrapf(models.ErrVoterBlocked, "voter %s", voterID)
		}

		active, err := tx.ActiveSession(voterID, electionID)
		if err != nil {
			return err
		}
		if active != nil {
			if !active.PastDeadline(now) {
				session, existing = active, true
				return nil
			}
			active.End(models.SessionExpired, now)
			if err := tx.PutSession(active); err != nil {
				return err
			}
		}

		session = &models.VotingSession{
			ID:         uuid.New().String(),
			VoterID:    voterID,
			ElectionID: electionID,
			Status:     models.SessionActive,
			StartedAt:  now,
			ExpiresAt:  now.Add(election.VoteDuration()),
			Media: models.MediaFlags{
				CameraActive:     true,
				MicrophoneActive: true,
				LocationActive:   true,
			},
		}
		return tx.PutSession(session)
	})
	if err != nil {
		return nil, err
	}
	if existing {
		return session, errors.Wrapf(models.ErrSessionAlreadyActive, "session %s", session.ID)
	}

	vs.metricsCollector.RecordSessionStarted()
	logger.WithFields(logrus.Fields{
		"election": electionID,
		"session":  session.ID,
		"expires":  session.ExpiresAt,
	}).Debug("session started")
	return session, nil
}

// GetSession returns the session, first moving it to expired if its window
// has passed.
func (vs *VotingService) GetSession(ctx context.Context, sessionID string) (*models.VotingSession, error) {
	var session *models.VotingSession
	err := vs.store.Update(ctx, func(tx *storage.Tx) error {
		s, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		if now := vs.now(); s.PastDeadline(now) {
			s.End(models.SessionExpired, now)
			if err := tx.PutSession(s); err != nil {
				return err
			}
		}
		session = s
		return nil
	})
	return session, err
}

// ReportViolation applies the violation policy. The first violation by a
// voter terminates the session and allows a retry; the second also blocks
// the voter and records a warning on the election.
func (vs *VotingService) ReportViolation(ctx context.Context, sessionID, kind string) (*models.ViolationOutcome, error) {
	if kind == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "violation kind is required")
	}

	var (
		outcome *models.ViolationOutcome
		expired bool
		blocked bool
		notLive models.ElectionStatus
	)
	err := vs.store.Update(ctx, func(tx *storage.Tx) error {
		now := vs.now()

		s, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		if s.PastDeadline(now) {
			s.End(models.SessionExpired, now)
			expired = true
			return tx.PutSession(s)
		}
		switch s.Status {
		case models.SessionExpired:
			expired = true
			return nil
		case models.SessionCompleted, models.SessionTerminated:
			return errors.Wrapf(models.ErrSessionNotActive, "session %s is %s", s.ID, s.Status)
		}

		// a closed or published election is never written to again
		election, err := tx.GetElection(s.ElectionID)
		if err != nil {
			return err
		}
		if !election.IsLive() {
			notLive = election.Status
			s.End(models.SessionTerminated, now)
			return tx.PutSession(s)
		}

		voter, err := tx.GetVoter(s.VoterID)
		if err != nil {
			return err
		}
		if voter.Blocked {
			outcome = &models.ViolationOutcome{
				SessionID:      s.ID,
				Action:         models.ActionBlocked,
				ViolationCount: voter.ViolationCount,
				Message:        "voter is blocked from this election",
			}
			return nil
		}

		s.RecordViolation(kind, now)
		s.End(models.SessionTerminated, now)
		if err := tx.PutSession(s); err != nil {
			return err
		}

		voter.ViolationCount++
		voter.UpdatedAt = now
		outcome = &models.ViolationOutcome{
			SessionID:      s.ID,
			Action:         models.ActionWarning,
			ViolationCount: voter.ViolationCount,
			Message:        "session terminated, the voter may start a new session",
		}

		if voter.ViolationCount >= 2 {
			voter.Blocked = true
			blocked = true
			outcome.Action = models.ActionBlocked
			outcome.Message = "voter blocked after repeated violations"

			election.AddWarning(models.WarningVoterBlocked,
				fmt.Sprintf("voter %s blocked after %d violations", voter.ID, voter.ViolationCount), now)
			election.UpdatedAt = now
			if err := tx.PutElection(election); err != nil {
				return err
			}
			if err := vs.appendAudit(tx, election.ID, models.AuditVoterBlocked, "system", map[string]string{
				"voter_id": voter.ID,
				"kind":     kind,
			}); err != nil {
				return err
			}
		}
		return tx.PutVoter(voter)
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, errors.Wrapf(models.ErrSessionExpired, "session %s", sessionID)
	}
	if notLive != "" {
		return nil, errors.Wrapf(models.ErrElectionNotLive, "session %s ended, election is %s", sessionID, notLive)
	}

	vs.metricsCollector.RecordViolation()
	if blocked {
		vs.metricsCollector.RecordVoterBlocked()
	}
	logger.WithFields(logrus.Fields{
		"session": sessionID,
		"kind":    kind,
		"action":  outcome.Action,
	}).Info("violation reported")
	return outcome, nil
}

// ExpireSessions moves every overdue active session to expired and returns
// how many were flipped.
func (vs *VotingService) ExpireSessions(ctx context.Context) (int, error) {
	total := 0
	for {
		flipped := 0
		err := vs.store.Update(ctx, func(tx *storage.Tx) error {
			now := vs.now()
			for _, id := range tx.ExpiredSessionIDs(now, vs.cfg.SweepBatchSize) {
				s, err := tx.GetSession(id)
				if err != nil {
					return err
				}
				s.End(models.SessionExpired, now)
				if err := tx.PutSession(s); err != nil {
					return err
				}
				flipped++
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += flipped
		if flipped < vs.cfg.SweepBatchSize {
			break
		}
	}
	if total > 0 {
		vs.metricsCollector.RecordSessionsExpired(total)
	}
	return total, nil
}
