package service

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voting-ledger/models"
	"voting-ledger/storage"
)

type ElectionSpec struct {
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	Constituencies      []string        `json:"constituencies,omitempty"`
	Timeline            models.Timeline `json:"timeline"`
	VoteDurationSeconds int             `json:"vote_duration_seconds,omitempty"`
	DisableRegistration bool            `json:"disable_registration,omitempty"`
}

type CandidateSpec struct {
	Name         string `json:"name"`
	Party        string `json:"party,omitempty"`
	Symbol       string `json:"symbol,omitempty"`
	Constituency string `json:"constituency,omitempty"`
}

func (vs *VotingService) CreateElection(ctx context.Context, admin models.Principal, spec ElectionSpec) (*models.Election, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "election name is required")
	}
	if spec.VoteDurationSeconds < 0 {
		return nil, errors.Wrap(models.ErrInvalidArgument, "vote duration must not be negative")
	}

	duration := spec.VoteDurationSeconds
	if duration == 0 {
		duration = int(vs.cfg.DefaultVoteDuration.Seconds())
	}

	now := vs.now()
	election := &models.Election{
		ID:             uuid.New().String(),
		Name:           strings.TrimSpace(spec.Name),
		Description:    spec.Description,
		Status:         models.StatusDraft,
		Constituencies: spec.Constituencies,
		Timeline:       spec.Timeline,
		Settings: models.Settings{
			VoteDurationSeconds: duration,
			AllowRegistration:   !spec.DisableRegistration,
		},
		CreatedBy: admin.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := vs.store.Update(ctx, func(tx *storage.Tx) error {
		if err := tx.PutElection(election); err != nil {
			return err
		}
		return vs.appendAudit(tx, election.ID, models.AuditElectionCreated, admin.ID, map[string]string{
			"name": election.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{"election": election.ID, "name": election.Name}).Info("election created")
	return election, nil
}

func (vs *VotingService) GetElection(ctx context.Context, electionID string) (*models.Election, error) {
	var election *models.Election
	err := vs.store.View(ctx, func(tx *storage.Tx) (err error) {
		election, err = tx.GetElection(electionID)
		return err
	})
	return election, err
}

func (vs *VotingService) ListElections(ctx context.Context) ([]*models.Election, error) {
	var elections []*models.Election
	err := vs.store.View(ctx, func(tx *storage.Tx) (err error) {
		elections, err = tx.ListElections()
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(elections, func(i, j int) bool {
		return elections[i].CreatedAt.Before(elections[j].CreatedAt)
	})
	return elections, nil
}

// TransitionElection moves an election along the status allow-list. The
// results_published status is reached only through PublishResults.
func (vs *VotingService) TransitionElection(ctx context.Context, admin models.Principal, electionID string, to models.ElectionStatus) (*models.Election, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	if to == models.StatusResultsPublished {
		return nil, errors.Wrap(models.ErrInvalidTransition, "results are published by the tally")
	}

	unlock := vs.locks.lock(electionID)
	defer unlock()

	var (
		election *models.Election
		from     models.ElectionStatus
	)
	err := vs.store.Update(ctx, func(tx *storage.Tx) error {
		var err error
		election, err = tx.GetElection(electionID)
		if err != nil {
			return err
		}
		from = election.Status
		if err := election.ApplyTransition(to, vs.now()); err != nil {
			return err
		}
		if err := tx.PutElection(election); err != nil {
			return err
		}
		return vs.appendAudit(tx, election.ID, models.AuditStatusChanged, admin.ID, map[string]string{
			"from": string(from),
			"to":   string(to),
		})
	})
	if err != nil {
		return nil, err
	}

	switch to {
	case models.StatusLive:
		vs.metricsCollector.StartVotingPhase()
	case models.StatusClosed:
		vs.metricsCollector.EndVotingPhase()
		if vs.snapshots != nil {
			if _, err := vs.exportLedger(ctx, electionID); err != nil {
				logger.WithField("election", electionID).WithError(err).Warn("failed to export ledger snapshot on close")
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"election": electionID,
		"from":     from,
		"to":       to,
	}).Info("election status changed")
	return election, nil
}

// DeleteElection removes the election, its candidates and its key material.
// Ballots, ledger leaves, blocks and the audit log are append-only and stay.
func (vs *VotingService) DeleteElection(ctx context.Context, admin models.Principal, electionID string) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}

	unlock := vs.locks.lock(electionID)
	defer unlock()

	err := vs.store.Update(ctx, func(tx *storage.Tx) error {
		election, err := tx.GetElection(electionID)
		if err != nil {
			return err
		}
		if !election.CanDelete() {
			return errors.Wrapf(models.ErrInvalidTransition, "cannot delete a %s election", election.Status)
		}
		if err := tx.DeleteCandidates(electionID); err != nil {
			return err
		}
		if err := tx.DeleteKeys(electionID); err != nil {
			return err
		}
		if err := tx.DeleteElection(electionID); err != nil {
			return err
		}
		return vs.appendAudit(tx, electionID, models.AuditElectionDeleted, admin.ID, map[string]string{
			"name":   election.Name,
			"status": string(election.Status),
		})
	})
	if err != nil {
		return err
	}

	vs.trees.Remove(electionID)
	logger.WithField("election", electionID).Info("election deleted")
	return nil
}

func (vs *VotingService) AddCandidate(ctx context.Context, admin models.Principal, electionID string, spec CandidateSpec) (*models.Candidate, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "candidate name is required")
	}

	var candidate *models.Candidate
	err := vs.store.Update(ctx, func(tx *storage.Tx) error {
		election, err := tx.GetElection(electionID)
		if err != nil {
			return err
		}
		if !election.CanEditCandidates() {
			return errors.Wrapf(models.ErrInvalidTransition, "candidates are frozen once the election is %s", election.Status)
		}
		if !election.HasConstituency(spec.Constituency) {
			return errors.Wrapf(models.ErrInvalidArgument, "unknown constituency %q", spec.Constituency)
		}

		candidate = &models.Candidate{
			ID:           uuid.New().String(),
			ElectionID:   electionID,
			Name:         strings.TrimSpace(spec.Name),
			Party:        spec.Party,
			Symbol:       spec.Symbol,
			Constituency: spec.Constituency,
			CreatedAt:    vs.now(),
		}
		if err := tx.PutCandidate(candidate); err != nil {
			return err
		}
		return vs.appendAudit(tx, electionID, models.AuditCandidateAdded, admin.ID, map[string]string{
			"candidate_id": candidate.ID,
			"name":         candidate.Name,
		})
	})
	if err != nil {
		return nil, err
	}
	return candidate, nil
}

func (vs *VotingService) ListCandidates(ctx context.Context, electionID string) ([]*models.Candidate, error) {
	var candidates []*models.Candidate
	err := vs.store.View(ctx, func(tx *storage.Tx) error {
		if _, err := tx.GetElection(electionID); err != nil {
			return err
		}
		var err error
		candidates, err = tx.ListCandidates(electionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Constituency != candidates[j].Constituency {
			return candidates[i].Constituency < candidates[j].Constituency
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates, nil
}

// RegisterVoter records the identity subsystem's handoff for one election.
// commitment is opaque to the core and is never reversed.
func (vs *VotingService) RegisterVoter(ctx context.Context, electionID, commitment, constituency string) (*models.VoterIdentity, error) {
	if commitment == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "commitment is required")
	}

	var voter *models.VoterIdentity
	err := vs.store.Update(ctx, func(tx *storage.Tx) error {
		election, err := tx.GetElection(electionID)
		if err != nil {
			return err
		}
		switch {
		case election.Status == models.StatusClosed, election.Status == models.StatusResultsPublished:
			return errors.Wrapf(models.ErrRegistrationClosed, "election %s is %s", electionID, election.Status)
		case !election.Settings.AllowRegistration:
			return errors.Wrapf(models.ErrRegistrationClosed, "election %s", electionID)
		}
		if !election.HasConstituency(constituency) {
			return errors.Wrapf(models.ErrInvalidArgument, "unknown constituency %q", constituency)
		}

		now := vs.now()
		voter = &models.VoterIdentity{
			ID:           uuid.New().String(),
			ElectionID:   electionID,
			Commitment:   commitment,
			Constituency: constituency,
			RegisteredAt: now,
			UpdatedAt:    now,
		}
		if err := tx.InsertVoter(voter); err != nil {
			return err
		}

		election.TotalRegistered++
		election.UpdatedAt = now
		return tx.PutElection(election)
	})
	if err != nil {
		return nil, err
	}
	return voter, nil
}

func (vs *VotingService) GetVoter(ctx context.Context, voterID string) (*models.VoterIdentity, error) {
	var voter *models.VoterIdentity
	err := vs.store.View(ctx, func(tx *storage.Tx) (err error) {
		voter, err = tx.GetVoter(voterID)
		return err
	})
	return voter, err
}
