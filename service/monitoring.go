package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voting-ledger/models"
	"voting-ledger/storage"
)

// WarningEntry carries the warning's position on the election, which is the
// handle used to resolve it.
type WarningEntry struct {
	Index int `json:"index"`
	models.Warning
}

// ListWarnings returns the election's warnings, newest first.
func (vs *VotingService) ListWarnings(ctx context.Context, admin models.Principal, electionID string, unresolvedOnly bool) ([]WarningEntry, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	election, err := vs.GetElection(ctx, electionID)
	if err != nil {
		return nil, err
	}

	entries := []WarningEntry{}
	for i, w := range election.Warnings {
		if unresolvedOnly && w.Resolved {
			continue
		}
		entries = append(entries, WarningEntry{Index: i, Warning: w})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}

// AddWarning records an operator warning on the election.
func (vs *VotingService) AddWarning(ctx context.Context, admin models.Principal, electionID, kind, message string) (*WarningEntry, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	kind, message = strings.TrimSpace(kind), strings.TrimSpace(message)
	if kind == "" || message == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "warning type and message are required")
	}

	var entry *WarningEntry
	err := vs.updateWarnings(ctx, electionID, func(tx *storage.Tx, election *models.Election, now time.Time) error {
		election.AddWarning(kind, message, now)
		entry = &WarningEntry{Index: len(election.Warnings) - 1, Warning: election.Warnings[len(election.Warnings)-1]}
		return vs.appendAudit(tx, election.ID, models.AuditWarningAdded, admin.ID, map[string]string{
			"type":    kind,
			"message": message,
		})
	})
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{"election": electionID, "type": kind}).Info("warning added")
	return entry, nil
}

func (vs *VotingService) ResolveWarning(ctx context.Context, admin models.Principal, electionID string, index int) (*WarningEntry, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}

	var entry *WarningEntry
	err := vs.updateWarnings(ctx, electionID, func(tx *storage.Tx, election *models.Election, now time.Time) error {
		if err := election.ResolveWarning(index, admin.ID, now); err != nil {
			return err
		}
		entry = &WarningEntry{Index: index, Warning: election.Warnings[index]}
		return vs.appendAudit(tx, election.ID, models.AuditWarningResolved, admin.ID, map[string]string{
			"index": strconv.Itoa(index),
			"type":  election.Warnings[index].Type,
		})
	})
	return entry, err
}

// updateWarnings applies fn to the election inside one transaction. Published
// elections are frozen.
func (vs *VotingService) updateWarnings(ctx context.Context, electionID string, fn func(tx *storage.Tx, election *models.Election, now time.Time) error) error {
	return vs.store.Update(ctx, func(tx *storage.Tx) error {
		election, err := tx.GetElection(electionID)
		if err != nil {
			return err
		}
		if election.Status == models.StatusResultsPublished {
			return errors.Wrapf(models.ErrAlreadyPublished, "election %s is frozen", election.ID)
		}
		now := vs.now()
		if err := fn(tx, election, now); err != nil {
			return err
		}
		election.UpdatedAt = now
		return tx.PutElection(election)
	})
}

// FlaggedVoters lists voters of the election with at least one violation,
// most violations first.
func (vs *VotingService) FlaggedVoters(ctx context.Context, admin models.Principal, electionID string) ([]*models.VoterIdentity, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}

	flagged := []*models.VoterIdentity{}
	err := vs.store.View(ctx, func(tx *storage.Tx) error {
		if _, err := tx.GetElection(electionID); err != nil {
			return err
		}
		voters, err := tx.ListVoters(electionID)
		if err != nil {
			return err
		}
		for _, v := range voters {
			if v.ViolationCount >= 1 {
				flagged = append(flagged, v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(flagged, func(i, j int) bool {
		if flagged[i].ViolationCount != flagged[j].ViolationCount {
			return flagged[i].ViolationCount > flagged[j].ViolationCount
		}
		return flagged[i].UpdatedAt.After(flagged[j].UpdatedAt)
	})
	return flagged, nil
}

// Timeline returns the election's public milestones. The root milestone is
// dated by the block that committed the current root.
func (vs *VotingService) Timeline(ctx context.Context, electionID string) ([]models.TimelineEvent, error) {
	var (
		election *models.Election
		rootAt   *time.Time
	)
	err := vs.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		if election, err = tx.GetElection(electionID); err != nil {
			return err
		}
		tail, err := tx.LastBlock(electionID)
		if err != nil {
			return err
		}
		if tail != nil {
			at := time.Unix(0, tail.Timestamp).UTC()
			rootAt = &at
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return election.BuildTimeline(rootAt, vs.now()), nil
}
