package service

import (
	"context"

	"github.com/pkg/errors"

	"voting-ledger/models"
	"voting-ledger/storage"
)

// GenerateKeys creates and escrows the ballot key of an election. Keys can be
// generated once, at any point before the election closes.
func (vs *VotingService) GenerateKeys(ctx context.Context, admin models.Principal, electionID string) (*models.KeyInfo, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}

	unlock := vs.locks.lock(electionID)
	defer unlock()

	var info *models.KeyInfo
	err := vs.store.Update(ctx, func(tx *storage.Tx) error {
		election, err := tx.GetElection(electionID)
		if err != nil {
			return err
		}
		switch election.Status {
		case models.StatusDraft, models.StatusScheduled, models.StatusLive:
		default:
			return errors.Wrapf(models.ErrInvalidKeyState, "cannot generate keys for a %s election", election.Status)
		}

		if _, err := tx.GetKeys(electionID); err == nil {
			return errors.Wrapf(models.ErrKeysAlreadyGenerated, "election %s", electionID)
		} else if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		key, publicKeyHash, err := vs.cryptoService.GenerateElectionKey()
		if err != nil {
			return err
		}
		escrowed, err := vs.cryptoService.EscrowKey(electionID, key)
		if err != nil {
			return err
		}

		now := vs.now()
		material := &models.ElectionKeyMaterial{
			ElectionID:    electionID,
			PublicKeyHash: publicKeyHash,
			Escrowed:      escrowed,
			Status:        models.KeyActive,
			GeneratedBy:   admin.ID,
			GeneratedAt:   now,
		}
		if err := tx.PutKeys(material); err != nil {
			return err
		}

		election.PublicKeyHash = publicKeyHash
		election.UpdatedAt = now
		if err := tx.PutElection(election); err != nil {
			return err
		}
		info = material.Info()
		return vs.appendAudit(tx, electionID, models.AuditKeysGenerated, admin.ID, map[string]string{
			"public_key_hash": publicKeyHash,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.WithField("election", electionID).Info("election keys generated")
	return info, nil
}

// EnableDecryption unlocks the escrowed key for the tally. Allowed only once
// the election is closed.
func (vs *VotingService) EnableDecryption(ctx context.Context, admin models.Principal, electionID string) (*models.KeyInfo, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}

	unlock := vs.locks.lock(electionID)
	defer unlock()

	var info *models.KeyInfo
	err := vs.store.Update(ctx, func(tx *storage.Tx) error {
		election, err := tx.GetElection(electionID)
		if err != nil {
			return err
		}
		if election.Status != models.StatusClosed {
			return errors.Wrapf(models.ErrElectionNotClosed, "election %s is %s", electionID, election.Status)
		}

		material, err := tx.GetKeys(electionID)
		if errors.Is(err, models.ErrNotFound) {
			return errors.Wrapf(models.ErrKeysUnavailable, "election %s", electionID)
		} else if err != nil {
			return err
		}
		if material.Status != models.KeyActive {
			return errors.Wrapf(models.ErrInvalidKeyState, "keys are %s", material.Status)
		}

		now := vs.now()
		material.Status = models.KeyDecryptionEnabled
		material.EnabledBy = admin.ID
		material.EnabledAt = &now
		if err := tx.PutKeys(material); err != nil {
			return err
		}
		info = material.Info()
		return vs.appendAudit(tx, electionID, models.AuditDecryptionEnabled, admin.ID, nil)
	})
	if err != nil {
		return nil, err
	}

	logger.WithField("election", electionID).Info("decryption enabled")
	return info, nil
}

func (vs *VotingService) GetKeyInfo(ctx context.Context, electionID string) (*models.KeyInfo, error) {
	var info *models.KeyInfo
	err := vs.store.View(ctx, func(tx *storage.Tx) error {
		material, err := tx.GetKeys(electionID)
		if err != nil {
			return err
		}
		info = material.Info()
		return nil
	})
	return info, err
}
