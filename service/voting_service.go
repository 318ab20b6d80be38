package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voting-ledger/encryption"
	"voting-ledger/ledger"
	"voting-ledger/models"
	"voting-ledger/storage"
)

var logger = logrus.WithField("module", "service")

type Config struct {
	// DefaultVoteDuration applies to elections created without a duration.
	DefaultVoteDuration time.Duration
	TreeCacheSize       int
	SweepBatchSize      int
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// VotingService is the vote-integrity core. All state lives in the store;
// the service itself only holds caches and per-election locks.
type VotingService struct {
	store                *storage.Store
	snapshots            *storage.SnapshotStore
	cryptoService        *encryption.CryptoService
	trees                *ledger.TreeCache
	locks                *electionLocks
	anonymizationService *AnonymizationService
	countingService      *VoteCountingService
	metricsCollector     *MetricsCollector
	cfg                  Config
}

// NewVotingService wires the core. snapshots may be nil, in which case
// ledger exports are disabled.
func NewVotingService(store *storage.Store, cryptoService *encryption.CryptoService, snapshots *storage.SnapshotStore, cfg Config) (*VotingService, error) {
	if cfg.DefaultVoteDuration <= 0 {
		cfg.DefaultVoteDuration = models.DefaultVoteDuration
	}
	if cfg.TreeCacheSize <= 0 {
		cfg.TreeCacheSize = 64
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 256
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	trees, err := ledger.NewTreeCache(cfg.TreeCacheSize)
	if err != nil {
		return nil, err
	}

	anonymizationService := NewAnonymizationService()
	return &VotingService{
		store:                store,
		snapshots:            snapshots,
		cryptoService:        cryptoService,
		trees:                trees,
		locks:                newElectionLocks(),
		anonymizationService: anonymizationService,
		countingService:      NewVoteCountingService(cryptoService, anonymizationService),
		metricsCollector:     NewMetricsCollector(),
		cfg:                  cfg,
	}, nil
}

func (vs *VotingService) now() time.Time {
	return vs.cfg.Now()
}

func (vs *VotingService) Metrics() *MetricsCollector {
	return vs.metricsCollector
}

func requireAdmin(p models.Principal) error {
	if !p.IsAdmin() {
		return models.ErrUnauthorized
	}
	return nil
}

func (vs *VotingService) appendAudit(tx *storage.Tx, electionID, action, by string, details map[string]string) error {
	return tx.AppendAudit(&models.AuditEntry{
		ID:          uuid.New().String(),
		ElectionID:  electionID,
		Action:      action,
		PerformedBy: by,
		Details:     details,
		Timestamp:   vs.now(),
	})
}

// markCorrupted persists the corruption flag so no further ballot is appended
// to the election. The transaction that detected the problem has already been
// rolled back.
func (vs *VotingService) markCorrupted(ctx context.Context, electionID string, cause error) {
	logger.WithField("election", electionID).WithError(cause).Error("ledger corruption detected, halting appends")

	err := vs.store.Update(context.WithoutCancel(ctx), func(tx *storage.Tx) error {
		election, err := tx.GetElection(electionID)
		if err != nil {
			return err
		}
		if election.Corrupted {
			return nil
		}
		election.Corrupted = true
		election.UpdatedAt = vs.now()
		if err := tx.PutElection(election); err != nil {
			return err
		}
		return vs.appendAudit(tx, electionID, models.AuditLedgerCorruption, "system", map[string]string{
			"cause": cause.Error(),
		})
	})
	if err != nil {
		logger.WithField("election", electionID).WithError(err).Error("failed to persist corruption flag")
	}
	vs.trees.Remove(electionID)
}

type CastVoteRequest struct {
	SessionID   string `json:"session_id"`
	VoterID     string `json:"voter_id"`
	CandidateID string `json:"candidate_id"`
	LocationTag string `json:"location_tag,omitempty"`
}

// CastVote records one encrypted ballot. Validation, the ledger append and
// every resulting state change happen in one store transaction while the
// election's lock is held, so concurrent casts in the same election are
// applied one at a time and a failure leaves no partial state.
func (vs *VotingService) CastVote(ctx context.Context, req *CastVoteRequest) (*models.Receipt, error) {
	startTime := time.Now()
	vs.metricsCollector.RecordVotingStart()

	receipt, err := vs.castVote(ctx, req)

	if err != nil {
		vs.metricsCollector.RecordVoteRejected(models.ReasonCode(err))
		return nil, err
	}
	vs.metricsCollector.RecordVotingEnd(time.Since(startTime))
	return receipt, nil
}

func (vs *VotingService) castVote(ctx context.Context, req *CastVoteRequest) (*models.Receipt, error) {
	if req == nil || req.SessionID == "" || req.VoterID == "" || req.CandidateID == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "session_id, voter_id and candidate_id are required")
	}

	var electionID string
	err := vs.store.View(ctx, func(tx *storage.Tx) error {
		sess, err := tx.GetSession(req.SessionID)
		if err != nil {
			return err
		}
		electionID = sess.ElectionID
		return nil
	})
	if err != nil {
		return nil, err
	}

	unlock := vs.locks.lock(electionID)
	defer unlock()

	var (
		receipt *models.Receipt
		expired bool
	)
	err = vs.store.Update(ctx, func(tx *storage.Tx) error {
		now := vs.now()

		// 1. Session must exist, belong to the voter and still be open
		sess, err := tx.GetSession(req.SessionID)
		if err != nil {
			return err
		}
		if sess.VoterID != req.VoterID {
			return errors.Wrapf(models.ErrSessionNotActive, "session %s does not belong to voter", sess.ID)
		}
		voter, err := tx.GetVoter(req.VoterID)
		if err != nil {
			return err
		}
		election, err := tx.GetElection(sess.ElectionID)
		if err != nil {
			return err
		}

		nullifier := vs.cryptoService.Nullifier(voter.Commitment, election.ID)
		if voter.HasVoted || sess.HasVoted {
			if cast, err := tx.HasBallot(election.ID, nullifier); err != nil {
				return err
			} else if cast {
				return errors.Wrapf(models.ErrDuplicateVote, "election %s", election.ID)
			}
		}

		if sess.PastDeadline(now) {
			sess.End(models.SessionExpired, now)
			expired = true
			return tx.PutSession(sess)
		}
		if !sess.IsActive() {
			return errors.Wrapf(models.ErrSessionNotActive, "session %s is %s", sess.ID, sess.Status)
		}

		// 2. Election must be live and its ledger intact
		if !election.IsLive() {
			return errors.Wrapf(models.ErrElectionNotLive, "election %s is %s", election.ID, election.Status)
		}
		if election.Corrupted {
			return errors.Wrapf(models.ErrLedgerCorruption, "election %s is halted", election.ID)
		}
		if voter.Blocked {
			return errors.Wrapf(models.ErrVoterBlocked, "voter %s", voter.ID)
		}

		// 3. Nullifier must be unused
		if cast, err := tx.HasBallot(election.ID, nullifier); err != nil {
			return err
		} else if cast {
			return errors.Wrapf(models.ErrDuplicateVote, "election %s", election.ID)
		}

		candidate, err := tx.GetCandidate(election.ID, req.CandidateID)
		if errors.Is(err, models.ErrNotFound) {
			return errors.Wrapf(models.ErrInvalidCandidate, "candidate %s", req.CandidateID)
		} else if err != nil {
			return err
		}
		if voter.Constituency != "" && candidate.Constituency != "" && voter.Constituency != candidate.Constituency {
			return errors.Wrapf(models.ErrInvalidCandidate, "candidate %s is not on the voter's ballot", candidate.ID)
		}

		keys, err := tx.GetKeys(election.ID)
		if errors.Is(err, models.ErrNotFound) {
			return errors.Wrapf(models.ErrKeysUnavailable, "election %s", election.ID)
		} else if err != nil {
			return err
		}
		if keys.Status != models.KeyActive {
			return errors.Wrapf(models.ErrKeysUnavailable, "keys are %s", keys.Status)
		}
		ballotKey, err := vs.cryptoService.OpenEscrow(election.ID, keys.Escrowed)
		if err != nil {
			return err
		}

		// 4. Encrypt the ballot
		encrypted, err := vs.cryptoService.EncryptBallot(ballotKey, election.ID, &models.BallotPayload{
			CandidateID: candidate.ID,
			ElectionID:  election.ID,
			SessionID:   sess.ID,
			Timestamp:   now.UnixNano(),
		})
		if err != nil {
			return errors.Wrap(err, "failed to encrypt ballot")
		}

		// 5. Leaf hash binds the ciphertext to the session
		leaf := ledger.LeafHash(encrypted.Data, sess.ID)

		// 6. Append to the ledger after checking the stored state
		leaves, err := tx.Leaves(election.ID)
		if err != nil {
			return err
		}
		tail, err := tx.LastBlock(election.ID)
		if err != nil {
			return err
		}
		appended, err := ledger.Append(ledger.State{
			ElectionID: election.ID,
			Leaves:     leaves,
			Root:       election.MerkleRoot,
			Tail:       tail,
		}, leaf, now)
		if err != nil {
			return err
		}

		// 7. Persist ballot, leaf and block
		receiptID := uuid.New().String()
		salt, err := vs.cryptoService.RandomBytes(16)
		if err != nil {
			return err
		}
		voteHash := vs.cryptoService.HashHex(salt, []byte(leaf), []byte(receiptID))

		ballot := &models.Ballot{
			ElectionID:  election.ID,
			Nullifier:   nullifier,
			Encrypted:   encrypted,
			LeafHash:    leaf,
			VoteHash:    voteHash,
			ReceiptID:   receiptID,
			VoterNumber: appended.Position,
			LocationTag: req.LocationTag,
			CastAt:      now,
		}
		if err := tx.InsertBallot(ballot); err != nil {
			return err
		}
		if err := tx.AppendLeaf(election.ID, appended.Position, leaf); err != nil {
			return err
		}
		if err := tx.PutBlock(&appended.Block); err != nil {
			return err
		}

		// 8. Mark session, voter and election
		sess.HasVoted = true
		sess.VoteHash = voteHash
		sess.End(models.SessionCompleted, now)
		if err := tx.PutSession(sess); err != nil {
			return err
		}

		voter.HasVoted = true
		voter.UpdatedAt = now
		if err := tx.PutVoter(voter); err != nil {
			return err
		}

		election.MerkleRoot = appended.Root
		election.LeafCount = appended.Position
		election.LastBlockHash = appended.Block.CurrentHash
		election.BlockCount = int(appended.Block.BlockID)
		election.TotalVotesCast++
		election.UpdatedAt = now
		if err := tx.PutElection(election); err != nil {
			return err
		}

		// 9. Receipt
		receipt = &models.Receipt{
			ReceiptID:    receiptID,
			ElectionID:   election.ID,
			ElectionName: election.Name,
			VoteHash:     voteHash,
			MerkleRoot:   appended.Root,
			VoterNumber:  appended.Position,
			Timestamp:    now,
		}
		return nil
	})
	if err != nil {
		if models.IsFatal(err) {
			vs.markCorrupted(ctx, electionID, err)
		}
		return nil, err
	}
	if expired {
		return nil, errors.Wrapf(models.ErrSessionExpired, "session %s", req.SessionID)
	}

	logger.WithFields(logrus.Fields{
		"election":     receipt.ElectionID,
		"voter_number": receipt.VoterNumber,
		"root":         receipt.MerkleRoot,
	}).Info("ballot appended")
	return receipt, nil
}
