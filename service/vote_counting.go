package service

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voting-ledger/encryption"
	"voting-ledger/ledger"
	"voting-ledger/models"
	"voting-ledger/storage"
)

// GeneralConstituency groups candidates that declare no constituency.
const GeneralConstituency = "general"

type VoteCountingService struct {
	cryptoService        *encryption.CryptoService
	anonymizationService *AnonymizationService
}

func NewVoteCountingService(cryptoService *encryption.CryptoService, anonymizationService *AnonymizationService) *VoteCountingService {
	return &VoteCountingService{
		cryptoService:        cryptoService,
		anonymizationService: anonymizationService,
	}
}

// TallyOutcome is the counted, not yet signed, result of an election.
type TallyOutcome struct {
	Constituencies []models.ConstituencyResult
	PartySeats     []models.PartySeats
	WinningParty   string
	PartyTie       bool
	TotalVotes     int
	InvalidBallots int
	CandidateVotes map[string]int
}

// CountVotes decrypts every ballot in shuffled order and tallies it. A
// ballot is counted only if it decrypts under the election key and names this
// election, its leaf hash is on the ledger and recomputes from its
// ciphertext, and it names a known candidate. Anything else is reported as
// invalid, never dropped silently.
func (vcs *VoteCountingService) CountVotes(electionID string, candidates []*models.Candidate, ballots []*models.Ballot, leaves []string, ballotKey []byte) *TallyOutcome {
	onLedger := make(map[string]bool, len(leaves))
	for _, l := range leaves {
		onLedger[l] = true
	}
	known := make(map[string]*models.Candidate, len(candidates))
	for _, c := range candidates {
		known[c.ID] = c
	}

	outcome := &TallyOutcome{CandidateVotes: make(map[string]int, len(candidates))}
	for _, ballot := range vcs.anonymizationService.ShuffleBallots(ballots) {
		b := vcs.anonymizationService.StripBallot(ballot)

		payload, err := vcs.cryptoService.DecryptBallot(ballotKey, electionID, b.Encrypted)
		if err != nil {
			logger.WithField("election", electionID).WithError(err).Warn("ballot failed to decrypt")
			outcome.InvalidBallots++
			continue
		}
		if payload.ElectionID != electionID {
			logger.WithField("election", electionID).Warn("ballot names another election")
			outcome.InvalidBallots++
			continue
		}
		if !onLedger[b.LeafHash] || ledger.LeafHash(b.Encrypted.Data, payload.SessionID) != b.LeafHash {
			logger.WithField("election", electionID).Warn("ballot does not match its ledger leaf")
			outcome.InvalidBallots++
			continue
		}
		if _, ok := known[payload.CandidateID]; !ok {
			logger.WithField("election", electionID).Warn("ballot names an unknown candidate")
			outcome.InvalidBallots++
			continue
		}

		outcome.CandidateVotes[payload.CandidateID]++
		outcome.TotalVotes++
	}

	outcome.Constituencies = tallyConstituencies(candidates, outcome.CandidateVotes)
	outcome.PartySeats, outcome.WinningParty, outcome.PartyTie = tallySeats(outcome.Constituencies, known)
	return outcome
}

func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(whole)) / 100
}

func tallyConstituencies(candidates []*models.Candidate, votes map[string]int) []models.ConstituencyResult {
	grouped := make(map[string][]models.CandidateTally)
	for _, c := range candidates {
		name := c.Constituency
		if name == "" {
			name = GeneralConstituency
		}
		grouped[name] = append(grouped[name], models.CandidateTally{
			CandidateID: c.ID,
			Name:        c.Name,
			Party:       c.Party,
			Votes:       votes[c.ID],
		})
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]models.ConstituencyResult, 0, len(names))
	for _, name := range names {
		tallies := grouped[name]
		sort.Slice(tallies, func(i, j int) bool {
			if tallies[i].Votes != tallies[j].Votes {
				return tallies[i].Votes > tallies[j].Votes
			}
			return tallies[i].Name < tallies[j].Name
		})

		total := 0
		for _, t := range tallies {
			total += t.Votes
		}
		for i := range tallies {
			tallies[i].Percentage = percentage(tallies[i].Votes, total)
		}

		res := models.ConstituencyResult{
			Constituency: name,
			TotalVotes:   total,
			Candidates:   tallies,
		}
		if top := tallies[0].Votes; top > 0 {
			var leaders []string
			for _, t := range tallies {
				if t.Votes == top {
					leaders = append(leaders, t.CandidateID)
				}
			}
			if len(leaders) == 1 {
				res.WinnerID = leaders[0]
			} else {
				res.Tie = true
				res.TiedCandidates = leaders
			}
		}
		results = append(results, res)
	}
	return results
}

func tallySeats(results []models.ConstituencyResult, known map[string]*models.Candidate) ([]models.PartySeats, string, bool) {
	byParty := make(map[string]*models.PartySeats)
	for _, res := range results {
		for _, t := range res.Candidates {
			if t.Party == "" {
				continue
			}
			ps, ok := byParty[t.Party]
			if !ok {
				ps = &models.PartySeats{Party: t.Party}
				byParty[t.Party] = ps
			}
			ps.Votes += t.Votes
		}
		if res.WinnerID == "" {
			continue
		}
		if c := known[res.WinnerID]; c != nil && c.Party != "" {
			byParty[c.Party].Seats++
		}
	}

	seats := make([]models.PartySeats, 0, len(byParty))
	for _, ps := range byParty {
		seats = append(seats, *ps)
	}
	sort.Slice(seats, func(i, j int) bool {
		if seats[i].Seats != seats[j].Seats {
			return seats[i].Seats > seats[j].Seats
		}
		if seats[i].Votes != seats[j].Votes {
			return seats[i].Votes > seats[j].Votes
		}
		return seats[i].Party < seats[j].Party
	})

	if len(seats) == 0 || seats[0].Seats == 0 {
		return seats, "", false
	}
	if len(seats) > 1 && seats[1].Seats == seats[0].Seats {
		return seats, "", true
	}
	return seats, seats[0].Party, false
}

// PublishResults decrypts and tallies a closed election, signs the result and
// stores it. A result is written at most once; later calls fail with
// ErrAlreadyPublished and leave the stored result untouched.
func (vs *VotingService) PublishResults(ctx context.Context, admin models.Principal, electionID, statement string) (*models.Result, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}

	unlock := vs.locks.lock(electionID)
	defer unlock()

	var (
		election   *models.Election
		material   *models.ElectionKeyMaterial
		candidates []*models.Candidate
		ballots    []*models.Ballot
		leaves     []string
		blocks     []models.Block
	)
	err := vs.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		if election, err = tx.GetElection(electionID); err != nil {
			return err
		}
		if _, err := tx.GetResult(electionID); err == nil || election.Status == models.StatusResultsPublished {
			return errors.Wrapf(models.ErrAlreadyPublished, "election %s", electionID)
		}
		if election.Status != models.StatusClosed {
			return errors.Wrapf(models.ErrElectionNotClosed, "election %s is %s", electionID, election.Status)
		}
		if election.Corrupted {
			return errors.Wrapf(models.ErrLedgerCorruption, "election %s is halted", electionID)
		}

		material, err = tx.GetKeys(electionID)
		if errors.Is(err, models.ErrNotFound) {
			return errors.Wrapf(models.ErrDecryptionNotEnabled, "election %s has no keys", electionID)
		} else if err != nil {
			return err
		}
		if material.Status != models.KeyDecryptionEnabled {
			return errors.Wrapf(models.ErrDecryptionNotEnabled, "keys are %s", material.Status)
		}

		if candidates, err = tx.ListCandidates(electionID); err != nil {
			return err
		}
		if ballots, err = tx.ListBallots(electionID); err != nil {
			return err
		}
		if leaves, err = tx.Leaves(electionID); err != nil {
			return err
		}
		blocks, err = tx.Blocks(electionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	vs.metricsCollector.RecordCountingStart()
	defer vs.metricsCollector.RecordCountingEnd()

	// 1. The ledger must be intact before anything is counted
	if _, err := ledger.Audit(electionID, leaves, blocks, election.MerkleRoot, false); err != nil {
		vs.markCorrupted(ctx, electionID, err)
		return nil, err
	}
	if len(ballots) != len(leaves) || election.TotalVotesCast != len(leaves) {
		err := errors.Wrapf(models.ErrLedgerCorruption, "election %s: %d ballots, %d leaves, %d votes recorded",
			electionID, len(ballots), len(leaves), election.TotalVotesCast)
		vs.markCorrupted(ctx, electionID, err)
		return nil, err
	}

	// 2. Decrypt and count
	ballotKey, err := vs.cryptoService.OpenEscrow(electionID, material.Escrowed)
	if err != nil {
		return nil, err
	}
	outcome := vs.countingService.CountVotes(electionID, candidates, ballots, leaves, ballotKey)

	// 3. Sign
	now := vs.now()
	payload := models.ResultPayload{
		ElectionID:        electionID,
		ElectionName:      election.Name,
		Constituencies:    outcome.Constituencies,
		PartySeats:        outcome.PartySeats,
		WinningParty:      outcome.WinningParty,
		PartyTie:          outcome.PartyTie,
		TotalVotes:        outcome.TotalVotes,
		InvalidBallots:    outcome.InvalidBallots,
		TotalRegistered:   election.TotalRegistered,
		TurnoutPercentage: percentage(election.TotalVotesCast, election.TotalRegistered),
		FinalMerkleRoot:   election.MerkleRoot,
		OfficialStatement: strings.TrimSpace(statement),
		PublishedAt:       now,
	}
	signature, err := vs.signResult(admin, &payload)
	if err != nil {
		return nil, err
	}
	result := &models.Result{ResultPayload: payload, Signature: *signature}

	// 4. Store once and close out the election
	err = vs.store.Update(ctx, func(tx *storage.Tx) error {
		current, err := tx.GetElection(electionID)
		if err != nil {
			return err
		}
		if err := tx.InsertResult(result); err != nil {
			return err
		}
		if err := current.ApplyTransition(models.StatusResultsPublished, now); err != nil {
			return err
		}
		if err := tx.PutElection(current); err != nil {
			return err
		}

		for _, c := range candidates {
			c.VoteCount = outcome.CandidateVotes[c.ID]
			if err := tx.PutCandidate(c); err != nil {
				return err
			}
		}
		return vs.appendAudit(tx, electionID, models.AuditResultsPublished, admin.ID, map[string]string{
			"total_votes":       strconv.Itoa(outcome.TotalVotes),
			"final_merkle_root": election.MerkleRoot,
			"payload_hash":      signature.PayloadHash,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"election":    electionID,
		"total_votes": outcome.TotalVotes,
		"invalid":     outcome.InvalidBallots,
		"root":        election.MerkleRoot,
	}).Info("results published")
	return result, nil
}

func (vs *VotingService) signResult(admin models.Principal, payload *models.ResultPayload) (*models.ResultSignature, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode result payload")
	}
	sig, err := vs.cryptoService.Sign(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign result")
	}
	return &models.ResultSignature{
		SignerID:      admin.ID,
		SignerAddress: vs.cryptoService.SignerAddress(),
		PayloadHash:   vs.cryptoService.HashHex(data),
		Signature:     encryption.EncodeSignature(sig),
		SignedAt:      payload.PublishedAt,
	}, nil
}

// VerifyResult checks the stored signature against the result payload.
func (vs *VotingService) VerifyResult(result *models.Result) bool {
	data, err := json.Marshal(&result.ResultPayload)
	if err != nil {
		return false
	}
	sig, err := encryption.DecodeSignature(result.Signature.Signature)
	if err != nil {
		return false
	}
	return vs.cryptoService.VerifySignature(data, sig, result.Signature.SignerAddress)
}

func (vs *VotingService) GetResult(ctx context.Context, electionID string) (*models.Result, error) {
	var result *models.Result
	err := vs.store.View(ctx, func(tx *storage.Tx) (err error) {
		result, err = tx.GetResult(electionID)
		return err
	})
	return result, err
}
