package service

import (
	"crypto/rand"
	"math/big"
	"time"

	"voting-ledger/models"
)

// AnonymizationService breaks the link between ledger order and tally order.
type AnonymizationService struct{}

func NewAnonymizationService() *AnonymizationService {
	return &AnonymizationService{}
}

// ShuffleBallots returns a uniformly shuffled copy of ballots.
func (as *AnonymizationService) ShuffleBallots(ballots []*models.Ballot) []*models.Ballot {
	shuffled := make([]*models.Ballot, len(ballots))
	copy(shuffled, ballots)

	for i := len(shuffled) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			// crypto/rand only fails when the OS entropy source is gone
			panic(err)
		}
		shuffled[i], shuffled[j.Int64()] = shuffled[j.Int64()], shuffled[i]
	}
	return shuffled
}

// StripBallot drops the fields that tie a ballot to its cast position before
// it is handed to counting.
func (as *AnonymizationService) StripBallot(b *models.Ballot) *models.Ballot {
	stripped := *b
	stripped.ReceiptID = ""
	stripped.VoteHash = ""
	stripped.VoterNumber = 0
	stripped.LocationTag = ""
	stripped.CastAt = time.Time{}
	return &stripped
}
