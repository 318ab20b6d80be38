package models

import "time"

type CandidateTally struct {
	CandidateID string  `json:"candidate_id"`
	Name        string  `json:"name"`
	Party       string  `json:"party,omitempty"`
	Votes       int     `json:"votes"`
	Percentage  float64 `json:"percentage"`
}

// ConstituencyResult lists candidates by descending votes. When the top count
// is shared, Tie is set, TiedCandidates names them and no winner is declared.
type ConstituencyResult struct {
	Constituency   string           `json:"constituency"`
	TotalVotes     int              `json:"total_votes"`
	Candidates     []CandidateTally `json:"candidates"`
	WinnerID       string           `json:"winner_id,omitempty"`
	Tie            bool             `json:"tie"`
	TiedCandidates []string         `json:"tied_candidates,omitempty"`
}

type PartySeats struct {
	Party string `json:"party"`
	Seats int    `json:"seats"`
	Votes int    `json:"votes"`
}

type ResultSignature struct {
	SignerID      string    `json:"signer_id"`
	SignerAddress string    `json:"signer_address"`
	PayloadHash   string    `json:"payload_hash"`
	Signature     string    `json:"signature"`
	SignedAt      time.Time `json:"signed_at"`
}

// ResultPayload is the signed part of a result.
type ResultPayload struct {
	ElectionID        string               `json:"election_id"`
	ElectionName      string               `json:"election_name"`
	Constituencies    []ConstituencyResult `json:"constituencies"`
	PartySeats        []PartySeats         `json:"party_seats"`
	WinningParty      string               `json:"winning_party,omitempty"`
	PartyTie          bool                 `json:"party_tie"`
	TotalVotes        int                  `json:"total_votes"`
	InvalidBallots    int                  `json:"invalid_ballots"`
	TotalRegistered   int                  `json:"total_registered"`
	TurnoutPercentage float64              `json:"turnout_percentage"`
	FinalMerkleRoot   string               `json:"final_merkle_root"`
	OfficialStatement string               `json:"official_statement,omitempty"`
	PublishedAt       time.Time            `json:"published_at"`
}

// Result is written exactly once per election.
type Result struct {
	ResultPayload
	Signature ResultSignature `json:"signature"`
}

type ElectionStats struct {
	ElectionID        string         `json:"election_id"`
	Status            ElectionStatus `json:"status"`
	TotalRegistered   int            `json:"total_registered"`
	TotalVotesCast    int            `json:"total_votes_cast"`
	TurnoutPercentage float64        `json:"turnout_percentage"`
	MerkleRoot        string         `json:"merkle_root"`
	LeafCount         int            `json:"leaf_count"`
	BlockCount        int            `json:"block_count"`
	Corrupted         bool           `json:"corrupted"`
}
