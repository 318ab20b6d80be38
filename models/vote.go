package models

import "time"

// EncryptedBlob is an AES-GCM ciphertext with its nonce, both hex encoded.
type EncryptedBlob struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// BallotPayload is the plaintext sealed inside a ballot.
type BallotPayload struct {
	CandidateID string `json:"candidate_id"`
	ElectionID  string `json:"election_id"`
	SessionID   string `json:"session_id"`
	Timestamp   int64  `json:"timestamp"`
}

// Ballot is an encrypted vote. It carries no voter identifier; the nullifier
// is the only per-voter value and is unique per election.
type Ballot struct {
	ElectionID  string        `json:"election_id"`
	Nullifier   string        `json:"nullifier"`
	Encrypted   EncryptedBlob `json:"encrypted"`
	LeafHash    string        `json:"leaf_hash"`
	VoteHash    string        `json:"vote_hash"`
	ReceiptID   string        `json:"receipt_id"`
	VoterNumber int           `json:"voter_number"`
	LocationTag string        `json:"location_tag,omitempty"`
	CastAt      time.Time     `json:"cast_at"`
}

// Receipt is what the voter keeps. It never names the chosen candidate.
type Receipt struct {
	ReceiptID    string    `json:"receipt_id"`
	ElectionID   string    `json:"election_id"`
	ElectionName string    `json:"election_name"`
	VoteHash     string    `json:"vote_hash"`
	MerkleRoot   string    `json:"merkle_root"`
	VoterNumber  int       `json:"voter_number"`
	Timestamp    time.Time `json:"timestamp"`
}

type ReceiptVerification struct {
	Receipt
	LeafHash string `json:"leaf_hash"`
	Verified bool   `json:"verified"`
}

type InclusionProof struct {
	ReceiptID string   `json:"receipt_id"`
	LeafHash  string   `json:"leaf_hash"`
	Siblings  []string `json:"siblings"`
	Root      string   `json:"root"`
}
