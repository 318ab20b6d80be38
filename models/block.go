package models

// Block is one link of an election's hash chain. Each successful vote append
// produces exactly one block.
type Block struct {
	BlockID      uint64 `json:"block_id"`
	ElectionID   string `json:"election_id"`
	PreviousHash string `json:"previous_hash"`
	CurrentHash  string `json:"current_hash"`
	MerkleRoot   string `json:"merkle_root"`
	VoteCount    int    `json:"vote_count"`
	Timestamp    int64  `json:"timestamp"`
}
