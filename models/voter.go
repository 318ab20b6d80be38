package models

import "time"

// VoterIdentity is the core's view of a registered voter in one election. The
// commitment is produced by the identity subsystem and is never reversed.
type VoterIdentity struct {
	ID             string    `json:"id"`
	ElectionID     string    `json:"election_id"`
	Commitment     string    `json:"commitment"`
	Constituency   string    `json:"constituency,omitempty"`
	HasVoted       bool      `json:"has_voted"`
	Blocked        bool      `json:"blocked"`
	ViolationCount int       `json:"violation_count"`
	RegisteredAt   time.Time `json:"registered_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Principal is the caller identity handed to the core by the transport layer.
type Principal struct {
	ID    string `json:"id"`
	Admin bool   `json:"admin"`
}

func (p Principal) IsAdmin() bool {
	return p.Admin && p.ID != ""
}
