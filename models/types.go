package models

import "time"

type KeyStatus string

const (
	KeyActive            KeyStatus = "active"
	KeyDecryptionEnabled KeyStatus = "decryption_enabled"
)

// ElectionKeyMaterial holds the escrowed ballot key of one election.
type ElectionKeyMaterial struct {
	ElectionID    string        `json:"election_id"`
	PublicKeyHash string        `json:"public_key_hash"`
	Escrowed      EncryptedBlob `json:"escrowed"`
	Status        KeyStatus     `json:"status"`
	GeneratedBy   string        `json:"generated_by"`
	GeneratedAt   time.Time     `json:"generated_at"`
	EnabledBy     string        `json:"enabled_by,omitempty"`
	EnabledAt     *time.Time    `json:"enabled_at,omitempty"`
}

// KeyInfo is the public part of the key material.
type KeyInfo struct {
	ElectionID    string    `json:"election_id"`
	PublicKeyHash string    `json:"public_key_hash"`
	Status        KeyStatus `json:"status"`
	GeneratedAt   time.Time `json:"generated_at"`
}

func (k *ElectionKeyMaterial) Info() *KeyInfo {
	return &KeyInfo{
		ElectionID:    k.ElectionID,
		PublicKeyHash: k.PublicKeyHash,
		Status:        k.Status,
		GeneratedAt:   k.GeneratedAt,
	}
}

type Candidate struct {
	ID           string    `json:"id"`
	ElectionID   string    `json:"election_id"`
	Name         string    `json:"name"`
	Party        string    `json:"party,omitempty"`
	Symbol       string    `json:"symbol,omitempty"`
	Constituency string    `json:"constituency,omitempty"`
	VoteCount    int       `json:"vote_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type AuditEntry struct {
	ID          string            `json:"id"`
	ElectionID  string            `json:"election_id"`
	Action      string            `json:"action"`
	PerformedBy string            `json:"performed_by"`
	Details     map[string]string `json:"details,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Audit actions.
const (
	AuditElectionCreated   = "election_created"
	AuditElectionDeleted   = "election_deleted"
	AuditStatusChanged     = "status_changed"
	AuditCandidateAdded    = "candidate_added"
	AuditKeysGenerated     = "keys_generated"
	AuditDecryptionEnabled = "decryption_enabled"
	AuditResultsPublished  = "results_published"
	AuditVoterBlocked      = "voter_blocked"
	AuditLedgerCorruption  = "ledger_corruption"
	AuditWarningAdded      = "warning_added"
	AuditWarningResolved   = "warning_resolved"
)
