package models

import (
	"github.com/pkg/errors"
)

// Error taxonomy shared by the service and transport layers. Callers match
// with errors.Is; context is attached with errors.Wrap.
var (
	ErrInvalidTransition    = errors.New("invalid election status transition")
	ErrElectionNotLive      = errors.New("election is not live")
	ErrElectionNotClosed    = errors.New("election is not closed")
	ErrAlreadyVoted         = errors.New("voter has already voted in this election")
	ErrVoterBlocked         = errors.New("voter is blocked from this election")
	ErrSessionAlreadyActive = errors.New("voter already has an active session")
	ErrSessionExpired       = errors.New("voting session expired")
	ErrSessionNotActive     = errors.New("voting session is not active")
	ErrDuplicateVote        = errors.New("duplicate vote")
	ErrDecryptionNotEnabled = errors.New("decryption is not enabled for this election")
	ErrAlreadyPublished     = errors.New("results already published")
	ErrLedgerCorruption     = errors.New("ledger corruption detected")
	ErrNotFound             = errors.New("not found")

	ErrUnauthorized         = errors.New("admin principal required")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidCandidate     = errors.New("invalid candidate")
	ErrAlreadyRegistered    = errors.New("voter already registered for this election")
	ErrRegistrationClosed   = errors.New("registration is closed for this election")
	ErrKeysAlreadyGenerated = errors.New("election keys already generated")
	ErrKeysUnavailable      = errors.New("election keys are not available")
	ErrInvalidKeyState      = errors.New("invalid key status for this operation")
)

// IsFatal reports whether err must halt further ledger appends.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLedgerCorruption)
}

// IsRetryable reports whether the voter can recover by opening a new session.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrSessionNotActive)
}

var reasonCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidTransition, "invalid_transition"},
	{ErrElectionNotLive, "election_not_live"},
	{ErrElectionNotClosed, "election_not_closed"},
	{ErrAlreadyVoted, "already_voted"},
	{ErrVoterBlocked, "voter_blocked"},
	{ErrSessionAlreadyActive, "session_already_active"},
	{ErrSessionExpired, "session_expired"},
	{ErrSessionNotActive, "session_not_active"},
	{ErrDuplicateVote, "duplicate_vote"},
	{ErrDecryptionNotEnabled, "decryption_not_enabled"},
	{ErrAlreadyPublished, "already_published"},
	{ErrLedgerCorruption, "ledger_corruption"},
	{ErrNotFound, "not_found"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrInvalidCandidate, "invalid_candidate"},
	{ErrAlreadyRegistered, "already_registered"},
	{ErrRegistrationClosed, "registration_closed"},
	{ErrKeysAlreadyGenerated, "keys_already_generated"},
	{ErrKeysUnavailable, "keys_unavailable"},
	{ErrInvalidKeyState, "invalid_key_state"},
}

// ReasonCode maps err to a stable machine-readable code. Unknown errors map
// to "internal".
func ReasonCode(err error) string {
	for _, rc := range reasonCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return "internal"
}
