package models

import "time"

type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionExpired    SessionStatus = "expired"
	SessionTerminated SessionStatus = "terminated"
)

// Violation kinds reported by the client-side proctoring layer.
const (
	ViolationCameraOff     = "camera_off"
	ViolationMicrophoneOff = "microphone_off"
	ViolationLocationLost  = "location_lost"
	ViolationTabSwitch     = "tab_switch"
)

type MediaFlags struct {
	CameraActive     bool `json:"camera_active"`
	MicrophoneActive bool `json:"microphone_active"`
	LocationActive   bool `json:"location_active"`
}

type Violation struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// VotingSession is a short-lived authorization for one voter to cast one
// ballot in one election.
type VotingSession struct {
	ID         string        `json:"id"`
	VoterID    string        `json:"voter_id"`
	ElectionID string        `json:"election_id"`
	Status     SessionStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	Media      MediaFlags    `json:"media"`
	Violations []Violation   `json:"violations,omitempty"`
	HasVoted   bool          `json:"has_voted"`
	VoteHash   string        `json:"vote_hash,omitempty"`
}

func (s *VotingSession) IsActive() bool {
	return s.Status == SessionActive
}

// PastDeadline reports whether an active session has outlived its window.
func (s *VotingSession) PastDeadline(now time.Time) bool {
	return s.Status == SessionActive && now.After(s.ExpiresAt)
}

// End moves the session into a terminal status. Terminal sessions are never
// reactivated.
func (s *VotingSession) End(status SessionStatus, now time.Time) {
	if !s.IsActive() {
		return
	}
	s.Status = status
	s.EndedAt = &now
}

// RecordViolation appends the violation and clears the matching media flag.
func (s *VotingSession) RecordViolation(kind string, now time.Time) {
	s.Violations = append(s.Violations, Violation{Kind: kind, Timestamp: now})
	switch kind {
	case ViolationCameraOff:
		s.Media.CameraActive = false
	case ViolationMicrophoneOff:
		s.Media.MicrophoneActive = false
	case ViolationLocationLost:
		s.Media.LocationActive = false
	}
}

type ViolationAction string

const (
	ActionWarning ViolationAction = "warning"
	ActionBlocked ViolationAction = "blocked"
)

// ViolationOutcome tells the caller whether the voter may retry.
type ViolationOutcome struct {
	SessionID      string          `json:"session_id"`
	Action         ViolationAction `json:"action"`
	ViolationCount int             `json:"violation_count"`
	Message        string          `json:"message"`
}

func (o *ViolationOutcome) Terminal() bool {
	return o.Action == ActionBlocked
}
