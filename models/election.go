package models

import (
	"time"

	"github.com/pkg/errors"
)

type ElectionStatus string

const (
	StatusDraft            ElectionStatus = "draft"
	StatusScheduled        ElectionStatus = "scheduled"
	StatusLive             ElectionStatus = "live"
	StatusClosed           ElectionStatus = "closed"
	StatusResultsPublished ElectionStatus = "results_published"
)

// DefaultVoteDuration is the session window when an election does not set one.
const DefaultVoteDuration = 60 * time.Second

// WarningVoterBlocked is recorded on an election when a voter is blocked.
const WarningVoterBlocked = "voter_blocked"

var allowedTransitions = map[ElectionStatus][]ElectionStatus{
	StatusDraft:     {StatusScheduled},
	StatusScheduled: {StatusLive, StatusDraft},
	StatusLive:      {StatusClosed},
	StatusClosed:    {StatusResultsPublished},
}

type Timeline struct {
	RegistrationStart *time.Time `json:"registration_start,omitempty"`
	RegistrationEnd   *time.Time `json:"registration_end,omitempty"`
	VotingStart       *time.Time `json:"voting_start,omitempty"`
	VotingEnd         *time.Time `json:"voting_end,omitempty"`
	ResultDate        *time.Time `json:"result_date,omitempty"`
}

type Settings struct {
	VoteDurationSeconds int  `json:"vote_duration_seconds"`
	AllowRegistration   bool `json:"allow_registration"`
	VotingStarted       bool `json:"voting_started"`
	IsActive            bool `json:"is_active"`
}

type Warning struct {
	Type       string     `json:"type"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Timeline event states relative to the time the timeline is built.
const (
	EventCompleted = "completed"
	EventActive    = "active"
	EventUpcoming  = "upcoming"
)

type TimelineEvent struct {
	Event  string    `json:"event"`
	Date   time.Time `json:"date"`
	Status string    `json:"status"`
}

// Election is the root aggregate. Ledger fields are owned by the append path
// and never edited directly by admin operations.
type Election struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Status         ElectionStatus `json:"status"`
	Constituencies []string       `json:"constituencies,omitempty"`
	Timeline       Timeline       `json:"timeline"`
	Settings       Settings       `json:"settings"`
	Warnings       []Warning      `json:"warnings,omitempty"`

	MerkleRoot    string `json:"merkle_root"`
	LeafCount     int    `json:"leaf_count"`
	LastBlockHash string `json:"last_block_hash"`
	BlockCount    int    `json:"block_count"`
	Corrupted     bool   `json:"corrupted"`

	TotalRegistered int    `json:"total_registered"`
	TotalVotesCast  int    `json:"total_votes_cast"`
	PublicKeyHash   string `json:"public_key_hash,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransition reports whether from -> to is on the allow-list.
func CanTransition(from, to ElectionStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ApplyTransition moves the election to status and applies the side effects
// bound to the target state.
func (e *Election) ApplyTransition(to ElectionStatus, now time.Time) error {
	if !CanTransition(e.Status, to) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", e.Status, to)
	}

	switch to {
	case StatusLive:
		e.Settings.VotingStarted = true
		e.Settings.IsActive = true
		if e.Timeline.VotingStart == nil {
			e.Timeline.VotingStart = timePtr(now)
		}
	case StatusClosed:
		e.Settings.IsActive = false
		e.Settings.VotingStarted = false
		e.Settings.AllowRegistration = false
		if e.Timeline.VotingEnd == nil {
			e.Timeline.VotingEnd = timePtr(now)
		}
	case StatusResultsPublished:
		e.Timeline.ResultDate = timePtr(now)
	}

	e.Status = to
	e.UpdatedAt = now
	return nil
}

// CanDelete reports whether the election may be removed in its current status.
func (e *Election) CanDelete() bool {
	switch e.Status {
	case StatusDraft, StatusScheduled, StatusClosed:
		return true
	}
	return false
}

// CanEditCandidates reports whether the candidate list is still open.
func (e *Election) CanEditCandidates() bool {
	return e.Status == StatusDraft || e.Status == StatusScheduled
}

func (e *Election) IsLive() bool {
	return e.Status == StatusLive
}

func (e *Election) VoteDuration() time.Duration {
	if e.Settings.VoteDurationSeconds <= 0 {
		return DefaultVoteDuration
	}
	return time.Duration(e.Settings.VoteDurationSeconds) * time.Second
}

// HasConstituency reports whether c is declared on the election. Elections
// without a declared list accept any constituency.
func (e *Election) HasConstituency(c string) bool {
	if len(e.Constituencies) == 0 {
		return true
	}
	for _, known := range e.Constituencies {
		if known == c {
			return true
		}
	}
	return false
}

func (e *Election) AddWarning(kind, message string, now time.Time) {
	e.Warnings = append(e.Warnings, Warning{
		Type:      kind,
		Message:   message,
		Timestamp: now,
	})
}

// ResolveWarning marks the warning at index as resolved. Resolving twice
// keeps the first resolution.
func (e *Election) ResolveWarning(index int, by string, now time.Time) error {
	if index < 0 || index >= len(e.Warnings) {
		return errors.Wrapf(ErrNotFound, "warning %d on election %s", index, e.ID)
	}
	w := &e.Warnings[index]
	if w.Resolved {
		return nil
	}
	w.Resolved = true
	w.ResolvedBy = by
	w.ResolvedAt = timePtr(now)
	return nil
}

// BuildTimeline lists the election's milestones in order. rootAt is when the
// current Merkle root was committed, nil when nothing has been cast.
func (e *Election) BuildTimeline(rootAt *time.Time, now time.Time) []TimelineEvent {
	events := []TimelineEvent{}
	add := func(name string, at *time.Time, pending string) {
		if at == nil {
			return
		}
		status := EventCompleted
		if at.After(now) {
			status = pending
		}
		events = append(events, TimelineEvent{Event: name, Date: *at, Status: status})
	}

	t := e.Timeline
	add("Registration Started", t.RegistrationStart, EventUpcoming)
	add("Registration Ended", t.RegistrationEnd, EventUpcoming)
	add("Polling Started", t.VotingStart, EventUpcoming)
	add("Polling Ended", t.VotingEnd, EventActive)
	if e.MerkleRoot != "" {
		add("Merkle Root Published", rootAt, EventCompleted)
	}
	if e.Status == StatusResultsPublished {
		at := t.ResultDate
		if at == nil {
			at = &e.UpdatedAt
		}
		add("Results Announced", at, EventCompleted)
	}
	return events
}

func timePtr(t time.Time) *time.Time {
	return &t
}
