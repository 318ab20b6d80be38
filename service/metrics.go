package service

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// MetricsCollector tracks counts and timings of the core operations
type MetricsCollector struct {
	mu sync.RWMutex

	sessionsStarted *atomic.Int64
	sessionsExpired *atomic.Int64
	violations      *atomic.Int64
	votersBlocked   *atomic.Int64
	rejections      map[string]int64

	votingStartTime time.Time
	votingEndTime   time.Time
	votingCount     int
	votingTotalTime time.Duration

	votingPhaseStarted   bool
	votingPhaseStartTime time.Time
	votingPhaseEndTime   time.Time
	votingPhaseDuration  time.Duration

	countingStartTime      time.Time
	countingEndTime        time.Time
	countingProcessingTime time.Duration
}

// OperationMetrics contains timing information for an operation
type OperationMetrics struct {
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Count          int       `json:"count"`
	ProcessingTime int64     `json:"processing_time_ms"`
}

type SessionMetrics struct {
	Started       int64 `json:"started"`
	Expired       int64 `json:"expired"`
	Violations    int64 `json:"violations"`
	VotersBlocked int64 `json:"voters_blocked"`
}

// MetricsResponse provides the metrics for all operations
type MetricsResponse struct {
	Sessions        SessionMetrics   `json:"sessions"`
	Voting          OperationMetrics `json:"voting"`
	VotingPhaseMs   int64            `json:"voting_phase_ms"`
	Counting        OperationMetrics `json:"counting"`
	RejectedByCause map[string]int64 `json:"rejected_by_cause"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		sessionsStarted: atomic.NewInt64(0),
		sessionsExpired: atomic.NewInt64(0),
		violations:      atomic.NewInt64(0),
		votersBlocked:   atomic.NewInt64(0),
		rejections:      make(map[string]int64),
	}
}

func (mc *MetricsCollector) StartVotingPhase() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.votingPhaseStarted = true
	mc.votingPhaseStartTime = time.Now()
}

func (mc *MetricsCollector) EndVotingPhase() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.votingPhaseStarted {
		mc.votingPhaseEndTime = time.Now()
		mc.votingPhaseDuration = mc.votingPhaseEndTime.Sub(mc.votingPhaseStartTime)
	}
}

func (mc *MetricsCollector) RecordSessionStarted()       { mc.sessionsStarted.Inc() }
func (mc *MetricsCollector) RecordSessionsExpired(n int) { mc.sessionsExpired.Add(int64(n)) }
func (mc *MetricsCollector) RecordViolation()            { mc.violations.Inc() }
func (mc *MetricsCollector) RecordVoterBlocked()         { mc.votersBlocked.Inc() }

// RecordVotingStart marks the first cast attempt
func (mc *MetricsCollector) RecordVotingStart() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.votingStartTime.IsZero() {
		mc.votingStartTime = time.Now()
	}
}

// RecordVotingEnd records one accepted ballot
func (mc *MetricsCollector) RecordVotingEnd(duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.votingEndTime = time.Now()
	mc.votingCount++
	mc.votingTotalTime += duration
}

func (mc *MetricsCollector) RecordVoteRejected(cause string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.rejections[cause]++
}

func (mc *MetricsCollector) RecordCountingStart() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.countingStartTime = time.Now()
}

func (mc *MetricsCollector) RecordCountingEnd() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.countingEndTime = time.Now()
	mc.countingProcessingTime = mc.countingEndTime.Sub(mc.countingStartTime)
}

// GetMetrics returns current metrics for all operations
func (mc *MetricsCollector) GetMetrics() MetricsResponse {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	rejected := make(map[string]int64, len(mc.rejections))
	for k, v := range mc.rejections {
		rejected[k] = v
	}

	return MetricsResponse{
		Sessions: SessionMetrics{
			Started:       mc.sessionsStarted.Load(),
			Expired:       mc.sessionsExpired.Load(),
			Violations:    mc.violations.Load(),
			VotersBlocked: mc.votersBlocked.Load(),
		},
		Voting: OperationMetrics{
			StartTime:      mc.votingStartTime,
			EndTime:        mc.votingEndTime,
			Count:          mc.votingCount,
			ProcessingTime: mc.votingTotalTime.Milliseconds(),
		},
		VotingPhaseMs: mc.votingPhaseDuration.Milliseconds(),
		Counting: OperationMetrics{
			StartTime:      mc.countingStartTime,
			EndTime:        mc.countingEndTime,
			Count:          boolToInt(!mc.countingEndTime.IsZero()),
			ProcessingTime: mc.countingProcessingTime.Milliseconds(),
		},
		RejectedByCause: rejected,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
