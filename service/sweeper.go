package service

import (
	"context"
	"sync"
	"time"
)

// SessionSweeper expires overdue sessions in the background so abandoned
// sessions do not wait for their next access.
type SessionSweeper struct {
	votingService *VotingService
	interval      time.Duration
	processingWg  sync.WaitGroup
	shutdownCh    chan struct{}
	once          sync.Once
}

func NewSessionSweeper(votingService *VotingService, interval time.Duration) *SessionSweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &SessionSweeper{
		votingService: votingService,
		interval:      interval,
		shutdownCh:    make(chan struct{}),
	}
}

func (ss *SessionSweeper) Start() {
	ss.processingWg.Add(1)
	go ss.sweepWorker()
}

// Stop waits for the worker to finish its current pass.
func (ss *SessionSweeper) Stop() {
	ss.once.Do(func() { close(ss.shutdownCh) })
	ss.processingWg.Wait()
}

func (ss *SessionSweeper) sweepWorker() {
	defer ss.processingWg.Done()

	ticker := time.NewTicker(ss.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ss.shutdownCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ss.interval)
			n, err := ss.votingService.ExpireSessions(ctx)
			cancel()
			if err != nil {
				logger.WithError(err).Warn("session sweep failed")
			} else if n > 0 {
				logger.WithField("expired", n).Debug("session sweep")
			}
		}
	}
}
