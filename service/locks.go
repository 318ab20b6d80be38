package service

import "sync"

// electionLocks serialises writers of one election's ledger. Different
// elections never contend.
type electionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newElectionLocks() *electionLocks {
	return &electionLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *electionLocks) lock(electionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[electionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[electionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
