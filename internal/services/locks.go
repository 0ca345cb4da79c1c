package services

import "sync"

// sessionLocks serializes work units of one session so sequence numbers stay
// contiguous (single writer per session). Work on different sessions runs in
// parallel. Entries are tiny and reused, so they are not evicted.
type sessionLocks struct {
	mu sync.Map // session id -> *sync.Mutex
}

func (l *sessionLocks) Lock(sessionID string) (unlock func()) {
	v, _ := l.mu.LoadOrStore(sessionID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
