package install

import "sync"

// identityLocks serializes mutating operations per plugin identity.
// A second operation on a busy identity is refused immediately rather
// than queued, so callers get an explicit busy signal.
type identityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{locks: make(map[string]*sync.Mutex)}
}

// tryAcquire takes the lock for key without blocking. It returns a
// release function, or false if another operation holds the lock.
func (l *identityLocks) tryAcquire(key string) (func(), bool) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}
