package sync

import stdsync "sync"

// connectionLocks serializes sync runs per connection. Two workers on the
// same connection could otherwise race to create duplicate correlation rows.
type connectionLocks struct {
	mu     stdsync.Mutex
	active map[string]bool
}

func newConnectionLocks() *connectionLocks {
	return &connectionLocks{active: make(map[string]bool)}
}

// TryLock claims the connection. It never blocks: a caller that loses the
// race gets ErrSyncInProgress and reports it to its own caller.
func (l *connectionLocks) TryLock(connectionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[connectionID] {
		return ErrSyncInProgress
	}
	l.active[connectionID] = true
	return nil
}

func (l *connectionLocks) Unlock(connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, connectionID)
}

// Busy reports whether a sync currently holds the connection.
func (l *connectionLocks) Busy(connectionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[connectionID]
}
