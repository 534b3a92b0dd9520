package sync

import (
	"errors"
	stdsync "sync"
	"testing"
)

func TestConnectionLocks(t *testing.T) {
	locks := newConnectionLocks()

	if err := locks.TryLock("a"); err != nil {
		t.Fatalf("first TryLock failed: %v", err)
	}
	if err := locks.TryLock("a"); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("second TryLock = %v, want ErrSyncInProgress", err)
	}
	if err := locks.TryLock("b"); err != nil {
		t.Errorf("different connection must not be blocked: %v", err)
	}
	if !locks.Busy("a") {
		t.Error("Busy(a) = false while locked")
	}

	locks.Unlock("a")
	if locks.Busy("a") {
		t.Error("Busy(a) = true after unlock")
	}
	if err := locks.TryLock("a"); err != nil {
		t.Errorf("relock after unlock failed: %v", err)
	}
}

func TestConnectionLocksSingleWinner(t *testing.T) {
	locks := newConnectionLocks()

	var wg stdsync.WaitGroup
	var mu stdsync.Mutex
	winners := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := locks.TryLock("conn"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}
