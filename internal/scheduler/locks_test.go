package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestKeyedLocker_SameKeyBlocks verifies that locking the same key blocks concurrent access.
func TestKeyedLocker_SameKeyBlocks(t *testing.T) {
	locker := NewKeyedLocker()
	orderChan := make(chan int, 2)

	// Goroutine A locks the task first
	go func() {
		release := locker.Acquire(TaskLockKey("1"))
		orderChan <- 1
		time.Sleep(50 * time.Millisecond) // Hold the lock briefly
		release()
	}()

	// Give goroutine A time to acquire the lock
	time.Sleep(10 * time.Millisecond)

	// Goroutine B tries to lock the same task - should block
	go func() {
		release := locker.Acquire(TaskLockKey("1"))
		orderChan <- 2
		release()
	}()

	first := <-orderChan
	second := <-orderChan

	if first != 1 || second != 2 {
		t.Errorf("Expected order [1, 2], got [%d, %d]", first, second)
	}
}

// TestKeyedLocker_DifferentKeysConcurrent verifies that distinct keys don't block each other.
func TestKeyedLocker_DifferentKeysConcurrent(t *testing.T) {
	locker := NewKeyedLocker()
	var wg sync.WaitGroup
	var aLocked, bLocked atomic.Bool

	wg.Add(2)

	go func() {
		defer wg.Done()
		release := locker.Acquire(FileLockKey("a.go"))
		aLocked.Store(true)
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	go func() {
		defer wg.Done()
		release := locker.Acquire(FileLockKey("b.go"))
		bLocked.Store(true)
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	// Give both goroutines time to acquire their locks
	time.Sleep(10 * time.Millisecond)

	if !aLocked.Load() || !bLocked.Load() {
		t.Error("Both goroutines should have acquired their locks concurrently")
	}

	wg.Wait()
}

// TestKeyedLocker_AcquireOrdering verifies that Acquire sorts keys and prevents deadlocks.
func TestKeyedLocker_AcquireOrdering(t *testing.T) {
	locker := NewKeyedLocker()
	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()
		release := locker.Acquire(FileLockKey("b.go"), TaskLockKey("7"), FileLockKey("a.go"))
		time.Sleep(10 * time.Millisecond)
		release()
	}()

	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		release := locker.Acquire(FileLockKey("a.go"), FileLockKey("b.go"), TaskLockKey("7"))
		time.Sleep(10 * time.Millisecond)
		release()
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Deadlock detected: Acquire did not prevent deadlock through ordering")
	}
}

// TestKeyedLocker_DuplicateKeys verifies duplicated keys are locked once.
func TestKeyedLocker_DuplicateKeys(t *testing.T) {
	locker := NewKeyedLocker()

	acquired := make(chan struct{})
	go func() {
		release := locker.Acquire(FileLockKey("a.go"), FileLockKey("a.go"))
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Acquire deadlocked on a duplicated key")
	}
}

// TestKeyedLocker_ReleaseDropsEntries verifies released keys don't accumulate.
func TestKeyedLocker_ReleaseDropsEntries(t *testing.T) {
	locker := NewKeyedLocker()

	release := locker.Acquire(TaskLockKey("1"), FileLockKey("src/a.go"))
	if got := locker.Len(); got != 2 {
		t.Fatalf("Expected 2 held keys, got %d", got)
	}

	release()
	release() // Second call is a no-op

	if got := locker.Len(); got != 0 {
		t.Errorf("Expected 0 held keys after release, got %d", got)
	}

	// Unlocking an unknown key should not panic
	locker.Unlock("never-locked")
}

// TestKeyedLocker_EmptyKeys verifies that Acquire handles no keys.
func TestKeyedLocker_EmptyKeys(t *testing.T) {
	locker := NewKeyedLocker()

	release := locker.Acquire()
	release()
}
