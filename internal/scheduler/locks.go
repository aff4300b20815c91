package scheduler

import "sync"

// KeyedLocker provides per-key mutual exclusion inside one process.
// Dispatch uses it to serialize gate-then-claim sequences that touch the same
// task ID or the same extracted file paths, while unrelated dispatches proceed
// concurrently. It does not protect against other processes; the store's
// compare-and-set claim does that.
type KeyedLocker struct {
	mu    sync.Mutex // Guards the locks map itself
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int // Holders plus waiters; the entry is dropped at zero
}

// NewKeyedLocker creates a new KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{
		locks: make(map[string]*keyedLock),
	}
}

// Lock acquires the mutex for key, creating it on first access.
func (k *KeyedLocker) Lock(key string) {
	k.mu.Lock()
	l, exists := k.locks[key]
	if !exists {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	// Acquire outside the manager lock to avoid contention
	l.mu.Lock()
}

// Unlock releases the mutex for key. Unlocking an unknown key is a no-op.
func (k *KeyedLocker) Unlock(key string) {
	k.mu.Lock()
	l, exists := k.locks[key]
	if !exists {
		k.mu.Unlock()
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.mu.Unlock()
}

// Acquire locks every key and returns a function releasing them.
// Keys are deduplicated and taken in lexicographic order so two callers with
// overlapping key sets cannot deadlock.
func (k *KeyedLocker) Acquire(keys ...string) (release func()) {
	sorted := uniqueSorted(keys)
	for _, key := range sorted {
		k.Lock(key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release in reverse order for symmetry with acquisition
			for i := len(sorted) - 1; i >= 0; i-- {
				k.Unlock(sorted[i])
			}
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (k *KeyedLocker) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// TaskLockKey namespaces a task ID so it never collides with a file path.
func TaskLockKey(taskID string) string { return "task:" + taskID }

// FileLockKey namespaces a file path.
func FileLockKey(path string) string { return "file:" + path }
