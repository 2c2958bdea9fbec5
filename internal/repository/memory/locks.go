package memory

import (
	"context"
	"sync"
	"time"

	"inventory-engine/internal/models"
)

// keyedLocks is a table of exclusive locks created on demand and dropped once
// nobody holds or waits for them.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyLock)}
}

// acquire blocks until the lock for key is held, the timeout elapses or ctx is done.
// Only the timeout is reported as contention.
func (k *keyedLocks) acquire(ctx context.Context, key string, timeout time.Duration) error {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-timer.C:
		k.drop(key, l)
		return models.NewContentionError(key, errLockTimeout)
	case <-ctx.Done():
		k.drop(key, l)
		return ctx.Err()
	}
}

func (k *keyedLocks) release(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	<-l.ch
	k.drop(key, l)
}

func (k *keyedLocks) drop(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
