package engine

import (
	"context"
	"sync"
)

// Locker provides mutual exclusion keyed by session ID. A turn holds the
// session's lock for its full read-append-write span; turns on distinct
// sessions proceed in parallel.
type Locker interface {
	// Acquire blocks until the lock for key is held, then returns a release
	// function. The release function must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is the in-process Locker. Entries are reference-counted and
// dropped once no goroutine holds or waits on them, so the map does not
// grow with session churn.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an in-process keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Acquire blocks until the lock for key is held.
func (k *KeyedMutex) Acquire(_ context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyLock{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
	return release, nil
}
