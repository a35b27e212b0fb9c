// Package keylock serializes work per key while letting distinct keys run in
// parallel. The orchestrator and the reservation sweeper share one KeyLock so
// the synchronous request path, webhook delivery and TTL expiry for the same
// order never interleave.
package keylock

import "sync"

type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KeyLock) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for key and drops it once nobody waits on it.
func (k *KeyLock) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if ok {
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
	}
	k.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}
