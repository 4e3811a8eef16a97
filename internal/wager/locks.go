package wager

import (
	"sync"
	"time"
)

// keyedMutex provides an exclusive section per key. Disjoint keys never
// contend, so stakes on unrelated markets and users proceed in parallel.
// Acquisition is bounded: a caller that cannot get the key within the
// timeout backs off instead of queueing behind a hot market.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

func (k *keyedMutex) get(key string) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *keyedMutex) put(key string, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// acquire blocks until the key's exclusive section is free or the timeout
// elapses. On success the returned release function must be called exactly
// once; on timeout it returns false.
func (k *keyedMutex) acquire(key string, timeout time.Duration) (release func(), ok bool) {
	e := k.get(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				k.put(key, e)
			})
		}, true
	case <-timer.C:
		k.put(key, e)
		return nil, false
	}
}
