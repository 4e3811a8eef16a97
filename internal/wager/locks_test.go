package wager

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_Exclusive(t *testing.T) {
	km := newKeyedMutex()

	release, ok := km.acquire("m1", time.Second)
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	if _, ok := km.acquire("m1", 10*time.Millisecond); ok {
		t.Fatal("second acquire on held key should time out")
	}

	release()
	release2, ok := km.acquire("m1", time.Second)
	if !ok {
		t.Fatal("acquire after release should succeed")
	}
	release2()
}

func TestKeyedMutex_DisjointKeysDoNotContend(t *testing.T) {
	km := newKeyedMutex()

	r1, ok := km.acquire("m1", time.Second)
	if !ok {
		t.Fatal("acquire m1 failed")
	}
	defer r1()

	r2, ok := km.acquire("m2", 10*time.Millisecond)
	if !ok {
		t.Fatal("holding m1 must not block m2")
	}
	r2()
}

func TestKeyedMutex_ReleaseIdempotent(t *testing.T) {
	km := newKeyedMutex()

	release, _ := km.acquire("m1", time.Second)
	release()
	release() // second call is a no-op

	r, ok := km.acquire("m1", time.Second)
	if !ok {
		t.Fatal("key should be free after release")
	}
	r()
}

func TestKeyedMutex_NoEntryLeak(t *testing.T) {
	km := newKeyedMutex()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, ok := km.acquire("hot", time.Second); ok {
				release()
			}
		}()
	}
	wg.Wait()

	km.mu.Lock()
	defer km.mu.Unlock()
	if len(km.entries) != 0 {
		t.Errorf("expected empty entry map after all releases, got %d", len(km.entries))
	}
}
