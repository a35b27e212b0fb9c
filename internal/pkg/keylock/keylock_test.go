package keylock

import (
	"sync"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	kl := New()

	const workers = 8
	const iterations = 200
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				kl.Lock("order-1")
				counter++
				kl.Unlock("order-1")
			}
		}()
	}
	wg.Wait()

	if counter != workers*iterations {
		t.Errorf("expected %d increments, got %d", workers*iterations, counter)
	}
}

func TestLockIndependentKeysDoNotBlock(t *testing.T) {
	kl := New()
	kl.Lock("order-1")
	defer kl.Unlock("order-1")

	acquired := make(chan struct{})
	go func() {
		kl.Lock("order-2")
		kl.Unlock("order-2")
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestLockEntriesAreReclaimed(t *testing.T) {
	kl := New()
	for i := 0; i < 100; i++ {
		kl.Lock("order-1")
		kl.Unlock("order-1")
	}

	kl.mu.Lock()
	size := len(kl.locks)
	kl.mu.Unlock()
	if size != 0 {
		t.Errorf("expected no retained entries, got %d", size)
	}
}
