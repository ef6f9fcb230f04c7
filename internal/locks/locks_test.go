package locks

import (
	"sync"
	"testing"
	"time"
)

func TestLock_SerializesSameKey(t *testing.T) {
	r := NewRegistry()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.Lock(7)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestLock_DifferentKeysDoNotBlock(t *testing.T) {
	r := NewRegistry()

	unlock := r.Lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := r.Lock(2)
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on a different key blocked")
	}
}

func TestLock_ReusesMutexPerKey(t *testing.T) {
	r := NewRegistry()
	u := r.Lock(3)
	u()
	u = r.Lock(3)
	u()
	if len(r.locks) != 1 {
		t.Fatalf("registry holds %d mutexes for one key", len(r.locks))
	}
}
