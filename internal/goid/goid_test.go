package goid

import (
	"sync"
	"testing"
)

func TestGet_nonZeroAndStable(t *testing.T) {
	a := Get()
	if a == 0 {
		t.Fatal("expected non-zero goroutine id")
	}
	if b := Get(); a != b {
		t.Fatalf("id changed within one goroutine: %d != %d", a, b)
	}
}

func TestGet_distinctPerGoroutine(t *testing.T) {
	const n = 16
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- Get()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]struct{}, n+1)
	seen[Get()] = struct{}{}
	for id := range ids {
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate goroutine id %d", id)
		}
		seen[id] = struct{}{}
	}
}
