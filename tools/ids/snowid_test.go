package ids

import (
	"sync"
	"testing"
)

func TestGenerateUnique(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 10000; i++ {
		id := Generate()
		if seen[id] {
			t.Fatalf("duplicate id %d at iteration %d", id, i)
		}
		seen[id] = true
	}
}

func TestGenerateMonotonic(t *testing.T) {
	prev := Generate()
	for i := 0; i < 1000; i++ {
		id := Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestGenerateConcurrent(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 2000

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				local = append(local, Generate())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if seen[id] {
					t.Errorf("duplicate id %d", id)
					return
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()
}

func TestSetNodeNameStable(t *testing.T) {
	SetNodeName("gateway-1")
	a := defaultGen.nodeID
	SetNodeName("gateway-1")
	if defaultGen.nodeID != a {
		t.Fatalf("node id not stable for same name: %d vs %d", a, defaultGen.nodeID)
	}
}
