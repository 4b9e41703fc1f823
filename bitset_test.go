package compute

import (
	"sync"
	"testing"
)

func TestBitsetBufferBound(t *testing.T) {
	tests := []struct {
		capacity uint32
		want     int
	}{
		{0, 0},
		{1, 2},      // header word + one bit word
		{32, 2},     // exactly one bit word
		{33, 3},     // spills into a second bit word
		{1024, 33},  // 32 bit words + header
		{1025, 34},
	}
	for _, tt := range tests {
		if got := BitsetBufferBound(tt.capacity); got != tt.want {
			t.Errorf("BitsetBufferBound(%d) = %d, want %d", tt.capacity, got, tt.want)
		}
	}
}

func TestAcquireReleaseToken(t *testing.T) {
	const capacity = 48
	words := make([]uint32, BitsetBufferBound(capacity))

	seen := make(map[int]bool)
	for i := 0; i < capacity; i++ {
		tok, ok := AcquireToken(words, capacity)
		if !ok {
			t.Fatalf("AcquireToken failed at %d of %d", i, capacity)
		}
		if tok < 0 || tok >= capacity {
			t.Fatalf("token %d out of range [0, %d)", tok, capacity)
		}
		if seen[tok] {
			t.Fatalf("token %d handed out twice", tok)
		}
		seen[tok] = true
	}

	if tok, ok := AcquireToken(words, capacity); ok {
		t.Errorf("AcquireToken succeeded at full capacity, got token %d", tok)
	}

	ReleaseToken(words, 17)
	tok, ok := AcquireToken(words, capacity)
	if !ok || tok != 17 {
		t.Errorf("reacquire after release = %d, %v; want 17, true", tok, ok)
	}
}

func TestAcquireTokenConcurrent(t *testing.T) {
	const capacity = 64
	const goroutines = 16
	const rounds = 200

	words := make([]uint32, BitsetBufferBound(capacity))
	var inUse [capacity]sync.Mutex

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				tok, ok := AcquireToken(words, capacity)
				if !ok {
					continue
				}
				// A unique token means nobody else holds this lock.
				if !inUse[tok].TryLock() {
					t.Errorf("token %d held by two goroutines", tok)
					return
				}
				inUse[tok].Unlock()
				ReleaseToken(words, tok)
			}
		}()
	}
	wg.Wait()

	if used := words[0]; used != 0 {
		t.Errorf("claimed-token count = %d after all releases, want 0", used)
	}
}
