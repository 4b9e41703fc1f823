package compute

import "sync/atomic"

// The concurrency token bitset is laid out as uint32 words: word 0 holds
// the count of set bits, the remaining words hold one bit per token. A
// kernel instance claims a token by atomically raising the count, then
// test-and-setting a clear bit; the bit index is its token.

const (
	bitsetWordBytes = 4
	bitsPerWord     = 32
)

// BitsetBufferBound returns the number of uint32 words needed for a token
// bitset addressing capacity concurrent kernel instances: the bit storage
// rounded up to whole words, plus the bookkeeping word holding the count
// of claimed tokens. A zero capacity needs no buffer.
func BitsetBufferBound(capacity uint32) int {
	if capacity == 0 {
		return 0
	}
	return 1 + int((capacity+bitsPerWord-1)/bitsPerWord)
}

// AcquireToken claims a unique token in [0, capacity) from the bitset
// words, returning the token and true, or -1 and false when all tokens
// are taken. The context only owns the buffer's lifetime; this is the
// acquire protocol its consumers run, host-side here and in kernel code
// on device-resident bitsets.
func AcquireToken(words []uint32, capacity uint32) (int, bool) {
	for {
		used := atomic.LoadUint32(&words[0])
		if used >= capacity {
			return -1, false
		}
		if atomic.CompareAndSwapUint32(&words[0], used, used+1) {
			break
		}
	}

	// A slot is guaranteed free now that the count is claimed; rescan on
	// CAS contention until one is won.
	for {
		for i := uint32(0); i < capacity; i++ {
			word := 1 + i/bitsPerWord
			bit := uint32(1) << (i % bitsPerWord)
			old := atomic.LoadUint32(&words[word])
			if old&bit != 0 {
				continue
			}
			if atomic.CompareAndSwapUint32(&words[word], old, old|bit) {
				return int(i), true
			}
		}
	}
}

// ReleaseToken returns a token obtained from AcquireToken to the bitset.
func ReleaseToken(words []uint32, token int) {
	word := 1 + uint32(token)/bitsPerWord
	bit := uint32(1) << (uint32(token) % bitsPerWord)
	for {
		old := atomic.LoadUint32(&words[word])
		if atomic.CompareAndSwapUint32(&words[word], old, old&^bit) {
			break
		}
	}
	atomic.AddUint32(&words[0], ^uint32(0))
}
