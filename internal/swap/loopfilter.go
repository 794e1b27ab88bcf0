package swap

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// LoopFilter remembers the commitments this node has sent out recently, so a
// request that comes back around the ring to its originator can be refused.
// It keeps two generations; Rotate drops the older one, so an entry lives
// between one and two rotation periods.
type LoopFilter struct {
	mu       sync.Mutex
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	started  time.Time
	n        uint
	fp       float64
	now      func() time.Time
}

// NewLoopFilter sizes each generation for n entries at false-positive rate fp.
func NewLoopFilter(n uint, fp float64) *LoopFilter {
	return &LoopFilter{
		current:  bloom.NewWithEstimates(n, fp),
		previous: bloom.NewWithEstimates(n, fp),
		started:  time.Now(),
		n:        n,
		fp:       fp,
		now:      time.Now,
	}
}

// Add records a commitment.
func (f *LoopFilter) Add(commitment []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current.Add(commitment)
}

// Test reports whether the commitment was probably added in the last two
// generations.
func (f *LoopFilter) Test(commitment []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Test(commitment) || f.previous.Test(commitment)
}

// Rotate starts a new generation.
func (f *LoopFilter) Rotate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotate()
}

// RotateAfter starts a new generation once the current one is at least
// period old, so every entry is kept for at least period.
func (f *LoopFilter) RotateAfter(period time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.now().Sub(f.started) < period {
		return false
	}
	f.rotate()
	return true
}

func (f *LoopFilter) rotate() {
	f.previous = f.current
	f.current = bloom.NewWithEstimates(f.n, f.fp)
	f.started = f.now()
}
