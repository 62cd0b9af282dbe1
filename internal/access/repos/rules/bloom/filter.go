package bloom

import (
	"sync"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/gracegate/internal/access/repos/rules"
)

// filter wraps a bits-and-blooms filter. Add is serialized; MightContain
// takes the read lock so lookups can run alongside each other.
type filter struct {
	mu sync.RWMutex
	bf *bitsbloom.BloomFilter
}

func (f *filter) Add(key []byte) {
	f.mu.Lock()
	f.bf.Add(key)
	f.mu.Unlock()
}

func (f *filter) MightContain(key []byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bf.Test(key)
}

type factory struct{}

// NewFactory returns a BloomFactory backed by bits-and-blooms estimates.
func NewFactory() rules.BloomFactory { return factory{} }

// New sizes a filter for capacity keys. Out-of-range rates fall back to 1%.
func (factory) New(capacity uint64, fpRate float64) rules.BloomFilter {
	if capacity == 0 {
		capacity = 1
	}
	if !(fpRate > 0 && fpRate < 1) {
		fpRate = 0.01
	}
	return &filter{bf: bitsbloom.NewWithEstimates(uint(capacity), fpRate)}
}
