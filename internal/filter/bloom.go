package filter

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// CodeFilter screens short codes that were never issued before the cache-miss
// path touches MySQL. A nil *CodeFilter admits everything.
type CodeFilter struct {
	mu       sync.RWMutex
	filter   *bloom.BloomFilter
	capacity uint
	fpRate   float64
}

// NewCodeFilter sizes the filter for capacity codes at the given false positive rate
func NewCodeFilter(capacity uint, fpRate float64) *CodeFilter {
	return &CodeFilter{
		filter:   bloom.NewWithEstimates(capacity, fpRate),
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// Add records a newly issued short code
func (f *CodeFilter) Add(shortCode string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.AddString(shortCode)
}

// MayExist returns false only when shortCode was definitely never added
func (f *CodeFilter) MayExist(shortCode string) bool {
	if f == nil {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(shortCode)
}

// Rebuild replaces the filter contents with codes. Deleted codes drop out
// this way, which a bloom filter cannot do in place.
func (f *CodeFilter) Rebuild(codes []string) {
	if f == nil {
		return
	}
	n := f.capacity
	if uint(len(codes)) > n {
		n = uint(len(codes))
	}
	fresh := bloom.NewWithEstimates(n, f.fpRate)
	for _, code := range codes {
		fresh.AddString(code)
	}

	f.mu.Lock()
	f.filter = fresh
	f.mu.Unlock()
}
