// Package util
//
// This file implements SizeStats, a summary of value sizes. Blob storages
// build one per metadata flush to report their payload size and to log the
// typical value size. Sizes are counted in power-of-two buckets, so a
// quantile is exact up to a factor of two.
package util

import (
	"math/bits"
	"sync"
)

// ----------------------------------------------------------------------------
// SizeStats
// ----------------------------------------------------------------------------

// SizeStats counts sizes in power-of-two buckets. Bucket i holds sizes in
// [2^(i-1), 2^i), bucket 0 holds zero.
//
// Thread-safe: all methods are safe for concurrent use
type SizeStats struct {
	mu      sync.RWMutex
	buckets [65]int64
	count   int64
	sum     int64
	max     int
}

// NewSizeStats returns an empty summary
func NewSizeStats() *SizeStats {
	return &SizeStats{}
}

// Add records one size. Negative sizes count as zero.
func (s *SizeStats) Add(size int) {
	if size < 0 {
		size = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets[bits.Len(uint(size))]++
	s.count++
	s.sum += int64(size)
	if size > s.max {
		s.max = size
	}
}

// Count returns the number of recorded sizes
func (s *SizeStats) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Sum returns the total of all recorded sizes
func (s *SizeStats) Sum() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sum
}

// Max returns the largest recorded size
func (s *SizeStats) Max() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.max
}

// Mean returns the average size, zero without samples
func (s *SizeStats) Mean() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return 0
	}
	return int(s.sum / s.count)
}

// Quantile returns the upper bound of the bucket holding the q-quantile
// (0 < q <= 1), capped at the largest size. It returns zero without samples
// or for q outside the range.
func (s *SizeStats) Quantile(q float64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 || q <= 0 || q > 1 {
		return 0
	}
	rank := int64(q * float64(s.count))
	if float64(rank) < q*float64(s.count) {
		rank++
	}

	var seen int64
	for i, n := range s.buckets {
		seen += n
		if seen < rank {
			continue
		}
		if i == 0 {
			return 0
		}
		upper := 1<<i - 1
		if upper > s.max {
			return s.max
		}
		return upper
	}
	return s.max
}
