// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"sync/atomic"

	"github.com/AleutianAI/fuzzyprover/internal/proof"
)

// SharedStats holds the atomic, cross-worker counters for one search. Workers
// never touch these directly in the hot loop; see LocalStats.
type SharedStats struct {
	AttemptedResolutions   uint64
	SuccessfulResolutions  uint64
	SimilarityComparisons  uint64
	MaxResolventWidthSeen  int64
	MaxDepthSeen           int64
	DiscardedProofs        uint64
}

func (s *SharedStats) addAttempted(n uint64)  { atomic.AddUint64(&s.AttemptedResolutions, n) }
func (s *SharedStats) addSuccessful(n uint64)  { atomic.AddUint64(&s.SuccessfulResolutions, n) }
func (s *SharedStats) addComparisons(n uint64) { atomic.AddUint64(&s.SimilarityComparisons, n) }
func (s *SharedStats) addDiscarded(n uint64)   { atomic.AddUint64(&s.DiscardedProofs, n) }

func (s *SharedStats) bumpMaxResolventWidth(w int) { fetchMaxInt64(&s.MaxResolventWidthSeen, int64(w)) }
func (s *SharedStats) bumpMaxDepthSeen(d int)      { fetchMaxInt64(&s.MaxDepthSeen, int64(d)) }

// fetchMaxInt64 atomically raises *addr to v if v is larger, via a
// compare-and-swap retry loop (Go has no native fetch-max atomic).
func fetchMaxInt64(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// Snapshot produces a plain, non-atomic copy suitable for attaching to a
// finished proof.Proof.
func (s *SharedStats) Snapshot() proof.Stats {
	return proof.Stats{
		AttemptedResolutions:  atomic.LoadUint64(&s.AttemptedResolutions),
		SuccessfulResolutions: atomic.LoadUint64(&s.SuccessfulResolutions),
		MaxResolventWidthSeen: int(atomic.LoadInt64(&s.MaxResolventWidthSeen)),
		MaxDepthSeen:          int(atomic.LoadInt64(&s.MaxDepthSeen)),
		DiscardedProofs:       atomic.LoadUint64(&s.DiscardedProofs),
	}
}

// LocalStats is a worker-private delta, updated with plain (non-atomic)
// field increments in the hot expansion loop and periodically merged into
// SharedStats in bulk via flush.
type LocalStats struct {
	AttemptedResolutions  uint64
	SuccessfulResolutions uint64
	SimilarityComparisons uint64
	MaxResolventWidthSeen int
	MaxDepthSeen          int
}

func (l *LocalStats) reset() { *l = LocalStats{} }
