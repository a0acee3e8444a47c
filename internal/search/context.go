// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search implements the parallel best-first resolution search: the
// shared proof context (ranked leaf-proof list, seen-resolvent dedup index,
// dynamic similarity floor, statistics) and the work-stealing batch driver
// that expands search nodes against the knowledge base.
package search

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/fuzzyprover/internal/proof"
	"github.com/AleutianAI/fuzzyprover/internal/similarity"
	"github.com/AleutianAI/fuzzyprover/internal/term"
)

// leafEntry pairs a completed refutation step with the original goal clause
// it refutes (distinct from step.Source/step.Target, which are the most
// recent resolution's parents, not the search root).
type leafEntry struct {
	step *proof.Step
	goal *term.Clause
}

// seenEntry records the best (shallowest, most-similar) path reaching a given
// resolvent hash so far.
type seenEntry struct {
	depth      int
	similarity float64
}

// SharedContext holds the mutable state every worker reads and writes during
// one ProveAllWithStats call: the ranked leaf-proof list, the seen-resolvent
// dedup index, the similarity comparator/cache, and the dynamic admission
// threshold.
//
// # Thread Safety
//
// Safe for concurrent use by multiple workers.
type SharedContext struct {
	cfg         Config
	comparator  similarity.Comparator
	cache       *similarity.Cache
	maxProofs   int
	findHighest bool

	thresholdBits uint64

	mu     sync.Mutex
	leaves []leafEntry

	seen sync.Map // uint64 -> seenEntry

	stats SharedStats
}

func newSharedContext(cfg Config, comparator similarity.Comparator, cache *similarity.Cache, maxProofs int, findHighest bool) *SharedContext {
	sc := &SharedContext{
		cfg:         cfg,
		comparator:  comparator,
		cache:       cache,
		maxProofs:   maxProofs,
		findHighest: findHighest,
	}
	atomic.StoreUint64(&sc.thresholdBits, math.Float64bits(cfg.MinSimilarityThreshold))
	return sc
}

// Threshold returns the current minimum-similarity admission floor.
func (s *SharedContext) Threshold() float64 {
	return math.Float64frombits(atomic.LoadUint64(&s.thresholdBits))
}

// compare invokes the shared cache if one is configured, otherwise the raw
// comparator directly.
func (s *SharedContext) compare(a, b term.Symbol) (float64, error) {
	if s.cache != nil {
		return s.cache.Get(a, b)
	}
	return s.comparator.Compare(a, b)
}

// LeafCount reports how many leaf proofs are currently recorded.
func (s *SharedContext) LeafCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leaves)
}

// Leaves returns a snapshot of the recorded leaf proofs, sorted descending by
// running similarity with depth as the tiebreaker.
func (s *SharedContext) Leaves() []leafEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]leafEntry, len(s.leaves))
	copy(out, s.leaves)
	return out
}

// RecordLeafProof appends a newly found refutation, re-sorts the ranked
// list, and — if maxProofs is set and the list overflowed — drops the tail,
// counts the drop, and raises the similarity floor to the new tail's running
// similarity so no worse candidate can be admitted from here on.
func (s *SharedContext) RecordLeafProof(step *proof.Step, goal *term.Clause) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leaves = append(s.leaves, leafEntry{step: step, goal: goal})
	sort.Slice(s.leaves, func(i, j int) bool {
		if s.leaves[i].step.RunningSimilarity != s.leaves[j].step.RunningSimilarity {
			return s.leaves[i].step.RunningSimilarity > s.leaves[j].step.RunningSimilarity
		}
		return s.leaves[i].step.Depth < s.leaves[j].step.Depth
	})

	if s.maxProofs > 0 && len(s.leaves) > s.maxProofs {
		dropped := s.leaves[s.maxProofs:]
		s.leaves = s.leaves[:s.maxProofs]
		s.stats.addDiscarded(uint64(len(dropped)))
		newFloor := s.leaves[len(s.leaves)-1].step.RunningSimilarity
		atomic.StoreUint64(&s.thresholdBits, math.Float64bits(newFloor))
	}
}

// CheckResolvent implements the seen-resolvent dedup index: a resolvent
// already reached at a depth no greater and a similarity no worse dominates
// this path, which is rejected. Concurrent callers may race past each other;
// the only preserved invariant is that at least one sufficiently-good entry
// is eventually stored — spurious duplicate expansion is acceptable.
func (s *SharedContext) CheckResolvent(step *proof.Step) bool {
	if !s.cfg.SkipSeenResolvents {
		return true
	}
	hash := step.Resolvent.Hash()
	if prevAny, ok := s.seen.Load(hash); ok {
		prev := prevAny.(seenEntry)
		if prev.depth <= step.Depth && prev.similarity >= step.RunningSimilarity {
			return false
		}
	}
	s.seen.Store(hash, seenEntry{depth: step.Depth, similarity: step.RunningSimilarity})
	return true
}

// LocalContext wraps a SharedContext with a per-worker fallthrough
// similarity cache (consulted before the shared one, reducing shared-lock
// traffic) and a non-atomic stats delta flushed into the shared atomic
// counters in bulk. It implements unify.SimilarityContext.
type LocalContext struct {
	shared     *SharedContext
	localCache map[uint64]float64
	local      LocalStats
}

func newLocalContext(shared *SharedContext) *LocalContext {
	return &LocalContext{shared: shared, localCache: make(map[uint64]float64)}
}

// Threshold implements unify.SimilarityContext.
func (l *LocalContext) Threshold() float64 { return l.shared.Threshold() }

// CalcSimilarity implements unify.SimilarityContext, consulting the
// per-worker cache before falling through to the shared cache/comparator.
func (l *LocalContext) CalcSimilarity(a, b term.Symbol) (float64, error) {
	if !l.shared.cfg.CacheSimilarity {
		return l.shared.compare(a, b)
	}
	key := a.Hash() ^ b.Hash()
	if v, ok := l.localCache[key]; ok {
		return v, nil
	}
	v, err := l.shared.compare(a, b)
	if err != nil {
		return 0, err
	}
	l.localCache[key] = v
	return v, nil
}

// CountSimilarityComparison implements unify.SimilarityContext.
func (l *LocalContext) CountSimilarityComparison() { l.local.SimilarityComparisons++ }

// flush merges this worker's local stats delta into the shared atomic
// counters and resets the delta.
func (l *LocalContext) flush() {
	l.shared.stats.addComparisons(l.local.SimilarityComparisons)
	l.shared.stats.addAttempted(l.local.AttemptedResolutions)
	l.shared.stats.addSuccessful(l.local.SuccessfulResolutions)
	if l.local.MaxResolventWidthSeen > 0 {
		l.shared.stats.bumpMaxResolventWidth(l.local.MaxResolventWidthSeen)
	}
	if l.local.MaxDepthSeen > 0 {
		l.shared.stats.bumpMaxDepthSeen(l.local.MaxDepthSeen)
	}
	l.local.reset()
}
