// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fuzzyprover is the public facade over the fuzzy first-order
// resolution theorem prover: a Prover value owns a knowledge base and an
// optional cross-search similarity cache, and answers refutation queries via
// ProveAllWithStats.
//
// Resolution here is input resolution: each expansion unifies only the
// goal-clause's first literal (the deterministic minimum under clause
// ordering) against opposite-polarity literals of the knowledge base. This
// keeps the search deterministic for a single worker but is less general
// than full resolution; see the search package for details.
package fuzzyprover

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/fuzzyprover/internal/proof"
	"github.com/AleutianAI/fuzzyprover/internal/search"
	"github.com/AleutianAI/fuzzyprover/internal/similarity"
	"github.com/AleutianAI/fuzzyprover/internal/term"
)

// Config carries every tunable a Prover recognizes. The zero value is not
// usable; see New for validation and defaulting rules.
type Config struct {
	// MaxProofDepth caps the ancestor chain length for non-root expansions.
	// Required, must be positive.
	MaxProofDepth int
	// MaxResolventWidth, if non-nil, skips resolutions whose resolvent size
	// would exceed it.
	MaxResolventWidth *int
	// MaxResolutionAttempts, if non-nil, globally cuts off attempted
	// resolutions across one search.
	MaxResolutionAttempts *int
	// SimilarityFn compares two symbols; nil selects name-equality, which
	// degrades the prover to classical resolution.
	SimilarityFn similarity.Comparator
	// MinSimilarityThreshold is the initial admission floor, in [0,1). It
	// only rises over the course of a search.
	MinSimilarityThreshold float64
	// CacheSimilarity enables the commutative similarity cache, which lives
	// on the Prover and persists across ProveAllWithStats calls until
	// PurgeSimilarityCache or Reset.
	CacheSimilarity bool
	// SkipSeenResolvents enables the per-search seen-resolvent dedup index.
	SkipSeenResolvents bool
	// FindHighestSimilarityProofs, if false, stops expansion once maxProofs
	// leaf proofs have first been recorded; if true, keeps searching and
	// replacing worse proofs with better ones.
	FindHighestSimilarityProofs bool
	// BaseKnowledge is the initial clause set; ExtendKnowledge adds more.
	BaseKnowledge []*term.Clause
	// NumWorkers is the worker-pool size; non-positive selects the CPU count.
	NumWorkers int
	// EvalBatchSize bounds how many pending expansions a worker accumulates
	// before handing a chunk to the pool; non-positive selects a default.
	EvalBatchSize int
	// CacheStore, if non-nil together with CacheCorpusHash, persists the
	// similarity cache between processes. Ignored unless CacheSimilarity.
	CacheStore similarity.Store
	// CacheCorpusHash identifies the knowledge corpus + comparator version
	// the persisted cache is valid for; see similarity.ComputeCorpusHash.
	CacheCorpusHash string
	// Logger receives structured search logs; nil selects slog.Default().
	Logger *slog.Logger
}

// Prover owns a mutable knowledge base and an optional similarity cache, and
// runs bounded refutation searches over them.
//
// # Thread Safety
//
// All methods are safe for concurrent use. ProveAllWithStats calls may run
// concurrently with each other; ExtendKnowledge and Reset serialize against
// them only long enough to snapshot or swap the knowledge slice.
type Prover struct {
	cfg        Config
	comparator similarity.Comparator
	logger     *slog.Logger

	mu        sync.RWMutex
	knowledge []*term.Clause
	cache     *similarity.Cache
}

// New validates cfg and builds a Prover. The similarity cache, when enabled,
// is created immediately (and warmed from cfg.CacheStore when configured) so
// the first search already benefits from any persisted comparator results.
func New(cfg Config) (*Prover, error) {
	if cfg.MaxProofDepth <= 0 {
		return nil, fmt.Errorf("fuzzyprover: MaxProofDepth must be positive, got %d", cfg.MaxProofDepth)
	}
	if cfg.MinSimilarityThreshold < 0 || cfg.MinSimilarityThreshold >= 1 {
		return nil, fmt.Errorf("fuzzyprover: MinSimilarityThreshold must be in [0,1), got %g", cfg.MinSimilarityThreshold)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	comparator := cfg.SimilarityFn
	if comparator == nil {
		comparator = similarity.EqualityComparator{}
	}

	p := &Prover{
		cfg:        cfg,
		comparator: comparator,
		logger:     logger,
		knowledge:  append([]*term.Clause(nil), cfg.BaseKnowledge...),
	}
	if cfg.CacheSimilarity {
		p.cache = similarity.NewCache(comparator, cfg.CacheStore, cfg.CacheCorpusHash, logger)
		if err := p.cache.Warm(context.Background()); err != nil {
			// A cold cache is a performance problem, not a correctness one.
			logger.Warn("similarity cache warm-up failed, continuing cold",
				slog.String("error", err.Error()))
		}
	}
	return p, nil
}

// ExtendKnowledge adds clauses to the base knowledge set. Duplicates are kept;
// the search's seen-resolvent index absorbs any redundant work they cause.
func (p *Prover) ExtendKnowledge(clauses []*term.Clause) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.knowledge = append(p.knowledge, clauses...)
}

// KnowledgeSize reports the current number of base-knowledge clauses.
func (p *Prover) KnowledgeSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.knowledge)
}

// SimilarityCacheLen reports the number of cached similarity entries, or zero
// when caching is disabled.
func (p *Prover) SimilarityCacheLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cache == nil {
		return 0
	}
	return p.cache.Len()
}

// ProveAllWithStats searches for refutation proofs of each inverted goal
// against baseKnowledge ∪ extraKnowledge ∪ invertedGoals, returning the
// top-ranked proofs (descending similarity) and the final search statistics.
//
// maxProofs, if non-nil, bounds the returned list (and, combined with
// Config.FindHighestSimilarityProofs, how eagerly the search stops).
// skipSeenResolvents, if non-nil, overrides Config.SkipSeenResolvents for
// this call only. An empty invertedGoals yields an empty result and nil
// error. Cancelling ctx stops the search and returns ctx's error.
func (p *Prover) ProveAllWithStats(
	ctx context.Context,
	invertedGoals, extraKnowledge []*term.Clause,
	maxProofs *int,
	skipSeenResolvents *bool,
) ([]*proof.Proof, proof.Stats, error) {
	return p.proveWithProgress(ctx, invertedGoals, extraKnowledge, maxProofs, skipSeenResolvents, nil, 0)
}

// ProveAllWithProgress is ProveAllWithStats with a progress callback: while
// the search runs, onProgress receives a stats snapshot every interval (a
// non-positive interval selects the search package's default cadence). Used
// by the HTTP streaming surface; library callers are free to use it too.
func (p *Prover) ProveAllWithProgress(
	ctx context.Context,
	invertedGoals, extraKnowledge []*term.Clause,
	maxProofs *int,
	skipSeenResolvents *bool,
	onProgress func(proof.Stats),
	interval time.Duration,
) ([]*proof.Proof, proof.Stats, error) {
	return p.proveWithProgress(ctx, invertedGoals, extraKnowledge, maxProofs, skipSeenResolvents, onProgress, interval)
}

func (p *Prover) proveWithProgress(
	ctx context.Context,
	invertedGoals, extraKnowledge []*term.Clause,
	maxProofs *int,
	skipSeenResolvents *bool,
	onProgress func(proof.Stats),
	interval time.Duration,
) ([]*proof.Proof, proof.Stats, error) {
	p.mu.RLock()
	base := p.knowledge
	cache := p.cache
	p.mu.RUnlock()

	cfg := search.Config{
		MaxProofDepth:               p.cfg.MaxProofDepth,
		MaxResolventWidth:           p.cfg.MaxResolventWidth,
		MaxResolutionAttempts:       p.cfg.MaxResolutionAttempts,
		MinSimilarityThreshold:      p.cfg.MinSimilarityThreshold,
		CacheSimilarity:             p.cfg.CacheSimilarity,
		SkipSeenResolvents:          p.cfg.SkipSeenResolvents,
		FindHighestSimilarityProofs: p.cfg.FindHighestSimilarityProofs,
		NumWorkers:                  p.cfg.NumWorkers,
		EvalBatchSize:               p.cfg.EvalBatchSize,
		OnProgress:                  onProgress,
		ProgressInterval:            interval,
	}
	return search.ProveAllWithStats(ctx, cfg, p.comparator, cache, base, extraKnowledge, invertedGoals, maxProofs, skipSeenResolvents)
}

// PurgeSimilarityCache empties the in-memory similarity cache. A configured
// persistent store is left untouched until the next PersistSimilarityCache.
func (p *Prover) PurgeSimilarityCache() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cache != nil {
		p.cache.Purge()
	}
}

// PersistSimilarityCache writes the in-memory similarity table to the
// configured persistent store, if any.
func (p *Prover) PersistSimilarityCache(ctx context.Context) error {
	p.mu.RLock()
	cache := p.cache
	p.mu.RUnlock()
	if cache == nil {
		return nil
	}
	return cache.Persist(ctx)
}

// Reset clears both the knowledge base and the similarity cache, returning
// the Prover to its post-New state with empty knowledge.
func (p *Prover) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.knowledge = nil
	if p.cache != nil {
		p.cache.Purge()
	}
}
