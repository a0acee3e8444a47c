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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/fuzzyprover/internal/parallel"
	"github.com/AleutianAI/fuzzyprover/internal/proof"
	"github.com/AleutianAI/fuzzyprover/internal/resolve"
	"github.com/AleutianAI/fuzzyprover/internal/similarity"
	"github.com/AleutianAI/fuzzyprover/internal/term"
	"github.com/AleutianAI/fuzzyprover/internal/unify"
)

var tracer = otel.Tracer("fuzzyprover.search")

var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuzzyprover",
		Subsystem: "search",
		Name:      "runs_total",
		Help:      "Number of ProveAllWithStats invocations, partitioned by outcome.",
	}, []string{"outcome"})
	resolutionsAttempted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fuzzyprover",
		Subsystem: "search",
		Name:      "resolutions_attempted_total",
		Help:      "Cumulative attempted resolutions across all searches.",
	})
	proofsFoundHist = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fuzzyprover",
		Subsystem: "search",
		Name:      "proofs_found",
		Help:      "Number of proofs returned per search.",
		Buckets:   prometheus.LinearBuckets(0, 1, 10),
	})
)

// Config configures one ProveAllWithStats call.
type Config struct {
	// MaxProofDepth caps the ancestor chain length for non-root expansions.
	MaxProofDepth int
	// MaxResolventWidth, if non-nil, skips resolutions whose resolvent size
	// would exceed it.
	MaxResolventWidth *int
	// MaxResolutionAttempts, if non-nil, globally cuts off attempted
	// resolutions across the whole search.
	MaxResolutionAttempts *int
	// MinSimilarityThreshold is the initial admission floor; it only rises
	// over the course of a search, never falls.
	MinSimilarityThreshold float64
	// CacheSimilarity enables the symmetric similarity cache.
	CacheSimilarity bool
	// SkipSeenResolvents enables the seen-resolvent dedup index.
	SkipSeenResolvents bool
	// FindHighestSimilarityProofs, if false, stops expansion once maxProofs
	// leaf proofs have first been recorded; if true, keeps searching and
	// replacing worse proofs with better ones until the search otherwise
	// terminates.
	FindHighestSimilarityProofs bool
	// NumWorkers is the fixed worker-pool size; non-positive selects
	// runtime.NumCPU().
	NumWorkers int
	// EvalBatchSize bounds how many pending expansion nodes a worker
	// accumulates before handing a chunk to the pool as a new stealable
	// task; non-positive selects a default.
	EvalBatchSize int
	// OnProgress, if non-nil, is invoked with a stats snapshot every
	// ProgressInterval while the search runs, from a dedicated goroutine.
	// The callback must not block for long; it delays only its own next
	// snapshot, never the search itself.
	OnProgress func(proof.Stats)
	// ProgressInterval is the OnProgress cadence; non-positive selects a
	// default. Ignored when OnProgress is nil.
	ProgressInterval time.Duration
}

const (
	defaultEvalBatchSize    = 32
	defaultProgressInterval = 250 * time.Millisecond
)

// node is one pending expansion: a goal clause to resolve against the
// knowledge base, optionally under a parent step (nil at a search root).
type node struct {
	goal   *term.Clause
	parent *proof.Step
	depth  int
}

// comparatorErr distinguishes an external comparator failure from any other
// errgroup failure (e.g. context cancellation) for logging and wrapping.
type comparatorErr struct{ err error }

func (e *comparatorErr) Error() string { return fmt.Sprintf("search: comparator: %v", e.err) }
func (e *comparatorErr) Unwrap() error { return e.err }

// ProveAllWithStats runs a parallel, best-first resolution search over
// baseKnowledge ∪ extraKnowledge ∪ invertedGoals, starting one search root
// per inverted goal (which also participate as resolvable knowledge), and
// returns the top-ranked refutation proofs found before a configured bound
// was hit or ctx was cancelled.
//
// Structural invariant violations raised inside the search (e.g. a resolved
// literal missing from its parent clause) panic internally and are
// recovered here, converted into a returned error so a library caller's
// process never crashes on a prover bug. A failing external comparator
// cancels every in-flight worker via errgroup.WithContext and its error is
// returned, wrapped with context.
func ProveAllWithStats(
	ctx context.Context,
	cfg Config,
	comparator similarity.Comparator,
	cache *similarity.Cache,
	baseKnowledge, extraKnowledge, invertedGoals []*term.Clause,
	maxProofs *int,
	skipSeenResolvents *bool,
) (result []*proof.Proof, stats proof.Stats, err error) {
	searchID := uuid.NewString()
	logger := slog.Default().With(slog.String("search_id", searchID))

	ctx, span := tracer.Start(ctx, "search.ProveAllWithStats", trace.WithAttributes(
		attribute.Int("goal_count", len(invertedGoals)),
		attribute.Int("knowledge_count", len(baseKnowledge)+len(extraKnowledge)),
		attribute.Int("num_workers", cfg.NumWorkers),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("search: invariant violation: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic recovered")
			searchesTotal.WithLabelValues("panic").Inc()
		}
	}()

	if len(invertedGoals) == 0 {
		searchesTotal.WithLabelValues("empty_input").Inc()
		return nil, proof.Stats{}, nil
	}

	if skipSeenResolvents != nil {
		cfg.SkipSeenResolvents = *skipSeenResolvents
	}

	effectiveMaxProofs := 0
	if maxProofs != nil {
		effectiveMaxProofs = *maxProofs
	}

	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	batchSize := cfg.EvalBatchSize
	if batchSize <= 0 {
		batchSize = defaultEvalBatchSize
	}

	knowledge := make([]*term.Clause, 0, len(baseKnowledge)+len(extraKnowledge)+len(invertedGoals))
	knowledge = append(knowledge, baseKnowledge...)
	knowledge = append(knowledge, extraKnowledge...)
	knowledge = append(knowledge, invertedGoals...)

	shared := newSharedContext(cfg, comparator, cache, effectiveMaxProofs, cfg.FindHighestSimilarityProofs)

	if cfg.OnProgress != nil {
		interval := cfg.ProgressInterval
		if interval <= 0 {
			interval = defaultProgressInterval
		}
		progressDone := make(chan struct{})
		defer close(progressDone)
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-progressDone:
					return
				case <-ticker.C:
					cfg.OnProgress(shared.stats.Snapshot())
				}
			}
		}()
	}

	pool := parallel.New(numWorkers)
	defer pool.Shutdown()

	g, gctx := errgroup.WithContext(ctx)

	var expand func(local *LocalContext, n node, originalGoal *term.Clause) error
	var enqueue func(local *LocalContext, batch []node, originalGoal *term.Clause)

	expand = func(local *LocalContext, n node, originalGoal *term.Clause) error {
		if gctx.Err() != nil {
			return gctx.Err()
		}
		if n.parent != nil && n.depth >= cfg.MaxProofDepth {
			return nil
		}
		if cfg.MaxResolutionAttempts != nil &&
			atomic.LoadUint64(&shared.stats.AttemptedResolutions) >= uint64(*cfg.MaxResolutionAttempts) {
			return nil
		}
		if shared.maxProofs > 0 && !shared.findHighest && shared.LeafCount() >= shared.maxProofs {
			return nil
		}

		local.local.MaxDepthSeen = maxInt(local.local.MaxDepthSeen, n.depth+1)

		head := n.goal.First()
		var pending []node
		for _, clause := range knowledge {
			if cfg.MaxResolventWidth != nil && clause.Len()+n.goal.Len()-2 > *cfg.MaxResolventWidth {
				continue
			}
			// A clause counts as one successful resolution no matter how
			// many of its literals unify against the goal's head.
			hadSuccess := false
			for _, lit := range clause.Literals {
				if lit.Polarity == head.Polarity {
					continue
				}
				u, ok, uerr := unify.Unify(head.Atom, lit.Atom, local)
				if uerr != nil {
					return &comparatorErr{err: uerr}
				}
				if !ok {
					continue
				}
				hadSuccess = true

				resolvent := resolve.BuildResolvent(n.goal, head, u.SourceSubstitutions, clause, lit, u.TargetSubstitutions)
				step := proof.NewStep(n.goal, clause, head, lit, u.SourceSubstitutions, u.TargetSubstitutions, resolvent, u.Similarity, n.parent)

				if resolvent.IsEmpty() {
					shared.RecordLeafProof(step, originalGoal)
					continue
				}
				if n.depth+1 < cfg.MaxProofDepth && step.RunningSimilarity > shared.Threshold() && shared.CheckResolvent(step) {
					local.local.MaxResolventWidthSeen = maxInt(local.local.MaxResolventWidthSeen, resolvent.Len())
					pending = append(pending, node{goal: resolvent, parent: step, depth: n.depth + 1})
					if len(pending) >= batchSize {
						enqueue(local, pending, originalGoal)
						pending = nil
					}
				}
			}
			if hadSuccess {
				local.local.SuccessfulResolutions++
			}
		}
		local.local.AttemptedResolutions += uint64(len(knowledge))

		if len(pending) > 0 {
			enqueue(local, pending, originalGoal)
		}
		return nil
	}

	enqueue = func(_ *LocalContext, batch []node, originalGoal *term.Clause) {
		items := batch
		g.Go(func() error {
			done := make(chan error, 1)
			pool.Submit(func() {
				defer func() {
					if r := recover(); r != nil {
						done <- fmt.Errorf("search: invariant violation: %v", r)
					}
				}()
				workerLocal := newLocalContext(shared)
				var workErr error
				for _, item := range items {
					if cerr := expand(workerLocal, item, originalGoal); cerr != nil {
						workErr = cerr
						break
					}
				}
				workerLocal.flush()
				done <- workErr
			})
			select {
			case workErr := <-done:
				return workErr
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	for _, goal := range invertedGoals {
		rootLocal := newLocalContext(shared)
		rootErr := expand(rootLocal, node{goal: goal, parent: nil, depth: 0}, goal)
		rootLocal.flush()
		if rootErr != nil {
			var ce *comparatorErr
			if errors.As(rootErr, &ce) {
				return nil, proof.Stats{}, fmt.Errorf("search: comparator error on root expansion: %w", ce.err)
			}
			return nil, proof.Stats{}, rootErr
		}
	}

	if waitErr := g.Wait(); waitErr != nil {
		span.RecordError(waitErr)
		span.SetStatus(codes.Error, "search failed")
		searchesTotal.WithLabelValues("error").Inc()
		var ce *comparatorErr
		if errors.As(waitErr, &ce) {
			return nil, proof.Stats{}, fmt.Errorf("search: comparator error: %w", ce.err)
		}
		return nil, proof.Stats{}, waitErr
	}

	leaves := shared.Leaves()
	snapshot := shared.stats.Snapshot()
	resolutionsAttempted.Add(float64(snapshot.AttemptedResolutions))
	proofsFoundHist.Observe(float64(len(leaves)))
	searchesTotal.WithLabelValues("success").Inc()

	proofs := make([]*proof.Proof, 0, len(leaves))
	for _, le := range leaves {
		proofs = append(proofs, proof.New(le.goal, le.step.RunningSimilarity, snapshot, le.step))
	}
	sort.SliceStable(proofs, func(i, j int) bool { return proofs[i].Similarity > proofs[j].Similarity })

	logger.Info("search completed",
		slog.Int("proofs_found", len(proofs)),
		slog.Uint64("attempted_resolutions", snapshot.AttemptedResolutions),
		slog.Uint64("discarded_proofs", snapshot.DiscardedProofs))

	return proofs, snapshot, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
