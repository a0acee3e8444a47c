// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fuzzyprover/internal/search"
	"github.com/AleutianAI/fuzzyprover/internal/similarity"
	"github.com/AleutianAI/fuzzyprover/internal/term"
)

func pred(name string) term.Predicate { return term.NewPredicate(name, nil) }
func constant(name string) term.Constant { return term.NewConstant(name, nil) }
func variable(name string) term.Variable { return term.Variable{Name: name} }
func lit(polarity bool, atom *term.Atom) *term.Literal { return term.NewLiteral(atom, polarity) }

func defaultConfig() search.Config {
	return search.Config{
		MaxProofDepth:          10,
		MinSimilarityThreshold: 0.0,
		NumWorkers:             1,
		EvalBatchSize:          8,
	}
}

// TestClassicalRefutationDepthTwo exercises the textbook "Socrates is
// mortal" syllogism: man(socrates), ¬man(X) ∨ mortal(X), goal mortal(socrates)
// inverted to ¬mortal(socrates). The expected refutation takes exactly two
// resolution steps at similarity 1.0.
func TestClassicalRefutationDepthTwo(t *testing.T) {
	man := pred("man")
	mortal := pred("mortal")
	socrates := constant("socrates")
	x := variable("X")

	fact := term.NewClause(lit(true, man.Atom(socrates)))
	rule := term.NewClause(lit(false, man.Atom(x)), lit(true, mortal.Atom(x)))
	invertedGoal := term.NewClause(lit(false, mortal.Atom(socrates)))

	proofs, stats, err := search.ProveAllWithStats(
		context.Background(),
		defaultConfig(),
		similarity.EqualityComparator{},
		nil,
		[]*term.Clause{fact, rule},
		nil,
		[]*term.Clause{invertedGoal},
		nil,
		nil,
	)

	require.NoError(t, err)
	require.Len(t, proofs, 1)
	p := proofs[0]
	assert.Equal(t, 1.0, p.Similarity)
	assert.Equal(t, 2, p.Depth())
	assert.True(t, p.Leaf.Resolvent.IsEmpty())
	assert.GreaterOrEqual(t, stats.AttemptedResolutions, uint64(1))
}

// TestNoProofWhenKnowledgeInsufficient checks that an unsatisfiable search
// space terminates cleanly with zero proofs rather than erroring.
func TestNoProofWhenKnowledgeInsufficient(t *testing.T) {
	unrelated := pred("unrelated")
	goal := pred("mortal")
	socrates := constant("socrates")

	fact := term.NewClause(lit(true, unrelated.Atom(socrates)))
	invertedGoal := term.NewClause(lit(false, goal.Atom(socrates)))

	proofs, _, err := search.ProveAllWithStats(
		context.Background(),
		defaultConfig(),
		similarity.EqualityComparator{},
		nil,
		[]*term.Clause{fact},
		nil,
		[]*term.Clause{invertedGoal},
		nil,
		nil,
	)

	require.NoError(t, err)
	assert.Empty(t, proofs)
}

// TestEmptyInvertedGoalsReturnsEmptyResult covers the documented empty-input
// edge case: no inverted goals yields an empty proof list, zero stats, and a
// nil error.
func TestEmptyInvertedGoalsReturnsEmptyResult(t *testing.T) {
	proofs, stats, err := search.ProveAllWithStats(
		context.Background(),
		defaultConfig(),
		similarity.EqualityComparator{},
		nil,
		nil, nil, nil,
		nil, nil,
	)

	require.NoError(t, err)
	assert.Empty(t, proofs)
	assert.Zero(t, stats.AttemptedResolutions)
}

// TestMaxProofsKeepsTopKByDescendingSimilarity mirrors a find-highest-
// similarity run with three candidate one-step refutations scored 0.9, 0.7,
// and 0.6: with maxProofs=2 and FindHighestSimilarityProofs=true, the top
// two survive, one is discarded, and the similarity floor rises to the new
// tail's score.
func TestMaxProofsKeepsTopKByDescendingSimilarity(t *testing.T) {
	p := pred("p")
	a := constant("a")
	a1 := constant("a1")
	a2 := constant("a2")
	a3 := constant("a3")

	scores := map[string]float64{"a:a1": 0.9, "a:a2": 0.7, "a:a3": 0.6}
	comparator := similarity.ComparatorFunc(func(x, y similarity.Symbol) (float64, error) {
		if x.Name() == y.Name() {
			return 1.0, nil
		}
		key := x.Name() + ":" + y.Name()
		if v, ok := scores[key]; ok {
			return v, nil
		}
		key = y.Name() + ":" + x.Name()
		if v, ok := scores[key]; ok {
			return v, nil
		}
		return 0.0, nil
	})

	facts := []*term.Clause{
		term.NewClause(lit(true, p.Atom(a1))),
		term.NewClause(lit(true, p.Atom(a2))),
		term.NewClause(lit(true, p.Atom(a3))),
	}
	invertedGoal := term.NewClause(lit(false, p.Atom(a)))

	cfg := defaultConfig()
	cfg.FindHighestSimilarityProofs = true
	maxProofs := 2

	proofs, stats, err := search.ProveAllWithStats(
		context.Background(),
		cfg,
		comparator,
		nil,
		facts,
		nil,
		[]*term.Clause{invertedGoal},
		&maxProofs,
		nil,
	)

	require.NoError(t, err)
	require.Len(t, proofs, 2)
	assert.InDelta(t, 0.9, proofs[0].Similarity, 1e-9)
	assert.InDelta(t, 0.7, proofs[1].Similarity, 1e-9)
	assert.Equal(t, uint64(1), stats.DiscardedProofs)
}

// TestComparatorErrorPropagates checks that a failing external comparator
// aborts the search and surfaces the error rather than being swallowed.
func TestComparatorErrorPropagates(t *testing.T) {
	boom := errors.New("embedding service unavailable")
	comparator := similarity.ComparatorFunc(func(a, b similarity.Symbol) (float64, error) {
		if a.Name() == b.Name() {
			return 1.0, nil
		}
		return 0, boom
	})

	p := pred("p")
	invertedGoal := term.NewClause(lit(false, p.Atom(constant("a"))))
	fact := term.NewClause(lit(true, p.Atom(constant("b"))))

	_, _, err := search.ProveAllWithStats(
		context.Background(),
		defaultConfig(),
		comparator,
		nil,
		[]*term.Clause{fact},
		nil,
		[]*term.Clause{invertedGoal},
		nil,
		nil,
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
