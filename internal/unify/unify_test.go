// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package unify

import (
	"testing"

	"github.com/AleutianAI/fuzzyprover/internal/term"
)

// fakeContext is a minimal SimilarityContext for tests: symbols compare equal
// (similarity 1.0) when their names match, 0.0 otherwise, unless overridden.
type fakeContext struct {
	threshold   float64
	comparisons int
	compare     func(a, b term.Symbol) (float64, error)
}

func newFakeContext(threshold float64) *fakeContext {
	return &fakeContext{threshold: threshold}
}

func (f *fakeContext) Threshold() float64 { return f.threshold }

func (f *fakeContext) CalcSimilarity(a, b term.Symbol) (float64, error) {
	if f.compare != nil {
		return f.compare(a, b)
	}
	if a.Name() == b.Name() {
		return 1.0, nil
	}
	return 0.0, nil
}

func (f *fakeContext) CountSimilarityComparison() { f.comparisons++ }

func pred(name string) term.Predicate { return term.NewPredicate(name, nil) }
func constant(name string) term.Constant { return term.NewConstant(name, nil) }
func variable(name string) term.Variable { return term.Variable{Name: name} }
func fn(name string) term.Function { return term.NewFunction(name) }

func TestUnifyConstants(t *testing.T) {
	ctx := newFakeContext(0.5)
	source := pred("likes").Atom(constant("alice"), constant("bob"))
	target := pred("likes").Atom(constant("alice"), constant("bob"))

	u, ok, err := Unify(source, target, ctx)
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	if u.Similarity != 1.0 {
		t.Fatalf("expected similarity 1.0, got %v", u.Similarity)
	}
	if len(u.SourceSubstitutions) != 0 || len(u.TargetSubstitutions) != 0 {
		t.Fatalf("expected no substitutions for ground atoms")
	}
}

func TestUnifyConstantsMismatchBelowThreshold(t *testing.T) {
	ctx := newFakeContext(0.5)
	source := pred("likes").Atom(constant("alice"), constant("bob"))
	target := pred("likes").Atom(constant("alice"), constant("carol"))

	_, ok, err := Unify(source, target, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected failure: distinct constants score 0.0, below threshold")
	}
}

func TestUnifySharedVariable(t *testing.T) {
	ctx := newFakeContext(0.5)
	source := pred("likes").Atom(variable("X"), constant("bob"))
	target := pred("likes").Atom(constant("alice"), variable("Y"))

	u, ok, err := Unify(source, target, ctx)
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	if got, want := u.SourceSubstitutions[variable("X")], term.Term(constant("alice")); !got.Equal(want) {
		t.Fatalf("X -> alice, got %v", got)
	}
	if got, want := u.TargetSubstitutions[variable("Y")], term.Term(constant("bob")); !got.Equal(want) {
		t.Fatalf("Y -> bob, got %v", got)
	}
}

func TestUnifyChainedVariablesAcrossAtoms(t *testing.T) {
	ctx := newFakeContext(0.5)
	// source: p(X, X) vs target: p(alice, Y) -- X binds to alice, then the
	// second X must also resolve through to alice via Y.
	source := pred("p").Atom(variable("X"), variable("X"))
	target := pred("p").Atom(constant("alice"), variable("Y"))

	u, ok, err := Unify(source, target, ctx)
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	if got := u.SourceSubstitutions[variable("X")]; !got.Equal(term.Term(constant("alice"))) {
		t.Fatalf("X -> alice, got %v", got)
	}
}

func TestUnifyRepeatedVariableSelfConsistent(t *testing.T) {
	ctx := newFakeContext(0.5)
	// p(X, X) vs p(alice, alice) should succeed.
	source := pred("p").Atom(variable("X"), variable("X"))
	target := pred("p").Atom(constant("alice"), constant("alice"))

	_, ok, err := Unify(source, target, ctx)
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
}

func TestUnifyRepeatedVariableInconsistentFails(t *testing.T) {
	ctx := newFakeContext(0.5)
	// p(X, X) vs p(alice, bob) must fail: X cannot be both alice and bob.
	source := pred("p").Atom(variable("X"), variable("X"))
	target := pred("p").Atom(constant("alice"), constant("bob"))

	_, ok, err := Unify(source, target, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected failure: X cannot bind to both alice and bob")
	}
}

func TestUnifyFunctions(t *testing.T) {
	ctx := newFakeContext(0.5)
	source := pred("p").Atom(fn("f").Bind(variable("X")))
	target := pred("p").Atom(fn("f").Bind(constant("alice")))

	u, ok, err := Unify(source, target, ctx)
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	if got := u.SourceSubstitutions[variable("X")]; !got.Equal(term.Term(constant("alice"))) {
		t.Fatalf("X -> alice, got %v", got)
	}
}

func TestUnifyNestedFunctions(t *testing.T) {
	ctx := newFakeContext(0.5)
	source := pred("p").Atom(fn("f").Bind(fn("g").Bind(variable("X"))))
	target := pred("p").Atom(fn("f").Bind(fn("g").Bind(constant("alice"))))

	u, ok, err := Unify(source, target, ctx)
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	if got := u.SourceSubstitutions[variable("X")]; !got.Equal(term.Term(constant("alice"))) {
		t.Fatalf("X -> alice, got %v", got)
	}
}

func TestUnifyReciprocalFunctionOccursCheckFails(t *testing.T) {
	ctx := newFakeContext(0.5)
	// X vs f(X) must fail the occurs-check: X cannot be bound to a term that
	// contains X.
	source := pred("p").Atom(variable("X"))
	target := pred("p").Atom(fn("f").Bind(variable("X")))

	_, ok, err := Unify(source, target, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected occurs-check failure")
	}
}

func TestUnifyFunctionArityMismatchFails(t *testing.T) {
	ctx := newFakeContext(0.5)
	source := pred("p").Atom(fn("f").Bind(constant("a")))
	target := pred("p").Atom(fn("f").Bind(constant("a"), constant("b")))

	_, ok, err := Unify(source, target, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected failure: arity mismatch between bound functions")
	}
}

func TestUnifyAtomArityMismatchFails(t *testing.T) {
	ctx := newFakeContext(0.5)
	source := pred("p").Atom(constant("a"))
	target := pred("p").Atom(constant("a"), constant("b"))

	_, ok, err := Unify(source, target, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected failure: atom arity mismatch")
	}
}

func TestUnifyMismatchedTermShapeFails(t *testing.T) {
	ctx := newFakeContext(0.5)
	source := pred("p").Atom(constant("a"))
	target := pred("p").Atom(fn("f").Bind(constant("a")))

	_, ok, err := Unify(source, target, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected failure: constant cannot unify with a bound function")
	}
}

func TestUnifyPredicateSimilarityBelowThresholdAborts(t *testing.T) {
	ctx := newFakeContext(0.9)
	ctx.compare = func(a, b term.Symbol) (float64, error) { return 0.5, nil }
	source := pred("likes").Atom(constant("a"))
	target := pred("loves").Atom(constant("a"))

	_, ok, err := Unify(source, target, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected failure: predicate similarity 0.5 does not exceed threshold 0.9")
	}
	if ctx.comparisons != 1 {
		t.Fatalf("expected exactly one similarity comparison, got %d", ctx.comparisons)
	}
}

func TestUnifyEmbeddingSimilaritySucceedsAboveThreshold(t *testing.T) {
	ctx := newFakeContext(0.5)
	ctx.compare = func(a, b term.Symbol) (float64, error) {
		if a.Name() == b.Name() {
			return 1.0, nil
		}
		return 0.8, nil
	}
	source := pred("p").Atom(constant("car"))
	target := pred("p").Atom(constant("automobile"))

	u, ok, err := Unify(source, target, ctx)
	if err != nil || !ok {
		t.Fatalf("expected success via embedding similarity, got ok=%v err=%v", ok, err)
	}
	if u.Similarity != 0.8 {
		t.Fatalf("expected running similarity 0.8, got %v", u.Similarity)
	}
}

func TestUnifyEmbeddingSimilarityFailsBelowThreshold(t *testing.T) {
	ctx := newFakeContext(0.5)
	ctx.compare = func(a, b term.Symbol) (float64, error) {
		if a.Name() == b.Name() {
			return 1.0, nil
		}
		return 0.2, nil
	}
	source := pred("p").Atom(constant("car"))
	target := pred("p").Atom(constant("banana"))

	_, ok, err := Unify(source, target, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected failure: embedding similarity 0.2 below threshold")
	}
}

func TestUnifyRunningSimilarityIsMinimumAcrossTerms(t *testing.T) {
	ctx := newFakeContext(0.1)
	calls := 0
	ctx.compare = func(a, b term.Symbol) (float64, error) {
		calls++
		if a.Name() == b.Name() {
			return 1.0, nil
		}
		// Second constant pair scores lower than the predicate comparison.
		return 0.3, nil
	}
	source := pred("p").Atom(constant("a"), constant("car"))
	target := pred("p").Atom(constant("a"), constant("automobile"))

	u, ok, err := Unify(source, target, ctx)
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	if u.Similarity != 0.3 {
		t.Fatalf("expected running similarity to drop to the minimum seen (0.3), got %v", u.Similarity)
	}
}
