// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package term

import "testing"

func TestSymbolEqualityRequiresSameEmbeddingIdentity(t *testing.T) {
	vec := []float32{0.1, 0.2}
	a := NewConstant("socrates", vec)
	b := NewConstant("socrates", vec)
	c := NewConstant("socrates", []float32{0.1, 0.2})

	if !a.Symbol.Equal(b.Symbol) {
		t.Fatal("constants sharing one embedding slice must be equal")
	}
	if a.Symbol.Equal(c.Symbol) {
		t.Fatal("equal vector contents with distinct identity must not compare equal")
	}
	if a.Symbol.Hash() == c.Symbol.Hash() {
		t.Fatal("distinct embedding identities should hash differently")
	}
}

func TestSymbolNilEmbeddingsShareIdentity(t *testing.T) {
	a := NewPredicate("p", nil)
	b := NewPredicate("p", nil)
	if !a.Symbol.Equal(b.Symbol) {
		t.Fatal("two embedding-free symbols of the same name must be equal")
	}
	if a.Hash() != b.Hash() {
		t.Fatal("two embedding-free symbols of the same name must hash identically")
	}
}

func TestTermKindOrdering(t *testing.T) {
	v := Variable{Name: "X"}
	c := NewConstant("a", nil)
	f := NewFunction("f").Bind(c)

	if !v.Less(c) || !c.Less(f) {
		t.Fatal("expected variable < constant < bound function across kinds")
	}
	if c.Less(v) || f.Less(c) {
		t.Fatal("kind ordering must be antisymmetric")
	}
}

func TestBoundFunctionStructuralEquality(t *testing.T) {
	f := NewFunction("f")
	a := NewConstant("a", nil)
	x := Variable{Name: "X"}

	if !f.Bind(a, x).Equal(f.Bind(a, x)) {
		t.Fatal("structurally identical bound functions must be equal")
	}
	if f.Bind(a, x).Equal(f.Bind(x, a)) {
		t.Fatal("argument order must matter")
	}
	if f.Bind(a).Equal(NewFunction("g").Bind(a)) {
		t.Fatal("different function symbols must not be equal")
	}
}

func TestNewClauseSortsAndDeduplicates(t *testing.T) {
	p := NewPredicate("p", nil)
	q := NewPredicate("q", nil)
	a := NewConstant("a", nil)

	lp := NewLiteral(p.Atom(a), true)
	lq := NewLiteral(q.Atom(a), true)

	c1 := NewClause(lq, lp, lp)
	c2 := NewClause(lp, lq)

	if c1.Len() != 2 {
		t.Fatalf("expected duplicate literal collapsed, got %d literals", c1.Len())
	}
	if !c1.Equal(c2) {
		t.Fatal("clauses built from the same literal set in any order must be equal")
	}
	if c1.Hash() != c2.Hash() {
		t.Fatal("equal clauses must hash identically")
	}
}

func TestClauseFirstIsDeterministicMinimum(t *testing.T) {
	p := NewPredicate("p", nil)
	q := NewPredicate("q", nil)
	a := NewConstant("a", nil)

	pos := NewLiteral(p.Atom(a), true)
	neg := NewLiteral(q.Atom(a), false)

	// Negative literals sort before positive ones.
	if first := NewClause(pos, neg).First(); !first.Equal(neg) {
		t.Fatalf("expected the negative literal first, got %s", first)
	}
}

func TestClauseWithoutRemovesExactlyOnce(t *testing.T) {
	p := NewPredicate("p", nil)
	a := NewConstant("a", nil)
	b := NewConstant("b", nil)

	la := NewLiteral(p.Atom(a), true)
	lb := NewLiteral(p.Atom(b), true)
	c := NewClause(la, lb)

	rest := c.Without(la)
	if len(rest) != 1 || !rest[0].Equal(lb) {
		t.Fatalf("expected only the other literal to remain, got %v", rest)
	}
}

func TestClauseWithoutPanicsWhenLiteralMissing(t *testing.T) {
	p := NewPredicate("p", nil)
	c := NewClause(NewLiteral(p.Atom(NewConstant("a", nil)), true))
	missing := NewLiteral(p.Atom(NewConstant("b", nil)), true)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on removing an absent literal")
		}
	}()
	c.Without(missing)
}

func TestEmptyClauseIsRefutation(t *testing.T) {
	c := NewClause()
	if !c.IsEmpty() {
		t.Fatal("a clause with no literals must report empty")
	}
	if c.String() != "⊥" {
		t.Fatalf("expected the refutation glyph, got %q", c.String())
	}
}

func TestLiteralNegateFlipsPolarityOnly(t *testing.T) {
	p := NewPredicate("p", nil)
	l := NewLiteral(p.Atom(NewConstant("a", nil)), true)
	n := l.Negate()

	if n.Polarity {
		t.Fatal("negation must flip polarity")
	}
	if !n.Atom.Equal(l.Atom) {
		t.Fatal("negation must share the atom")
	}
}
