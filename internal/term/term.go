// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package term defines the immutable first-order-logic value types shared by
// the unifier, resolvent builder, and search driver: symbols, terms, atoms,
// literals, and clauses.
//
// Every type here is a plain value (or a pointer to an immutable struct) and
// is never mutated after construction. Equality and ordering are exposed as
// explicit methods (Equal/Less/Hash) rather than Go's built-in == operator,
// because Predicate and Constant carry an opaque Embedding that may not be a
// comparable Go type (e.g. a []float32 slice).
package term

import (
	"hash/fnv"
	"reflect"
	"sort"
	"strings"
)

// Embedding is an opaque blob attached to a Predicate or Constant. Two
// embeddings are considered the same symbol identity only if they are the
// same underlying value (reference identity), never by contents — embeddings
// are assumed large and are compared for similarity by an external
// comparator, not by the term model itself.
type Embedding = any

// embeddingIdentity returns a stable token for reference-identity comparison
// of an embedding. A nil or empty embedding always yields 0, so two symbols
// with no embedding compare equal on this field alone.
func embeddingIdentity(e Embedding) uintptr {
	if e == nil {
		return 0
	}
	v := reflect.ValueOf(e)
	switch v.Kind() {
	case reflect.Slice:
		if v.Len() == 0 || v.IsNil() {
			return 0
		}
		return v.Pointer()
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if v.IsNil() {
			return 0
		}
		return v.Pointer()
	default:
		// Embeddings are assumed to be reference-like blobs (slices,
		// pointers). A value type with no stable address has no reference
		// identity distinct from any other instance of the same value.
		return 0
	}
}

func mix(h uint64, v uint64) uint64 {
	h ^= v
	h *= 1099511628211
	return h
}

// Symbol is the shared shape of Predicate and Constant: a name plus an
// optional embedding, with a precomputed hash over (name, embedding identity).
type Symbol struct {
	name      string
	embedding Embedding
	identity  uintptr
	hash      uint64
}

func newSymbol(name string, embedding Embedding) Symbol {
	id := embeddingIdentity(embedding)
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	sum := h.Sum64()
	sum = mix(sum, uint64(id))
	return Symbol{name: name, embedding: embedding, identity: id, hash: sum}
}

// Name returns the symbol's textual name.
func (s Symbol) Name() string { return s.name }

// Embedding returns the opaque embedding blob, or nil if none was supplied.
func (s Symbol) Embedding() Embedding { return s.embedding }

// Hash returns the precomputed 64-bit hash over (name, embedding identity).
func (s Symbol) Hash() uint64 { return s.hash }

// Equal reports whether two symbols share the same name AND the same
// embedding reference identity (not embedding contents).
func (s Symbol) Equal(other Symbol) bool {
	return s.name == other.name && s.identity == other.identity
}

// Less provides a deterministic total order: by name, then by identity.
func (s Symbol) Less(other Symbol) bool {
	if s.name != other.name {
		return s.name < other.name
	}
	return s.identity < other.identity
}

// Predicate names a relation. Two predicates with the same name but distinct
// embedding identities are NOT equal — see Symbol.Equal.
type Predicate struct{ Symbol }

// NewPredicate constructs a predicate symbol, optionally carrying an
// embedding used by an external similarity comparator.
func NewPredicate(name string, embedding Embedding) Predicate {
	return Predicate{newSymbol(name, embedding)}
}

// Atom binds this predicate to a sequence of terms.
func (p Predicate) Atom(terms ...Term) *Atom {
	return NewAtom(p, terms...)
}

// Constant names a ground value in the domain.
type Constant struct{ Symbol }

// NewConstant constructs a constant symbol, optionally carrying an embedding.
func NewConstant(name string, embedding Embedding) Constant {
	return Constant{newSymbol(name, embedding)}
}

func (Constant) term() {}

// Hash implements Term.
func (c Constant) Hash() uint64 { return mix(0x9e3779b97f4a7c15, c.Symbol.Hash()) }

// Equal implements Term.
func (c Constant) Equal(other Term) bool {
	o, ok := other.(Constant)
	return ok && c.Symbol.Equal(o.Symbol)
}

// Less implements Term.
func (c Constant) Less(other Term) bool {
	if r := kindRank(c) - kindRank(other); r != 0 {
		return r < 0
	}
	return c.Symbol.Less(other.(Constant).Symbol)
}

func (c Constant) String() string { return c.name }

// Function names an n-ary function symbol. Unlike Predicate/Constant,
// functions never carry an embedding — only atom-level symbols are
// similarity-comparable per the prover's contract.
type Function struct{ name string }

// NewFunction constructs a function symbol.
func NewFunction(name string) Function { return Function{name: name} }

// Name returns the function's textual name.
func (f Function) Name() string { return f.name }

// Equal reports whether two function symbols share the same name.
func (f Function) Equal(other Function) bool { return f.name == other.name }

// Bind applies this function symbol to a sequence of argument terms,
// producing a BoundFunction term.
func (f Function) Bind(terms ...Term) *BoundFunction {
	return &BoundFunction{Function: f, Terms: terms}
}

// Term is the tagged union of Variable, Constant, and *BoundFunction. It is
// implemented as an interface rather than a Go sum type; the unexported
// term() method restricts implementations to this package's three kinds.
type Term interface {
	term()
	// Hash returns a 64-bit structural hash, stable across calls.
	Hash() uint64
	// Equal reports deep structural equality (embedding identity for
	// constants nested inside bound functions).
	Equal(other Term) bool
	// Less provides a total order across all term kinds.
	Less(other Term) bool
	String() string
}

func kindRank(t Term) int {
	switch t.(type) {
	case Variable:
		return 0
	case Constant:
		return 1
	case *BoundFunction:
		return 2
	default:
		return 3
	}
}

// Variable is an unbound logic variable, identified solely by name.
type Variable struct {
	Name string
}

func (Variable) term() {}

// Hash implements Term.
func (v Variable) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("var:"))
	_, _ = h.Write([]byte(v.Name))
	return h.Sum64()
}

// Equal implements Term.
func (v Variable) Equal(other Term) bool {
	o, ok := other.(Variable)
	return ok && o.Name == v.Name
}

// Less implements Term.
func (v Variable) Less(other Term) bool {
	if r := kindRank(v) - kindRank(other); r != 0 {
		return r < 0
	}
	return v.Name < other.(Variable).Name
}

func (v Variable) String() string { return v.Name }

// BoundFunction applies a Function symbol to a fixed sequence of argument
// terms. It is always used behind a pointer since its Terms slice makes the
// value itself non-comparable with Go's built-in ==.
type BoundFunction struct {
	Function Function
	Terms    []Term
}

func (*BoundFunction) term() {}

// Hash implements Term.
func (b *BoundFunction) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("fn:"))
	_, _ = h.Write([]byte(b.Function.name))
	sum := h.Sum64()
	for _, t := range b.Terms {
		sum = mix(sum, t.Hash())
	}
	return sum
}

// Equal implements Term.
func (b *BoundFunction) Equal(other Term) bool {
	o, ok := other.(*BoundFunction)
	if !ok || !b.Function.Equal(o.Function) || len(b.Terms) != len(o.Terms) {
		return false
	}
	for i, t := range b.Terms {
		if !t.Equal(o.Terms[i]) {
			return false
		}
	}
	return true
}

// Less implements Term.
func (b *BoundFunction) Less(other Term) bool {
	if r := kindRank(b) - kindRank(other); r != 0 {
		return r < 0
	}
	o := other.(*BoundFunction)
	if b.Function.name != o.Function.name {
		return b.Function.name < o.Function.name
	}
	if len(b.Terms) != len(o.Terms) {
		return len(b.Terms) < len(o.Terms)
	}
	for i, t := range b.Terms {
		if !t.Equal(o.Terms[i]) {
			return t.Less(o.Terms[i])
		}
	}
	return false
}

func (b *BoundFunction) String() string {
	parts := make([]string, len(b.Terms))
	for i, t := range b.Terms {
		parts[i] = t.String()
	}
	return b.Function.name + "(" + strings.Join(parts, ", ") + ")"
}

// Atom is a predicate applied to a sequence of terms.
type Atom struct {
	Predicate Predicate
	Terms     []Term
}

// NewAtom constructs an atom from a predicate and its argument terms.
func NewAtom(predicate Predicate, terms ...Term) *Atom {
	return &Atom{Predicate: predicate, Terms: terms}
}

// Hash returns a structural hash over the predicate and its terms.
func (a *Atom) Hash() uint64 {
	sum := mix(0xcbf29ce484222325, a.Predicate.Hash())
	for _, t := range a.Terms {
		sum = mix(sum, t.Hash())
	}
	return sum
}

// Equal reports deep structural equality between two atoms.
func (a *Atom) Equal(other *Atom) bool {
	if !a.Predicate.Symbol.Equal(other.Predicate.Symbol) || len(a.Terms) != len(other.Terms) {
		return false
	}
	for i, t := range a.Terms {
		if !t.Equal(other.Terms[i]) {
			return false
		}
	}
	return true
}

// Less provides a total order over atoms: by predicate, then terms.
func (a *Atom) Less(other *Atom) bool {
	if !a.Predicate.Symbol.Equal(other.Predicate.Symbol) {
		return a.Predicate.Symbol.Less(other.Predicate.Symbol)
	}
	if len(a.Terms) != len(other.Terms) {
		return len(a.Terms) < len(other.Terms)
	}
	for i, t := range a.Terms {
		if !t.Equal(other.Terms[i]) {
			return t.Less(other.Terms[i])
		}
	}
	return false
}

func (a *Atom) String() string {
	parts := make([]string, len(a.Terms))
	for i, t := range a.Terms {
		parts[i] = t.String()
	}
	return a.Predicate.Name() + "(" + strings.Join(parts, ", ") + ")"
}

// Literal is a predicate atom with a polarity: true for a positive literal,
// false for a negated one (¬atom).
type Literal struct {
	Atom     *Atom
	Polarity bool
}

// NewLiteral constructs a literal.
func NewLiteral(atom *Atom, polarity bool) *Literal {
	return &Literal{Atom: atom, Polarity: polarity}
}

// Negate returns a new literal with the same atom and flipped polarity,
// useful for constructing an inverted goal from a positive query atom.
func (l *Literal) Negate() *Literal {
	return &Literal{Atom: l.Atom, Polarity: !l.Polarity}
}

// Hash returns a structural hash over the atom and polarity.
func (l *Literal) Hash() uint64 {
	h := l.Atom.Hash()
	if l.Polarity {
		return mix(h, 1)
	}
	return mix(h, 0)
}

// Equal reports deep structural equality between two literals.
func (l *Literal) Equal(other *Literal) bool {
	return l.Polarity == other.Polarity && l.Atom.Equal(other.Atom)
}

// Less provides a total order over literals: by polarity, then atom.
func (l *Literal) Less(other *Literal) bool {
	if l.Polarity != other.Polarity {
		// Negative literals sort before positive ones; arbitrary but fixed.
		return !l.Polarity && other.Polarity
	}
	return l.Atom.Less(other.Atom)
}

func (l *Literal) String() string {
	if l.Polarity {
		return l.Atom.String()
	}
	return "¬" + l.Atom.String()
}

// Clause is an ordered set of literals (duplicates collapsed, order
// deterministic via Literal.Less). The empty clause denotes refutation.
type Clause struct {
	Literals []*Literal
}

// NewClause builds a clause from literals, sorting and deduplicating them so
// that two clauses built from the same literal set (in any order) compare
// equal and hash identically.
func NewClause(literals ...*Literal) *Clause {
	deduped := dedupeLiterals(literals)
	return &Clause{Literals: deduped}
}

func dedupeLiterals(literals []*Literal) []*Literal {
	cp := make([]*Literal, len(literals))
	copy(cp, literals)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Less(cp[j]) })
	out := cp[:0]
	for i, l := range cp {
		if i == 0 || !l.Equal(out[len(out)-1]) {
			out = append(out, l)
		}
	}
	return out
}

// Len returns the number of literals in the clause.
func (c *Clause) Len() int { return len(c.Literals) }

// IsEmpty reports whether this is the empty clause (a refutation).
func (c *Clause) IsEmpty() bool { return len(c.Literals) == 0 }

// First returns the deterministic-minimum literal under clause ordering, used
// by the search driver's input-resolution policy. Panics on an empty clause.
func (c *Clause) First() *Literal { return c.Literals[0] }

// Hash returns a structural hash over the (already sorted) literal set.
func (c *Clause) Hash() uint64 {
	sum := uint64(14695981039346656037)
	for _, l := range c.Literals {
		sum = mix(sum, l.Hash())
	}
	return sum
}

// Equal reports deep structural equality between two clauses.
func (c *Clause) Equal(other *Clause) bool {
	if len(c.Literals) != len(other.Literals) {
		return false
	}
	for i, l := range c.Literals {
		if !l.Equal(other.Literals[i]) {
			return false
		}
	}
	return true
}

// Without returns the clause's literals with the given literal removed
// exactly once. It panics if the literal is not present — this mirrors a
// structural invariant of the resolvent builder (§4.2): the resolved literal
// must always be present in its parent clause.
func (c *Clause) Without(target *Literal) []*Literal {
	out := make([]*Literal, 0, len(c.Literals)-1)
	removed := false
	for _, l := range c.Literals {
		if !removed && l.Equal(target) {
			removed = true
			continue
		}
		out = append(out, l)
	}
	if !removed {
		panic("term: resolved literal not present in its parent clause")
	}
	return out
}

func (c *Clause) String() string {
	if c.IsEmpty() {
		return "⊥"
	}
	parts := make([]string, len(c.Literals))
	for i, l := range c.Literals {
		parts[i] = l.String()
	}
	return strings.Join(parts, " ∨ ")
}
