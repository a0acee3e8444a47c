// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wire defines the JSON/YAML boundary model for clauses: the shape
// the HTTP API accepts in request bodies and the CLI reads from knowledge
// files, plus the decoding into the internal term model.
//
// Decoding interns symbols by name, so every occurrence of a predicate or
// constant across one document shares a single term.Symbol value — required
// for the term model's embedding-identity equality to behave when a document
// attaches embedding vectors to symbol names.
package wire

import (
	"fmt"

	"github.com/AleutianAI/fuzzyprover/internal/term"
)

// Term is one node of a term tree. Exactly one of Var, Const, or Func must be
// set; Args is only meaningful with Func.
type Term struct {
	Var   string `json:"var,omitempty" yaml:"var,omitempty"`
	Const string `json:"const,omitempty" yaml:"const,omitempty"`
	Func  string `json:"func,omitempty" yaml:"func,omitempty"`
	Args  []Term `json:"args,omitempty" yaml:"args,omitempty"`
}

// Literal is a predicate applied to terms, optionally negated.
type Literal struct {
	Predicate string `json:"predicate" yaml:"predicate" validate:"required"`
	Terms     []Term `json:"terms,omitempty" yaml:"terms,omitempty"`
	Negated   bool   `json:"negated,omitempty" yaml:"negated,omitempty"`
}

// Clause is a disjunction of literals.
type Clause struct {
	Literals []Literal `json:"literals" yaml:"literals" validate:"required,min=1,dive"`
}

// KnowledgeFile is the on-disk YAML shape the CLI consumes: a clause set plus
// optional per-symbol embedding vectors applied to predicates and constants
// of the same name during decoding.
type KnowledgeFile struct {
	Clauses    []Clause             `yaml:"clauses" validate:"required,min=1,dive"`
	Embeddings map[string][]float32 `yaml:"embeddings,omitempty"`
}

// Decoder converts wire clauses into term clauses, interning predicate and
// constant symbols by name so repeated occurrences share identity. One
// Decoder should be used per document (request body or knowledge file); its
// intern tables are what make embedding-identity equality hold across all
// clauses of that document.
//
// # Thread Safety
//
// Not safe for concurrent use; decode a document from one goroutine.
type Decoder struct {
	embeddings map[string][]float32
	predicates map[string]term.Predicate
	constants  map[string]term.Constant
	functions  map[string]term.Function
}

// NewDecoder builds a Decoder. embeddings may be nil; when present, a symbol
// whose name has an entry is constructed carrying that vector.
func NewDecoder(embeddings map[string][]float32) *Decoder {
	return &Decoder{
		embeddings: embeddings,
		predicates: make(map[string]term.Predicate),
		constants:  make(map[string]term.Constant),
		functions:  make(map[string]term.Function),
	}
}

// Clauses decodes a slice of wire clauses.
func (d *Decoder) Clauses(in []Clause) ([]*term.Clause, error) {
	out := make([]*term.Clause, 0, len(in))
	for i, c := range in {
		decoded, err := d.Clause(c)
		if err != nil {
			return nil, fmt.Errorf("clause %d: %w", i, err)
		}
		out = append(out, decoded)
	}
	return out, nil
}

// Clause decodes one wire clause.
func (d *Decoder) Clause(in Clause) (*term.Clause, error) {
	if len(in.Literals) == 0 {
		return nil, fmt.Errorf("wire: clause has no literals")
	}
	literals := make([]*term.Literal, 0, len(in.Literals))
	for i, l := range in.Literals {
		decoded, err := d.literal(l)
		if err != nil {
			return nil, fmt.Errorf("literal %d: %w", i, err)
		}
		literals = append(literals, decoded)
	}
	return term.NewClause(literals...), nil
}

func (d *Decoder) literal(in Literal) (*term.Literal, error) {
	if in.Predicate == "" {
		return nil, fmt.Errorf("wire: literal missing predicate")
	}
	pred, ok := d.predicates[in.Predicate]
	if !ok {
		pred = term.NewPredicate(in.Predicate, d.embeddingFor(in.Predicate))
		d.predicates[in.Predicate] = pred
	}
	terms := make([]term.Term, 0, len(in.Terms))
	for i, t := range in.Terms {
		decoded, err := d.term(t)
		if err != nil {
			return nil, fmt.Errorf("term %d: %w", i, err)
		}
		terms = append(terms, decoded)
	}
	return term.NewLiteral(term.NewAtom(pred, terms...), !in.Negated), nil
}

func (d *Decoder) term(in Term) (term.Term, error) {
	set := 0
	if in.Var != "" {
		set++
	}
	if in.Const != "" {
		set++
	}
	if in.Func != "" {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("wire: term must set exactly one of var/const/func, got %d", set)
	}

	switch {
	case in.Var != "":
		if len(in.Args) > 0 {
			return nil, fmt.Errorf("wire: variable %q cannot take args", in.Var)
		}
		return term.Variable{Name: in.Var}, nil
	case in.Const != "":
		if len(in.Args) > 0 {
			return nil, fmt.Errorf("wire: constant %q cannot take args", in.Const)
		}
		c, ok := d.constants[in.Const]
		if !ok {
			c = term.NewConstant(in.Const, d.embeddingFor(in.Const))
			d.constants[in.Const] = c
		}
		return c, nil
	default:
		fn, ok := d.functions[in.Func]
		if !ok {
			fn = term.NewFunction(in.Func)
			d.functions[in.Func] = fn
		}
		args := make([]term.Term, 0, len(in.Args))
		for i, a := range in.Args {
			decoded, err := d.term(a)
			if err != nil {
				return nil, fmt.Errorf("arg %d of %q: %w", i, in.Func, err)
			}
			args = append(args, decoded)
		}
		return fn.Bind(args...), nil
	}
}

// embeddingFor returns the document's vector for name, or nil. The returned
// slice is the document's own instance, so every symbol constructed from the
// same name shares one embedding identity.
func (d *Decoder) embeddingFor(name string) term.Embedding {
	if vec, ok := d.embeddings[name]; ok && len(vec) > 0 {
		return vec
	}
	return nil
}

// SymbolNames lists every distinct predicate and constant name the decoder
// has interned so far, as input to similarity.ComputeCorpusHash.
func (d *Decoder) SymbolNames() []string {
	names := make([]string, 0, len(d.predicates)+len(d.constants))
	for n := range d.predicates {
		names = append(names, n)
	}
	for n := range d.constants {
		names = append(names, n)
	}
	return names
}

// EncodeClause renders a term clause back into the wire shape, for proof
// steps and resolvents in HTTP responses.
func EncodeClause(c *term.Clause) Clause {
	out := Clause{Literals: make([]Literal, 0, c.Len())}
	for _, l := range c.Literals {
		out.Literals = append(out.Literals, encodeLiteral(l))
	}
	return out
}

func encodeLiteral(l *term.Literal) Literal {
	terms := make([]Term, 0, len(l.Atom.Terms))
	for _, t := range l.Atom.Terms {
		terms = append(terms, EncodeTerm(t))
	}
	return Literal{Predicate: l.Atom.Predicate.Name(), Terms: terms, Negated: !l.Polarity}
}

// EncodeTerm renders one term back into the wire shape.
func EncodeTerm(t term.Term) Term {
	switch v := t.(type) {
	case term.Variable:
		return Term{Var: v.Name}
	case term.Constant:
		return Term{Const: v.Name()}
	case *term.BoundFunction:
		args := make([]Term, 0, len(v.Terms))
		for _, a := range v.Terms {
			args = append(args, EncodeTerm(a))
		}
		return Term{Func: v.Function.Name(), Args: args}
	default:
		return Term{}
	}
}
