// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proof defines the persistent, parent-linked proof-step tree the
// search driver builds as it explores resolution steps, and the finished
// Proof value returned to callers: a leaf step plus enough context to
// reconstruct the full derivation and the goal's variable bindings.
package proof

import "github.com/AleutianAI/fuzzyprover/internal/term"

// Step is one resolution step: unifying SourceLiteral (from Source) against
// TargetLiteral (from Target) under the given substitutions produced
// Resolvent. Many children may share one Parent — the tree is immutable and
// persistent, so branches explored in parallel never interfere.
type Step struct {
	Source              *term.Clause
	Target              *term.Clause
	SourceLiteral       *term.Literal
	TargetLiteral       *term.Literal
	SourceSubstitutions map[term.Variable]term.Term
	TargetSubstitutions map[term.Variable]term.Term
	Resolvent           *term.Clause
	Similarity          float64
	RunningSimilarity   float64
	Depth               int
	Parent              *Step
}

// NewStep constructs a step, deriving RunningSimilarity (the minimum
// similarity along the whole ancestor chain, inclusive) and Depth (parent's
// depth plus one, or zero at the root) from parent.
//
// Depth here is search-time bookkeeping only, maintained incrementally for
// cheap bail-out checks during the search; a finished Proof's authoritative
// depth is always the reconstructed chain length from Proof.Depth, never
// this field (see Proof.Depth's doc comment).
func NewStep(
	source, target *term.Clause,
	sourceLiteral, targetLiteral *term.Literal,
	sourceSubs, targetSubs map[term.Variable]term.Term,
	resolvent *term.Clause,
	similarity float64,
	parent *Step,
) *Step {
	running := similarity
	depth := 0
	if parent != nil {
		if parent.RunningSimilarity < running {
			running = parent.RunningSimilarity
		}
		depth = parent.Depth + 1
	}
	return &Step{
		Source:              source,
		Target:              target,
		SourceLiteral:       sourceLiteral,
		TargetLiteral:       targetLiteral,
		SourceSubstitutions: sourceSubs,
		TargetSubstitutions: targetSubs,
		Resolvent:           resolvent,
		Similarity:          similarity,
		RunningSimilarity:   running,
		Depth:               depth,
		Parent:              parent,
	}
}

// Stats is a point-in-time snapshot of search statistics, attached to each
// finished Proof. The search driver owns the live (atomic) counters and
// produces this plain snapshot when a proof is recorded, so this package has
// no dependency on the search package's concurrency machinery.
type Stats struct {
	AttemptedResolutions  uint64
	SuccessfulResolutions uint64
	MaxResolventWidthSeen int
	MaxDepthSeen          int
	DiscardedProofs       uint64
}

// Proof is a single completed derivation: the original goal clause, the
// leaf step whose resolvent is the empty clause, its similarity, and the
// search statistics current as of when it was recorded.
type Proof struct {
	Goal      *term.Clause
	Similarity float64
	Stats     Stats
	Leaf      *Step
}

// New constructs a Proof from its leaf step.
func New(goal *term.Clause, similarity float64, stats Stats, leaf *Step) *Proof {
	return &Proof{Goal: goal, Similarity: similarity, Stats: stats, Leaf: leaf}
}

// Steps walks the leaf's parent chain and returns it in root-to-leaf order.
func (p *Proof) Steps() []*Step {
	var chain []*Step
	for s := p.Leaf; s != nil; s = s.Parent {
		chain = append(chain, s)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Depth returns the number of resolution steps in this proof, reconstructed
// from the parent chain. This is always used instead of any individual
// Step.Depth field: a step's own Depth is search-time bookkeeping that can
// diverge from the chain length actually retained once the proof is
// finalized (e.g. if steps are later pruned or re-parented), whereas the
// reconstructed chain length always reflects the proof as returned.
func (p *Proof) Depth() int { return len(p.Steps()) }

// Substitutions resolves every variable appearing in the goal clause to its
// final bound value (a constant, an unresolved variable, or a bound
// function whose arguments have themselves been resolved), by walking the
// ordered chain of each step's source substitutions.
func (p *Proof) Substitutions() map[term.Variable]term.Term {
	steps := p.Steps()
	chain := make([]map[term.Variable]term.Term, len(steps))
	for i, s := range steps {
		chain[i] = s.SourceSubstitutions
	}

	variables := findVariablesInClause(p.Goal)
	result := make(map[term.Variable]term.Term, len(variables))
	for _, v := range variables {
		result[v] = resolveVarValue(v, chain, 0)
	}
	return result
}

// resolveVarValue walks v forward through the ordered substitution chain
// starting at index. A variable left unbound at one step is not terminal:
// resolution continues into the next step under the same name, since a
// later resolution step may still bind it. A bound function's arguments all
// continue from the same next index, not independently advancing indices
// per argument.
func resolveVarValue(v term.Term, chain []map[term.Variable]term.Term, index int) term.Term {
	if index >= len(chain) {
		return v
	}
	variable, ok := v.(term.Variable)
	if !ok {
		return v
	}
	val, found := chain[index][variable]
	if !found {
		val = variable
	}
	switch bound := val.(type) {
	case term.Variable:
		return resolveVarValue(bound, chain, index+1)
	case term.Constant:
		return bound
	case *term.BoundFunction:
		newTerms := make([]term.Term, len(bound.Terms))
		for i, t := range bound.Terms {
			newTerms[i] = resolveVarValue(t, chain, index+1)
		}
		return &term.BoundFunction{Function: bound.Function, Terms: newTerms}
	default:
		return val
	}
}

func findVariablesInClause(c *term.Clause) []term.Variable {
	seen := make(map[term.Variable]struct{})
	var order []term.Variable
	var walk func(t term.Term)
	walk = func(t term.Term) {
		switch v := t.(type) {
		case term.Variable:
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				order = append(order, v)
			}
		case *term.BoundFunction:
			for _, sub := range v.Terms {
				walk(sub)
			}
		}
	}
	for _, l := range c.Literals {
		for _, t := range l.Atom.Terms {
			walk(t)
		}
	}
	return order
}
