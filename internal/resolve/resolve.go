// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve builds the resolvent clause of a single resolution step:
// the two resolved literals are dropped, any variable name that would
// otherwise collide across the two clauses' independent namespaces is
// renamed, and each side's unification substitutions are applied to what
// remains.
package resolve

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/AleutianAI/fuzzyprover/internal/term"
)

// varSuffixPattern strips a trailing "_<digits>" disambiguation suffix
// (e.g. "X_2" -> "X") so a freshly renamed variable can be built from the
// same base name.
var varSuffixPattern = regexp.MustCompile(`_\d+$`)

// BuildResolvent removes sourceLiteral from source and targetLiteral from
// target, renames any variable that would otherwise collide between the two
// clauses' remaining literals, applies each side's substitutions, and
// returns the union as a new clause (the empty clause if nothing remains).
//
// BuildResolvent panics if either literal is not present in its clause —
// that would mean a caller passed a literal that was not actually part of
// the unification that produced sourceSubs/targetSubs, a structural
// invariant violation rather than a recoverable failure.
func BuildResolvent(
	source *term.Clause, sourceLiteral *term.Literal, sourceSubs map[term.Variable]term.Term,
	target *term.Clause, targetLiteral *term.Literal, targetSubs map[term.Variable]term.Term,
) *term.Clause {
	sourceRemaining := source.Without(sourceLiteral)
	targetRemaining := target.Without(targetLiteral)

	unusedSourceVars := FindUnusedVariables(sourceRemaining, sourceSubs)
	unusedTargetVars := FindUnusedVariables(targetRemaining, targetSubs)

	allVariables := make(map[string]struct{})
	for v := range collectVariableNames(sourceRemaining) {
		allVariables[v] = struct{}{}
	}
	for v := range collectVariableNames(targetRemaining) {
		allVariables[v] = struct{}{}
	}
	for v := range sourceSubs {
		allVariables[v.Name] = struct{}{}
	}
	for v := range targetSubs {
		allVariables[v.Name] = struct{}{}
	}

	overlapping := intersectByName(unusedSourceVars, unusedTargetVars)
	renames := FindNonOverlappingVarNames(overlapping, allVariables)

	renamedTarget := RenameVariablesInLiterals(targetRemaining, renames)
	substitutedSource := PerformSubstitution(sourceRemaining, sourceSubs)
	substitutedTarget := PerformSubstitution(renamedTarget, targetSubs)

	merged := make([]*term.Literal, 0, len(substitutedSource)+len(substitutedTarget))
	merged = append(merged, substitutedSource...)
	merged = append(merged, substitutedTarget...)
	return term.NewClause(merged...)
}

// FindUnusedVariables returns, in deterministic (name-sorted) order, every
// variable appearing in literals that is not a key of substitutions — i.e.
// variables the unification step left untouched.
func FindUnusedVariables(literals []*term.Literal, substitutions map[term.Variable]term.Term) []term.Variable {
	used := make(map[term.Variable]struct{})
	for _, l := range literals {
		findVariablesInLiteral(l, used)
	}
	unused := make([]term.Variable, 0, len(used))
	for v := range used {
		if _, bound := substitutions[v]; !bound {
			unused = append(unused, v)
		}
	}
	sort.Slice(unused, func(i, j int) bool { return unused[i].Name < unused[j].Name })
	return unused
}

// FindNonOverlappingVarNames builds a rename plan for overlapping (renaming
// each to a fresh name derived from its own base name, disjoint from every
// name in allVariables, and from each other). allVariables is mutated as
// each fresh name is chosen, so repeated base names get distinct suffixes.
func FindNonOverlappingVarNames(overlapping []term.Variable, allVariables map[string]struct{}) map[term.Variable]term.Variable {
	renames := make(map[term.Variable]term.Variable, len(overlapping))
	for _, v := range overlapping {
		base := varSuffixPattern.ReplaceAllString(v.Name, "")
		counter := 1
		candidate := base + "_" + strconv.Itoa(counter)
		for {
			if _, taken := allVariables[candidate]; !taken {
				break
			}
			counter++
			candidate = base + "_" + strconv.Itoa(counter)
		}
		allVariables[candidate] = struct{}{}
		renames[v] = term.Variable{Name: candidate}
	}
	return renames
}

// RenameVariablesInLiterals rewrites every variable in literals that has an
// entry in renames, leaving literals with no affected variable untouched
// (returning the original pointer rather than rebuilding it).
func RenameVariablesInLiterals(literals []*term.Literal, renames map[term.Variable]term.Variable) []*term.Literal {
	if len(renames) == 0 {
		return literals
	}
	subs := make(map[term.Variable]term.Term, len(renames))
	for from, to := range renames {
		subs[from] = to
	}
	out := make([]*term.Literal, len(literals))
	for i, l := range literals {
		if !literalRequiresSubstitution(l, subs) {
			out[i] = l
			continue
		}
		out[i] = term.NewLiteral(substituteAtom(l.Atom, subs), l.Polarity)
	}
	return out
}

// PerformSubstitution applies substitutions to every literal, again skipping
// the rebuild for literals no substitution touches.
func PerformSubstitution(literals []*term.Literal, substitutions map[term.Variable]term.Term) []*term.Literal {
	if len(substitutions) == 0 {
		return literals
	}
	out := make([]*term.Literal, len(literals))
	for i, l := range literals {
		if !literalRequiresSubstitution(l, substitutions) {
			out[i] = l
			continue
		}
		out[i] = term.NewLiteral(substituteAtom(l.Atom, substitutions), l.Polarity)
	}
	return out
}

func literalRequiresSubstitution(l *term.Literal, substitutions map[term.Variable]term.Term) bool {
	found := false
	walkTermVariables(l.Atom.Terms, func(v term.Variable) {
		if _, ok := substitutions[v]; ok {
			found = true
		}
	})
	return found
}

func substituteAtom(a *term.Atom, substitutions map[term.Variable]term.Term) *term.Atom {
	newTerms := make([]term.Term, len(a.Terms))
	for i, t := range a.Terms {
		newTerms[i] = substituteTerm(t, substitutions)
	}
	return term.NewAtom(a.Predicate, newTerms...)
}

func substituteTerm(t term.Term, substitutions map[term.Variable]term.Term) term.Term {
	switch v := t.(type) {
	case term.Variable:
		if replacement, ok := substitutions[v]; ok {
			return replacement
		}
		return v
	case term.Constant:
		return v
	case *term.BoundFunction:
		newTerms := make([]term.Term, len(v.Terms))
		for i, sub := range v.Terms {
			newTerms[i] = substituteTerm(sub, substitutions)
		}
		return &term.BoundFunction{Function: v.Function, Terms: newTerms}
	default:
		return t
	}
}

func walkTermVariables(terms []term.Term, visit func(term.Variable)) {
	for _, t := range terms {
		switch v := t.(type) {
		case term.Variable:
			visit(v)
		case *term.BoundFunction:
			walkTermVariables(v.Terms, visit)
		}
	}
}

func findVariablesInLiteral(l *term.Literal, into map[term.Variable]struct{}) {
	walkTermVariables(l.Atom.Terms, func(v term.Variable) { into[v] = struct{}{} })
}

func collectVariableNames(literals []*term.Literal) map[string]struct{} {
	names := make(map[string]struct{})
	for _, l := range literals {
		walkTermVariables(l.Atom.Terms, func(v term.Variable) { names[v.Name] = struct{}{} })
	}
	return names
}

func intersectByName(a, b []term.Variable) []term.Variable {
	inB := make(map[string]struct{}, len(b))
	for _, v := range b {
		inB[v.Name] = struct{}{}
	}
	out := make([]term.Variable, 0)
	seen := make(map[string]struct{})
	for _, v := range a {
		if _, ok := inB[v.Name]; ok {
			if _, dup := seen[v.Name]; !dup {
				out = append(out, v)
				seen[v.Name] = struct{}{}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
