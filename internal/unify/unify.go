// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package unify implements fuzzy-optional first-order unification: Robinson's
// 1965 algorithm (as formulated iteratively in Hoder et al. 2009, "Comparing
// unification algorithms in first-order theorem proving"), extended so that
// non-identical constant or predicate symbols may still unify when an
// external comparator reports similarity above a caller-supplied threshold.
package unify

import (
	"github.com/AleutianAI/fuzzyprover/internal/term"
)

// SimilarityContext supplies the threshold and comparator that Unify needs.
// It is satisfied by the shared/local proof context in internal/search.
type SimilarityContext interface {
	// Threshold returns the current minimum similarity floor; symbol pairs
	// scoring at or below it may not unify.
	Threshold() float64
	// CalcSimilarity returns a symmetric, deterministic similarity in [0,1]
	// for two symbols, consulting and populating any configured cache.
	CalcSimilarity(a, b term.Symbol) (float64, error)
	// CountSimilarityComparison records that one comparator invocation (cache
	// hit or miss) was attempted, for statistics purposes.
	CountSimilarityComparison()
}

// Unification is the result of successfully unifying two atoms: the
// substitutions each side must undergo, and the resulting similarity score.
type Unification struct {
	SourceSubstitutions map[term.Variable]term.Term
	TargetSubstitutions map[term.Variable]term.Term
	Similarity          float64
}

// Unify attempts to unify source against target under ctx's threshold and
// comparator. It returns (nil, false, nil) when unification fails for a
// structural or similarity reason, and (nil, false, err) only when the
// external comparator itself failed.
//
// # Thread Safety
//
// Unify mutates no shared state beyond what ctx.CalcSimilarity does
// internally; it is safe to call concurrently from multiple goroutines
// sharing the same ctx, provided ctx's own methods are.
func Unify(source, target *term.Atom, ctx SimilarityContext) (*Unification, bool, error) {
	if len(source.Terms) != len(target.Terms) {
		return nil, false, nil
	}

	similarity, err := ctx.CalcSimilarity(source.Predicate.Symbol, target.Predicate.Symbol)
	if err != nil {
		return nil, false, err
	}
	ctx.CountSimilarityComparison()

	// Abort early if the predicate similarity is too low.
	if similarity <= ctx.Threshold() {
		return nil, false, nil
	}

	return unifyTerms(source.Terms, target.Terms, similarity, ctx)
}

type bindingLabel uint8

const (
	labelSource bindingLabel = iota
	labelTarget
)

// labeledTerm pairs a term with which side of the resolution it came from.
// Source and target share one variable namespace, so the label disambiguates
// otherwise-identical variable names.
type labeledTerm struct {
	label bindingLabel
	term  term.Term
}

// labelKey is the map key for a labelled variable binding. Substitution
// targets are always variables (see the occurs-check invariant below), so
// the key need only carry a label and a variable name — both plain
// comparable values, unlike term.Term itself.
type labelKey struct {
	label bindingLabel
	name  string
}

func keyOf(lt labeledTerm) (labelKey, bool) {
	v, ok := lt.term.(term.Variable)
	if !ok {
		return labelKey{}, false
	}
	return labelKey{label: lt.label, name: v.Name}, true
}

func unifyTerms(sourceTerms, targetTerms []term.Term, similarity float64, ctx SimilarityContext) (*Unification, bool, error) {
	substitutions := make(map[labelKey]labeledTerm)
	curSimilarity := similarity
	for i, sourceTerm := range sourceTerms {
		targetTerm := targetTerms[i]
		newSimilarity, ok, err := unifyTermPair(sourceTerm, targetTerm, substitutions, curSimilarity, ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		curSimilarity = newSimilarity
	}

	sourceSubs := make(map[term.Variable]term.Term)
	targetSubs := make(map[term.Variable]term.Term)
	for key := range substitutions {
		variable := term.Variable{Name: key.name}
		resolved := resolveLabeled(labeledTerm{label: key.label, term: variable}, substitutions)
		if key.label == labelSource {
			sourceSubs[variable] = resolved.term
		} else {
			targetSubs[variable] = resolved.term
		}
	}

	return &Unification{
		SourceSubstitutions: sourceSubs,
		TargetSubstitutions: targetSubs,
		Similarity:          curSimilarity,
	}, true, nil
}

// resolveLabeled follows substitution chains for a labelled variable until a
// non-variable or an unbound variable is reached.
func resolveLabeled(lt labeledTerm, substitutions map[labelKey]labeledTerm) labeledTerm {
	key, isVar := keyOf(lt)
	if !isVar {
		return lt
	}
	if sub, found := substitutions[key]; found {
		return resolveLabeled(sub, substitutions)
	}
	return lt
}

// checkVarOccurrence refuses to bind v to t if t (walked through its own
// substitutions) ever reaches a variable named v under either label —
// directly, or as an argument of a bound function. Source and target share
// one variable namespace, so X vs f(X) fails even though the two X carry
// different labels. isSourceVar tells which label v belongs to; t is assumed
// to carry the opposite label.
func checkVarOccurrence(v term.Variable, isSourceVar bool, t term.Term, substitutions map[labelKey]labeledTerm) bool {
	termLabel := labelSource
	if isSourceVar {
		termLabel = labelTarget
	}

	stack := []labeledTerm{{label: termLabel, term: t}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cur = resolveLabeled(cur, substitutions)

		var comparisonVars []labeledTerm
		switch ct := cur.term.(type) {
		case term.Variable:
			comparisonVars = append(comparisonVars, cur)
		case *term.BoundFunction:
			for _, sub := range ct.Terms {
				if _, ok := sub.(term.Variable); ok {
					comparisonVars = append(comparisonVars, labeledTerm{label: cur.label, term: sub})
				}
			}
		}

		for _, cv := range comparisonVars {
			cvVar := cv.term.(term.Variable)
			if cvVar.Name == v.Name {
				return false
			}
			if sub, found := substitutions[labelKey{label: cv.label, name: cvVar.Name}]; found {
				stack = append(stack, sub)
			}
		}
	}
	return true
}

// unifyTermPair unifies a single pair of terms, pushing child pairs from
// matching bound functions onto an explicit stack (not the Go call stack) so
// deeply nested terms cannot overflow it. It returns the (possibly lowered)
// running similarity, or ok=false on failure.
func unifyTermPair(sourceTerm, targetTerm term.Term, substitutions map[labelKey]labeledTerm, similarity float64, ctx SimilarityContext) (float64, bool, error) {
	type pair struct{ source, target labeledTerm }
	stack := []pair{{
		source: labeledTerm{label: labelSource, term: sourceTerm},
		target: labeledTerm{label: labelTarget, term: targetTerm},
	}}
	curSimilarity := similarity

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		curSource := resolveLabeled(p.source, substitutions)
		curTarget := resolveLabeled(p.target, substitutions)

		sourceConst, sourceIsConst := curSource.term.(term.Constant)
		targetConst, targetIsConst := curTarget.term.(term.Constant)
		_, sourceIsVar := curSource.term.(term.Variable)
		_, targetIsVar := curTarget.term.(term.Variable)
		sourceFn, sourceIsFn := curSource.term.(*term.BoundFunction)
		targetFn, targetIsFn := curTarget.term.(*term.BoundFunction)

		switch {
		case sourceIsConst && targetIsConst:
			if !sourceConst.Equal(targetConst) {
				sim, err := ctx.CalcSimilarity(sourceConst.Symbol, targetConst.Symbol)
				if err != nil {
					return 0, false, err
				}
				ctx.CountSimilarityComparison()
				if sim < curSimilarity {
					curSimilarity = sim
				}
				if curSimilarity <= ctx.Threshold() {
					return 0, false, nil
				}
			}

		case sourceIsVar && targetIsVar:
			// Both variables: replace the target with the source (an
			// arbitrary but fixed orientation). Two sides that already
			// resolve to the same variable need no binding.
			if mustKey(curTarget) != mustKey(curSource) {
				substitutions[mustKey(curTarget)] = curSource
			}

		case sourceIsVar:
			sourceVar := curSource.term.(term.Variable)
			if checkVarOccurrence(sourceVar, curSource.label == labelSource, curTarget.term, substitutions) {
				substitutions[mustKey(curSource)] = curTarget
			} else {
				return 0, false, nil
			}

		case targetIsVar:
			targetVar := curTarget.term.(term.Variable)
			if checkVarOccurrence(targetVar, curTarget.label == labelSource, curSource.term, substitutions) {
				substitutions[mustKey(curTarget)] = curSource
			} else {
				return 0, false, nil
			}

		case sourceIsFn && targetIsFn:
			if !sourceFn.Function.Equal(targetFn.Function) || len(sourceFn.Terms) != len(targetFn.Terms) {
				return 0, false, nil
			}
			for i := range sourceFn.Terms {
				stack = append(stack, pair{
					source: labeledTerm{label: curSource.label, term: sourceFn.Terms[i]},
					target: labeledTerm{label: curTarget.label, term: targetFn.Terms[i]},
				})
			}

		default:
			// Mismatched term shapes (e.g. constant vs bound function) can
			// never unify.
			return 0, false, nil
		}
	}

	return curSimilarity, true, nil
}

func mustKey(lt labeledTerm) labelKey {
	key, ok := keyOf(lt)
	if !ok {
		panic("unify: substitution key must be a variable")
	}
	return key
}
