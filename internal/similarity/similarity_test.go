// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package similarity

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/fuzzyprover/internal/term"
)

func TestEqualityComparator(t *testing.T) {
	var c EqualityComparator
	a := term.NewConstant("alice", nil)
	b := term.NewConstant("alice", nil)
	d := term.NewConstant("bob", nil)

	if sim, err := c.Compare(a, b); err != nil || sim != 1.0 {
		t.Fatalf("expected 1.0, got %v err=%v", sim, err)
	}
	if sim, err := c.Compare(a, d); err != nil || sim != 0.0 {
		t.Fatalf("expected 0.0, got %v err=%v", sim, err)
	}
}

func TestCosineHelper(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	if got := cosine(a, b); got != 1.0 {
		t.Fatalf("expected identical vectors to score 1.0, got %v", got)
	}
	orth := []float32{0, 1, 0}
	if got := cosine(a, orth); got != 0.0 {
		t.Fatalf("expected orthogonal vectors to score 0.0, got %v", got)
	}
}

func TestCacheDeduplicatesSymmetricPairs(t *testing.T) {
	var calls int32
	comparator := ComparatorFunc(func(a, b Symbol) (float64, error) {
		atomic.AddInt32(&calls, 1)
		return 0.42, nil
	})
	cache := NewCache(comparator, nil, "", nil)

	a := term.NewConstant("car", nil)
	b := term.NewConstant("automobile", nil)

	v1, err := cache.Get(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := cache.Get(b, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v1 != 0.42 || v2 != 0.42 {
		t.Fatalf("expected cached value 0.42, got %v and %v", v1, v2)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected the comparator to be invoked exactly once for a commutative pair, got %d", got)
	}
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	comparator := ComparatorFunc(func(a, b Symbol) (float64, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 0.9, nil
	})
	cache := NewCache(comparator, nil, "", nil)

	a := term.NewConstant("x", nil)
	b := term.NewConstant("y", nil)

	var wg sync.WaitGroup
	results := make([]float64, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := cache.Get(a, b)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}
	close(release)
	wg.Wait()

	for _, v := range results {
		if v != 0.9 {
			t.Fatalf("expected all callers to observe 0.9, got %v", v)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected singleflight to collapse concurrent misses into one call, got %d", got)
	}
}

func TestCachePropagatesComparatorError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	comparator := ComparatorFunc(func(a, b Symbol) (float64, error) {
		return 0, wantErr
	})
	cache := NewCache(comparator, nil, "", nil)

	_, err := cache.Get(term.NewConstant("a", nil), term.NewConstant("b", nil))
	if err != wantErr {
		t.Fatalf("expected comparator error to propagate, got %v", err)
	}
}

func TestCachePurgeClearsEntries(t *testing.T) {
	comparator := EqualityComparator{}
	cache := NewCache(comparator, nil, "", nil)
	a := term.NewConstant("a", nil)
	if _, err := cache.Get(a, a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected one cached entry, got %d", cache.Len())
	}
	cache.Purge()
	if cache.Len() != 0 {
		t.Fatalf("expected cache to be empty after purge, got %d", cache.Len())
	}
}

func TestComputeCorpusHashDeterministicRegardlessOfOrder(t *testing.T) {
	h1 := ComputeCorpusHash([]string{"alice", "bob", "likes"}, "v1")
	h2 := ComputeCorpusHash([]string{"likes", "alice", "bob"}, "v1")
	if h1 != h2 {
		t.Fatalf("expected order-independent hash, got %q vs %q", h1, h2)
	}
	h3 := ComputeCorpusHash([]string{"alice", "bob", "likes"}, "v2")
	if h1 == h3 {
		t.Fatalf("expected comparator version to change the hash")
	}
}
