// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package similarity supplies the external comparator the unifier and search
// driver consult whenever two symbols are not identical: a pluggable
// Comparator interface, a default name-equality fallback, an HTTP-backed
// cosine/embedding comparator, and a commutative, concurrency-safe cache with
// an optional BadgerDB-persisted tier so repeated searches over an unchanged
// knowledge base do not re-invoke an expensive comparator across restarts.
package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Symbol is the minimal shape a comparator needs: a name and an opaque
// embedding. term.Symbol (and therefore term.Predicate and term.Constant)
// already satisfies this interface structurally.
type Symbol interface {
	Name() string
	Embedding() any
	Hash() uint64
}

// Comparator reports a symmetric, deterministic similarity in [0,1] between
// two symbols. Implementations MUST be symmetric and deterministic — the
// Cache wrapping a Comparator relies on both properties for key collapsing
// and cross-call reuse.
type Comparator interface {
	Compare(a, b Symbol) (float64, error)
}

// ComparatorFunc adapts a plain function to the Comparator interface.
type ComparatorFunc func(a, b Symbol) (float64, error)

// Compare implements Comparator.
func (f ComparatorFunc) Compare(a, b Symbol) (float64, error) { return f(a, b) }

// EqualityComparator is the core's built-in fallback when no comparator is
// supplied: symbols are similar (1.0) iff their names match, else 0.0. This
// degrades the fuzzy prover to classical resolution.
type EqualityComparator struct{}

// Compare implements Comparator.
func (EqualityComparator) Compare(a, b Symbol) (float64, error) {
	if a.Name() == b.Name() {
		return 1.0, nil
	}
	return 0.0, nil
}

// =============================================================================
// Cosine/Embedding Comparator
// =============================================================================

// embedWarmConcurrency bounds how many embedding vectors CosineEmbeddingComparator
// precomputes at once when asked to embed plain names that carry no vector of
// their own.
const embedWarmConcurrency = 10

// embedQueryTimeout bounds a single embedding HTTP call. Compare is on the
// unifier's hot path; a slow embedding service must not stall the whole search.
const embedQueryTimeout = 3 * time.Second

// embedReq is the Ollama /api/embed request body.
type embedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResp is the Ollama /api/embed response body.
type embedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// CosineEmbeddingComparator computes cosine similarity between two symbols'
// embedding vectors. When a symbol already carries a []float32 embedding
// (the common case once the caller has interned one), that vector is used
// directly — no network call. Otherwise the symbol's name is embedded via an
// external HTTP endpoint (the Ollama /api/embed shape) and the result is not
// itself cached here; wrap this comparator in Cache for that.
//
// # Thread Safety
//
// Safe for concurrent use.
type CosineEmbeddingComparator struct {
	url    string
	model  string
	client *http.Client
	logger *slog.Logger
}

// NewCosineEmbeddingComparator builds a comparator reading
// EMBEDDING_SERVICE_URL / EMBEDDING_MODEL from the environment, falling back
// to a local Ollama instance and nomic-embed-text-v2-moe.
func NewCosineEmbeddingComparator(logger *slog.Logger) *CosineEmbeddingComparator {
	if logger == nil {
		logger = slog.Default()
	}
	url := os.Getenv("EMBEDDING_SERVICE_URL")
	if url == "" {
		url = "http://host.containers.internal:11434/api/embed"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text-v2-moe"
	}
	return &CosineEmbeddingComparator{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Compare implements Comparator.
func (c *CosineEmbeddingComparator) Compare(a, b Symbol) (float64, error) {
	vecA, err := c.vectorOf(a)
	if err != nil {
		return 0, fmt.Errorf("similarity: embed %q: %w", a.Name(), err)
	}
	vecB, err := c.vectorOf(b)
	if err != nil {
		return 0, fmt.Errorf("similarity: embed %q: %w", b.Name(), err)
	}
	return cosine(vecA, vecB), nil
}

// vectorOf returns a's own embedding if it is already a []float32, otherwise
// embeds a.Name() via the configured HTTP endpoint.
func (c *CosineEmbeddingComparator) vectorOf(s Symbol) ([]float32, error) {
	if vec, ok := s.Embedding().([]float32); ok && len(vec) > 0 {
		return vec, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), embedQueryTimeout)
	defer cancel()
	return c.embed(ctx, s.Name())
}

func (c *CosineEmbeddingComparator) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedReq{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed embedResp
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed service returned empty vector")
	}
	return parsed.Embeddings[0], nil
}

// WarmNames pre-embeds symbol names concurrently (bounded fan-out) so the
// search's hot path never blocks on the embedding service. Individual
// failures are logged and skipped rather than failing the warm-up — a
// missing vector just means that name is embedded lazily on first compare.
// Only context cancellation aborts the whole pass.
func (c *CosineEmbeddingComparator) WarmNames(ctx context.Context, names []string) (map[string][]float32, error) {
	var mu sync.Mutex
	vectors := make(map[string][]float32, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWarmConcurrency)
	for _, name := range names {
		g.Go(func() error {
			vec, err := c.embed(gctx, name)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Warn("embedding warm-up failed for symbol, will embed lazily",
					slog.String("symbol", name),
					slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			vectors[name] = vec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("similarity: warm embeddings: %w", err)
	}
	c.logger.Info("embedding warm-up complete",
		slog.Int("requested", len(names)),
		slog.Int("embedded", len(vectors)))
	return vectors, nil
}

// cosine computes cosine similarity between two float32 vectors, clamped to
// [0,1] (negative cosine collapses to 0 — the prover has no notion of
// "opposite" similarity).
func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
