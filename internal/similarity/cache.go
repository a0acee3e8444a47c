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
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Store is a persistent tier for a Cache's similarity table, keyed by a
// caller-supplied corpus identity (see ComputeCorpusHash) so a search over an
// unchanged knowledge base can reuse comparator results across restarts.
type Store interface {
	// Load returns the persisted similarity table for corpusHash, or a nil
	// map and a nil error if nothing is stored yet.
	Load(ctx context.Context, corpusHash string) (map[uint64]float64, error)
	// Save persists the similarity table under corpusHash.
	Save(ctx context.Context, corpusHash string, values map[uint64]float64) error
}

// Cache wraps a Comparator with an in-memory table keyed by the symmetric
// (commutative) hash of the two symbols being compared, collapsing concurrent
// requests for the same pair via singleflight, and optionally persisting the
// table to a Store between runs.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cache struct {
	comparator Comparator
	store      Store
	corpusHash string
	logger     *slog.Logger

	mu sync.RWMutex
	m  map[uint64]float64
	sf singleflight.Group
}

// NewCache builds a Cache in front of comparator. store and corpusHash may be
// left zero-valued (nil, "") to disable persistence entirely.
func NewCache(comparator Comparator, store Store, corpusHash string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		comparator: comparator,
		store:      store,
		corpusHash: corpusHash,
		logger:     logger,
		m:          make(map[uint64]float64),
	}
}

// Warm loads any previously persisted table for this cache's corpus hash. It
// is a no-op (returning nil) if no Store was configured.
func (c *Cache) Warm(ctx context.Context) error {
	if c.store == nil || c.corpusHash == "" {
		return nil
	}
	values, err := c.store.Load(ctx, c.corpusHash)
	if err != nil {
		return fmt.Errorf("similarity: warm cache: %w", err)
	}
	if len(values) == 0 {
		return nil
	}
	c.mu.Lock()
	for k, v := range values {
		c.m[k] = v
	}
	c.mu.Unlock()
	c.logger.Info("similarity cache warmed from persistent store",
		slog.String("corpus_hash", shortHash(c.corpusHash)),
		slog.Int("entries", len(values)))
	return nil
}

// Persist writes the current in-memory table to the configured Store. It is
// a no-op if no Store was configured.
func (c *Cache) Persist(ctx context.Context) error {
	if c.store == nil || c.corpusHash == "" {
		return nil
	}
	c.mu.RLock()
	snapshot := make(map[uint64]float64, len(c.m))
	for k, v := range c.m {
		snapshot[k] = v
	}
	c.mu.RUnlock()
	if err := c.store.Save(ctx, c.corpusHash, snapshot); err != nil {
		return fmt.Errorf("similarity: persist cache: %w", err)
	}
	return nil
}

// Get returns the cached similarity for (a, b), computing and caching it via
// the wrapped comparator on a miss. Concurrent misses for the same pair
// collapse into a single comparator invocation.
func (c *Cache) Get(a, b Symbol) (float64, error) {
	key := cacheKey(a.Hash(), b.Hash())

	c.mu.RLock()
	if v, ok := c.m[key]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.sf.Do(strconv.FormatUint(key, 36), func() (interface{}, error) {
		c.mu.RLock()
		if v, ok := c.m[key]; ok {
			c.mu.RUnlock()
			return v, nil
		}
		c.mu.RUnlock()

		sim, err := c.comparator.Compare(a, b)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.m[key] = sim
		c.mu.Unlock()
		return sim, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Len returns the number of entries currently cached, for /cache/stats and
// cache-inspection tooling.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Purge empties the in-memory table. The persistent tier, if any, is left
// untouched until the next Persist call.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[uint64]float64)
}

// cacheKey combines two symbol hashes commutatively (XOR) so Get(a, b) and
// Get(b, a) hit the same entry, since Comparator implementations are assumed
// symmetric.
func cacheKey(ha, hb uint64) uint64 { return ha ^ hb }

func shortHash(h string) string {
	if len(h) <= 8 {
		return h
	}
	return h[:8] + "..."
}

// gobEncode serializes a similarity table for persistence.
func gobEncodeTable(values map[uint64]float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(values); err != nil {
		return nil, fmt.Errorf("gob encode similarity table: %w", err)
	}
	return buf.Bytes(), nil
}

// gobDecodeTable deserializes a similarity table persisted by gobEncodeTable.
func gobDecodeTable(raw []byte) (map[uint64]float64, error) {
	var values map[uint64]float64
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&values); err != nil {
		return nil, fmt.Errorf("gob decode similarity table: %w", err)
	}
	return values, nil
}
