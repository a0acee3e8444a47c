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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/fuzzyprover/internal/storage/badger"
)

// errCacheMiss marks a corpus hash with nothing persisted yet; BadgerStore.Load
// turns it into a (nil, nil) result rather than surfacing it to the caller.
var errCacheMiss = errors.New("similarity: no persisted cache for corpus hash")

// BadgerStore persists a similarity table to an embedded BadgerDB instance,
// keyed by corpus hash with a configurable TTL so a stale table for a corpus
// that no longer exists eventually expires on its own rather than growing the
// database forever.
//
// # Thread Safety
//
// Safe for concurrent use — delegates to the underlying *badger.DB's own
// transaction machinery.
type BadgerStore struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerStore wraps db as a persistent similarity Store. A zero ttl means
// entries never expire.
func NewBadgerStore(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *BadgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, ttl: ttl, logger: logger}
}

func similarityKey(corpusHash string) []byte {
	return []byte("similarity:" + corpusHash)
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context, corpusHash string) (map[uint64]float64, error) {
	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(similarityKey(corpusHash))
		if err != nil {
			if errors.Is(err, dgbadger.ErrKeyNotFound) {
				return errCacheMiss
			}
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if errors.Is(err, errCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger store: load %s: %w", shortHash(corpusHash), err)
	}
	values, err := gobDecodeTable(raw)
	if err != nil {
		return nil, err
	}
	return values, nil
}

// Save implements Store.
func (s *BadgerStore) Save(ctx context.Context, corpusHash string, values map[uint64]float64) error {
	raw, err := gobEncodeTable(values)
	if err != nil {
		return err
	}
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(similarityKey(corpusHash), raw)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// ComputeCorpusHash derives a deterministic cache key from the set of symbol
// names appearing in a knowledge base plus the comparator's identifying
// model/version string, so that two otherwise-identical searches against
// different comparators (or a comparator upgrade) never collide on a stale
// persisted table. Input names are sorted before hashing so presentation
// order never affects the result.
func ComputeCorpusHash(symbolNames []string, comparatorVersion string) string {
	sorted := append([]string(nil), symbolNames...)
	sort.Strings(sorted)
	h := sha256.New()
	_, _ = h.Write([]byte(strings.Join(sorted, "\t")))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(comparatorVersion))
	return hex.EncodeToString(h.Sum(nil))
}
