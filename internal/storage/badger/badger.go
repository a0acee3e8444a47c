// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger is a thin wrapper around an embedded BadgerDB instance,
// giving callers a context-aware transaction helper and an in-memory mode for
// tests, rather than every caller reaching for the raw dgraph-io/badger API
// directly.
package badger

import (
	"context"
	"fmt"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// DB wraps an open BadgerDB instance.
//
// # Thread Safety
//
// Safe for concurrent use — it delegates directly to BadgerDB's own
// transaction machinery, which is itself safe for concurrent readers and
// writers.
type DB struct {
	db     *dgbadger.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) a BadgerDB at path. If inMemory is true,
// path is ignored and the store exists only for the process lifetime — the
// mode tests and ephemeral CLI invocations use.
func Open(path string, inMemory bool, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := dgbadger.DefaultOptions(path).
		WithLogger(nil). // Badger's own logger is noisy at Info; we log via slog instead.
		WithInMemory(inMemory)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &DB{db: db, logger: logger}, nil
}

// OpenReadOnly opens an existing on-disk BadgerDB without taking the write
// lock, as used by cache-inspection tooling running alongside a live service.
func OpenReadOnly(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := dgbadger.DefaultOptions(path).
		WithLogger(nil).
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open read-only: %w", err)
	}
	return &DB{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("badger: close: %w", err)
	}
	return nil
}

// WithTxn runs fn in a read-write transaction, committing on success and
// discarding on any error (including one returned by fn itself).
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// RunGC runs one BadgerDB value-log garbage collection pass, discarding the
// common "didn't result in any cleanup" error since that simply means there
// was nothing to collect.
func (d *DB) RunGC(discardRatio float64) error {
	err := d.db.RunValueLogGC(discardRatio)
	if err != nil && err != dgbadger.ErrNoRewrite {
		return fmt.Errorf("badger: value log gc: %w", err)
	}
	return nil
}
