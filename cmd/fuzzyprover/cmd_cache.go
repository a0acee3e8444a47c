// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/fuzzyprover/internal/config"
	"github.com/AleutianAI/fuzzyprover/internal/similarity"
	badgerstore "github.com/AleutianAI/fuzzyprover/internal/storage/badger"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or purge the persistent similarity cache",
}

var cacheInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List persisted similarity tables by corpus hash",
	RunE:  runCacheInspect,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every persisted similarity table",
	RunE:  runCachePurge,
}

func init() {
	cacheCmd.AddCommand(cacheInspectCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

// openSimilarityStore opens the Badger-backed similarity store the
// configuration names, or (nil, nil) when persistence is not configured.
func openSimilarityStore(cfg *config.ProverConfig) (*similarity.BadgerStore, error) {
	if cfg.BadgerPath == "" && !cfg.BadgerInMemory {
		return nil, nil
	}
	db, err := badgerstore.Open(cfg.BadgerPath, cfg.BadgerInMemory, slog.Default())
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(cfg.BadgerTTLSeconds) * time.Second
	return similarity.NewBadgerStore(db, ttl, slog.Default()), nil
}

// openCacheDB opens the cache database directly for inspection tooling. An
// in-memory configuration has nothing on disk to inspect.
func openCacheDB(cfg *config.ProverConfig, readOnly bool) (*badgerstore.DB, error) {
	if cfg.BadgerPath == "" {
		return nil, fmt.Errorf("no badger_path configured; an in-memory cache has nothing persisted to inspect")
	}
	if readOnly {
		return badgerstore.OpenReadOnly(cfg.BadgerPath, slog.Default())
	}
	return badgerstore.Open(cfg.BadgerPath, false, slog.Default())
}

const similarityKeyPrefix = "similarity:"

func runCacheInspect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openCacheDB(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	count := 0
	err = db.WithReadTxn(cmd.Context(), func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(similarityKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			count++
			fmt.Printf("%s  (%d bytes", item.Key()[len(similarityKeyPrefix):], item.ValueSize())
			if exp := item.ExpiresAt(); exp > 0 {
				fmt.Printf(", expires %s", time.Unix(int64(exp), 0).Format(time.RFC3339))
			}
			fmt.Println(")")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("inspect cache: %w", err)
	}
	fmt.Printf("%d persisted similarity table(s)\n", count)
	return nil
}

func runCachePurge(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openCacheDB(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var keys [][]byte
	err = db.WithReadTxn(cmd.Context(), func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(similarityKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("purge cache: scan: %w", err)
	}

	err = db.WithTxn(cmd.Context(), func(txn *dgbadger.Txn) error {
		for _, k := range keys {
			if derr := txn.Delete(k); derr != nil {
				return derr
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("purge cache: delete: %w", err)
	}
	fmt.Printf("deleted %d persisted similarity table(s)\n", len(keys))
	return nil
}
