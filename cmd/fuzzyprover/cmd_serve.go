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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/fuzzyprover/internal/config"
	"github.com/AleutianAI/fuzzyprover/internal/httpapi"
	"github.com/AleutianAI/fuzzyprover/internal/term"
	"github.com/AleutianAI/fuzzyprover/internal/wire"
)

// Flag values for the serve command.
var (
	serveAddr          string
	serveKnowledgePath string
	serveSimilarityFn  string
)

const serveShutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP prover service",
	Long: `Starts the Gin HTTP service exposing /v1/prove, the WebSocket streaming
variant, health, cache, and Prometheus metrics endpoints. When --config names
a file it is watched, and each change is re-read, validated and installed as
the process-wide config; the running prover keeps the settings it started
with. An optional --knowledge file seeds the base knowledge set.`,
	RunE: runServeCommand,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveKnowledgePath, "knowledge", "", "optional YAML knowledge base to preload")
	serveCmd.Flags().StringVar(&serveSimilarityFn, "similarity", "equality", "comparator: equality|embedding")
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	comparator, err := comparatorFor(serveSimilarityFn)
	if err != nil {
		return err
	}

	var knowledge []*term.Clause
	dec := wire.NewDecoder(nil)
	if serveKnowledgePath != "" {
		var kf *wire.KnowledgeFile
		knowledge, kf, err = loadClauseFile(serveKnowledgePath, dec)
		if err != nil {
			return err
		}
		if len(kf.Embeddings) > 0 {
			dec = wire.NewDecoder(kf.Embeddings)
			if knowledge, err = dec.Clauses(kf.Clauses); err != nil {
				return fmt.Errorf("decode %s: %w", serveKnowledgePath, err)
			}
		}
	}

	prover, err := proverFromConfig(cfg, comparator, knowledge, dec.SymbolNames())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if configPath != "" {
		watcher, werr := config.WatchFile(ctx, configPath, slog.Default(), nil)
		if werr != nil {
			slog.Warn("config hot-reload unavailable", slog.String("error", werr.Error()))
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	server := httpapi.NewServer(prover, slog.Default())
	httpServer := &http.Server{
		Addr:              serveAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("prover service listening",
			slog.String("addr", serveAddr),
			slog.Int("knowledge_clauses", prover.KnowledgeSize()))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := prover.PersistSimilarityCache(shutdownCtx); err != nil {
		slog.Warn("persisting similarity cache failed", slog.String("error", err.Error()))
	}
	return nil
}
