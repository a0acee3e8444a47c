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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	fuzzyprover "github.com/AleutianAI/fuzzyprover"
	"github.com/AleutianAI/fuzzyprover/internal/config"
	"github.com/AleutianAI/fuzzyprover/internal/proof"
	"github.com/AleutianAI/fuzzyprover/internal/similarity"
	"github.com/AleutianAI/fuzzyprover/internal/term"
	"github.com/AleutianAI/fuzzyprover/internal/wire"
)

// Flag values for the prove command.
var (
	proveKnowledgePath string
	proveGoalsPath     string
	proveMaxProofs     int
	proveSimilarityFn  string
	proveForceJSON     bool
)

var proveCmd = &cobra.Command{
	Use:   "prove",
	Short: "Run one refutation search and print the proofs found",
	Long: `Loads a YAML knowledge base and a YAML goals file (both in the same clause
shape; goals must already be inverted CNF), runs the search, and prints the
ranked proofs. Output is human-readable on a terminal and newline-delimited
JSON when piped.`,
	RunE: runProveCommand,
}

func init() {
	proveCmd.Flags().StringVar(&proveKnowledgePath, "knowledge", "", "path to the YAML knowledge base (required)")
	proveCmd.Flags().StringVar(&proveGoalsPath, "goals", "", "path to the YAML inverted-goals file (required)")
	proveCmd.Flags().IntVar(&proveMaxProofs, "max-proofs", 0, "bound the number of returned proofs (0 = unbounded)")
	proveCmd.Flags().StringVar(&proveSimilarityFn, "similarity", "equality", "comparator: equality|embedding")
	proveCmd.Flags().BoolVar(&proveForceJSON, "json", false, "force NDJSON output even on a terminal")
	_ = proveCmd.MarkFlagRequired("knowledge")
	_ = proveCmd.MarkFlagRequired("goals")
}

// loadClauseFile reads a YAML clause file through dec so all files of one
// invocation share symbol identities.
func loadClauseFile(path string, dec *wire.Decoder) ([]*term.Clause, *wire.KnowledgeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	var kf wire.KnowledgeFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	clauses, err := dec.Clauses(kf.Clauses)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return clauses, &kf, nil
}

func comparatorFor(name string) (similarity.Comparator, error) {
	switch name {
	case "equality":
		return similarity.EqualityComparator{}, nil
	case "embedding":
		return similarity.NewCosineEmbeddingComparator(slog.Default()), nil
	default:
		return nil, fmt.Errorf("unknown similarity comparator %q (want equality|embedding)", name)
	}
}

func proverFromConfig(cfg *config.ProverConfig, comparator similarity.Comparator, knowledge []*term.Clause, corpusNames []string) (*fuzzyprover.Prover, error) {
	pcfg := fuzzyprover.Config{
		MaxProofDepth:               cfg.MaxProofDepth,
		MinSimilarityThreshold:      cfg.MinSimilarityThreshold,
		CacheSimilarity:             cfg.CacheSimilarity,
		SkipSeenResolvents:          cfg.SkipSeenResolvents,
		FindHighestSimilarityProofs: cfg.FindHighestSimilarityProofs,
		BaseKnowledge:               knowledge,
		NumWorkers:                  cfg.NumWorkers,
		EvalBatchSize:               cfg.EvalBatchSize,
		SimilarityFn:                comparator,
	}
	if cfg.MaxResolventWidth > 0 {
		w := cfg.MaxResolventWidth
		pcfg.MaxResolventWidth = &w
	}
	if cfg.MaxResolutionAttempts > 0 {
		a := cfg.MaxResolutionAttempts
		pcfg.MaxResolutionAttempts = &a
	}
	// An in-memory Badger store would die with the process anyway; the
	// persistent tier only earns its keep against a real path.
	if cfg.CacheSimilarity && cfg.BadgerPath != "" {
		store, err := openSimilarityStore(cfg)
		if err != nil {
			// A cold cache degrades performance, never correctness.
			slog.Warn("persistent similarity store unavailable, continuing without",
				slog.String("error", err.Error()))
		} else if store != nil {
			pcfg.CacheStore = store
			pcfg.CacheCorpusHash = similarity.ComputeCorpusHash(corpusNames, cfg.EmbeddingModel)
		}
	}
	return fuzzyprover.New(pcfg)
}

func runProveCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	comparator, err := comparatorFor(proveSimilarityFn)
	if err != nil {
		return err
	}

	dec := wire.NewDecoder(nil)
	knowledge, kf, err := loadClauseFile(proveKnowledgePath, dec)
	if err != nil {
		return err
	}
	// Goal files may also declare embeddings; merge both documents' vectors
	// into one decoder pass by re-decoding with the union when needed.
	goals, gf, err := loadClauseFile(proveGoalsPath, dec)
	if err != nil {
		return err
	}
	merged := make(map[string][]float32, len(kf.Embeddings)+len(gf.Embeddings))
	for k, v := range kf.Embeddings {
		merged[k] = v
	}
	for k, v := range gf.Embeddings {
		merged[k] = v
	}
	if cosine, ok := comparator.(*similarity.CosineEmbeddingComparator); ok {
		// Pre-embed every symbol the files left without a vector, so the
		// search never blocks on the embedding service mid-unification.
		var missing []string
		for _, name := range dec.SymbolNames() {
			if _, declared := merged[name]; !declared {
				missing = append(missing, name)
			}
		}
		warmed, werr := cosine.WarmNames(context.Background(), missing)
		if werr != nil {
			return werr
		}
		for k, v := range warmed {
			merged[k] = v
		}
	}
	if len(merged) > 0 {
		dec = wire.NewDecoder(merged)
		if knowledge, err = dec.Clauses(kf.Clauses); err != nil {
			return fmt.Errorf("decode %s: %w", proveKnowledgePath, err)
		}
		if goals, err = dec.Clauses(gf.Clauses); err != nil {
			return fmt.Errorf("decode %s: %w", proveGoalsPath, err)
		}
	}

	prover, err := proverFromConfig(cfg, comparator, knowledge, dec.SymbolNames())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var maxProofs *int
	if proveMaxProofs > 0 {
		maxProofs = &proveMaxProofs
	}

	start := time.Now()
	proofs, stats, err := prover.ProveAllWithStats(ctx, goals, nil, maxProofs, nil)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if perr := prover.PersistSimilarityCache(context.Background()); perr != nil {
		slog.Warn("persisting similarity cache failed", slog.String("error", perr.Error()))
	}

	if proveForceJSON || !isatty.IsTerminal(os.Stdout.Fd()) {
		return printProofsNDJSON(proofs, stats)
	}
	printProofsHuman(proofs, stats, time.Since(start))
	return nil
}

// proofLine is the NDJSON record emitted per proof, followed by one trailing
// stats record.
type proofLine struct {
	Similarity    float64           `json:"similarity"`
	Depth         int               `json:"depth"`
	Substitutions map[string]string `json:"substitutions"`
	Steps         []string          `json:"steps"`
}

func printProofsNDJSON(proofs []*proof.Proof, stats proof.Stats) error {
	enc := json.NewEncoder(os.Stdout)
	for _, p := range proofs {
		line := proofLine{
			Similarity:    p.Similarity,
			Depth:         p.Depth(),
			Substitutions: make(map[string]string),
			Steps:         make([]string, 0, p.Depth()),
		}
		for v, t := range p.Substitutions() {
			line.Substitutions[v.Name] = t.String()
		}
		for _, st := range p.Steps() {
			line.Steps = append(line.Steps, fmt.Sprintf("%s ⊗ %s ⇒ %s", st.Source, st.Target, st.Resolvent))
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return enc.Encode(map[string]any{
		"attempted_resolutions":  stats.AttemptedResolutions,
		"successful_resolutions": stats.SuccessfulResolutions,
		"max_depth_seen":         stats.MaxDepthSeen,
		"discarded_proofs":       stats.DiscardedProofs,
	})
}

func printProofsHuman(proofs []*proof.Proof, stats proof.Stats, elapsed time.Duration) {
	if len(proofs) == 0 {
		fmt.Println("No proofs found.")
	}
	for i, p := range proofs {
		fmt.Printf("Proof %d  (similarity %.4f, %d steps)\n", i+1, p.Similarity, p.Depth())
		subs := p.Substitutions()
		if len(subs) > 0 {
			fmt.Println("  Bindings:")
			for v, t := range subs {
				fmt.Printf("    %s ↦ %s\n", v.Name, t)
			}
		}
		fmt.Println("  Steps:")
		for j, st := range p.Steps() {
			fmt.Printf("    %d. [%.4f] %s  ⊗  %s  ⇒  %s\n", j+1, st.Similarity, st.Source, st.Target, st.Resolvent)
		}
		fmt.Println()
	}
	fmt.Printf("--- %d proof(s) in %s; %d resolutions attempted, %d successful, %d discarded\n",
		len(proofs), elapsed.Round(time.Millisecond),
		stats.AttemptedResolutions, stats.SuccessfulResolutions, stats.DiscardedProofs)
}
