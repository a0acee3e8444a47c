// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command fuzzyprover is the CLI surface over the fuzzy resolution prover:
//
//	fuzzyprover prove --knowledge kb.yaml --goals goals.yaml
//	fuzzyprover serve --addr :8080
//	fuzzyprover cache inspect
//	fuzzyprover cache purge
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/fuzzyprover/internal/config"
)

// configPath and logLevel hold the root command's persistent flag values.
var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "fuzzyprover",
	Short: "Fuzzy first-order resolution theorem prover",
	Long: `fuzzyprover searches for resolution-refutation proofs over a CNF knowledge
base, ranking proofs by accumulated symbol similarity. Symbols may carry
embedding vectors; non-identical symbols unify when their similarity exceeds
a dynamic threshold.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return setupLogging(logLevel)
	},
	SilenceUsage: true,
}

func setupLogging(level string) error {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q (want debug|info|warn|error)", level)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
	return nil
}

// loadConfig returns the active configuration: the file named by --config
// when given, the embedded default otherwise.
func loadConfig() (*config.ProverConfig, error) {
	if configPath == "" {
		return config.Default()
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}
	cfg, err := config.Load(data)
	if err != nil {
		return nil, err
	}
	config.Set(cfg)
	return cfg, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file (embedded defaults when unset)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")

	rootCmd.AddCommand(proveCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
