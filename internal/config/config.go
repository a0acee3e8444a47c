// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the prover's runtime configuration from
// YAML, falling back to an embedded default and supporting an optional
// fsnotify-driven hot reload for long-running server deployments.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigYAML []byte

// maxConfigBytes bounds how large a configuration file we will parse, as a
// defense against a misconfigured path pointing at an unrelated large file.
const maxConfigBytes = 1 << 20 // 1 MiB

// ProverConfig is the full set of tunables for one fuzzyprover.Prover instance.
// Field names mirror fuzzyprover.Config; this type is the YAML-serializable
// surface, fuzzyprover.Config is the Go-idiomatic surface constructed from it.
type ProverConfig struct {
	MaxProofDepth               int  `yaml:"max_proof_depth" validate:"required,gt=0"`
	MaxResolventWidth           int  `yaml:"max_resolvent_width" validate:"gte=0"`
	MaxResolutionAttempts       int  `yaml:"max_resolution_attempts" validate:"gte=0"`
	MinSimilarityThreshold      float64 `yaml:"min_similarity_threshold" validate:"gte=0,lte=1"`
	CacheSimilarity             bool `yaml:"cache_similarity"`
	SkipSeenResolvents          bool `yaml:"skip_seen_resolvents"`
	FindHighestSimilarityProofs bool `yaml:"find_highest_similarity_proofs"`
	NumWorkers                  int  `yaml:"num_workers" validate:"gte=0"`
	EvalBatchSize               int  `yaml:"eval_batch_size" validate:"gte=0"`

	EmbeddingServiceURL string `yaml:"embedding_service_url" validate:"omitempty,url"`
	EmbeddingModel      string `yaml:"embedding_model"`

	BadgerPath       string `yaml:"badger_path"`
	BadgerInMemory   bool   `yaml:"badger_in_memory"`
	BadgerTTLSeconds int    `yaml:"badger_ttl_seconds" validate:"gte=0"`
}

var (
	mu       sync.RWMutex
	current  *ProverConfig
	validate = validator.New()
)

// Default returns the embedded default configuration, parsed fresh on every
// call so a caller is free to mutate the result.
func Default() (*ProverConfig, error) {
	return Load(defaultConfigYAML)
}

// Load parses and validates a YAML document into a ProverConfig, applying
// embedded defaults for any field the document omits.
func Load(data []byte) (*ProverConfig, error) {
	if len(data) > maxConfigBytes {
		return nil, fmt.Errorf("config: document too large (%d bytes, max %d)", len(data), maxConfigBytes)
	}

	cfg := new(ProverConfig)
	if err := yaml.Unmarshal(defaultConfigYAML, cfg); err != nil {
		return nil, fmt.Errorf("config: parse embedded defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse document: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	slog.Info("prover configuration loaded",
		slog.Int("max_proof_depth", cfg.MaxProofDepth),
		slog.Float64("min_similarity_threshold", cfg.MinSimilarityThreshold),
		slog.Bool("cache_similarity", cfg.CacheSimilarity),
		slog.Int("num_workers", cfg.NumWorkers))

	return cfg, nil
}

// Get returns the currently active process-wide configuration, loading the
// embedded default on first use.
func Get() (*ProverConfig, error) {
	mu.RLock()
	if current != nil {
		defer mu.RUnlock()
		return current, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return current, nil
	}
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	current = cfg
	return current, nil
}

// Set installs cfg as the process-wide active configuration, as used by a
// hot-reload watcher after a validated file change.
func Set(cfg *ProverConfig) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}

// Reset clears the process-wide active configuration so the next Get call
// reloads the embedded default. Intended for test isolation.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	current = nil
}
