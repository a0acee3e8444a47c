// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi exposes the prover over HTTP: a synchronous /v1/prove
// endpoint, a WebSocket variant streaming stats snapshots while a search is
// in flight, and health/cache introspection endpoints.
package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	fuzzyprover "github.com/AleutianAI/fuzzyprover"
	"github.com/AleutianAI/fuzzyprover/internal/proof"
	"github.com/AleutianAI/fuzzyprover/internal/term"
	"github.com/AleutianAI/fuzzyprover/internal/wire"
)

var tracer = otel.Tracer("fuzzyprover.httpapi")

var (
	proveRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuzzyprover",
		Subsystem: "http",
		Name:      "prove_requests_total",
		Help:      "Number of /v1/prove requests, partitioned by outcome.",
	}, []string{"outcome"})
	proveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fuzzyprover",
		Subsystem: "http",
		Name:      "prove_duration_seconds",
		Help:      "Wall-clock duration of /v1/prove searches.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)

// requestValidate checks decoded request bodies beyond what JSON binding
// enforces structurally.
var requestValidate = validator.New()

// Server wires a Prover into HTTP handlers.
//
// # Thread Safety
//
// Safe for concurrent use; every handler is reentrant and the underlying
// Prover is itself concurrency-safe.
type Server struct {
	prover *fuzzyprover.Prover
	logger *slog.Logger
}

// NewServer builds a Server over prover. A nil logger selects slog.Default().
func NewServer(prover *fuzzyprover.Prover, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{prover: prover, logger: logger}
}

// Router builds the Gin engine with all routes and middleware registered:
//
//	POST /v1/prove         - run a refutation search, synchronous
//	GET  /v1/prove/stream  - WebSocket: same search, streaming stats
//	GET  /v1/healthz       - liveness
//	GET  /v1/cache/stats   - similarity cache and knowledge introspection
//	POST /v1/cache/purge   - empty the in-memory similarity cache
//	GET  /metrics          - Prometheus scrape endpoint
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("fuzzyprover"))

	v1 := router.Group("/v1")
	{
		v1.POST("/prove", s.HandleProve)
		v1.GET("/prove/stream", s.HandleProveStream)
		v1.GET("/healthz", s.HandleHealthz)
		v1.GET("/cache/stats", s.HandleCacheStats)
		v1.POST("/cache/purge", s.HandleCachePurge)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// ErrorResponse is the JSON error envelope every handler returns on failure.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ProveRequest is the /v1/prove request body. Goals must already be inverted
// (the CNF of the negated goal formula) — the prover performs no negation or
// CNF conversion of its own.
type ProveRequest struct {
	InvertedGoals      []wire.Clause        `json:"inverted_goals" validate:"required,min=1,dive"`
	ExtraKnowledge     []wire.Clause        `json:"extra_knowledge,omitempty" validate:"omitempty,dive"`
	Embeddings         map[string][]float32 `json:"embeddings,omitempty"`
	MaxProofs          *int                 `json:"max_proofs,omitempty" validate:"omitempty,gt=0"`
	SkipSeenResolvents *bool                `json:"skip_seen_resolvents,omitempty"`
}

// StatsResponse mirrors proof.Stats in the response envelope.
type StatsResponse struct {
	AttemptedResolutions  uint64 `json:"attempted_resolutions"`
	SuccessfulResolutions uint64 `json:"successful_resolutions"`
	MaxResolventWidthSeen int    `json:"max_resolvent_width_seen"`
	MaxDepthSeen          int    `json:"max_depth_seen"`
	DiscardedProofs       uint64 `json:"discarded_proofs"`
}

func statsResponse(st proof.Stats) StatsResponse {
	return StatsResponse{
		AttemptedResolutions:  st.AttemptedResolutions,
		SuccessfulResolutions: st.SuccessfulResolutions,
		MaxResolventWidthSeen: st.MaxResolventWidthSeen,
		MaxDepthSeen:          st.MaxDepthSeen,
		DiscardedProofs:       st.DiscardedProofs,
	}
}

// StepResponse is one resolution step of a returned proof.
type StepResponse struct {
	Source            wire.Clause `json:"source"`
	Target            wire.Clause `json:"target"`
	Resolvent         wire.Clause `json:"resolvent"`
	Similarity        float64     `json:"similarity"`
	RunningSimilarity float64     `json:"running_similarity"`
}

// ProofResponse is one returned proof: its score, reconstructed depth, goal
// bindings, and the root-to-leaf step chain.
type ProofResponse struct {
	Similarity    float64           `json:"similarity"`
	Depth         int               `json:"depth"`
	Goal          wire.Clause       `json:"goal"`
	Substitutions map[string]string `json:"substitutions"`
	Steps         []StepResponse    `json:"steps"`
}

// ProveResponse is the /v1/prove response envelope.
type ProveResponse struct {
	RequestID string          `json:"request_id"`
	Proofs    []ProofResponse `json:"proofs"`
	Stats     StatsResponse   `json:"stats"`
}

func proofResponse(p *proof.Proof) ProofResponse {
	steps := p.Steps()
	out := ProofResponse{
		Similarity:    p.Similarity,
		Depth:         p.Depth(),
		Goal:          wire.EncodeClause(p.Goal),
		Substitutions: make(map[string]string),
		Steps:         make([]StepResponse, 0, len(steps)),
	}
	for v, t := range p.Substitutions() {
		out.Substitutions[v.Name] = t.String()
	}
	for _, st := range steps {
		out.Steps = append(out.Steps, StepResponse{
			Source:            wire.EncodeClause(st.Source),
			Target:            wire.EncodeClause(st.Target),
			Resolvent:         wire.EncodeClause(st.Resolvent),
			Similarity:        st.Similarity,
			RunningSimilarity: st.RunningSimilarity,
		})
	}
	return out
}

// HandleProve handles POST /v1/prove.
//
// Description:
//
//	Decodes a clause set, runs the refutation search synchronously, and
//	returns the ranked proofs with final search statistics. The request
//	context bounds the search: a client disconnect cancels it.
//
// Response:
//
//	200 OK: ProveResponse
//	400 Bad Request: malformed body, invalid clause structure
//	408 Request Timeout: the request context was cancelled during the search
//	502 Bad Gateway: any other search failure, including an external
//	comparator failure or a recovered prover invariant violation
//
// Thread Safety: safe for concurrent use.
func (s *Server) HandleProve(c *gin.Context) {
	requestID := uuid.NewString()
	logger := s.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleProve"))

	req, goals, extra, ok := s.decodeProveRequest(c, logger)
	if !ok {
		proveRequestsTotal.WithLabelValues("bad_request").Inc()
		return
	}

	ctx, span := tracer.Start(c.Request.Context(), "httpapi.prove", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.Int("goal_count", len(goals)),
	))
	defer span.End()

	start := time.Now()
	proofs, stats, err := s.prover.ProveAllWithStats(ctx, goals, extra, req.MaxProofs, req.SkipSeenResolvents)
	proveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.writeSearchError(c, logger, err)
		return
	}

	proveRequestsTotal.WithLabelValues("ok").Inc()
	logger.Info("prove request completed",
		slog.Int("proofs", len(proofs)),
		slog.Duration("elapsed", time.Since(start)))

	resp := ProveResponse{RequestID: requestID, Proofs: make([]ProofResponse, 0, len(proofs)), Stats: statsResponse(stats)}
	for _, p := range proofs {
		resp.Proofs = append(resp.Proofs, proofResponse(p))
	}
	c.JSON(http.StatusOK, resp)
}

// decodeProveRequest binds, validates, and decodes the request body, writing
// the error response itself when anything fails.
func (s *Server) decodeProveRequest(c *gin.Context, logger *slog.Logger) (*ProveRequest, []*term.Clause, []*term.Clause, bool) {
	var req ProveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("malformed prove request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "MALFORMED_BODY"})
		return nil, nil, nil, false
	}
	if err := requestValidate.Struct(&req); err != nil {
		logger.Warn("invalid prove request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return nil, nil, nil, false
	}

	goals, extra, err := decodeStreamClauses(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_CLAUSE"})
		return nil, nil, nil, false
	}
	return &req, goals, extra, true
}

// decodeStreamClauses is decodeProveRequest's transport-free core, shared
// with the WebSocket handler which has no gin response writer to hand.
func decodeStreamClauses(req *ProveRequest) ([]*term.Clause, []*term.Clause, error) {
	dec := wire.NewDecoder(req.Embeddings)
	goals, err := dec.Clauses(req.InvertedGoals)
	if err != nil {
		return nil, nil, fmt.Errorf("inverted_goals: %w", err)
	}
	extra, err := dec.Clauses(req.ExtraKnowledge)
	if err != nil {
		return nil, nil, fmt.Errorf("extra_knowledge: %w", err)
	}
	return goals, extra, nil
}

func (s *Server) writeSearchError(c *gin.Context, logger *slog.Logger, err error) {
	if errors.Is(err, c.Request.Context().Err()) && c.Request.Context().Err() != nil {
		proveRequestsTotal.WithLabelValues("cancelled").Inc()
		logger.Warn("prove request cancelled", slog.String("error", err.Error()))
		c.JSON(http.StatusRequestTimeout, ErrorResponse{Error: err.Error(), Code: "SEARCH_CANCELLED"})
		return
	}
	proveRequestsTotal.WithLabelValues("error").Inc()
	logger.Error("prove request failed", slog.String("error", err.Error()))
	c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "SEARCH_FAILED"})
}

// HandleHealthz handles GET /v1/healthz.
func (s *Server) HandleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "knowledge_clauses": s.prover.KnowledgeSize()})
}

// HandleCacheStats handles GET /v1/cache/stats.
func (s *Server) HandleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"similarity_entries": s.prover.SimilarityCacheLen(),
		"knowledge_clauses":  s.prover.KnowledgeSize(),
	})
}

// HandleCachePurge handles POST /v1/cache/purge.
func (s *Server) HandleCachePurge(c *gin.Context) {
	s.prover.PurgeSimilarityCache()
	c.JSON(http.StatusOK, gin.H{"status": "purged"})
}
