// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fuzzyprover "github.com/AleutianAI/fuzzyprover"
	"github.com/AleutianAI/fuzzyprover/internal/term"
	"github.com/AleutianAI/fuzzyprover/internal/wire"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testRouter builds a router over a prover preloaded with the classical
// syllogism: man(socrates), ¬man(X) ∨ mortal(X).
func testRouter(t *testing.T) *gin.Engine {
	t.Helper()

	man := term.NewPredicate("man", nil)
	mortal := term.NewPredicate("mortal", nil)
	socrates := term.NewConstant("socrates", nil)
	x := term.Variable{Name: "X"}

	prover, err := fuzzyprover.New(fuzzyprover.Config{
		MaxProofDepth:          10,
		MinSimilarityThreshold: 0.0,
		CacheSimilarity:        true,
		NumWorkers:             1,
		EvalBatchSize:          8,
		BaseKnowledge: []*term.Clause{
			term.NewClause(term.NewLiteral(man.Atom(socrates), true)),
			term.NewClause(
				term.NewLiteral(man.Atom(x), false),
				term.NewLiteral(mortal.Atom(x), true),
			),
		},
	})
	require.NoError(t, err)
	return NewServer(prover, nil).Router()
}

func postProve(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/prove", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleProveReturnsRankedProofs(t *testing.T) {
	router := testRouter(t)

	rec := postProve(t, router, ProveRequest{
		InvertedGoals: []wire.Clause{{Literals: []wire.Literal{{
			Predicate: "mortal",
			Terms:     []wire.Term{{Var: "X"}},
			Negated:   true,
		}}}},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ProveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.RequestID)
	require.Len(t, resp.Proofs, 1)
	p := resp.Proofs[0]
	assert.Equal(t, 1.0, p.Similarity)
	assert.Equal(t, 2, p.Depth)
	assert.Equal(t, "socrates", p.Substitutions["X"])
	require.Len(t, p.Steps, 2)
	assert.Empty(t, p.Steps[1].Resolvent.Literals, "the leaf step's resolvent must be the empty clause")
	assert.GreaterOrEqual(t, resp.Stats.AttemptedResolutions, uint64(1))
}

func TestHandleProveRejectsMissingGoals(t *testing.T) {
	router := testRouter(t)
	rec := postProve(t, router, ProveRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Code)
}

func TestHandleProveRejectsMalformedClause(t *testing.T) {
	router := testRouter(t)
	rec := postProve(t, router, ProveRequest{
		InvertedGoals: []wire.Clause{{Literals: []wire.Literal{{
			Predicate: "mortal",
			Terms:     []wire.Term{{Var: "X", Const: "socrates"}},
		}}}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_CLAUSE", resp.Code)
}

func TestHandleProveRejectsNonJSONBody(t *testing.T) {
	router := testRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/prove", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthz(t *testing.T) {
	router := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["knowledge_clauses"])
}

func TestCacheStatsAndPurge(t *testing.T) {
	router := testRouter(t)

	// Populate the similarity cache with one search first.
	rec := postProve(t, router, ProveRequest{
		InvertedGoals: []wire.Clause{{Literals: []wire.Literal{{
			Predicate: "mortal",
			Terms:     []wire.Term{{Const: "socrates"}},
			Negated:   true,
		}}}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	statsReq := httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil)
	statsRec := httptest.NewRecorder()
	router.ServeHTTP(statsRec, statsReq)
	require.Equal(t, http.StatusOK, statsRec.Code)

	var stats map[string]int
	require.NoError(t, json.Unmarshal(statsRec.Body.Bytes(), &stats))
	assert.Greater(t, stats["similarity_entries"], 0)

	purgeReq := httptest.NewRequest(http.MethodPost, "/v1/cache/purge", nil)
	purgeRec := httptest.NewRecorder()
	router.ServeHTTP(purgeRec, purgeReq)
	require.Equal(t, http.StatusOK, purgeRec.Code)

	statsRec = httptest.NewRecorder()
	router.ServeHTTP(statsRec, httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil))
	require.NoError(t, json.Unmarshal(statsRec.Body.Bytes(), &stats))
	assert.Zero(t, stats["similarity_entries"])
}

// TestProveStreamDeliversResultFrame drives the WebSocket endpoint through a
// real server: send one request frame, then read frames until the "result"
// arrives.
func TestProveStreamDeliversResultFrame(t *testing.T) {
	router := testRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn := dialWS(t, srv.URL+"/v1/prove/stream")
	defer func() { _ = conn.Close() }()

	req := ProveRequest{
		InvertedGoals: []wire.Clause{{Literals: []wire.Literal{{
			Predicate: "mortal",
			Terms:     []wire.Term{{Const: "socrates"}},
			Negated:   true,
		}}}},
	}
	require.NoError(t, conn.WriteJSON(req))

	var msg StreamMessage
	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != "progress" {
			break
		}
		assert.NotNil(t, msg.Stats)
	}

	require.Equal(t, "result", msg.Type, "unexpected terminal frame: %+v", msg)
	require.Len(t, msg.Proofs, 1)
	assert.Equal(t, 1.0, msg.Proofs[0].Similarity)
	require.NotNil(t, msg.Stats)
}

func TestProveStreamRejectsInvalidFirstFrame(t *testing.T) {
	router := testRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn := dialWS(t, srv.URL+"/v1/prove/stream")
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(ProveRequest{})) // no goals

	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.NotEmpty(t, msg.Error)
}
