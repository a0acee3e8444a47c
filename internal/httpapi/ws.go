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
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/fuzzyprover/internal/proof"
)

// wsProgressInterval is how often a streaming search pushes a stats snapshot.
const wsProgressInterval = 250 * time.Millisecond

// wsWriteTimeout bounds one WebSocket write; a stalled client must not pin a
// search's progress goroutine.
const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The prover has no browser-facing auth story of its own; origin policy
	// belongs to whatever gateway fronts it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StreamMessage is one frame of the /v1/prove/stream protocol. Type is
// "progress" (Stats only), "result" (Proofs + final Stats), or "error".
type StreamMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Stats     *StatsResponse  `json:"stats,omitempty"`
	Proofs    []ProofResponse `json:"proofs,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// wsConn serializes writes to a websocket connection; gorilla/websocket
// permits at most one concurrent writer and the progress callback runs on a
// different goroutine than the final result write.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(v)
}

// HandleProveStream handles GET /v1/prove/stream.
//
// Description:
//
//	Upgrades to WebSocket, reads exactly one ProveRequest frame, then runs
//	the search while pushing "progress" stats snapshots every 250ms. The
//	final frame is either "result" (ranked proofs plus final stats) or
//	"error", after which the server closes the connection. Closing the
//	socket client-side cancels the search.
//
// Thread Safety: safe for concurrent use; each upgrade owns its connection.
func (s *Server) HandleProveStream(c *gin.Context) {
	requestID := uuid.NewString()
	logger := s.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleProveStream"))

	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	conn := &wsConn{conn: raw}
	defer func() { _ = raw.Close() }()

	var req ProveRequest
	if err := raw.ReadJSON(&req); err != nil {
		_ = conn.writeJSON(StreamMessage{Type: "error", RequestID: requestID, Error: "malformed request frame: " + err.Error()})
		return
	}
	if err := requestValidate.Struct(&req); err != nil {
		_ = conn.writeJSON(StreamMessage{Type: "error", RequestID: requestID, Error: err.Error()})
		return
	}

	goals, extra, derr := decodeStreamClauses(&req)
	if derr != nil {
		_ = conn.writeJSON(StreamMessage{Type: "error", RequestID: requestID, Error: derr.Error()})
		return
	}

	proveRequestsTotal.WithLabelValues("stream").Inc()
	logger.Info("streaming prove started", slog.Int("goal_count", len(goals)))

	onProgress := func(st proof.Stats) {
		snap := statsResponse(st)
		if werr := conn.writeJSON(StreamMessage{Type: "progress", RequestID: requestID, Stats: &snap}); werr != nil {
			logger.Warn("progress write failed", slog.String("error", werr.Error()))
		}
	}

	proofs, stats, err := s.prover.ProveAllWithProgress(
		c.Request.Context(), goals, extra, req.MaxProofs, req.SkipSeenResolvents,
		onProgress, wsProgressInterval,
	)
	if err != nil {
		_ = conn.writeJSON(StreamMessage{Type: "error", RequestID: requestID, Error: err.Error()})
		return
	}

	final := statsResponse(stats)
	msg := StreamMessage{Type: "result", RequestID: requestID, Stats: &final, Proofs: make([]ProofResponse, 0, len(proofs))}
	for _, p := range proofs {
		msg.Proofs = append(msg.Proofs, proofResponse(p))
	}
	if werr := conn.writeJSON(msg); werr != nil {
		logger.Warn("result write failed", slog.String("error", werr.Error()))
		return
	}
	_ = raw.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteTimeout))
}
