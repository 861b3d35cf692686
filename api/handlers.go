package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/floatchat/floatchat/internal/history"
	"github.com/floatchat/floatchat/internal/log"
	"github.com/floatchat/floatchat/internal/pipeline"
)

// Request validation bounds.
const (
	maxQueryLength    = 1000
	defaultMaxResults = 100
	maxMaxResults     = 1000
	historyLimit      = 50
)

// queryRequest is the body of POST /api/v1/query.
type queryRequest struct {
	Query          string `json:"query"`
	SessionID      string `json:"session_id,omitempty"`
	IncludeContext *bool  `json:"include_context,omitempty"`
	MaxResults     int    `json:"max_results,omitempty"`
}

type queryHandler struct {
	pipeline QueryProcessor
	logger   log.Logger
}

func (h *queryHandler) process(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" || len(req.Query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query must be between 1 and 1000 characters")
		return
	}

	if req.MaxResults == 0 {
		req.MaxResults = defaultMaxResults
	}
	if req.MaxResults < 1 || req.MaxResults > maxMaxResults {
		writeError(w, http.StatusBadRequest, "max_results must be between 1 and 1000")
		return
	}

	var sessionID *uuid.UUID
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "session_id must be a valid UUID")
			return
		}
		sessionID = &id
	}

	includeContext := true
	if req.IncludeContext != nil {
		includeContext = *req.IncludeContext
	}

	resp := h.pipeline.Process(r.Context(), pipeline.Request{
		Query:          req.Query,
		SessionID:      sessionID,
		IncludeContext: includeContext,
		MaxResults:     req.MaxResults,
	})

	writeJSON(w, http.StatusOK, resp)
}

type sessionsHandler struct {
	store  SessionStore
	logger log.Logger
}

type sessionCreateResponse struct {
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
}

func (h *sessionsHandler) create(w http.ResponseWriter, _ *http.Request) {
	id, createdAt := h.store.CreateSession()
	writeJSON(w, http.StatusOK, sessionCreateResponse{
		SessionID: id.String(),
		CreatedAt: createdAt.Format(time.RFC3339),
	})
}

func (h *sessionsHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		h.logger.Error("listing sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *sessionsHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "session id must be a valid UUID")
		return
	}

	turns, err := h.store.RecentHistory(r.Context(), id, historyLimit)
	if err != nil {
		h.logger.Error("loading session history failed",
			"session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session history")
		return
	}
	if turns == nil {
		turns = []history.Turn{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    id.String(),
		"messages":      turns,
		"message_count": len(turns),
	})
}

type healthHandler struct {
	db Pinger
}

func (h *healthHandler) alive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *healthHandler) ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
