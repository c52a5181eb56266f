// Package handler provides HTTP request handlers for warmstart-server.
package handler

import (
	"net/http"
	"time"
)

// handleHealth handles GET /health. The server is healthy while it answers.
//
// @design DS-0301
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status: "healthy",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. The server is ready once it runs, either
// after a cold boot or after a restore.
//
// @design DS-0301
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	st := h.source.Status()
	if !st.Ready {
		h.writeError(w, r, http.StatusServiceUnavailable, CodeNotReady, "server is "+st.State, HealthResponse{
			Status: "not_ready",
			Time:   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status: "ready",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles GET /status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.source.Status())
}
