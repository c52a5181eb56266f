// Package handler provides HTTP request handlers for warmstart-server.
//
// @req RQ-0301
// @design DS-0301
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

// Error codes returned in the response envelope.
const (
	CodeNotReady = "WS-SRV-5030"
)

// StatusSource reports the lifecycle status of the server.
type StatusSource interface {
	Status() Status
}

// Handler serves the status endpoints.
//
// @design DS-0301
type Handler struct {
	source StatusSource
	logger logger.Logger
	mux    *http.ServeMux
}

// New creates a Handler over source.
//
// @design DS-0301
func New(source StatusSource, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	h := &Handler{
		source: source,
		logger: log,
		mux:    http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all HTTP routes.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)
	h.mux.HandleFunc("GET /status", h.handleStatus)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(w, r)
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := getRequestID(w, r)
	response := NewErrorResponse(requestID, code, message, details)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// getRequestID returns the ID set by the RequestID middleware, falling back
// to the request header.
func getRequestID(w http.ResponseWriter, r *http.Request) string {
	if reqID := w.Header().Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return r.Header.Get("X-Request-ID")
}
