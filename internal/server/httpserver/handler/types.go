// Package handler provides HTTP request handlers for warmstart-server.
package handler

import "time"

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
//
// @design DS-0302 Section 2.1
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"` // Additional error details
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// Status is the body of GET /status.
type Status struct {
	State      string     `json:"state" yaml:"state"`
	Stage      string     `json:"stage" yaml:"stage"`
	Phase      string     `json:"phase,omitempty" yaml:"phase,omitempty"`
	Restored   bool       `json:"restored" yaml:"restored"`
	RestoredAt *time.Time `json:"restored_at,omitempty" yaml:"restored_at,omitempty"`
	Generation int        `json:"generation" yaml:"generation"`
	Image      string     `json:"image,omitempty" yaml:"image,omitempty"`
	Build      string     `json:"build" yaml:"build"`
	Ready      bool       `json:"ready" yaml:"ready"`
	Deadlines  []Deadline `json:"deadlines,omitempty" yaml:"deadlines,omitempty"`
}

// Deadline is a pending timer in the status body.
type Deadline struct {
	ID    string    `json:"id" yaml:"id"`
	DueAt time.Time `json:"due_at" yaml:"due_at"`
	Every string    `json:"every,omitempty" yaml:"every,omitempty"`
}

// HealthResponse is the body of GET /health and GET /ready.
type HealthResponse struct {
	Status string `json:"status" yaml:"status"`
	Time   string `json:"time" yaml:"time"`
}
