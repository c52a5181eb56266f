// Package handler provides HTTP request handlers for warmstart-server.
//
// This package contains handlers for the status endpoints:
//
//   - health.go: Health, readiness and lifecycle status
//
// Responses use the Response envelope. The lifecycle status comes from a
// StatusSource so the handlers do not depend on the controller.
//
// @req RQ-0301
// @design DS-0301
package handler
