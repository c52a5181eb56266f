// Package httpserver provides the status endpoint of warmstart-server.
//
// The endpoint is served with stdlib net/http:
//
//   - Lifecycle endpoints: /health, /ready, /status
//   - Metrics endpoint: /metrics
//
// Middleware chain: Recover, RequestID, RateLimit, Audit.
//
// The listener is closed before a checkpoint and bound again after a
// restore, so a restored server answers on the port its reconciled
// configuration names.
//
// @req RQ-0301
// @design DS-0301
package httpserver
