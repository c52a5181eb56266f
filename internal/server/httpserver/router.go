// Package httpserver provides the status endpoint of warmstart-server.
package httpserver

import (
	"net/http"

	"github.com/yndnr/warmstart/internal/server/httpserver/handler"
	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Status reports the lifecycle status.
	Status handler.StatusSource

	// Metrics serves GET /metrics. Nil leaves the route unregistered.
	Metrics http.Handler

	// Logger for request logging.
	Logger logger.Logger

	// GlobalRateLimit is the rate limit per client IP (requests/second).
	GlobalRateLimit int

	// EnableAudit enables audit logging for all requests.
	EnableAudit bool
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
//
// @design DS-0301, DS-0302
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	h := handler.New(cfg.Status, log)

	// Order: Recover -> RequestID -> RateLimit -> Audit -> Handler
	middlewares := []Middleware{Recover(log), RequestID()}
	if cfg.GlobalRateLimit > 0 {
		middlewares = append(middlewares, RateLimit(cfg.GlobalRateLimit))
	}
	if cfg.EnableAudit {
		middlewares = append(middlewares, Audit(log))
	}

	mux := http.NewServeMux()
	statusHandler := Chain(h, middlewares...)
	mux.Handle("/health", statusHandler)
	mux.Handle("/ready", statusHandler)
	mux.Handle("/status", statusHandler)

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics, Recover(log), RequestID()))
	}
	return mux
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		GlobalRateLimit: 100,
		EnableAudit:     true,
	}
}
