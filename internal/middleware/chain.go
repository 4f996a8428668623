// Package middleware provides the HTTP middleware stack: panic recovery,
// access logging, client telemetry blocking and proxy-key authentication.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// Sink is what the middleware set needs from the store.
type Sink interface {
	AccessSink
	ErrorSink
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	Recover   Middleware
	Access    Middleware
	Telemetry Middleware
	Auth      Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(manager *config.Manager, sink Sink, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		Recover:   NewRecoverMiddleware(sink, logger),
		Access:    NewAccessMiddleware(sink, logger),
		Telemetry: NewTelemetryBlockerMiddleware(logger),
		Auth:      NewAuthMiddleware(manager, logger),
	}
}

// DefaultChain guards the client surfaces. Telemetry blocking sits after
// access logging so blocked requests still leave an access line, and
// before auth so clients need no key for telemetry.
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(
		ms.Recover,
		ms.Access,
		ms.Telemetry,
		ms.Auth,
	)
}

// AdminChain guards the local admin API, which carries no key. Telemetry
// stays in because clients post metrics under the /api prefix.
func (ms MiddlewareSet) AdminChain() Chain {
	return New(
		ms.Recover,
		ms.Access,
		ms.Telemetry,
	)
}

// HealthChain returns the middleware chain for health endpoints (no auth)
func (ms MiddlewareSet) HealthChain() Chain {
	return New(
		ms.Recover,
		ms.Access,
	)
}
