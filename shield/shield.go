// Package shield provides the HTTP middleware in front of the apiwatch
// control API: security headers, body limits, request IDs and per-client
// rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// DefaultMaxBody bounds request bodies. Reports posted for filtering can be
// large.
const DefaultMaxBody = 8 << 20

// DefaultStack returns the standard middleware stack, outermost first:
// RequestID, SecurityHeaders, MaxBody.
func DefaultStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		RequestID(logger, nil),
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultMaxBody),
	}
}
