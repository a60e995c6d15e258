package http

import (
	"net/http"
)

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Router defines the interface for HTTP routing so handlers do not depend on
// the underlying router implementation.
type Router interface {
	GET(path string, handler http.HandlerFunc, middlewares ...Middleware)
	POST(path string, handler http.HandlerFunc, middlewares ...Middleware)

	// Handle mounts a plain http.Handler, e.g. the Prometheus exporter.
	Handle(path string, handler http.Handler)

	// Use adds middleware to the router (applies to all subsequent routes)
	Use(middlewares ...Middleware)

	// Handler returns the http.Handler for use with http.Server
	Handler() http.Handler

	// Walk iterates over all registered routes.
	Walk(fn func(method, path string) error) error
}

// Chain applies middlewares to a handler.
// The first middleware in the list will be the outermost (executed first).
func Chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
