package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// chiRouter implements Router using Chi.
type chiRouter struct {
	mux chi.Router
}

var _ Router = (*chiRouter)(nil)

// NewChiRouter creates a new Router using Chi as the underlying implementation.
func NewChiRouter() Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.CleanPath)
	r.Use(chimw.StripSlashes)
	return &chiRouter{mux: r}
}

// GET registers a handler for GET requests with optional middleware.
func (r *chiRouter) GET(path string, handler http.HandlerFunc, middlewares ...Middleware) {
	r.mux.Get(path, Chain(handler, middlewares...).ServeHTTP)
}

// POST registers a handler for POST requests with optional middleware.
func (r *chiRouter) POST(path string, handler http.HandlerFunc, middlewares ...Middleware) {
	r.mux.Post(path, Chain(handler, middlewares...).ServeHTTP)
}

// Handle mounts handler for every method on path.
func (r *chiRouter) Handle(path string, handler http.Handler) {
	r.mux.Handle(path, handler)
}

// Use adds middleware to the router. Must be called before routes are added.
func (r *chiRouter) Use(middlewares ...Middleware) {
	for _, mw := range middlewares {
		r.mux.Use(mw)
	}
}

// Handler returns the http.Handler for use with http.Server.
func (r *chiRouter) Handler() http.Handler {
	return r.mux
}

// Walk iterates over all registered routes using chi.Walk.
func (r *chiRouter) Walk(fn func(method, path string) error) error {
	return chi.Walk(r.mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		return fn(method, route)
	})
}
