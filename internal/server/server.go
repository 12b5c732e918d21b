// package server contains the router, middleware and handlers for the engine's admin and status surface
package server

import (
	"net/http"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
//
// chi's middleware functions and httprate limiters already have this shape.
type Middleware func(http.Handler) http.Handler

// Handler is an [http.Handler] that knows the patterns it serves.
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the "METHOD /path" patterns this handler serves
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                                           // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler, extra ...Middleware) // Handle registers a handler for one method and path
	Handler(handler Handler)                                                // Handler registers a custom Handler implementation
	ServeHTTP(w http.ResponseWriter, r *http.Request)                       // ServeHTTP implements http.Handler for the entire router
}
