// Package http exposes the auth state of a running authgate process over
// HTTP for local observation.
//
// Endpoints:
//
//	GET /state    current auth status, user and route target as JSON
//	GET /health   liveness and initialization check (503 until known)
//	GET /metrics  Prometheus metrics in the authgate namespace
//
// Middleware order (outermost first):
//
//  1. MetricsMiddleware records duration and status per path
//  2. RequestContext assigns X-Request-ID and a request logger tagged with
//     the auth status and state version at arrival
//  3. AllowOrigins refuses browser origins outside server.allowed_origins
//
// The server is read-only. Sign-in and sign-out go through the CLI, which
// shares the same session store.
package http
