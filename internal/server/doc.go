// Package server provides HTTP routing, middleware, and OAuth handling for the CLI and the worker service.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method-qualified patterns.
//
// # OAuth Handler
//
// [OAuthHandler] serves two routes:
//
//   - GET /auth/spotify returns {auth_url, state} with a freshly issued state
//   - GET /callback validates and consumes the state, completes authorization and schedules the first sync
//
// Callback failures answer 400 (denied, missing code, invalid or reused state) or 502 (upstream exchange)
// and are never retried. The first completed callback is also published on a channel so `spotsync auth login`
// can wait for it.
//
// # Responses
//
// API responses use the [Envelope] shape {status, message, data}.
//
// # Service
//
// [NewApp] wires the OAuth handler, /metrics and /healthz behind request logging and panic recovery.
// [Serve] runs it until the context is canceled.
package server
