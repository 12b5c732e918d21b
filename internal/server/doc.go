// Package server provides the HTTP surface of the playlist engine.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support. [BasicRouter] uses
// [http.ServeMux] method patterns. Router-wide middleware is chi's RequestID, RealIP and Recoverer
// plus [RequestLogger]; [AdminRateLimit] (go-chi/httprate) is attached only to the admin routes.
//
// # Endpoints
//
// [NewHandler] wires:
//   - GET /healthz : liveness
//   - GET /status : the engine [models.Snapshot] as JSON
//   - GET /transitions?limit=N : the transition log, oldest first
//   - POST /admin/{pause,resume,check,audit,retry,export,reauth} : 202 {"accepted":true,...}
//   - GET /ws/events : every bus event as a websocket text frame ([EventsHandler])
//   - GET /metrics : Prometheus exposition
//
// Admin commands only record intent; pause and resume change state immediately, the rest are
// picked up by the scheduler on its next tick.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the authorization code callback used by the auth command. It validates
// the state parameter, exchanges the code, and sends exactly one result through a channel.
//
// # Supervision
//
// [HTTPService] adapts an [http.Server] to suture's Serve(ctx) contract with a bounded graceful shutdown.
package server
