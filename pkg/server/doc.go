// Package server exposes the orchestration engine over HTTP.
//
// Routes:
//
//	GET    /health                          liveness
//	GET    /metrics                         Prometheus exposition, when enabled
//	POST   /v1/sessions                     start a conversation
//	GET    /v1/sessions/{id}                transcript and turn count
//	DELETE /v1/sessions/{id}                end a conversation
//	POST   /v1/sessions/{id}/messages       run one turn
//
// Every error is returned as {"error": "..."} with a status derived from
// the engine's error type. The /v1 routes require a bearer token when a
// validator is configured. Posting messages is subject to the per-caller
// rate limit when one is configured, answering 429 with Retry-After.
package server
