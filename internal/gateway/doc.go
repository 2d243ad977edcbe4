// Package gateway orchestrates the handoff-gateway server components.
//
// # Overview
//
// The gateway package owns the HTTP server and everything behind it: the
// SQLite store, the channel registry, the answer generator (with its
// optional pgvector knowledge base) and the conversation service.
//
// # Channels
//
// Users and operators hold one WebSocket each:
//
//   - GET /ws/user/{sess_id} - end-user channel for one conversation
//   - GET /ws/agent/{agent_id} - operator channel
//
// When auth.jwt_secret is set the handshake must carry a token (query
// parameter "token" or a Bearer header) whose subject is exactly
// "user:<sess_id>" or "agent:<agent_id>". Each connection runs one read loop;
// frames are decoded by package protocol and dispatched to the conversation
// service. Malformed frames get an error frame and the channel stays open.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (503 while shutting down)
//   - GET /api/v1/support-alerts - Conversations waiting for an operator
//   - GET /api/v1/conversations/{sess_id}/turns - Transcript and session state
//   - GET /api/v1/chat/summary - Paged dashboard summaries
//   - GET /api/v1/dashboard - Conversation and token usage totals
//   - POST /api/v1/qa - Ask one question without a channel
//   - GET /metrics - Prometheus metrics, when metrics.enabled
//
// The /api/v1 operator endpoints require an "agent:" token when auth is
// enabled; /api/v1/qa requires the matching "user:" token.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run listens on server.http_addr, or on port 80 of a tsnet node when
// tailscale is enabled. Shutdown closes every live channel, since hijacked
// WebSocket connections are not tracked by http.Server.
package gateway
