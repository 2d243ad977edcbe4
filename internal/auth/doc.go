// Package auth verifies the identity of channel and REST callers.
//
// # Tokens
//
// Tokens are HS256 JWTs signed with the configured auth.jwt_secret. The "sub"
// claim names the caller:
//
//   - "user:<id>": an end user, may open /ws/user/<id>
//   - "agent:<id>": an operator, may open /ws/agent/<id> and call the
//     operator REST endpoints
//
// Issuing tokens is the job of an external identity service; Generate exists
// for the CLI and tests.
//
// # Transport
//
// TokenFromRequest accepts ?token= (for WebSocket handshakes from browsers)
// or an Authorization: Bearer header. When no secret is configured the
// Authenticator admits every request.
package auth
