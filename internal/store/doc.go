// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// Store is the single interface the conversation layer depends on.
// SQLiteStore implements it on top of modernc.org/sqlite; MockStore is an
// in-memory implementation for tests.
//
// # Data Models
//
//   - Turn: append-only message record (user, bot or agent) with the
//     needs_human flag and token counters. History order is created_at.
//   - Session: handoff state of a conversation. At most one row per
//     conversation, enforced by a UNIQUE constraint, and a CHECK constraint
//     keeps assigned_operator_id non-null iff status is agent_active.
//
// # Locking
//
// SQLite has no row locks. Callers that need a read-modify-write on a
// Session (takeover, escalation) serialize on a per-conversation lock held
// by the conversation package. That is only valid inside one process.
package store
