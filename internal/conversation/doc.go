// Package conversation routes turns between end users, the answering bot and
// human operators, and owns the handoff state machine.
//
// # Service
//
//	svc := conversation.New(conversation.Config{EscalationThreshold: 5}, store, registry, generator, logger)
//
// Key operations:
//
//   - HandleUserMessage: persist the user turn, then relay it to the assigned
//     operator or answer it with the bot
//   - HandleOperatorReply: persist and forward an operator turn (owner only)
//   - AttemptTakeover: claim a pending conversation for one operator
//   - Resolve: close a conversation (owner only)
//
// # Session lifecycle
//
//	(none) / bot_active -> pending_agent -> agent_active -> closed
//
// A conversation escalates when the bot fails to answer after the threshold
// of earlier failures has been reached. Closed sessions never reopen.
//
// # Locking
//
// Session read-modify-write runs under a striped mutex keyed by conversation
// id. This is correct for a single gateway process only. Frames are sent after
// the lock is released.
package conversation
