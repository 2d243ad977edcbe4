// Package registry tracks the live WebSocket channels of end users and
// operators.
//
// A Registry is owned by the gateway and injected into the conversation
// service. Each (kind, id) maps to at most one channel; registering a new
// channel for a key closes the old one. Sends are best effort: a missing
// recipient is reported as NotConnected and a failed write evicts the
// channel, so transport errors never reach callers.
//
// The table lives in process memory. Running more than one gateway process
// requires a shared fan-out layer, which this package does not provide.
package registry
