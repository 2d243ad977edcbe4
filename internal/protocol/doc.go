// Package protocol defines the JSON frames carried over user and operator
// WebSocket channels.
//
// Every frame is an object with a "type" discriminator. Inbound frames are
// decoded strictly: an unknown type, an unknown field or a missing required
// field yields an error wrapping ErrInvalidFrame, which the gateway reports
// back as an Error frame without closing the channel.
//
// User channels send Message. Operator channels send Takeover, Reply and
// Resolve. Everything else is outbound only.
package protocol
