// ABOUTME: Sentinel errors returned by the conversation service
// ABOUTME: Messages are shown to operators and users verbatim

package conversation

import "errors"

var (
	// ErrSessionNotFound is returned when a takeover targets a conversation
	// that was never escalated.
	ErrSessionNotFound = errors.New("Session not found")

	// ErrAlreadyAssigned is returned when the session already has an operator,
	// including the operator making the request.
	ErrAlreadyAssigned = errors.New("Already assigned to another agent")

	// ErrNotAuthorized is returned when an operator acts on a conversation
	// they do not own.
	ErrNotAuthorized = errors.New("Not authorized for this conversation")

	// ErrSessionClosed is returned when a takeover targets a resolved session.
	ErrSessionClosed = errors.New("Session is closed")

	// ErrValidation is wrapped with detail for rejected input.
	ErrValidation = errors.New("invalid request")

	// ErrPersistence wraps store write failures.
	ErrPersistence = errors.New("persistence failed")
)

// Texts sent to users.
const (
	GenericErrorText  = "Something went wrong. Please try again."
	HandlingNotice    = "A human support agent is handling your chat now."
	EscalationNotice  = "I was unable to answer multiple times. A human agent has now been notified."
	ApologyText       = "Sorry, I'm having trouble answering right now. Please try again shortly."
	AgentJoinedText   = "A support agent has joined the chat."
	SessionClosedText = "This conversation has been resolved by a support agent."
	UnknownAnswerText = "I don't know."
)

// UserMessage maps an error to the text a channel should report. The
// arbitration sentinels keep their own text; anything else is generic.
func UserMessage(err error) string {
	for _, sentinel := range []error{ErrSessionNotFound, ErrAlreadyAssigned, ErrNotAuthorized, ErrSessionClosed} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	if errors.Is(err, ErrValidation) {
		return err.Error()
	}
	return GenericErrorText
}
