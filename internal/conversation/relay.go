// ABOUTME: Message relay between users, the bot and the assigned operator
// ABOUTME: Session state decides the route; user turns are always persisted

package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/handoff-gateway/internal/protocol"
	"github.com/2389/handoff-gateway/internal/registry"
	"github.com/2389/handoff-gateway/internal/store"
)

// Outcome describes what happened to a user turn.
type Outcome struct {
	// Reply is the text to send back to the user as a bot message. Empty
	// when the turn was relayed to an operator.
	Reply string

	// Relayed is true when the turn went to the assigned operator.
	Relayed bool

	// Escalated is true when this turn moved the conversation to pending_agent.
	Escalated bool
}

// HandleUserMessage records a user turn and routes it to the assigned
// operator or to the bot.
func (s *Service) HandleUserMessage(ctx context.Context, conversationID int64, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if conversationID <= 0 {
		return Outcome{}, fmt.Errorf("%w: sess_id is required", ErrValidation)
	}
	if text == "" {
		return Outcome{}, fmt.Errorf("%w: message is required", ErrValidation)
	}

	if err := s.saveTurn(ctx, &store.Turn{
		ConversationID: conversationID,
		Sender:         store.SenderUser,
		Text:           text,
	}); err != nil {
		return Outcome{}, err
	}

	sess, err := s.Session(ctx, conversationID)
	if err != nil {
		return Outcome{}, err
	}

	if sess != nil && sess.Status == store.StatusAgentActive && sess.AssignedOperatorID != nil {
		operatorID := *sess.AssignedOperatorID
		result := s.notifier.SendTo(ctx, registry.KindAgent, operatorID, protocol.UserMessage{
			SessID:  conversationID,
			Message: text,
		})
		if result != registry.Delivered {
			s.logger.Warn("assigned operator did not receive user turn",
				"conversation_id", conversationID,
				"operator_id", operatorID,
				"result", result,
			)
		}
		return Outcome{Relayed: true}, nil
	}

	return s.botReply(ctx, conversationID, text, sess)
}

// HandleOperatorReply records an operator turn and forwards it to the user.
// Only the operator assigned to an agent_active session may reply.
func (s *Service) HandleOperatorReply(ctx context.Context, conversationID, operatorID int64, text string) error {
	text = strings.TrimSpace(text)
	if conversationID <= 0 || operatorID <= 0 {
		return fmt.Errorf("%w: sess_id and agent_id are required", ErrValidation)
	}
	if text == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}

	unlock := s.locks.lock(conversationID)
	sess, err := s.Session(ctx, conversationID)
	if err != nil {
		unlock()
		return err
	}
	if !ownedBy(sess, operatorID) {
		unlock()
		s.logger.Warn("rejected operator reply",
			"conversation_id", conversationID,
			"operator_id", operatorID,
		)
		return ErrNotAuthorized
	}

	err = s.saveTurn(ctx, &store.Turn{
		ConversationID: conversationID,
		Sender:         store.SenderAgent,
		Text:           text,
	})
	unlock()
	if err != nil {
		return err
	}

	s.notifier.SendTo(ctx, registry.KindUser, conversationID, protocol.AgentMessage{
		Message: text,
		AgentID: operatorID,
	})
	return nil
}
