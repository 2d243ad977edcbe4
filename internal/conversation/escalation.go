// ABOUTME: Escalation trigger wrapping answer generation
// ABOUTME: Counts unanswered bot turns and hands the conversation to operators at the threshold

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389/handoff-gateway/internal/metrics"
	"github.com/2389/handoff-gateway/internal/protocol"
	"github.com/2389/handoff-gateway/internal/registry"
	"github.com/2389/handoff-gateway/internal/store"
)

var unknownAnswers = map[string]bool{
	"i don't know.": true,
	"i dont know":   true,
	"i'm not sure.": true,
	"i don't know":  true,
}

// IsUnknown reports whether a generated answer admits the bot cannot help.
// Matching is exact after trimming and lowercasing; an empty answer counts.
func IsUnknown(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	return normalized == "" || unknownAnswers[normalized]
}

// humanHandled reports whether operators are waiting on or handling the
// conversation.
func humanHandled(sess *store.Session) bool {
	return sess != nil && (sess.Status == store.StatusPendingAgent || sess.Status == store.StatusAgentActive)
}

// botReply generates and records the bot's answer to a user turn that was not
// relayed to an operator.
func (s *Service) botReply(ctx context.Context, conversationID int64, question string, sess *store.Session) (Outcome, error) {
	if humanHandled(sess) {
		return Outcome{Reply: HandlingNotice}, nil
	}

	started := time.Now()
	ans, err := s.generator.Generate(ctx, conversationID, question)
	if err != nil {
		metrics.RecordAnswer("error", started, 0, 0)
		s.logger.Error("answer generation failed",
			"conversation_id", conversationID,
			"error", err,
		)
		return Outcome{Reply: ApologyText}, nil
	}
	metrics.RecordAnswer("ok", started, ans.Usage.PromptTokens, ans.Usage.CompletionTokens)

	text := strings.TrimSpace(ans.Text)
	unknown := IsUnknown(text)
	if text == "" {
		text = UnknownAnswerText
	}

	turn := &store.Turn{
		ConversationID:   conversationID,
		Sender:           store.SenderBot,
		Text:             text,
		NeedsHuman:       unknown,
		PromptTokens:     ans.Usage.PromptTokens,
		CompletionTokens: ans.Usage.CompletionTokens,
		TotalTokens:      ans.Usage.TotalTokens,
	}

	// Generation ran unlocked; an operator may have been brought in since.
	unlock := s.locks.lock(conversationID)
	sess, err = s.Session(ctx, conversationID)
	if err != nil {
		unlock()
		return Outcome{}, err
	}
	if humanHandled(sess) {
		unlock()
		s.logger.Info("dropping bot answer, conversation moved to a human",
			"conversation_id", conversationID,
			"status", sess.Status,
		)
		return Outcome{Reply: HandlingNotice}, nil
	}

	var prior int
	if unknown {
		if prior, err = s.store.CountFlaggedBotTurns(ctx, conversationID); err != nil {
			unlock()
			return Outcome{}, fmt.Errorf("counting unanswered turns: %w", err)
		}
	}
	err = s.saveTurn(ctx, turn)
	unlock()
	if err != nil {
		return Outcome{}, err
	}

	if !unknown {
		return Outcome{Reply: text}, nil
	}

	if prior < s.threshold {
		s.logger.Debug("bot could not answer",
			"conversation_id", conversationID,
			"prior_failures", prior,
			"threshold", s.threshold,
		)
		return Outcome{Reply: text}, nil
	}

	status, escalated, err := s.escalate(ctx, conversationID)
	if err != nil {
		return Outcome{}, err
	}

	switch status {
	case store.StatusClosed:
		return Outcome{Reply: text}, nil
	case store.StatusAgentActive:
		return Outcome{Reply: HandlingNotice}, nil
	default:
		return Outcome{Reply: EscalationNotice, Escalated: escalated}, nil
	}
}

// escalate moves the conversation to pending_agent if it is bot handled and
// notifies operators and the user. It returns the resulting status and
// whether this call made the transition.
func (s *Service) escalate(ctx context.Context, conversationID int64) (store.SessionStatus, bool, error) {
	unlock := s.locks.lock(conversationID)

	sess, err := s.store.GetSession(ctx, conversationID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sess = &store.Session{ConversationID: conversationID, Status: store.StatusPendingAgent}
		err = s.store.CreateSession(ctx, sess)
	case err != nil:
		unlock()
		return "", false, fmt.Errorf("loading session: %w", err)
	case sess.Status == store.StatusBotActive:
		sess.Status = store.StatusPendingAgent
		err = s.store.UpsertSession(ctx, sess)
	default:
		unlock()
		return sess.Status, false, nil
	}
	unlock()

	if err != nil {
		return "", false, fmt.Errorf("%w: saving session: %w", ErrPersistence, err)
	}

	metrics.Escalations.Inc()
	s.logger.Info("conversation escalated",
		"conversation_id", conversationID,
		"session_id", sess.ID,
	)

	delivered := s.notifier.BroadcastToAgents(ctx, protocol.NewAlert{SessID: conversationID, SessionID: sess.ID})
	if delivered == 0 {
		s.logger.Warn("no operator online for escalation", "conversation_id", conversationID)
	}
	s.notifier.SendTo(ctx, registry.KindUser, conversationID, protocol.HumanAlert{Message: EscalationNotice})

	return store.StatusPendingAgent, true, nil
}
