// ABOUTME: Takeover arbitration and resolution of escalated conversations
// ABOUTME: Read-check-write on a session happens under the conversation's lock

package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/handoff-gateway/internal/metrics"
	"github.com/2389/handoff-gateway/internal/protocol"
	"github.com/2389/handoff-gateway/internal/registry"
	"github.com/2389/handoff-gateway/internal/store"
)

// AttemptTakeover assigns the conversation to operatorID. Exactly one of any
// number of concurrent attempts on the same conversation succeeds; the rest
// get ErrAlreadyAssigned.
func (s *Service) AttemptTakeover(ctx context.Context, conversationID, operatorID int64) error {
	if conversationID <= 0 || operatorID <= 0 {
		return fmt.Errorf("%w: sess_id and agent_id are required", ErrValidation)
	}

	unlock := s.locks.lock(conversationID)
	sess, err := s.store.GetSession(ctx, conversationID)
	if err != nil {
		unlock()
		if errors.Is(err, store.ErrNotFound) {
			metrics.Takeovers.WithLabelValues("not_found").Inc()
			return ErrSessionNotFound
		}
		return fmt.Errorf("loading session: %w", err)
	}

	switch sess.Status {
	case store.StatusAgentActive:
		unlock()
		metrics.Takeovers.WithLabelValues("already_assigned").Inc()
		return ErrAlreadyAssigned
	case store.StatusClosed:
		unlock()
		metrics.Takeovers.WithLabelValues("closed").Inc()
		return ErrSessionClosed
	}

	now := s.now()
	sess.Status = store.StatusAgentActive
	sess.AssignedOperatorID = &operatorID
	sess.AssignedAt = &now
	err = s.store.UpsertSession(ctx, sess)
	unlock()

	if err != nil {
		return fmt.Errorf("%w: assigning session: %w", ErrPersistence, err)
	}

	metrics.Takeovers.WithLabelValues("granted").Inc()
	s.logger.Info("conversation taken over",
		"conversation_id", conversationID,
		"operator_id", operatorID,
	)

	s.notifier.SendTo(ctx, registry.KindUser, conversationID, protocol.AgentJoined{
		AgentID: operatorID,
		Message: AgentJoinedText,
	})
	return nil
}

// Resolve closes a conversation owned by operatorID.
func (s *Service) Resolve(ctx context.Context, conversationID, operatorID int64) error {
	if conversationID <= 0 || operatorID <= 0 {
		return fmt.Errorf("%w: sess_id and agent_id are required", ErrValidation)
	}

	unlock := s.locks.lock(conversationID)
	sess, err := s.store.GetSession(ctx, conversationID)
	if err != nil {
		unlock()
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotAuthorized
		}
		return fmt.Errorf("loading session: %w", err)
	}
	if !ownedBy(sess, operatorID) {
		unlock()
		return ErrNotAuthorized
	}

	now := s.now()
	sess.Status = store.StatusClosed
	sess.AssignedOperatorID = nil
	sess.ResolvedAt = &now
	err = s.store.UpsertSession(ctx, sess)
	unlock()

	if err != nil {
		return fmt.Errorf("%w: closing session: %w", ErrPersistence, err)
	}

	metrics.Resolutions.Inc()
	s.logger.Info("conversation resolved",
		"conversation_id", conversationID,
		"operator_id", operatorID,
	)

	s.notifier.SendTo(ctx, registry.KindUser, conversationID, protocol.SessionClosed{Message: SessionClosedText})
	return nil
}

func ownedBy(sess *store.Session, operatorID int64) bool {
	return sess != nil &&
		sess.Status == store.StatusAgentActive &&
		sess.AssignedOperatorID != nil &&
		*sess.AssignedOperatorID == operatorID
}
