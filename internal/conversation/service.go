// ABOUTME: Conversation service wiring store, channel registry and answer generation
// ABOUTME: Every turn is persisted before anything is delivered

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/handoff-gateway/internal/answer"
	"github.com/2389/handoff-gateway/internal/metrics"
	"github.com/2389/handoff-gateway/internal/protocol"
	"github.com/2389/handoff-gateway/internal/registry"
	"github.com/2389/handoff-gateway/internal/store"
)

// DefaultEscalationThreshold is the number of earlier unanswered bot turns
// after which the next unanswered turn escalates.
const DefaultEscalationThreshold = 5

// Store defines what the service needs from storage.
type Store interface {
	CreateTurn(ctx context.Context, turn *store.Turn) error
	CountFlaggedBotTurns(ctx context.Context, conversationID int64) (int, error)
	GetSession(ctx context.Context, conversationID int64) (*store.Session, error)
	CreateSession(ctx context.Context, session *store.Session) error
	UpsertSession(ctx context.Context, session *store.Session) error
}

// Notifier delivers frames to connected channels.
type Notifier interface {
	SendTo(ctx context.Context, kind registry.Kind, id int64, frame protocol.Frame) registry.SendResult
	BroadcastToAgents(ctx context.Context, frame protocol.Frame) int
}

// Config tunes the service.
type Config struct {
	EscalationThreshold int
}

// Service routes turns between users, the bot and operators.
type Service struct {
	store     Store
	notifier  Notifier
	generator answer.Generator
	threshold int
	locks     stripedLocks
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a conversation service.
func New(cfg Config, st Store, notifier Notifier, generator answer.Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.EscalationThreshold
	if threshold <= 0 {
		threshold = DefaultEscalationThreshold
	}
	return &Service{
		store:     st,
		notifier:  notifier,
		generator: generator,
		threshold: threshold,
		logger:    logger.With("component", "conversation"),
		now:       time.Now,
	}
}

// Threshold returns the configured escalation threshold.
func (s *Service) Threshold() int {
	return s.threshold
}

// Session returns the handoff state of a conversation, or nil if it was
// never escalated.
func (s *Service) Session(ctx context.Context, conversationID int64) (*store.Session, error) {
	sess, err := s.store.GetSession(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return sess, nil
}

func (s *Service) saveTurn(ctx context.Context, turn *store.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	if err := s.store.CreateTurn(ctx, turn); err != nil {
		return fmt.Errorf("%w: saving %s turn: %w", ErrPersistence, turn.Sender, err)
	}
	metrics.TurnsPersisted.WithLabelValues(string(turn.Sender)).Inc()
	return nil
}
