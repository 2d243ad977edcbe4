// ABOUTME: Store interface and data types for handoff-gateway persistence
// ABOUTME: Defines Turn, Session and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when a session already exists for a conversation
var ErrDuplicateSession = errors.New("session already exists")

// Sender identifies who authored a turn.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderBot   Sender = "bot"
	SenderAgent Sender = "agent"
)

// SessionStatus is the handoff state of a conversation.
type SessionStatus string

const (
	StatusBotActive    SessionStatus = "bot_active"
	StatusPendingAgent SessionStatus = "pending_agent"
	StatusAgentActive  SessionStatus = "agent_active"
	StatusClosed       SessionStatus = "closed"
)

// Turn is one immutable message within a conversation.
type Turn struct {
	ID               string
	ConversationID   int64
	Sender           Sender
	Text             string
	NeedsHuman       bool
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CreatedAt        time.Time
}

// Session tracks whether a conversation is bot-, pending- or operator-handled.
// AssignedOperatorID is non-nil iff Status is StatusAgentActive.
type Session struct {
	ID                 int64
	ConversationID     int64
	Status             SessionStatus
	AssignedOperatorID *int64
	AssignedAt         *time.Time
	ResolvedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Valid reports whether the operator assignment agrees with the status.
func (s *Session) Valid() bool {
	return (s.AssignedOperatorID != nil) == (s.Status == StatusAgentActive)
}

// ConversationKind filters summaries by whether a human was ever needed.
type ConversationKind string

const (
	KindAny        ConversationKind = ""
	KindAI         ConversationKind = "ai"
	KindHumanAndAI ConversationKind = "human + ai"
)

// SummaryFilter narrows ListConversationSummaries.
type SummaryFilter struct {
	Skip           int
	Limit          int
	Kind           ConversationKind
	ConversationID *int64
	StartAfter     *time.Time
	StartBefore    *time.Time
}

// ConversationSummary aggregates the turns of one conversation.
type ConversationSummary struct {
	ConversationID int64
	StartTime      time.Time
	EndTime        time.Time
	NeedsHuman     bool
}

// SummaryPage is one page of conversation summaries plus the unpaged total.
type SummaryPage struct {
	Total     int
	Summaries []ConversationSummary
}

// DashboardStats are totals across every stored turn.
type DashboardStats struct {
	Conversations      int
	HumanConversations int
	PromptTokens       int64
	CompletionTokens   int64
	TotalTokens        int64
}

// Store defines the persistence operations used by the gateway.
type Store interface {
	// Turns
	CreateTurn(ctx context.Context, turn *Turn) error
	ListTurns(ctx context.Context, conversationID int64) ([]*Turn, error)
	CountFlaggedBotTurns(ctx context.Context, conversationID int64) (int, error)

	// Sessions
	GetSession(ctx context.Context, conversationID int64) (*Session, error)
	CreateSession(ctx context.Context, session *Session) error
	UpsertSession(ctx context.Context, session *Session) error
	ListPendingSessions(ctx context.Context) ([]*Session, error)

	// Dashboard
	ListConversationSummaries(ctx context.Context, filter SummaryFilter) (*SummaryPage, error)
	DashboardStats(ctx context.Context) (*DashboardStats, error)

	// Close releases any resources held by the store
	Close() error
}
