// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	turns    map[int64][]*Turn  // keyed by conversation ID, append order
	sessions map[int64]*Session // keyed by conversation ID
	nextID   int64

	// FailCreateTurn makes CreateTurn return this error when set.
	FailCreateTurn error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		turns:    make(map[int64][]*Turn),
		sessions: make(map[int64]*Session),
	}
}

// CreateTurn appends a copy of the turn.
func (m *MockStore) CreateTurn(ctx context.Context, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreateTurn != nil {
		return m.FailCreateTurn
	}
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	t := *turn
	m.turns[t.ConversationID] = append(m.turns[t.ConversationID], &t)
	return nil
}

// ListTurns returns copies of a conversation's turns in creation order.
func (m *MockStore) ListTurns(ctx context.Context, conversationID int64) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.turns[conversationID]
	result := make([]*Turn, len(src))
	for i, t := range src {
		c := *t
		result[i] = &c
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CountFlaggedBotTurns counts bot turns flagged as needing a human.
func (m *MockStore) CountFlaggedBotTurns(ctx context.Context, conversationID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, t := range m.turns[conversationID] {
		if t.Sender == SenderBot && t.NeedsHuman {
			count++
		}
	}
	return count, nil
}

// GetSession returns a copy of the conversation's session.
func (m *MockStore) GetSession(ctx context.Context, conversationID int64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *sess
	return &c, nil
}

// CreateSession stores a new session.
func (m *MockStore) CreateSession(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sess.ConversationID]; exists {
		return ErrDuplicateSession
	}
	if !sess.Valid() {
		return errors.New("CHECK constraint failed: assigned operator and status disagree")
	}

	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	m.nextID++
	sess.ID = m.nextID

	c := *sess
	m.sessions[sess.ConversationID] = &c
	return nil
}

// UpsertSession creates or replaces the conversation's session.
func (m *MockStore) UpsertSession(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !sess.Valid() {
		return errors.New("CHECK constraint failed: assigned operator and status disagree")
	}

	now := time.Now()
	if existing, ok := m.sessions[sess.ConversationID]; ok {
		sess.ID = existing.ID
		sess.CreatedAt = existing.CreatedAt
	} else {
		m.nextID++
		sess.ID = m.nextID
		if sess.CreatedAt.IsZero() {
			sess.CreatedAt = now
		}
	}
	sess.UpdatedAt = now

	c := *sess
	m.sessions[sess.ConversationID] = &c
	return nil
}

// ListPendingSessions returns unclaimed sessions, newest first.
func (m *MockStore) ListPendingSessions(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Session
	for _, sess := range m.sessions {
		if sess.Status == StatusPendingAgent {
			c := *sess
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// DashboardStats totals conversations and token usage.
func (m *MockStore) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st DashboardStats
	for _, turns := range m.turns {
		if len(turns) == 0 {
			continue
		}
		st.Conversations++
		needsHuman := false
		for _, t := range turns {
			needsHuman = needsHuman || t.NeedsHuman
			st.PromptTokens += int64(t.PromptTokens)
			st.CompletionTokens += int64(t.CompletionTokens)
			st.TotalTokens += int64(t.TotalTokens)
		}
		if needsHuman {
			st.HumanConversations++
		}
	}
	return &st, nil
}

// ListConversationSummaries aggregates turns per conversation.
func (m *MockStore) ListConversationSummaries(ctx context.Context, filter SummaryFilter) (*SummaryPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []ConversationSummary
	for id, turns := range m.turns {
		if len(turns) == 0 {
			continue
		}
		sum := ConversationSummary{ConversationID: id, StartTime: turns[0].CreatedAt, EndTime: turns[0].CreatedAt}
		for _, t := range turns {
			if t.CreatedAt.Before(sum.StartTime) {
				sum.StartTime = t.CreatedAt
			}
			if t.CreatedAt.After(sum.EndTime) {
				sum.EndTime = t.CreatedAt
			}
			if t.NeedsHuman {
				sum.NeedsHuman = true
			}
		}

		if filter.ConversationID != nil && *filter.ConversationID != id {
			continue
		}
		if filter.Kind == KindAI && sum.NeedsHuman || filter.Kind == KindHumanAndAI && !sum.NeedsHuman {
			continue
		}
		if filter.StartAfter != nil && sum.StartTime.Before(*filter.StartAfter) {
			continue
		}
		if filter.StartBefore != nil && sum.StartTime.After(*filter.StartBefore) {
			continue
		}
		all = append(all, sum)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].StartTime.Equal(all[j].StartTime) {
			return all[i].ConversationID > all[j].ConversationID
		}
		return all[i].StartTime.After(all[j].StartTime)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSummaryLimit
	}
	if limit > maxSummaryLimit {
		limit = maxSummaryLimit
	}
	start := filter.Skip
	if start < 0 {
		start = 0
	}
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	return &SummaryPage{Total: len(all), Summaries: all[start:end]}, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
