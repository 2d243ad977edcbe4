// ABOUTME: Per-conversation summaries for the operator dashboard
// ABOUTME: Aggregates turn timestamps, the needs_human flag and token usage

package store

import (
	"context"
	"fmt"
	"strings"
)

const (
	defaultSummaryLimit = 20
	maxSummaryLimit     = 100
)

// ListConversationSummaries groups turns by conversation and returns one page
// ordered by conversation start time, newest first.
func (s *SQLiteStore) ListConversationSummaries(ctx context.Context, filter SummaryFilter) (*SummaryPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSummaryLimit
	}
	if limit > maxSummaryLimit {
		limit = maxSummaryLimit
	}
	skip := filter.Skip
	if skip < 0 {
		skip = 0
	}

	var where []string
	var args []any

	if filter.ConversationID != nil {
		where = append(where, "conversation_id = ?")
		args = append(args, *filter.ConversationID)
	}
	switch filter.Kind {
	case KindAI:
		where = append(where, "needs_human_flag = 0")
	case KindHumanAndAI:
		where = append(where, "needs_human_flag = 1")
	}
	if filter.StartAfter != nil {
		where = append(where, "start_time >= ?")
		args = append(args, formatTime(*filter.StartAfter))
	}
	if filter.StartBefore != nil {
		where = append(where, "start_time <= ?")
		args = append(args, formatTime(*filter.StartBefore))
	}

	base := `
		SELECT conversation_id, start_time, end_time, needs_human_flag
		FROM (
			SELECT conversation_id,
			       MIN(created_at) AS start_time,
			       MAX(created_at) AS end_time,
			       MAX(CASE WHEN needs_human = 1 THEN 1 ELSE 0 END) AS needs_human_flag
			FROM turns
			GROUP BY conversation_id
		)
	`
	if len(where) > 0 {
		base += " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+base+")", args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting summaries: %w", err)
	}

	pageQuery := base + " ORDER BY start_time DESC, conversation_id DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, pageQuery, append(args, limit, skip)...)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	page := &SummaryPage{Total: total}
	for rows.Next() {
		var sum ConversationSummary
		var start, end string
		var flag int
		if err := rows.Scan(&sum.ConversationID, &start, &end, &flag); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		if sum.StartTime, err = parseTime(start); err != nil {
			return nil, fmt.Errorf("parsing start_time: %w", err)
		}
		if sum.EndTime, err = parseTime(end); err != nil {
			return nil, fmt.Errorf("parsing end_time: %w", err)
		}
		sum.NeedsHuman = flag == 1
		page.Summaries = append(page.Summaries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summary rows: %w", err)
	}

	return page, nil
}

// DashboardStats counts conversations, those that ever needed a human, and
// sums token usage over all turns.
func (s *SQLiteStore) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	query := `
		SELECT COUNT(DISTINCT conversation_id),
		       COUNT(DISTINCT CASE WHEN needs_human = 1 THEN conversation_id END),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0)
		FROM turns
	`

	var st DashboardStats
	err := s.db.QueryRowContext(ctx, query).Scan(
		&st.Conversations,
		&st.HumanConversations,
		&st.PromptTokens,
		&st.CompletionTokens,
		&st.TotalTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("querying dashboard stats: %w", err)
	}
	return &st, nil
}
