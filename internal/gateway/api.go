// ABOUTME: REST handlers for operators and for request/response question answering
// ABOUTME: Pending alerts, transcripts, dashboard summaries and stats, and POST /api/v1/qa

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/handoff-gateway/internal/auth"
	"github.com/2389/handoff-gateway/internal/conversation"
	"github.com/2389/handoff-gateway/internal/store"
)

const (
	defaultSummaryLimit = 20
	maxSummaryLimit     = 100

	// sessionIDPrefix is the display form of a conversation id on the dashboard.
	sessionIDPrefix = "SESS-"

	idempotencyHeader = "Idempotency-Key"
)

// SupportAlertResponse is one entry of GET /api/v1/support-alerts.
type SupportAlertResponse struct {
	SessionID int64     `json:"session_id"`
	SessID    int64     `json:"sess_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnResponse is one turn of a conversation transcript.
type TurnResponse struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Message    string    `json:"message"`
	NeedsHuman bool      `json:"needs_human"`
	Tokens     int       `json:"tokens,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TranscriptResponse is the JSON response for GET /api/v1/conversations/{sess_id}/turns.
type TranscriptResponse struct {
	SessID     int64          `json:"sess_id"`
	Status     string         `json:"status"`
	AssignedTo *int64         `json:"assigned_agent_id"`
	Turns      []TurnResponse `json:"turns"`
}

// ChatSummaryResponse is one row of the dashboard summary.
type ChatSummaryResponse struct {
	SessID          int64     `json:"sess_id"`
	SessionID       string    `json:"session_id"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds int64     `json:"duration_seconds"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
}

// ChatSummaryListResponse is the JSON response for GET /api/v1/chat/summary.
type ChatSummaryListResponse struct {
	Total int                   `json:"total"`
	Skip  int                   `json:"skip"`
	Limit int                   `json:"limit"`
	Data  []ChatSummaryResponse `json:"data"`
}

// ChatTokens is model token usage summed over bot turns.
type ChatTokens struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// DashboardResponse is the body of GET /api/v1/dashboard.
type DashboardResponse struct {
	TotalSessions             int        `json:"total_sessions"`
	HumanInterventionSessions int        `json:"human_intervention_sessions"`
	ChatTokens                ChatTokens `json:"chat_tokens"`
	EmbeddingTokensUsed       int64      `json:"embedding_tokens_used"`
	TotalTokensUsed           int64      `json:"total_tokens_used"`
}

// QARequest is the JSON body for POST /api/v1/qa.
type QARequest struct {
	SessID   int64  `json:"sess_id"`
	Question string `json:"question"`
}

// QAResponse is the JSON response for POST /api/v1/qa.
type QAResponse struct {
	Answer    string `json:"answer"`
	Relayed   bool   `json:"relayed,omitempty"`
	Escalated bool   `json:"escalated,omitempty"`
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// handleSupportAlerts lists conversations waiting for an operator, newest first.
func (g *Gateway) handleSupportAlerts(w http.ResponseWriter, r *http.Request) {
	sessions, err := g.store.ListPendingSessions(r.Context())
	if err != nil {
		g.logger.Error("listing pending sessions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list support alerts")
		return
	}

	resp := make([]SupportAlertResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SupportAlertResponse{
			SessionID: s.ID,
			SessID:    s.ConversationID,
			Status:    string(s.Status),
			CreatedAt: s.CreatedAt,
		})
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleConversationTurns returns the full transcript of one conversation.
func (g *Gateway) handleConversationTurns(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "sess_id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	turns, err := g.store.ListTurns(r.Context(), id)
	if err != nil {
		g.logger.Error("listing turns", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	sess, err := g.conversation.Session(r.Context(), id)
	if err != nil {
		g.logger.Error("loading session", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if len(turns) == 0 && sess == nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	resp := TranscriptResponse{
		SessID: id,
		Status: string(store.StatusBotActive),
		Turns:  make([]TurnResponse, 0, len(turns)),
	}
	if sess != nil {
		resp.Status = string(sess.Status)
		resp.AssignedTo = sess.AssignedOperatorID
	}
	for _, t := range turns {
		resp.Turns = append(resp.Turns, TurnResponse{
			ID:         t.ID,
			Sender:     string(t.Sender),
			Message:    t.Text,
			NeedsHuman: t.NeedsHuman,
			Tokens:     t.TotalTokens,
			CreatedAt:  t.CreatedAt,
		})
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// parseQueryInt reads an optional integer query parameter within [min, max].
func parseQueryInt(r *http.Request, name string, def, minVal, maxVal int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < minVal || v > maxVal {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", name, minVal, maxVal)
	}
	return v, nil
}

// parseQueryTime accepts RFC 3339 timestamps or plain dates.
func parseQueryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s must be an RFC 3339 timestamp or YYYY-MM-DD date", name)
}

// parseSessionID accepts "42" or "SESS-42".
func parseSessionID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, sessionIDPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func summaryKind(label string) store.ConversationKind {
	switch strings.ToLower(label) {
	case string(store.KindAI):
		return store.KindAI
	case string(store.KindHumanAndAI):
		return store.KindHumanAndAI
	default:
		return store.KindAny
	}
}

// handleDashboard serves conversation and token totals. Embedding usage is
// zero when the knowledge base is disabled or cannot be queried.
func (g *Gateway) handleDashboard(w http.ResponseWriter, r *http.Request) {
	st, err := g.store.DashboardStats(r.Context())
	if err != nil {
		g.logger.Error("loading dashboard stats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}

	var embedding int64
	if g.embeddings != nil {
		if embedding, err = g.embeddings.EmbeddingTokens(r.Context()); err != nil {
			g.logger.Warn("embedding token usage unavailable", "error", err)
			embedding = 0
		}
	}

	g.sendJSON(w, http.StatusOK, DashboardResponse{
		TotalSessions:             st.Conversations,
		HumanInterventionSessions: st.HumanConversations,
		ChatTokens: ChatTokens{
			PromptTokens:     st.PromptTokens,
			CompletionTokens: st.CompletionTokens,
			TotalTokens:      st.TotalTokens,
		},
		EmbeddingTokensUsed: embedding,
		TotalTokensUsed:     st.TotalTokens + embedding,
	})
}

// handleChatSummary serves the paged per-conversation dashboard.
func (g *Gateway) handleChatSummary(w http.ResponseWriter, r *http.Request) {
	skip, err := parseQueryInt(r, "skip", 0, 0, math.MaxInt32)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseQueryInt(r, "limit", defaultSummaryLimit, 1, maxSummaryLimit)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := store.SummaryFilter{
		Skip:  skip,
		Limit: limit,
		Kind:  summaryKind(r.URL.Query().Get("type")),
	}
	if filter.StartAfter, err = parseQueryTime(r, "start_date"); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.StartBefore, err = parseQueryTime(r, "end_date"); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := ChatSummaryListResponse{Skip: skip, Limit: limit, Data: []ChatSummaryResponse{}}

	if raw := r.URL.Query().Get("session_id"); raw != "" {
		id, ok := parseSessionID(raw)
		if !ok {
			g.sendJSON(w, http.StatusOK, resp)
			return
		}
		filter.ConversationID = &id
	}

	page, err := g.store.ListConversationSummaries(r.Context(), filter)
	if err != nil {
		g.logger.Error("listing conversation summaries", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load summaries")
		return
	}

	resp.Total = page.Total
	for _, s := range page.Summaries {
		kind := store.KindAI
		if s.NeedsHuman {
			kind = store.KindHumanAndAI
		}
		resp.Data = append(resp.Data, ChatSummaryResponse{
			SessID:          s.ConversationID,
			SessionID:       sessionIDPrefix + strconv.FormatInt(s.ConversationID, 10),
			StartTime:       s.StartTime,
			DurationSeconds: int64(s.EndTime.Sub(s.StartTime) / time.Second),
			Type:            string(kind),
			Status:          "completed",
		})
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleQA answers one question over plain HTTP, following the same routing
// as a user channel message.
func (g *Gateway) handleQA(w http.ResponseWriter, r *http.Request) {
	var req QARequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, g.config.Server.ReadLimit)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if sub, ok := auth.FromContext(r.Context()); ok && sub.ID != req.SessID {
		g.sendJSONError(w, http.StatusForbidden, "token does not match sess_id")
		return
	}

	var claimed string
	if key := r.Header.Get(idempotencyHeader); key != "" {
		claimed = fmt.Sprintf("%d:%s", req.SessID, key)
		if !g.idempotency.Claim(claimed) {
			g.sendJSONError(w, http.StatusConflict, "duplicate request")
			return
		}
	}

	out, err := g.conversation.HandleUserMessage(r.Context(), req.SessID, req.Question)
	if err != nil {
		if claimed != "" {
			g.idempotency.Release(claimed)
		}
		if errors.Is(err, conversation.ErrValidation) {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		g.logger.Error("answering question", "conversation_id", req.SessID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, conversation.GenericErrorText)
		return
	}

	g.sendJSON(w, http.StatusOK, QAResponse{
		Answer:    out.Reply,
		Relayed:   out.Relayed,
		Escalated: out.Escalated,
	})
}
