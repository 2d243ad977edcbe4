// ABOUTME: OpenAI-compatible answer generator grounded on the knowledge base
// ABOUTME: Embeds the question, retrieves nearest chunks and asks the chat model

package answer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/2389/handoff-gateway/internal/store"
)

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"
	defaultTopK           = 5
	maxHistoryTurns       = 40
)

const systemPrompt = "You are a knowledge-based assistant. Answer ONLY using the provided knowledge base and conversation history. If the answer is not present, say: 'I don't know.'"

// History supplies earlier turns of a conversation.
type History interface {
	ListTurns(ctx context.Context, conversationID int64) ([]*store.Turn, error)
}

// Retriever finds knowledge-base chunks close to an embedding.
type Retriever interface {
	NearestChunks(ctx context.Context, embedding []float32, k int) ([]string, error)
}

// OpenAIConfig configures OpenAIGenerator.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	TopK           int
	Timeout        time.Duration
}

// OpenAIGenerator answers questions with an OpenAI-compatible chat model.
type OpenAIGenerator struct {
	client    *openai.Client
	cfg       OpenAIConfig
	history   History
	retriever Retriever
	logger    *slog.Logger
}

// NewOpenAIGenerator creates a generator. retriever may be nil, in which case
// answers rely on conversation history only.
func NewOpenAIGenerator(cfg OpenAIConfig, history History, retriever Retriever, logger *slog.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIGenerator{
		client:    openai.NewClientWithConfig(clientCfg),
		cfg:       cfg,
		history:   history,
		retriever: retriever,
		logger:    logger.With("component", "answer"),
	}
}

// Generate answers question in the context of the conversation's history.
func (g *OpenAIGenerator) Generate(ctx context.Context, conversationID int64, question string) (Answer, error) {
	chunks := g.knowledge(ctx, question)

	turns, err := g.history.ListTurns(ctx, conversationID)
	if err != nil {
		return Answer{}, fmt.Errorf("loading history: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:    g.cfg.Model,
		Messages: buildMessages(chunks, turns, question),
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Answer{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Answer{}, ErrNoChoices
	}

	g.logger.Debug("generated answer",
		"conversation_id", conversationID,
		"model", g.cfg.Model,
		"chunks", len(chunks),
		"total_tokens", resp.Usage.TotalTokens,
	)

	return Answer{
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// knowledge returns chunks relevant to question. Failures are logged and
// treated as an empty knowledge base.
func (g *OpenAIGenerator) knowledge(ctx context.Context, question string) []string {
	if g.retriever == nil {
		return nil
	}

	embedding, err := g.Embed(ctx, question)
	if err != nil {
		g.logger.Warn("embedding failed, answering without knowledge base", "error", err)
		return nil
	}

	chunks, err := g.retriever.NearestChunks(ctx, embedding, g.cfg.TopK)
	if err != nil {
		g.logger.Warn("retrieval failed, answering without knowledge base", "error", err)
		return nil
	}
	return chunks
}

// Embed returns the embedding vector for text.
func (g *OpenAIGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(g.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create embedding: empty response")
	}
	return resp.Data[0].Embedding, nil
}

func buildMessages(chunks []string, turns []*store.Turn, question string) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if len(chunks) > 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Knowledge Base:\n" + strings.Join(chunks, "\n\n"),
		})
	}

	// The current question is usually already the newest stored turn.
	if n := len(turns); n > 0 && turns[n-1].Sender == store.SenderUser && turns[n-1].Text == question {
		turns = turns[:n-1]
	}
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}

	for _, t := range turns {
		role := openai.ChatMessageRoleAssistant
		if t.Sender == store.SenderUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}

	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	})
}
