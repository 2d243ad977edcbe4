// ABOUTME: Answer generation contract used by the escalation trigger
// ABOUTME: Answer carries the model text plus token usage for the bot turn

package answer

import (
	"context"
	"errors"
)

// ErrNoChoices is returned when the model responds without any completion.
var ErrNoChoices = errors.New("model returned no choices")

// Usage holds token counters reported by the model.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Answer is one generated bot reply.
type Answer struct {
	Text  string
	Usage Usage
}

// Generator produces the bot's reply to a user question in a conversation.
type Generator interface {
	Generate(ctx context.Context, conversationID int64, question string) (Answer, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, conversationID int64, question string) (Answer, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, conversationID int64, question string) (Answer, error) {
	return f(ctx, conversationID, question)
}
