package sessions

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexuscore/nexuscore/internal/provider"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// LLMSummarizer produces a rolling summary by asking a model to fold the
// dropped turns into the prior summary, grounded on the teacher's
// Summarizer.Summarize flow (internal/agent/context/summarize.go) of
// "ask the provider for an updated summary message" generalized from a
// message-count threshold to the session compactor's turn-budget model.
type LLMSummarizer struct {
	provider provider.Provider
	model    string
}

// NewLLMSummarizer builds a Summarizer backed by p, using model for
// every summarization call.
func NewLLMSummarizer(p provider.Provider, model string) *LLMSummarizer {
	return &LLMSummarizer{provider: p, model: model}
}

const summarizerSystemPrompt = "You maintain a rolling summary of a coding-agent conversation. " +
	"Fold the new turns into the existing summary, keeping it under 300 characters, " +
	"preserving decisions, file paths, and outstanding tasks. Respond with the summary text only."

// Summarize implements sessions.Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, priorSummary string, dropped []models.SessionTurn) (string, error) {
	if len(dropped) == 0 {
		return priorSummary, nil
	}

	var transcript strings.Builder
	if priorSummary != "" {
		fmt.Fprintf(&transcript, "Existing summary: %s\n\n", priorSummary)
	}
	transcript.WriteString("New turns:\n")
	for _, turn := range dropped {
		fmt.Fprintf(&transcript, "[%s] %s: %s\n", turn.Type, turn.Role, turn.Content)
	}

	completion, err := s.provider.Complete(ctx, provider.CompletionRequest{
		Model:     s.model,
		System:    summarizerSystemPrompt,
		Messages:  []models.Message{{Role: models.RoleUser, Content: transcript.String()}},
		MaxTokens: 256,
	})
	if err != nil {
		return "", fmt.Errorf("sessions: summarization call failed: %w", err)
	}
	return strings.TrimSpace(completion.Text), nil
}
