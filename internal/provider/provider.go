// Package provider implements synchronous LLM backend clients.
//
// Unlike the teacher's streaming-channel provider surface, every Provider
// here returns one models.Completion per call: the turn loop needs a
// single point to inspect finish reason, tool calls, and usage before
// deciding its next phase, and local-first single-user traffic has no
// need for token-by-token delivery to a remote viewer.
package provider

import (
	"context"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// CompletionRequest carries everything a Provider needs to produce one
// Completion.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []models.Message
	Tools     []models.ToolSchema
	MaxTokens int
}

// Provider is a chat-completion backend.
type Provider interface {
	// Name returns the provider identifier used for routing and logging.
	Name() string

	// Complete sends req and returns the model's response.
	Complete(ctx context.Context, req CompletionRequest) (models.Completion, error)
}
