package agent

import (
	"encoding/json"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// executedToolCall is one tool invocation this turn made, kept so the
// final verifier can inspect write effects and so rollback can walk the
// turn's mutations in reverse capture order.
type executedToolCall struct {
	toolCallID string
	name       string
	arguments  json.RawMessage
	result     models.ToolResult
}

// turnState is the per-in-flight-event state spec.md §3 describes:
// accumulated messages, retry/continuation budgets, tool call history,
// and the derived task contract gating final verification. It lives for
// the lifetime of one runTurn call only.
type turnState struct {
	sessionID string
	requestID string

	messages        []models.Message
	maxOutputTokens int

	toolCallCount     int
	toolCallHistory   []executedToolCall
	toolFailureStreak int
	correctionRetries int
	continuationCount int

	accumulatedTextParts []string

	contract TaskContract

	// pinnedSystem is carried across CONTINUE re-packs so Builder.Compact
	// has the system text it needs without the loop re-deriving it.
	pinnedSystem string
}

func (ts *turnState) accumulatedText() string {
	joined := ""
	for _, part := range ts.accumulatedTextParts {
		joined += part
	}
	return joined
}
