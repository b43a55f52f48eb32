// Package tape records a turn's provider calls and tool executions for
// offline replay, so turn-loop regressions can be debugged without a live
// provider. This is the optional Tape addition from SPEC_FULL.md's data
// model, grounded on the teacher's internal/agent/tape/recorder.go and
// replayer.go, adapted from the teacher's streaming CompletionChunk shape
// to this runtime's single-shot provider.Provider/models.Completion
// contract.
package tape

import (
	"time"

	"github.com/nexuscore/nexuscore/internal/provider"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// CurrentVersion is the tape file format version written by Recorder.
const CurrentVersion = "1"

// ProviderCall is one request/response pair captured during a turn.
type ProviderCall struct {
	Index      int                       `json:"index"`
	Request    provider.CompletionRequest `json:"request"`
	Completion models.Completion          `json:"completion"`
	Err        string                     `json:"error,omitempty"`
	Duration   time.Duration              `json:"duration"`
}

// ToolCall is one tool execution captured during a turn.
type ToolCall struct {
	Index      int               `json:"index"`
	ToolCallID string            `json:"toolCallId"`
	Name       string            `json:"name"`
	Arguments  string            `json:"arguments"`
	Result     models.ToolResult `json:"result"`
	Duration   time.Duration     `json:"duration"`
}

// Tape is a complete recording of one turn: every provider call it made,
// in order, and every tool it executed, in order.
type Tape struct {
	Version   string         `json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
	SessionID string         `json:"sessionId"`
	Provider  string         `json:"provider,omitempty"`
	Calls     []ProviderCall `json:"calls"`
	ToolCalls []ToolCall     `json:"toolCalls,omitempty"`
}
