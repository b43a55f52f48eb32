package tape

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nexuscore/nexuscore/internal/provider"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// Recorder wraps a provider.Provider, capturing every call it makes into
// a Tape alongside whatever tool executions the caller reports through
// RecordTool. Neither the daemon nor the turn loop constructs one; a
// caller that wants a recording wraps its provider itself. The turn loop
// has no dependency on tape.
type Recorder struct {
	inner    provider.Provider
	sessID   string
	mu       sync.Mutex
	tape     *Tape
}

// NewRecorder wraps inner, recording every completion under sessionID.
func NewRecorder(inner provider.Provider, sessionID string) *Recorder {
	return &Recorder{
		inner:  inner,
		sessID: sessionID,
		tape: &Tape{
			Version:   CurrentVersion,
			CreatedAt: time.Now(),
			SessionID: sessionID,
			Provider:  inner.Name(),
		},
	}
}

func (r *Recorder) Name() string { return r.inner.Name() }

// Complete delegates to the wrapped provider and appends the exchange to
// the tape, including any error the provider returned.
func (r *Recorder) Complete(ctx context.Context, req provider.CompletionRequest) (models.Completion, error) {
	start := time.Now()
	completion, err := r.inner.Complete(ctx, req)

	r.mu.Lock()
	call := ProviderCall{
		Index:      len(r.tape.Calls),
		Request:    req,
		Completion: completion,
		Duration:   time.Since(start),
	}
	if err != nil {
		call.Err = err.Error()
	}
	r.tape.Calls = append(r.tape.Calls, call)
	r.mu.Unlock()

	return completion, err
}

// RecordTool appends one tool execution to the tape. The turn loop does
// not call it; the caller that owns the Recorder reports each tool
// execution it wants on the tape.
func (r *Recorder) RecordTool(toolCallID, name string, args json.RawMessage, result models.ToolResult, dur time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tape.ToolCalls = append(r.tape.ToolCalls, ToolCall{
		Index:      len(r.tape.ToolCalls),
		ToolCallID: toolCallID,
		Name:       name,
		Arguments:  string(args),
		Result:     result,
		Duration:   dur,
	})
}

// Tape returns the recording accumulated so far. Safe to call mid-turn.
func (r *Recorder) Tape() Tape {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.tape
}

// Marshal serializes the current recording as indented JSON.
func (r *Recorder) Marshal() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.MarshalIndent(r.tape, "", "  ")
}
