package tape

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/nexuscore/nexuscore/internal/provider"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// Load reads and decodes a tape file written by Recorder.Marshal.
func Load(path string) (*Tape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tape: read %s: %w", path, err)
	}
	var t Tape
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("tape: decode %s: %w", path, err)
	}
	return &t, nil
}

// Replayer is a provider.Provider that answers from a recorded Tape
// instead of a live backend, replaying each completion in call order.
// `nexuscore replay <tape-file>` uses this to re-run the turn loop
// against a fixed sequence of prior responses.
type Replayer struct {
	tape *Tape
	next int
}

// NewReplayer builds a Replayer over t.
func NewReplayer(t *Tape) *Replayer {
	return &Replayer{tape: t}
}

func (r *Replayer) Name() string {
	if r.tape.Provider != "" {
		return r.tape.Provider + "-replay"
	}
	return "replay"
}

// Complete ignores req and returns the next recorded completion in
// order, regardless of what req actually asked for. It returns an error
// once every recorded call has been replayed.
func (r *Replayer) Complete(ctx context.Context, req provider.CompletionRequest) (models.Completion, error) {
	if r.next >= len(r.tape.Calls) {
		return models.Completion{}, fmt.Errorf("tape: no more recorded calls (replayed %d)", r.next)
	}
	call := r.tape.Calls[r.next]
	r.next++
	if call.Err != "" {
		return call.Completion, fmt.Errorf("tape: recorded error: %s", call.Err)
	}
	return call.Completion, nil
}

// ToolResultFor returns the recorded result for the tool call at index i.
// Nothing in this module calls it; `nexuscore replay` replays only the
// recorded provider completions.
func (r *Replayer) ToolResultFor(i int) (models.ToolResult, bool) {
	if i < 0 || i >= len(r.tape.ToolCalls) {
		return models.ToolResult{}, false
	}
	return r.tape.ToolCalls[i].Result, true
}

// Exhausted reports whether every recorded provider call has been replayed.
func (r *Replayer) Exhausted() bool {
	return r.next >= len(r.tape.Calls)
}
