package tape

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nexuscore/nexuscore/internal/provider"
	"github.com/nexuscore/nexuscore/pkg/models"
)

type stubProvider struct {
	completions []models.Completion
	next        int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, req provider.CompletionRequest) (models.Completion, error) {
	c := s.completions[s.next]
	s.next++
	return c, nil
}

func TestRecorderCapturesCalls(t *testing.T) {
	stub := &stubProvider{completions: []models.Completion{
		{Text: "first", FinishReason: models.FinishStop},
		{Text: "second", FinishReason: models.FinishStop},
	}}
	rec := NewRecorder(stub, "sess-1")

	if _, err := rec.Complete(context.Background(), provider.CompletionRequest{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := rec.Complete(context.Background(), provider.CompletionRequest{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got := rec.Tape()
	if len(got.Calls) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(got.Calls))
	}
	if got.Calls[0].Completion.Text != "first" || got.Calls[1].Completion.Text != "second" {
		t.Fatalf("recorded calls out of order: %+v", got.Calls)
	}
}

func TestRecorderRecordTool(t *testing.T) {
	stub := &stubProvider{completions: []models.Completion{{Text: "ok"}}}
	rec := NewRecorder(stub, "sess-1")
	rec.RecordTool("call-1", "read", json.RawMessage(`{"path":"a.txt"}`), models.ToolResult{ToolCallID: "call-1", Content: "hi"}, 0)

	got := rec.Tape()
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "read" {
		t.Fatalf("expected recorded tool call, got %+v", got.ToolCalls)
	}
}

func TestReplayerReplaysInOrder(t *testing.T) {
	tp := &Tape{
		Version: CurrentVersion,
		Calls: []ProviderCall{
			{Completion: models.Completion{Text: "a", FinishReason: models.FinishStop}},
			{Completion: models.Completion{Text: "b", FinishReason: models.FinishStop}},
		},
	}
	replayer := NewReplayer(tp)

	c1, err := replayer.Complete(context.Background(), provider.CompletionRequest{})
	if err != nil || c1.Text != "a" {
		t.Fatalf("expected first replayed call to be %q, got %q err=%v", "a", c1.Text, err)
	}
	c2, err := replayer.Complete(context.Background(), provider.CompletionRequest{})
	if err != nil || c2.Text != "b" {
		t.Fatalf("expected second replayed call to be %q, got %q err=%v", "b", c2.Text, err)
	}
	if !replayer.Exhausted() {
		t.Fatal("expected replayer to be exhausted after replaying every call")
	}
	if _, err := replayer.Complete(context.Background(), provider.CompletionRequest{}); err == nil {
		t.Fatal("expected error replaying past the end of the tape")
	}
}

func TestLoadRoundTrips(t *testing.T) {
	stub := &stubProvider{completions: []models.Completion{{Text: "hi", FinishReason: models.FinishStop}}}
	rec := NewRecorder(stub, "sess-2")
	if _, err := rec.Complete(context.Background(), provider.CompletionRequest{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	data, err := rec.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "turn.tape.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.SessionID != "sess-2" || len(loaded.Calls) != 1 {
		t.Fatalf("unexpected round-tripped tape: %+v", loaded)
	}
}
