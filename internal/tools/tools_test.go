package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nexuscore/nexuscore/internal/workspace"
)

func newWS(t *testing.T) *workspace.Manager {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	return ws
}

func TestReadWriteEditRoundTrip(t *testing.T) {
	ws := newWS(t)
	journal := NewRollbackJournal(ws)
	ctx := context.Background()

	write := NewWriteTool(ws, journal)
	writeArgs, _ := json.Marshal(map[string]any{"path": "notes.txt", "content": "hello world"})
	if res, err := write.Execute(ctx, "call-1", writeArgs); err != nil || res.IsError {
		t.Fatalf("write failed: err=%v res=%+v", err, res)
	}

	read := NewReadTool(ws, 0)
	readArgs, _ := json.Marshal(map[string]any{"path": "notes.txt"})
	res, err := read.Execute(ctx, "call-2", readArgs)
	if err != nil || res.IsError {
		t.Fatalf("read failed: err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Content, "hello") {
		t.Fatalf("expected content in result, got %s", res.Content)
	}

	edit := NewEditTool(ws, journal)
	editArgs, _ := json.Marshal(map[string]any{
		"path": "notes.txt",
		"edits": []map[string]any{
			{"old_text": "world", "new_text": "nexus"},
		},
	})
	if res, err := edit.Execute(ctx, "call-3", editArgs); err != nil || res.IsError {
		t.Fatalf("edit failed: err=%v res=%+v", err, res)
	}

	got, err := ws.ReadTextFile("notes.txt")
	if err != nil {
		t.Fatalf("ReadTextFile: %v", err)
	}
	if got != "hello nexus" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestWriteRejectsPathEscape(t *testing.T) {
	ws := newWS(t)
	write := NewWriteTool(ws, NewRollbackJournal(ws))
	args, _ := json.Marshal(map[string]any{"path": "../outside.txt", "content": "x"})
	res, err := write.Execute(context.Background(), "call-1", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "path_escape") {
		t.Fatalf("expected path_escape error, got %+v", res)
	}
}

func TestRollbackJournalRestoresPriorContent(t *testing.T) {
	ws := newWS(t)
	journal := NewRollbackJournal(ws)
	ctx := context.Background()

	write := NewWriteTool(ws, journal)
	first, _ := json.Marshal(map[string]any{"path": "f.txt", "content": "first"})
	if _, err := write.Execute(ctx, "call-a", first); err != nil {
		t.Fatalf("write: %v", err)
	}

	second, _ := json.Marshal(map[string]any{"path": "f.txt", "content": "second"})
	if _, err := write.Execute(ctx, "call-b", second); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := journal.Rollback(ctx, "call-b"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, err := ws.ReadTextFile("f.txt")
	if err != nil {
		t.Fatalf("ReadTextFile: %v", err)
	}
	if got != "first" {
		t.Fatalf("expected rollback to restore %q, got %q", "first", got)
	}
}

func TestRollbackJournalRemovesNewlyCreatedFile(t *testing.T) {
	ws := newWS(t)
	journal := NewRollbackJournal(ws)
	ctx := context.Background()

	write := NewWriteTool(ws, journal)
	args, _ := json.Marshal(map[string]any{"path": "new.txt", "content": "created"})
	if _, err := write.Execute(ctx, "call-c", args); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := journal.Rollback(ctx, "call-c"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if ok, _ := ws.Exists("new.txt"); ok {
		t.Fatal("expected rollback to remove newly created file")
	}
}

func TestApplyPatch(t *testing.T) {
	ws := newWS(t)
	if err := ws.WriteTextFile("a\nb\nc\n", "file.txt"); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	tool := NewPatchTool(ws, NewRollbackJournal(ws))
	patch := strings.Join([]string{
		"--- a/file.txt",
		"+++ b/file.txt",
		"@@ -1,3 +1,3 @@",
		" a",
		"-b",
		"+bb",
		" c",
		"",
	}, "\n")
	args, _ := json.Marshal(map[string]any{"patch": patch})
	if res, err := tool.Execute(context.Background(), "call-1", args); err != nil || res.IsError {
		t.Fatalf("apply patch failed: err=%v res=%+v", err, res)
	}

	got, err := ws.ReadTextFile("file.txt")
	if err != nil {
		t.Fatalf("ReadTextFile: %v", err)
	}
	if got != "a\nbb\nc\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestBashRunsCommand(t *testing.T) {
	ws := newWS(t)
	bash := NewBashTool(ws, 0)
	args, _ := json.Marshal(map[string]any{"command": "echo hi"})
	res, err := bash.Execute(context.Background(), "call-1", args)
	if err != nil || res.IsError {
		t.Fatalf("bash failed: err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Content, "hi") {
		t.Fatalf("expected stdout in result, got %s", res.Content)
	}
}

func TestBashTimesOut(t *testing.T) {
	ws := newWS(t)
	bash := NewBashTool(ws, 0)
	args, _ := json.Marshal(map[string]any{"command": "sleep 5", "timeout_seconds": 1})
	res, err := bash.Execute(context.Background(), "call-1", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "timeout") {
		t.Fatalf("expected timeout error, got %+v", res)
	}
}

func TestRegistryExecuteDeniedByPolicy(t *testing.T) {
	ws := newWS(t)
	reg := NewRegistry(NewPolicy([]string{"bash"}))
	reg.Register(NewBashTool(ws, 0))

	args, _ := json.Marshal(map[string]any{"command": "echo hi"})
	res, err := reg.Execute(context.Background(), "call-1", "bash", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "denied") {
		t.Fatalf("expected policy denial, got %+v", res)
	}
}

func TestValidateCallRejectsMissingRequiredField(t *testing.T) {
	ws := newWS(t)
	reg := NewRegistry(nil)
	reg.Register(NewWriteTool(ws, NewRollbackJournal(ws)))

	args, _ := json.Marshal(map[string]any{"path": "notes.txt"})
	result := reg.ValidateCall("write", args)
	if result.Valid {
		t.Fatalf("expected validation failure for missing content field")
	}
	if len(result.Errors) == 0 {
		t.Fatal("expected at least one validation error")
	}
}

func TestValidateCallAcceptsWellFormedArgs(t *testing.T) {
	ws := newWS(t)
	reg := NewRegistry(nil)
	reg.Register(NewWriteTool(ws, NewRollbackJournal(ws)))

	args, _ := json.Marshal(map[string]any{"path": "notes.txt", "content": "hi"})
	result := reg.ValidateCall("write", args)
	if !result.Valid {
		t.Fatalf("expected valid, got errors: %v", result.Errors)
	}
}

func TestRegistryExecuteRejectsInvalidArguments(t *testing.T) {
	ws := newWS(t)
	reg := NewRegistry(nil)
	reg.Register(NewWriteTool(ws, NewRollbackJournal(ws)))

	args, _ := json.Marshal(map[string]any{"path": "notes.txt"})
	res, err := reg.Execute(context.Background(), "call-1", "write", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "argument validation failed") {
		t.Fatalf("expected argument validation error, got %+v", res)
	}
}

func TestRegistrySchemasExcludeDeniedTools(t *testing.T) {
	ws := newWS(t)
	reg := NewRegistry(NewPolicy([]string{"bash"}))
	reg.Register(NewBashTool(ws, 0))
	reg.Register(NewReadTool(ws, 0))

	schemas := reg.Schemas()
	if len(schemas) != 1 || schemas[0].Name != "read" {
		t.Fatalf("expected only read tool schema, got %+v", schemas)
	}
}

func TestRollbackJournalMultiFileCall(t *testing.T) {
	ws := newWS(t)
	journal := NewRollbackJournal(ws)
	ctx := context.Background()

	if err := ws.WriteTextFile("one", "a.txt"); err != nil {
		t.Fatalf("seed a.txt: %v", err)
	}
	if err := journal.capture("call-m", "a.txt"); err != nil {
		t.Fatalf("capture a.txt: %v", err)
	}
	if err := journal.capture("call-m", "b.txt"); err != nil {
		t.Fatalf("capture b.txt: %v", err)
	}
	if err := ws.WriteTextFile("changed", "a.txt"); err != nil {
		t.Fatalf("mutate a.txt: %v", err)
	}
	if err := ws.WriteTextFile("created", "b.txt"); err != nil {
		t.Fatalf("create b.txt: %v", err)
	}

	if err := journal.Rollback(ctx, "call-m"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, err := ws.ReadTextFile("a.txt")
	if err != nil || got != "one" {
		t.Fatalf("a.txt = %q (%v), want %q", got, err, "one")
	}
	if ok, _ := ws.Exists("b.txt"); ok {
		t.Fatal("expected rollback to remove b.txt, which did not exist before the call")
	}
}

func TestRegistryDeniesDangerousBashArguments(t *testing.T) {
	ws := newWS(t)
	reg := NewRegistry(NewPolicy(nil))
	reg.Register(NewBashTool(ws, 0))

	args, _ := json.Marshal(map[string]any{"command": "rm -rf /"})
	res, err := reg.Execute(context.Background(), "call-1", "bash", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "denied by policy") {
		t.Fatalf("expected a policy denial, got %+v", res)
	}

	safe, _ := json.Marshal(map[string]any{"command": "echo fine"})
	res, err = reg.Execute(context.Background(), "call-2", "bash", safe)
	if err != nil || res.IsError {
		t.Fatalf("expected a harmless command to pass the policy, got err=%v res=%+v", err, res)
	}
}
