package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexuscore/nexuscore/internal/workspace"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// WriteTool writes content to a file in the sandboxed workspace,
// overwriting by default. Every write is captured in a RollbackJournal
// first so a failed workflow step can undo it.
type WriteTool struct {
	ws       *workspace.Manager
	rollback *RollbackJournal
}

// NewWriteTool creates a write tool. rollback may be nil to disable
// rollback capture.
func NewWriteTool(ws *workspace.Manager, rollback *RollbackJournal) *WriteTool {
	return &WriteTool{ws: ws, rollback: rollback}
}

func (t *WriteTool) Name() string        { return "write" }
func (t *WriteTool) Description() string { return "Write content to a file in the workspace (overwrites by default)." }

func (t *WriteTool) Schema() models.ToolSchema {
	params, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Path to write, relative to the workspace root."},
			"content": map[string]any{"type": "string", "description": "File contents to write."},
			"append":  map[string]any{"type": "boolean", "description": "Append instead of overwrite."},
		},
		"required": []string{"path", "content"},
	})
	return models.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: params}
}

func (t *WriteTool) Execute(ctx context.Context, toolCallID string, args json.RawMessage) (models.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "invalid arguments: "+err.Error()), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "path is required"), nil
	}

	if _, err := t.ws.Resolve(input.Path); err != nil {
		return pathResultErr(toolCallID, err), nil
	}

	if err := t.rollback.capture(toolCallID, input.Path); err != nil {
		return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("capture rollback state: %v", err)), nil
	}

	content := input.Content
	if input.Append {
		existing, err := t.ws.ReadTextFile(input.Path)
		if err != nil && !strings.Contains(err.Error(), "no such file") {
			return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("read existing file: %v", err)), nil
		}
		content = existing + input.Content
	}

	if err := t.ws.WriteTextFile(content, input.Path); err != nil {
		return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("write file: %v", err)), nil
	}

	return okResult(toolCallID, map[string]any{
		"path":          input.Path,
		"bytes_written": len(input.Content),
		"append":        input.Append,
	}), nil
}
