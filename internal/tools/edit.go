package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexuscore/nexuscore/internal/workspace"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// EditTool applies one or more find/replace edits to a file in the
// sandboxed workspace.
type EditTool struct {
	ws       *workspace.Manager
	rollback *RollbackJournal
}

// NewEditTool creates an edit tool.
func NewEditTool(ws *workspace.Manager, rollback *RollbackJournal) *EditTool {
	return &EditTool{ws: ws, rollback: rollback}
}

func (t *EditTool) Name() string        { return "edit" }
func (t *EditTool) Description() string { return "Apply one or more find/replace edits to a file in the workspace." }

func (t *EditTool) Schema() models.ToolSchema {
	params, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path to edit, relative to the workspace root."},
			"edits": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"old_text":    map[string]any{"type": "string", "description": "Text to replace."},
						"new_text":    map[string]any{"type": "string", "description": "Replacement text."},
						"replace_all": map[string]any{"type": "boolean", "description": "Replace all occurrences."},
					},
					"required": []string{"old_text", "new_text"},
				},
			},
		},
		"required": []string{"path", "edits"},
	})
	return models.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: params}
}

func (t *EditTool) Execute(ctx context.Context, toolCallID string, args json.RawMessage) (models.ToolResult, error) {
	var input struct {
		Path  string `json:"path"`
		Edits []struct {
			OldText    string `json:"old_text"`
			NewText    string `json:"new_text"`
			ReplaceAll bool   `json:"replace_all"`
		} `json:"edits"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "invalid arguments: "+err.Error()), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "path is required"), nil
	}
	if len(input.Edits) == 0 {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "edits are required"), nil
	}

	if _, err := t.ws.Resolve(input.Path); err != nil {
		return pathResultErr(toolCallID, err), nil
	}

	content, err := t.ws.ReadTextFile(input.Path)
	if err != nil {
		return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("read file: %v", err)), nil
	}

	if err := t.rollback.capture(toolCallID, input.Path); err != nil {
		return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("capture rollback state: %v", err)), nil
	}

	replacements := 0
	for _, edit := range input.Edits {
		if edit.OldText == "" {
			return errorResult(toolCallID, models.ToolErrorInvalidArgument, "old_text is required"), nil
		}
		if !strings.Contains(content, edit.OldText) {
			return errorResult(toolCallID, models.ToolErrorInvalidArgument, "old_text not found"), nil
		}
		if edit.ReplaceAll {
			replacements += strings.Count(content, edit.OldText)
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
		} else {
			content = strings.Replace(content, edit.OldText, edit.NewText, 1)
			replacements++
		}
	}

	if err := t.ws.WriteTextFile(content, input.Path); err != nil {
		return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("write file: %v", err)), nil
	}

	return okResult(toolCallID, map[string]any{
		"path":         input.Path,
		"replacements": replacements,
	}), nil
}
