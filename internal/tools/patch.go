package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nexuscore/nexuscore/internal/workspace"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// PatchTool applies unified diffs to files in the sandboxed workspace.
type PatchTool struct {
	ws       *workspace.Manager
	rollback *RollbackJournal
}

// NewPatchTool creates a patch tool.
func NewPatchTool(ws *workspace.Manager, rollback *RollbackJournal) *PatchTool {
	return &PatchTool{ws: ws, rollback: rollback}
}

func (t *PatchTool) Name() string        { return "patch" }
func (t *PatchTool) Description() string { return "Apply a unified diff patch to one or more files in the workspace." }

func (t *PatchTool) Schema() models.ToolSchema {
	params, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"patch": map[string]any{"type": "string", "description": "Unified diff patch (---/+++ headers required)."},
		},
		"required": []string{"patch"},
	})
	return models.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: params}
}

func (t *PatchTool) Execute(ctx context.Context, toolCallID string, args json.RawMessage) (models.ToolResult, error) {
	var input struct {
		Patch string `json:"patch"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "invalid arguments: "+err.Error()), nil
	}
	if strings.TrimSpace(input.Patch) == "" {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "patch is required"), nil
	}

	patches, err := parseUnifiedDiff(input.Patch)
	if err != nil {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, err.Error()), nil
	}

	applied := make([]map[string]any, 0, len(patches))
	for _, patch := range patches {
		if _, err := t.ws.Resolve(patch.Path); err != nil {
			return pathResultErr(toolCallID, err), nil
		}

		original, err := t.ws.ReadTextFile(patch.Path)
		if err != nil {
			return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("read file: %v", err)), nil
		}

		updated, err := applyFilePatch(original, patch)
		if err != nil {
			return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("apply patch to %s: %v", patch.Path, err)), nil
		}

		if err := t.rollback.capture(toolCallID, patch.Path); err != nil {
			return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("capture rollback state: %v", err)), nil
		}
		if err := t.ws.WriteTextFile(updated.Content, patch.Path); err != nil {
			return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("write file: %v", err)), nil
		}

		applied = append(applied, map[string]any{
			"path":          patch.Path,
			"hunks":         len(patch.Hunks),
			"lines_added":   updated.Added,
			"lines_removed": updated.Removed,
		})
	}

	return okResult(toolCallID, map[string]any{"applied": applied}), nil
}

type filePatch struct {
	Path  string
	Hunks []hunk
}

type hunk struct {
	OldStart int
	Lines    []string
}

type patchResult struct {
	Content string
	Added   int
	Removed int
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,\d+)? \+\d+(?:,\d+)? @@`)

func parseUnifiedDiff(patch string) ([]filePatch, error) {
	lines := strings.Split(patch, "\n")
	var patches []filePatch
	var current *filePatch
	var currentHunk *hunk

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff ") || strings.HasPrefix(line, "index "):
			continue
		case strings.HasPrefix(line, "--- "):
			if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
				return nil, fmt.Errorf("invalid patch: missing +++ header")
			}
			newPath := strings.TrimSpace(strings.TrimPrefix(lines[i+1], "+++ "))
			newPath = strings.TrimPrefix(strings.TrimPrefix(newPath, "b/"), "a/")
			patches = append(patches, filePatch{Path: newPath})
			current = &patches[len(patches)-1]
			currentHunk = nil
			i++
		case strings.HasPrefix(line, "@@ "):
			if current == nil {
				return nil, fmt.Errorf("invalid patch: hunk without file header")
			}
			match := hunkHeader.FindStringSubmatch(line)
			if match == nil {
				return nil, fmt.Errorf("invalid patch: malformed hunk header")
			}
			h := hunk{OldStart: atoi(match[1])}
			current.Hunks = append(current.Hunks, h)
			currentHunk = &current.Hunks[len(current.Hunks)-1]
		default:
			if currentHunk == nil || line == "" || line == "\\ No newline at end of file" {
				continue
			}
			prefix := line[:1]
			if prefix != " " && prefix != "+" && prefix != "-" {
				return nil, fmt.Errorf("invalid patch line: %s", line)
			}
			currentHunk.Lines = append(currentHunk.Lines, line)
		}
	}

	if len(patches) == 0 {
		return nil, fmt.Errorf("invalid patch: no file headers found")
	}
	return patches, nil
}

func applyFilePatch(content string, patch filePatch) (patchResult, error) {
	hadTrailing := strings.HasSuffix(content, "\n")
	trimmed := strings.TrimSuffix(content, "\n")
	var lines []string
	if trimmed != "" {
		lines = strings.Split(trimmed, "\n")
	}

	added, removed := 0, 0
	for _, h := range patch.Hunks {
		idx := h.OldStart - 1
		if idx < 0 {
			idx = 0
		}
		for _, line := range h.Lines {
			prefix := line[:1]
			text := ""
			if len(line) > 1 {
				text = line[1:]
			}
			switch prefix {
			case " ":
				if idx >= len(lines) || lines[idx] != text {
					return patchResult{}, fmt.Errorf("context mismatch at line %d", idx+1)
				}
				idx++
			case "-":
				if idx >= len(lines) || lines[idx] != text {
					return patchResult{}, fmt.Errorf("delete mismatch at line %d", idx+1)
				}
				lines = append(lines[:idx], lines[idx+1:]...)
				removed++
			case "+":
				lines = append(lines[:idx], append([]string{text}, lines[idx:]...)...)
				idx++
				added++
			}
		}
	}

	result := strings.Join(lines, "\n")
	if hadTrailing {
		result += "\n"
	}
	return patchResult{Content: result, Added: added, Removed: removed}, nil
}

func atoi(value string) int {
	out := 0
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0
		}
		out = out*10 + int(r-'0')
	}
	return out
}
