package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nexuscore/nexuscore/internal/workspace"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// ReadTool reads a file from the sandboxed workspace with an optional
// byte offset and a hard cap on bytes returned.
type ReadTool struct {
	ws      *workspace.Manager
	maxRead int
}

// NewReadTool creates a read tool. maxReadBytes <= 0 falls back to 200000.
func NewReadTool(ws *workspace.Manager, maxReadBytes int) *ReadTool {
	if maxReadBytes <= 0 {
		maxReadBytes = 200000
	}
	return &ReadTool{ws: ws, maxRead: maxReadBytes}
}

func (t *ReadTool) Name() string        { return "read" }
func (t *ReadTool) Description() string { return "Read a file from the workspace with optional offset and byte limit." }

func (t *ReadTool) Schema() models.ToolSchema {
	params, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":      map[string]any{"type": "string", "description": "Path to the file, relative to the workspace root."},
			"offset":    map[string]any{"type": "integer", "description": "Byte offset to start reading from.", "minimum": 0},
			"max_bytes": map[string]any{"type": "integer", "description": "Maximum bytes to read, capped by the tool default.", "minimum": 0},
		},
		"required": []string{"path"},
	})
	return models.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: params}
}

func (t *ReadTool) Execute(ctx context.Context, toolCallID string, args json.RawMessage) (models.ToolResult, error) {
	var input struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "invalid arguments: "+err.Error()), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "path is required"), nil
	}
	if input.Offset < 0 {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "offset must be >= 0"), nil
	}

	resolved, err := t.ws.Resolve(input.Path)
	if err != nil {
		return pathResultErr(toolCallID, err), nil
	}

	f, err := os.Open(resolved)
	if err != nil {
		return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("open file: %v", err)), nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("stat file: %v", err)), nil
	}
	if input.Offset > 0 {
		if _, err := f.Seek(input.Offset, io.SeekStart); err != nil {
			return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("seek file: %v", err)), nil
		}
	}

	limit := t.maxRead
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}
	remaining := int64(limit)
	if size := info.Size(); size > 0 {
		remaining = size - input.Offset
		if remaining < 0 {
			remaining = 0
		}
		if remaining > int64(limit) {
			remaining = int64(limit)
		}
	}

	buf, err := io.ReadAll(io.LimitReader(f, remaining))
	if err != nil {
		return errorResult(toolCallID, models.ToolErrorExecution, fmt.Sprintf("read file: %v", err)), nil
	}

	truncated := info.Size() > 0 && input.Offset+int64(len(buf)) < info.Size()
	return okResult(toolCallID, map[string]any{
		"path":      input.Path,
		"content":   string(buf),
		"offset":    input.Offset,
		"bytes":     len(buf),
		"truncated": truncated,
	}), nil
}

func pathResultErr(toolCallID string, err error) models.ToolResult {
	var escErr *workspace.ErrPathEscape
	if errors.As(err, &escErr) {
		return errorResult(toolCallID, models.ToolErrorPathEscape, err.Error())
	}
	return errorResult(toolCallID, models.ToolErrorInvalidArgument, err.Error())
}
