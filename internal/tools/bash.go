package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/nexuscore/nexuscore/internal/workspace"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// BashTool runs a shell command inside the sandboxed workspace, subject
// to a default and per-call timeout.
type BashTool struct {
	ws             *workspace.Manager
	defaultTimeout time.Duration
	maxOutput      int
}

// NewBashTool creates a bash tool. defaultTimeout <= 0 falls back to 30s.
func NewBashTool(ws *workspace.Manager, defaultTimeout time.Duration) *BashTool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &BashTool{ws: ws, defaultTimeout: defaultTimeout, maxOutput: 64000}
}

func (t *BashTool) Name() string        { return "bash" }
func (t *BashTool) Description() string { return "Run a shell command in the workspace root." }

func (t *BashTool) Schema() models.ToolSchema {
	params, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":         map[string]any{"type": "string", "description": "Shell command to execute."},
			"cwd":             map[string]any{"type": "string", "description": "Working directory, relative to the workspace root."},
			"timeout_seconds": map[string]any{"type": "integer", "description": "Timeout in seconds; 0 uses the tool default.", "minimum": 0},
		},
		"required": []string{"command"},
	})
	return models.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: params}
}

func (t *BashTool) Execute(ctx context.Context, toolCallID string, args json.RawMessage) (models.ToolResult, error) {
	var input struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "invalid arguments: "+err.Error()), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "command is required"), nil
	}

	dir := t.ws.Root()
	if strings.TrimSpace(input.Cwd) != "" {
		resolved, err := t.ws.Resolve(input.Cwd)
		if err != nil {
			return pathResultErr(toolCallID, err), nil
		}
		dir = resolved
	}

	timeout := t.defaultTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	var stdout, stderr limitedBuffer
	stdout.max, stderr.max = t.maxOutput, t.maxOutput
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return errorResult(toolCallID, models.ToolErrorTimeout,
			fmt.Sprintf("command timed out after %s", timeout)), nil
	}

	return okResult(toolCallID, map[string]any{
		"command":     command,
		"cwd":         dir,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   exitCode(runErr),
		"duration_ms": duration.Milliseconds(),
	}), nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// limitedBuffer caps captured command output to avoid unbounded memory
// growth from a runaway process.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 || b.buf.Len() < b.max {
		remaining := b.max - b.buf.Len()
		if b.max <= 0 || remaining > len(p) {
			b.buf.Write(p)
		} else if remaining > 0 {
			b.buf.Write(p[:remaining])
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
