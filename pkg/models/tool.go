package models

import "encoding/json"

// ToolResult is the outcome of one tool execution, appended to a turn's
// toolResultHistory and to session memory as a tool_result entry.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	IsError    bool   `json:"isError,omitempty"`
}

// ToolSchema describes a registered tool's JSON-schema argument contract,
// in the shape providers expect when tool schemas are sent alongside a
// completion request.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolErrorKind is the closed set of tool-execution error kinds. The first
// feeds the validation-retry path inside the turn loop; the rest feed the
// tool-execution-retry path.
type ToolErrorKind string

const (
	ToolErrorInvalidArgument ToolErrorKind = "invalid_argument"
	ToolErrorPathEscape      ToolErrorKind = "path_escape"
	ToolErrorTimeout         ToolErrorKind = "timeout"
	ToolErrorExecution       ToolErrorKind = "execution_error"
)
