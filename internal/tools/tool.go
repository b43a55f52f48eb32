// Package tools implements the built-in tool registry: a name-keyed set
// of sandboxed file and shell operations the turn loop can invoke.
package tools

import (
	"context"
	"encoding/json"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// Tool is one callable operation exposed to the provider as a tool schema
// and invoked by name with JSON arguments.
type Tool interface {
	Name() string
	Description() string
	Schema() models.ToolSchema
	Execute(ctx context.Context, toolCallID string, args json.RawMessage) (models.ToolResult, error)
}

func errorResult(toolCallID string, kind models.ToolErrorKind, message string) models.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message, "kind": string(kind)})
	if err != nil {
		return models.ToolResult{ToolCallID: toolCallID, Content: message, IsError: true}
	}
	return models.ToolResult{ToolCallID: toolCallID, Content: string(payload), IsError: true}
}

func okResult(toolCallID string, payload any) models.ToolResult {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errorResult(toolCallID, models.ToolErrorExecution, "encode result: "+err.Error())
	}
	return models.ToolResult{ToolCallID: toolCallID, Content: string(data)}
}
