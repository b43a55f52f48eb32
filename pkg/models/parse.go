package models

import "encoding/json"

// ParseKind is the closed set of outcomes recovering a tool call from a
// completion's text can produce.
type ParseKind string

const (
	ParseFinal     ParseKind = "final"
	ParseToolCall  ParseKind = "tool_call"
	ParseErrorKind ParseKind = "parse_error"
)

// ParseResult is the parser's verdict on one completion's text.
type ParseResult struct {
	Kind ParseKind

	// Text is the plain-answer text when Kind == ParseFinal.
	Text string

	// ToolName and Arguments are populated when Kind == ParseToolCall.
	ToolName  string
	Arguments json.RawMessage

	// Error describes why JSON was present but not interpretable, when
	// Kind == ParseErrorKind.
	Error string
}
