package parser

import (
	"strings"
	"testing"

	"github.com/nexuscore/nexuscore/pkg/models"
)

func TestParsePlainTextIsFinal(t *testing.T) {
	result := Parse("Here is the answer to your question.", models.FinishStop)
	if result.Kind != models.ParseFinal {
		t.Fatalf("expected final, got %+v", result)
	}
}

func TestParseDirectToolCallObject(t *testing.T) {
	result := Parse(`{"name":"read","arguments":{"path":"a.txt"}}`, models.FinishStop)
	if result.Kind != models.ParseToolCall {
		t.Fatalf("expected tool_call, got %+v", result)
	}
	if result.ToolName != "read" {
		t.Fatalf("expected tool name read, got %q", result.ToolName)
	}
	if !strings.Contains(string(result.Arguments), "a.txt") {
		t.Fatalf("expected arguments to contain path, got %s", result.Arguments)
	}
}

func TestParseToolCallsArrayShape(t *testing.T) {
	result := Parse(`{"tool_calls":[{"tool":"bash","args":{"command":"ls"}}]}`, models.FinishStop)
	if result.Kind != models.ParseToolCall || result.ToolName != "bash" {
		t.Fatalf("expected bash tool call, got %+v", result)
	}
}

func TestParseNestedToolCallShape(t *testing.T) {
	result := Parse(`{"tool_call":{"toolName":"write","input":{"path":"b.txt","content":"hi"}}}`, models.FinishStop)
	if result.Kind != models.ParseToolCall || result.ToolName != "write" {
		t.Fatalf("expected write tool call, got %+v", result)
	}
}

func TestParseTrailingCommaIsTolerated(t *testing.T) {
	result := Parse(`{"name":"read","arguments":{"path":"a.txt",},}`, models.FinishStop)
	if result.Kind != models.ParseToolCall || result.ToolName != "read" {
		t.Fatalf("expected tool call after trailing-comma repair, got %+v", result)
	}
}

func TestParseFencedJSONBlock(t *testing.T) {
	// Prose wrapping a fenced block doesn't start with '{', so recovery is
	// only attempted when the provider's finish reason says it tried a
	// tool call.
	text := "Sure thing, here's the call:\n```json\n{\"name\":\"edit\",\"arguments\":{\"path\":\"c.txt\"}}\n```\nLet me know."
	result := Parse(text, models.FinishToolCalls)
	if result.Kind != models.ParseToolCall || result.ToolName != "edit" {
		t.Fatalf("expected edit tool call from fenced block, got %+v", result)
	}
}

func TestParseBalancedBraceScan(t *testing.T) {
	text := `some preamble {"name":"patch","arguments":{"patch":"diff"}} trailing notes`
	result := Parse(text, models.FinishToolCalls)
	if result.Kind != models.ParseToolCall || result.ToolName != "patch" {
		t.Fatalf("expected patch tool call from brace scan, got %+v", result)
	}
}

func TestParseArgumentsAsEncodedString(t *testing.T) {
	result := Parse(`{"name":"read","arguments":"{\"path\":\"a.txt\"}"}`, models.FinishStop)
	if result.Kind != models.ParseToolCall {
		t.Fatalf("expected tool_call with string-encoded arguments, got %+v", result)
	}
	if !strings.Contains(string(result.Arguments), "a.txt") {
		t.Fatalf("expected arguments to be parsed from string, got %s", result.Arguments)
	}
}

func TestParseMissingArgumentsDefaultsToEmptyObject(t *testing.T) {
	result := Parse(`{"name":"read"}`, models.FinishStop)
	if result.Kind != models.ParseToolCall {
		t.Fatalf("expected tool_call, got %+v", result)
	}
	if string(result.Arguments) != "{}" {
		t.Fatalf("expected empty object arguments, got %s", result.Arguments)
	}
}

func TestParseJSONWithoutToolShapeIsParseError(t *testing.T) {
	result := Parse(`{"foo":"bar"}`, models.FinishStop)
	if result.Kind != models.ParseErrorKind {
		t.Fatalf("expected parse_error, got %+v", result)
	}
}

func TestParseBracePrefixedGarbageIsParseError(t *testing.T) {
	result := Parse(`{not valid json at all`, models.FinishStop)
	if result.Kind != models.ParseErrorKind {
		t.Fatalf("expected parse_error for malformed leading brace, got %+v", result)
	}
}

func TestParseTextStartingWithBraceButToolCallsFinishReasonStillRecovers(t *testing.T) {
	result := Parse(`{"name":"bash","arguments":{"command":"echo hi"}}`, models.FinishToolCalls)
	if result.Kind != models.ParseToolCall {
		t.Fatalf("expected tool_call, got %+v", result)
	}
}

func TestParseNonBracePrefixedWithToolCallsFinishReasonIsStillFinalWithoutJSON(t *testing.T) {
	result := Parse("I'll call a tool now.", models.FinishToolCalls)
	if result.Kind != models.ParseFinal {
		t.Fatalf("expected final since no JSON is present to recover, got %+v", result)
	}
}
