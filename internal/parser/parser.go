// Package parser recovers a tool call from a completion's raw text when
// the provider didn't return one as a structured field. Models that
// weren't asked with native function-calling, or that degrade under
// load, often emit the tool call as plain JSON (fenced or not) inside
// the response text instead.
package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/nexuscore/nexuscore/pkg/models"
)

var (
	trailingCommaPattern = regexp.MustCompile(`,(\s*[}\]])`)
	fencedBlockPattern   = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

var toolNameKeys = []string{"name", "tool", "toolName"}
var toolArgsKeys = []string{"arguments", "args", "input"}

// Parse recovers a tool call from completion text, or reports that the
// text is a plain final answer or unparseable JSON. finishReason is the
// completion's reported reason, used to decide whether recovery should
// even be attempted for text that doesn't look like JSON.
func Parse(text string, finishReason models.FinishReason) models.ParseResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.ParseResult{Kind: models.ParseFinal, Text: text}
	}

	if !strings.HasPrefix(trimmed, "{") && finishReason != models.FinishToolCalls {
		return models.ParseResult{Kind: models.ParseFinal, Text: text}
	}

	if result, ok := tryParseObject(trimmed); ok {
		return result
	}

	destuttered := trailingCommaPattern.ReplaceAllString(trimmed, "$1")
	if destuttered != trimmed {
		if result, ok := tryParseObject(destuttered); ok {
			return result
		}
	}

	sawJSON := false
	var lastErr string

	for _, candidate := range candidateRegions(text) {
		obj, err := decodeObject(candidate)
		if err != nil {
			continue
		}
		sawJSON = true
		if name, args, ok := extractToolCall(obj); ok {
			return models.ParseResult{Kind: models.ParseToolCall, ToolName: name, Arguments: args}
		}
		lastErr = "no recognizable tool-call shape"
	}

	if sawJSON {
		return models.ParseResult{Kind: models.ParseErrorKind, Error: lastErr}
	}

	if strings.HasPrefix(trimmed, "{") {
		return models.ParseResult{Kind: models.ParseErrorKind, Error: "text starts with '{' but is not valid JSON"}
	}
	return models.ParseResult{Kind: models.ParseFinal, Text: text}
}

// tryParseObject attempts a direct JSON decode of s and, if it succeeds,
// extracts a tool call from it. ok is false if s is not valid JSON.
func tryParseObject(s string) (models.ParseResult, bool) {
	obj, err := decodeObject(s)
	if err != nil {
		return models.ParseResult{}, false
	}
	if name, args, ok := extractToolCall(obj); ok {
		return models.ParseResult{Kind: models.ParseToolCall, ToolName: name, Arguments: args}, true
	}
	return models.ParseResult{Kind: models.ParseErrorKind, Error: "no recognizable tool-call shape"}, true
}

func decodeObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// candidateRegions returns fenced ```json blocks and balanced {...}
// substrings of text, in the order they appear, for use when a direct
// parse of the whole text fails.
func candidateRegions(text string) []string {
	var regions []string
	for _, match := range fencedBlockPattern.FindAllStringSubmatch(text, -1) {
		if body := strings.TrimSpace(match[1]); body != "" {
			regions = append(regions, body)
		}
	}
	regions = append(regions, balancedBraceRegions(text)...)
	return regions
}

// balancedBraceRegions scans text for every substring that starts at a
// '{' and extends to its matching '}', tracking string literals so
// braces inside quoted text don't throw off the depth count.
func balancedBraceRegions(text string) []string {
	var regions []string
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for j := i; j < len(runes); j++ {
			r := runes[j]
			switch {
			case escaped:
				escaped = false
			case r == '\\' && inString:
				escaped = true
			case r == '"':
				inString = !inString
			case inString:
				// inside a string literal, ignore brace characters
			case r == '{':
				depth++
			case r == '}':
				depth--
				if depth == 0 {
					regions = append(regions, string(runes[i:j+1]))
					i = j
					j = len(runes)
				}
			}
		}
	}
	return regions
}

// extractToolCall looks for a tool-call shape in obj, checking
// obj["tool_calls"][0], obj["tool_call"], and obj itself, in that order.
func extractToolCall(obj map[string]any) (string, json.RawMessage, bool) {
	for _, container := range toolCallContainers(obj) {
		if name, args, ok := toolCallFromContainer(container); ok {
			return name, args, true
		}
	}
	return "", nil, false
}

func toolCallContainers(obj map[string]any) []map[string]any {
	var containers []map[string]any
	if raw, ok := obj["tool_calls"]; ok {
		if list, ok := raw.([]any); ok && len(list) > 0 {
			if first, ok := list[0].(map[string]any); ok {
				containers = append(containers, first)
			}
		}
	}
	if raw, ok := obj["tool_call"].(map[string]any); ok {
		containers = append(containers, raw)
	}
	containers = append(containers, obj)
	return containers
}

func toolCallFromContainer(container map[string]any) (string, json.RawMessage, bool) {
	name, ok := stringField(container, toolNameKeys)
	if !ok {
		return "", nil, false
	}
	args := argumentsField(container, toolArgsKeys)
	return name, args, true
}

func stringField(obj map[string]any, keys []string) (string, bool) {
	for _, key := range keys {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// argumentsField returns the first matching key's value as a JSON
// object, best-effort parsing it if it was encoded as a JSON string.
// Missing or unusable values fall back to an empty object.
func argumentsField(obj map[string]any, keys []string) json.RawMessage {
	for _, key := range keys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch value := v.(type) {
		case map[string]any:
			if raw, err := json.Marshal(value); err == nil {
				return raw
			}
		case string:
			var parsed map[string]any
			if err := json.Unmarshal([]byte(value), &parsed); err == nil {
				if raw, err := json.Marshal(parsed); err == nil {
					return raw
				}
			}
		}
	}
	return json.RawMessage(`{}`)
}
