package tools

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Policy gates tool calls independent of JSON-schema validity: by name,
// using glob-style deny patterns (a trailing "*" matches any suffix),
// and by argument content, using a fixed set of dangerous-pattern
// checks a schema can't express.
type Policy struct {
	denyPatterns []string
}

// NewPolicy builds a Policy from a list of name deny patterns.
func NewPolicy(denyPatterns []string) *Policy {
	return &Policy{denyPatterns: denyPatterns}
}

// Allowed reports whether name is permitted to run under this policy.
func (p *Policy) Allowed(name string) bool {
	if p == nil {
		return true
	}
	for _, pattern := range p.denyPatterns {
		if matchPattern(pattern, name) {
			return false
		}
	}
	return true
}

func matchPattern(pattern, name string) bool {
	if pattern == "" || name == "" {
		return false
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}

// dangerousBashPatterns are shell commands refused even when the bash
// tool's schema accepts them: recursive directory dumps that would
// flood the model's context, and destructive sweeps of the filesystem
// root or home directory.
var dangerousBashPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bcat\s+.*\*\*`),
	regexp.MustCompile(`\bfind\s+[^|;&]*-exec\s+cat\b`),
	regexp.MustCompile(`\bgrep\s+-[a-zA-Z]*r[a-zA-Z]*\s+.*\s+/\s*$`),
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*\s+)*(/|~)\s*$`),
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*[rf][a-zA-Z]*\s+(/|~)(\s|$)`),
	regexp.MustCompile(`\btar\s+[a-zA-Z-]*c[a-zA-Z]*\s+.*\s+/(\s|$)`),
}

// CheckArguments inspects a call's raw arguments for patterns the
// schema can't reject, returning a human-readable refusal reason or ""
// when the call is acceptable.
func (p *Policy) CheckArguments(name string, args json.RawMessage) string {
	if p == nil || name != "bash" {
		return ""
	}
	var input struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return ""
	}
	for _, pattern := range dangerousBashPatterns {
		if pattern.MatchString(input.Command) {
			return "command matches a denied pattern: " + pattern.String()
		}
	}
	return ""
}
