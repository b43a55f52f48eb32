package workflow

import (
	"strings"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// EvaluateCondition renders condition as a template against the run's
// args and prior step states/outputs, then interprets the rendered
// result: an "A == B" or "A != B" comparison, or a bare truthy check
// ("", "false", "0", and template's own "<no value>" are falsy;
// everything else is true). An empty condition is always true.
func EvaluateCondition(condition string, args map[string]any, steps map[string]models.RunStep) (bool, error) {
	if strings.TrimSpace(condition) == "" {
		return true, nil
	}
	rendered, err := render(condition, templateData(args, steps))
	if err != nil {
		return false, err
	}
	rendered = strings.TrimSpace(rendered)

	if lhs, rhs, ok := splitOperator(rendered, "=="); ok {
		return lhs == rhs, nil
	}
	if lhs, rhs, ok := splitOperator(rendered, "!="); ok {
		return lhs != rhs, nil
	}
	return isTruthy(rendered), nil
}

func splitOperator(s, op string) (string, string, bool) {
	idx := strings.Index(s, op)
	if idx < 0 {
		return "", "", false
	}
	lhs := unquote(strings.TrimSpace(s[:idx]))
	rhs := unquote(strings.TrimSpace(s[idx+len(op):]))
	return lhs, rhs, true
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "", "false", "0", "<no value>":
		return false
	default:
		return true
	}
}
