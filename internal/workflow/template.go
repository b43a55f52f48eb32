// Package workflow loads, validates, persists, and executes YAML-defined
// multi-step workflows as a dependency DAG, dispatching each step by
// type and coordinating agent steps with the rest of the system over
// the event bus.
package workflow

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// placeholderNormalizer rewrites the workflow-author spelling
// {{args.key}} / {{steps.id...}} into the {{.args.key}} form
// text/template actually evaluates, so both spellings work.
var placeholderNormalizer = strings.NewReplacer("{{args.", "{{.args.", "{{steps.", "{{.steps.")

// render substitutes {{args.key}} / {{steps.id.output.key}} placeholders
// in tmplStr. Missing keys render as the zero value rather than failing,
// since workflow authors may reference optional inputs or steps that
// haven't produced every field. A path that runs through a missing
// entry (an unknown step id, say) renders the whole template as empty.
func render(tmplStr string, data map[string]any) (string, error) {
	if tmplStr == "" {
		return "", nil
	}
	t, err := template.New("workflow").Option("missingkey=zero").Parse(placeholderNormalizer.Replace(tmplStr))
	if err != nil {
		return "", fmt.Errorf("workflow: parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		// A field looked up on a missing map entry is a nil interface,
		// which text/template reports as an error even with missingkey=zero.
		if strings.Contains(err.Error(), "nil pointer evaluating") {
			return "", nil
		}
		return "", fmt.Errorf("workflow: execute template: %w", err)
	}
	return buf.String(), nil
}

// RenderArgs substitutes {{args.key}} placeholders against args. Used to
// resolve system_write_file/system_delete_file's path and content.
func RenderArgs(tmplStr string, args map[string]any) (string, error) {
	return render(tmplStr, map[string]any{"args": args})
}

func templateData(args map[string]any, steps map[string]models.RunStep) map[string]any {
	stepData := make(map[string]any, len(steps))
	for id, s := range steps {
		stepData[id] = map[string]any{
			"state":  string(s.State),
			"output": s.Output,
			"error":  s.Error,
		}
	}
	return map[string]any{"args": args, "steps": stepData}
}
