package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nexuscore/nexuscore/pkg/models"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidationError reports every schema violation found in one workflow
// definition, gathered rather than returned on the first failure so a
// workflow author sees the whole list at once.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "workflow validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

// Validate checks a loaded workflow definition: a slug id, unique step
// ids, dependsOn targets that exist and don't cycle, and the fields
// each step type requires.
func Validate(wf *models.Workflow) error {
	var issues []string

	if !slugPattern.MatchString(wf.ID) {
		issues = append(issues, fmt.Sprintf("workflow id %q must match [a-z0-9-]+", wf.ID))
	}
	if strings.TrimSpace(wf.Version) == "" {
		issues = append(issues, "workflow version is required")
	}
	if len(wf.Steps) == 0 {
		issues = append(issues, "workflow must declare at least one step")
	}

	seen := make(map[string]bool, len(wf.Steps))
	for _, step := range wf.Steps {
		if step.ID == "" {
			issues = append(issues, "step id must not be empty")
			continue
		}
		if seen[step.ID] {
			issues = append(issues, fmt.Sprintf("duplicate step id %q", step.ID))
		}
		seen[step.ID] = true
	}

	for _, step := range wf.Steps {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				issues = append(issues, fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep))
			}
		}
		issues = append(issues, validateStepFields(step)...)
	}

	if cycle := findCycle(wf.Steps); cycle != "" {
		issues = append(issues, fmt.Sprintf("cyclic dependsOn detected: %s", cycle))
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validateStepFields(step models.Step) []string {
	var issues []string
	switch step.Type {
	case "", models.StepAgent:
		if strings.TrimSpace(step.Instruction) == "" {
			issues = append(issues, fmt.Sprintf("step %q: agent steps require instruction", step.ID))
		}
		if len(step.Tools) == 0 {
			issues = append(issues, fmt.Sprintf("step %q: agent steps require at least one tool", step.ID))
		}
	case models.StepWaitForInput:
		if strings.TrimSpace(step.Instruction) == "" && strings.TrimSpace(step.Prompt) == "" {
			issues = append(issues, fmt.Sprintf("step %q: wait_for_input steps require instruction or prompt", step.ID))
		}
	case models.StepSystemWriteFile:
		if strings.TrimSpace(step.Path) == "" {
			issues = append(issues, fmt.Sprintf("step %q: system_write_file requires path", step.ID))
		}
	case models.StepSystemDeleteFile:
		if strings.TrimSpace(step.Path) == "" {
			issues = append(issues, fmt.Sprintf("step %q: system_delete_file requires path", step.ID))
		}
	default:
		issues = append(issues, fmt.Sprintf("step %q: unknown step type %q", step.ID, step.Type))
	}
	return issues
}

// findCycle reports the first dependsOn cycle found as an "a -> b -> a"
// path string, or "" if the step graph is acyclic.
func findCycle(steps []models.Step) string {
	adj := make(map[string][]string, len(steps))
	for _, s := range steps {
		adj[s.ID] = s.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))
	var path []string

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		path = append(path, id)
		for _, dep := range adj[id] {
			switch color[dep] {
			case gray:
				return strings.Join(append(path, dep), " -> ")
			case white:
				if cyc := visit(dep); cyc != "" {
					return cyc
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return ""
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if cyc := visit(s.ID); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}

// TopologicalOrder returns step ids ordered so every id appears after
// everything it depends on. Used by the lint/dry-run plan. Assumes the
// workflow already passed Validate (acyclic, all deps resolvable).
func TopologicalOrder(steps []models.Step) []string {
	byID := make(map[string]models.Step, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	visited := make(map[string]bool, len(steps))
	order := make([]string, 0, len(steps))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range byID[id].DependsOn {
			visit(dep)
		}
		order = append(order, id)
	}
	for _, s := range steps {
		visit(s.ID)
	}
	return order
}

// SuccessorCounts maps each step id to the number of steps that declare
// it as a dependency, the doneWhenCount a lint/dry-run plan reports.
func SuccessorCounts(steps []models.Step) map[string]int {
	counts := make(map[string]int, len(steps))
	for _, s := range steps {
		counts[s.ID] = 0
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			counts[dep]++
		}
	}
	return counts
}
