package models

// StepType is the closed set of workflow step kinds.
type StepType string

const (
	StepAgent            StepType = "agent"
	StepWaitForInput     StepType = "wait_for_input"
	StepSystemWriteFile  StepType = "system_write_file"
	StepSystemDeleteFile StepType = "system_delete_file"
)

// SuccessCheck is one post-condition attached to a step.
type SuccessCheck struct {
	Type string `json:"type" yaml:"type"`
}

// Step is one node in a workflow's dependency DAG.
type Step struct {
	ID            string         `json:"id" yaml:"id"`
	Type          StepType       `json:"type" yaml:"type"`
	Instruction   string         `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	Tools         []string       `json:"tools,omitempty" yaml:"tools,omitempty"`
	LoadSkills    []string       `json:"loadSkills,omitempty" yaml:"loadSkills,omitempty"`
	DependsOn     []string       `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	SuccessChecks []SuccessCheck `json:"successChecks,omitempty" yaml:"successChecks,omitempty"`
	Timeout       string         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries       int            `json:"retries,omitempty" yaml:"retries,omitempty"`
	Approval      bool           `json:"approval,omitempty" yaml:"approval,omitempty"`
	Condition     string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	Path          string         `json:"path,omitempty" yaml:"path,omitempty"`
	Content       string         `json:"content,omitempty" yaml:"content,omitempty"`
	Prompt        string         `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	ResponseKey   string         `json:"responseKey,omitempty" yaml:"responseKey,omitempty"`
}

// WorkflowInput declares one named input a workflow accepts via run args.
type WorkflowInput struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     string `json:"default,omitempty" yaml:"default,omitempty"`
}

// Workflow is a loaded, schema-validated workflow definition.
type Workflow struct {
	ID          string          `json:"id" yaml:"id"`
	Version     string          `json:"version" yaml:"version"`
	Name        string          `json:"name,omitempty" yaml:"name,omitempty"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      []WorkflowInput `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Steps       []Step          `json:"steps" yaml:"steps"`

	// Dir is the directory the workflow.yaml was loaded from. Not
	// serialized; used to resolve relative path/content templates.
	Dir string `json:"-" yaml:"-"`
}

// StepByID returns the step with the given id, or false if absent.
func (w *Workflow) StepByID(id string) (Step, bool) {
	for _, s := range w.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}
