package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexuscore/nexuscore/pkg/models"
)

func TestValidate_TableDriven(t *testing.T) {
	cases := []struct {
		name    string
		wf      models.Workflow
		wantErr bool
		issue   string
	}{
		{
			name: "valid linear dag",
			wf: models.Workflow{
				ID: "deploy-service", Version: "1",
				Steps: []models.Step{
					{ID: "build", Type: models.StepAgent, Instruction: "build it", Tools: []string{"bash"}},
					{ID: "deploy", Type: models.StepAgent, Instruction: "deploy it", Tools: []string{"bash"}, DependsOn: []string{"build"}},
				},
			},
		},
		{
			name:    "bad slug",
			wf:      models.Workflow{ID: "Deploy Service", Version: "1", Steps: []models.Step{{ID: "a", Type: models.StepAgent, Instruction: "x", Tools: []string{"bash"}}}},
			wantErr: true,
			issue:   "must match",
		},
		{
			name:    "missing version",
			wf:      models.Workflow{ID: "deploy", Steps: []models.Step{{ID: "a", Type: models.StepAgent, Instruction: "x", Tools: []string{"bash"}}}},
			wantErr: true,
			issue:   "version is required",
		},
		{
			name:    "no steps",
			wf:      models.Workflow{ID: "deploy", Version: "1"},
			wantErr: true,
			issue:   "at least one step",
		},
		{
			name: "duplicate step id",
			wf: models.Workflow{ID: "deploy", Version: "1", Steps: []models.Step{
				{ID: "a", Type: models.StepAgent, Instruction: "x", Tools: []string{"bash"}},
				{ID: "a", Type: models.StepAgent, Instruction: "y", Tools: []string{"bash"}},
			}},
			wantErr: true,
			issue:   "duplicate step id",
		},
		{
			name: "dependsOn unknown step",
			wf: models.Workflow{ID: "deploy", Version: "1", Steps: []models.Step{
				{ID: "a", Type: models.StepAgent, Instruction: "x", Tools: []string{"bash"}, DependsOn: []string{"missing"}},
			}},
			wantErr: true,
			issue:   "unknown step",
		},
		{
			name: "cyclic dependsOn",
			wf: models.Workflow{ID: "deploy", Version: "1", Steps: []models.Step{
				{ID: "a", Type: models.StepAgent, Instruction: "x", Tools: []string{"bash"}, DependsOn: []string{"b"}},
				{ID: "b", Type: models.StepAgent, Instruction: "y", Tools: []string{"bash"}, DependsOn: []string{"a"}},
			}},
			wantErr: true,
			issue:   "cyclic",
		},
		{
			name: "agent step missing instruction",
			wf: models.Workflow{ID: "deploy", Version: "1", Steps: []models.Step{
				{ID: "a", Type: models.StepAgent, Tools: []string{"bash"}},
			}},
			wantErr: true,
			issue:   "require instruction",
		},
		{
			name: "agent step missing tools",
			wf: models.Workflow{ID: "deploy", Version: "1", Steps: []models.Step{
				{ID: "a", Type: models.StepAgent, Instruction: "x"},
			}},
			wantErr: true,
			issue:   "at least one tool",
		},
		{
			name: "wait_for_input missing instruction and prompt",
			wf: models.Workflow{ID: "deploy", Version: "1", Steps: []models.Step{
				{ID: "a", Type: models.StepWaitForInput},
			}},
			wantErr: true,
			issue:   "require instruction or prompt",
		},
		{
			name: "system_write_file missing path",
			wf: models.Workflow{ID: "deploy", Version: "1", Steps: []models.Step{
				{ID: "a", Type: models.StepSystemWriteFile, Content: "x"},
			}},
			wantErr: true,
			issue:   "requires path",
		},
		{
			name: "unknown step type",
			wf: models.Workflow{ID: "deploy", Version: "1", Steps: []models.Step{
				{ID: "a", Type: "not-a-type"},
			}},
			wantErr: true,
			issue:   "unknown step type",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.wf)
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			ve, ok := err.(*ValidationError)
			require.True(t, ok, "expected *ValidationError, got %T", err)
			require.NotEmpty(t, ve.Issues)
			found := false
			for _, issue := range ve.Issues {
				if containsFold(issue, tc.issue) {
					found = true
					break
				}
			}
			require.True(t, found, "expected an issue containing %q, got %v", tc.issue, ve.Issues)
		})
	}
}

func TestTopologicalOrder_RespectsDependencies(t *testing.T) {
	steps := []models.Step{
		{ID: "deploy", DependsOn: []string{"test"}},
		{ID: "test", DependsOn: []string{"build"}},
		{ID: "build"},
	}
	order := TopologicalOrder(steps)
	require.Equal(t, []string{"build", "test", "deploy"}, order)
}

func TestSuccessorCounts(t *testing.T) {
	steps := []models.Step{
		{ID: "build"},
		{ID: "test", DependsOn: []string{"build"}},
		{ID: "deploy", DependsOn: []string{"build", "test"}},
	}
	counts := SuccessorCounts(steps)
	require.Equal(t, map[string]int{"build": 2, "test": 1, "deploy": 0}, counts)
}

func containsFold(haystack, needle string) bool {
	h, n := []rune(haystack), []rune(needle)
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			hc, nc := h[i+j], n[j]
			if hc >= 'A' && hc <= 'Z' {
				hc += 'a' - 'A'
			}
			if nc >= 'A' && nc <= 'Z' {
				nc += 'a' - 'A'
			}
			if hc != nc {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
