package workflow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nexuscore/nexuscore/pkg/models"
	"gopkg.in/yaml.v3"
)

var workflowFileCandidates = []string{"workflow.yaml", "workflow.yml"}

// Registry indexes every validated workflow found under a directory,
// one subdirectory per workflow, keyed by the workflow's declared id.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
}

// NewRegistry returns an empty registry. Call LoadDir to populate it.
func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]*models.Workflow)}
}

// LoadDir walks the immediate subdirectories of dir, loading and
// validating one workflow.yaml (or .yml) per subdirectory. A
// subdirectory with no workflow file is skipped; any workflow that
// fails to parse or validate makes the whole call fail, naming which
// directory was at fault, so a bad definition can't register silently.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("workflow: read workflows dir %s: %w", dir, err)
	}

	loaded := make(map[string]*models.Workflow, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		wfDir := filepath.Join(dir, entry.Name())
		path := findWorkflowFile(wfDir)
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("workflow: read %s: %w", path, err)
		}
		var wf models.Workflow
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&wf); err != nil {
			return fmt.Errorf("workflow: parse %s: %w", path, err)
		}
		wf.Dir = wfDir
		if err := Validate(&wf); err != nil {
			return fmt.Errorf("workflow: %s: %w", path, err)
		}
		if _, dup := loaded[wf.ID]; dup {
			return fmt.Errorf("workflow: duplicate workflow id %q (dir %s)", wf.ID, wfDir)
		}
		loaded[wf.ID] = &wf
	}

	r.mu.Lock()
	r.workflows = loaded
	r.mu.Unlock()
	return nil
}

func findWorkflowFile(dir string) string {
	for _, name := range workflowFileCandidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Get returns the workflow registered under id, or false if none exists.
func (r *Registry) Get(id string) (*models.Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[id]
	return wf, ok
}

// List returns every registered workflow, sorted by id.
func (r *Registry) List() []*models.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
