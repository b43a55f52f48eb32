package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles and caches one jsonschema.Schema per tool name, so
// a tool's Parameters document is parsed once even though ValidateCall
// runs on every call. Grounded on the teacher's own
// pkg/pluginsdk/validation.go compileSchema: CompileString keyed by a
// synthetic per-tool URL, cached in a plain map guarded by the cache's
// own mutex instead of a sync.Map.
type schemaCache struct {
	mu     sync.Mutex
	byName map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{byName: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) compile(name string, params []byte) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.byName[name]; ok {
		return s, nil
	}

	schema, err := jsonschema.CompileString("tool://"+name+"/parameters.json", string(params))
	if err != nil {
		return nil, fmt.Errorf("tools: compile schema for %q: %w", name, err)
	}
	c.byName[name] = schema
	return schema, nil
}

// ValidationResult is validateCall's outcome per spec.md §4.7:
// {valid, errors}.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateCall checks name's registered JSON-schema argument contract
// against args, independent of the policy gate and independent of
// actually executing the tool. An unknown tool name is reported as a
// validation error rather than panicking or silently passing, since the
// turn loop's validation-retry path needs a concrete reason to feed back
// to the model.
func (r *Registry) ValidateCall(name string, args json.RawMessage) ValidationResult {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ValidationResult{Errors: []string{fmt.Sprintf("tool not found: %s", name)}}
	}

	schema := tool.Schema()
	if len(schema.Parameters) == 0 {
		return ValidationResult{Valid: true}
	}

	compiled, err := r.schemas.compile(name, schema.Parameters)
	if err != nil {
		return ValidationResult{Errors: []string{err.Error()}}
	}

	var value any
	if len(args) == 0 {
		args = []byte("{}")
	}
	if err := json.Unmarshal(args, &value); err != nil {
		return ValidationResult{Errors: []string{"arguments are not valid JSON: " + err.Error()}}
	}

	if err := compiled.Validate(value); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return ValidationResult{Errors: flattenValidationError(verr)}
		}
		return ValidationResult{Errors: []string{err.Error()}}
	}
	return ValidationResult{Valid: true}
}

// flattenValidationError walks a jsonschema.ValidationError's cause tree
// into a flat list of human-readable messages, leaves first, so the
// turn loop's correction prompt names the specific field that failed
// rather than just the root "doesn't validate" summary.
func flattenValidationError(verr *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		for _, cause := range e.Causes {
			walk(cause)
		}
		if len(e.Causes) == 0 {
			out = append(out, fmt.Sprintf("%s: %s", e.InstanceLocation, e.Message))
		}
	}
	walk(verr)
	if len(out) == 0 {
		out = append(out, verr.Error())
	}
	return out
}
