package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexuscore/nexuscore/internal/telemetry"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// Tool parameter limits, carried over to prevent resource exhaustion from
// a malformed or adversarial tool call.
const (
	MaxToolNameLength = 256
	MaxToolArgsSize   = 10 << 20
)

// Registry is a thread-safe name-keyed set of registered tools.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	policy  *Policy
	schemas *schemaCache
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// NewRegistry creates an empty registry. policy may be nil to allow every
// registered tool.
func NewRegistry(policy *Policy) *Registry {
	return &Registry{tools: make(map[string]Tool), policy: policy, schemas: newSchemaCache()}
}

// SetTelemetry attaches the metrics and tracer Execute records every
// tool call against. Safe to call any time; a nil metrics or tracer
// leaves the corresponding instrumentation a no-op.
func (r *Registry) SetTelemetry(metrics *telemetry.Metrics, tracer *telemetry.Tracer) {
	r.metrics = metrics
	r.tracer = tracer
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns the schemas of every registered tool the policy allows,
// for attaching to a completion request.
func (r *Registry) Schemas() []models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]models.ToolSchema, 0, len(r.tools))
	for name, t := range r.tools {
		if !r.policy.Allowed(name) {
			continue
		}
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

// Execute runs a registered tool by name with the given call id and raw
// JSON arguments.
func (r *Registry) Execute(ctx context.Context, toolCallID, name string, args json.RawMessage) (models.ToolResult, error) {
	start := time.Now()
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "tool.execute")
		span.SetAttributes(attribute.String("tool.name", name))
		defer span.End()
	}
	result, err := r.execute(ctx, toolCallID, name, args)
	r.record(name, result, err, time.Since(start))
	return result, err
}

func (r *Registry) execute(ctx context.Context, toolCallID, name string, args json.RawMessage) (models.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument,
			fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)), nil
	}
	if len(args) > MaxToolArgsSize {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument,
			fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolArgsSize)), nil
	}
	if !r.policy.Allowed(name) {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "tool denied by policy: "+name), nil
	}
	if reason := r.policy.CheckArguments(name, args); reason != "" {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "tool call denied by policy: "+reason), nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument, "tool not found: "+name), nil
	}

	if result := r.ValidateCall(name, args); !result.Valid {
		return errorResult(toolCallID, models.ToolErrorInvalidArgument,
			fmt.Sprintf("argument validation failed: %s", strings.Join(result.Errors, "; "))), nil
	}
	return tool.Execute(ctx, toolCallID, args)
}

// record increments the tool-call counter and duration histogram, a
// no-op if the registry was never given a Metrics set.
func (r *Registry) record(name string, result models.ToolResult, err error, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	status := "success"
	if err != nil || result.IsError {
		status = "error"
	}
	r.metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
	r.metrics.ToolCallDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}
