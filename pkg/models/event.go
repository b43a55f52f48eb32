// Package models provides the domain types shared across the nexuscore
// runtime: bus events, chat messages, provider completions, tool contracts,
// workflow definitions, run state, and session transcripts.
package models

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of event names the bus will accept.
// Anything not in this set is rejected by Bus.Emit before it is queued.
type EventType string

const (
	EventUserInput            EventType = "user:input"
	EventScheduleTrigger      EventType = "schedule:trigger"
	EventAgentResponse        EventType = "agent:response"
	EventAgentStatus          EventType = "agent:status"
	EventWorkflowRunStart     EventType = "workflow:run:start"
	EventWorkflowRunQueued    EventType = "workflow:run:queued"
	EventWorkflowStepStart    EventType = "workflow:step:start"
	EventWorkflowStepComplete EventType = "workflow:step:complete"
	EventWorkflowNeedsApprove EventType = "workflow:needs_approval"
	EventWorkflowRunComplete  EventType = "workflow:run:complete"
	EventWorkflowLint         EventType = "workflow:lint"
	EventWorkflowDryRun       EventType = "workflow:dry-run"
)

// allEventTypes backs EventType.Valid without allocating on every call.
var allEventTypes = map[EventType]struct{}{
	EventUserInput:            {},
	EventScheduleTrigger:      {},
	EventAgentResponse:        {},
	EventAgentStatus:          {},
	EventWorkflowRunStart:     {},
	EventWorkflowRunQueued:    {},
	EventWorkflowStepStart:    {},
	EventWorkflowStepComplete: {},
	EventWorkflowNeedsApprove: {},
	EventWorkflowRunComplete:  {},
	EventWorkflowLint:         {},
	EventWorkflowDryRun:       {},
}

// Valid reports whether t belongs to the closed event-type allow-list.
func (t EventType) Valid() bool {
	_, ok := allEventTypes[t]
	return ok
}

// outboundAllowList is the subset of event types the IPC server will relay
// to connected clients; everything else is internal-only.
var outboundAllowList = map[EventType]struct{}{
	EventAgentResponse:        {},
	EventAgentStatus:          {},
	EventWorkflowRunQueued:    {},
	EventWorkflowStepStart:    {},
	EventWorkflowStepComplete: {},
	EventWorkflowNeedsApprove: {},
	EventWorkflowRunComplete:  {},
}

// Outbound reports whether t may be forwarded to IPC clients.
func (t EventType) Outbound() bool {
	_, ok := outboundAllowList[t]
	return ok
}

// Channel identifies the logical origin of an event.
type Channel string

const (
	ChannelTUI    Channel = "tui"
	ChannelIPC    Channel = "ipc"
	ChannelSystem Channel = "system"
)

// Event is the unit of dispatch on the bus. Content is a dynamic payload
// tagged by Type; handlers that care about a specific type assert it into
// the matching *Content struct declared alongside that type's producer.
type Event struct {
	Type      EventType   `json:"type"`
	Channel   Channel     `json:"channel"`
	SessionID string      `json:"sessionId"`
	Content   any         `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Clone returns a shallow copy of the event. Events are immutable after
// emission; callers that need to adjust fields (e.g. normalization in the
// bus) must clone first rather than mutate a published Event.
func (e Event) Clone() Event {
	return e
}

// DecodeContent recovers a typed payload from an event's dynamic
// Content field. In-process producers attach the payload struct
// directly; events arriving over IPC carry a generic decoded JSON map
// instead, which is converted through a JSON round-trip.
func DecodeContent[T any](content any) (T, bool) {
	if typed, ok := content.(T); ok {
		return typed, true
	}
	var out T
	if _, ok := content.(map[string]any); !ok {
		return out, false
	}
	data, err := json.Marshal(content)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false
	}
	return out, true
}

// AgentStatusContent is the content payload carried by agent:status events.
type AgentStatusContent struct {
	Phase    string `json:"phase"`
	ToolName string `json:"toolName,omitempty"`
	Message  string `json:"message,omitempty"`
}

// AgentResponseContent is the content payload carried by agent:response
// events, the single terminal event a turn produces.
type AgentResponseContent struct {
	Text         string `json:"text"`
	RequestID    string `json:"requestId,omitempty"`
	FinishReason string `json:"finishReason"`
}

// UserInputContent is the content payload carried by user:input events.
type UserInputContent struct {
	Text      string `json:"text"`
	RequestID string `json:"requestId,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
}

// ScheduleTriggerContent is the content payload carried by
// schedule:trigger events, emitted by the cron-backed scheduler when a
// registered entry's expression fires. WorkflowID is set for entries
// that start a workflow run; Text is set for entries that feed a plain
// turn instead.
type ScheduleTriggerContent struct {
	EntryID    string         `json:"entryId"`
	WorkflowID string         `json:"workflowId,omitempty"`
	Text       string         `json:"text,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
}

// WorkflowRunQueuedContent is the content payload carried by
// workflow:run:queued events, emitted once a run is accepted and
// persisted but before its first step is scheduled.
type WorkflowRunQueuedContent struct {
	RunID      int64  `json:"runId"`
	WorkflowID string `json:"workflowId"`
}

// WorkflowRunStartContent is the content payload carried by
// workflow:run:start events, which ask the workflow engine to start a
// run of WorkflowID with Args; the engine subscribes to them and does
// not emit them itself.
type WorkflowRunStartContent struct {
	RunID      int64          `json:"runId"`
	WorkflowID string         `json:"workflowId"`
	Args       map[string]any `json:"args,omitempty"`
}

// PriorStepOutput is one completed step's output, carried along a
// workflow:step:start so the turn loop can fold earlier results into
// the prompt's prior layer.
type PriorStepOutput struct {
	StepID string `json:"stepId"`
	Output string `json:"output"`
}

// WorkflowStepStartContent is the content payload carried by
// workflow:step:start events. The turn loop consumes these to run an
// agent step and is expected to reply with a correlated
// workflow:step:complete event carrying the same RunID and StepID.
type WorkflowStepStartContent struct {
	RunID       int64             `json:"runId"`
	StepID      string            `json:"stepId"`
	Instruction string            `json:"instruction"`
	Tools       []string          `json:"tools,omitempty"`
	LoadSkills  []string          `json:"loadSkills,omitempty"`
	Attempt     int               `json:"attempt"`
	Args        map[string]any    `json:"args,omitempty"`
	Prior       []PriorStepOutput `json:"prior,omitempty"`
}

// WorkflowStepCompleteContent is the content payload carried by
// workflow:step:complete events, whether emitted by the turn loop for
// an agent step or by the engine itself for a system_* step.
type WorkflowStepCompleteContent struct {
	RunID   int64          `json:"runId"`
	StepID  string         `json:"stepId"`
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// WorkflowNeedsApproveContent is the content payload carried by
// workflow:needs_approval events, emitted when a step with approval:
// true becomes schedulable and is parked pending an external decision,
// or when a wait_for_input step parks its run. Prompt carries the text
// shown to the operator for wait_for_input steps.
type WorkflowNeedsApproveContent struct {
	RunID  int64  `json:"runId"`
	StepID string `json:"stepId"`
	Prompt string `json:"prompt,omitempty"`
}

// WorkflowRunCompleteContent is the content payload carried by
// workflow:run:complete events, the single terminal event a run
// produces.
type WorkflowRunCompleteContent struct {
	RunID int64  `json:"runId"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// WorkflowLintContent is the content payload carried by workflow:lint
// events: the topologically ordered step ids and, for each, how many
// other steps depend on it.
type WorkflowLintContent struct {
	WorkflowID    string         `json:"workflowId"`
	Order         []string       `json:"order"`
	DoneWhenCount map[string]int `json:"doneWhenCount"`
	Issues        []string       `json:"issues,omitempty"`
}

// WorkflowDryRunContent is the content payload carried by
// workflow:dry-run events: the plan a run would follow without
// executing any step.
type WorkflowDryRunContent struct {
	WorkflowID    string         `json:"workflowId"`
	Order         []string       `json:"order"`
	DoneWhenCount map[string]int `json:"doneWhenCount"`
}
