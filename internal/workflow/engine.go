package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexuscore/nexuscore/internal/bus"
	"github.com/nexuscore/nexuscore/internal/telemetry"
	"github.com/nexuscore/nexuscore/internal/workspace"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// Engine schedules and drives workflow runs: picking the next
// schedulable step, dispatching it by type, applying approvals,
// retries, and timeouts, and persisting the run after every state
// change. Agent steps are never executed directly here; the engine
// emits workflow:step:start and waits for a correlated
// workflow:step:complete from whatever subscriber runs the turn loop.
type Engine struct {
	registry *Registry
	store    *RunStore
	ws       *workspace.Manager
	bus      *bus.Bus
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer

	defaultStepTimeout time.Duration

	mu     sync.Mutex
	active map[int64]*runState
	nextID int64
	unsubs []bus.Unsubscribe

	// claimed records user:input events this engine consumed to advance
	// a parked run, keyed by session id, so the turn loop can skip them.
	claimed map[string]time.Time

	emitCh      chan models.Event
	emitDone    chan struct{}
	emitMu      sync.RWMutex
	emitsClosed bool
	stopEmits   sync.Once
}

// runState tracks an in-flight run alongside the timers guarding its
// currently active step.
type runState struct {
	run        *models.Run
	mu         sync.Mutex
	stepTimer  *time.Timer
	cancelled  bool
}

// NewEngine wires an Engine to its registry, run store, workspace
// manager, and the shared event bus. Call Start to subscribe its event
// handlers before submitting runs.
func NewEngine(registry *Registry, store *RunStore, ws *workspace.Manager, b *bus.Bus, defaultStepTimeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultStepTimeout <= 0 {
		defaultStepTimeout = 5 * time.Minute
	}
	e := &Engine{
		registry:           registry,
		store:              store,
		ws:                 ws,
		bus:                b,
		logger:             logger,
		defaultStepTimeout: defaultStepTimeout,
		active:             make(map[int64]*runState),
		claimed:            make(map[string]time.Time),
		emitCh:             make(chan models.Event, 256),
		emitDone:           make(chan struct{}),
	}
	go e.drainEmits()
	return e
}

// drainEmits is the engine's single ordered emitter. Handlers can't
// call bus.Emit inline without deadlocking the bus's own consumer on
// itself, and one goroutine per event would lose the ordering between
// a run's queued, step, and terminal events; a single goroutine
// draining a FIFO channel keeps emissions both deadlock-free and
// ordered.
func (e *Engine) drainEmits() {
	defer close(e.emitDone)
	for event := range e.emitCh {
		if _, err := e.bus.Emit(context.Background(), event); err != nil {
			e.logger.Error("workflow event emit failed", "type", event.Type, "error", err)
		}
	}
}

// SetTelemetry attaches the metrics and tracer the engine records run and
// step outcomes against. Safe to call before Start; a nil metrics or
// tracer leaves the corresponding instrumentation a no-op.
func (e *Engine) SetTelemetry(metrics *telemetry.Metrics, tracer *telemetry.Tracer) {
	e.metrics = metrics
	e.tracer = tracer
}

// Start subscribes the engine's event handlers. It must be called once
// before StartRun is used. Subscribing to workflow:run:start is what
// lets an IPC client (or any other bus producer) trigger a run without
// going through the direct StartRun Go call.
func (e *Engine) Start(ctx context.Context) {
	e.unsubs = append(e.unsubs,
		e.bus.Subscribe(models.EventWorkflowRunStart, e.onRunStart),
		e.bus.Subscribe(models.EventWorkflowStepComplete, e.onStepComplete),
		e.bus.Subscribe(models.EventScheduleTrigger, e.onScheduleTrigger),
		e.bus.Subscribe(models.EventUserInput, e.onUserInput),
	)
}

// onRunStart handles an inbound workflow:run:start event by starting the
// named run. This is the sole subscriber for that event type; the
// engine itself never emits it, since doing so while subscribed would
// have the engine re-trigger its own runs.
func (e *Engine) onRunStart(ctx context.Context, event models.Event) error {
	content, ok := models.DecodeContent[models.WorkflowRunStartContent](event.Content)
	if !ok {
		return nil
	}
	_, err := e.StartRun(ctx, content.WorkflowID, content.Args)
	return err
}

// onScheduleTrigger starts a run for a fired cron entry that names a
// workflow. Entries with no WorkflowID are scheduler-only triggers
// meant for something other than the workflow engine (e.g. a direct
// turn) and are ignored here.
func (e *Engine) onScheduleTrigger(ctx context.Context, event models.Event) error {
	content, ok := models.DecodeContent[models.ScheduleTriggerContent](event.Content)
	if !ok || content.WorkflowID == "" {
		return nil
	}
	_, err := e.StartRun(ctx, content.WorkflowID, content.Args)
	return err
}

// Stop unsubscribes every handler the engine registered and drains the
// ordered emitter.
func (e *Engine) Stop() {
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
	e.stopEmits.Do(func() {
		e.emitMu.Lock()
		e.emitsClosed = true
		close(e.emitCh)
		e.emitMu.Unlock()
		<-e.emitDone
	})
}

// onUserInput correlates a user:input event with a run parked in
// waiting_input or waiting_approval. When one matches, the engine
// consumes the event (advancing the run) and records the claim so the
// turn loop skips it; with nothing parked it leaves the event for the
// loop untouched. Runs are matched lowest id first, the single-active-
// run policy's deterministic order.
func (e *Engine) onUserInput(ctx context.Context, event models.Event) error {
	content, ok := models.DecodeContent[models.UserInputContent](event.Content)
	if !ok {
		return nil
	}

	e.mu.Lock()
	states := make([]*runState, 0, len(e.active))
	for _, st := range e.active {
		states = append(states, st)
	}
	e.mu.Unlock()

	var target *runState
	var targetID int64
	for _, st := range states {
		st.mu.Lock()
		waiting := st.run.State == models.RunWaitingInput || st.run.State == models.RunWaitingApprove
		id := st.run.ID
		st.mu.Unlock()
		if !waiting {
			continue
		}
		if target == nil || id < targetID {
			target = st
			targetID = id
		}
	}
	if target == nil {
		return nil
	}

	e.mu.Lock()
	e.claimed[event.SessionID] = event.Timestamp
	e.mu.Unlock()

	target.mu.Lock()
	run := target.run
	state := run.State
	stepID := run.CurrentStepID
	target.mu.Unlock()

	switch state {
	case models.RunWaitingInput:
		return e.SubmitInput(ctx, run.ID, content.Text)
	case models.RunWaitingApprove:
		if isApprovalText(content.Text) {
			return e.Approve(ctx, run.ID, stepID)
		}
		return e.Cancel(ctx, run.ID)
	}
	return nil
}

// isApprovalText interprets an operator's reply to an approval prompt.
func isApprovalText(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "approve", "approved", "yes", "y", "ok", "lgtm":
		return true
	default:
		return false
	}
}

// ClaimedInput reports whether the engine consumed this user:input
// event to advance a parked run. The turn loop consults it (the engine
// subscribes ahead of the loop, so the claim is recorded before the
// loop's handler runs) and drops the claim once checked.
func (e *Engine) ClaimedInput(event models.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.claimed[event.SessionID]
	if ok && at.Equal(event.Timestamp) {
		delete(e.claimed, event.SessionID)
		return true
	}
	return false
}

// Restore re-registers every non-terminal run loaded from the store as
// active, so a restart picks scheduling back up rather than abandoning
// in-flight runs. It does not re-dispatch the currently active step;
// a run parked on an agent step resumes only once its
// workflow:step:complete arrives (or an operator resolves it).
func (e *Engine) Restore(ctx context.Context) error {
	runs, err := e.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, run := range runs {
		if run.State.IsTerminal() {
			continue
		}
		if run.ID >= e.nextID {
			e.nextID = run.ID + 1
		}
		e.active[run.ID] = &runState{run: run}
	}
	return nil
}

// StartRun validates args against the workflow's declared inputs,
// persists a new run in the queued state, emits workflow:run:queued,
// then immediately begins scheduling it.
func (e *Engine) StartRun(ctx context.Context, workflowID string, args map[string]any) (*models.Run, error) {
	wf, ok := e.registry.Get(workflowID)
	if !ok {
		return nil, fmt.Errorf("workflow: unknown workflow %q", workflowID)
	}
	resolvedArgs, err := resolveArgs(wf, args)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	run := &models.Run{
		ID:              atomic.AddInt64(&e.nextID, 1),
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		State:           models.RunQueued,
		Args:            resolvedArgs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, step := range wf.Steps {
		run.Steps = append(run.Steps, models.RunStep{ID: step.ID, State: models.StepPending})
	}

	if err := e.store.Save(ctx, run); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.active[run.ID] = &runState{run: run}
	e.mu.Unlock()

	e.emitAsync(models.Event{
		Type:      models.EventWorkflowRunQueued,
		Content:   models.WorkflowRunQueuedContent{RunID: run.ID, WorkflowID: wf.ID},
	})

	go e.schedule(run.ID)
	return run, nil
}

func resolveArgs(wf *models.Workflow, args map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(wf.Inputs))
	for k, v := range args {
		resolved[k] = v
	}
	for _, in := range wf.Inputs {
		if _, ok := resolved[in.Name]; ok {
			continue
		}
		if in.Required && in.Default == "" {
			return nil, fmt.Errorf("workflow: missing required input %q", in.Name)
		}
		if in.Default != "" {
			resolved[in.Name] = in.Default
		}
	}
	return resolved, nil
}

func (e *Engine) getState(runID int64) (*runState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.active[runID]
	return st, ok
}

func (e *Engine) stepsByID(run *models.Run) map[string]models.RunStep {
	out := make(map[string]models.RunStep, len(run.Steps))
	for _, s := range run.Steps {
		out[s.ID] = s
	}
	return out
}

// schedule advances a run: it repeatedly picks the first schedulable
// pending step in declaration order and dispatches it. agent and
// wait_for_input steps, and any step awaiting approval, suspend
// scheduling until the event that resumes them arrives; system steps
// complete synchronously so scheduling continues in the same call. When
// no step is left to dispatch, the run is checked for completion.
func (e *Engine) schedule(runID int64) {
	st, ok := e.getState(runID)
	if !ok {
		return
	}
	if e.tracer != nil {
		_, span := e.tracer.Start(context.Background(), "workflow.schedule")
		defer span.End()
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	run := st.run
	if st.cancelled || run.State.IsTerminal() {
		return
	}
	wf, ok := e.registry.Get(run.WorkflowID)
	if !ok {
		e.failRun(run, fmt.Sprintf("workflow %q no longer registered", run.WorkflowID))
		e.persist(run)
		return
	}

	if run.State == models.RunQueued {
		run.State = models.RunRunning
	}

	for {
		step, runStep, ok := e.nextSchedulable(wf, run)
		if !ok {
			e.runDone(run)
			break
		}
		dispatched := e.dispatchStep(wf, run, step, runStep)
		if !dispatched {
			break
		}
		if e.runDone(run) {
			break
		}
	}

	e.persist(run)
}

// nextSchedulable returns the first pending step (in declaration
// order) whose dependsOn are all completed or skipped and whose
// condition evaluates true. A condition that evaluates false marks the
// step skipped immediately rather than returning it for dispatch.
func (e *Engine) nextSchedulable(wf *models.Workflow, run *models.Run) (models.Step, *models.RunStep, bool) {
	for {
		stepsByID := e.stepsByID(run)
		advanced := false

		for _, step := range wf.Steps {
			runStep, _ := run.StepByID(step.ID)
			if runStep.State != models.StepPending {
				continue
			}
			if !dependenciesSatisfied(step, stepsByID) {
				continue
			}

			ok, err := EvaluateCondition(step.Condition, run.Args, stepsByID)
			if err != nil {
				e.failStep(run, runStep, fmt.Sprintf("condition: %v", err))
				advanced = true
				break
			}
			if !ok {
				runStep.State = models.StepSkipped
				e.recordStep(step.Type, "skipped")
				advanced = true
				break
			}
			return step, runStep, true
		}

		if !advanced || run.State.IsTerminal() {
			return models.Step{}, nil, false
		}
	}
}

func dependenciesSatisfied(step models.Step, steps map[string]models.RunStep) bool {
	for _, dep := range step.DependsOn {
		rs, ok := steps[dep]
		if !ok {
			return false
		}
		if rs.State != models.StepCompleted && rs.State != models.StepSkipped {
			return false
		}
	}
	return true
}

// dispatchStep starts runStep. It returns true when the step resolved
// synchronously (a system step, whether it succeeded or failed), so
// scheduling can continue in the same call, and false when the step was
// parked waiting on something external (approval, operator input, or an
// agent step's completion event).
func (e *Engine) dispatchStep(wf *models.Workflow, run *models.Run, step models.Step, runStep *models.RunStep) bool {
	if step.Approval && !runStep.Approved {
		runStep.State = models.StepPending
		run.State = models.RunWaitingApprove
		run.CurrentStepID = step.ID
		e.emitAsync(models.Event{
			Type:    models.EventWorkflowNeedsApprove,
			Content: models.WorkflowNeedsApproveContent{RunID: run.ID, StepID: step.ID},
		})
		return false
	}

	now := time.Now()
	runStep.State = models.StepActive
	runStep.Attempts++
	runStep.StartedAt = &now
	run.CurrentStepID = step.ID

	switch step.Type {
	case models.StepSystemWriteFile, models.StepSystemDeleteFile:
		e.runSystemStep(run, step, runStep)
		return true
	case models.StepWaitForInput:
		run.State = models.RunWaitingInput
		prompt := step.Prompt
		if prompt == "" {
			prompt = step.Instruction
		}
		if rendered, err := RenderArgs(prompt, run.Args); err == nil {
			prompt = rendered
		}
		e.emitAsync(models.Event{
			Type:    models.EventWorkflowNeedsApprove,
			Content: models.WorkflowNeedsApproveContent{RunID: run.ID, StepID: step.ID, Prompt: prompt},
		})
		return false
	default: // agent, including the zero value
		e.startStepTimer(run, step, runStep)
		e.emitAsync(models.Event{
			Type: models.EventWorkflowStepStart,
			Content: models.WorkflowStepStartContent{
				RunID:       run.ID,
				StepID:      step.ID,
				Instruction: step.Instruction,
				Tools:       step.Tools,
				LoadSkills:  step.LoadSkills,
				Attempt:     runStep.Attempts,
				Args:        run.Args,
				Prior:       priorOutputs(wf, run),
			},
		})
		return false
	}
}

// priorOutputs collects each already-completed step's output, in
// declaration order, for the dispatched step's prompt context. An
// output with a "text" field contributes that text directly; anything
// else is carried as its JSON encoding.
func priorOutputs(wf *models.Workflow, run *models.Run) []models.PriorStepOutput {
	var prior []models.PriorStepOutput
	for _, step := range wf.Steps {
		runStep, ok := run.StepByID(step.ID)
		if !ok || runStep.State != models.StepCompleted || len(runStep.Output) == 0 {
			continue
		}
		text, _ := runStep.Output["text"].(string)
		if text == "" {
			if encoded, err := json.Marshal(runStep.Output); err == nil {
				text = string(encoded)
			}
		}
		prior = append(prior, models.PriorStepOutput{StepID: step.ID, Output: text})
	}
	return prior
}

func (e *Engine) runSystemStep(run *models.Run, step models.Step, runStep *models.RunStep) {
	path, err := RenderArgs(step.Path, run.Args)
	if err == nil && step.Type == models.StepSystemWriteFile {
		var content string
		content, err = RenderArgs(step.Content, run.Args)
		if err == nil {
			err = e.ws.WriteTextFile(content, path)
		}
	} else if err == nil {
		err = e.ws.RemovePath(path)
	}

	now := time.Now()
	runStep.FinishedAt = &now
	if err != nil {
		e.failStep(run, runStep, err.Error())
		return
	}
	runStep.State = models.StepCompleted
	e.recordStep(step.Type, "success")
	e.emitAsync(models.Event{
		Type: models.EventWorkflowStepComplete,
		Content: models.WorkflowStepCompleteContent{
			RunID: run.ID, StepID: step.ID, Success: true,
		},
	})
}

func (e *Engine) startStepTimer(run *models.Run, step models.Step, runStep *models.RunStep) {
	timeout := e.defaultStepTimeout
	if d, err := time.ParseDuration(step.Timeout); err == nil && d > 0 {
		timeout = d
	}

	st, ok := e.getState(run.ID)
	if !ok {
		return
	}
	if st.stepTimer != nil {
		st.stepTimer.Stop()
	}
	st.stepTimer = time.AfterFunc(timeout, func() {
		e.handleStepTimeout(run.ID, step.ID)
	})
}

func (e *Engine) handleStepTimeout(runID int64, stepID string) {
	st, ok := e.getState(runID)
	if !ok {
		return
	}
	st.mu.Lock()
	run := st.run
	runStep, ok := run.StepByID(stepID)
	if !ok || runStep.State != models.StepActive {
		st.mu.Unlock()
		return
	}
	e.retryOrFail(run, stepDefByID(e.registry, run, stepID), runStep, "step timed out")
	e.persist(run)
	st.mu.Unlock()

	go e.schedule(runID)
}

func stepDefByID(registry *Registry, run *models.Run, stepID string) models.Step {
	wf, _ := registry.Get(run.WorkflowID)
	s, _ := wf.StepByID(stepID)
	return s
}

// onStepComplete handles workflow:step:complete events from the turn
// loop (agent steps) and applies the corresponding run state change,
// then resumes scheduling.
func (e *Engine) onStepComplete(ctx context.Context, event models.Event) error {
	content, ok := models.DecodeContent[models.WorkflowStepCompleteContent](event.Content)
	if !ok {
		return nil
	}
	st, ok := e.getState(content.RunID)
	if !ok {
		return nil
	}

	st.mu.Lock()
	run := st.run
	if run.State.IsTerminal() {
		st.mu.Unlock()
		return nil
	}
	runStep, ok := run.StepByID(content.StepID)
	if !ok || runStep.State != models.StepActive {
		st.mu.Unlock()
		return nil
	}
	if st.stepTimer != nil {
		st.stepTimer.Stop()
		st.stepTimer = nil
	}

	now := time.Now()
	runStep.FinishedAt = &now
	if content.Success {
		runStep.State = models.StepCompleted
		runStep.Output = content.Output
		e.recordStep(stepDefByID(e.registry, run, content.StepID).Type, "success")
	} else {
		e.retryOrFail(run, stepDefByID(e.registry, run, content.StepID), runStep, content.Error)
	}
	e.persist(run)
	st.mu.Unlock()

	go e.schedule(content.RunID)
	return nil
}

func (e *Engine) retryOrFail(run *models.Run, step models.Step, runStep *models.RunStep, reason string) {
	if runStep.Attempts <= step.Retries {
		runStep.State = models.StepPending
		return
	}
	e.failStep(run, runStep, reason)
}

func (e *Engine) failStep(run *models.Run, runStep *models.RunStep, reason string) {
	runStep.State = models.StepFailed
	runStep.Error = reason
	e.recordStep(stepDefByID(e.registry, run, runStep.ID).Type, "failed")
	e.failRun(run, fmt.Sprintf("step %s failed: %s", runStep.ID, reason))
}

func (e *Engine) failRun(run *models.Run, reason string) {
	run.State = models.RunFailed
	e.recordRun("failed")
	e.persist(run)
	e.emitAsync(models.Event{
		Type:    models.EventWorkflowRunComplete,
		Content: models.WorkflowRunCompleteContent{RunID: run.ID, State: string(models.RunFailed), Error: reason},
	})
}

// runDone marks run completed once every step is completed or
// skipped, emitting the terminal event. Returns true once the run has
// reached any terminal state.
func (e *Engine) runDone(run *models.Run) bool {
	if run.State.IsTerminal() {
		return true
	}
	for _, s := range run.Steps {
		if s.State != models.StepCompleted && s.State != models.StepSkipped {
			return false
		}
	}
	run.State = models.RunCompleted
	run.CurrentStepID = ""
	e.recordRun("completed")
	e.persist(run)
	e.emitAsync(models.Event{
		Type:    models.EventWorkflowRunComplete,
		Content: models.WorkflowRunCompleteContent{RunID: run.ID, State: string(models.RunCompleted)},
	})
	return true
}

// recordStep increments the workflow step counter, a no-op if the
// engine was never given a Metrics set.
func (e *Engine) recordStep(stepType models.StepType, status string) {
	if e.metrics == nil {
		return
	}
	name := string(stepType)
	if name == "" {
		name = string(models.StepAgent)
	}
	e.metrics.WorkflowStepsTotal.WithLabelValues(name, status).Inc()
}

// recordRun increments the workflow run terminal-state counter, a
// no-op if the engine was never given a Metrics set.
func (e *Engine) recordRun(state string) {
	if e.metrics == nil {
		return
	}
	e.metrics.WorkflowRunsTotal.WithLabelValues(state).Inc()
}

// Approve resumes a run parked waiting_approval on the given step,
// dispatching it for real.
func (e *Engine) Approve(ctx context.Context, runID int64, stepID string) error {
	st, ok := e.getState(runID)
	if !ok {
		return fmt.Errorf("workflow: unknown run %d", runID)
	}
	st.mu.Lock()
	run := st.run
	if run.State != models.RunWaitingApprove || run.CurrentStepID != stepID {
		st.mu.Unlock()
		return fmt.Errorf("workflow: run %d is not awaiting approval on step %q", runID, stepID)
	}
	runStep, _ := run.StepByID(stepID)
	runStep.Approved = true
	run.State = models.RunRunning
	st.mu.Unlock()

	go e.schedule(runID)
	return nil
}

// SubmitInput resumes a run parked waiting_input, recording the
// provided text as the step's output under responseKey (or "input" if
// unset) and marking it completed.
func (e *Engine) SubmitInput(ctx context.Context, runID int64, text string) error {
	st, ok := e.getState(runID)
	if !ok {
		return fmt.Errorf("workflow: unknown run %d", runID)
	}
	st.mu.Lock()
	run := st.run
	if run.State != models.RunWaitingInput {
		st.mu.Unlock()
		return fmt.Errorf("workflow: run %d is not awaiting input", runID)
	}
	wf, _ := e.registry.Get(run.WorkflowID)
	stepDef, _ := wf.StepByID(run.CurrentStepID)
	runStep, _ := run.StepByID(run.CurrentStepID)

	key := stepDef.ResponseKey
	if key == "" {
		key = "input"
	}
	now := time.Now()
	runStep.State = models.StepCompleted
	runStep.Output = map[string]any{key: text}
	runStep.FinishedAt = &now
	if run.Args == nil {
		run.Args = make(map[string]any)
	}
	run.Args[key] = text
	run.State = models.RunRunning
	e.persist(run)
	st.mu.Unlock()

	go e.schedule(runID)
	return nil
}

// Cancel marks run cancelled and stops its scheduling. It is a no-op
// if the run has already reached a terminal state.
func (e *Engine) Cancel(ctx context.Context, runID int64) error {
	st, ok := e.getState(runID)
	if !ok {
		if run, err := e.store.Load(ctx, runID); err == nil && run.State.IsTerminal() {
			return nil
		}
		return fmt.Errorf("workflow: unknown run %d", runID)
	}
	st.mu.Lock()
	if st.run.State.IsTerminal() {
		st.mu.Unlock()
		return nil
	}
	if st.stepTimer != nil {
		st.stepTimer.Stop()
	}
	st.cancelled = true
	st.run.State = models.RunCancelled
	e.recordRun("cancelled")
	e.persist(st.run)
	st.mu.Unlock()

	e.emitAsync(models.Event{
		Type:    models.EventWorkflowRunComplete,
		Content: models.WorkflowRunCompleteContent{RunID: runID, State: string(models.RunCancelled)},
	})

	e.mu.Lock()
	delete(e.active, runID)
	e.mu.Unlock()
	return nil
}

// Lint validates a registered workflow and reports its topological
// execution order alongside each step's done-when successor count,
// without running anything.
func (e *Engine) Lint(workflowID string) (models.WorkflowLintContent, error) {
	wf, ok := e.registry.Get(workflowID)
	if !ok {
		return models.WorkflowLintContent{}, fmt.Errorf("workflow: unknown workflow %q", workflowID)
	}
	var issues []string
	if err := Validate(wf); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			issues = ve.Issues
		} else {
			issues = []string{err.Error()}
		}
	}
	return models.WorkflowLintContent{
		WorkflowID:    workflowID,
		Order:         TopologicalOrder(wf.Steps),
		DoneWhenCount: SuccessorCounts(wf.Steps),
		Issues:        issues,
	}, nil
}

// DryRun reports the plan a run would follow without executing any
// step or persisting a run record.
func (e *Engine) DryRun(workflowID string) (models.WorkflowDryRunContent, error) {
	wf, ok := e.registry.Get(workflowID)
	if !ok {
		return models.WorkflowDryRunContent{}, fmt.Errorf("workflow: unknown workflow %q", workflowID)
	}
	return models.WorkflowDryRunContent{
		WorkflowID:    workflowID,
		Order:         TopologicalOrder(wf.Steps),
		DoneWhenCount: SuccessorCounts(wf.Steps),
	}, nil
}

func (e *Engine) persist(run *models.Run) {
	run.UpdatedAt = time.Now()
	if err := e.store.Save(context.Background(), run); err != nil {
		e.logger.Error("persist run failed", "runId", run.ID, "error", err)
	}
}

// emitAsync hands an event to the engine's ordered emitter without
// waiting for its handlers to complete. See drainEmits for why inline
// Emit calls and per-event goroutines are both wrong here.
func (e *Engine) emitAsync(event models.Event) {
	e.emitMu.RLock()
	defer e.emitMu.RUnlock()
	if e.emitsClosed {
		e.logger.Warn("workflow event dropped after engine stop", "type", event.Type)
		return
	}
	e.emitCh <- event
}
