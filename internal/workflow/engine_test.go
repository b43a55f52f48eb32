package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexuscore/nexuscore/internal/bus"
	"github.com/nexuscore/nexuscore/internal/workspace"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// writeWorkflow materializes one workflow.yaml under dir/id so
// Registry.LoadDir can pick it up, matching the on-disk layout the
// registry expects (one subdirectory per workflow).
func writeWorkflow(t *testing.T, dir, id, yamlBody string) {
	t.Helper()
	wfDir := filepath.Join(dir, id)
	if err := os.MkdirAll(wfDir, 0o755); err != nil {
		t.Fatalf("mkdir workflow dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wfDir, "workflow.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write workflow.yaml: %v", err)
	}
}

type testEngine struct {
	engine *Engine
	bus    *bus.Bus
	store  *RunStore
}

func newTestEngine(t *testing.T, workflows map[string]string) *testEngine {
	t.Helper()
	root := t.TempDir()

	wfDir := filepath.Join(root, "workflows")
	if err := os.MkdirAll(wfDir, 0o755); err != nil {
		t.Fatalf("mkdir workflows dir: %v", err)
	}
	for id, body := range workflows {
		writeWorkflow(t, wfDir, id, body)
	}

	registry := NewRegistry()
	if err := registry.LoadDir(wfDir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	store, err := NewRunStore(filepath.Join(root, "runs"))
	if err != nil {
		t.Fatalf("NewRunStore: %v", err)
	}

	ws, err := workspace.New(filepath.Join(root, "workspace"))
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}

	b := bus.New()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})

	engine := NewEngine(registry, store, ws, b, 200*time.Millisecond, nil)
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	return &testEngine{engine: engine, bus: b, store: store}
}

// awaitTerminal subscribes to workflow:run:complete and blocks until the
// given run reaches it (or the test's deadline), returning the final
// persisted run.
func (te *testEngine) awaitTerminal(t *testing.T, runID int64) *models.Run {
	t.Helper()
	done := make(chan struct{}, 1)
	unsub := te.bus.Subscribe(models.EventWorkflowRunComplete, func(ctx context.Context, event models.Event) error {
		content, ok := event.Content.(models.WorkflowRunCompleteContent)
		if ok && content.RunID == runID {
			select {
			case done <- struct{}{}:
			default:
			}
		}
		return nil
	})
	defer unsub()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("run %d did not reach a terminal state in time", runID)
	}

	run, err := te.store.Load(context.Background(), runID)
	if err != nil {
		t.Fatalf("load run %d: %v", runID, err)
	}
	return run
}

const linearWorkflowYAML = `
id: linear-deploy
version: "1"
steps:
  - id: write
    type: system_write_file
    path: out.txt
    content: "hello {{.args.name}}"
  - id: cleanup
    type: system_delete_file
    path: out.txt
    dependsOn: ["write"]
`

func TestEngine_StartRun_LinearSystemSteps(t *testing.T) {
	te := newTestEngine(t, map[string]string{"linear-deploy": linearWorkflowYAML})

	run, err := te.engine.StartRun(context.Background(), "linear-deploy", map[string]any{"name": "nexus"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	final := te.awaitTerminal(t, run.ID)
	if final.State != models.RunCompleted {
		t.Fatalf("run state = %v, want completed", final.State)
	}
	for _, s := range final.Steps {
		if s.State != models.StepCompleted {
			t.Errorf("step %s state = %v, want completed", s.ID, s.State)
		}
	}
}

func TestEngine_StartRun_UnknownWorkflow(t *testing.T) {
	te := newTestEngine(t, map[string]string{"linear-deploy": linearWorkflowYAML})

	if _, err := te.engine.StartRun(context.Background(), "does-not-exist", nil); err == nil {
		t.Fatal("expected an error for an unknown workflow id")
	}
}

func TestEngine_StartRun_EmitsQueuedEvent(t *testing.T) {
	te := newTestEngine(t, map[string]string{"linear-deploy": linearWorkflowYAML})

	got := make(chan models.WorkflowRunQueuedContent, 1)
	unsub := te.bus.Subscribe(models.EventWorkflowRunQueued, func(ctx context.Context, event models.Event) error {
		if content, ok := event.Content.(models.WorkflowRunQueuedContent); ok {
			got <- content
		}
		return nil
	})
	defer unsub()

	run, err := te.engine.StartRun(context.Background(), "linear-deploy", map[string]any{"name": "nexus"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	select {
	case content := <-got:
		if content.RunID != run.ID || content.WorkflowID != "linear-deploy" {
			t.Fatalf("unexpected queued content: %+v", content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("workflow:run:queued was never emitted")
	}

	te.awaitTerminal(t, run.ID)
}

const conditionalWorkflowYAML = `
id: conditional-notify
version: "1"
steps:
  - id: write
    type: system_write_file
    path: out.txt
    content: "body"
  - id: skip-me
    type: system_write_file
    path: skipped.txt
    content: "never"
    condition: '{{.args.enabled}} == "true"'
    dependsOn: ["write"]
`

func TestEngine_ConditionFalseSkipsStep(t *testing.T) {
	te := newTestEngine(t, map[string]string{"conditional-notify": conditionalWorkflowYAML})

	run, err := te.engine.StartRun(context.Background(), "conditional-notify", map[string]any{"enabled": "false"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	final := te.awaitTerminal(t, run.ID)
	if final.State != models.RunCompleted {
		t.Fatalf("run state = %v, want completed", final.State)
	}
	skipStep, ok := final.StepByID("skip-me")
	if !ok {
		t.Fatal("missing skip-me step")
	}
	if skipStep.State != models.StepSkipped {
		t.Fatalf("skip-me state = %v, want skipped", skipStep.State)
	}
}

const agentWorkflowYAML = `
id: agent-review
version: "1"
steps:
  - id: review
    type: agent
    instruction: "review the change"
    tools: ["bash"]
    retries: 1
`

func TestEngine_AgentStep_SuspendsUntilStepComplete(t *testing.T) {
	te := newTestEngine(t, map[string]string{"agent-review": agentWorkflowYAML})

	started := make(chan models.WorkflowStepStartContent, 1)
	unsub := te.bus.Subscribe(models.EventWorkflowStepStart, func(ctx context.Context, event models.Event) error {
		if content, ok := event.Content.(models.WorkflowStepStartContent); ok {
			started <- content
		}
		return nil
	})
	defer unsub()

	run, err := te.engine.StartRun(context.Background(), "agent-review", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	var content models.WorkflowStepStartContent
	select {
	case content = <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("workflow:step:start was never emitted")
	}
	if content.RunID != run.ID || content.StepID != "review" {
		t.Fatalf("unexpected step start content: %+v", content)
	}

	// The run must still be non-terminal while parked on the agent step.
	time.Sleep(100 * time.Millisecond)
	mid, err := te.store.Load(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if mid.State.IsTerminal() {
		t.Fatalf("run reached terminal state %v before its step completed", mid.State)
	}

	if _, err := te.bus.Emit(context.Background(), models.Event{
		Type: models.EventWorkflowStepComplete,
		Content: models.WorkflowStepCompleteContent{
			RunID: run.ID, StepID: "review", Success: true,
			Output: map[string]any{"verdict": "approved"},
		},
	}); err != nil {
		t.Fatalf("emit step complete: %v", err)
	}

	final := te.awaitTerminal(t, run.ID)
	if final.State != models.RunCompleted {
		t.Fatalf("run state = %v, want completed", final.State)
	}
}

func TestEngine_AgentStep_RetriesThenFails(t *testing.T) {
	te := newTestEngine(t, map[string]string{"agent-review": agentWorkflowYAML})

	starts := make(chan models.WorkflowStepStartContent, 4)
	unsub := te.bus.Subscribe(models.EventWorkflowStepStart, func(ctx context.Context, event models.Event) error {
		if content, ok := event.Content.(models.WorkflowStepStartContent); ok {
			starts <- content
		}
		return nil
	})
	defer unsub()

	run, err := te.engine.StartRun(context.Background(), "agent-review", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	// retries: 1 allows one retry after the first failure before the
	// step (and the run) fails for good.
	for i := 0; i < 2; i++ {
		select {
		case content := <-starts:
			if content.Attempt != i+1 {
				t.Fatalf("attempt %d: got Attempt=%d, want %d", i, content.Attempt, i+1)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("attempt %d: workflow:step:start was never emitted", i)
		}
		if _, err := te.bus.Emit(context.Background(), models.Event{
			Type: models.EventWorkflowStepComplete,
			Content: models.WorkflowStepCompleteContent{
				RunID: run.ID, StepID: "review", Success: false, Error: "tool exploded",
			},
		}); err != nil {
			t.Fatalf("emit step complete: %v", err)
		}
	}

	final := te.awaitTerminal(t, run.ID)
	if final.State != models.RunFailed {
		t.Fatalf("run state = %v, want failed", final.State)
	}
	step, ok := final.StepByID("review")
	if !ok || step.State != models.StepFailed {
		t.Fatalf("review step = %+v, want failed", step)
	}
}

func TestEngine_AgentStep_TimesOut(t *testing.T) {
	te := newTestEngine(t, map[string]string{"agent-review": agentWorkflowYAML})

	run, err := te.engine.StartRun(context.Background(), "agent-review", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	// No workflow:step:complete is ever emitted; the step timer (200ms,
	// see newTestEngine) must fire, retry once, time out again, and fail
	// the run without an external nudge.
	final := te.awaitTerminal(t, run.ID)
	if final.State != models.RunFailed {
		t.Fatalf("run state = %v, want failed after step timeouts", final.State)
	}
}

func TestEngine_Cancel(t *testing.T) {
	te := newTestEngine(t, map[string]string{"agent-review": agentWorkflowYAML})

	run, err := te.engine.StartRun(context.Background(), "agent-review", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	if err := te.engine.Cancel(context.Background(), run.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	final, err := te.store.Load(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if final.State != models.RunCancelled {
		t.Fatalf("run state = %v, want cancelled", final.State)
	}

	// Cancelling an already-terminal run is a no-op, not an error.
	if err := te.engine.Cancel(context.Background(), run.ID); err != nil {
		t.Fatalf("Cancel on terminal run: %v", err)
	}
}

func TestEngine_OnRunStart_TriggersViaBus(t *testing.T) {
	te := newTestEngine(t, map[string]string{"linear-deploy": linearWorkflowYAML})

	if _, err := te.bus.Emit(context.Background(), models.Event{
		Type: models.EventWorkflowRunStart,
		Content: models.WorkflowRunStartContent{
			WorkflowID: "linear-deploy",
			Args:       map[string]any{"name": "bus-triggered"},
		},
	}); err != nil {
		t.Fatalf("emit workflow:run:start: %v", err)
	}

	// The engine starts the run asynchronously from onRunStart; poll the
	// runs directory until exactly one run shows up and finishes.
	deadline := time.After(3 * time.Second)
	for {
		runs, err := te.store.LoadAll(context.Background())
		if err != nil {
			t.Fatalf("LoadAll: %v", err)
		}
		if len(runs) == 1 && runs[0].State.IsTerminal() {
			if runs[0].State != models.RunCompleted {
				t.Fatalf("run state = %v, want completed", runs[0].State)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("workflow:run:start never produced a completed run")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestEngine_OnScheduleTrigger_StartsWorkflowRun(t *testing.T) {
	te := newTestEngine(t, map[string]string{"linear-deploy": linearWorkflowYAML})

	if _, err := te.bus.Emit(context.Background(), models.Event{
		Type: models.EventScheduleTrigger,
		Content: models.ScheduleTriggerContent{
			EntryID:    "nightly",
			WorkflowID: "linear-deploy",
			Args:       map[string]any{"name": "cron"},
		},
	}); err != nil {
		t.Fatalf("emit schedule:trigger: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		runs, err := te.store.LoadAll(context.Background())
		if err != nil {
			t.Fatalf("LoadAll: %v", err)
		}
		if len(runs) == 1 && runs[0].State.IsTerminal() {
			if runs[0].State != models.RunCompleted {
				t.Fatalf("run state = %v, want completed", runs[0].State)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("schedule:trigger never produced a completed run")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestEngine_OnScheduleTrigger_IgnoresTextOnlyEntries(t *testing.T) {
	te := newTestEngine(t, map[string]string{"linear-deploy": linearWorkflowYAML})

	if _, err := te.bus.Emit(context.Background(), models.Event{
		Type: models.EventScheduleTrigger,
		Content: models.ScheduleTriggerContent{
			EntryID: "daily-digest",
			Text:    "summarize today",
		},
	}); err != nil {
		t.Fatalf("emit schedule:trigger: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	runs, err := te.store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected the engine to ignore a text-only schedule entry, got %d runs", len(runs))
	}
}

func TestEngine_Restore_ReactivatesNonTerminalRuns(t *testing.T) {
	te := newTestEngine(t, map[string]string{"agent-review": agentWorkflowYAML})

	run, err := te.engine.StartRun(context.Background(), "agent-review", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	// Give the run time to reach its parked agent step, then simulate a
	// restart against a fresh Engine sharing the same store.
	time.Sleep(50 * time.Millisecond)

	registry := NewRegistry()
	root := filepathDir(te.store)
	if err := registry.LoadDir(root); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	b := bus.New()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	}()

	fresh := NewEngine(registry, te.store, ws, b, time.Minute, nil)
	fresh.Start(context.Background())
	defer fresh.Stop()

	if err := fresh.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if _, ok := fresh.getState(run.ID); !ok {
		t.Fatalf("expected run %d to be restored into the active set", run.ID)
	}
}

// filepathDir recovers the workflows directory a testEngine's registry
// was loaded from, since RunStore itself doesn't expose it; both live
// under the same temp root in newTestEngine.
func filepathDir(store *RunStore) string {
	return filepath.Join(filepath.Dir(store.dir), "workflows")
}

const waitInputWorkflowYAML = `
id: gated-release
version: "1"
steps:
  - id: ask
    type: wait_for_input
    prompt: "ship it?"
    responseKey: decision
  - id: record
    type: system_write_file
    path: decision.txt
    content: "{{args.decision}}"
    dependsOn: ["ask"]
`

func TestEngine_WaitForInput_CorrelatesUserInput(t *testing.T) {
	te := newTestEngine(t, map[string]string{"gated-release": waitInputWorkflowYAML})

	prompted := make(chan models.WorkflowNeedsApproveContent, 1)
	unsub := te.bus.Subscribe(models.EventWorkflowNeedsApprove, func(ctx context.Context, event models.Event) error {
		if content, ok := event.Content.(models.WorkflowNeedsApproveContent); ok {
			prompted <- content
		}
		return nil
	})
	defer unsub()

	run, err := te.engine.StartRun(context.Background(), "gated-release", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	select {
	case content := <-prompted:
		if content.RunID != run.ID || content.StepID != "ask" || content.Prompt != "ship it?" {
			t.Fatalf("unexpected prompt content: %+v", content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait_for_input never emitted its prompt")
	}

	event, err := te.bus.Emit(context.Background(), models.Event{
		Type:      models.EventUserInput,
		SessionID: "c1",
		Content:   models.UserInputContent{Text: "yes ship"},
	})
	if err != nil {
		t.Fatalf("emit user:input: %v", err)
	}

	// The engine consumed the input for the parked run; the turn loop's
	// claimer check must report it as taken exactly once.
	if !te.engine.ClaimedInput(event) {
		t.Fatal("expected the engine to claim the correlated user:input")
	}
	if te.engine.ClaimedInput(event) {
		t.Fatal("expected the claim to be dropped after the first check")
	}

	final := te.awaitTerminal(t, run.ID)
	if final.State != models.RunCompleted {
		t.Fatalf("run state = %v, want completed", final.State)
	}
	askStep, _ := final.StepByID("ask")
	if askStep.Output["decision"] != "yes ship" {
		t.Fatalf("ask output = %+v, want decision recorded", askStep.Output)
	}
}
