// Package agent implements the turn loop: the state machine that turns
// one user:input or workflow:step:start event into exactly one terminal
// agent:response, driving the provider, the parser, and the tool
// registry through generation, tool execution, parse-retry, and
// continuation phases before a final verification pass.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	ctxbuilder "github.com/nexuscore/nexuscore/internal/agent/context"
	"github.com/nexuscore/nexuscore/internal/bus"
	"github.com/nexuscore/nexuscore/internal/parser"
	"github.com/nexuscore/nexuscore/internal/provider"
	"github.com/nexuscore/nexuscore/internal/sessions"
	"github.com/nexuscore/nexuscore/internal/telemetry"
	"github.com/nexuscore/nexuscore/internal/tools"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// LoopConfig configures the turn loop's limits and retry budgets,
// mirroring config.TurnConfig without importing the config package
// directly so the loop stays wireable in tests with literal values.
type LoopConfig struct {
	MaxToolCallsPerStep        int
	MaxContinuations           int
	RetryLimit                 int
	TurnTimeout                time.Duration
	Model                      string
	IncludeToolSchemasInPrompt bool
}

// Loop drives one session's turns against a provider, a tool registry,
// and the layered context builder, emitting every status and terminal
// event through the shared bus.
type Loop struct {
	cfg       LoopConfig
	provider  provider.Provider
	tools     *tools.Registry
	rollback  *tools.RollbackJournal
	builder   *ctxbuilder.Builder
	bus       *bus.Bus
	sessions  sessions.Store
	compactor *sessions.Compactor
	logger    *slog.Logger
	layers    PromptLayerLoader
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer

	// claimInput reports whether another subscriber (the workflow
	// engine's wait_for_input correlation) already consumed this
	// user:input event; the loop must not also run a turn for it.
	claimInput func(models.Event) bool

	// loadSkill reads one named skill's content, returning false when
	// no such skill exists. Wired by the daemon against the workspace's
	// skills directory.
	loadSkill func(name string) (string, bool)

	unsubs []bus.Unsubscribe
}

// SetInputClaimer attaches the predicate consulted before a user:input
// event is treated as a new turn. Events the claimer reports as already
// consumed (a workflow run parked on wait_for_input) are skipped.
func (l *Loop) SetInputClaimer(claim func(models.Event) bool) {
	l.claimInput = claim
}

// SetSkillLoader attaches the per-skill content loader used to render
// the skills context layer for workflow steps that declare loadSkills.
func (l *Loop) SetSkillLoader(load func(name string) (string, bool)) {
	l.loadSkill = load
}

// SetTelemetry attaches the metrics and tracer runTurn and
// executeToolCalls record against. Safe to call before Start; a nil
// metrics or tracer leaves the corresponding instrumentation a no-op.
func (l *Loop) SetTelemetry(metrics *telemetry.Metrics, tracer *telemetry.Tracer) {
	l.metrics = metrics
	l.tracer = tracer
}

// NewLoop wires a Loop to its collaborators. rollback may be nil, in
// which case file mutations made by a failed turn stay in place and no
// rollback status event is emitted. store and compactor may also be
// nil, in which case turns run without conversation memory: every turn
// starts from just its own user input.
func NewLoop(cfg LoopConfig, p provider.Provider, registry *tools.Registry, rollback *tools.RollbackJournal, builder *ctxbuilder.Builder, b *bus.Bus, store sessions.Store, compactor *sessions.Compactor, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 120 * time.Second
	}
	return &Loop{
		cfg:       cfg,
		provider:  p,
		tools:     registry,
		rollback:  rollback,
		builder:   builder,
		bus:       b,
		sessions:  store,
		compactor: compactor,
		logger:    logger,
	}
}

// Start subscribes the loop's event handlers. Call once before any
// user:input or workflow:step:start event can reach it.
func (l *Loop) Start(ctx context.Context) {
	l.unsubs = append(l.unsubs,
		l.bus.Subscribe(models.EventUserInput, l.handleUserInput),
		l.bus.Subscribe(models.EventWorkflowStepStart, l.handleWorkflowStep),
		l.bus.Subscribe(models.EventScheduleTrigger, l.handleScheduleTrigger),
	)
}

// Stop unsubscribes every handler the loop registered.
func (l *Loop) Stop() {
	for _, unsub := range l.unsubs {
		unsub()
	}
	l.unsubs = nil
}

// handleUserInput runs a turn for a direct operator request. The turn
// itself executes synchronously inside this handler so that user:input
// events for a session are processed strictly in arrival order; only
// the resulting events are emitted asynchronously.
func (l *Loop) handleUserInput(ctx context.Context, event models.Event) error {
	content, ok := models.DecodeContent[models.UserInputContent](event.Content)
	if !ok {
		return fmt.Errorf("agent: user:input event carried unexpected content type %T", event.Content)
	}
	if l.claimInput != nil && l.claimInput(event) {
		return nil
	}
	result := l.runTurn(ctx, turnInput{
		SessionID: event.SessionID,
		RequestID: content.RequestID,
		UserInput: content.Text,
	})
	l.emitAll(result.events)
	return nil
}

// handleWorkflowStep runs a turn on behalf of an agent-typed workflow
// step, folding the turn's terminal agent:response and every status
// event together with a correlated workflow:step:complete so the
// workflow engine learns the outcome.
func (l *Loop) handleWorkflowStep(ctx context.Context, event models.Event) error {
	content, ok := models.DecodeContent[models.WorkflowStepStartContent](event.Content)
	if !ok {
		return fmt.Errorf("agent: workflow:step:start event carried unexpected content type %T", event.Content)
	}
	prior := make([]ctxbuilder.PriorStep, 0, len(content.Prior))
	for _, p := range content.Prior {
		prior = append(prior, ctxbuilder.PriorStep{ID: p.StepID, Output: p.Output})
	}
	result := l.runTurn(ctx, turnInput{
		SessionID: event.SessionID,
		RequestID: fmt.Sprintf("run-%d-step-%s", content.RunID, content.StepID),
		UserInput: content.Instruction,
		Step: &models.Step{
			ID:          content.StepID,
			Instruction: content.Instruction,
			Tools:       content.Tools,
			LoadSkills:  content.LoadSkills,
		},
		ToolNames:  content.Tools,
		Skills:     content.LoadSkills,
		PriorSteps: prior,
	})

	stepEvent := models.Event{
		Type:      models.EventWorkflowStepComplete,
		SessionID: event.SessionID,
		Content: models.WorkflowStepCompleteContent{
			RunID:   content.RunID,
			StepID:  content.StepID,
			Success: result.success,
			Output:  map[string]any{"text": result.finalText},
			Error:   result.errorText,
		},
	}
	l.emitAll(append(result.events, stepEvent))
	return nil
}

// handleScheduleTrigger runs a turn for a fired cron entry that carries
// plain instruction text rather than a workflow id. Entries that name a
// workflow are handled by the workflow engine's own schedule:trigger
// subscriber instead, so this handler ignores those.
func (l *Loop) handleScheduleTrigger(ctx context.Context, event models.Event) error {
	content, ok := models.DecodeContent[models.ScheduleTriggerContent](event.Content)
	if !ok || content.WorkflowID != "" || content.Text == "" {
		return nil
	}
	result := l.runTurn(ctx, turnInput{
		SessionID: event.SessionID,
		RequestID: fmt.Sprintf("schedule-%s", content.EntryID),
		UserInput: content.Text,
	})
	l.emitAll(result.events)
	return nil
}

// emitAll emits events one at a time, in order, from a single detached
// goroutine. A handler that called bus.Emit directly would deadlock the
// bus's single consumer goroutine on itself; running every emission
// sequentially from one goroutine instead of one goroutine per event
// also keeps the relative order between a turn's status events and its
// terminal response intact, which plain fire-and-forget goroutines
// would not guarantee.
func (l *Loop) emitAll(events []models.Event) {
	if len(events) == 0 {
		return
	}
	go func() {
		for _, event := range events {
			if _, err := l.bus.Emit(context.Background(), event); err != nil {
				l.logger.Error("agent event emit failed", "type", event.Type, "error", err)
			}
		}
	}()
}

// turnInput is what triggers one runTurn call, regardless of whether it
// came from a user:input or a workflow:step:start event.
type turnInput struct {
	SessionID  string
	RequestID  string
	UserInput  string
	Step       *models.Step
	ToolNames  []string
	Skills     []string
	PriorSteps []ctxbuilder.PriorStep
}

// turnResult is runTurn's outcome: the ordered events it produced plus
// enough of the terminal outcome for a workflow step to report back.
type turnResult struct {
	events    []models.Event
	success   bool
	finalText string
	errorText string
}

// runTurn drives the full state machine for one triggering event:
// GENERATING, then TOOL_EXEC / PARSE_RETRY / CONTINUE until a final
// answer passes VERIFY, or the turn fails and rolls back whatever files
// it touched. Exactly one agent:response is always produced.
func (l *Loop) runTurn(parent context.Context, in turnInput) turnResult {
	start := time.Now()
	if l.tracer != nil {
		var span trace.Span
		parent, span = l.tracer.Start(parent, "agent.turn")
		defer span.End()
	}

	timeout := l.cfg.TurnTimeout
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ts := &turnState{
		sessionID: in.SessionID,
		requestID: in.RequestID,
		contract:  deriveContract(in.UserInput),
	}

	var events []models.Event
	status := func(phase, toolName, message string) {
		events = append(events, models.Event{
			Type:      models.EventAgentStatus,
			SessionID: in.SessionID,
			Content: models.AgentStatusContent{
				Phase:    phase,
				ToolName: toolName,
				Message:  message,
			},
		})
	}
	finish := func(text string, reason models.FinishReason) turnResult {
		if reason == models.FinishStop && l.rollback != nil {
			for _, call := range ts.toolCallHistory {
				l.rollback.Forget(call.toolCallID)
			}
		}
		events = append(events, models.Event{
			Type:      models.EventAgentResponse,
			SessionID: in.SessionID,
			Content: models.AgentResponseContent{
				Text:         text,
				RequestID:    in.RequestID,
				FinishReason: string(reason),
			},
		})
		l.persistTurn(in, text, reason)
		l.recordTurn(reason, time.Since(start))
		return turnResult{
			events:    events,
			success:   reason == models.FinishStop,
			finalText: text,
			errorText: errorTextFor(reason, text),
		}
	}
	failAndRollback := func(text string, reason models.FinishReason) turnResult {
		l.rollbackTurn(ctx, ts, status)
		return finish(text, reason)
	}

	toolSchemas := l.toolSchemas(in.ToolNames)
	conversation, conversationSummary := l.loadConversation(ctx, in.SessionID)
	promptLayers := l.loadPromptLayers(ctx)
	built := l.builder.Build(ctxbuilder.Inputs{
		Step:                       in.Step,
		Tools:                      toolSchemas,
		IncludeToolSchemasInPrompt: l.cfg.IncludeToolSchemasInPrompt,
		SkillContent:               l.loadSkillContent(in.Skills),
		PriorSteps:                 in.PriorSteps,
		IdentityContent:            promptLayers.Identity,
		SoulContent:                promptLayers.Soul,
		UserContent:                promptLayers.User,
		BootContent:                promptLayers.Boot,
		BootstrapContent:           promptLayers.Bootstrap,
		SystemMemory:               promptLayers.SystemMemory,
		DailyMemory:                promptLayers.DailyMemory,
		Conversation:               conversation,
		ConversationSummary:        conversationSummary,
		UserInput:                  in.UserInput,
	})
	ts.messages = built.Messages
	ts.maxOutputTokens = built.MaxOutputTokens
	ts.pinnedSystem = built.System
	system := built.System

	for {
		select {
		case <-ctx.Done():
			return failAndRollback("turn timed out", models.FinishInternal)
		default:
		}

		status("generating", "", "")
		completion, err := l.provider.Complete(ctx, provider.CompletionRequest{
			Model:     l.cfg.Model,
			System:    system,
			Messages:  ts.messages,
			Tools:     toolSchemas,
			MaxTokens: ts.maxOutputTokens,
		})
		if err != nil {
			kind := classifyProviderFailure(err)
			if ctx.Err() != nil {
				kind = TurnErrorTimeout
			}
			if kind == TurnErrorTimeout {
				return failAndRollback("turn timed out", models.FinishInternal)
			}
			return failAndRollback(newTurnError(kind, "", err).Error(), models.FinishInternal)
		}

		if completion.HasNativeToolCalls() {
			terminal, result := l.executeToolCalls(ctx, ts, completion.ToolCalls, status, finish, failAndRollback)
			if terminal {
				return result
			}
			continue
		}

		parsed := parser.Parse(completion.Text, completion.FinishReason)
		switch parsed.Kind {
		case models.ParseToolCall:
			id := uuid.NewString()
			terminal, result := l.executeToolCalls(ctx, ts, []models.ToolCallRequest{{
				ID:        id,
				Name:      parsed.ToolName,
				Arguments: parsed.Arguments,
			}}, status, finish, failAndRollback)
			if terminal {
				return result
			}
			continue

		case models.ParseErrorKind:
			if ts.correctionRetries >= l.cfg.RetryLimit {
				return failAndRollback(
					fmt.Sprintf("exceeded parse retry limit: %s", parsed.Error),
					models.FinishInternal,
				)
			}
			ts.correctionRetries++
			status("parse:retry", "", parsed.Error)
			ts.messages = append(ts.messages, models.Message{
				Role:    models.RoleAssistant,
				Content: completion.Text,
			}, models.Message{
				Role:    models.RoleUser,
				Content: fmt.Sprintf("Your last response could not be parsed: %s. Respond again with either a single valid tool-call JSON object or a plain final answer.", parsed.Error),
			})
			continue

		default: // models.ParseFinal
			if completion.FinishReason == models.FinishLength || completion.FinishReason == models.FinishMaxTokens {
				if ts.continuationCount >= l.cfg.MaxContinuations {
					ts.accumulatedTextParts = append(ts.accumulatedTextParts, completion.Text)
					break
				}
				ts.continuationCount++
				status("continue", "", "")
				priorText := ts.accumulatedText()
				ts.accumulatedTextParts = append(ts.accumulatedTextParts, completion.Text)
				compacted := l.builder.Compact(ts.pinnedSystem, priorText, completion.Text)
				ts.messages = compacted.Messages
				ts.maxOutputTokens = compacted.MaxOutputTokens
				system = compacted.System
				continue
			}
			ts.accumulatedTextParts = append(ts.accumulatedTextParts, completion.Text)
		}

		finalText := ts.accumulatedText()
		status("verify", "", "")
		outcome := runVerifiers(ts.contract, finalText, ts.toolCallHistory)
		if outcome.ok {
			return finish(finalText, models.FinishStop)
		}
		if !outcome.retryable || ts.correctionRetries >= l.cfg.RetryLimit {
			return failAndRollback(fmt.Sprintf("guardrail failure: %s", outcome.reason), models.FinishInternal)
		}
		ts.correctionRetries++
		status("verify:retry", "", outcome.reason)
		ts.accumulatedTextParts = nil
		ts.messages = append(ts.messages, models.Message{
			Role:    models.RoleAssistant,
			Content: finalText,
		}, models.Message{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("That response failed a guardrail check: %s. Try again.", outcome.reason),
		})
	}
}

// recordTurn records a completed turn's terminal finish reason and
// wall-clock duration, a no-op if the loop was never given a Metrics
// set.
func (l *Loop) recordTurn(reason models.FinishReason, elapsed time.Duration) {
	if l.metrics == nil {
		return
	}
	l.metrics.TurnsTotal.WithLabelValues(string(reason)).Inc()
	l.metrics.TurnDuration.Observe(elapsed.Seconds())
}

// executeToolCalls runs every requested tool call in order, stopping
// early and reporting terminal=true the moment the turn's tool call
// budget is exhausted or consecutive tool failures exceed the retry
// limit. A failing tool's error is otherwise handed back to the model
// like any other tool result, classified as a validation or execution
// failure for the status stream, and counted against the failure
// streak; any successful call resets the streak.
func (l *Loop) executeToolCalls(ctx context.Context, ts *turnState, calls []models.ToolCallRequest, status func(phase, toolName, message string), finish func(text string, reason models.FinishReason) turnResult, failAndRollback func(text string, reason models.FinishReason) turnResult) (bool, turnResult) {
	for _, call := range calls {
		if ts.toolCallCount >= l.toolCallLimit() {
			return true, finish("tool call limit reached", models.FinishToolLimit)
		}

		ts.toolCallCount++
		status("tool:start", call.Name, "")

		result, err := l.tools.Execute(ctx, call.ID, call.Name, call.Arguments)
		if err != nil {
			result = models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
		}

		ts.toolCallHistory = append(ts.toolCallHistory, executedToolCall{
			toolCallID: call.ID,
			name:       call.Name,
			arguments:  call.Arguments,
			result:     result,
		})
		l.persistToolTurns(ts.sessionID, call, result)

		ts.messages = append(ts.messages,
			models.Message{Role: models.RoleAssistant, ToolCallID: call.ID, Name: call.Name, Content: string(call.Arguments)},
			models.Message{Role: models.RoleTool, ToolCallID: call.ID, Name: call.Name, Content: result.Content},
		)

		if result.IsError {
			kind := classifyToolFailure(result)
			ts.toolFailureStreak++
			if ts.toolFailureStreak > l.cfg.RetryLimit {
				failure := newTurnError(kind, "tool "+call.Name+" kept failing", nil)
				failure.Attempt = ts.toolFailureStreak
				return true, failAndRollback(failure.Error(), models.FinishInternal)
			}
			status("tool:error", call.Name, string(kind))
			continue
		}
		ts.toolFailureStreak = 0
		status("tool:complete", call.Name, "")
	}
	return false, turnResult{}
}

// toolCallLimit returns the configured per-step tool call budget,
// defaulting to a generous fallback if the loop was constructed with a
// zero value.
func (l *Loop) toolCallLimit() int {
	if l.cfg.MaxToolCallsPerStep <= 0 {
		return 25
	}
	return l.cfg.MaxToolCallsPerStep
}

// rollbackTurn undoes every tool call the turn made, walking the
// history in reverse so a later write is undone before the write it
// depended on.
func (l *Loop) rollbackTurn(ctx context.Context, ts *turnState, status func(phase, toolName, message string)) {
	if l.rollback == nil || len(ts.toolCallHistory) == 0 {
		return
	}
	failed := false
	for i := len(ts.toolCallHistory) - 1; i >= 0; i-- {
		call := ts.toolCallHistory[i]
		if err := l.rollback.Rollback(ctx, call.toolCallID); err != nil {
			failed = true
			l.logger.Error("tool rollback failed", "toolCallId", call.toolCallID, "error", err)
		}
	}
	if failed {
		status("tool:rollback_failed", "", "")
		return
	}
	status("tool:rollback", "", "")
}

// toolSchemas returns the registry's schemas, restricted to names when
// a workflow step names an explicit tool allow-list.
func (l *Loop) toolSchemas(names []string) []models.ToolSchema {
	all := l.tools.Schemas()
	if len(names) == 0 {
		return all
	}
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	filtered := make([]models.ToolSchema, 0, len(all))
	for _, schema := range all {
		if _, ok := allowed[schema.Name]; ok {
			filtered = append(filtered, schema)
		}
	}
	return filtered
}

// loadSkillContent resolves every named skill through the attached
// loader and joins their content for the skills context layer. Names
// the loader doesn't know are skipped rather than failing the turn.
func (l *Loop) loadSkillContent(names []string) string {
	if l.loadSkill == nil || len(names) == 0 {
		return ""
	}
	var parts []string
	for _, name := range names {
		if content, ok := l.loadSkill(name); ok && content != "" {
			parts = append(parts, content)
		}
	}
	return joinSections(parts)
}

func joinSections(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}

// loadConversation loads a session's remembered turns and rolling
// summary for the context builder's conversation and prior layers. It
// returns (nil, "") when the loop was built without session memory.
func (l *Loop) loadConversation(ctx context.Context, sessionID string) ([]models.Message, string) {
	if l.sessions == nil || sessionID == "" {
		return nil, ""
	}
	turns, err := l.sessions.LoadTurns(ctx, sessionID)
	if err != nil {
		l.logger.Error("load session turns failed", "sessionId", sessionID, "error", err)
		return nil, ""
	}
	summary, err := l.sessions.LoadSummary(ctx, sessionID)
	if err != nil {
		l.logger.Error("load session summary failed", "sessionId", sessionID, "error", err)
	}
	// Turns before the summary's compaction cursor already live inside
	// the rolling summary text; only the live window re-enters the
	// conversation.
	turns = sessions.LiveWindow(turns, summary)
	messages := make([]models.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Type {
		case models.TurnUserInput:
			messages = append(messages, models.Message{Role: models.RoleUser, Content: turn.Content})
		case models.TurnAgentResponse:
			messages = append(messages, models.Message{Role: models.RoleAssistant, Content: turn.Content})
		}
	}
	summaryText := ""
	if summary != nil {
		summaryText = summary.Summary
	}
	return messages, summaryText
}

// loadPromptLayers reads the current workspace-authored context layers,
// if a loader has been attached. A nil loader or a load error yields
// the zero-value PromptLayerContent, which the builder treats as empty
// layers rather than a failure.
func (l *Loop) loadPromptLayers(ctx context.Context) PromptLayerContent {
	if l.layers == nil {
		return PromptLayerContent{}
	}
	content, err := l.layers.Load(ctx)
	if err != nil {
		l.logger.Error("load prompt layers failed", "error", err)
		return PromptLayerContent{}
	}
	return content
}

// persistTurn appends the user input and the turn's final text to
// session memory, then opportunistically compacts the transcript if it
// has grown past its configured budget. It runs against a background
// context rather than the turn's own, so a turn that persists because it
// timed out still gets its transcript entries written. Persistence
// failures are logged rather than surfaced, since the turn's own outcome
// has already been decided by the time this runs.
func (l *Loop) persistTurn(in turnInput, text string, reason models.FinishReason) {
	if l.sessions == nil || in.SessionID == "" {
		return
	}
	ctx := context.Background()
	now := time.Now()
	if err := l.sessions.AppendTurn(ctx, in.SessionID, models.SessionTurn{
		Timestamp: now,
		Role:      models.RoleUser,
		Type:      models.TurnUserInput,
		Content:   in.UserInput,
	}); err != nil {
		l.logger.Error("append user turn failed", "sessionId", in.SessionID, "error", err)
	}
	if err := l.sessions.AppendTurn(ctx, in.SessionID, models.SessionTurn{
		Timestamp: now,
		Role:      models.RoleAssistant,
		Type:      models.TurnAgentResponse,
		Content:   text,
		Meta:      map[string]any{"finishReason": string(reason)},
	}); err != nil {
		l.logger.Error("append agent turn failed", "sessionId", in.SessionID, "error", err)
	}
	if l.compactor != nil {
		if _, err := l.compactor.Compact(ctx, in.SessionID); err != nil {
			l.logger.Error("session compaction failed", "sessionId", in.SessionID, "error", err)
		}
	}
}

// persistToolTurns appends a tool_call/tool_result pair to session
// memory. These entries never re-enter the conversation tail (the tail
// keeps only user and assistant roles) but give the transcript a full
// record of what the turn actually did. Best-effort, like every other
// session write.
func (l *Loop) persistToolTurns(sessionID string, call models.ToolCallRequest, result models.ToolResult) {
	if l.sessions == nil || sessionID == "" {
		return
	}
	ctx := context.Background()
	now := time.Now()
	if err := l.sessions.AppendTurn(ctx, sessionID, models.SessionTurn{
		Timestamp: now,
		Role:      models.RoleAssistant,
		Type:      models.TurnToolCall,
		Content:   string(call.Arguments),
		Meta:      map[string]any{"tool": call.Name, "toolCallId": call.ID},
	}); err != nil {
		l.logger.Error("append tool call turn failed", "sessionId", sessionID, "error", err)
	}
	if err := l.sessions.AppendTurn(ctx, sessionID, models.SessionTurn{
		Timestamp: now,
		Role:      models.RoleTool,
		Type:      models.TurnToolResult,
		Content:   result.Content,
		Meta:      map[string]any{"tool": call.Name, "toolCallId": call.ID, "isError": result.IsError},
	}); err != nil {
		l.logger.Error("append tool result turn failed", "sessionId", sessionID, "error", err)
	}
}

// errorTextFor returns the error text a workflow step's
// workflow:step:complete should carry, empty for a successful finish.
func errorTextFor(reason models.FinishReason, text string) string {
	if reason == models.FinishStop {
		return ""
	}
	return text
}
