// Package daemon assembles one nexuscore process: every subsystem
// constructed in dependency order and registered with a
// lifecycle.Orchestrator so startup failures unwind cleanly and shutdown
// runs in reverse, mirroring the teacher's gateway.NewManagedServer
// wiring generalized from a multi-channel gateway to this runtime's
// bus/loop/workflow/IPC graph (spec.md §4.3).
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexuscore/nexuscore/internal/agent"
	agentcontext "github.com/nexuscore/nexuscore/internal/agent/context"
	"github.com/nexuscore/nexuscore/internal/bus"
	"github.com/nexuscore/nexuscore/internal/config"
	"github.com/nexuscore/nexuscore/internal/ipcserver"
	"github.com/nexuscore/nexuscore/internal/lifecycle"
	"github.com/nexuscore/nexuscore/internal/provider"
	"github.com/nexuscore/nexuscore/internal/scheduler"
	"github.com/nexuscore/nexuscore/internal/sessions"
	"github.com/nexuscore/nexuscore/internal/telemetry"
	"github.com/nexuscore/nexuscore/internal/tools"
	"github.com/nexuscore/nexuscore/internal/workflow"
	"github.com/nexuscore/nexuscore/internal/workspace"
)

// Daemon owns every long-lived subsystem for one process and the
// orchestrator that sequences their start/stop.
type Daemon struct {
	Config *config.Config
	Logger *slog.Logger

	Bus       *bus.Bus
	Provider  provider.Provider
	Workspace *workspace.Manager
	Sessions  sessions.Store
	Tools     *tools.Registry
	Builder   *agentcontext.Builder
	Workflows *workflow.Registry
	RunStore  *workflow.RunStore
	Engine    *workflow.Engine
	Loop      *agent.Loop
	IPC       *ipcserver.Server
	Scheduler *scheduler.Scheduler
	Metrics   *telemetry.Metrics
	Tracer    *telemetry.Tracer

	orchestrator   *lifecycle.Orchestrator
	tracerShutdown func(context.Context) error
	stopWatch      func() error
	stopMetrics    chan struct{}
	stopCleanup    chan struct{}
	metricsSrv     *http.Server
}

// Build constructs every subsystem for cfg without starting any of
// them. Call Run (or Start/Stop directly) to bring the process up.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{Config: cfg, Logger: logger}

	d.Metrics = telemetry.New(nil)
	tracer, tracerShutdown, err := telemetry.NewTracer(ctx, telemetry.TraceConfig{
		ServiceName: "nexuscore",
		Endpoint:    cfg.Telemetry.TraceEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: tracer: %w", err)
	}
	d.Tracer = tracer
	d.tracerShutdown = tracerShutdown

	d.Bus = bus.New(bus.WithLogger(logger))

	d.Provider, err = buildProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("daemon: provider: %w", err)
	}
	if cfg.LLM.RequirePreflight {
		if err := provider.Preflight(ctx, d.Provider); err != nil {
			return nil, fmt.Errorf("daemon: provider preflight: %w", err)
		}
	}

	d.Workspace, err = workspace.New(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("daemon: workspace: %w", err)
	}

	sessionStore, err := sessions.NewJSONLStore(cfg.Session.Dir)
	if err != nil {
		return nil, fmt.Errorf("daemon: session store: %w", err)
	}
	d.Sessions = sessionStore
	summarizer := sessions.NewLLMSummarizer(d.Provider, defaultModel(cfg.LLM))
	compactor := sessions.NewCompactor(d.Sessions, summarizer, cfg.Session.ConversationTokenLimit,
		cfg.Context.CharsPerToken, cfg.Session.SummaryMaxChars)

	policy := tools.NewPolicy(cfg.Tools.Policy.DenyPatterns)
	d.Tools = tools.NewRegistry(policy)
	d.Tools.SetTelemetry(d.Metrics, d.Tracer)
	rollback := tools.NewRollbackJournal(d.Workspace)
	registerBuiltinTools(d.Tools, d.Workspace, rollback, cfg.Tools)

	estimator := agentcontext.NewEstimator(cfg.Context.CharsPerToken, cfg.Context.SafetyMargin, nil)
	d.Builder = agentcontext.NewBuilder(agentcontext.Budgets{
		ContextLimit:           cfg.Context.ContextLimit,
		OutputReserve:          cfg.Context.OutputReserve,
		CompletionSafetyBuffer: cfg.Context.CompletionSafetyBuffer,
		LayerBudgets:           cfg.Context.LayerBudgets,
	}, estimator)

	d.Workflows = workflow.NewRegistry()
	if err := d.Workflows.LoadDir(cfg.Workflows.Dir); err != nil {
		logger.Warn("no workflows loaded", "dir", cfg.Workflows.Dir, "error", err)
	}
	d.RunStore, err = workflow.NewRunStore(cfg.Workflows.RunsDir)
	if err != nil {
		return nil, fmt.Errorf("daemon: run store: %w", err)
	}
	d.Engine = workflow.NewEngine(d.Workflows, d.RunStore, d.Workspace, d.Bus, cfg.Workflows.DefaultStepTimeout, logger)
	d.Engine.SetTelemetry(d.Metrics, d.Tracer)

	d.Loop = agent.NewLoop(agent.LoopConfig{
		MaxToolCallsPerStep:        cfg.Turn.MaxToolCallsPerStep,
		MaxContinuations:           cfg.Turn.MaxContinuations,
		RetryLimit:                 cfg.Turn.RetryLimit,
		TurnTimeout:                cfg.Turn.TurnTimeout,
		Model:                      defaultModel(cfg.LLM),
		IncludeToolSchemasInPrompt: true,
	}, d.Provider, d.Tools, rollback, d.Builder, d.Bus, d.Sessions, compactor, logger)
	d.Loop.SetPromptLayers(agent.NewWorkspaceLayerLoader(d.Workspace))
	d.Loop.SetTelemetry(d.Metrics, d.Tracer)
	// The engine subscribes to user:input ahead of the loop, so a reply
	// meant for a parked wait_for_input or approval step is consumed
	// there and the loop must skip it.
	d.Loop.SetInputClaimer(d.Engine.ClaimedInput)
	d.Loop.SetSkillLoader(func(name string) (string, bool) {
		content, err := d.Workspace.ReadTextFile("skills", name+".md")
		if err != nil {
			return "", false
		}
		return content, true
	})

	d.IPC = ipcserver.New(ipcserver.Config{Network: cfg.IPC.Network, Address: cfg.IPC.Address}, d.Bus, logger)

	d.Scheduler = scheduler.New(d.Bus, logger)
	for _, entry := range cfg.Scheduler.Entries {
		if err := d.Scheduler.AddEntry(scheduler.Entry{
			ID:         entry.ID,
			Expr:       entry.Expr,
			SessionID:  entry.SessionID,
			WorkflowID: entry.WorkflowID,
			Text:       entry.Text,
			Args:       entry.Args,
		}); err != nil {
			return nil, fmt.Errorf("daemon: scheduler entry %q: %w", entry.ID, err)
		}
	}

	d.orchestrator = lifecycle.New(logger)
	d.registerComponents()

	return d, nil
}

// registerComponents wires every started-and-stopped subsystem into the
// orchestrator in the order spec.md §4.3 specifies: workflow engine,
// turn loop, IPC server, scheduler, followed by the workflow watcher,
// workspace cleanup, metrics server and metrics poller.
func (d *Daemon) registerComponents() {
	d.orchestrator.Register(&lifecycle.SimpleComponent{
		ComponentName: "workflow-engine",
		StartFunc: func(ctx context.Context) error {
			d.Engine.Start(ctx)
			return d.Engine.Restore(ctx)
		},
		StopFunc: func(context.Context) error {
			d.Engine.Stop()
			return nil
		},
	})
	d.orchestrator.Register(&lifecycle.SimpleComponent{
		ComponentName: "turn-loop",
		StartFunc: func(ctx context.Context) error {
			d.Loop.Start(ctx)
			return nil
		},
		StopFunc: func(context.Context) error {
			d.Loop.Stop()
			return nil
		},
	})
	d.orchestrator.Register(d.IPC)
	d.orchestrator.Register(d.Scheduler)
	d.orchestrator.Register(&lifecycle.SimpleComponent{
		ComponentName: "workflow-watch",
		StartFunc: func(ctx context.Context) error {
			stop, err := d.Workflows.Watch(ctx, d.Config.Workflows.Dir, d.Logger)
			if err != nil {
				d.Logger.Warn("workflow hot-reload disabled", "dir", d.Config.Workflows.Dir, "error", err)
				return nil
			}
			d.stopWatch = stop
			return nil
		},
		StopFunc: func(context.Context) error {
			if d.stopWatch != nil {
				return d.stopWatch()
			}
			return nil
		},
	})
	d.orchestrator.Register(&lifecycle.SimpleComponent{
		ComponentName: "workspace-cleanup",
		StartFunc: func(ctx context.Context) error {
			// Sweeping deletes user files, so it only ever runs when the
			// operator set a threshold explicitly.
			if d.Config.Workspace.CleanupAfter <= 0 {
				return nil
			}
			d.stopCleanup = make(chan struct{})
			go d.sweepWorkspace(d.stopCleanup)
			return nil
		},
		StopFunc: func(context.Context) error {
			if d.stopCleanup != nil {
				close(d.stopCleanup)
			}
			return nil
		},
	})
	d.orchestrator.Register(&lifecycle.SimpleComponent{
		ComponentName: "metrics-server",
		StartFunc: func(ctx context.Context) error {
			addr := d.Config.Telemetry.MetricsAddr
			if addr == "" {
				return nil
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			d.metricsSrv = &http.Server{Handler: mux}
			go func() {
				if err := d.metricsSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
					d.Logger.Error("metrics server failed", "error", err)
				}
			}()
			d.Logger.Info("metrics endpoint listening", "addr", addr)
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			if d.metricsSrv == nil {
				return nil
			}
			return d.metricsSrv.Shutdown(ctx)
		},
	})
	d.orchestrator.Register(&lifecycle.SimpleComponent{
		ComponentName: "metrics-poller",
		StartFunc: func(ctx context.Context) error {
			d.stopMetrics = make(chan struct{})
			go d.pollBusQueueDepth(d.stopMetrics)
			return nil
		},
		StopFunc: func(context.Context) error {
			if d.stopMetrics != nil {
				close(d.stopMetrics)
			}
			return nil
		},
	})
}

// sweepWorkspace periodically removes workspace entries older than the
// configured threshold until stop is closed.
func (d *Daemon) sweepWorkspace(stop chan struct{}) {
	ticker := time.NewTicker(d.Config.Workspace.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed, err := d.Workspace.Cleanup(d.Config.Workspace.CleanupAfter)
			if err != nil {
				d.Logger.Error("workspace cleanup failed", "error", err)
				continue
			}
			if len(removed) > 0 {
				d.Logger.Info("workspace cleanup removed stale entries", "count", len(removed))
			}
		case <-stop:
			return
		}
	}
}

// pollBusQueueDepth samples the bus's pending queue length into the
// BusQueueDepth gauge until stop is closed.
func (d *Daemon) pollBusQueueDepth(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.Metrics.BusQueueDepth.Set(float64(d.Bus.QueueDepth()))
		case <-stop:
			return
		}
	}
}

// Start brings up every registered component in order.
func (d *Daemon) Start(ctx context.Context) error {
	return d.orchestrator.Start(ctx)
}

// Stop tears down the process: stop accepting IPC connections first so
// no new work arrives, drain and stop the bus so queued events finish
// delivering, then stop every component in reverse registration order
// (the periodic helpers, scheduler, IPC client disconnect, loop,
// engine) and finally the
// tracer provider.
func (d *Daemon) Stop(ctx context.Context) error {
	if acceptErr := d.IPC.StopAccepting(); acceptErr != nil {
		d.Logger.Warn("stop accepting ipc connections", "error", acceptErr)
	}
	err := lifecycle.DrainAndStopBus(ctx, d.Bus, 0)
	if stopErr := d.orchestrator.Stop(ctx); stopErr != nil && err == nil {
		err = stopErr
	}
	if d.tracerShutdown != nil {
		if shutdownErr := d.tracerShutdown(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}
	return err
}

// Run starts every component and blocks until a shutdown signal arrives
// or ctx is cancelled, then runs the full Stop sequence bounded by the
// turn timeout. Repeated signals while the shutdown is in progress are
// ignored.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), d.Config.Turn.TurnTimeout)
	defer cancel()
	return d.Stop(stopCtx)
}

func defaultModel(cfg config.LLMConfig) string {
	if p, ok := cfg.Providers[cfg.DefaultProvider]; ok && p.DefaultModel != "" {
		return p.DefaultModel
	}
	return ""
}

func buildProvider(cfg config.LLMConfig) (provider.Provider, error) {
	pcfg, ok := cfg.Providers[cfg.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("no provider configured for %q", cfg.DefaultProvider)
	}

	switch cfg.DefaultProvider {
	case "openai":
		return provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:       pcfg.APIKey,
			BaseURL:      pcfg.BaseURL,
			DefaultModel: pcfg.DefaultModel,
		})
	default:
		return provider.NewAnthropic(provider.AnthropicConfig{
			APIKey:       pcfg.APIKey,
			BaseURL:      pcfg.BaseURL,
			DefaultModel: pcfg.DefaultModel,
		})
	}
}

func registerBuiltinTools(registry *tools.Registry, ws *workspace.Manager, rollback *tools.RollbackJournal, cfg config.ToolsConfig) {
	registry.Register(tools.NewReadTool(ws, 0))
	registry.Register(tools.NewWriteTool(ws, rollback))
	registry.Register(tools.NewEditTool(ws, rollback))
	registry.Register(tools.NewPatchTool(ws, rollback))
	registry.Register(tools.NewBashTool(ws, cfg.Timeout))
}
