// Package lifecycle wires the deterministic startup and reverse-ordered
// shutdown sequence that the runtime's components follow.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Component is a named, idempotent-start/stop subsystem managed by an
// Orchestrator. Start and Stop must tolerate being called more than once.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SimpleComponent adapts a pair of plain functions into a Component.
type SimpleComponent struct {
	ComponentName string
	StartFunc     func(ctx context.Context) error
	StopFunc      func(ctx context.Context) error
}

func (s *SimpleComponent) Name() string { return s.ComponentName }

func (s *SimpleComponent) Start(ctx context.Context) error {
	if s.StartFunc == nil {
		return nil
	}
	return s.StartFunc(ctx)
}

func (s *SimpleComponent) Stop(ctx context.Context) error {
	if s.StopFunc == nil {
		return nil
	}
	return s.StopFunc(ctx)
}

// Orchestrator starts registered components in registration order and
// stops them in reverse order. A failed Start rolls back every component
// that had already started, in reverse order, before returning the error.
//
// Callers register components in the dependency order specified by
// SPEC_FULL.md §4.3: config → bus → provider → parser → session memory →
// workspace manager → workflow registry → workflow engine → tool registry
// → turn loop → IPC server → scheduler.
type Orchestrator struct {
	mu         sync.Mutex
	components []Component
	logger     *slog.Logger
	started    atomic.Bool
}

// New creates an Orchestrator.
func New(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{logger: logger}
}

// Register appends a component to the managed set.
func (o *Orchestrator) Register(c Component) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.components = append(o.components, c)
}

// Start starts every registered component in order. On failure it stops
// everything already started, in reverse order, and returns the original
// error. Calling Start again after a successful start is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return nil
	}

	o.mu.Lock()
	components := append([]Component(nil), o.components...)
	o.mu.Unlock()

	started := make([]Component, 0, len(components))
	for _, c := range components {
		o.logger.Info("starting component", "component", c.Name())
		if err := c.Start(ctx); err != nil {
			o.logger.Error("component failed to start", "component", c.Name(), "error", err)
			for i := len(started) - 1; i >= 0; i-- {
				if stopErr := started[i].Stop(ctx); stopErr != nil {
					o.logger.Error("rollback stop failed", "component", started[i].Name(), "error", stopErr)
				}
			}
			o.started.Store(false)
			return fmt.Errorf("lifecycle: component %s failed to start: %w", c.Name(), err)
		}
		started = append(started, c)
	}

	o.logger.Info("all components started", "count", len(started))
	return nil
}

// Stop stops every registered component in reverse order, collecting and
// returning any errors. Calling Stop before a successful Start, or more
// than once, is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if !o.started.CompareAndSwap(true, false) {
		return nil
	}

	o.mu.Lock()
	components := append([]Component(nil), o.components...)
	o.mu.Unlock()

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		o.logger.Info("stopping component", "component", c.Name())
		if err := c.Stop(ctx); err != nil {
			o.logger.Error("component failed to stop", "component", c.Name(), "error", err)
			errs = append(errs, fmt.Errorf("component %s: %w", c.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("lifecycle: errors stopping components: %v", errs)
	}
	o.logger.Info("all components stopped")
	return nil
}

// RunUntilSignal starts the orchestrator, blocks until SIGINT/SIGTERM or
// ctx is cancelled, then runs a bounded shutdown. Re-entrant signals while
// a shutdown is already in progress are ignored. It returns the error from
// Start (if startup failed) or from Stop (if shutdown failed).
func RunUntilSignal(ctx context.Context, o *Orchestrator, shutdownTimeout time.Duration) error {
	if err := o.Start(ctx); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return o.Stop(stopCtx)
}

// DrainBus is satisfied by *bus.Bus; declared here to avoid an import
// cycle between lifecycle and bus while still documenting the shutdown
// contract's "drain bus queue (bounded by shutdownTimeoutMs)" step.
type DrainBus interface {
	QueueDepth() int
	Stop(ctx context.Context) error
}

// DrainAndStopBus waits for b's queue to empty (or ctx to expire) and then
// stops it. It is the lifecycle shutdown sequence's bus-drain step,
// invoked ahead of the orchestrator's own reverse-order component stop.
func DrainAndStopBus(ctx context.Context, b DrainBus, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for b.QueueDepth() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.Stop(ctx)
}
