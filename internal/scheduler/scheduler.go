// Package scheduler emits schedule:trigger bus events on a cron
// schedule, the periodic-workflow/turn trigger source named in
// spec.md's closed event-type set. It is grounded on
// internal/tasks/scheduler.go's worker, generalized from that teacher's
// own task-execution call into a plain bus emission: dispatch is the
// workflow engine's or turn loop's job once the event lands, not the
// scheduler's.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/nexuscore/nexuscore/internal/bus"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// cronParser supports both standard (5-field) and extended (6-field
// with seconds) cron expressions, matching the teacher's own parser
// configuration.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Entry is one registered periodic trigger.
type Entry struct {
	ID         string
	Expr       string
	SessionID  string
	WorkflowID string
	Text       string
	Args       map[string]any
}

// Scheduler wraps a robfig/cron runner, translating each entry's fire
// into a schedule:trigger event on the bus.
type Scheduler struct {
	cron   *cron.Cron
	bus    *bus.Bus
	logger *slog.Logger

	mu      sync.Mutex
	entryID map[string]cron.EntryID
}

// New creates a Scheduler bound to b.
func New(b *bus.Bus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithParser(cronParser)),
		bus:     b,
		logger:  logger,
		entryID: make(map[string]cron.EntryID),
	}
}

// AddEntry validates e.Expr and registers it. It is safe to call before
// or after Start.
func (s *Scheduler) AddEntry(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("scheduler: entry id is required")
	}
	if _, err := cronParser.Parse(e.Expr); err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q: %w", e.Expr, err)
	}

	id, err := s.cron.AddFunc(e.Expr, func() { s.fire(e) })
	if err != nil {
		return fmt.Errorf("scheduler: register entry %q: %w", e.ID, err)
	}

	s.mu.Lock()
	s.entryID[e.ID] = id
	s.mu.Unlock()
	return nil
}

// RemoveEntry unregisters a previously added entry. It is a no-op if no
// entry with that id is registered.
func (s *Scheduler) RemoveEntry(id string) {
	s.mu.Lock()
	cronID, ok := s.entryID[id]
	if ok {
		delete(s.entryID, id)
	}
	s.mu.Unlock()
	if ok {
		s.cron.Remove(cronID)
	}
}

func (s *Scheduler) fire(e Entry) {
	sessionID := e.SessionID
	if sessionID == "" {
		sessionID = "scheduler"
	}
	event := models.Event{
		Type:      models.EventScheduleTrigger,
		Channel:   models.ChannelSystem,
		SessionID: sessionID,
		Content: models.ScheduleTriggerContent{
			EntryID:    e.ID,
			WorkflowID: e.WorkflowID,
			Text:       e.Text,
			Args:       e.Args,
		},
	}
	if _, err := s.bus.Emit(context.Background(), event); err != nil {
		s.logger.Error("scheduler: emit schedule:trigger failed", "entryId", e.ID, "error", err)
	}
}

// Start begins running registered entries. Safe to call once; entries
// added afterward take effect immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.cron.Entries()))
	return nil
}

// Stop halts the cron runner, blocking until any in-flight fire
// callback returns (bounded by ctx).
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name satisfies lifecycle.Component.
func (s *Scheduler) Name() string { return "scheduler" }
