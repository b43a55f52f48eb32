package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nexuscore/nexuscore/internal/bus"
	"github.com/nexuscore/nexuscore/pkg/models"
)

func TestAddEntryRejectsInvalidExpression(t *testing.T) {
	b := bus.New()
	defer b.Stop(context.Background())

	s := New(b, nil)
	if err := s.AddEntry(Entry{ID: "bad", Expr: "not a cron expr"}); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestSchedulerFiresScheduleTrigger(t *testing.T) {
	b := bus.New()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Stop(ctx)
	}()

	received := make(chan models.Event, 1)
	b.Subscribe(models.EventScheduleTrigger, func(_ context.Context, e models.Event) error {
		received <- e
		return nil
	})

	s := New(b, nil)
	if err := s.AddEntry(Entry{ID: "every-second", Expr: "* * * * * *", WorkflowID: "demo", SessionID: "sched-1"}); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	select {
	case e := <-received:
		content, ok := e.Content.(models.ScheduleTriggerContent)
		if !ok || content.EntryID != "every-second" || content.WorkflowID != "demo" {
			t.Fatalf("unexpected content: %+v", e.Content)
		}
		if e.SessionID != "sched-1" {
			t.Fatalf("expected sessionId sched-1, got %s", e.SessionID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for schedule:trigger")
	}
}

func TestRemoveEntryStopsFutureFires(t *testing.T) {
	b := bus.New()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Stop(ctx)
	}()

	s := New(b, nil)
	if err := s.AddEntry(Entry{ID: "e1", Expr: "* * * * * *"}); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	s.RemoveEntry("e1")

	if len(s.cron.Entries()) != 0 {
		t.Fatalf("expected 0 entries after removal, got %d", len(s.cron.Entries()))
	}
}
