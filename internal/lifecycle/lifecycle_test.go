package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func recordingComponent(name string, log *[]string, failStart bool) *SimpleComponent {
	return &SimpleComponent{
		ComponentName: name,
		StartFunc: func(_ context.Context) error {
			if failStart {
				return errors.New("boom")
			}
			*log = append(*log, "start:"+name)
			return nil
		},
		StopFunc: func(_ context.Context) error {
			*log = append(*log, "stop:"+name)
			return nil
		},
	}
}

func TestStartOrderThenReverseStop(t *testing.T) {
	var log []string
	o := New(nil)
	o.Register(recordingComponent("a", &log, false))
	o.Register(recordingComponent("b", &log, false))
	o.Register(recordingComponent("c", &log, false))

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("got %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("got %v, want %v", log, want)
		}
	}
}

func TestStartRollsBackOnFailure(t *testing.T) {
	var log []string
	o := New(nil)
	o.Register(recordingComponent("a", &log, false))
	o.Register(recordingComponent("b", &log, true))
	o.Register(recordingComponent("c", &log, false))

	err := o.Start(context.Background())
	if err == nil {
		t.Fatal("expected start error")
	}

	want := []string{"start:a", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("got %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("got %v, want %v", log, want)
		}
	}
}

func TestStartStopIdempotent(t *testing.T) {
	var log []string
	o := New(nil)
	o.Register(recordingComponent("a", &log, false))

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op, got error: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("expected exactly one start, got %v", log)
	}

	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("second stop should be a no-op, got error: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("expected exactly one stop, got %v", log)
	}
}

type fakeBus struct {
	depth     atomic.Int32
	stopCalls atomic.Int32
}

func (f *fakeBus) QueueDepth() int { return int(f.depth.Load()) }
func (f *fakeBus) Stop(_ context.Context) error {
	f.stopCalls.Add(1)
	return nil
}

func TestDrainAndStopBusWaitsForEmptyQueue(t *testing.T) {
	fb := &fakeBus{}
	fb.depth.Store(2)

	done := make(chan error, 1)
	go func() {
		done <- DrainAndStopBus(context.Background(), fb, 0)
	}()

	fb.depth.Store(0)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fb.stopCalls.Load() != 1 {
		t.Fatalf("expected Stop to be called once, got %d", fb.stopCalls.Load())
	}
}
