package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nexuscore/nexuscore/pkg/models"
)

func TestEmitRejectsUnknownType(t *testing.T) {
	b := New()
	defer b.Stop(context.Background())

	_, err := b.Emit(context.Background(), models.Event{Type: "bogus:type"})
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestEmitNormalizesDefaults(t *testing.T) {
	b := New()
	defer b.Stop(context.Background())

	var got models.Event
	b.Subscribe(models.EventUserInput, func(_ context.Context, e models.Event) error {
		got = e
		return nil
	})

	event, err := b.Emit(context.Background(), models.Event{Type: models.EventUserInput})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Channel != models.ChannelSystem {
		t.Errorf("expected default channel, got %q", event.Channel)
	}
	if event.SessionID == "" {
		t.Error("expected default sessionId to be set")
	}
	if event.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if got.Type != models.EventUserInput {
		t.Errorf("handler did not receive event")
	}
}

func TestTypedHandlersFireBeforeWildcard(t *testing.T) {
	b := New()
	defer b.Stop(context.Background())

	var order []string
	var mu sync.Mutex
	record := func(name string) Handler {
		return func(_ context.Context, _ models.Event) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	b.Subscribe("*", record("wildcard"))
	b.Subscribe(models.EventUserInput, record("typed"))

	if _, err := b.Emit(context.Background(), models.Event{Type: models.EventUserInput}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "typed" || order[1] != "wildcard" {
		t.Fatalf("expected typed before wildcard, got %v", order)
	}
}

func TestEmitSerializesDelivery(t *testing.T) {
	b := New()
	defer b.Stop(context.Background())

	var active int32
	var maxActive int32
	var mu sync.Mutex

	b.Subscribe(models.EventUserInput, func(_ context.Context, _ models.Event) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit(context.Background(), models.Event{Type: models.EventUserInput})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected serialized delivery (max 1 concurrent handler), got %d", maxActive)
	}
}

func TestEmitReturnsHandlerError(t *testing.T) {
	b := New()
	defer b.Stop(context.Background())

	wantErr := errors.New("boom")
	b.Subscribe(models.EventUserInput, func(_ context.Context, _ models.Event) error {
		return wantErr
	})

	_, err := b.Emit(context.Background(), models.Event{Type: models.EventUserInput})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestHandlerErrorIsolatedPerEmission(t *testing.T) {
	b := New()
	defer b.Stop(context.Background())

	b.Subscribe(models.EventUserInput, func(_ context.Context, _ models.Event) error {
		return errors.New("fails once")
	})

	var secondCalled bool
	if _, err := b.Emit(context.Background(), models.Event{Type: models.EventUserInput}); err == nil {
		t.Fatal("expected first emission to fail")
	}

	unsub := b.Subscribe(models.EventUserInput, func(_ context.Context, _ models.Event) error {
		secondCalled = true
		return nil
	})
	defer unsub()

	if _, err := b.Emit(context.Background(), models.Event{Type: models.EventUserInput}); err == nil {
		t.Fatal("expected second emission to still fail from the first handler")
	}
	if !secondCalled {
		t.Error("second handler should still have run despite the first handler's error")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Stop(context.Background())

	var calls int
	unsub := b.Subscribe(models.EventUserInput, func(_ context.Context, _ models.Event) error {
		calls++
		return nil
	})
	unsub()

	if _, err := b.Emit(context.Background(), models.Event{Type: models.EventUserInput}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected 0 calls after unsubscribe, got %d", calls)
	}
}

func TestQueueDepthAndStop(t *testing.T) {
	b := New(WithQueueCapacity(4))

	block := make(chan struct{})
	b.Subscribe(models.EventUserInput, func(_ context.Context, _ models.Event) error {
		<-block
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Emit(context.Background(), models.Event{Type: models.EventUserInput})
	}()

	time.Sleep(5 * time.Millisecond)
	close(block)
	wg.Wait()

	if depth := b.QueueDepth(); depth != 0 {
		t.Fatalf("expected an empty queue after delivery, got depth %d", depth)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
}
