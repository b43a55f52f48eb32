// Package bus implements the process-wide serialized event dispatcher that
// every other subsystem (turn loop, workflow engine, IPC server) subscribes
// to and publishes through.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// Handler processes one delivered event. A returned error is isolated to
// this emission: it never propagates to other queued events or to other
// handlers for the same event.
type Handler func(ctx context.Context, event models.Event) error

// Unsubscribe removes a previously registered handler.
type Unsubscribe func()

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a single-consumer, FIFO, strictly serialized event dispatcher.
// At most one handler runs at a time; the next queued event is not
// delivered until every handler for the current event has completed.
type Bus struct {
	mu       sync.Mutex
	typed    map[models.EventType][]subscription
	wildcard []subscription
	nextSub  uint64

	queue   chan queuedEvent
	logger  *slog.Logger
	drained chan struct{}

	closeMu  sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

type queuedEvent struct {
	event models.Event
	done  chan error
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithLogger overrides the bus's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// WithQueueCapacity sets the buffered channel capacity for pending
// emissions. Emit blocks once the queue is full, which provides natural
// backpressure to producers.
func WithQueueCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan queuedEvent, n)
		}
	}
}

// New creates a Bus and starts its single consumer goroutine. Callers must
// call Stop to drain and release the consumer.
func New(opts ...Option) *Bus {
	b := &Bus{
		typed:   make(map[models.EventType][]subscription),
		logger:  slog.Default(),
		drained: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.queue == nil {
		b.queue = make(chan queuedEvent, 256)
	}
	go b.consume()
	return b
}

// Subscribe registers handler for a specific event type, or "*" for every
// type. Typed handlers fire before wildcard handlers, and handlers of the
// same kind fire in subscription order. The returned Unsubscribe is safe to
// call more than once.
func (b *Bus) Subscribe(eventType models.EventType, handler Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	sub := subscription{id: b.nextSub, handler: handler}

	if eventType == "*" {
		b.wildcard = append(b.wildcard, sub)
		return func() { b.removeWildcard(sub.id) }
	}
	b.typed[eventType] = append(b.typed[eventType], sub)
	return func() { b.removeTyped(eventType, sub.id) }
}

func (b *Bus) removeTyped(eventType models.EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.typed[eventType]
	for i, s := range subs {
		if s.id == id {
			b.typed[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) removeWildcard(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.wildcard {
		if s.id == id {
			b.wildcard = append(b.wildcard[:i], b.wildcard[i+1:]...)
			return
		}
	}
}

// Emit validates, normalizes, and enqueues event, then blocks until every
// handler for it has run to completion. It returns the first handler error
// encountered, if any; later handlers still run regardless.
func (b *Bus) Emit(ctx context.Context, event models.Event) (models.Event, error) {
	if !event.Type.Valid() {
		return event, fmt.Errorf("bus: unknown event type %q", event.Type)
	}
	event = b.normalize(event)

	done := make(chan error, 1)
	qe := queuedEvent{event: event, done: done}

	b.closeMu.RLock()
	if b.closed {
		b.closeMu.RUnlock()
		return event, fmt.Errorf("bus: stopped, rejecting %s", event.Type)
	}
	select {
	case b.queue <- qe:
		b.closeMu.RUnlock()
	case <-ctx.Done():
		b.closeMu.RUnlock()
		return event, ctx.Err()
	}

	select {
	case err := <-done:
		return event, err
	case <-ctx.Done():
		return event, ctx.Err()
	}
}

func (b *Bus) normalize(event models.Event) models.Event {
	if event.Channel == "" {
		event.Channel = models.ChannelSystem
	}
	if event.SessionID == "" {
		event.SessionID = "default"
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return event
}

// QueueDepth returns the number of events currently queued for delivery,
// used by the lifecycle orchestrator's shutdown drain.
func (b *Bus) QueueDepth() int {
	return len(b.queue)
}

// consume is the bus's single delivery goroutine. It dequeues one event at
// a time and runs every matching handler to completion before moving on.
func (b *Bus) consume() {
	for qe := range b.queue {
		err := b.deliver(qe.event)
		qe.done <- err
	}
	close(b.drained)
}

func (b *Bus) deliver(event models.Event) error {
	b.mu.Lock()
	typed := append([]subscription(nil), b.typed[event.Type]...)
	wildcard := append([]subscription(nil), b.wildcard...)
	b.mu.Unlock()

	var firstErr error
	ctx := context.Background()

	for _, sub := range typed {
		if err := b.runHandler(ctx, sub.handler, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, sub := range wildcard {
		if err := b.runHandler(ctx, sub.handler, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Bus) runHandler(ctx context.Context, handler Handler, event models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: handler panicked for %s: %v", event.Type, r)
			b.logger.Error("event handler panicked", "type", event.Type, "recover", r)
		}
	}()
	return handler(ctx, event)
}

// Stop closes the bus to new emissions and waits (bounded by ctx) for the
// queue to drain. It is the lifecycle orchestrator's drain-bus-queue
// step; later Emit calls fail rather than panicking on a closed queue.
func (b *Bus) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.closeMu.Lock()
		b.closed = true
		close(b.queue)
		b.closeMu.Unlock()
	})
	select {
	case <-b.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
