// Package events carries host lifecycle and integration events. Named
// hooks registered with On run synchronously when a matching event is
// emitted; channel subscribers get a non-blocking broadcast copy of
// every event for status publishing. The bus is nil-safe: Emit and
// Publish on a nil *Bus are no-ops.
package events

import (
	"context"
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceGateway identifies events from the agent host.
	SourceGateway = "gateway"
	// SourceLlamaFarm identifies events from the LlamaFarm integration.
	SourceLlamaFarm = "llamafarm"
)

// Kind constants describe the type of event.
const (
	// KindGatewayStart signals the host has started its gateway.
	// Data: port, mode.
	KindGatewayStart = "gateway_start"
	// KindGatewayStop signals the host is shutting down.
	KindGatewayStop = "gateway_stop"

	// KindServerHealth signals a change in model server reachability.
	// Data: server, ready, error.
	KindServerHealth = "server_health"
	// KindReconciled signals a finished project reconciliation.
	// Data: namespace, project, created, server_healthy, error.
	KindReconciled = "reconciled"
)

// Event represents a single event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Handler is a lifecycle hook.
type Handler func(ctx context.Context, e Event)

// Bus dispatches events to hooks and broadcast subscribers. Slow
// subscribers miss events rather than blocking publishers.
type Bus struct {
	mu    sync.RWMutex
	hooks map[string][]Handler
	subs  map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		hooks:      make(map[string][]Handler),
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// On registers h to run for every event of the given kind. Hooks run
// in registration order on the emitting goroutine.
func (b *Bus) On(kind string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[kind] = append(b.hooks[kind], h)
}

// Emit runs the hooks for e.Kind and then broadcasts e. A zero
// Timestamp is set to now. Safe to call on a nil receiver.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	hooks := append([]Handler(nil), b.hooks[e.Kind]...)
	b.mu.RUnlock()

	for _, h := range hooks {
		h(ctx, e)
	}
	b.Publish(e)
}

// Publish sends an event to all subscribers without running hooks.
// Non-blocking: a full subscriber channel drops the event. Safe to
// call on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// HookCount returns the number of hooks registered for kind.
func (b *Bus) HookCount(kind string) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.hooks[kind])
}
