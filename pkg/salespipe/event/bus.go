package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DeliveryMode selects how a subscription receives events.
type DeliveryMode int

const (
	// Sync handlers run inline on the publisher's goroutine, in
	// subscription order, before Publish returns.
	Sync DeliveryMode = iota

	// Async handlers run on a dedicated delivery goroutine fed by a
	// bounded buffer. A slow async handler never blocks the publisher
	// or other subscriptions.
	Async
)

// Publisher is the producer-side view of the bus.
// Components that only emit events should depend on this interface.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Bus provides in-process pub/sub event distribution.
type Bus interface {
	Publisher

	// Subscribe creates a subscription for specific event types.
	Subscribe(types []string, mode DeliveryMode, handler Handler) Subscription

	// SubscribeAll subscribes to all events.
	SubscribeAll(mode DeliveryMode, handler Handler) Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// ID returns the subscription identifier.
	ID() string

	// Unsubscribe removes the subscription. It is safe to call at any
	// time, including from inside another subscription's handler.
	Unsubscribe()
}

// BusConfig configures bus behavior.
type BusConfig struct {
	// BufferSize is the channel buffer size per async subscription.
	// Default: 256
	BufferSize int

	// Logger receives listener fault and drop logs.
	// Default: slog.Default()
	Logger *slog.Logger

	// OnFault is called when a handler returns an error or panics.
	OnFault func(f *Fault)

	// OnDrop is called when an async buffer is full and an event is dropped.
	OnDrop func(evt Event, subscriberID string)
}

// DefaultBusConfig provides reasonable defaults.
var DefaultBusConfig = BusConfig{
	BufferSize: 256,
}

// LocalBus is an in-memory event bus.
//
// Synchronous subscribers observe events in exact publish order. Async
// subscribers observe events in publish order per subscription, but
// completion order across subscriptions is not guaranteed. Nothing
// survives process restart; durability belongs to whoever needs it.
type LocalBus struct {
	config BusConfig

	mu   sync.RWMutex
	subs []*subscription // in subscription order

	nextID atomic.Int64
	closed atomic.Bool
}

// NewBus creates a new local event bus.
func NewBus(config BusConfig) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig.BufferSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &LocalBus{config: config}
}

// subscription is the internal subscription implementation.
type subscription struct {
	id      string
	types   []string // empty = all types
	mode    DeliveryMode
	handler Handler
	events  chan Event // async only
	done    chan struct{}
	closeFn sync.Once
	removed atomic.Bool
	bus     *LocalBus
}

// Publish delivers an event to all matching subscribers.
//
// A faulting listener is isolated: the fault is logged and reported via
// OnFault, remaining listeners still run, and Publish never returns a
// listener's error.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return &EventError{Event: evt, Message: "bus is closed"}
	}

	b.mu.RLock()
	matching := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(evt.Type()) {
			matching = append(matching, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matching {
		if sub.removed.Load() {
			continue
		}

		switch sub.mode {
		case Sync:
			b.invoke(ctx, sub, evt)
		case Async:
			select {
			case sub.events <- evt:
			default:
				// Buffer full - drop rather than block the publisher
				b.config.Logger.Warn("event dropped",
					slog.String("event_type", evt.Type()),
					slog.String("subscriber", sub.id),
				)
				if b.config.OnDrop != nil {
					b.config.OnDrop(evt, sub.id)
				}
			}
		}
	}

	return nil
}

// Subscribe creates a subscription for specific event types.
func (b *LocalBus) Subscribe(types []string, mode DeliveryMode, handler Handler) Subscription {
	return b.subscribe(types, mode, handler)
}

// SubscribeAll subscribes to all events.
func (b *LocalBus) SubscribeAll(mode DeliveryMode, handler Handler) Subscription {
	return b.subscribe(nil, mode, handler)
}

func (b *LocalBus) subscribe(types []string, mode DeliveryMode, handler Handler) *subscription {
	if b.closed.Load() {
		return nil
	}

	sub := &subscription{
		id:      fmt.Sprintf("sub-%d", b.nextID.Add(1)),
		types:   types,
		mode:    mode,
		handler: handler,
		done:    make(chan struct{}),
		bus:     b,
	}

	if mode == Async {
		sub.events = make(chan Event, b.config.BufferSize)
		go sub.process()
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub
}

// invoke runs a handler, containing errors and panics as listener faults.
func (b *LocalBus) invoke(ctx context.Context, sub *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.fault(&Fault{
				EventID:    evt.ID(),
				EventType:  evt.Type(),
				Subscriber: sub.id,
				Panic:      r,
			})
		}
	}()

	if err := sub.handler.Handle(ctx, evt); err != nil {
		b.fault(&Fault{
			EventID:    evt.ID(),
			EventType:  evt.Type(),
			Subscriber: sub.id,
			Err:        err,
		})
	}
}

func (b *LocalBus) fault(f *Fault) {
	b.config.Logger.Error("listener fault",
		slog.String("event_type", f.EventType),
		slog.String("event_id", f.EventID),
		slog.String("subscriber", f.Subscriber),
		slog.String("error", f.Error()),
	)
	if b.config.OnFault != nil {
		b.config.OnFault(f)
	}
}

// Close shuts down the bus. Buffered async events are discarded.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.closeFn.Do(func() { close(sub.done) })
		sub.removed.Store(true)
	}
	b.subs = nil

	return nil
}

// matches reports whether the subscription wants the given event type.
func (s *subscription) matches(eventType string) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, t := range s.types {
		if t == eventType {
			return true
		}
	}
	return false
}

// process drains events for an async subscription.
func (s *subscription) process() {
	for {
		select {
		case evt := <-s.events:
			s.bus.invoke(context.Background(), s, evt)
		case <-s.done:
			return
		}
	}
}

// ID returns the subscription identifier.
func (s *subscription) ID() string {
	return s.id
}

// Unsubscribe removes the subscription.
func (s *subscription) Unsubscribe() {
	if !s.removed.CompareAndSwap(false, true) {
		return
	}
	s.closeFn.Do(func() { close(s.done) })

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
}
