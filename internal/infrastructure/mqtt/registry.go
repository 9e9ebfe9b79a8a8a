package mqtt

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// Handler is the callback signature for routed deliveries.
//
// Handlers run on the client's dispatch goroutine, one delivery at a time,
// so a slow handler delays every later delivery. They must not block for
// extended periods.
//
// Parameters:
//   - topic: The exact topic the message arrived on
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged, never retried
type Handler func(topic string, payload []byte) error

// subscriber is the broker side of the registry: it establishes and tears
// down topic subscriptions. *Client implements it.
type subscriber interface {
	subscribe(topic string) error
	unsubscribe(topic string) error
}

// Registry maps exact topics to listeners.
//
// A topic has at most one listener; subscribing again replaces it without
// touching the broker. A binding exists only while the broker subscription
// for it succeeded.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handlers are invoked outside the registry lock, so a handler may call
//     Subscribe or Unsubscribe.
type Registry struct {
	broker subscriber

	mu       sync.RWMutex
	handlers map[string]Handler

	onDrop   func(topic string)
	onDropMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newRegistry(broker subscriber, logger Logger) *Registry {
	return &Registry{
		broker:   broker,
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Subscribe binds handler to topic.
//
// The first binding of a topic subscribes at the broker; if that fails the
// binding is rolled back and the error returned. Later bindings of the same
// topic only replace the listener.
func (r *Registry) Subscribe(topic string, handler Handler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[topic]; exists {
		r.handlers[topic] = handler
		r.getLogger().Debug("mqtt listener replaced", "topic", topic)
		return nil
	}

	r.handlers[topic] = handler
	if err := r.broker.subscribe(topic); err != nil {
		delete(r.handlers, topic)
		return err
	}

	return nil
}

// Unsubscribe removes the binding for topic and unsubscribes at the broker.
// Unknown topics are a no-op. The binding is gone even when the broker
// call fails; the error is still returned.
func (r *Registry) Unsubscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[topic]; !exists {
		return nil
	}
	delete(r.handlers, topic)

	return r.broker.unsubscribe(topic)
}

// UnsubscribeAll removes every binding. Broker failures are collected and
// returned together; all bindings are removed regardless.
func (r *Registry) UnsubscribeAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for topic := range r.handlers {
		if err := r.broker.unsubscribe(topic); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", topic, err))
		}
	}
	r.handlers = make(map[string]Handler)

	return errs
}

// OnDelivery routes one inbound message to the listener bound to its exact
// topic. Deliveries for topics without a binding are logged, counted and
// reported to the drop callback; the registry is left unchanged.
func (r *Registry) OnDelivery(topic string, payload []byte) {
	r.mu.RLock()
	handler, ok := r.handlers[topic]
	r.mu.RUnlock()

	if !ok {
		r.dropped.Add(1)
		r.getLogger().Debug("dropping delivery on unsubscribed topic",
			"topic", topic,
			"bytes", len(payload),
		)

		r.onDropMu.RLock()
		onDrop := r.onDrop
		r.onDropMu.RUnlock()
		if onDrop != nil {
			onDrop(topic)
		}
		return
	}

	r.delivered.Add(1)
	r.invoke(handler, topic, payload)
}

// invoke runs a handler with panic recovery.
func (r *Registry) invoke(handler Handler, topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.getLogger().Error("mqtt handler panic recovered",
				"topic", topic,
				"panic", rec,
			)
		}
	}()

	if err := handler(topic, payload); err != nil {
		r.getLogger().Warn("mqtt handler returned error",
			"topic", topic,
			"error", err,
		)
	}
}

// Topics returns the bound topics in lexical order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	r.mu.RUnlock()

	sort.Strings(topics)
	return topics
}

// Has reports whether topic has a listener.
func (r *Registry) Has(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[topic]
	return exists
}

// Len returns the number of bound topics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Delivered returns the number of deliveries handed to a listener.
func (r *Registry) Delivered() uint64 {
	return r.delivered.Load()
}

// Dropped returns the number of deliveries that had no listener.
func (r *Registry) Dropped() uint64 {
	return r.dropped.Load()
}

// SetOnDrop sets a callback invoked for every delivery without a listener.
func (r *Registry) SetOnDrop(callback func(topic string)) {
	r.onDropMu.Lock()
	r.onDrop = callback
	r.onDropMu.Unlock()
}

func (r *Registry) setLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Registry) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}
