// Package eventbus is an in-process typed publish/subscribe bus. Every topic
// has exactly one subscriber whose handler runs on a dedicated goroutine and
// sees messages in publication order.
package eventbus

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	defaultCapacity = 4096
	defaultIdleWait = 100 * time.Millisecond
)

// Topic names a stream of messages of type T.
type Topic[T any] struct {
	name string
}

// NewTopic declares a topic. Topics with the same name refer to the same stream.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

func (t Topic[T]) Name() string {
	return t.name
}

// Option configures a Bus.
type Option func(*Bus)

// WithCapacity sets the per-topic ring buffer size. It must be a power of 2.
func WithCapacity(capacity int64) Option {
	return func(bus *Bus) {
		bus.capacity = capacity
	}
}

// WithIdleWait sets how long an idle consumer parks before it re-checks its topic.
func WithIdleWait(d time.Duration) Option {
	return func(bus *Bus) {
		if d > 0 {
			bus.idleWait = d
		}
	}
}

type subscription interface {
	Shutdown(ctx context.Context) error
	GetPendingEvents() int64
}

// Bus routes messages from any number of producers to one consumer per topic.
type Bus struct {
	mu       sync.RWMutex
	closed   bool
	topics   map[string]subscription
	capacity int64
	idleWait time.Duration
}

// New creates an open Bus.
func New(opts ...Option) *Bus {
	bus := &Bus{
		topics:   make(map[string]subscription),
		capacity: defaultCapacity,
		idleWait: defaultIdleWait,
	}

	for _, opt := range opts {
		opt(bus)
	}

	if bus.capacity <= 0 || (bus.capacity&(bus.capacity-1)) != 0 {
		panic("eventbus: capacity must be a power of 2")
	}

	return bus
}

// Subscribe registers handler as the only consumer of topic and starts its goroutine.
func Subscribe[T any](bus *Bus, topic Topic[T], handler func(T)) error {
	if handler == nil {
		panic("eventbus: nil handler")
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()

	if bus.closed {
		return ErrClosed
	}

	if _, ok := bus.topics[topic.name]; ok {
		return ErrDuplicateSubscription
	}

	rb := NewRingBuffer[T](bus.capacity, HandlerFunc[T](func(msg *T) {
		handler(*msg)
	}))
	rb.idleWait = bus.idleWait
	rb.name = topic.name

	bus.topics[topic.name] = rb
	go rb.Run()

	logger.Debug("topic subscribed", "topic", topic.name)
	return nil
}

// Publish enqueues msg for the subscriber of topic and returns without waiting for it to be handled.
// While the topic buffer is full Publish waits for the subscriber to catch up.
// Messages published with no subscriber are dropped and ErrNoSubscriber is returned.
func Publish[T any](bus *Bus, topic Topic[T], msg T) error {
	rb, err := ringOf(bus, topic)
	if err != nil {
		return err
	}

	if !rb.Publish(msg) {
		return ErrClosed
	}
	return nil
}

// TryPublish is Publish without waiting: a full topic buffer returns ErrFull
// and msg is not enqueued.
func TryPublish[T any](bus *Bus, topic Topic[T], msg T) error {
	rb, err := ringOf(bus, topic)
	if err != nil {
		return err
	}
	return rb.TryPublish(msg)
}

func ringOf[T any](bus *Bus, topic Topic[T]) (*RingBuffer[T], error) {
	bus.mu.RLock()
	if bus.closed {
		bus.mu.RUnlock()
		return nil, ErrClosed
	}
	sub, ok := bus.topics[topic.name]
	bus.mu.RUnlock()

	if !ok {
		return nil, ErrNoSubscriber
	}

	rb, ok := sub.(*RingBuffer[T])
	if !ok {
		return nil, ErrTopicType
	}
	return rb, nil
}

// Pending returns the number of messages of a topic not yet handled.
func (bus *Bus) Pending(name string) int64 {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	sub, ok := bus.topics[name]
	if !ok {
		return 0
	}
	return sub.GetPendingEvents()
}

// Topics lists the subscribed topic names, sorted.
func (bus *Bus) Topics() []string {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	names := make([]string, 0, len(bus.topics))
	for name := range bus.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops accepting messages and waits until every topic has handled what was
// already published. Later calls return ErrClosed.
func (bus *Bus) Close(ctx context.Context) error {
	bus.mu.Lock()
	if bus.closed {
		bus.mu.Unlock()
		return ErrClosed
	}
	bus.closed = true
	topics := make(map[string]subscription, len(bus.topics))
	for name, sub := range bus.topics {
		topics[name] = sub
	}
	bus.mu.Unlock()

	var wg sync.WaitGroup
	var errs []error
	var errMu sync.Mutex

	for name, sub := range topics {
		wg.Add(1)
		go func(name string, sub subscription) {
			defer wg.Done()
			if err := sub.Shutdown(ctx); err != nil {
				logger.Error("topic close failed", "topic", name, "error", err)
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(name, sub)
	}

	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
