package eventbus

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// EventHandler consumes events in publication order.
// The pointer is only valid for the duration of the call.
type EventHandler[T any] interface {
	OnEvent(event *T)
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc[T any] func(event *T)

func (f HandlerFunc[T]) OnEvent(event *T) {
	f(event)
}

// RingBuffer is a multi-producer single-consumer ring buffer.
// The consumer parks on a wake signal when idle and drains every claimed
// sequence before Run returns on shutdown.
type RingBuffer[T any] struct {
	// Cache line padding to avoid false sharing
	_                [56]byte
	producerSequence atomic.Int64
	_                [56]byte
	consumerSequence atomic.Int64
	_                [56]byte

	// Ring buffer core
	buffer     []T
	bufferMask int64
	capacity   int64

	// Published slice to indicate ready slots
	published []int64

	handler EventHandler[T]

	// Producers between Claim and Commit; the consumer exits only at zero.
	inflight   atomic.Int64
	isShutdown atomic.Bool

	wake     chan struct{}
	idleWait time.Duration

	// Producers parked on a full buffer; the consumer broadcasts after progress.
	fullMu  sync.Mutex
	notFull *sync.Cond
	waiters atomic.Int64

	stopped  chan struct{}
	name     string
}

// NewRingBuffer creates a RingBuffer. capacity must be a power of 2.
func NewRingBuffer[T any](capacity int64, handler EventHandler[T]) *RingBuffer[T] {
	if capacity <= 0 || (capacity&(capacity-1)) != 0 {
		panic("size must be a power of 2")
	}

	rb := &RingBuffer[T]{
		buffer:     make([]T, capacity),
		published:  make([]int64, capacity),
		capacity:   capacity,
		bufferMask: capacity - 1,
		handler:    handler,
		wake:       make(chan struct{}, 1),
		idleWait:   defaultIdleWait,
		stopped:    make(chan struct{}),
	}
	rb.notFull = sync.NewCond(&rb.fullMu)

	rb.producerSequence.Store(-1)
	rb.consumerSequence.Store(-1)

	for i := range rb.published {
		atomic.StoreInt64(&rb.published[i], -1)
	}

	return rb
}

// Claim reserves the next slot, parking while the buffer is full. It returns
// -1 and nil once the buffer is shut down. Every successful Claim must be
// followed by Commit.
func (rb *RingBuffer[T]) Claim() (int64, *T) {
	seq, slot, _ := rb.claim(true)
	return seq, slot
}

// TryClaim is Claim without waiting: it returns ErrFull while the consumer is
// a whole buffer behind and ErrClosed after shutdown.
func (rb *RingBuffer[T]) TryClaim() (int64, *T, error) {
	return rb.claim(false)
}

func (rb *RingBuffer[T]) claim(wait bool) (int64, *T, error) {
	rb.inflight.Add(1)
	if rb.isShutdown.Load() {
		rb.inflight.Add(-1)
		return -1, nil, ErrClosed
	}

	var nextSeq int64
	for {
		currentProducerSeq := rb.producerSequence.Load()
		nextSeq = currentProducerSeq + 1

		// producer may not run more than one buffer ahead of the consumer
		if nextSeq-rb.capacity > rb.consumerSequence.Load() {
			if !wait {
				rb.inflight.Add(-1)
				return -1, nil, ErrFull
			}
			rb.waitNotFull(nextSeq)
			continue
		}

		if rb.producerSequence.CompareAndSwap(currentProducerSeq, nextSeq) {
			break
		}
		runtime.Gosched()
	}

	return nextSeq, &rb.buffer[nextSeq&rb.bufferMask], nil
}

// waitNotFull parks until the consumer has freed the slot for seq.
func (rb *RingBuffer[T]) waitNotFull(seq int64) {
	rb.signal()

	rb.fullMu.Lock()
	rb.waiters.Add(1)
	for seq-rb.capacity > rb.consumerSequence.Load() {
		rb.notFull.Wait()
	}
	rb.waiters.Add(-1)
	rb.fullMu.Unlock()
}

// Commit makes a claimed slot visible to the consumer.
func (rb *RingBuffer[T]) Commit(seq int64) {
	atomic.StoreInt64(&rb.published[seq&rb.bufferMask], seq)
	rb.inflight.Add(-1)
	rb.signal()
}

// Publish copies event into the next slot, waiting for room if the buffer is
// full. It reports false once the buffer is shut down.
func (rb *RingBuffer[T]) Publish(event T) bool {
	seq, slot := rb.Claim()
	if slot == nil {
		return false
	}
	*slot = event
	rb.Commit(seq)
	return true
}

// TryPublish copies event into the next slot without waiting.
func (rb *RingBuffer[T]) TryPublish(event T) error {
	seq, slot, err := rb.TryClaim()
	if err != nil {
		return err
	}
	*slot = event
	rb.Commit(seq)
	return nil
}

func (rb *RingBuffer[T]) signal() {
	select {
	case rb.wake <- struct{}{}:
	default:
	}
}

// Run consumes events until Shutdown is called and every claimed event is handled.
func (rb *RingBuffer[T]) Run() {
	defer close(rb.stopped)

	timer := time.NewTimer(rb.idleWait)
	defer timer.Stop()

	nextConsumerSeq := rb.consumerSequence.Load() + 1
	for {
		if rb.isShutdown.Load() && rb.inflight.Load() == 0 {
			rb.consume(nextConsumerSeq)
			return
		}

		processed := rb.consume(nextConsumerSeq)
		nextConsumerSeq += processed
		if processed > 0 {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(rb.idleWait)

		select {
		case <-rb.wake:
		case <-timer.C:
		}
	}
}

// consume handles every sequence claimed so far and returns how many it handled.
func (rb *RingBuffer[T]) consume(nextConsumerSeq int64) int64 {
	availableSeq := rb.producerSequence.Load()

	var processed int64
	for nextConsumerSeq <= availableSeq {
		index := nextConsumerSeq & rb.bufferMask

		// the slot is claimed but its producer has not committed yet
		for atomic.LoadInt64(&rb.published[index]) != nextConsumerSeq {
			runtime.Gosched()
		}

		rb.dispatch(&rb.buffer[index])

		var zero T
		rb.buffer[index] = zero

		rb.consumerSequence.Store(nextConsumerSeq)
		nextConsumerSeq++
		processed++
	}

	if processed > 0 && rb.waiters.Load() > 0 {
		rb.fullMu.Lock()
		rb.notFull.Broadcast()
		rb.fullMu.Unlock()
	}

	return processed
}

func (rb *RingBuffer[T]) dispatch(event *T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panic", "topic", rb.name, "panic", fmt.Sprint(r))
		}
	}()

	rb.handler.OnEvent(event)
}

// Shutdown stops accepting events and waits until Run has drained the buffer.
func (rb *RingBuffer[T]) Shutdown(ctx context.Context) error {
	rb.isShutdown.Store(true)
	rb.signal()

	select {
	case <-rb.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCloseTimeout, ctx.Err())
	}
}

// ConsumerSequence returns the last handled sequence.
func (rb *RingBuffer[T]) ConsumerSequence() int64 {
	return rb.consumerSequence.Load()
}

// ProducerSequence returns the last claimed sequence.
func (rb *RingBuffer[T]) ProducerSequence() int64 {
	return rb.producerSequence.Load()
}

// GetPendingEvents returns the number of claimed but unhandled events.
func (rb *RingBuffer[T]) GetPendingEvents() int64 {
	producerSeq := rb.producerSequence.Load()
	consumerSeq := rb.consumerSequence.Load()
	return producerSeq - consumerSeq
}
