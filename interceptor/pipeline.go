// Package interceptor runs requests and engine reports through an ordered
// chain of stages. Requests walk the chain from low to high priority, every
// other kind walks it from high to low.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenGlobes/Core-sub001/metrics"
	"github.com/OpenGlobes/Core-sub001/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MinPriority is reserved for the terminal response stage.
	MinPriority = math.MinInt32
	// MaxPriority is reserved for the terminal request stage.
	MaxPriority = math.MaxInt32

	DefaultTimeout  = 60 * time.Second
	defaultIdleWait = 100 * time.Millisecond
)

// Interceptor is one stage of the pipeline. ctx expires when the pass budget is used up.
type Interceptor interface {
	Intercept(ctx context.Context, msg *Message) Control
}

// Func adapts a function to Interceptor.
type Func func(ctx context.Context, msg *Message) Control

func (f Func) Intercept(ctx context.Context, msg *Message) Control {
	return f(ctx, msg)
}

// Handle identifies a registered stage.
type Handle uint64

type stage struct {
	handle    Handle
	priority  int
	requests  Kind
	responses Kind
	ic        Interceptor
}

// Result describes one pass.
type Result struct {
	Control Control
	Stages  int
	Elapsed time.Duration
	Err     error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeout sets the budget of one pass.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithIdleWait sets how long the idle worker parks before it re-checks the queues.
func WithIdleWait(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.idleWait = d
		}
	}
}

// WithTracer replaces the tracer taken from the global otel provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

type queues struct {
	requests  []*Message
	trades    []*Message
	responses []*Message
	errors    []*Message
}

func (q *queues) len() int {
	return len(q.requests) + len(q.trades) + len(q.responses) + len(q.errors)
}

// Pipeline holds the stage list and the worker that feeds queued messages through it.
type Pipeline struct {
	mu         sync.RWMutex
	stages     []*stage
	nextHandle Handle

	timeout  time.Duration
	idleWait time.Duration
	tracer   trace.Tracer

	qmu     sync.Mutex
	pending queues
	closed  bool
	signal  chan struct{}
	counts  [4]atomic.Int64 // queued or in-flight messages per kind
	started atomic.Bool
	stopped chan struct{}
}

// New creates a pipeline with no stages. Call Start to run the worker.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		timeout:  DefaultTimeout,
		idleWait: defaultIdleWait,
		tracer:   otel.Tracer("github.com/OpenGlobes/Core-sub001/interceptor"),
		signal:   make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Add registers ic at priority. requests selects the request kinds the stage
// sees on the ascending walk, responses the kinds it sees on the descending walk.
// Stages with equal priority keep their registration order.
func (p *Pipeline) Add(priority int, requests, responses Kind, ic Interceptor) Handle {
	if ic == nil {
		panic("interceptor: nil interceptor")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextHandle++
	s := &stage{
		handle:    p.nextHandle,
		priority:  priority,
		requests:  requests,
		responses: responses,
		ic:        ic,
	}

	idx := len(p.stages)
	for i, existing := range p.stages {
		if existing.priority > priority {
			idx = i
			break
		}
	}

	p.stages = append(p.stages, nil)
	copy(p.stages[idx+1:], p.stages[idx:])
	p.stages[idx] = s

	return s.handle
}

// Remove unregisters a stage. It reports whether the handle was found.
func (p *Pipeline) Remove(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, s := range p.stages {
		if s.handle == h {
			p.stages = append(p.stages[:i], p.stages[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered stages.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stages)
}

// Dispatch runs one pass synchronously.
func (p *Pipeline) Dispatch(ctx context.Context, msg *Message) Result {
	p.mu.RLock()
	defer p.mu.RUnlock()

	start := time.Now()
	deadline := start.Add(p.timeout)

	ctx, span := p.tracer.Start(ctx, "interceptor.dispatch",
		trace.WithAttributes(
			attribute.String("message.kind", msg.Kind.String()),
			attribute.Int64("order.id", int64(msg.OrderID())),
			attribute.String("instrument.id", msg.InstrumentID()),
		),
	)
	defer span.End()

	result := Result{Control: Continue}

	visit := func(s *stage) bool {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			result.Control = Terminate
			result.Err = ErrTimeout
			return false
		}

		result.Stages++
		ctrl, err := p.invoke(ctx, s, msg, remaining)
		if err != nil {
			result.Control = Terminate
			result.Err = err
			return false
		}

		if ctrl != Continue {
			result.Control = ctrl
			return false
		}
		return true
	}

	if msg.Kind == KindRequest {
		for _, s := range p.stages {
			if s.requests&KindRequest != 0 && !visit(s) {
				break
			}
		}
	} else {
		for i := len(p.stages) - 1; i >= 0; i-- {
			s := p.stages[i]
			if s.responses&msg.Kind != 0 && !visit(s) {
				break
			}
		}
	}

	result.Elapsed = time.Since(start)

	span.SetAttributes(
		attribute.Int("pipeline.stages", result.Stages),
		attribute.String("pipeline.control", result.Control.String()),
	)

	outcome := result.Control.String()
	if result.Err != nil {
		outcome = "panic"
		if errors.Is(result.Err, ErrTimeout) {
			outcome = "timeout"
		}
		span.RecordError(result.Err)
	}
	if result.Control == Terminate {
		span.SetStatus(codes.Error, "pass terminated")
		logger.Warn("interceptor pass terminated",
			"kind", msg.Kind.String(),
			"order_id", msg.OrderID(),
			"stages", result.Stages,
			"elapsed", result.Elapsed,
			"error", result.Err,
		)
	}

	metrics.PipelinePasses.WithLabelValues(msg.Kind.String(), outcome).Inc()
	metrics.PipelinePassDuration.WithLabelValues(msg.Kind.String()).Observe(result.Elapsed.Seconds())

	return result
}

// invoke runs one stage with the remaining budget as its deadline. A stage that
// overruns is abandoned; its context is cancelled but the goroutine is not waited for.
func (p *Pipeline) invoke(ctx context.Context, s *stage, msg *Message, remaining time.Duration) (Control, error) {
	stageCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	type outcome struct {
		ctrl Control
		err  error
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("interceptor stage panic", "priority", s.priority, "panic", fmt.Sprint(r))
				done <- outcome{ctrl: Terminate, err: fmt.Errorf("%w: %v", ErrStagePanic, r)}
			}
		}()
		done <- outcome{ctrl: s.ic.Intercept(stageCtx, msg)}
	}()

	select {
	case out := <-done:
		return out.ctrl, out.err
	case <-stageCtx.Done():
		// the stage may have returned right at the deadline
		select {
		case out := <-done:
			return out.ctrl, out.err
		default:
		}
		return Terminate, fmt.Errorf("%w: stage at priority %d: %w", ErrTimeout, s.priority, stageCtx.Err())
	}
}

// EnqueueRequest queues a request for the worker.
func (p *Pipeline) EnqueueRequest(req *protocol.Request) error {
	return p.enqueue(RequestMessage(req))
}

// EnqueueResponse queues an engine response for the worker.
func (p *Pipeline) EnqueueResponse(resp *protocol.Response) error {
	return p.enqueue(ResponseMessage(resp))
}

// EnqueueTrade queues a trade for the worker.
func (p *Pipeline) EnqueueTrade(trade *protocol.Trade) error {
	return p.enqueue(TradeMessage(trade))
}

// EnqueueError queues a request that failed on its way to the engine.
func (p *Pipeline) EnqueueError(req *protocol.Request, err error) error {
	return p.enqueue(ErrorMessage(req, err))
}

func (p *Pipeline) enqueue(msg *Message) error {
	p.qmu.Lock()
	if p.closed {
		p.qmu.Unlock()
		return ErrShutdown
	}

	switch msg.Kind {
	case KindRequest:
		p.pending.requests = append(p.pending.requests, msg)
	case KindTrade:
		p.pending.trades = append(p.pending.trades, msg)
	case KindResponse:
		p.pending.responses = append(p.pending.responses, msg)
	case KindError:
		p.pending.errors = append(p.pending.errors, msg)
	}
	p.counts[kindIndex(msg.Kind)].Add(1)
	p.qmu.Unlock()

	metrics.PipelineQueueDepth.WithLabelValues(msg.Kind.String()).Inc()

	select {
	case p.signal <- struct{}{}:
	default:
	}
	return nil
}

// take swaps out everything queued so far.
func (p *Pipeline) take() (queues, bool) {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	batch := p.pending
	p.pending = queues{}
	return batch, p.closed
}

// Start runs the worker goroutine. Calling it more than once has no effect.
func (p *Pipeline) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run()
}

func (p *Pipeline) run() {
	defer close(p.stopped)

	ticker := time.NewTicker(p.idleWait)
	defer ticker.Stop()

	for {
		batch, closed := p.take()
		if batch.len() == 0 {
			if closed {
				return
			}

			select {
			case <-p.signal:
			case <-ticker.C:
			}
			continue
		}

		p.process(KindRequest, batch.requests)
		p.process(KindTrade, batch.trades)
		p.process(KindResponse, batch.responses)
		p.process(KindError, batch.errors)
	}
}

func (p *Pipeline) process(kind Kind, msgs []*Message) {
	if len(msgs) == 0 {
		return
	}

	gauge := metrics.PipelineQueueDepth.WithLabelValues(kind.String())
	counter := &p.counts[kindIndex(kind)]
	for _, msg := range msgs {
		gauge.Dec()
		p.Dispatch(context.Background(), msg)
		counter.Add(-1)
	}
}

func kindIndex(k Kind) int {
	switch k {
	case KindRequest:
		return 0
	case KindTrade:
		return 1
	case KindResponse:
		return 2
	}
	return 3
}

// Pending returns how many messages of the given kinds are queued or being dispatched.
func (p *Pipeline) Pending(kinds Kind) int64 {
	var total int64
	for _, k := range []Kind{KindRequest, KindTrade, KindResponse, KindError} {
		if kinds&k != 0 {
			total += p.counts[kindIndex(k)].Load()
		}
	}
	return total
}

// Shutdown stops accepting messages and waits until the worker has processed
// everything already queued.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.qmu.Lock()
	p.closed = true
	p.qmu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}

	if !p.started.Load() {
		if batch, _ := p.take(); batch.len() > 0 {
			logger.Warn("pipeline shut down before start, dropping messages", "count", batch.len())
		}
		return nil
	}

	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}
}
