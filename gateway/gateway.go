// Package gateway assembles the transaction core: connectors talk to sessions,
// requests travel the bus and the interceptor pipeline to the matching engine,
// and engine reports travel back the same way.
package gateway

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	match "github.com/OpenGlobes/Core-sub001"
	"github.com/OpenGlobes/Core-sub001/eventbus"
	"github.com/OpenGlobes/Core-sub001/interceptor"
	"github.com/OpenGlobes/Core-sub001/metrics"
	"github.com/OpenGlobes/Core-sub001/protocol"
	"github.com/OpenGlobes/Core-sub001/session"
	"github.com/google/uuid"
	"github.com/rs/xid"
)

const (
	// EnrichPriority is where instrument metadata is stamped onto requests.
	EnrichPriority = 0
	// MetricsPriority is where requests and reports are counted.
	MetricsPriority = 100
)

var (
	requestTopic = eventbus.NewTopic[*protocol.Request]("request")
	reportTopic  = eventbus.NewTopic[protocol.Report]("report")
	bookLogTopic = eventbus.NewTopic[*match.OrderBookLog]("book_log")
)

// Option configures a Gateway.
type Option func(*Gateway)

// WithInstruments sets the instrument provider. The default knows no instruments.
func WithInstruments(provider InstrumentProvider) Option {
	return func(g *Gateway) {
		if provider != nil {
			g.instruments = provider
		}
	}
}

func WithBusOptions(opts ...eventbus.Option) Option {
	return func(g *Gateway) {
		g.busOpts = append(g.busOpts, opts...)
	}
}

func WithPipelineOptions(opts ...interceptor.Option) Option {
	return func(g *Gateway) {
		g.pipelineOpts = append(g.pipelineOpts, opts...)
	}
}

func WithBookOptions(opts ...match.OrderBookOption) Option {
	return func(g *Gateway) {
		g.bookOpts = append(g.bookOpts, opts...)
	}
}

// WithIDGenerator sets the generator of internal order ids.
func WithIDGenerator(gen session.IDGenerator) Option {
	return func(g *Gateway) {
		if gen != nil {
			g.idGen = gen
		}
	}
}

// Gateway owns every component of the core and their lifetimes.
type Gateway struct {
	instruments  InstrumentProvider
	idGen        session.IDGenerator
	busOpts      []eventbus.Option
	pipelineOpts []interceptor.Option
	bookOpts     []match.OrderBookOption

	bus        *eventbus.Bus
	pipeline   *interceptor.Pipeline
	engine     *match.MatchingEngine
	correlator *session.Correlator

	sessionsMu sync.Mutex
	sessions   map[uuid.UUID]*session.Session

	depthMu    sync.RWMutex
	depth      map[string]*match.AggregatedBook
	rebuilding sync.Map

	started    atomic.Bool
	stopped    atomic.Bool
	submitting atomic.Int64
}

// New builds a gateway. Call Start before submitting requests.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		instruments: NewStaticInstruments(""),
		idGen:       session.NewSequenceGenerator(0),
		sessions:    make(map[uuid.UUID]*session.Session),
		depth:       make(map[string]*match.AggregatedBook),
	}

	for _, opt := range opts {
		opt(g)
	}

	g.bus = eventbus.New(g.busOpts...)
	g.pipeline = interceptor.New(g.pipelineOpts...)
	g.correlator = session.NewCorrelator(g.idGen)

	bookOpts := append([]match.OrderBookOption{match.WithBookLog(&busBookLog{bus: g.bus})}, g.bookOpts...)
	g.engine = match.NewMatchingEngine(match.PublisherFunc(g.publishReports), match.WithBookOptions(bookOpts...))

	g.pipeline.Add(interceptor.MinPriority, interceptor.KindNone, interceptor.KindAnyResponse, interceptor.Func(g.deliver))
	g.pipeline.Add(EnrichPriority, interceptor.KindRequest, interceptor.KindNone, interceptor.Func(g.enrich))
	g.pipeline.Add(MetricsPriority, interceptor.KindRequest, interceptor.KindAnyResponse, interceptor.Func(countMessage))
	g.pipeline.Add(interceptor.MaxPriority, interceptor.KindRequest, interceptor.KindNone, interceptor.Func(g.submit))

	return g
}

// Pipeline exposes the pipeline so callers can register their own stages.
func (g *Gateway) Pipeline() *interceptor.Pipeline {
	return g.pipeline
}

// Engine exposes the matching engine for read-only queries.
func (g *Gateway) Engine() *match.MatchingEngine {
	return g.engine
}

// Start subscribes the bus topics and runs the pipeline worker.
func (g *Gateway) Start() error {
	if g.stopped.Load() {
		return ErrStopped
	}
	if !g.started.CompareAndSwap(false, true) {
		return nil
	}

	err := errors.Join(
		eventbus.Subscribe(g.bus, requestTopic, g.onRequest),
		eventbus.Subscribe(g.bus, reportTopic, g.onReport),
		eventbus.Subscribe(g.bus, bookLogTopic, g.onBookLog),
	)
	if err != nil {
		return err
	}

	g.pipeline.Start()
	logger.Info("gateway started")
	return nil
}

// NewSession opens a session for connector.
func (g *Gateway) NewSession(connector session.Connector) (*session.Session, error) {
	if g.stopped.Load() {
		return nil, ErrStopped
	}

	sess := session.New(g.correlator, connector, g.dispatch)

	g.sessionsMu.Lock()
	g.sessions[sess.ID()] = sess
	g.sessionsMu.Unlock()

	metrics.SessionsActive.Inc()
	logger.Info("session opened", "session_id", sess.ID().String())
	return sess, nil
}

// CloseSession disposes sess and forgets it.
func (g *Gateway) CloseSession(sess *session.Session) error {
	g.sessionsMu.Lock()
	_, ok := g.sessions[sess.ID()]
	delete(g.sessions, sess.ID())
	g.sessionsMu.Unlock()

	if !ok {
		return ErrUnknownSession
	}

	metrics.SessionsActive.Dec()
	logger.Info("session closed", "session_id", sess.ID().String(), "open_orders", sess.OpenOrders())
	return sess.Dispose()
}

// Submit hands req to the core on behalf of sess. Requests the session layer
// refuses are answered with a REJECTED response; the returned error reports
// lifecycle problems and eventbus.ErrFull when the request topic has no room.
func (g *Gateway) Submit(sess *session.Session, req *protocol.Request) error {
	if req == nil {
		panic("gateway: nil request")
	}

	g.submitting.Add(1)
	defer g.submitting.Add(-1)

	if g.stopped.Load() {
		return ErrStopped
	}
	if !g.started.Load() {
		return ErrNotStarted
	}

	err := sess.Request(req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrWrongOrderID):
		return sess.Reject(req, protocol.StatusCodeOrderNotFound, "")
	case errors.Is(err, session.ErrDuplicateOrder):
		return sess.Reject(req, protocol.StatusCodeDuplicateOrder, "")
	case errors.Is(err, session.ErrInvalidAction):
		return sess.Reject(req, protocol.StatusCodeInvalidRequestType, "")
	}
	return err
}

// Depth returns the aggregated view of an instrument's book.
func (g *Gateway) Depth(instrumentID string, limit uint32) *match.Depth {
	g.depthMu.RLock()
	book, ok := g.depth[instrumentID]
	g.depthMu.RUnlock()

	if !ok {
		return &match.Depth{Asks: []*match.DepthItem{}, Bids: []*match.DepthItem{}}
	}
	return book.Snapshot(limit)
}

// Shutdown lets every accepted request reach the engine, drains the engine,
// delivers its remaining reports and finally tells every session the core stopped.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if !g.stopped.CompareAndSwap(false, true) {
		return ErrStopped
	}

	var errs []error
	if g.started.Load() {
		if err := g.awaitRequests(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := g.engine.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := g.bus.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := g.pipeline.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	g.sessionsMu.Lock()
	for _, sess := range g.sessions {
		sess.NotifyStatus(protocol.StatusGatewayStopped)
	}
	g.sessionsMu.Unlock()

	logger.Info("gateway stopped")
	return errors.Join(errs...)
}

// awaitRequests waits until no request is left between Submit and the engine.
func (g *Gateway) awaitRequests(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		// checked downstream first; a request is counted by the next hop before the previous one lets go
		if g.submitting.Load() == 0 &&
			g.bus.Pending(requestTopic.Name()) == 0 &&
			g.pipeline.Pending(interceptor.KindRequest) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// dispatch never waits on a full request topic; the session rolls the request
// back and the caller sees eventbus.ErrFull.
func (g *Gateway) dispatch(req *protocol.Request) error {
	return eventbus.TryPublish(g.bus, requestTopic, req)
}

func (g *Gateway) onRequest(req *protocol.Request) {
	if err := g.pipeline.EnqueueRequest(req); err != nil {
		logger.Error("failed to enqueue request", "order_id", req.OrderID, "error", err)
	}
}

func (g *Gateway) onReport(report protocol.Report) {
	var err error
	switch {
	case report.Trade != nil:
		err = g.pipeline.EnqueueTrade(report.Trade)
	case report.Response != nil:
		err = g.pipeline.EnqueueResponse(report.Response)
	}
	if err != nil {
		logger.Error("failed to enqueue report", "error", err)
	}
}

func (g *Gateway) publishReports(reports ...protocol.Report) {
	for _, report := range reports {
		if err := eventbus.Publish(g.bus, reportTopic, report); err != nil {
			logger.Error("failed to publish report", "error", err)
		}
	}
}

func (g *Gateway) onBookLog(log *match.OrderBookLog) {
	g.depthMu.Lock()
	book, ok := g.depth[log.InstrumentID]
	if !ok {
		book = match.NewAggregatedBook()
		g.depth[log.InstrumentID] = book
	}
	g.depthMu.Unlock()

	err := book.Replay(log)
	if errors.Is(err, match.ErrSequenceGap) {
		logger.Warn("depth sequence gap", "instrument_id", log.InstrumentID, "sequence_id", log.SequenceID, "last", book.SequenceID())
		if _, busy := g.rebuilding.LoadOrStore(log.InstrumentID, struct{}{}); !busy {
			go g.rebuild(log.InstrumentID, book)
		}
		return
	}
	if err != nil {
		logger.Error("failed to replay book log", "instrument_id", log.InstrumentID, "error", err)
	}
}

// rebuild replaces the aggregated view with a snapshot of the live book.
// It runs off the bus consumer: the book may be waiting on that consumer.
func (g *Gateway) rebuild(instrumentID string, agg *match.AggregatedBook) {
	defer g.rebuilding.Delete(instrumentID)

	book := g.engine.OrderBook(instrumentID)
	if book == nil {
		return
	}

	depth, err := book.Depth(math.MaxUint32)
	if err != nil {
		logger.Error("failed to snapshot book", "instrument_id", instrumentID, "error", err)
		return
	}
	if err := agg.OnRebuild(depth); err != nil {
		logger.Error("failed to rebuild depth", "instrument_id", instrumentID, "error", err)
	}
}

// enrich stamps instrument metadata onto a request or rejects it before it reaches the engine.
func (g *Gateway) enrich(ctx context.Context, msg *interceptor.Message) interceptor.Control {
	req := msg.Request

	ins, err := g.instruments.Instrument(ctx, req.InstrumentID)
	if err != nil {
		code := protocol.StatusCodeInternal
		if errors.Is(err, ErrInstrumentNotFound) {
			code = protocol.StatusCodeInstrumentNotFound
		}
		g.reject(req, code)
		return interceptor.SkipRest
	}

	if req.Action == protocol.ActionNew && ins.PriceTick.IsPositive() && !req.Price.Mod(ins.PriceTick).IsZero() {
		g.reject(req, protocol.StatusCodeInvalidPrice)
		return interceptor.SkipRest
	}

	req.ExchangeID = ins.ExchangeID

	day, err := g.instruments.TradingDay(ctx)
	if err != nil {
		logger.Warn("trading day unavailable", "error", err)
	} else {
		req.TradingDay = day
	}
	return interceptor.Continue
}

// reject answers a request that never reaches the engine. The response keeps
// the internal id so it is routed like any engine response.
func (g *Gateway) reject(req *protocol.Request, code protocol.StatusCode) {
	resp := &protocol.Response{
		ResponseID:    xid.New().String(),
		OrderID:       req.OrderID,
		InstrumentID:  req.InstrumentID,
		Action:        req.Action,
		Direction:     req.Direction,
		Offset:        req.Offset,
		Status:        protocol.OrderStatusRejected,
		StatusCode:    code,
		StatusMessage: code.Message(),
		Timestamp:     time.Now().UnixNano(),
	}
	if err := g.pipeline.EnqueueResponse(resp); err != nil {
		logger.Error("failed to enqueue reject", "order_id", req.OrderID, "error", err)
	}
}

// submit is the terminal request stage.
func (g *Gateway) submit(ctx context.Context, msg *interceptor.Message) interceptor.Control {
	if err := g.engine.Submit(ctx, msg.Request); err != nil {
		logger.Error("failed to submit request", "order_id", msg.Request.OrderID, "instrument_id", msg.Request.InstrumentID, "error", err)
		if err := g.pipeline.EnqueueError(msg.Request, err); err != nil {
			logger.Error("failed to enqueue error", "order_id", msg.Request.OrderID, "error", err)
		}
	}
	return interceptor.Continue
}

// deliver is the terminal response stage: it routes a report to the session owning the order.
func (g *Gateway) deliver(ctx context.Context, msg *interceptor.Message) interceptor.Control {
	orderID := msg.OrderID()

	sess, err := g.correlator.SessionByOrderID(orderID)
	if err == nil {
		switch msg.Kind {
		case interceptor.KindTrade:
			err = sess.OnTrade(msg.Trade)
		case interceptor.KindResponse:
			err = sess.OnResponse(msg.Response)
		case interceptor.KindError:
			err = sess.OnError(msg.Request, msg.Err)
		}
	}

	if err != nil {
		metrics.RoutingErrors.WithLabelValues(msg.Kind.String()).Inc()
		logger.Error("failed to route message",
			"kind", msg.Kind.String(),
			"order_id", orderID,
			"instrument_id", msg.InstrumentID(),
			"error", err,
		)
		return interceptor.Terminate
	}
	return interceptor.Continue
}

func countMessage(ctx context.Context, msg *interceptor.Message) interceptor.Control {
	instrument := msg.InstrumentID()

	switch msg.Kind {
	case interceptor.KindRequest:
		metrics.RequestsTotal.WithLabelValues(msg.Request.Action.String(), instrument).Inc()
	case interceptor.KindResponse:
		metrics.ResponsesTotal.WithLabelValues(msg.Response.Status.String(), instrument).Inc()
	case interceptor.KindTrade:
		metrics.TradesTotal.WithLabelValues(instrument).Inc()
		metrics.TradedVolume.WithLabelValues(instrument, msg.Trade.Direction.String()).Add(float64(msg.Trade.Quantity))
	}
	return interceptor.Continue
}

// busBookLog forwards book logs to the bus. The engine recycles its logs once
// Publish returns, so copies are sent.
type busBookLog struct {
	bus *eventbus.Bus
}

func (b *busBookLog) Publish(logs ...*match.OrderBookLog) {
	for _, log := range logs {
		cpy := *log
		if err := eventbus.Publish(b.bus, bookLogTopic, &cpy); err != nil {
			logger.Error("failed to publish book log", "instrument_id", log.InstrumentID, "error", err)
		}
	}
}
