package match

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/OpenGlobes/Core-sub001/protocol"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// OrderBookOption configures an OrderBook.
type OrderBookOption func(*OrderBook)

// WithBookLog sets the sink receiving open/match/cancel/reject logs.
func WithBookLog(publishLog PublishLog) OrderBookOption {
	return func(book *OrderBook) {
		if publishLog != nil {
			book.bookLog = publishLog
		}
	}
}

// WithQueueSize sets the capacity of the inbound command channel.
func WithQueueSize(size int) OrderBookOption {
	return func(book *OrderBook) {
		if size > 0 {
			book.queueSize = size
		}
	}
}

// WithResponseIDGenerator replaces the xid based response id generator.
func WithResponseIDGenerator(fn func() string) OrderBookOption {
	return func(book *OrderBook) {
		if fn != nil {
			book.newResponseID = fn
		}
	}
}

// OrderBook is the single writer of one instrument's book. Every request for
// the instrument is serialized through cmdChan and handled by Start's loop.
type OrderBook struct {
	instrumentID     string
	seqID            atomic.Uint64 // Per-book increasing sequence ID for OrderBookLog production
	tradeID          atomic.Uint64 // Sequential trade ID counter, one per fill
	isShutdown       atomic.Bool
	submitting       atomic.Int64 // Submit calls past the shutdown check; drain waits for them
	bidQueue         *queue
	askQueue         *queue
	queueSize        int
	cmdChan          chan Command
	done             chan struct{}
	shutdownComplete chan struct{}
	publisher        Publisher
	bookLog          PublishLog
	newResponseID    func() string
}

// NewOrderBook creates a new order book instance.
func NewOrderBook(instrumentID string, publisher Publisher, opts ...OrderBookOption) *OrderBook {
	book := &OrderBook{
		instrumentID:     instrumentID,
		bidQueue:         NewBuyerQueue(),
		askQueue:         NewSellerQueue(),
		queueSize:        defaultQueueSize,
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
		publisher:        publisher,
		bookLog:          NewDiscardPublishLog(),
		newResponseID: func() string {
			return xid.New().String()
		},
	}

	for _, opt := range opts {
		opt(book)
	}

	book.cmdChan = make(chan Command, book.queueSize)
	return book
}

// InstrumentID returns the instrument this book matches.
func (book *OrderBook) InstrumentID() string {
	return book.instrumentID
}

// Submit enqueues a request for the book loop.
// Returns ErrShutdown if the order book is shutting down.
func (book *OrderBook) Submit(ctx context.Context, req *protocol.Request) error {
	if req == nil {
		return ErrInvalidParam
	}

	book.submitting.Add(1)
	defer book.submitting.Add(-1)

	if book.isShutdown.Load() {
		return ErrShutdown
	}

	select {
	case book.cmdChan <- Command{Type: CmdSubmit, Request: req}:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// Depth returns the current depth of the order book up to the specified limit.
func (book *OrderBook) Depth(limit uint32) (*Depth, error) {
	if limit == 0 {
		return nil, ErrInvalidParam
	}

	res, err := book.query(Command{Type: CmdDepth, Limit: limit})
	if err != nil {
		return nil, err
	}
	depth, _ := res.(*Depth)
	return depth, nil
}

// GetStats returns usage statistics for the order book.
// It is thread-safe and interacts with the order book loop via a channel.
func (book *OrderBook) GetStats() (*BookStats, error) {
	res, err := book.query(Command{Type: CmdGetStats})
	if err != nil {
		return nil, err
	}
	stats, _ := res.(*BookStats)
	return stats, nil
}

func (book *OrderBook) query(cmd Command) (any, error) {
	respChan := make(chan any, 1)
	cmd.Resp = respChan

	select {
	case book.cmdChan <- cmd:
		// Request sent, now wait for response
	case <-book.shutdownComplete:
		return nil, ErrOrderBookClosed
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		return res, nil
	case <-book.shutdownComplete:
		return nil, ErrOrderBookClosed
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// Start runs the order book loop. It returns nil once Shutdown has been
// called and all pending commands are drained.
func (book *OrderBook) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-book.done:
			return book.drain()
		case cmd := <-book.cmdChan:
			book.process(cmd)
		}
	}
}

// Shutdown signals the order book to stop accepting new requests and waits for all pending ones to be processed.
// Returns nil if shutdown completed successfully, or ctx.Err() if the context was cancelled.
func (book *OrderBook) Shutdown(ctx context.Context) error {
	if book.isShutdown.CompareAndSwap(false, true) {
		close(book.done)
	}

	select {
	case <-book.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain processes all remaining commands before returning. A Submit that
// passed the shutdown check before it was set is still received here.
func (book *OrderBook) drain() error {
	defer close(book.shutdownComplete)

	for {
		select {
		case cmd := <-book.cmdChan:
			book.process(cmd)
		default:
			if book.submitting.Load() == 0 && len(book.cmdChan) == 0 {
				return nil
			}
			runtime.Gosched()
		}
	}
}

func (book *OrderBook) process(cmd Command) {
	switch cmd.Type {
	case CmdSubmit:
		book.handleRequest(cmd.Request)
	case CmdDepth:
		book.reply(cmd, book.depth(cmd.Limit))
	case CmdGetStats:
		book.reply(cmd, &BookStats{
			AskDepthCount: book.askQueue.depthCount(),
			AskOrderCount: book.askQueue.orderCount(),
			BidDepthCount: book.bidQueue.depthCount(),
			BidOrderCount: book.bidQueue.orderCount(),
		})
	}
}

func (book *OrderBook) reply(cmd Command, result any) {
	if cmd.Resp == nil {
		return
	}
	select {
	case cmd.Resp <- result:
	default:
		// Non-blocking send, if no one is listening, just drop it
	}
}

// depth returns the snapshot of the order book depth.
func (book *OrderBook) depth(limit uint32) *Depth {
	return &Depth{
		UpdateID: book.seqID.Load(),
		Asks:     book.askQueue.depth(limit),
		Bids:     book.bidQueue.depth(limit),
	}
}

// batch collects everything one request produces so it is published at once.
type batch struct {
	reports []protocol.Report
	logs    []*OrderBookLog
}

func (b *batch) trade(t *protocol.Trade) {
	b.reports = append(b.reports, protocol.Report{Trade: t})
}

func (b *batch) respond(r *protocol.Response) {
	b.reports = append(b.reports, protocol.Report{Response: r})
}

func (b *batch) log(l *OrderBookLog) {
	b.logs = append(b.logs, l)
}

// handleRequest validates a request, applies it to the book and publishes the outcome.
func (book *OrderBook) handleRequest(req *protocol.Request) {
	b := &batch{
		reports: make([]protocol.Report, 0, 4),
		logs:    make([]*OrderBookLog, 0, 4),
	}

	switch req.Action {
	case protocol.ActionNew:
		book.handleNew(req, b)
	case protocol.ActionDelete:
		book.handleDelete(req, b)
	default:
		book.reject(req, protocol.StatusCodeInvalidRequestType, b)
	}

	if len(b.reports) > 0 {
		book.publisher.Publish(b.reports...)
	}

	if len(b.logs) > 0 {
		book.bookLog.Publish(b.logs...)
		for _, log := range b.logs {
			releaseBookLog(log)
		}
	}
}

func (book *OrderBook) isLive(id uint64) bool {
	return book.bidQueue.order(id) != nil || book.askQueue.order(id) != nil
}

func (book *OrderBook) handleNew(req *protocol.Request, b *batch) {
	if book.isLive(req.OrderID) {
		book.reject(req, protocol.StatusCodeDuplicateOrder, b)
		return
	}

	if req.Direction != Buy && req.Direction != Sell {
		book.reject(req, protocol.StatusCodeInvalidDirection, b)
		return
	}

	if req.Quantity <= 0 {
		book.reject(req, protocol.StatusCodeInvalidQuantity, b)
		return
	}

	if !req.Price.IsPositive() {
		book.reject(req, protocol.StatusCodeInvalidPrice, b)
		return
	}

	order := &Order{
		ID:           req.OrderID,
		InstrumentID: book.instrumentID,
		Side:         req.Direction,
		Offset:       req.Offset,
		Price:        req.Price,
		Quantity:     req.Quantity,
		Status:       protocol.OrderStatusAccepted,
		Timestamp:    time.Now().UnixNano(),
	}
	b.respond(book.response(order, protocol.ActionNew, protocol.StatusCodeOK))

	book.handleLimitOrder(order, b)
}

// handleLimitOrder matches the order against the opposite queue with
// price-time priority and rests the unfilled remainder at its own price.
func (book *OrderBook) handleLimitOrder(order *Order, b *batch) {
	myQueue, targetQueue := book.bidQueue, book.askQueue
	if order.Side == Sell {
		myQueue, targetQueue = book.askQueue, book.bidQueue
	}

	for order.Remaining() > 0 {
		maker := targetQueue.peekHeadOrder()
		if maker == nil || !crosses(order, maker) {
			break
		}

		size := min(order.Remaining(), maker.Remaining())
		tradeID := book.tradeID.Add(1)
		now := time.Now().UnixNano()

		b.log(NewMatchLog(book.seqID.Add(1), tradeID, book.instrumentID, order, maker, size))

		targetQueue.fill(maker, size)
		b.trade(book.trade(tradeID, maker, maker.Price, size, now))

		if maker.Remaining() == 0 {
			targetQueue.removeOrder(maker.ID)
			maker.Status = protocol.OrderStatusAllTraded
			b.respond(book.response(maker, protocol.ActionNew, protocol.StatusCodeOK))
		} else if maker.Status == protocol.OrderStatusAccepted {
			maker.Status = protocol.OrderStatusQueued
			b.respond(book.response(maker, protocol.ActionNew, protocol.StatusCodeOK))
		}

		order.TradedQuantity += size
		b.trade(book.trade(tradeID, order, maker.Price, size, now))
	}

	if order.Remaining() == 0 {
		order.Status = protocol.OrderStatusAllTraded
		b.respond(book.response(order, protocol.ActionNew, protocol.StatusCodeOK))
		return
	}

	if order.TradedQuantity > 0 {
		order.Status = protocol.OrderStatusQueued
		b.respond(book.response(order, protocol.ActionNew, protocol.StatusCodeOK))
	}

	myQueue.insertOrder(order)
	b.log(NewOpenLog(book.seqID.Add(1), book.instrumentID, order))
}

// crosses reports whether the aggressor's limit is marketable against the maker's price.
func crosses(taker *Order, maker *Order) bool {
	if taker.Side == Buy {
		return taker.Price.GreaterThanOrEqual(maker.Price)
	}
	return taker.Price.LessThanOrEqual(maker.Price)
}

func (book *OrderBook) handleDelete(req *protocol.Request, b *batch) {
	myQueue := book.askQueue
	order := myQueue.order(req.OrderID)
	if order == nil {
		myQueue = book.bidQueue
		order = myQueue.order(req.OrderID)
	}

	if order == nil {
		book.reject(req, protocol.StatusCodeOrderNotFound, b)
		return
	}

	b.log(NewCancelLog(book.seqID.Add(1), book.instrumentID, order))
	myQueue.removeOrder(order.ID)

	order.Status = protocol.OrderStatusDeleted
	b.respond(book.response(order, protocol.ActionDelete, protocol.StatusCodeOK))
}

func (book *OrderBook) reject(req *protocol.Request, code protocol.StatusCode, b *batch) {
	b.log(NewRejectLog(book.seqID.Add(1), book.instrumentID, req.OrderID))
	b.respond(&protocol.Response{
		ResponseID:    book.newResponseID(),
		OrderID:       req.OrderID,
		InstrumentID:  book.instrumentID,
		Action:        req.Action,
		Direction:     req.Direction,
		Offset:        req.Offset,
		Status:        protocol.OrderStatusRejected,
		StatusCode:    code,
		StatusMessage: code.Message(),
		Timestamp:     time.Now().UnixNano(),
	})
}

func (book *OrderBook) response(order *Order, action protocol.Action, code protocol.StatusCode) *protocol.Response {
	return &protocol.Response{
		ResponseID:     book.newResponseID(),
		OrderID:        order.ID,
		InstrumentID:   book.instrumentID,
		Action:         action,
		Direction:      order.Side,
		Offset:         order.Offset,
		Status:         order.Status,
		StatusCode:     code,
		StatusMessage:  code.Message(),
		TradedQuantity: order.TradedQuantity,
		Timestamp:      time.Now().UnixNano(),
	}
}

func (book *OrderBook) trade(tradeID uint64, order *Order, price decimal.Decimal, size int64, now int64) *protocol.Trade {
	return &protocol.Trade{
		TradeID:      tradeID,
		OrderID:      order.ID,
		InstrumentID: book.instrumentID,
		Direction:    order.Side,
		Offset:       order.Offset,
		Price:        price,
		Quantity:     size,
		Timestamp:    now,
	}
}
