package match

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OpenGlobes/Core-sub001/protocol"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInstrument = "rb2405"

func newOrderRequest(id uint64, direction protocol.Direction, price int64, quantity int64) *protocol.Request {
	return &protocol.Request{
		OrderID:      id,
		InstrumentID: testInstrument,
		Action:       protocol.ActionNew,
		Direction:    direction,
		Offset:       protocol.OffsetOpen,
		Price:        decimal.NewFromInt(price),
		Quantity:     quantity,
	}
}

func newDeleteRequest(id uint64) *protocol.Request {
	return &protocol.Request{
		OrderID:      id,
		InstrumentID: testInstrument,
		Action:       protocol.ActionDelete,
	}
}

// newSyncOrderBook returns a book whose requests are applied directly, without the actor loop.
func newSyncOrderBook() (*OrderBook, *MemoryPublisher, *MemoryPublishLog) {
	publisher := NewMemoryPublisher()
	bookLog := NewMemoryPublishLog()
	return NewOrderBook(testInstrument, publisher, WithBookLog(bookLog)), publisher, bookLog
}

type reportSummary struct {
	trade   bool
	orderID uint64
	status  protocol.OrderStatus
	qty     int64
}

func summarize(reports []protocol.Report) []reportSummary {
	result := make([]reportSummary, 0, len(reports))
	for _, r := range reports {
		if r.Trade != nil {
			result = append(result, reportSummary{trade: true, orderID: r.Trade.OrderID, qty: r.Trade.Quantity})
			continue
		}
		result = append(result, reportSummary{orderID: r.Response.OrderID, status: r.Response.Status})
	}
	return result
}

func TestOrderBookScenario(t *testing.T) {
	book, publisher, _ := newSyncOrderBook()

	book.handleRequest(newOrderRequest(1, Buy, 2690, 5))
	responses := publisher.Responses()
	require.Len(t, responses, 1)
	assert.Equal(t, uint64(1), responses[0].OrderID)
	assert.Equal(t, protocol.OrderStatusAccepted, responses[0].Status)
	assert.Equal(t, protocol.StatusCodeOK, responses[0].StatusCode)
	assert.NotEmpty(t, responses[0].ResponseID)

	book.handleRequest(newOrderRequest(21, Sell, 2690, 1))
	reports := publisher.Reports()[1:]
	assert.Equal(t, []reportSummary{
		{orderID: 21, status: protocol.OrderStatusAccepted},
		{trade: true, orderID: 1, qty: 1},
		{orderID: 1, status: protocol.OrderStatusQueued},
		{trade: true, orderID: 21, qty: 1},
		{orderID: 21, status: protocol.OrderStatusAllTraded},
	}, summarize(reports))

	trades := publisher.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, trades[0].TradeID, trades[1].TradeID)
	assert.Equal(t, "2690", trades[0].Price.String())
	assert.Equal(t, Buy, trades[0].Direction)
	assert.Equal(t, Sell, trades[1].Direction)

	book.handleRequest(newDeleteRequest(1))
	responses = publisher.Responses()
	last := responses[len(responses)-1]
	assert.Equal(t, uint64(1), last.OrderID)
	assert.Equal(t, protocol.OrderStatusDeleted, last.Status)
	assert.Equal(t, protocol.ActionDelete, last.Action)
	assert.Equal(t, int64(1), last.TradedQuantity)

	book.handleRequest(newDeleteRequest(9999))
	responses = publisher.Responses()
	last = responses[len(responses)-1]
	assert.Equal(t, uint64(9999), last.OrderID)
	assert.Equal(t, protocol.OrderStatusRejected, last.Status)
	assert.Equal(t, protocol.StatusCodeOrderNotFound, last.StatusCode)
	assert.Equal(t, "order not found", last.StatusMessage)

	assert.Equal(t, int64(0), book.bidQueue.orderCount())
	assert.Equal(t, int64(0), book.askQueue.orderCount())
}

func TestOrderBookValidation(t *testing.T) {
	testCases := []struct {
		name string
		req  *protocol.Request
		code protocol.StatusCode
	}{
		{
			name: "invalid action",
			req:  &protocol.Request{OrderID: 7, InstrumentID: testInstrument, Action: protocol.ActionUnknown},
			code: protocol.StatusCodeInvalidRequestType,
		},
		{
			name: "duplicate live order",
			req:  newOrderRequest(1, Sell, 200, 1),
			code: protocol.StatusCodeDuplicateOrder,
		},
		{
			name: "invalid direction",
			req:  newOrderRequest(7, protocol.DirectionUnknown, 100, 1),
			code: protocol.StatusCodeInvalidDirection,
		},
		{
			name: "zero quantity",
			req:  newOrderRequest(7, Buy, 100, 0),
			code: protocol.StatusCodeInvalidQuantity,
		},
		{
			name: "negative price",
			req:  newOrderRequest(7, Buy, -1, 1),
			code: protocol.StatusCodeInvalidPrice,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			book, publisher, bookLog := newSyncOrderBook()
			book.handleRequest(newOrderRequest(1, Buy, 100, 1))

			book.handleRequest(tc.req)

			responses := publisher.Responses()
			require.Len(t, responses, 2)
			assert.Equal(t, tc.req.OrderID, responses[1].OrderID)
			assert.Equal(t, protocol.OrderStatusRejected, responses[1].Status)
			assert.Equal(t, tc.code, responses[1].StatusCode)
			assert.Equal(t, tc.code.Message(), responses[1].StatusMessage)

			assert.Equal(t, LogTypeReject, bookLog.Get(bookLog.Count()-1).Type)
			assert.Equal(t, int64(1), book.bidQueue.orderCount())
			assert.Empty(t, publisher.Trades())
		})
	}
}

func TestOrderBookPriceTimePriority(t *testing.T) {
	book, publisher, _ := newSyncOrderBook()

	book.handleRequest(newOrderRequest(1, Sell, 110, 2))
	book.handleRequest(newOrderRequest(2, Sell, 110, 2))
	book.handleRequest(newOrderRequest(3, Sell, 105, 2))
	book.handleRequest(newOrderRequest(4, Sell, 120, 2))

	book.handleRequest(newOrderRequest(10, Buy, 110, 10))

	makerFills := make([]uint64, 0)
	prices := make([]string, 0)
	for _, trade := range publisher.Trades() {
		if trade.OrderID != 10 {
			makerFills = append(makerFills, trade.OrderID)
			prices = append(prices, trade.Price.String())
		}
	}
	assert.Equal(t, []uint64{3, 1, 2}, makerFills)
	assert.Equal(t, []string{"105", "110", "110"}, prices)

	// The remainder rests at its own price and the 120 ask is untouched.
	require.NotNil(t, book.bidQueue.order(10))
	assert.Equal(t, int64(4), book.bidQueue.order(10).Remaining())
	assert.Equal(t, protocol.OrderStatusQueued, book.bidQueue.order(10).Status)
	require.NotNil(t, book.askQueue.order(4))

	responses := publisher.Responses()
	last := responses[len(responses)-1]
	assert.Equal(t, uint64(10), last.OrderID)
	assert.Equal(t, protocol.OrderStatusQueued, last.Status)
	assert.Equal(t, int64(6), last.TradedQuantity)
}

func TestOrderBookTradePriceRule(t *testing.T) {
	t.Run("buy aggressor pays the ask", func(t *testing.T) {
		book, publisher, _ := newSyncOrderBook()
		book.handleRequest(newOrderRequest(1, Sell, 100, 1))
		book.handleRequest(newOrderRequest(2, Buy, 1000, 1))

		for _, trade := range publisher.Trades() {
			assert.Equal(t, "100", trade.Price.String())
		}
	})

	t.Run("sell aggressor receives the bid", func(t *testing.T) {
		book, publisher, _ := newSyncOrderBook()
		book.handleRequest(newOrderRequest(1, Buy, 100, 1))
		book.handleRequest(newOrderRequest(2, Sell, 1, 1))

		for _, trade := range publisher.Trades() {
			assert.Equal(t, "100", trade.Price.String())
		}
	})

	t.Run("no cross", func(t *testing.T) {
		book, publisher, _ := newSyncOrderBook()
		book.handleRequest(newOrderRequest(1, Buy, 99, 1))
		book.handleRequest(newOrderRequest(2, Sell, 100, 1))

		assert.Empty(t, publisher.Trades())
		assert.Equal(t, int64(1), book.bidQueue.orderCount())
		assert.Equal(t, int64(1), book.askQueue.orderCount())
	})
}

func TestOrderBookQueuedOnlyOnFirstFill(t *testing.T) {
	book, publisher, _ := newSyncOrderBook()

	book.handleRequest(newOrderRequest(1, Sell, 100, 10))
	book.handleRequest(newOrderRequest(2, Buy, 100, 2))
	book.handleRequest(newOrderRequest(3, Buy, 100, 2))

	statuses := make([]protocol.OrderStatus, 0)
	for _, resp := range publisher.Responses() {
		if resp.OrderID == 1 {
			statuses = append(statuses, resp.Status)
		}
	}
	assert.Equal(t, []protocol.OrderStatus{protocol.OrderStatusAccepted, protocol.OrderStatusQueued}, statuses)
	assert.Equal(t, int64(6), book.askQueue.order(1).Remaining())
}

func TestOrderBookLiveIDRelease(t *testing.T) {
	book, publisher, _ := newSyncOrderBook()

	book.handleRequest(newOrderRequest(1, Sell, 100, 1))
	book.handleRequest(newOrderRequest(2, Buy, 100, 1))

	// Both orders are terminal, so the id can be used again and DELETE no longer finds it.
	book.handleRequest(newDeleteRequest(1))
	responses := publisher.Responses()
	assert.Equal(t, protocol.StatusCodeOrderNotFound, responses[len(responses)-1].StatusCode)

	book.handleRequest(newOrderRequest(1, Sell, 100, 1))
	responses = publisher.Responses()
	assert.Equal(t, protocol.OrderStatusAccepted, responses[len(responses)-1].Status)
}

func TestOrderBookConservation(t *testing.T) {
	book, publisher, _ := newSyncOrderBook()
	rnd := rand.New(rand.NewSource(42))

	placed := make(map[uint64]int64)
	for id := uint64(1); id <= 500; id++ {
		direction := Buy
		if rnd.Intn(2) == 1 {
			direction = Sell
		}
		qty := int64(rnd.Intn(9) + 1)
		placed[id] = qty
		book.handleRequest(newOrderRequest(id, direction, int64(95+rnd.Intn(10)), qty))

		if id%7 == 0 {
			book.handleRequest(newDeleteRequest(uint64(rnd.Intn(int(id)) + 1)))
		}
	}

	traded := make(map[uint64]int64)
	var buyTotal, sellTotal int64
	byTradeID := make(map[uint64]int)
	for _, trade := range publisher.Trades() {
		traded[trade.OrderID] += trade.Quantity
		byTradeID[trade.TradeID]++
		if trade.Direction == Buy {
			buyTotal += trade.Quantity
		} else {
			sellTotal += trade.Quantity
		}
	}

	assert.Equal(t, buyTotal, sellTotal)
	for tradeID, count := range byTradeID {
		assert.Equal(t, 2, count, "trade %d", tradeID)
	}
	for id, qty := range traded {
		assert.LessOrEqual(t, qty, placed[id], "order %d", id)
	}

	for _, resp := range publisher.Responses() {
		if resp.Status == protocol.OrderStatusAllTraded {
			assert.Equal(t, placed[resp.OrderID], traded[resp.OrderID])
		}
	}

	// The best bid never crosses the best ask once the book is at rest.
	bid, ask := book.bidQueue.peekHeadOrder(), book.askQueue.peekHeadOrder()
	if bid != nil && ask != nil {
		assert.True(t, bid.Price.LessThan(ask.Price))
	}
}

func TestOrderBookLogs(t *testing.T) {
	book, _, bookLog := newSyncOrderBook()

	book.handleRequest(newOrderRequest(1, Buy, 100, 5))
	book.handleRequest(newOrderRequest(2, Sell, 100, 2))
	book.handleRequest(newDeleteRequest(1))
	book.handleRequest(newDeleteRequest(1))

	require.Equal(t, 4, bookLog.Count())
	types := make([]LogType, 0, 4)
	for i, log := range bookLog.Logs {
		assert.Equal(t, uint64(i+1), log.SequenceID)
		types = append(types, log.Type)
	}
	assert.Equal(t, []LogType{LogTypeOpen, LogTypeMatch, LogTypeCancel, LogTypeReject}, types)

	match := bookLog.Get(1)
	assert.Equal(t, uint64(2), match.OrderID)
	assert.Equal(t, uint64(1), match.MakerOrderID)
	assert.Equal(t, Sell, match.Side)
	assert.Equal(t, int64(2), match.Size)
	assert.Equal(t, uint64(1), match.TradeID)

	cancel := bookLog.Get(2)
	assert.Equal(t, int64(3), cancel.Size)
}

func TestOrderBookActor(t *testing.T) {
	ctx := context.Background()
	publisher := NewMemoryPublisher()
	book := NewOrderBook(testInstrument, publisher, WithQueueSize(16))
	go func() {
		_ = book.Start()
	}()

	require.NoError(t, book.Submit(ctx, newOrderRequest(1, Buy, 90, 1)))
	require.NoError(t, book.Submit(ctx, newOrderRequest(2, Buy, 80, 2)))
	require.NoError(t, book.Submit(ctx, newOrderRequest(3, Sell, 110, 3)))

	assert.Eventually(t, func() bool {
		return publisher.Count() == 3
	}, time.Second, 10*time.Millisecond)

	depth, err := book.Depth(10)
	require.NoError(t, err)
	require.Len(t, depth.Bids, 2)
	require.Len(t, depth.Asks, 1)
	assert.Equal(t, "90", depth.Bids[0].Price.String())
	assert.Equal(t, "80", depth.Bids[1].Price.String())
	assert.Equal(t, int64(3), depth.Asks[0].Quantity)

	stats, err := book.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.BidOrderCount)
	assert.Equal(t, int64(2), stats.BidDepthCount)
	assert.Equal(t, int64(1), stats.AskOrderCount)

	_, err = book.Depth(0)
	assert.ErrorIs(t, err, ErrInvalidParam)

	assert.ErrorIs(t, book.Submit(ctx, nil), ErrInvalidParam)

	require.NoError(t, book.Shutdown(ctx))
	assert.ErrorIs(t, book.Submit(ctx, newOrderRequest(4, Buy, 90, 1)), ErrShutdown)

	_, err = book.GetStats()
	assert.ErrorIs(t, err, ErrOrderBookClosed)
}

func TestOrderBookShutdownDrains(t *testing.T) {
	ctx := context.Background()
	publisher := NewMemoryPublisher()
	book := NewOrderBook(testInstrument, publisher)

	for i := uint64(1); i <= 100; i++ {
		require.NoError(t, book.Submit(ctx, newOrderRequest(i, Buy, 100, 1)))
	}

	go func() {
		_ = book.Start()
	}()

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, book.Shutdown(shutdownCtx))
	assert.Equal(t, 100, publisher.Count())
}

func TestOrderBookShutdownKeepsAcceptedSubmits(t *testing.T) {
	for round := 0; round < 20; round++ {
		publisher := NewMemoryPublisher()
		book := NewOrderBook(testInstrument, publisher)
		go func() {
			_ = book.Start()
		}()

		var accepted atomic.Int64
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					id := uint64(w*1000 + i + 1)
					err := book.Submit(context.Background(), newOrderRequest(id, Buy, 100, 1))
					if err == nil {
						accepted.Add(1)
						continue
					}
					assert.ErrorIs(t, err, ErrShutdown)
				}
			}(w)
		}

		time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
		require.NoError(t, book.Shutdown(context.Background()))
		wg.Wait()

		acks := 0
		for _, resp := range publisher.Responses() {
			if resp.Status == protocol.OrderStatusAccepted {
				acks++
			}
		}
		assert.Equal(t, int(accepted.Load()), acks)
	}
}
