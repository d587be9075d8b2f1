package match

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/OpenGlobes/Core-sub001/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchingEngine(t *testing.T) {
	t.Run("SubmitCreatesBooks", func(t *testing.T) {
		publisher := NewMemoryPublisher()
		engine := NewMatchingEngine(publisher)

		ctx := context.Background()

		req1 := newOrderRequest(1, Buy, 100, 2)
		req1.InstrumentID = "rb2405"
		require.NoError(t, engine.Submit(ctx, req1))

		req2 := newOrderRequest(2, Sell, 110, 2)
		req2.InstrumentID = "cu2406"
		require.NoError(t, engine.Submit(ctx, req2))

		assert.Eventually(t, func() bool {
			return publisher.Count() == 2
		}, time.Second, 10*time.Millisecond)

		assert.Equal(t, []string{"cu2406", "rb2405"}, engine.Instruments())

		orderbook := engine.OrderBook("rb2405")
		require.NotNil(t, orderbook)
		stats, err := orderbook.GetStats()
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.BidOrderCount)

		orderbook = engine.OrderBook("cu2406")
		require.NotNil(t, orderbook)
		stats, err = orderbook.GetStats()
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.AskOrderCount)

		assert.Nil(t, engine.OrderBook("unknown"))
		require.NoError(t, engine.Shutdown(ctx))
	})

	t.Run("InstrumentsAreIndependent", func(t *testing.T) {
		publisher := NewMemoryPublisher()
		engine := NewMatchingEngine(publisher)
		ctx := context.Background()

		buy := newOrderRequest(1, Buy, 100, 1)
		buy.InstrumentID = "a"
		sell := newOrderRequest(2, Sell, 100, 1)
		sell.InstrumentID = "b"

		require.NoError(t, engine.Submit(ctx, buy))
		require.NoError(t, engine.Submit(ctx, sell))
		require.NoError(t, engine.Shutdown(ctx))

		assert.Empty(t, publisher.Trades())
		assert.Len(t, publisher.Responses(), 2)
	})

	t.Run("Scenario", func(t *testing.T) {
		publisher := NewMemoryPublisher()
		bookLog := NewMemoryPublishLog()
		engine := NewMatchingEngine(publisher, WithBookOptions(WithBookLog(bookLog)))
		ctx := context.Background()

		require.NoError(t, engine.Submit(ctx, newOrderRequest(1, Buy, 2690, 5)))
		require.NoError(t, engine.Submit(ctx, newOrderRequest(21, Sell, 2690, 1)))
		require.NoError(t, engine.Submit(ctx, newDeleteRequest(1)))
		require.NoError(t, engine.Submit(ctx, newDeleteRequest(9999)))

		assert.Eventually(t, func() bool {
			return publisher.Count() == 8
		}, time.Second, 10*time.Millisecond)

		assert.Equal(t, []reportSummary{
			{orderID: 1, status: protocol.OrderStatusAccepted},
			{orderID: 21, status: protocol.OrderStatusAccepted},
			{trade: true, orderID: 1, qty: 1},
			{orderID: 1, status: protocol.OrderStatusQueued},
			{trade: true, orderID: 21, qty: 1},
			{orderID: 21, status: protocol.OrderStatusAllTraded},
			{orderID: 1, status: protocol.OrderStatusDeleted},
			{orderID: 9999, status: protocol.OrderStatusRejected},
		}, summarize(publisher.Reports()))

		assert.Equal(t, 4, bookLog.Count())
		require.NoError(t, engine.Shutdown(ctx))
	})

	t.Run("InvalidParam", func(t *testing.T) {
		engine := NewMatchingEngine(NewDiscardPublisher())
		ctx := context.Background()

		assert.ErrorIs(t, engine.Submit(ctx, nil), ErrInvalidParam)
		assert.ErrorIs(t, engine.Submit(ctx, &protocol.Request{Action: protocol.ActionNew}), ErrInvalidParam)
	})

	t.Run("NilPublisherPanics", func(t *testing.T) {
		assert.Panics(t, func() {
			NewMatchingEngine(nil)
		})
	})
}

func TestMatchingEngineShutdown(t *testing.T) {
	t.Run("ShutdownMultipleInstruments", func(t *testing.T) {
		engine := NewMatchingEngine(NewMemoryPublisher())

		ctx := context.Background()

		instruments := []string{"rb2405", "cu2406", "au2412"}
		for i, instrument := range instruments {
			req := newOrderRequest(uint64(i+1), Buy, int64(100+i*10), 1)
			req.InstrumentID = instrument
			assert.NoError(t, engine.Submit(ctx, req))
		}

		// Shutdown should complete successfully
		err := engine.Shutdown(ctx)
		assert.NoError(t, err)

		// After shutdown, submitting should return ErrShutdown
		err = engine.Submit(ctx, newOrderRequest(99, Buy, 100, 1))
		assert.Equal(t, ErrShutdown, err)
	})

	t.Run("RejectsNewBooks", func(t *testing.T) {
		engine := NewMatchingEngine(NewMemoryPublisher())
		ctx := context.Background()

		_, err := engine.AddOrderBook("rb2405")
		assert.NoError(t, err)

		err = engine.Shutdown(ctx)
		assert.NoError(t, err)

		_, err = engine.AddOrderBook("NEW")
		assert.Equal(t, ErrShutdown, err)

		// OrderBook for new instrument should return nil
		assert.Nil(t, engine.OrderBook("NEW"))
	})

	t.Run("BooksAddedDuringShutdownStop", func(t *testing.T) {
		for round := 0; round < 20; round++ {
			engine := NewMatchingEngine(NewMemoryPublisher())

			var wg sync.WaitGroup
			var mu sync.Mutex
			returned := make([]*OrderBook, 0)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					book, err := engine.AddOrderBook(fmt.Sprintf("inst%d", i%4))
					if err != nil {
						assert.ErrorIs(t, err, ErrShutdown)
						return
					}
					mu.Lock()
					returned = append(returned, book)
					mu.Unlock()
				}(i)
			}

			require.NoError(t, engine.Shutdown(context.Background()))
			wg.Wait()

			books := make([]*OrderBook, 0)
			engine.orderbooks.Range(func(_, value any) bool {
				books = append(books, value.(*OrderBook))
				return true
			})
			books = append(books, returned...)

			for _, book := range books {
				assert.True(t, book.isShutdown.Load())
				assert.Eventually(t, func() bool {
					select {
					case <-book.shutdownComplete:
						return true
					default:
						return false
					}
				}, time.Second, time.Millisecond)
			}
		}
	})

	t.Run("RespectsContextTimeout", func(t *testing.T) {
		engine := NewMatchingEngine(NewMemoryPublisher())

		ctx := context.Background()
		assert.NoError(t, engine.Submit(ctx, newOrderRequest(1, Buy, 100, 1)))

		// Shutdown with a reasonable timeout should succeed
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := engine.Shutdown(timeoutCtx)
		assert.NoError(t, err)
	})
}
