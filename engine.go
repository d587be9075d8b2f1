package match

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/OpenGlobes/Core-sub001/protocol"
)

// EngineOption configures a MatchingEngine.
type EngineOption func(*MatchingEngine)

// WithBookOptions sets the options every order book is created with.
func WithBookOptions(opts ...OrderBookOption) EngineOption {
	return func(engine *MatchingEngine) {
		engine.bookOpts = append(engine.bookOpts, opts...)
	}
}

// MatchingEngine manages one order book per instrument.
type MatchingEngine struct {
	isShutdown atomic.Bool
	orderbooks sync.Map
	publisher  Publisher
	bookOpts   []OrderBookOption
}

// NewMatchingEngine creates a new matching engine instance.
// Every book created by the engine publishes its reports to publisher.
func NewMatchingEngine(publisher Publisher, opts ...EngineOption) *MatchingEngine {
	if publisher == nil {
		panic("match: nil publisher")
	}

	engine := &MatchingEngine{
		orderbooks: sync.Map{},
		publisher:  publisher,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Submit routes the request to the order book of its instrument. The book is
// created and started on first use.
// Returns ErrShutdown if the engine is shutting down.
func (engine *MatchingEngine) Submit(ctx context.Context, req *protocol.Request) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}

	if req == nil || len(req.InstrumentID) == 0 {
		return ErrInvalidParam
	}

	orderbook, err := engine.AddOrderBook(req.InstrumentID)
	if err != nil {
		return err
	}

	return orderbook.Submit(ctx, req)
}

// AddOrderBook returns the order book for instrumentID, creating and starting it if needed.
func (engine *MatchingEngine) AddOrderBook(instrumentID string) (*OrderBook, error) {
	if engine.isShutdown.Load() {
		return nil, ErrShutdown
	}

	if book := engine.OrderBook(instrumentID); book != nil {
		return book, nil
	}

	newbook := NewOrderBook(instrumentID, engine.publisher, engine.bookOpts...)
	actual, loaded := engine.orderbooks.LoadOrStore(instrumentID, newbook)
	orderbook, _ := actual.(*OrderBook)
	if loaded {
		return orderbook, nil
	}

	go func() {
		_ = newbook.Start()
	}()

	// Shutdown may have ranged over the books before this one was stored.
	if engine.isShutdown.Load() {
		_ = newbook.Shutdown(context.Background())
		return nil, ErrShutdown
	}

	logger.Info("order book created", "instrument_id", instrumentID)
	return orderbook, nil
}

// OrderBook retrieves the order book for a specific instrument.
// Returns nil if the book does not exist.
func (engine *MatchingEngine) OrderBook(instrumentID string) *OrderBook {
	book, found := engine.orderbooks.Load(instrumentID)
	if !found {
		return nil
	}

	orderbook, _ := book.(*OrderBook)
	return orderbook
}

// Instruments lists the instruments that have an order book, sorted.
func (engine *MatchingEngine) Instruments() []string {
	ids := make([]string, 0)
	engine.orderbooks.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// Shutdown gracefully shuts down all order books in the engine.
// It blocks until all order books have completed their shutdown or the context is cancelled.
// Returns nil if all order books shut down successfully, or an aggregated error otherwise.
func (engine *MatchingEngine) Shutdown(ctx context.Context) error {
	// Set shutdown flag to prevent new requests and new books
	engine.isShutdown.Store(true)

	var wg sync.WaitGroup
	var errs []error
	var errMu sync.Mutex

	// Shutdown all order books in parallel
	engine.orderbooks.Range(func(key, value any) bool {
		wg.Add(1)
		go func(instrumentID string, book *OrderBook) {
			defer wg.Done()
			if err := book.Shutdown(ctx); err != nil {
				logger.Error("order book shutdown failed", "instrument_id", instrumentID, "error", err)
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(key.(string), value.(*OrderBook))
		return true
	})

	// Wait for all order books to complete shutdown
	wg.Wait()

	// Return aggregated errors if any
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
