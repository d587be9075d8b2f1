package match

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type LogType string

const (
	LogTypeOpen   LogType = "open"
	LogTypeMatch  LogType = "match"
	LogTypeCancel LogType = "cancel"
	LogTypeReject LogType = "reject"
)

// OrderBookLog represents an event in the order book.
// SequenceID is a per-book increasing ID for every event, used for ordering,
// deduplication, and rebuild synchronization in downstream systems.
// Use LogType to determine if the event affects order book state:
// - Open, Match, Cancel: affect order book state
// - Reject: does not affect order book state
type OrderBookLog struct {
	SequenceID   uint64          `json:"seq_id"`
	TradeID      uint64          `json:"trade_id,omitempty"` // Only set for Match events
	Type         LogType         `json:"type"`
	InstrumentID string          `json:"instrument_id"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         int64           `json:"size"`
	OrderID      uint64          `json:"order_id"`
	MakerOrderID uint64          `json:"maker_order_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

var bookLogPool = sync.Pool{
	New: func() any {
		return new(OrderBookLog)
	},
}

func acquireBookLog() *OrderBookLog {
	return bookLogPool.Get().(*OrderBookLog)
}

func releaseBookLog(log *OrderBookLog) {
	*log = OrderBookLog{}
	bookLogPool.Put(log)
}

// NewOpenLog records the remainder of an order entering the book.
func NewOpenLog(seqID uint64, instrumentID string, order *Order) *OrderBookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeOpen
	log.InstrumentID = instrumentID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Remaining()
	log.OrderID = order.ID
	log.CreatedAt = time.Now().UTC()
	return log
}

// NewMatchLog records one fill. Side is the taker's side, Price the maker's price.
func NewMatchLog(seqID uint64, tradeID uint64, instrumentID string, taker *Order, maker *Order, size int64) *OrderBookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.TradeID = tradeID
	log.Type = LogTypeMatch
	log.InstrumentID = instrumentID
	log.Side = taker.Side
	log.Price = maker.Price
	log.Size = size
	log.OrderID = taker.ID
	log.MakerOrderID = maker.ID
	log.CreatedAt = time.Now().UTC()
	return log
}

// NewCancelLog records a resting order leaving the book with its remaining size.
func NewCancelLog(seqID uint64, instrumentID string, order *Order) *OrderBookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeCancel
	log.InstrumentID = instrumentID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Remaining()
	log.OrderID = order.ID
	log.CreatedAt = time.Now().UTC()
	return log
}

func NewRejectLog(seqID uint64, instrumentID string, orderID uint64) *OrderBookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeReject
	log.InstrumentID = instrumentID
	log.OrderID = orderID
	log.CreatedAt = time.Now().UTC()
	return log
}
