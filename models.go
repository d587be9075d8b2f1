package match

import (
	"github.com/OpenGlobes/Core-sub001/protocol"
	"github.com/shopspring/decimal"
)

type Side = protocol.Direction

const (
	Buy  Side = protocol.DirectionBuy
	Sell Side = protocol.DirectionSell
)

// Order represents the state of a resting order in the order book.
type Order struct {
	ID             uint64               `json:"id"`
	InstrumentID   string               `json:"instrument_id"`
	Side           Side                 `json:"side"`
	Offset         protocol.Offset      `json:"offset"`
	Price          decimal.Decimal      `json:"price"`
	Quantity       int64                `json:"quantity"`
	TradedQuantity int64                `json:"traded_quantity"`
	Status         protocol.OrderStatus `json:"status"`
	Timestamp      int64                `json:"timestamp"` // Unix nano, creation time

	// Intrusive linked list pointers (ignored by JSON)
	next *Order
	prev *Order
}

// Remaining returns the quantity still open for matching.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.TradedQuantity
}

// DepthChange represents a change in the order book depth.
type DepthChange struct {
	Side     Side
	Price    decimal.Decimal
	SizeDiff int64
}

// DepthItem is one aggregated price level.
type DepthItem struct {
	ID       uint32          `json:"id"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Count    int64           `json:"count"`
}

// Depth is a best-first view of both sides of a book.
type Depth struct {
	UpdateID uint64       `json:"update_id"`
	Asks     []*DepthItem `json:"asks"`
	Bids     []*DepthItem `json:"bids"`
}

// BookStats contains statistics about the order book queues
type BookStats struct {
	AskDepthCount int64 `json:"ask_depth_count"`
	AskOrderCount int64 `json:"ask_order_count"`
	BidDepthCount int64 `json:"bid_depth_count"`
	BidOrderCount int64 `json:"bid_order_count"`
}

// CommandType represents the type of command sent to the order book.
type CommandType uint8

const (
	CmdSubmit CommandType = iota
	CmdDepth
	CmdGetStats
)

// Command is the internal wrapper for everything entering the OrderBook actor.
// A single channel keeps the processing order deterministic.
type Command struct {
	Type    CommandType
	Request *protocol.Request
	Limit   uint32
	Resp    chan any // Optional: for synchronous response (e.g. CmdDepth)
}
