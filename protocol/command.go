package protocol

import (
	"github.com/shopspring/decimal"
)

// Request is the carrier for order instructions entering the core.
// For ActionNew the OrderID is chosen by the caller and must be unique per
// session; for ActionDelete it identifies the order to cancel.
type Request struct {
	OrderID      uint64          `json:"order_id"`
	RequestID    uint64          `json:"request_id,omitempty"`
	InstrumentID string          `json:"instrument_id"`
	Action       Action          `json:"action"`
	Direction    Direction       `json:"direction,omitempty"`
	Offset       Offset          `json:"offset,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`

	// Filled in by the enrichment stage from instrument metadata.
	ExchangeID string `json:"exchange_id,omitempty"`
	TradingDay string `json:"trading_day,omitempty"`
}

// Clone returns a shallow copy; decimal values are immutable.
func (r *Request) Clone() *Request {
	cpy := *r
	return &cpy
}

// Trade is one fill increment for one order.
// Price is always the price of the resting order that was hit.
type Trade struct {
	TradeID      uint64          `json:"trade_id"`
	OrderID      uint64          `json:"order_id"`
	InstrumentID string          `json:"instrument_id"`
	Direction    Direction       `json:"direction"`
	Offset       Offset          `json:"offset"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	Timestamp    int64           `json:"timestamp"` // Unix nano
}

func (t *Trade) Clone() *Trade {
	cpy := *t
	return &cpy
}

// Response is the status notification for an order.
type Response struct {
	ResponseID     string      `json:"response_id"`
	OrderID        uint64      `json:"order_id"`
	InstrumentID   string      `json:"instrument_id"`
	Action         Action      `json:"action"`
	Direction      Direction   `json:"direction,omitempty"`
	Offset         Offset      `json:"offset,omitempty"`
	Status         OrderStatus `json:"status"`
	StatusCode     StatusCode  `json:"status_code"`
	StatusMessage  string      `json:"status_message,omitempty"`
	TradedQuantity int64       `json:"traded_quantity"`
	Timestamp      int64       `json:"timestamp"` // Unix nano
}

func (r *Response) Clone() *Response {
	cpy := *r
	return &cpy
}

// Report is the ordered output envelope of the matching engine. Exactly one
// of Trade and Response is set. Keeping both kinds on one stream guarantees a
// terminal Response never overtakes a Trade of the same order.
type Report struct {
	Trade    *Trade    `json:"trade,omitempty"`
	Response *Response `json:"response,omitempty"`
}

// Instrument is the metadata a request is enriched with before dispatch.
type Instrument struct {
	ID         string          `json:"id"`
	ExchangeID string          `json:"exchange_id"`
	Multiplier int64           `json:"multiplier"`
	PriceTick  decimal.Decimal `json:"price_tick"`
}
