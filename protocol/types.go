package protocol

import (
	"errors"
	"strconv"
)

// Action identifies what a request asks the engine to do.
type Action uint8

const (
	ActionUnknown Action = 0
	ActionNew     Action = 1
	ActionDelete  Action = 2
)

const (
	unknownStr      = "unknown"
	actionNewStr    = "new"
	actionDeleteStr = "delete"
)

func (a Action) String() string {
	switch a {
	case ActionNew:
		return actionNewStr
	case ActionDelete:
		return actionDeleteStr
	}
	return "unknown(" + strconv.Itoa(int(a)) + ")"
}

func (a Action) MarshalText() ([]byte, error) {
	switch a {
	case ActionNew, ActionDelete:
		return []byte(a.String()), nil
	case ActionUnknown:
		return []byte(unknownStr), nil
	}
	return nil, errors.New("invalid action: " + strconv.Itoa(int(a)))
}

// UnmarshalText maps unrecognized names to ActionUnknown so the request can
// be rejected with a status code instead of failing to decode.
func (a *Action) UnmarshalText(data []byte) error {
	switch string(data) {
	case actionNewStr:
		*a = ActionNew
	case actionDeleteStr:
		*a = ActionDelete
	default:
		*a = ActionUnknown
	}
	return nil
}

// Direction represents the order side (Buy/Sell).
type Direction uint8

const (
	DirectionUnknown Direction = 0
	DirectionBuy     Direction = 1
	DirectionSell    Direction = 2
)

const (
	directionBuyStr  = "buy"
	directionSellStr = "sell"
)

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return directionBuyStr
	case DirectionSell:
		return directionSellStr
	}
	return "unknown(" + strconv.Itoa(int(d)) + ")"
}

// Opposite returns the side a order of this direction matches against.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBuy:
		return DirectionSell
	case DirectionSell:
		return DirectionBuy
	}
	return DirectionUnknown
}

func (d Direction) MarshalText() ([]byte, error) {
	switch d {
	case DirectionBuy, DirectionSell:
		return []byte(d.String()), nil
	case DirectionUnknown:
		return []byte(unknownStr), nil
	}
	return nil, errors.New("invalid direction: " + strconv.Itoa(int(d)))
}

// UnmarshalText maps unrecognized names to DirectionUnknown; the book rejects
// such orders with StatusCodeInvalidDirection.
func (d *Direction) UnmarshalText(data []byte) error {
	switch string(data) {
	case directionBuyStr:
		*d = DirectionBuy
	case directionSellStr:
		*d = DirectionSell
	default:
		*d = DirectionUnknown
	}
	return nil
}

// Offset tells whether an order opens or closes a position.
type Offset uint8

const (
	OffsetUnknown    Offset = 0
	OffsetOpen       Offset = 1
	OffsetCloseToday Offset = 2
	OffsetCloseYD    Offset = 3
	OffsetCloseAuto  Offset = 4
)

var offsetNames = map[Offset]string{
	OffsetOpen:       "open",
	OffsetCloseToday: "close_today",
	OffsetCloseYD:    "close_yd",
	OffsetCloseAuto:  "close_auto",
}

func (o Offset) String() string {
	if name, ok := offsetNames[o]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(o)) + ")"
}

func (o Offset) MarshalText() ([]byte, error) {
	if name, ok := offsetNames[o]; ok {
		return []byte(name), nil
	}
	return nil, errors.New("invalid offset: " + strconv.Itoa(int(o)))
}

func (o *Offset) UnmarshalText(data []byte) error {
	for k, v := range offsetNames {
		if v == string(data) {
			*o = k
			return nil
		}
	}
	return errors.New("unsupported offset: " + string(data))
}

// OrderStatus is the lifecycle state reported in a Response.
//
// ACCEPTED is emitted once on intake, QUEUED on the first fill of an order that
// keeps resting, ALL_TRADED when fully filled, DELETED on cancellation and
// REJECTED when validation fails. ALL_TRADED, DELETED and REJECTED are terminal.
type OrderStatus uint8

const (
	OrderStatusUnknown   OrderStatus = 0
	OrderStatusAccepted  OrderStatus = 1
	OrderStatusQueued    OrderStatus = 2
	OrderStatusAllTraded OrderStatus = 3
	OrderStatusDeleted   OrderStatus = 4
	OrderStatusRejected  OrderStatus = 5
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusAccepted:  "accepted",
	OrderStatusQueued:    "queued",
	OrderStatusAllTraded: "all_traded",
	OrderStatusDeleted:   "deleted",
	OrderStatusRejected:  "rejected",
}

func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// IsTerminal reports whether no further trades or responses follow this status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusAllTraded || s == OrderStatusDeleted || s == OrderStatusRejected
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	if name, ok := orderStatusNames[s]; ok {
		return []byte(name), nil
	}
	return nil, errors.New("invalid order status: " + strconv.Itoa(int(s)))
}

func (s *OrderStatus) UnmarshalText(data []byte) error {
	for k, v := range orderStatusNames {
		if v == string(data) {
			*s = k
			return nil
		}
	}
	return errors.New("unsupported order status: " + string(data))
}

// StatusCode values are part of the client contract and must stay stable.
type StatusCode uint16

const (
	StatusCodeOK                 StatusCode = 0
	StatusCodeOrderNotFound      StatusCode = 1
	StatusCodeInvalidRequestType StatusCode = 2
	StatusCodeDuplicateOrder     StatusCode = 3
	StatusCodeInvalidDirection   StatusCode = 4
	StatusCodeInvalidQuantity    StatusCode = 5
	StatusCodeInvalidPrice       StatusCode = 6
	StatusCodeInstrumentNotFound StatusCode = 7
	StatusCodeInternal           StatusCode = 8
)

var statusMessages = map[StatusCode]string{
	StatusCodeOK:                 "ok",
	StatusCodeOrderNotFound:      "order not found",
	StatusCodeInvalidRequestType: "invalid request type",
	StatusCodeDuplicateOrder:     "duplicate order",
	StatusCodeInvalidDirection:   "invalid direction",
	StatusCodeInvalidQuantity:    "invalid quantity",
	StatusCodeInvalidPrice:       "invalid price",
	StatusCodeInstrumentNotFound: "instrument not found",
	StatusCodeInternal:           "internal error",
}

// Message returns the default human readable text for the code.
func (c StatusCode) Message() string {
	if msg, ok := statusMessages[c]; ok {
		return msg
	}
	return "unknown status code " + strconv.Itoa(int(c))
}

// ConnectorStatus is reported to connectors through OnStatusChange.
type ConnectorStatus uint8

const (
	StatusConnected      ConnectorStatus = 1
	StatusDisconnected   ConnectorStatus = 2
	StatusGatewayStopped ConnectorStatus = 3
)

func (s ConnectorStatus) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusGatewayStopped:
		return "gateway_stopped"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

func (s ConnectorStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
