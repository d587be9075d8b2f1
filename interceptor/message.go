package interceptor

import (
	"strings"

	"github.com/OpenGlobes/Core-sub001/protocol"
)

// Kind is a bit set of message kinds. A stage declares which kinds it handles
// on the request side and on the response side.
type Kind uint8

const (
	KindRequest Kind = 1 << iota
	KindResponse
	KindTrade
	KindError

	KindNone        Kind = 0
	KindAnyResponse      = KindResponse | KindTrade | KindError
)

var kindNames = []struct {
	kind Kind
	name string
}{
	{KindRequest, "request"},
	{KindResponse, "response"},
	{KindTrade, "trade"},
	{KindError, "error"},
}

func (k Kind) String() string {
	if k == KindNone {
		return "none"
	}

	names := make([]string, 0, 4)
	for _, kn := range kindNames {
		if k&kn.kind != 0 {
			names = append(names, kn.name)
		}
	}
	return strings.Join(names, "|")
}

// Control tells the pipeline what to do after a stage returns.
type Control uint8

const (
	// Continue passes the message to the next matching stage.
	Continue Control = iota
	// SkipRest ends the pass normally.
	SkipRest
	// Terminate aborts the pass; it is logged as abnormal.
	Terminate
)

func (c Control) String() string {
	switch c {
	case Continue:
		return "continue"
	case SkipRest:
		return "skip_rest"
	case Terminate:
		return "terminate"
	}
	return "unknown"
}

// Message is the envelope carried through the pipeline. Kind selects which
// of the payload fields is set; an error message carries the failed Request.
type Message struct {
	Kind     Kind
	Request  *protocol.Request
	Response *protocol.Response
	Trade    *protocol.Trade
	Err      error
}

func RequestMessage(req *protocol.Request) *Message {
	return &Message{Kind: KindRequest, Request: req}
}

func ResponseMessage(resp *protocol.Response) *Message {
	return &Message{Kind: KindResponse, Response: resp}
}

func TradeMessage(trade *protocol.Trade) *Message {
	return &Message{Kind: KindTrade, Trade: trade}
}

func ErrorMessage(req *protocol.Request, err error) *Message {
	return &Message{Kind: KindError, Request: req, Err: err}
}

// OrderID returns the order id of whichever payload is set.
func (m *Message) OrderID() uint64 {
	switch m.Kind {
	case KindRequest, KindError:
		if m.Request != nil {
			return m.Request.OrderID
		}
	case KindResponse:
		if m.Response != nil {
			return m.Response.OrderID
		}
	case KindTrade:
		if m.Trade != nil {
			return m.Trade.OrderID
		}
	}
	return 0
}

// InstrumentID returns the instrument of whichever payload is set.
func (m *Message) InstrumentID() string {
	switch m.Kind {
	case KindRequest, KindError:
		if m.Request != nil {
			return m.Request.InstrumentID
		}
	case KindResponse:
		if m.Response != nil {
			return m.Response.InstrumentID
		}
	case KindTrade:
		if m.Trade != nil {
			return m.Trade.InstrumentID
		}
	}
	return ""
}
