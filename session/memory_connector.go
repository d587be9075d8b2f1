package session

import (
	"sync"

	"github.com/OpenGlobes/Core-sub001/protocol"
)

// ConnectorError is a request error recorded by MemoryConnector.
type ConnectorError struct {
	Request *protocol.Request
	Err     error
}

// MemoryConnector records every callback, useful for testing.
type MemoryConnector struct {
	mu        sync.RWMutex
	trades    []*protocol.Trade
	responses []*protocol.Response
	errors    []ConnectorError
	statuses  []protocol.ConnectorStatus
	events    []any
}

func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{}
}

func (m *MemoryConnector) OnTrade(trade *protocol.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	m.events = append(m.events, trade)
}

func (m *MemoryConnector) OnResponse(resp *protocol.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.events = append(m.events, resp)
}

func (m *MemoryConnector) OnError(req *protocol.Request, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, ConnectorError{Request: req, Err: err})
	m.events = append(m.events, m.errors[len(m.errors)-1])
}

func (m *MemoryConnector) OnStatusChange(status protocol.ConnectorStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func (m *MemoryConnector) Trades() []*protocol.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*protocol.Trade(nil), m.trades...)
}

func (m *MemoryConnector) Responses() []*protocol.Response {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*protocol.Response(nil), m.responses...)
}

func (m *MemoryConnector) Errors() []ConnectorError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ConnectorError(nil), m.errors...)
}

func (m *MemoryConnector) Statuses() []protocol.ConnectorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]protocol.ConnectorStatus(nil), m.statuses...)
}

// Events returns trades, responses and errors in delivery order.
func (m *MemoryConnector) Events() []any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]any(nil), m.events...)
}
