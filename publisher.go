package match

import (
	"sync"

	"github.com/OpenGlobes/Core-sub001/protocol"
)

// Publisher receives the ordered report stream of an order book: trades and
// status responses, in the order the book produced them. Reports are not
// reused by the book after Publish returns.
type Publisher interface {
	Publish(...protocol.Report)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(...protocol.Report)

func (f PublisherFunc) Publish(reports ...protocol.Report) {
	f(reports...)
}

// MemoryPublisher keeps every report, useful for testing.
type MemoryPublisher struct {
	mu      sync.RWMutex
	reports []protocol.Report
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		reports: make([]protocol.Report, 0),
	}
}

func (m *MemoryPublisher) Publish(reports ...protocol.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, reports...)
}

func (m *MemoryPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.reports)
}

// Reports returns a copy of all reports stored.
func (m *MemoryPublisher) Reports() []protocol.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reports := make([]protocol.Report, len(m.reports))
	copy(reports, m.reports)
	return reports
}

// Trades returns the trades in publication order.
func (m *MemoryPublisher) Trades() []*protocol.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trades := make([]*protocol.Trade, 0)
	for _, r := range m.reports {
		if r.Trade != nil {
			trades = append(trades, r.Trade)
		}
	}
	return trades
}

// Responses returns the responses in publication order.
func (m *MemoryPublisher) Responses() []*protocol.Response {
	m.mu.RLock()
	defer m.mu.RUnlock()

	responses := make([]*protocol.Response, 0)
	for _, r := range m.reports {
		if r.Response != nil {
			responses = append(responses, r.Response)
		}
	}
	return responses
}

// DiscardPublisher drops every report, useful for benchmarking.
type DiscardPublisher struct{}

func NewDiscardPublisher() *DiscardPublisher {
	return &DiscardPublisher{}
}

func (p *DiscardPublisher) Publish(reports ...protocol.Report) {}
