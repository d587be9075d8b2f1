package session

import (
	"sync"

	"github.com/OpenGlobes/Core-sub001/protocol"
)

// Correlator routes engine output back to the session that sent the order.
// It owns the internal id space: every NEW request is re-keyed with an id
// from the generator before it leaves the session.
type Correlator struct {
	mu     sync.RWMutex
	gen    IDGenerator
	routes map[uint64]*Session
}

func NewCorrelator(gen IDGenerator) *Correlator {
	if gen == nil {
		panic("session: nil id generator")
	}

	return &Correlator{
		gen:    gen,
		routes: make(map[uint64]*Session),
	}
}

// RegisterRequest assigns req a new internal id, records the route to sess and
// returns the id the request carried before.
func (c *Correlator) RegisterRequest(req *protocol.Request, sess *Session) (uint64, error) {
	if req == nil || sess == nil {
		panic("session: nil request or session")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	external := req.OrderID
	internal := c.gen.Next()
	if _, ok := c.routes[internal]; ok {
		return 0, ErrDuplicateOrder
	}

	req.OrderID = internal
	c.routes[internal] = sess
	return external, nil
}

// SessionByOrderID resolves the session owning an internal order id.
func (c *Correlator) SessionByOrderID(internal uint64) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sess, ok := c.routes[internal]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Forget drops the route of an internal order id.
func (c *Correlator) Forget(internal uint64) {
	c.mu.Lock()
	delete(c.routes, internal)
	c.mu.Unlock()
}

// Len returns the number of live routes.
func (c *Correlator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes)
}
