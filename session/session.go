// Package session hides internal order ids from connectors. A Session keeps
// the external/internal id pairs of its own orders; the Correlator maps every
// internal id back to its Session.
package session

import (
	"sync"
	"time"

	"github.com/OpenGlobes/Core-sub001/protocol"
	"github.com/google/uuid"
	"github.com/rs/xid"
)

// Connector receives everything addressed to one session. Calls for a session
// are made from the pipeline worker and are never concurrent with each other.
type Connector interface {
	OnTrade(trade *protocol.Trade)
	OnResponse(resp *protocol.Response)
	OnError(req *protocol.Request, err error)
	OnStatusChange(status protocol.ConnectorStatus)
}

// Dispatcher forwards a re-keyed request towards the engine.
type Dispatcher func(req *protocol.Request) error

// Session is one connector's view of the core.
type Session struct {
	id         uuid.UUID
	correlator *Correlator
	connector  Connector
	dispatch   Dispatcher

	mu         sync.Mutex
	disposed   bool
	toInternal map[uint64]uint64
	toExternal map[uint64]uint64

	// A terminal order keeps its mapping until every DELETE sent for it is answered.
	deletes  map[uint64]int
	finished map[uint64]struct{}
}

// New creates a session and tells the connector it is connected.
func New(correlator *Correlator, connector Connector, dispatch Dispatcher) *Session {
	if correlator == nil || connector == nil || dispatch == nil {
		panic("session: nil correlator, connector or dispatcher")
	}

	s := &Session{
		id:         uuid.New(),
		correlator: correlator,
		connector:  connector,
		dispatch:   dispatch,
		toInternal: make(map[uint64]uint64),
		toExternal: make(map[uint64]uint64),
		deletes:    make(map[uint64]int),
		finished:   make(map[uint64]struct{}),
	}
	connector.OnStatusChange(protocol.StatusConnected)
	return s
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

// OpenOrders returns the number of orders that have not reached a terminal status.
func (s *Session) OpenOrders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.toInternal) - len(s.finished)
}

// Request re-keys req with an internal id and dispatches a copy of it.
// req itself is left untouched.
func (s *Session) Request(req *protocol.Request) error {
	if req == nil {
		panic("session: nil request")
	}

	cpy := req.Clone()

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrSessionDisposed
	}

	switch req.Action {
	case protocol.ActionNew:
		if _, ok := s.toInternal[req.OrderID]; ok {
			s.mu.Unlock()
			return ErrDuplicateOrder
		}

		external, err := s.correlator.RegisterRequest(cpy, s)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.correlate(external, cpy.OrderID)
	case protocol.ActionDelete:
		internal, ok := s.toInternal[req.OrderID]
		if !ok {
			s.mu.Unlock()
			return ErrWrongOrderID
		}
		cpy.OrderID = internal
		s.deletes[internal]++
	default:
		s.mu.Unlock()
		return ErrInvalidAction
	}
	s.mu.Unlock()

	if err := s.dispatch(cpy); err != nil {
		s.mu.Lock()
		s.settle(cpy.OrderID, req.Action, req.Action == protocol.ActionNew)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Session) correlate(external, internal uint64) {
	s.toInternal[external] = internal
	s.toExternal[internal] = external
}

// settle records the outcome of one request for an order. action is the
// request's action and terminal reports whether the order itself has ended.
// The mapping is erased once the order ended and no DELETE for it is pending.
func (s *Session) settle(internal uint64, action protocol.Action, terminal bool) {
	if action == protocol.ActionDelete {
		if n := s.deletes[internal]; n > 1 {
			s.deletes[internal] = n - 1
		} else {
			delete(s.deletes, internal)
		}
	}

	if terminal {
		s.finished[internal] = struct{}{}
	}

	if _, ok := s.finished[internal]; ok && s.deletes[internal] == 0 {
		delete(s.finished, internal)
		s.erase(internal)
	}
}

// erase drops both directions of a mapping and its correlator route.
func (s *Session) erase(internal uint64) {
	if external, ok := s.toExternal[internal]; ok {
		delete(s.toInternal, external)
	}
	delete(s.toExternal, internal)
	s.correlator.Forget(internal)
}

// external translates an internal id. It must be called with mu held.
func (s *Session) external(internal uint64) (uint64, error) {
	if s.disposed {
		return 0, ErrSessionDisposed
	}

	external, ok := s.toExternal[internal]
	if !ok {
		return 0, ErrWrongOrderID
	}
	return external, nil
}

// OnTrade delivers a trade to the connector under the caller's order id.
func (s *Session) OnTrade(trade *protocol.Trade) error {
	s.mu.Lock()
	external, err := s.external(trade.OrderID)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	cpy := trade.Clone()
	cpy.OrderID = external
	s.connector.OnTrade(cpy)
	return nil
}

// OnResponse delivers a response to the connector under the caller's order id.
// A terminal status ends the order's mapping once no DELETE for it is pending.
func (s *Session) OnResponse(resp *protocol.Response) error {
	s.mu.Lock()
	external, err := s.external(resp.OrderID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	// A rejected DELETE says nothing about the order it targeted.
	terminal := resp.Status.IsTerminal() && !(resp.Action == protocol.ActionDelete && resp.Status == protocol.OrderStatusRejected)
	s.settle(resp.OrderID, resp.Action, terminal)
	s.mu.Unlock()

	cpy := resp.Clone()
	cpy.OrderID = external
	s.connector.OnResponse(cpy)
	return nil
}

// OnError reports a request that failed before reaching the book. A failed NEW
// leaves no order behind, so its mapping is dropped.
func (s *Session) OnError(req *protocol.Request, cause error) error {
	s.mu.Lock()
	external, err := s.external(req.OrderID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.settle(req.OrderID, req.Action, req.Action == protocol.ActionNew)
	s.mu.Unlock()

	cpy := req.Clone()
	cpy.OrderID = external
	s.connector.OnError(cpy, cause)
	return nil
}

// Reject answers a request that was refused before it got an internal id.
// The response carries the request's own order id.
func (s *Session) Reject(req *protocol.Request, code protocol.StatusCode, msg string) error {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return ErrSessionDisposed
	}

	if msg == "" {
		msg = code.Message()
	}

	s.connector.OnResponse(&protocol.Response{
		ResponseID:    xid.New().String(),
		OrderID:       req.OrderID,
		InstrumentID:  req.InstrumentID,
		Action:        req.Action,
		Direction:     req.Direction,
		Offset:        req.Offset,
		Status:        protocol.OrderStatusRejected,
		StatusCode:    code,
		StatusMessage: msg,
		Timestamp:     time.Now().UnixNano(),
	})
	return nil
}

// NotifyStatus forwards a status change to the connector.
func (s *Session) NotifyStatus(status protocol.ConnectorStatus) {
	s.connector.OnStatusChange(status)
}

// Dispose forgets every open order and disconnects the connector.
// Only the first call succeeds.
func (s *Session) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrSessionDisposed
	}
	s.disposed = true

	for internal := range s.toExternal {
		s.correlator.Forget(internal)
	}
	s.toInternal = make(map[uint64]uint64)
	s.toExternal = make(map[uint64]uint64)
	s.deletes = make(map[uint64]int)
	s.finished = make(map[uint64]struct{})
	s.mu.Unlock()

	s.connector.OnStatusChange(protocol.StatusDisconnected)
	return nil
}
