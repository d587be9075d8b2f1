package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/OpenGlobes/Core-sub001/config"
	"github.com/OpenGlobes/Core-sub001/protocol"
	"github.com/shopspring/decimal"
)

// InstrumentProvider supplies the metadata requests are enriched with.
type InstrumentProvider interface {
	Instrument(ctx context.Context, id string) (*protocol.Instrument, error)
	TradingDay(ctx context.Context) (string, error)
}

// StaticInstruments is an in-memory InstrumentProvider.
type StaticInstruments struct {
	mu          sync.RWMutex
	tradingDay  string
	instruments map[string]*protocol.Instrument
}

func NewStaticInstruments(tradingDay string, instruments ...*protocol.Instrument) *StaticInstruments {
	s := &StaticInstruments{
		tradingDay:  tradingDay,
		instruments: make(map[string]*protocol.Instrument, len(instruments)),
	}
	for _, ins := range instruments {
		s.Put(ins)
	}
	return s
}

// InstrumentsFromConfig builds a StaticInstruments from the instruments section.
func InstrumentsFromConfig(cfg config.Config) (*StaticInstruments, error) {
	s := NewStaticInstruments(cfg.TradingDay)
	for _, ic := range cfg.Instrument {
		tick := decimal.Zero
		if ic.PriceTick != "" {
			var err error
			tick, err = decimal.NewFromString(ic.PriceTick)
			if err != nil {
				return nil, fmt.Errorf("instrument %s: price tick: %w", ic.ID, err)
			}
		}
		s.Put(&protocol.Instrument{
			ID:         ic.ID,
			ExchangeID: ic.ExchangeID,
			Multiplier: ic.Multiplier,
			PriceTick:  tick,
		})
	}
	return s, nil
}

// Put adds or replaces an instrument.
func (s *StaticInstruments) Put(ins *protocol.Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpy := *ins
	s.instruments[ins.ID] = &cpy
}

func (s *StaticInstruments) Instrument(ctx context.Context, id string) (*protocol.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ins, ok := s.instruments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentNotFound, id)
	}
	cpy := *ins
	return &cpy, nil
}

func (s *StaticInstruments) TradingDay(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradingDay, nil
}
