package session

import "sync/atomic"

// IDGenerator hands out internal order ids. Ids must be strictly increasing and
// unique for the lifetime of the process.
type IDGenerator interface {
	Next() uint64
}

// SequenceGenerator is an atomic counter. The first id is start+1.
type SequenceGenerator struct {
	seq atomic.Uint64
}

func NewSequenceGenerator(start uint64) *SequenceGenerator {
	g := &SequenceGenerator{}
	g.seq.Store(start)
	return g
}

func (g *SequenceGenerator) Next() uint64 {
	return g.seq.Add(1)
}

// Current returns the last id handed out.
func (g *SequenceGenerator) Current() uint64 {
	return g.seq.Load()
}
