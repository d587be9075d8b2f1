package match

import (
	"sync"

	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"
)

// AggregatedBook maintains a simplified view of the order book,
// tracking only price levels and their aggregated sizes (depth).
// It is designed for downstream services that need to rebuild
// order book state from OrderBookLog events received from a bus.
type AggregatedBook struct {
	mu    sync.RWMutex
	seqID uint64 // Last processed SequenceID for gap detection and deduplication
	ask   *treemap.TreeMap[decimal.Decimal, int64]
	bid   *treemap.TreeMap[decimal.Decimal, int64]
}

func newPriceTree() *treemap.TreeMap[decimal.Decimal, int64] {
	return treemap.NewWithKeyCompare[decimal.Decimal, int64](func(a, b decimal.Decimal) bool {
		return a.LessThan(b)
	})
}

// NewAggregatedBook creates a new AggregatedBook instance with empty ask and bid sides.
func NewAggregatedBook() *AggregatedBook {
	return &AggregatedBook{
		ask: newPriceTree(),
		bid: newPriceTree(),
	}
}

// SequenceID returns the last processed sequence ID.
// Used for synchronization and gap detection during rebuild.
func (ab *AggregatedBook) SequenceID() uint64 {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.seqID
}

// Replay applies an OrderBookLog event to update the aggregated book state.
// Already applied sequence IDs are ignored. Events with LogType == LogTypeReject
// do not affect book state but still advance the sequence ID.
// Returns ErrSequenceGap if the event does not directly follow the last one.
func (ab *AggregatedBook) Replay(log *OrderBookLog) error {
	if log == nil {
		return ErrInvalidParam
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	if log.SequenceID <= ab.seqID {
		return nil
	}

	if log.SequenceID != ab.seqID+1 {
		return ErrSequenceGap
	}

	change := CalculateDepthChange(log)
	if change.SizeDiff != 0 {
		ab.apply(change)
	}

	ab.seqID = log.SequenceID
	return nil
}

func (ab *AggregatedBook) side(side Side) *treemap.TreeMap[decimal.Decimal, int64] {
	if side == Buy {
		return ab.bid
	}
	return ab.ask
}

func (ab *AggregatedBook) apply(change DepthChange) {
	tree := ab.side(change.Side)

	size, _ := tree.Get(change.Price)
	size += change.SizeDiff
	if size <= 0 {
		tree.Del(change.Price)
		return
	}
	tree.Set(change.Price, size)
}

// OnRebuild resets the aggregated book from a depth snapshot.
// This should be called before replaying events that follow depth.UpdateID.
func (ab *AggregatedBook) OnRebuild(depth *Depth) error {
	if depth == nil {
		return ErrInvalidParam
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	ab.ask.Clear()
	ab.bid.Clear()

	for _, item := range depth.Asks {
		ab.ask.Set(item.Price, item.Quantity)
	}
	for _, item := range depth.Bids {
		ab.bid.Set(item.Price, item.Quantity)
	}

	ab.seqID = depth.UpdateID
	return nil
}

// Depth returns the aggregated size at a specific price level for the given side.
// Returns zero if the price level does not exist.
func (ab *AggregatedBook) Depth(side Side, price decimal.Decimal) int64 {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	size, _ := ab.side(side).Get(price)
	return size
}

// Snapshot returns up to limit best-first levels per side.
func (ab *AggregatedBook) Snapshot(limit uint32) *Depth {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	depth := &Depth{
		UpdateID: ab.seqID,
		Asks:     make([]*DepthItem, 0, min(int(limit), ab.ask.Len())),
		Bids:     make([]*DepthItem, 0, min(int(limit), ab.bid.Len())),
	}

	var i uint32
	for it := ab.ask.Iterator(); it.Valid() && i < limit; it.Next() {
		depth.Asks = append(depth.Asks, &DepthItem{ID: i, Price: it.Key(), Quantity: it.Value()})
		i++
	}

	i = 0
	for it := ab.bid.Reverse(); it.Valid() && i < limit; it.Next() {
		depth.Bids = append(depth.Bids, &DepthItem{ID: i, Price: it.Key(), Quantity: it.Value()})
		i++
	}

	return depth
}
