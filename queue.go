package match

import (
	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// priceUnit is one price level: a FIFO of resting orders sharing a price.
type priceUnit struct {
	price     decimal.Decimal
	totalSize int64 // remaining quantity of all orders at this level
	head      *Order
	tail      *Order
	count     int64
}

// queue is one side of the book. Price levels live in a skiplist ordered
// best-first; priceList indexes the skiplist elements by canonical price text.
type queue struct {
	side        Side
	totalOrders int64
	depths      int64
	depthList   *skiplist.SkipList
	priceList   map[string]*skiplist.Element
	orders      map[uint64]*Order
}

func priceKey(price decimal.Decimal) string {
	return price.String()
}

// NewBuyerQueue creates a new queue for buy orders (bids).
// The orders are sorted by price in descending order (highest price first).
func NewBuyerQueue() *queue {
	return &queue{
		side: Buy,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)
			return d2.Cmp(d1)
		})),
		priceList: make(map[string]*skiplist.Element),
		orders:    make(map[uint64]*Order),
	}
}

// NewSellerQueue creates a new queue for sell orders (asks).
// The orders are sorted by price in ascending order (lowest price first).
func NewSellerQueue() *queue {
	return &queue{
		side: Sell,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)
			return d1.Cmp(d2)
		})),
		priceList: make(map[string]*skiplist.Element),
		orders:    make(map[uint64]*Order),
	}
}

// order finds an order by its ID.
func (q *queue) order(id uint64) *Order {
	return q.orders[id]
}

// insertOrder appends an order to the tail of its price level, creating the
// level when needed.
func (q *queue) insertOrder(order *Order) {
	key := priceKey(order.Price)
	el, ok := q.priceList[key]
	if ok {
		unit, _ := el.Value.(*priceUnit)
		order.prev = unit.tail
		order.next = nil
		if unit.tail != nil {
			unit.tail.next = order
		}
		unit.tail = order
		if unit.head == nil {
			unit.head = order
		}

		unit.totalSize += order.Remaining()
		unit.count++
		q.orders[order.ID] = order
		q.totalOrders++
		return
	}

	unit := &priceUnit{
		price:     order.Price,
		head:      order,
		tail:      order,
		totalSize: order.Remaining(),
		count:     1,
	}
	order.next = nil
	order.prev = nil

	q.orders[order.ID] = order
	q.priceList[key] = q.depthList.Set(order.Price, unit)

	q.totalOrders++
	q.depths++
}

// removeOrder unlinks an order and drops its price level once empty.
func (q *queue) removeOrder(id uint64) *Order {
	order, ok := q.orders[id]
	if !ok {
		return nil
	}

	key := priceKey(order.Price)
	skipElement, ok := q.priceList[key]
	if !ok {
		return nil
	}
	unit, _ := skipElement.Value.(*priceUnit)

	if order.prev != nil {
		order.prev.next = order.next
	} else {
		unit.head = order.next
	}

	if order.next != nil {
		order.next.prev = order.prev
	} else {
		unit.tail = order.prev
	}

	order.next = nil
	order.prev = nil

	unit.totalSize -= order.Remaining()
	unit.count--
	delete(q.orders, id)
	q.totalOrders--

	if unit.count == 0 {
		q.depthList.RemoveElement(skipElement)
		delete(q.priceList, key)
		q.depths--
	}

	return order
}

// fill records a fill against a resting order in place, keeping its priority.
// The caller removes the order once it is fully traded.
func (q *queue) fill(order *Order, quantity int64) {
	order.TradedQuantity += quantity

	if el, ok := q.priceList[priceKey(order.Price)]; ok {
		unit, _ := el.Value.(*priceUnit)
		unit.totalSize -= quantity
	}
}

// peekHeadOrder returns the order at the front of the queue (best price, oldest) without removing it.
func (q *queue) peekHeadOrder() *Order {
	el := q.depthList.Front()
	if el == nil {
		return nil
	}

	unit, _ := el.Value.(*priceUnit)
	return unit.head
}

// popHeadOrder removes and returns the order at the front of the queue.
func (q *queue) popHeadOrder() *Order {
	ord := q.peekHeadOrder()
	if ord != nil {
		q.removeOrder(ord.ID)
	}
	return ord
}

// orderCount returns the total number of orders in the queue.
func (q *queue) orderCount() int64 {
	return q.totalOrders
}

// depthCount returns the number of price levels in the queue.
func (q *queue) depthCount() int64 {
	return q.depths
}

// depth returns the order book depth up to the specified limit.
func (q *queue) depth(limit uint32) []*DepthItem {
	result := make([]*DepthItem, 0, min(int64(limit), q.depths))

	el := q.depthList.Front()

	var i uint32
	for i < limit && el != nil {
		unit, _ := el.Value.(*priceUnit)
		result = append(result, &DepthItem{
			ID:       i,
			Price:    unit.price,
			Quantity: unit.totalSize,
			Count:    unit.count,
		})

		el = el.Next()
		i++
	}

	return result
}
