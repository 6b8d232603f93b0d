package book

import (
	"classroom-exchange/internal/common"

	"github.com/huandu/skiplist"
)

// priceKeyAsc orders decimal.Decimal keys ascending, used for buy-stop
// activation (triggers as the last price rises through each level from
// below, so we scan lowest-first while price is at or above the level).
type priceKeyAsc struct{}

func (priceKeyAsc) Compare(lhs, rhs interface{}) int {
	l := lhs.(common.Money)
	r := rhs.(common.Money)
	return l.Cmp(r)
}

func (priceKeyAsc) CalcScore(key interface{}) float64 {
	f, _ := key.(common.Money).Float64()
	return f
}

// priceKeyDesc orders decimal.Decimal keys descending, used for sell-stop
// activation (triggers as the last price falls through each level from
// above, so we scan highest-first while price is at or below the level).
type priceKeyDesc struct{}

func (priceKeyDesc) Compare(lhs, rhs interface{}) int {
	l := lhs.(common.Money)
	r := rhs.(common.Money)
	return r.Cmp(l)
}

func (priceKeyDesc) CalcScore(key interface{}) float64 {
	f, _ := key.(common.Money).Float64()
	return -f
}

// stopLevel is a FIFO queue of resting STOP/STOP_LIMIT orders sharing a
// stop price, mirroring PriceLevel's queue discipline.
type stopLevel struct {
	price  common.Money
	orders []*common.Order
}

// stopBook holds buy-side and sell-side stop orders keyed by stop price,
// per spec.md §4.1: "held in a side structure keyed by stop_price".
type stopBook struct {
	buyStops  *skiplist.SkipList // ascending: lowest stop first, since buy stops trigger bottom-up as price rises
	sellStops *skiplist.SkipList // descending: highest stop first, since sell stops trigger top-down as price falls
}

func newStopBook() *stopBook {
	return &stopBook{
		buyStops:  skiplist.New(priceKeyAsc{}),
		sellStops: skiplist.New(priceKeyDesc{}),
	}
}

func (sb *stopBook) add(order *common.Order) {
	list := sb.listFor(order.Side)
	elem := list.Get(order.StopPrice)
	if elem != nil {
		lvl := elem.Value.(*stopLevel)
		lvl.orders = append(lvl.orders, order)
		return
	}
	list.Set(order.StopPrice, &stopLevel{price: order.StopPrice, orders: []*common.Order{order}})
}

func (sb *stopBook) remove(side common.Side, stopPrice common.Money, orderID string) bool {
	list := sb.listFor(side)
	elem := list.Get(stopPrice)
	if elem == nil {
		return false
	}
	lvl := elem.Value.(*stopLevel)
	for i, o := range lvl.orders {
		if o.ID == orderID {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			if len(lvl.orders) == 0 {
				list.Remove(stopPrice)
			}
			return true
		}
	}
	return false
}

func (sb *stopBook) listFor(side common.Side) *skiplist.SkipList {
	if side == common.Buy {
		return sb.buyStops
	}
	return sb.sellStops
}

// activate pops every stop order on side whose stop price has been crossed
// by lastPrice (buy stops trigger at lastPrice >= stop, sell stops trigger
// at lastPrice <= stop) and returns them in stop-price, then FIFO, order.
// Activation is evaluated once per trade, per spec.md §4.1.
func (sb *stopBook) activate(lastPrice common.Money) []*common.Order {
	var triggered []*common.Order

	for elem := sb.buyStops.Front(); elem != nil; {
		lvl := elem.Value.(*stopLevel)
		if lastPrice.LessThan(lvl.price) {
			break
		}
		triggered = append(triggered, lvl.orders...)
		next := elem.Next()
		sb.buyStops.Remove(lvl.price)
		elem = next
	}

	for elem := sb.sellStops.Front(); elem != nil; {
		lvl := elem.Value.(*stopLevel)
		if lastPrice.GreaterThan(lvl.price) {
			break
		}
		triggered = append(triggered, lvl.orders...)
		next := elem.Next()
		sb.sellStops.Remove(lvl.price)
		elem = next
	}

	return triggered
}
