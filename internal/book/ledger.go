// Package book reconstructs an approximate two-sided limit order book from
// trade prints and top-of-book quotes.
package book

import (
	"container/heap"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// Ledger holds the resting liquidity of one side of the book. Each distinct
// price owns a single volume accumulator; a heap over those accumulators
// gives the best price in O(1) and removes it in O(log n).
//
// Bid ledgers order by price descending, ask ledgers ascending.
type Ledger struct {
	side   domain.Side
	levels map[string]*level
	queue  levelQueue
}

type level struct {
	price  decimal.Decimal
	volume decimal.Decimal
	index  int
}

// NewLedger returns an empty ledger for the given side.
func NewLedger(side domain.Side) *Ledger {
	l := &Ledger{
		side:   side,
		levels: make(map[string]*level),
	}
	l.queue.better = l.better
	return l
}

// Side reports which side of the book the ledger holds.
func (l *Ledger) Side() domain.Side { return l.side }

// Len returns the number of distinct price levels.
func (l *Ledger) Len() int { return len(l.levels) }

// Upsert adds volume at price, creating the level if needed. Non-positive
// volume is ignored.
func (l *Ledger) Upsert(price, volume decimal.Decimal) {
	if !volume.IsPositive() {
		return
	}
	key := priceKey(price)
	if lv, ok := l.levels[key]; ok {
		lv.volume = lv.volume.Add(volume)
		return
	}
	lv := &level{price: price, volume: volume}
	l.levels[key] = lv
	heap.Push(&l.queue, lv)
}

// Restore puts back the unconsumed part of a level taken by TakeBest.
func (l *Ledger) Restore(price, volume decimal.Decimal) {
	l.Upsert(price, volume)
}

// PeekBest returns the best level without removing it.
func (l *Ledger) PeekBest() (domain.PriceLevel, bool) {
	if len(l.queue.items) == 0 {
		return domain.PriceLevel{}, false
	}
	lv := l.queue.items[0]
	return domain.PriceLevel{Price: lv.price, Volume: lv.volume}, true
}

// TakeBest removes and returns the best level.
func (l *Ledger) TakeBest() (domain.PriceLevel, bool) {
	if len(l.queue.items) == 0 {
		return domain.PriceLevel{}, false
	}
	lv := heap.Pop(&l.queue).(*level)
	delete(l.levels, priceKey(lv.price))
	return domain.PriceLevel{Price: lv.price, Volume: lv.volume}, true
}

// Has reports whether a level exists at exactly price.
func (l *Ledger) Has(price decimal.Decimal) bool {
	_, ok := l.levels[priceKey(price)]
	return ok
}

// Consolidated returns every level best-first, one entry per price.
func (l *Ledger) Consolidated() []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(l.levels))
	for _, lv := range l.levels {
		out = append(out, domain.PriceLevel{Price: lv.price, Volume: lv.volume})
	}
	slices.SortFunc(out, func(a, b domain.PriceLevel) int {
		switch {
		case l.better(a.Price, b.Price):
			return -1
		case l.better(b.Price, a.Price):
			return 1
		default:
			return 0
		}
	})
	return out
}

// Reset drops every level.
func (l *Ledger) Reset() {
	clear(l.levels)
	l.queue.items = nil
}

func (l *Ledger) better(a, b decimal.Decimal) bool {
	if l.side == domain.Bid {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// priceKey normalizes trailing zeros so 100 and 100.00 share a level.
func priceKey(p decimal.Decimal) string {
	return p.String()
}

type levelQueue struct {
	items  []*level
	better func(a, b decimal.Decimal) bool
}

func (q levelQueue) Len() int           { return len(q.items) }
func (q levelQueue) Less(i, j int) bool { return q.better(q.items[i].price, q.items[j].price) }

func (q levelQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *levelQueue) Push(x any) {
	lv := x.(*level)
	lv.index = len(q.items)
	q.items = append(q.items, lv)
}

func (q *levelQueue) Pop() any {
	old := q.items
	n := len(old)
	lv := old[n-1]
	old[n-1] = nil
	lv.index = -1
	q.items = old[:n-1]
	return lv
}
