package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which half of the book an order event belongs to.
type Side int

const (
	Bid Side = iota
	Ask
)

// String returns "bid" or "ask".
func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Opposite returns the side an event on s crosses against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// PriceLevel is one price and the aggregate resting volume at that price.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// OrderEvent is the normalized unit of book mutation derived from a tick.
type OrderEvent struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
	Side   Side
}

// BookSnapshot is a consolidated, best-first view of both sides of the book.
// It is a copy: later mutations of the book do not change it, but it goes
// stale as soon as the next event is applied.
type BookSnapshot struct {
	Instrument string       `json:"instrument"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	Timestamp  time.Time    `json:"timestamp"`
}

// BestBid returns the highest bid level, if any.
func (s BookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask level, if any.
func (s BookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// MidPrice returns the midpoint of the best bid and ask. ok is false when
// either side is empty.
func (s BookSnapshot) MidPrice() (mid decimal.Decimal, ok bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Depth returns the number of levels on the shallower side.
func (s BookSnapshot) Depth() int {
	return min(len(s.Bids), len(s.Asks))
}
